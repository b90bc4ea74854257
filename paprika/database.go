// Package paprika implements Database, the single-writer, copy-on-write
// paged key-value store for Ethereum state/storage tries (spec.md §4.6-§4.9,
// §6), built atop the page/slotted/store primitives.
package paprika

import (
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprikaerr"
	"github.com/erigontech/paprika/store"
)

// RootMetadata is a decoded snapshot of one root slot's identifying fields
// (spec.md §4.7 "metadata -> { batch_id, block_number, state_hash }").
type RootMetadata struct {
	BatchID     uint32
	BlockNumber uint64
	StateHash   [32]byte
}

// hashEntry indexes a root ring slot by its state_hash, ordered for the
// btree by the hash bytes themselves (spec.md SPEC_FULL.md §3.1 "State-hash
// -> batch-id index").
type hashEntry struct {
	hash RootMetadata
	slot uint32
}

func lessHashEntry(a, b hashEntry) bool {
	for i := 0; i < 32; i++ {
		if a.hash.StateHash[i] != b.hash.StateHash[i] {
			return a.hash.StateHash[i] < b.hash.StateHash[i]
		}
	}
	return false
}

// Database owns the page manager, the root ring, and the in-memory indexes
// that accelerate reorg lookups and root-metadata decoding (spec.md §2,
// §4.6-§4.7).
type Database struct {
	mu     sync.Mutex
	pm     store.PageManager
	cfg    Config
	log    *zap.Logger
	depth  uint32
	ring   []store.Address // ring[i] is the page holding root slot i
	cur    uint32          // ring index currently "live"
	opened bool            // whether a writer batch is outstanding

	hashIndex *btree.BTreeG[hashEntry]
	metaCache *lru.Cache[uint32, RootMetadata]

	leaseMu sync.Mutex
	leases  map[uint32]int // batch id -> number of live ReadBatch anchors
}

// Open initializes a Database over pm using cfg, discovering (or creating)
// the root ring (spec.md §6 "Discovery of the current root on open").
func Open(pm store.PageManager, cfg Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	depth := cfg.historyDepth()
	log := cfg.logger()

	ring := make([]store.Address, depth)
	for i := uint32(0); i < depth; i++ {
		ring[i] = store.AddressOf(i)
	}

	cache, err := lru.New[uint32, RootMetadata](int(depth) * 2)
	if err != nil {
		return nil, paprikaerr.Wrap(paprikaerr.KindInvalidArgument, err)
	}

	db := &Database{
		pm:        pm,
		cfg:       cfg,
		log:       log,
		depth:     depth,
		ring:      ring,
		hashIndex: btree.NewG(32, lessHashEntry),
		metaCache: cache,
		leases:    make(map[uint32]int),
	}

	if err := db.discoverRoot(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *Database) discoverRoot() error {
	first, err := db.pm.GetAt(db.ring[0])
	if err != nil {
		return err
	}
	fresh := isZero(first.Bytes())

	if fresh {
		for i := uint32(0); i < db.depth; i++ {
			p, err := db.pm.GetAt(db.ring[i])
			if err != nil {
				return err
			}
			store.InitRootPage(p, 0)
		}
		db.pm.SetNextPageIndex(db.depth)
		root := store.AsRootView(first)
		if db.cfg.PreallocateFanout {
			if err := preallocateFanOut(db.pm, root); err != nil {
				return err
			}
		}
		root.SetNextFreePage(db.pm.NextPageIndex())
		db.cur = 0
		if err := db.pm.FlushRoot(); err != nil {
			return err
		}
		db.cacheMeta(0, root)
		db.log.Info("initialized fresh paprika store", zap.Uint32("history_depth", db.depth))
		return nil
	}

	bestSlot, bestBatch := uint32(0), uint32(0)
	haveBest := false
	for i := uint32(0); i < db.depth; i++ {
		p, err := db.pm.GetAt(db.ring[i])
		if err != nil {
			return err
		}
		root := store.AsRootView(p)
		bid := root.BatchID()
		if !haveBest || bid >= bestBatch {
			bestBatch = bid
			bestSlot = i
			haveBest = true
		}
		db.cacheMeta(i, root)
		root.EachAbandonedHead(func(uint32, store.Address) {}) // walks the heads table; entries are not checked
	}
	db.cur = bestSlot

	currentRoot := store.AsRootView(mustGetAt(db.pm, db.ring[db.cur]))
	db.pm.SetNextPageIndex(currentRoot.NextFreePage())
	db.log.Info("reopened paprika store",
		zap.Uint32("batch_id", bestBatch), zap.Uint32("ring_slot", bestSlot))
	return nil
}

// preallocateFanOut creates a DataPage for every one of the root's 256
// fan-out buckets up front (Config.PreallocateFanout), trading startup cost
// for avoiding the first-write allocation latency spike every bucket would
// otherwise incur on its first Set (spec.md §6 "Configuration options").
func preallocateFanOut(pm store.PageManager, root store.RootView) error {
	for bucket := 0; bucket < 256; bucket++ {
		_, addr, err := store.CreateDataPage(pm, 0)
		if err != nil {
			return err
		}
		root.SetFanOut(bucket, addr)
	}
	return nil
}

func mustGetAt(pm store.PageManager, addr store.Address) page.Page {
	p, err := pm.GetAt(addr)
	if err != nil {
		panic(err)
	}
	return p
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

func (db *Database) cacheMeta(slot uint32, root store.RootView) {
	meta := RootMetadata{
		BatchID:     root.BatchID(),
		BlockNumber: root.BlockNumber(),
		StateHash:   root.StateHash(),
	}
	db.metaCache.Add(slot, meta)
	db.hashIndex.ReplaceOrInsert(hashEntry{hash: meta, slot: slot})
}

// invalidateSlot drops whatever hashIndex/metaCache entry currently points at
// slot, using root's still-intact (pre-overwrite) contents to find it. Called
// just before a ring slot is stamped for reuse, so a since-discarded branch's
// state_hash can no longer be resolved to a slot whose bytes have moved on
// (spec.md §8 "Abandonment safety" extends to the root ring itself, not just
// data pages).
func (db *Database) invalidateSlot(slot uint32, root store.RootView) {
	key := hashEntry{hash: RootMetadata{StateHash: root.StateHash()}}
	db.metaCache.Remove(slot)
	if e, ok := db.hashIndex.Get(key); ok && e.slot == slot {
		db.hashIndex.Delete(key)
	}
}

// currentRootView returns a view over the currently-live ring slot's page.
func (db *Database) currentRootView() (store.RootView, error) {
	p, err := db.pm.GetAt(db.ring[db.cur])
	if err != nil {
		return store.RootView{}, err
	}
	return store.AsRootView(p), nil
}

// CurrentMetadata reports the live root's identifying fields.
func (db *Database) CurrentMetadata() (RootMetadata, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	root, err := db.currentRootView()
	if err != nil {
		return RootMetadata{}, err
	}
	return RootMetadata{BatchID: root.BatchID(), BlockNumber: root.BlockNumber(), StateHash: root.StateHash()}, nil
}

// BeginBatch starts the single outstanding writer transaction (spec.md §4.6
// "exactly one batch may exist at a time"). hook may be nil, defaulting to
// NopPreCommitHook.
func (db *Database) BeginBatch(hook PreCommitHook) (*Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.opened {
		return nil, paprikaerr.New(paprikaerr.KindInvalidArgument,
			"a writer batch is already open")
	}
	if hook == nil {
		hook = NopPreCommitHook{}
	}

	curRoot, err := db.currentRootView()
	if err != nil {
		return nil, err
	}
	newBatchID := curRoot.BatchID() + 1
	nextSlot := (db.cur + 1) % db.depth

	nextPage, err := db.pm.GetAt(db.ring[nextSlot])
	if err != nil {
		return nil, err
	}
	// The slot about to be overwritten may still carry a stale hashIndex /
	// metaCache entry from a branch this reorg (or plain ring wraparound) is
	// discarding (spec.md §8 S2): its state_hash must stop resolving via
	// BeginReadOnlyBatchOrLatest/ReorganizeBackToAndStartNew once its backing
	// page is gone, or a lookup would succeed against a physically
	// overwritten slot.
	db.invalidateSlot(nextSlot, store.AsRootView(nextPage))

	nextPage.Stamp(newBatchID)
	newRoot := store.AsRootView(nextPage)
	newRoot.CopyFrom(curRoot)

	if err := db.reclaimAbandoned(newRoot, newBatchID); err != nil {
		return nil, err
	}

	db.opened = true
	db.log.Debug("batch begin", zap.Uint32("batch_id", newBatchID))
	return &Batch{
		db:      db,
		batchID: newBatchID,
		slot:    nextSlot,
		root:    newRoot,
		hook:    hook,
	}, nil
}

// BeginReadOnlyBatch anchors a read-only view to the currently live root
// (spec.md §4.7).
func (db *Database) BeginReadOnlyBatch() (*ReadBatch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	root, err := db.currentRootView()
	if err != nil {
		return nil, err
	}
	return db.newReadBatch(root), nil
}

// BeginReadOnlyBatchOrLatest anchors to the root slot whose state_hash
// matches stateHash, or the current root if no slot matches it (spec.md §4.7
// "begin_read_only_batch_or_latest").
func (db *Database) BeginReadOnlyBatchOrLatest(stateHash [32]byte) (*ReadBatch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	slot, ok := db.findSlotByHash(stateHash)
	if !ok {
		root, err := db.currentRootView()
		if err != nil {
			return nil, err
		}
		return db.newReadBatch(root), nil
	}
	p, err := db.pm.GetAt(db.ring[slot])
	if err != nil {
		return nil, err
	}
	return db.newReadBatch(store.AsRootView(p)), nil
}

func (db *Database) findSlotByHash(stateHash [32]byte) (uint32, bool) {
	var found hashEntry
	ok := false
	db.hashIndex.AscendGreaterOrEqual(hashEntry{hash: RootMetadata{StateHash: stateHash}}, func(e hashEntry) bool {
		if e.hash.StateHash == stateHash {
			found = e
			ok = true
		}
		return false
	})
	return found.slot, ok
}

func (db *Database) newReadBatch(root store.RootView) *ReadBatch {
	batchID := root.BatchID()
	db.leaseMu.Lock()
	db.leases[batchID]++
	db.leaseMu.Unlock()
	return &ReadBatch{db: db, root: root, batchID: batchID}
}

// releaseLease drops a ReadBatch's hold on batchID.
func (db *Database) releaseLease(batchID uint32) {
	db.leaseMu.Lock()
	defer db.leaseMu.Unlock()
	n := db.leases[batchID]
	if n <= 1 {
		delete(db.leases, batchID)
		return
	}
	db.leases[batchID] = n - 1
}

// oldestLeasedBatch returns the smallest batch id any live ReadBatch is
// anchored to, or ok=false if there are none (spec.md §5 "a reader holds a
// lease on the page manager preventing reclamation of any page whose
// batch_id is >= the reader's anchor batch minus HISTORY_DEPTH").
func (db *Database) oldestLeasedBatch() (id uint32, ok bool) {
	db.leaseMu.Lock()
	defer db.leaseMu.Unlock()
	first := true
	for b := range db.leases {
		if first || b < id {
			id, first = b, false
		}
	}
	return id, !first
}

// ReorganizeBackToAndStartNew finds the root slot matching stateHash and
// begins a new batch whose base state is that slot's, discarding any slots
// committed after it (spec.md §8 scenario S2; operation named in §4.6's
// glossary-adjacent usage as "reorganize_back_to_and_start_new").
func (db *Database) ReorganizeBackToAndStartNew(stateHash [32]byte, hook PreCommitHook) (*Batch, error) {
	db.mu.Lock()
	slot, ok := db.findSlotByHash(stateHash)
	if !ok {
		db.mu.Unlock()
		return nil, paprikaerr.New(paprikaerr.KindReorgTargetNotFound,
			"no root slot with state_hash %x", stateHash)
	}
	db.cur = slot
	db.mu.Unlock()
	return db.BeginBatch(hook)
}

// reclaimAbandoned scans root's abandoned-list heads and, for every batch
// old enough to satisfy HistoryDepth against newBatchID, drains its chain
// back into the page manager's free list (spec.md §4.4 "Dequeue-free()"),
// removing the heads-table entry once a chain is fully drained. While any
// ReadBatch is live, chains abandoned by a batch newer than the oldest leased
// root are left in place, since that reader's root may still reach them.
func (db *Database) reclaimAbandoned(root store.RootView, newBatchID uint32) error {
	depth := db.cfg.historyDepth()
	oldest, leased := db.oldestLeasedBatch()
	var drainedBatches []uint32
	var reclaimErr error

	root.EachAbandonedHead(func(headBatchID uint32, head store.Address) {
		if reclaimErr != nil {
			return
		}
		if leased && headBatchID > oldest {
			return // a live reader's root may still reference these pages
		}
		cur := head
		for !cur.IsNull() {
			freed, next, ok, err := store.DequeueFree(db.pm, newBatchID, depth, cur)
			if err != nil {
				reclaimErr = err
				return
			}
			if ok {
				db.pm.PushFree(freed)
				continue // cur's node still has entries; try again
			}
			if next == cur {
				return // node too young for HISTORY_DEPTH yet; stop, keep the head
			}
			cur = next // node fully drained and recycled; advance the chain
		}
		drainedBatches = append(drainedBatches, headBatchID)
	})
	if reclaimErr != nil {
		return reclaimErr
	}
	for _, id := range drainedBatches {
		root.RemoveAbandonedHead(id)
	}
	return nil
}

// Close releases the underlying page manager's OS resources.
func (db *Database) Close() error {
	return db.pm.Close()
}
