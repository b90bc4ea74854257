package paprika

import (
	"go.uber.org/zap"

	"github.com/erigontech/paprika/nibble"
	"github.com/erigontech/paprika/paprikaerr"
	"github.com/erigontech/paprika/store"
)

// CommitMode selects how far a commit's durability guarantee reaches
// (spec.md §6 "Commit modes").
type CommitMode int

const (
	// FlushDataOnly calls the page manager's FlushData. For the file-backed
	// manager that flushes the whole mapping, so the new root ring slot is
	// written along with the data pages; the only difference from
	// FlushDataAndRoot is that no fsync follows (spec.md §6).
	FlushDataOnly CommitMode = iota
	// FlushDataAndRoot additionally flushes the root ring slot, making the
	// commit durable across a crash.
	FlushDataAndRoot
)

// fanOutNibbles is the number of leading key nibbles RootPage's fan-out
// table consumes before routing into a DataPage tree (spec.md §3 "RootPage":
// FAN_OUT_PAGES=256 indexed by the leading byte, i.e. two nibbles).
const fanOutNibbles = 2

// Batch is the single outstanding writer transaction (spec.md §4.6). Only
// one Batch may be open on a Database at a time.
type Batch struct {
	db       *Database
	batchID  uint32
	slot     uint32
	root     store.RootView
	hook     PreCommitHook
	done     bool
	obsolete []store.Address // pages this batch COW'd away, staged for abandonment
}

// onObsolete records addr as garbage produced by this batch's own writes, to
// be enqueued into the AbandonedPage chain at Commit time rather than reused
// immediately (spec.md §4.4 "Abandonment safety").
func (b *Batch) onObsolete(addr store.Address) {
	b.obsolete = append(b.obsolete, addr)
}

func (b *Batch) checkOpen() error {
	if b.done {
		return paprikaerr.New(paprikaerr.KindInvalidArgument, "batch already committed or aborted")
	}
	return nil
}

func fanOutBucket(key nibble.Path) int {
	return int(key.NibbleAt(0))<<4 | int(key.NibbleAt(1))
}

// childAddr returns the fan-out bucket's current DataPage address, creating
// one on first write to that bucket.
func (b *Batch) childAddr(bucket int) (store.Address, error) {
	addr := b.root.FanOut(bucket)
	if !addr.IsNull() {
		return addr, nil
	}
	_, newAddr, err := store.CreateDataPage(b.db.pm, b.batchID)
	if err != nil {
		return store.Null, err
	}
	b.root.SetFanOut(bucket, newAddr)
	return newAddr, nil
}

// Set stores key -> value, routing the leading two nibbles through the root
// fan-out table and the remainder through the DataPage tree (spec.md §4.6
// "set(key, value)").
func (b *Batch) Set(key nibble.Path, value []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if key.Length() < fanOutNibbles {
		return paprikaerr.New(paprikaerr.KindInvalidArgument,
			"key must have at least %d nibbles", fanOutNibbles)
	}
	bucket := fanOutBucket(key)
	addr, err := b.childAddr(bucket)
	if err != nil {
		return err
	}
	newAddr, err := store.DataPageSet(b.db.pm, b.batchID, addr, key.SliceFrom(fanOutNibbles), value, b.onObsolete)
	if err != nil {
		return err
	}
	b.root.SetFanOut(bucket, newAddr)
	b.hook.Set(key, value)
	return nil
}

// Get reads key's current value within this batch's own uncommitted writes
// plus everything the base root already held.
func (b *Batch) Get(key nibble.Path) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if key.Length() < fanOutNibbles {
		return nil, paprikaerr.New(paprikaerr.KindInvalidArgument,
			"key must have at least %d nibbles", fanOutNibbles)
	}
	bucket := fanOutBucket(key)
	addr := b.root.FanOut(bucket)
	if addr.IsNull() {
		return nil, paprikaerr.ErrNotFound
	}
	return store.DataPageGet(b.db.pm, addr, key.SliceFrom(fanOutNibbles))
}

// SetAccount stores acct under key (spec.md §8 S2's Account(nonce, balance)).
func (b *Batch) SetAccount(key nibble.Path, acct Account) error {
	return b.Set(key, acct.Encode())
}

// GetAccount reads and decodes the account stored at key.
func (b *Batch) GetAccount(key nibble.Path) (Account, error) {
	raw, err := b.Get(key)
	if err != nil {
		return Account{}, err
	}
	return DecodeAccount(raw)
}

// SetStorage stores value under the combined account/storage key (spec.md
// §4.6 "set_storage(account_key, storage_key, value)"; see DESIGN.md for the
// combination convention).
func (b *Batch) SetStorage(accountKey, storageKey nibble.Path, value []byte) error {
	return b.Set(combineStorageKey(accountKey, storageKey), value)
}

// GetStorage reads the value stored for the combined account/storage key.
func (b *Batch) GetStorage(accountKey, storageKey nibble.Path) ([]byte, error) {
	return b.Get(combineStorageKey(accountKey, storageKey))
}

// Commit finalizes the batch: asks the pre-commit hook for the new
// state_hash, advances the root ring, and flushes according to mode (spec.md
// §4.6 "commit(mode)").
func (b *Batch) Commit(mode CommitMode) ([32]byte, error) {
	if err := b.checkOpen(); err != nil {
		return [32]byte{}, err
	}
	b.done = true

	if len(b.obsolete) > 0 {
		head, _ := b.root.AbandonedHead(b.batchID)
		for _, addr := range b.obsolete {
			newHead, err := store.Enqueue(b.db.pm, b.batchID, head, addr)
			if err != nil {
				return [32]byte{}, err
			}
			head = newHead
		}
		if !b.root.SetAbandonedHead(b.batchID, head) {
			b.db.log.Warn("abandoned-list heads table full, dropping reclaim entry",
				zap.Uint32("batch_id", b.batchID))
		}
	}

	hash := b.hook.Root()
	b.root.SetStateHash(hash)
	b.root.SetNextFreePage(b.db.pm.NextPageIndex())

	if err := b.db.pm.FlushData(); err != nil {
		return [32]byte{}, err
	}
	if mode == FlushDataAndRoot {
		if err := b.db.pm.FlushRoot(); err != nil {
			return [32]byte{}, err
		}
	}

	b.db.mu.Lock()
	b.db.cur = b.slot
	b.db.opened = false
	b.db.cacheMeta(b.slot, b.root)
	b.db.mu.Unlock()

	b.db.log.Info("batch committed",
		zap.Uint32("batch_id", b.batchID), zap.Uint32("ring_slot", b.slot))
	return hash, nil
}

// Abort discards the batch without advancing the live root. The ring slot
// this batch wrote into is left as garbage to be overwritten by the next
// BeginBatch; nothing it wrote is ever reachable from the live root.
func (b *Batch) Abort() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.done = true
	b.db.mu.Lock()
	b.db.opened = false
	b.db.mu.Unlock()
	b.db.log.Debug("batch aborted", zap.Uint32("batch_id", b.batchID))
	return nil
}

// BatchID reports the batch identifier this transaction will commit under.
func (b *Batch) BatchID() uint32 { return b.batchID }
