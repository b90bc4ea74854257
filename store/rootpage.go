package store

import (
	"encoding/binary"

	"github.com/erigontech/paprika/page"
)

// FanOutPages is the root page's first-level fan-out width, indexed by the
// leading two nibbles of a key (spec.md §3 "RootPage", §9 Open Question:
// "256 is the stated design" — the alternative 16-wide historical code path
// is not implemented; see DESIGN.md).
const FanOutPages = 256

// HashSize is the width of the state hash field (Keccak-256).
const HashSize = 32

// Root page body layout, relative to page.Page.Body() (spec.md §6
// "RootPage binary layout"). batch_id lives in the shared page header
// (page.Page.BatchID) and does double duty as the root slot's batch id,
// since a root page is rewritten wholesale on every commit.
const (
	rootOffBlockNumber        = 0
	rootOffStateHash          = rootOffBlockNumber + 8
	rootOffNextFreePage       = rootOffStateHash + HashSize
	rootOffAbandonedListCount = rootOffNextFreePage + 4
	rootOffFanOut             = rootOffAbandonedListCount + 4
	rootFanOutBytes           = FanOutPages * 4
	rootOffHeads              = rootOffFanOut + rootFanOutBytes
	rootHeadEntrySize         = 8 // batch_id u32 + head DbAddress u32
)

// MaxAbandonedHeads is how many {batch_id, head} entries fit in the
// remaining root page body after the fixed fields and fan-out table. The
// spec's prose estimate of "~1000 entries" does not fit a literal 4096-byte
// page once the 256-wide fan-out table is accounted for; this constant is
// derived from the real byte budget instead (see DESIGN.md Open Question
// decisions). At the default HistoryDepth of 64 this leaves ample headroom.
const MaxAbandonedHeads = (page.BodySize - rootOffHeads) / rootHeadEntrySize

// RootView is a typed, borrowing view of a page.Page as a RootPage.
type RootView struct {
	p page.Page
}

// AsRootView interprets p as a RootPage.
func AsRootView(p page.Page) RootView { return RootView{p: p} }

// InitRootPage stamps p for batchID and marks every fan-out bucket empty
// (Null), giving a root page with no data pages and no abandoned-list heads.
func InitRootPage(p page.Page, batchID uint32) RootView {
	p.Stamp(batchID)
	r := RootView{p: p}
	for i := 0; i < FanOutPages; i++ {
		r.SetFanOut(i, Null)
	}
	return r
}

func (r RootView) body() []byte { return r.p.Body() }

// BatchID is the batch that produced this root (spec.md §3: "the newest
// root page has the largest batch_id of all root slots").
func (r RootView) BatchID() uint32 { return r.p.BatchID() }

func (r RootView) BlockNumber() uint64 {
	return binary.LittleEndian.Uint64(r.body()[rootOffBlockNumber:])
}
func (r RootView) SetBlockNumber(n uint64) {
	binary.LittleEndian.PutUint64(r.body()[rootOffBlockNumber:], n)
}

func (r RootView) StateHash() [HashSize]byte {
	var h [HashSize]byte
	copy(h[:], r.body()[rootOffStateHash:rootOffStateHash+HashSize])
	return h
}
func (r RootView) SetStateHash(h [HashSize]byte) {
	copy(r.body()[rootOffStateHash:rootOffStateHash+HashSize], h[:])
}

func (r RootView) NextFreePage() uint32 {
	return binary.LittleEndian.Uint32(r.body()[rootOffNextFreePage:])
}
func (r RootView) SetNextFreePage(v uint32) {
	binary.LittleEndian.PutUint32(r.body()[rootOffNextFreePage:], v)
}

func (r RootView) abandonedListCount() uint32 {
	return binary.LittleEndian.Uint32(r.body()[rootOffAbandonedListCount:])
}
func (r RootView) setAbandonedListCount(v uint32) {
	binary.LittleEndian.PutUint32(r.body()[rootOffAbandonedListCount:], v)
}

// FanOut returns the child address for the two-nibble fan-out bucket idx
// (0..FanOutPages-1).
func (r RootView) FanOut(idx int) Address {
	off := rootOffFanOut + idx*4
	return Address(binary.LittleEndian.Uint32(r.body()[off : off+4]))
}

// SetFanOut updates bucket idx's address.
func (r RootView) SetFanOut(idx int, addr Address) {
	off := rootOffFanOut + idx*4
	binary.LittleEndian.PutUint32(r.body()[off:off+4], uint32(addr))
}

// AbandonedHead returns the abandoned-list head for the given batch id, or
// (Null, false) if no entry is recorded for it.
func (r RootView) AbandonedHead(batchID uint32) (Address, bool) {
	n := int(r.abandonedListCount())
	for i := 0; i < n; i++ {
		off := rootOffHeads + i*rootHeadEntrySize
		id := binary.LittleEndian.Uint32(r.body()[off:])
		if id == batchID {
			return Address(binary.LittleEndian.Uint32(r.body()[off+4:])), true
		}
	}
	return Null, false
}

// SetAbandonedHead records (or updates) the abandoned-list head for
// batchID. Returns false if the heads table is full and batchID was not
// already present (callers should compact old, fully-reclaimed entries
// before this happens in steady-state operation; see Database.reclaimAbandoned).
func (r RootView) SetAbandonedHead(batchID uint32, head Address) bool {
	n := int(r.abandonedListCount())
	for i := 0; i < n; i++ {
		off := rootOffHeads + i*rootHeadEntrySize
		id := binary.LittleEndian.Uint32(r.body()[off:])
		if id == batchID {
			binary.LittleEndian.PutUint32(r.body()[off+4:], uint32(head))
			return true
		}
	}
	if n >= MaxAbandonedHeads {
		return false
	}
	off := rootOffHeads + n*rootHeadEntrySize
	binary.LittleEndian.PutUint32(r.body()[off:], batchID)
	binary.LittleEndian.PutUint32(r.body()[off+4:], uint32(head))
	r.setAbandonedListCount(uint32(n + 1))
	return true
}

// RemoveAbandonedHead deletes the entry for batchID (used once its chain is
// fully dequeued), compacting the table.
func (r RootView) RemoveAbandonedHead(batchID uint32) {
	n := int(r.abandonedListCount())
	for i := 0; i < n; i++ {
		off := rootOffHeads + i*rootHeadEntrySize
		id := binary.LittleEndian.Uint32(r.body()[off:])
		if id != batchID {
			continue
		}
		last := rootOffHeads + (n-1)*rootHeadEntrySize
		copy(r.body()[off:off+rootHeadEntrySize], r.body()[last:last+rootHeadEntrySize])
		r.setAbandonedListCount(uint32(n - 1))
		return
	}
}

// EachAbandonedHead calls fn for every recorded (batch_id, head) pair.
func (r RootView) EachAbandonedHead(fn func(batchID uint32, head Address)) {
	n := int(r.abandonedListCount())
	for i := 0; i < n; i++ {
		off := rootOffHeads + i*rootHeadEntrySize
		id := binary.LittleEndian.Uint32(r.body()[off:])
		head := Address(binary.LittleEndian.Uint32(r.body()[off+4:]))
		fn(id, head)
	}
}

// CopyFrom overwrites r's body with src's, used when carrying a root page
// forward into the next ring slot when a batch begins, before that batch
// applies its own deltas.
func (r RootView) CopyFrom(src RootView) {
	copy(r.body(), src.body())
}
