package store

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprikaerr"
)

// PageManager owns the backing store (anonymous memory or a memory-mapped
// file), addresses pages by fixed index, enforces copy-on-write, and tracks
// reusable addresses (spec.md §4.5).
type PageManager interface {
	// GetAt returns the page at addr. Bounds-checked.
	GetAt(addr Address) (page.Page, error)
	// AddressOf is the inverse of GetAt.
	AddressOf(p page.Page) Address
	// Allocate pulls a page from the free list (populated from abandoned
	// pages) or bumps the next-page counter. If clear, the page's body is
	// zeroed (it always is on first touch; clear re-asserts it for a reused
	// page).
	Allocate(clear bool) (page.Page, Address, error)
	// EnsureWritable returns a page writable by batchID: p itself if
	// p.BatchID()==batchID, otherwise a freshly allocated COW copy, with the
	// original address reported so the caller can enqueue it for
	// abandonment.
	EnsureWritable(p page.Page, addr Address, batchID uint32) (writable page.Page, writableAddr Address, copied bool, err error)
	// FlushData issues an OS-level sync covering dirtied data pages. No-op
	// on anonymous memory.
	FlushData() error
	// FlushRoot issues an OS-level sync covering the root ring. No-op on
	// anonymous memory.
	FlushRoot() error
	// NextPageIndex reports the first never-yet-allocated page index, used
	// by the root page's next_free_page bookkeeping (spec.md §6).
	NextPageIndex() uint32
	// SetNextPageIndex restores the allocator's watermark, called once on
	// open after the root ring has been scanned (spec.md §6 "next_free_page"
	// / "Discovery of the current root on open").
	SetNextPageIndex(next uint32)
	// PushFree returns addr to the in-memory free list, called once
	// dequeue_free has determined it is safely reusable (spec.md §4.4).
	PushFree(addr Address)
	// Close releases any OS resources (file handles, mappings, locks).
	Close() error
}

// freeList is the in-memory complement to the on-disk abandoned-page
// registry: a simple LIFO of addresses that dequeue_free has already
// determined are reusable (spec.md §4.4 "Dequeue-free"). It is populated by
// the Database/Batch layer, which owns the on-disk scan, and drained here by
// Allocate.
type freeList struct {
	addrs []Address
}

func (f *freeList) push(a Address) { f.addrs = append(f.addrs, a) }
func (f *freeList) pop() (Address, bool) {
	if len(f.addrs) == 0 {
		return Null, false
	}
	a := f.addrs[len(f.addrs)-1]
	f.addrs = f.addrs[:len(f.addrs)-1]
	return a, true
}

// touchedIndex records, in memory, the page indices this process has
// allocated (spec.md SPEC_FULL.md §3.1 "DbAddress free-space index"). It
// starts empty on every open and is not rebuilt from the store; nothing
// consults isTouched for allocation decisions, so it is never the source of
// truth.
type touchedIndex struct {
	bitmap *roaring.Bitmap
}

func newTouchedIndex() *touchedIndex { return &touchedIndex{bitmap: roaring.New()} }

func (t *touchedIndex) markTouched(index uint32) { t.bitmap.Add(index) }
func (t *touchedIndex) isTouched(index uint32) bool { return t.bitmap.Contains(index) }

// errPageOutOfBounds builds the Corruption error for an out-of-range address.
func errPageOutOfBounds(addr Address, maxIndex uint32) error {
	return paprikaerr.New(paprikaerr.KindCorruption,
		"page address %s exceeds store bound (max index %d)", addr, maxIndex)
}
