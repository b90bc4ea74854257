package store

import (
	"sync"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprikaerr"
)

// AnonManager is the anonymous-memory PageManager backend: a single large
// aligned allocation, used for tests and ephemeral runs (spec.md §4.5).
type AnonManager struct {
	mu       sync.Mutex
	region   []byte
	capacity uint32 // pages
	next     uint32 // next never-allocated page index
	free     freeList
	touched  *touchedIndex
}

// NewAnonManager allocates capacityBytes (rounded down to a whole number of
// pages) of anonymous memory.
func NewAnonManager(capacityBytes uint64) *AnonManager {
	numPages := uint32(capacityBytes / page.Size)
	return &AnonManager{
		region:   make([]byte, uint64(numPages)*page.Size),
		capacity: numPages,
		touched:  newTouchedIndex(),
	}
}

func (m *AnonManager) slice(index uint32) []byte {
	off := uint64(index) * page.Size
	return m.region[off : off+page.Size]
}

func (m *AnonManager) GetAt(addr Address) (page.Page, error) {
	if addr.IsNull() || addr.Index() >= m.capacity {
		return page.Page{}, errPageOutOfBounds(addr, m.capacity-1)
	}
	return page.Wrap(m.slice(addr.Index())), nil
}

func (m *AnonManager) AddressOf(p page.Page) Address {
	// Anonymous-memory pages are always looked up via GetAt in this
	// implementation's call sites, so AddressOf is rarely needed; support it
	// anyway by pointer arithmetic over the owning slice for symmetry with
	// the mmap backend's interface contract.
	base := &m.region[0]
	target := &p.Bytes()[0]
	offset := uintptrDiff(target, base)
	return AddressOf(uint32(offset / page.Size))
}

func (m *AnonManager) Allocate(clear bool) (page.Page, Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr, ok := m.free.pop(); ok {
		p, err := m.GetAt(addr)
		if err != nil {
			return page.Page{}, Null, err
		}
		if clear {
			zero(p.Bytes())
		}
		return p, addr, nil
	}

	if m.next >= m.capacity {
		return page.Page{}, Null, paprikaerr.New(paprikaerr.KindOutOfSpace,
			"anonymous page manager exhausted: capacity=%d pages", m.capacity)
	}
	idx := m.next
	m.next++
	m.touched.markTouched(idx)
	p := page.Wrap(m.slice(idx))
	if clear {
		zero(p.Bytes())
	}
	return p, AddressOf(idx), nil
}

func (m *AnonManager) EnsureWritable(p page.Page, addr Address, batchID uint32) (page.Page, Address, bool, error) {
	if p.IsWritableBy(batchID) {
		return p, addr, false, nil
	}
	newPage, newAddr, err := m.Allocate(false)
	if err != nil {
		return page.Page{}, Null, false, err
	}
	copy(newPage.Bytes(), p.Bytes())
	newPage.SetBatchID(batchID)
	return newPage, newAddr, true, nil
}

func (m *AnonManager) FlushData() error { return nil }
func (m *AnonManager) FlushRoot() error { return nil }
func (m *AnonManager) Close() error     { return nil }

func (m *AnonManager) NextPageIndex() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// SetNextPageIndex restores the allocator's watermark on open (spec.md §6
// "next_free_page").
func (m *AnonManager) SetNextPageIndex(next uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = next
}

// PushFree returns addr to the in-memory free list; called by the batch
// layer once dequeue_free has determined addr is reclaimable (spec.md
// §4.4).
func (m *AnonManager) PushFree(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free.push(addr)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
