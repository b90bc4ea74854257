package store

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprikaerr"
)

// MmapManager is the file-backed PageManager: a file of fixed size, mapped
// read/write, with two flush modes matching spec.md §6's commit modes.
type MmapManager struct {
	mu       sync.Mutex
	file     *os.File
	lock     *flock.Flock
	mapping  mmap.MMap
	capacity uint32 // pages
	next     uint32
	free     freeList
	touched  *touchedIndex
	flushAll bool // whether Flush* issue real syscalls (Config.FlushToDisk)
}

// OpenMmapManager opens (creating if absent) path as a capacityBytes-sized,
// memory-mapped page store, taking an exclusive advisory lock so a second
// writer process cannot open the same file (spec.md §4.6 "second open
// writer" -> InvalidArgument).
func OpenMmapManager(path string, capacityBytes uint64, flushToDisk bool) (*MmapManager, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "acquiring store lock"))
	}
	if !locked {
		return nil, paprikaerr.New(paprikaerr.KindInvalidArgument,
			"store %s is already open for writing by another process", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "opening store file"))
	}

	numPages := uint32(capacityBytes / page.Size)
	size := int64(numPages) * page.Size
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, paprikaerr.Wrap(paprikaerr.KindIO, err)
	}
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			_ = lock.Unlock()
			return nil, paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "truncating store file"))
		}
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "mmap store file"))
	}

	return &MmapManager{
		file:     f,
		lock:     lock,
		mapping:  m,
		capacity: numPages,
		touched:  newTouchedIndex(),
		flushAll: flushToDisk,
	}, nil
}

// SetNextPageIndex is called once, on open, after the root ring has been
// scanned, to restore the allocator's watermark (spec.md §6
// "next_free_page").
func (m *MmapManager) SetNextPageIndex(next uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = next
}

func (m *MmapManager) slice(index uint32) []byte {
	off := uint64(index) * page.Size
	return m.mapping[off : off+page.Size]
}

func (m *MmapManager) GetAt(addr Address) (page.Page, error) {
	if addr.IsNull() || addr.Index() >= m.capacity {
		return page.Page{}, errPageOutOfBounds(addr, m.capacity-1)
	}
	return page.Wrap(m.slice(addr.Index())), nil
}

func (m *MmapManager) AddressOf(p page.Page) Address {
	base := &m.mapping[0]
	target := &p.Bytes()[0]
	return AddressOf(uint32(uintptrDiff(target, base) / page.Size))
}

func (m *MmapManager) Allocate(clear bool) (page.Page, Address, error) {
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
			"mmap page manager exhausted: capacity=%d pages", m.capacity)
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

func (m *MmapManager) EnsureWritable(p page.Page, addr Address, batchID uint32) (page.Page, Address, bool, error) {
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

func (m *MmapManager) FlushData() error {
	if !m.flushAll {
		return nil
	}
	if err := m.mapping.Flush(); err != nil {
		return paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "flushing data pages"))
	}
	return nil
}

// FlushRoot additionally fsyncs the underlying file descriptor, covering the
// root ring durably (spec.md §6 "FlushDataAndRoot"). FlushData alone only
// msyncs the mapping.
func (m *MmapManager) FlushRoot() error {
	if !m.flushAll {
		return nil
	}
	if err := m.mapping.Flush(); err != nil {
		return paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "flushing root page"))
	}
	if err := m.file.Sync(); err != nil {
		return paprikaerr.Wrap(paprikaerr.KindIO, errors.Wrap(err, "fsync store file"))
	}
	return nil
}

func (m *MmapManager) NextPageIndex() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

func (m *MmapManager) PushFree(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free.push(addr)
}

func (m *MmapManager) Close() error {
	var firstErr error
	if err := m.mapping.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return paprikaerr.Wrap(paprikaerr.KindIO, firstErr)
	}
	return nil
}
