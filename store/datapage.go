package store

import (
	"encoding/binary"

	"github.com/erigontech/paprika/nibble"
	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprikaerr"
	"github.com/erigontech/paprika/slotted"
)

// childTableBytes is the 16-entry nibble fan-out table's width (spec.md §4.3
// "Header + a slotted array over the page body + a 16-entry bucket table
// children: [DbAddress; 16]").
const childTableBytes = 16 * 4

// DataPageView is a typed view of a page.Page as a radix-trie node: an
// in-page SlottedArray plus 16 child pointers, one per leading nibble of
// whatever path prefix routing already consumed to reach this page.
type DataPageView struct {
	p   page.Page
	arr *slotted.Array
}

// AsDataPageView interprets p as a DataPage. p's body must already be a
// valid (zeroed-and-Init'd, or previously populated) DataPage layout.
func AsDataPageView(p page.Page) DataPageView {
	body := p.Body()
	return DataPageView{p: p, arr: slotted.New(body[childTableBytes:])}
}

// InitDataPage stamps a freshly allocated, zeroed page as an empty DataPage
// with all 16 children Null.
func InitDataPage(p page.Page, batchID uint32) DataPageView {
	p.Stamp(batchID)
	v := AsDataPageView(p)
	v.arr.Init()
	for n := 0; n < 16; n++ {
		v.SetChild(byte(n), Null)
	}
	return v
}

func (v DataPageView) Array() *slotted.Array { return v.arr }

func (v DataPageView) Child(n byte) Address {
	off := int(n) * 4
	return Address(binary.LittleEndian.Uint32(v.p.Body()[off : off+4]))
}

func (v DataPageView) SetChild(n byte, addr Address) {
	off := int(n) * 4
	binary.LittleEndian.PutUint32(v.p.Body()[off:off+4], uint32(addr))
}

// CreateDataPage allocates a brand-new, empty DataPage.
func CreateDataPage(pm PageManager, batchID uint32) (DataPageView, Address, error) {
	p, addr, err := pm.Allocate(true)
	if err != nil {
		return DataPageView{}, Null, err
	}
	return InitDataPage(p, batchID), addr, nil
}

// DataPageGet recursively looks up path starting at the page addressed by
// addr, descending through child buckets on a local miss (spec.md §4.3
// "Get(path)").
func DataPageGet(pm PageManager, addr Address, path nibble.Path) ([]byte, error) {
	if addr.IsNull() {
		return nil, paprikaerr.ErrNotFound
	}
	p, err := pm.GetAt(addr)
	if err != nil {
		return nil, err
	}
	view := AsDataPageView(p)

	if value, ok := view.Array().TryGet(path); ok {
		return value, nil
	}
	if path.IsEmpty() {
		return nil, paprikaerr.ErrNotFound
	}
	child := view.Child(path.NibbleAt(0))
	if child.IsNull() {
		return nil, paprikaerr.ErrNotFound
	}
	return DataPageGet(pm, child, path.SliceFrom(1))
}

// DataPageSet recursively stores path -> value starting at the page
// addressed by addr, returning the (possibly new, if COW'd) address of that
// page (spec.md §4.3 "Set(path, value, batch)", §4.3 "COW discipline").
// The caller is responsible for updating whatever pointer referenced addr
// (a root fan-out slot or a parent's child table entry) with the returned
// address.
//
// onObsolete is called with every page address this call makes
// unreachable (the pre-COW copy of a page), letting the caller stage it in
// the batch-scoped AbandonedPage chain rather than reuse it immediately
// (spec.md §4.4 "Abandonment safety": an address must not be reused until
// current_batch_id - batch_id_at_abandonment >= history_depth). onObsolete
// may be nil, in which case obsoleted addresses are leaked (acceptable only
// for tests that never reopen or reuse their page manager).
func DataPageSet(pm PageManager, batchID uint32, addr Address, path nibble.Path, value []byte, onObsolete func(Address)) (Address, error) {
	p, err := pm.GetAt(addr)
	if err != nil {
		return Null, err
	}
	writable, newAddr, _, err := pm.EnsureWritable(p, addr, batchID)
	if err != nil {
		return Null, err
	}
	if newAddr != addr && onObsolete != nil {
		onObsolete(addr)
	}
	view := AsDataPageView(writable)

	if view.Array().TrySet(path, value) {
		return newAddr, nil
	}

	if err := flushDownHeaviest(pm, batchID, view, onObsolete); err != nil {
		return Null, err
	}
	if view.Array().TrySet(path, value) {
		return newAddr, nil
	}

	// Pathological case (spec.md §4.3 step 4): flush-down didn't free enough
	// room for this specific key (it collided with the flushed bucket's
	// residual entries, or the value is large). Propagate the insert one
	// level down by the key's own leading nibble, allocating a child if one
	// doesn't already exist, and retry locally is not attempted again: the
	// recursion below always makes forward progress by consuming a nibble.
	if path.IsEmpty() {
		return Null, paprikaerr.New(paprikaerr.KindOutOfSpace,
			"data page cannot hold zero-length key after flush-down")
	}
	n := path.NibbleAt(0)
	child := view.Child(n)
	if child.IsNull() {
		_, childAddr, err := CreateDataPage(pm, batchID)
		if err != nil {
			return Null, err
		}
		child = childAddr
	}
	newChild, err := DataPageSet(pm, batchID, child, path.SliceFrom(1), value, onObsolete)
	if err != nil {
		return Null, err
	}
	view.SetChild(n, newChild)
	return newAddr, nil
}

// flushDownHeaviest implements spec.md §4.3 step 3: find the leading nibble
// bucket with the most live entries (ties broken toward the smaller nibble),
// COW or create its child page, and drain every matching entry into it.
func flushDownHeaviest(pm PageManager, batchID uint32, view DataPageView, onObsolete func(Address)) error {
	counts := view.Array().CountByLeadingNibble()
	n, best := byte(0), -1
	for nibble16, c := range counts {
		if c > best {
			best = c
			n = byte(nibble16)
		}
	}
	if best <= 0 {
		return nil
	}

	childAddr := view.Child(n)
	var childPage page.Page
	if childAddr.IsNull() {
		cv, addr, err := CreateDataPage(pm, batchID)
		if err != nil {
			return err
		}
		childAddr = addr
		childPage = cv.p
	} else {
		p, err := pm.GetAt(childAddr)
		if err != nil {
			return err
		}
		writable, newAddr, _, err := pm.EnsureWritable(p, childAddr, batchID)
		if err != nil {
			return err
		}
		if newAddr != childAddr && onObsolete != nil {
			onObsolete(childAddr)
		}
		childAddr = newAddr
		childPage = writable
	}
	childView := AsDataPageView(childPage)

	var moveErr error
	view.Array().MoveNonEmptyKeysTo(n, func(suffix nibble.Path, value []byte) {
		if moveErr != nil {
			return
		}
		if childView.Array().TrySet(suffix, value) {
			return
		}
		// The child itself is full; recurse through the normal Set path
		// (which may flush the child down further in turn). We already hold
		// childAddr's current, writable instance, but DataPageSet expects to
		// re-resolve via PageManager, so route through it; any COW it
		// performs is reflected by updating childAddr and re-resolving
		// childView below, so later iterations in this same loop write into
		// the live page instead of an obsoleted copy.
		newChildAddr, err := DataPageSet(pm, batchID, childAddr, suffix, value, onObsolete)
		if err != nil {
			moveErr = err
			return
		}
		childAddr = newChildAddr
		newChildPage, err := pm.GetAt(childAddr)
		if err != nil {
			moveErr = err
			return
		}
		childView = AsDataPageView(newChildPage)
	})
	if moveErr != nil {
		return moveErr
	}

	view.SetChild(n, childAddr)
	return nil
}
