package store

import (
	"encoding/binary"

	"github.com/erigontech/paprika/page"
)

// Abandoned page body layout (spec.md §4.4 "AbandonedPage"): batch id at
// abandonment, a next-link to an older node in the same batch's chain, a
// live-entry count, then a bounded array of DbAddress entries.
const (
	abandonedOffBatchID = 0
	abandonedOffNext    = abandonedOffBatchID + 4
	abandonedOffCount   = abandonedOffNext + 4
	abandonedOffEntries = abandonedOffCount + 4
)

// AbandonedCapacity is how many DbAddress entries fit in one abandoned
// page's body after its fixed fields (spec.md: "~1000 per page").
const AbandonedCapacity = (page.BodySize - abandonedOffEntries) / 4

// AbandonedView is a typed view of a page.Page as an AbandonedPage queue
// node.
type AbandonedView struct {
	p page.Page
}

func AsAbandonedView(p page.Page) AbandonedView { return AbandonedView{p: p} }

// InitAbandonedPage stamps a freshly allocated, zeroed page as an empty
// abandoned-page node for batchID, linking to next (Null if this is the
// first node for that batch).
func InitAbandonedPage(p page.Page, batchID uint32, next Address) AbandonedView {
	p.Stamp(batchID)
	v := AbandonedView{p: p}
	v.setBatchIDAtAbandonment(batchID)
	v.setNext(next)
	v.setCount(0)
	return v
}

func (v AbandonedView) batchIDAtAbandonment() uint32 {
	return binary.LittleEndian.Uint32(v.p.Body()[abandonedOffBatchID:])
}
func (v AbandonedView) setBatchIDAtAbandonment(id uint32) {
	binary.LittleEndian.PutUint32(v.p.Body()[abandonedOffBatchID:], id)
}

// BatchIDAtAbandonment is the batch that enqueued this node's entries
// (spec.md invariant: "An abandoned-page entry is only eligible for reuse
// when current_batch_id - batch_id_at_abandonment >= HISTORY_DEPTH").
func (v AbandonedView) BatchIDAtAbandonment() uint32 { return v.batchIDAtAbandonment() }

func (v AbandonedView) Next() Address {
	return Address(binary.LittleEndian.Uint32(v.p.Body()[abandonedOffNext:]))
}
func (v AbandonedView) setNext(a Address) {
	binary.LittleEndian.PutUint32(v.p.Body()[abandonedOffNext:], uint32(a))
}

func (v AbandonedView) count() int {
	return int(binary.LittleEndian.Uint32(v.p.Body()[abandonedOffCount:]))
}
func (v AbandonedView) setCount(n int) {
	binary.LittleEndian.PutUint32(v.p.Body()[abandonedOffCount:], uint32(n))
}

func (v AbandonedView) entryOffset(i int) int { return abandonedOffEntries + i*4 }

func (v AbandonedView) entryAt(i int) Address {
	off := v.entryOffset(i)
	return Address(binary.LittleEndian.Uint32(v.p.Body()[off : off+4]))
}
func (v AbandonedView) setEntryAt(i int, a Address) {
	off := v.entryOffset(i)
	binary.LittleEndian.PutUint32(v.p.Body()[off:off+4], uint32(a))
}

// Full reports whether this node has no room for another entry.
func (v AbandonedView) Full() bool { return v.count() >= AbandonedCapacity }

// Append adds addr to this node. Panics if Full (callers must check first;
// Enqueue handles overflow by chaining a new node).
func (v AbandonedView) Append(addr Address) {
	n := v.count()
	v.setEntryAt(n, addr)
	v.setCount(n + 1)
}

// popLast removes and returns this node's most recently appended entry.
// Used by Dequeue-free, which treats each node as a LIFO within its batch
// (order among a single batch's abandoned addresses carries no invariant;
// spec.md only requires that addresses become reusable no earlier than
// HISTORY_DEPTH batches after abandonment).
func (v AbandonedView) popLast() (Address, bool) {
	n := v.count()
	if n == 0 {
		return Null, false
	}
	a := v.entryAt(n - 1)
	v.setCount(n - 1)
	return a, true
}

// Enqueue appends addr to the chain rooted at head (the newest node for the
// current batch), allocating a new node via pm if head is full or Null, and
// returns the (possibly new) head address to store back into the root's
// abandoned-list-heads table (spec.md §4.4 "Enqueue(addr)").
func Enqueue(pm PageManager, batchID uint32, head Address, addr Address) (Address, error) {
	if !head.IsNull() {
		p, err := pm.GetAt(head)
		if err != nil {
			return Null, err
		}
		writable, newHead, _, err := pm.EnsureWritable(p, head, batchID)
		if err != nil {
			return Null, err
		}
		v := AbandonedView{p: writable}
		if !v.Full() {
			v.Append(addr)
			return newHead, nil
		}
		head = newHead
	}

	p, newAddr, err := pm.Allocate(true)
	if err != nil {
		return Null, err
	}
	v := InitAbandonedPage(p, batchID, head)
	v.Append(addr)
	return newAddr, nil
}

// DequeueFree pops one reusable address from the chain rooted at head,
// given the current batch id and reorg-depth window, returning the updated
// head (which may change if the node it popped from became empty and was
// itself recycled) and whether an address was found (spec.md §4.4
// "Dequeue-free()").
//
// A node only yields entries once its own batch_id_at_abandonment satisfies
// the HISTORY_DEPTH gate; all entries in the same node share one abandonment
// batch. The caller (Database.reclaimAbandoned) tries every recorded head in
// heads-table order and skips any whose node is still too young.
func DequeueFree(pm PageManager, currentBatchID uint32, historyDepth uint32, head Address) (freed Address, newHead Address, ok bool, err error) {
	if head.IsNull() {
		return Null, Null, false, nil
	}
	p, err := pm.GetAt(head)
	if err != nil {
		return Null, Null, false, err
	}
	v := AbandonedView{p: p}
	if currentBatchID-v.BatchIDAtAbandonment() < historyDepth {
		return Null, head, false, nil
	}

	addr, popped := v.popLast()
	if !popped {
		// Empty node: unlink and recycle the node's own address.
		next := v.Next()
		pm.PushFree(head)
		return Null, next, false, nil
	}
	return addr, head, true, nil
}
