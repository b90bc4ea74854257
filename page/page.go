// Package page implements Page, a single owning type over one 4 KiB, 4
// KiB-aligned memory region, plus typed borrowing views over it (spec.md
// §3, §9 "Source patterns requiring re-architecture" / "raw pointer
// derivation by composition").
//
// Every page kind shares the same 8-byte header (batch_id + reserved); all
// typed views borrow the same backing []byte rather than casting a raw
// pointer, per the redesign flag in spec.md §9.
package page

import "encoding/binary"

// Size is the fixed page size in bytes (spec.md §3 "Page").
const Size = 4096

// HeaderSize is the shared 8-byte page header: batch_id (u32) + reserved
// (u32).
const HeaderSize = 8

// BodySize is the usable space after the header.
const BodySize = Size - HeaderSize

// Page owns (or borrows, for mmap-backed stores) exactly Size bytes, 4096
// byte-aligned within the backing region.
type Page struct {
	data []byte
}

// Wrap views data (which must be exactly Size bytes) as a Page. The caller
// retains ownership of data's lifetime; Page never copies it.
func Wrap(data []byte) Page {
	if len(data) != Size {
		panic("page: backing region must be exactly page.Size bytes")
	}
	return Page{data: data}
}

// Bytes returns the full Size-byte backing region, header included.
func (p Page) Bytes() []byte { return p.data }

// Body returns the BodySize-byte region after the shared header, for a
// typed view to interpret.
func (p Page) Body() []byte { return p.data[HeaderSize:] }

// BatchID returns the batch that last wrote this page (spec.md §3
// "batch_id: last batch that wrote this page").
func (p Page) BatchID() uint32 { return binary.LittleEndian.Uint32(p.data[0:4]) }

// SetBatchID stamps the page's batch id. Every allocator must call Stamp (or
// SetBatchID through it) before any typed content is written, per spec.md
// §9 "Ambient batch id on pages".
func (p Page) SetBatchID(id uint32) { binary.LittleEndian.PutUint32(p.data[0:4], id) }

// Reserved returns the header's reserved u32, used by some page kinds to
// store a 1-byte polymorphic type tag (spec.md §3 "Page").
func (p Page) Reserved() uint32 { return binary.LittleEndian.Uint32(p.data[4:8]) }

// SetReserved sets the header's reserved u32.
func (p Page) SetReserved(v uint32) { binary.LittleEndian.PutUint32(p.data[4:8], v) }

// Stamp is the single allocation-time primitive: it zeroes the body and
// writes batchID into the header, leaving reserved untouched (callers that
// need a type tag set it immediately after via SetReserved). Centralizing
// this in one place is the fix spec.md §9 calls for ("expose a single
// Page::stamp(batch_id) primitive that all allocators call").
func (p Page) Stamp(batchID uint32) {
	for i := range p.data {
		p.data[i] = 0
	}
	p.SetBatchID(batchID)
}

// IsWritableBy reports whether the page may be mutated in place by a batch
// with the given id (spec.md §3 invariant: "A page is writable in batch B
// iff page.batch_id == B.id").
func (p Page) IsWritableBy(batchID uint32) bool { return p.BatchID() == batchID }
