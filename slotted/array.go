// Package slotted implements SlottedArray, the in-page associative container
// that packs variable-length NibblePath -> []byte entries, growing slot/hash
// lanes from the low end of a backing byte region and payloads from the high
// end (spec.md §4.2).
package slotted

import (
	"encoding/binary"

	"github.com/erigontech/paprika/nibble"
)

// headerSize is the fixed 8-byte SlottedArray header: lo, hi, deleted_bytes,
// count, each a little-endian uint16 (spec.md §3 "SlottedArray").
const headerSize = 8

// slotSize is the width of one slot+hash lane pair (2 bytes slot + 2 bytes
// hash), spec.md §3.
const slotSize = 4

// Array is a view over a caller-supplied mutable byte region. It never
// allocates its own backing storage; the region is typically a sub-slice of
// a Page's body.
type Array struct {
	backing []byte
}

// New wraps backing as a fresh (or pre-existing) slotted array. Callers must
// zero backing themselves on first use (the page allocator does this on
// clean allocation, per spec.md §3 "Lifecycle").
func New(backing []byte) *Array {
	return &Array{backing: backing}
}

// Init zeroes the header of a freshly allocated region, setting hi to the
// end of the backing region.
func (a *Array) Init() {
	a.setLo(0)
	a.setHi(a.top())
	a.setDeletedBytes(0)
	a.setCount(0)
}

// top is the upper end of the payload area: the end of the backing region,
// capped at 0x0FFF so every payload addr fits the slot's 12-bit addr field.
func (a *Array) top() uint16 {
	if len(a.backing) > 0x0FFF {
		return 0x0FFF
	}
	return uint16(len(a.backing))
}

func (a *Array) lo() uint16            { return binary.LittleEndian.Uint16(a.backing[0:2]) }
func (a *Array) setLo(v uint16)        { binary.LittleEndian.PutUint16(a.backing[0:2], v) }
func (a *Array) hi() uint16            { return binary.LittleEndian.Uint16(a.backing[2:4]) }
func (a *Array) setHi(v uint16)        { binary.LittleEndian.PutUint16(a.backing[2:4], v) }
func (a *Array) deletedBytes() uint16  { return binary.LittleEndian.Uint16(a.backing[4:6]) }
func (a *Array) setDeletedBytes(v uint16) {
	binary.LittleEndian.PutUint16(a.backing[4:6], v)
}
func (a *Array) Count() int { return int(binary.LittleEndian.Uint16(a.backing[6:8])) }
func (a *Array) setCount(v uint16) {
	binary.LittleEndian.PutUint16(a.backing[6:8], v)
}

// DeletedCount is not tracked independently; callers needing it can derive
// it by enumerating, since the common paths only need the byte count for
// defragmentation decisions. Count() already excludes tombstoned slots (it is
// decremented on delete), so it gives no bound on this value; DeletedCount
// instead scans the slot lane directly (O(count), no payload touches).
func (a *Array) DeletedCount() int {
	n := 0
	lo := a.lo()
	for off := headerSize; off < headerSize+int(lo); off += slotSize {
		if isDeletedSlot(a.readSlot(off)) {
			n++
		}
	}
	return n
}

// CapacityLeft returns the number of free bytes between the slot/hash lanes
// and the payload area (spec.md §4.2 "capacity_left").
func (a *Array) CapacityLeft() int {
	return int(a.hi()) - headerSize - int(a.lo())
}

// rawSlot is the packed 16-bit slot word: addr(12) | preamble(3) | deleted(1).
type rawSlot uint16

func packSlot(addr uint16, pre preamble, deleted bool) rawSlot {
	s := rawSlot(addr&0x0FFF) | rawSlot(pre&0x7)<<12
	if deleted {
		s |= 1 << 15
	}
	return s
}

func (s rawSlot) addr() uint16      { return uint16(s & 0x0FFF) }
func (s rawSlot) preamble() preamble { return preamble((s >> 12) & 0x7) }
func (s rawSlot) deleted() bool      { return s&(1<<15) != 0 }

func isDeletedSlot(s rawSlot) bool { return s.deleted() }

// entry lane layout: at offset headerSize+i*slotSize we store
// [slot:2][hash:2] (order chosen so a single 4-byte read gives both; only
// the hash half is scanned by the vectorized search).
func (a *Array) readSlot(off int) rawSlot {
	return rawSlot(binary.LittleEndian.Uint16(a.backing[off : off+2]))
}
func (a *Array) writeSlot(off int, s rawSlot) {
	binary.LittleEndian.PutUint16(a.backing[off:off+2], uint16(s))
}
func (a *Array) readHash(off int) uint16 {
	return binary.LittleEndian.Uint16(a.backing[off+2 : off+4])
}
func (a *Array) writeHash(off int, h uint16) {
	binary.LittleEndian.PutUint16(a.backing[off+2:off+4], h)
}

func (a *Array) slotOffset(i int) int { return headerSize + i*slotSize }
func (a *Array) numSlots() int        { return int(a.lo()) / slotSize }

// TryGet looks up path and returns its value, or (nil, false) if absent or
// tombstoned.
func (a *Array) TryGet(path nibble.Path) ([]byte, bool) {
	hash, pre, trimmed := prepareKey(path)
	idx, ok := a.find(hash, pre, trimmed)
	if !ok {
		return nil, false
	}
	_, value := a.decodePayload(a.readSlot(a.slotOffset(idx)), pre)
	return value, true
}

// find performs the vectorized hash-lane scan followed by preamble/payload
// verification (spec.md §4.2 "Get algorithm"). Returns the slot index.
func (a *Array) find(hash uint16, pre preamble, trimmed nibble.Path) (int, bool) {
	n := a.numSlots()
	for _, idx := range scanEqual(a.hashLane(n), hash) {
		off := a.slotOffset(idx)
		s := a.readSlot(off)
		if s.deleted() || s.preamble() != pre {
			continue
		}
		if fitsEntirely(pre) {
			return idx, true
		}
		storedTrimmed, _ := a.decodePayload(s, pre)
		if nibble.Equal(storedTrimmed, trimmed) {
			return idx, true
		}
	}
	return 0, false
}

// hashLane returns the n live+dead hash words as a slice view for scanning.
// It does not allocate: the hash words are not contiguous in the backing
// array (they are interleaved with slot words), so scanEqual is handed an
// accessor instead of a raw slice; see scan.go.
func (a *Array) hashLane(n int) hashLaneView {
	return hashLaneView{a: a, n: n}
}

// decodePayload reads the slot's payload: for short (fitsEntirely) keys, the
// payload is exactly the value; for long keys, it is a wire-encoded
// NibblePath (the trimmed middle) followed by the value.
func (a *Array) decodePayload(s rawSlot, pre preamble) (trimmed nibble.Path, value []byte) {
	addr := int(s.addr())
	if fitsEntirely(pre) {
		return nibble.Empty, a.payloadBytes(addr)
	}
	region := a.backing[addr:]
	trimmed, rest := nibble.ReadFrom(region)
	return trimmed, rest[:a.payloadValueLen(s)]
}

// payloadBytes returns the value-only payload starting at addr, its length
// read from the 2-byte length prefix just below addr (see valueLenAt).
func (a *Array) payloadBytes(addr int) []byte {
	return a.backing[addr : addr+a.valueLenAt(addr)]
}

// Because payload lengths aren't separately stored (spec.md keeps the
// per-slot layout minimal), the array tracks each live payload's total byte
// span using the distance to the previous allocation boundary. To keep this
// simple and robust against arbitrary tombstone/defrag patterns, every
// payload is itself length-prefixed by a 2-byte little-endian total length
// immediately preceding it; that 2 bytes is included in "len = encoded len +
// value len" accounting done by Set (spec.md §4.2 step 3). See appendPayload.
func (a *Array) valueLenAt(addr int) int {
	return int(binary.LittleEndian.Uint16(a.backing[addr-2 : addr])) - 0
}

func (a *Array) payloadValueLen(s rawSlot) int {
	addr := int(s.addr())
	total := int(binary.LittleEndian.Uint16(a.backing[addr-2 : addr]))
	if fitsEntirely(s.preamble()) {
		return total
	}
	// total spans [wire-encoded trimmed][value]; subtract the encoded prefix.
	region := a.backing[addr : addr+total]
	_, rest := nibble.ReadFrom(region)
	return len(rest)
}

// TrySet stores or updates path -> value. Returns false only if no amount of
// defragmentation can make room (spec.md §4.2 "Set algorithm").
func (a *Array) TrySet(path nibble.Path, value []byte) bool {
	hash, pre, trimmed := prepareKey(path)

	if idx, ok := a.find(hash, pre, trimmed); ok {
		off := a.slotOffset(idx)
		s := a.readSlot(off)
		oldValueLen := a.payloadValueLen(s)
		if len(value) == oldValueLen {
			// in-place update: same total payload span.
			_, oldValue := a.decodePayload(s, pre)
			copy(oldValue, value)
			return true
		}
		// tombstone and fall through to re-insert (spec.md step 2).
		a.tombstoneAt(idx)
	}

	need := a.entrySpaceNeeded(pre, trimmed, value)
	if a.CapacityLeft() < need+slotSize {
		a.Defragment()
		if a.CapacityLeft() < need+slotSize {
			return false
		}
	}

	a.insertNew(hash, pre, trimmed, value)
	return true
}

func (a *Array) entrySpaceNeeded(pre preamble, trimmed nibble.Path, value []byte) int {
	encodedLen := 0
	if !fitsEntirely(pre) {
		encodedLen = trimmed.EncodedLen()
	}
	return 2 + encodedLen + len(value) // 2-byte length prefix, see valueLenAt.
}

func (a *Array) insertNew(hash uint16, pre preamble, trimmed nibble.Path, value []byte) {
	payloadLen := 0
	if !fitsEntirely(pre) {
		payloadLen = trimmed.EncodedLen()
	}
	total := payloadLen + len(value)

	newHi := a.hi() - uint16(2+total)
	a.setHi(newHi)

	lenPrefixOff := int(newHi)
	binary.LittleEndian.PutUint16(a.backing[lenPrefixOff:lenPrefixOff+2], uint16(total))
	addr := lenPrefixOff + 2

	rest := a.backing[addr : addr+total]
	if !fitsEntirely(pre) {
		rest = trimmed.WriteTo(rest)
	}
	copy(rest, value)

	idx := a.numSlots()
	off := a.slotOffset(idx)
	a.writeSlot(off, packSlot(uint16(addr), pre, false))
	a.writeHash(off, hash)
	a.setLo(a.lo() + slotSize)
	a.setCount(a.Count() + 1)
}

// Delete tombstones path's slot. Returns false if path was not present.
func (a *Array) Delete(path nibble.Path) bool {
	hash, pre, trimmed := prepareKey(path)
	idx, ok := a.find(hash, pre, trimmed)
	if !ok {
		return false
	}
	a.tombstoneAt(idx)
	return true
}

func (a *Array) tombstoneAt(idx int) {
	off := a.slotOffset(idx)
	s := a.readSlot(off)
	a.writeSlot(off, packSlot(s.addr(), s.preamble(), true))
	a.writeHash(off, ^a.readHash(off))

	valueLen := a.payloadValueLen(s)
	encodedLen := 0
	if !fitsEntirely(s.preamble()) {
		trimmed, _ := a.decodePayload(s, s.preamble())
		encodedLen = trimmed.EncodedLen()
	}
	span := 2 + encodedLen + valueLen
	a.setDeletedBytes(a.deletedBytes() + uint16(span))
	a.setCount(a.Count() - 1)

	// Opportunistic reclaim: if this was the most recently inserted payload
	// (addr == hi), raise hi immediately instead of waiting for defrag
	// (spec.md §4.2 "Delete").
	addr := int(s.addr())
	if addr-2 == int(a.hi()) {
		a.setHi(a.hi() + uint16(span))
		a.setDeletedBytes(a.deletedBytes() - uint16(span))
	}
}

// Defragment compacts live payloads toward the high end in insertion order,
// discarding tombstones, and reclaims hi. Idempotent and linear in page
// size (spec.md §4.2 "Defragment").
func (a *Array) Defragment() {
	type live struct {
		slotOff int
		hash    uint16
		addr    uint16
		pre     preamble
		total   int
	}

	n := a.numSlots()
	entries := make([]live, 0, n)
	for i := 0; i < n; i++ {
		off := a.slotOffset(i)
		s := a.readSlot(off)
		if s.deleted() {
			continue
		}
		addr := int(s.addr())
		total := int(binary.LittleEndian.Uint16(a.backing[addr-2 : addr]))
		entries = append(entries, live{
			slotOff: off,
			hash:    a.readHash(off),
			addr:    uint16(addr),
			pre:     s.preamble(),
			total:   total,
		})
	}

	// Copy all live payloads (each including its 2-byte length prefix) into
	// a scratch buffer first, since source and destination regions overlap
	// in the general case.
	scratchLen := 0
	for _, e := range entries {
		scratchLen += 2 + e.total
	}
	scratch := make([]byte, scratchLen)
	pos := 0
	offsets := make([]int, len(entries))
	for i, e := range entries {
		src := a.backing[int(e.addr)-2 : int(e.addr)+e.total]
		copy(scratch[pos:], src)
		offsets[i] = pos
		pos += 2 + e.total
	}

	newHi := a.top()
	for i, e := range entries {
		span := 2 + e.total
		newHi -= uint16(span)
		copy(a.backing[newHi:newHi+uint16(span)], scratch[offsets[i]:offsets[i]+span])
	}

	// Rewrite slots compactly, in the same relative (insertion) order,
	// dropping tombstones entirely.
	newLo := uint16(0)
	cursor := int(a.top())
	for i, e := range entries {
		cursor -= 2 + e.total
		newAddr := uint16(cursor + 2)
		off := headerSize + i*slotSize
		a.writeSlot(off, packSlot(newAddr, e.pre, false))
		a.writeHash(off, e.hash)
		newLo += slotSize
	}

	a.setLo(newLo)
	a.setHi(newHi)
	a.setDeletedBytes(0)
	a.setCount(uint16(len(entries)))
}

// decodeEdges unpacks the nibbles held in a slot's hash lane. For short
// (fitsEntirely) keys these are the whole key and count is its length; for
// long keys they are the first two and last two nibbles (count 4), which
// recombine joins with the trimmed middle stored in the payload to rebuild
// the full stored key.
func decodeEdges(hash uint16, pre preamble) (nibbles [4]byte, count int) {
	if fitsEntirely(pre) {
		n := shortLength(pre)
		b := [4]byte{
			byte(hash >> 12 & 0xF),
			byte(hash >> 8 & 0xF),
			byte(hash >> 4 & 0xF),
			byte(hash & 0xF),
		}
		return b, n
	}
	return [4]byte{
		byte(hash >> 12 & 0xF),
		byte(hash >> 8 & 0xF),
		byte(hash >> 4 & 0xF),
		byte(hash & 0xF),
	}, edgeNibbles * 2
}

// EnumerateAll calls fn for every live entry in slot (insertion) order. fn
// receives the entry's leading nibble(s) reconstruction via Entry, which
// callers combine with the routing prefix they already hold (see
// decodeEdges doc). Enumeration stops early if fn returns false.
func (a *Array) EnumerateAll(fn func(e Entry) bool) {
	n := a.numSlots()
	for i := 0; i < n; i++ {
		off := a.slotOffset(i)
		s := a.readSlot(off)
		if s.deleted() {
			continue
		}
		if !fn(a.entryAt(i, off, s)) {
			return
		}
	}
}

// EnumerateNibble calls fn for every live entry whose leading nibble is n
// (spec.md §4.2 "enumerate_nibble"), determined purely from the hash lane
// without touching the payload.
func (a *Array) EnumerateNibble(leadingNibble byte, fn func(e Entry) bool) {
	count := a.numSlots()
	for i := 0; i < count; i++ {
		off := a.slotOffset(i)
		s := a.readSlot(off)
		if s.deleted() {
			continue
		}
		edges, count := decodeEdges(a.readHash(off), s.preamble())
		if count == 0 || edges[0] != leadingNibble {
			continue
		}
		if !fn(a.entryAt(i, off, s)) {
			return
		}
	}
}

// Entry is a decoded live slot, exposing enough to recover the full key
// relative to the bucket it was found in.
type Entry struct {
	LeadingNibbles [4]byte
	LeadingCount   int // how many of LeadingNibbles are meaningful
	Trimmed        nibble.Path
	FitsEntirely   bool
	Value          []byte
	idx            int
}

func (a *Array) entryAt(idx, off int, s rawSlot) Entry {
	edges, count := decodeEdges(a.readHash(off), s.preamble())
	trimmed, value := a.decodePayload(s, s.preamble())
	return Entry{
		LeadingNibbles: edges,
		LeadingCount:   count,
		Trimmed:        trimmed,
		FitsEntirely:   fitsEntirely(s.preamble()),
		Value:          value,
		idx:            idx,
	}
}

// DeleteAt tombstones the slot backing a previously enumerated Entry.
func (a *Array) DeleteAt(e Entry) {
	a.tombstoneAt(e.idx)
}

// MoveNonEmptyKeysTo drains every live entry whose leading nibble matches
// leadingNibble: it calls reinsert with the entry's key minus that leading
// nibble and its value, then tombstones the entries here. Used by
// DataPage's flush-down (spec.md §4.2 "move_non_empty_keys_to", §4.3 step
// 3d), whose reinsert stores each suffix into the child page.
func (a *Array) MoveNonEmptyKeysTo(leadingNibble byte, reinsert func(suffix nibble.Path, value []byte)) {
	var toDelete []int
	a.EnumerateNibble(leadingNibble, func(e Entry) bool {
		suffix := recombine(e, 1)
		reinsert(suffix, e.Value)
		toDelete = append(toDelete, e.idx)
		return true
	})
	for _, idx := range toDelete {
		a.tombstoneAt(idx)
	}
}

// recombine rebuilds the nibble path stored by an entry, minus the first
// skip nibbles of its leading-nibble reconstruction (the nibbles already
// consumed by the caller's routing). Short (fitsEntirely) keys are fully
// contained in LeadingNibbles[:LeadingCount]; long keys are
// LeadingNibbles[0:2] ++ Trimmed ++ LeadingNibbles[2:4].
func recombine(e Entry, skip int) nibble.Path {
	var nibbles []byte
	if e.FitsEntirely {
		nibbles = append(nibbles, e.LeadingNibbles[:e.LeadingCount]...)
	} else {
		nibbles = append(nibbles, e.LeadingNibbles[0], e.LeadingNibbles[1])
		tmp := make([]byte, 0, e.Trimmed.Length())
		nibbles = append(nibbles, e.Trimmed.AppendNibbles(tmp)...)
		nibbles = append(nibbles, e.LeadingNibbles[2], e.LeadingNibbles[3])
	}
	if skip > len(nibbles) {
		skip = len(nibbles)
	}
	nibbles = nibbles[skip:]

	data := make([]byte, (len(nibbles)+1)/2)
	for i, nb := range nibbles {
		if i%2 == 0 {
			data[i/2] = nb << 4
		} else {
			data[i/2] |= nb
		}
	}
	return nibble.FromNibbles(data, 0, len(nibbles))
}

// FullPath reconstructs entry e's complete stored key (no nibbles skipped).
// Exposed for callers (e.g. DataPage.Get on a zero-nibble lookup) that need
// the whole key rather than a routing suffix.
func FullPath(e Entry) nibble.Path { return recombine(e, 0) }

// CountByLeadingNibble returns, for every nibble 0..15, the number of live
// entries whose key begins with that nibble (spec.md §4.3 step 3a), derived
// purely from the hash lane.
func (a *Array) CountByLeadingNibble() (counts [16]int) {
	n := a.numSlots()
	for i := 0; i < n; i++ {
		off := a.slotOffset(i)
		s := a.readSlot(off)
		if s.deleted() {
			continue
		}
		edges, count := decodeEdges(a.readHash(off), s.preamble())
		if count == 0 {
			continue
		}
		counts[edges[0]]++
	}
	return counts
}
