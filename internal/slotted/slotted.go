// Package slotted implements the slotted page format of spec §4.3/§6: a
// small fixed header, a forward-growing slot directory, and a
// backward-growing cell heap with a free region between them.
//
// What: insert/delete/get/iter/compact over variable-length cells.
// How: slots are kept sorted by key at all times (binary-search insert with
// an array shift); deleting only removes the slot, leaving heap bytes
// reclaimable until compact packs the heap densely.
// Why: this is the standard slotted-page layout used by every B+Tree
// implementation in the retrieval pack (tinySQL's btree_page.go is the
// direct ancestor of this file).
package slotted

import (
	"encoding/binary"
	"errors"
	"sort"
)

// Page kinds, per spec §6.
const (
	KindLeaf     uint8 = 0
	KindInternal uint8 = 1
	KindMeta     uint8 = 2
)

// Header layout, per spec §6 (all multi-byte fields little-endian):
//
//	u16 cell_count
//	u16 free_offset
//	u8  kind
//	u8  flags
//	u32 right_sibling
//	u32 left_sibling
//	u64 parent_or_version
//
// The slot directory starts at byte 24.
const (
	offCellCount  = 0
	offFreeOffset = 2
	offKind       = 4
	offFlags      = 5
	offRightSib   = 6
	offLeftSib    = 10
	offParentVer  = 14
	HeaderSize    = 24
	slotSize      = 4 // u16 offset + u16 length
)

var (
	// ErrOutOfSpace signals the caller (normally the B+Tree) that the page
	// must be split; total free space does not suffice even after compaction.
	ErrOutOfSpace = errors.New("slotted: out of space")
	// ErrKeyTooLarge is returned when a single cell cannot fit in an empty
	// page's usable space.
	ErrKeyTooLarge = errors.New("slotted: key too large for page")
	ErrNoSuchSlot  = errors.New("slotted: no such slot")
)

// CellKind tags the variant of a cell, per spec §4.3.
type CellKind uint8

const (
	// CellKeyOnly is a key cell: encoded key bytes only.
	CellKeyOnly CellKind = iota
	// CellKeyValue is a key-value cell: encoded key + encoded row bytes.
	CellKeyValue
	// CellKeyPointer is a key-pointer cell: encoded key + child page index.
	CellKeyPointer
)

// Cell is a decoded slotted-page cell.
type Cell struct {
	Kind  CellKind
	Key   []byte
	Value []byte // CellKeyValue only
	Child uint32 // CellKeyPointer only
}

func encodeCell(c Cell) []byte {
	buf := make([]byte, 0, 9+len(c.Key)+len(c.Value))
	buf = append(buf, byte(c.Kind))
	var klen [4]byte
	binary.LittleEndian.PutUint32(klen[:], uint32(len(c.Key)))
	buf = append(buf, klen[:]...)
	buf = append(buf, c.Key...)
	switch c.Kind {
	case CellKeyValue:
		var vlen [4]byte
		binary.LittleEndian.PutUint32(vlen[:], uint32(len(c.Value)))
		buf = append(buf, vlen[:]...)
		buf = append(buf, c.Value...)
	case CellKeyPointer:
		var child [4]byte
		binary.LittleEndian.PutUint32(child[:], c.Child)
		buf = append(buf, child[:]...)
	}
	return buf
}

func decodeCell(buf []byte) Cell {
	kind := CellKind(buf[0])
	klen := binary.LittleEndian.Uint32(buf[1:5])
	key := buf[5 : 5+klen]
	rest := buf[5+klen:]
	c := Cell{Kind: kind, Key: key}
	switch kind {
	case CellKeyValue:
		vlen := binary.LittleEndian.Uint32(rest[:4])
		c.Value = rest[4 : 4+vlen]
	case CellKeyPointer:
		c.Child = binary.LittleEndian.Uint32(rest[:4])
	}
	return c
}

// Page is a slotted page view over a fixed-size byte buffer (normally a
// pager.Page/PageMut's bytes).
type Page struct {
	buf []byte
}

// Wrap interprets buf (a full page-sized buffer) as a slotted page.
func Wrap(buf []byte) *Page { return &Page{buf: buf} }

// Init formats buf as an empty slotted page of the given kind.
func Init(buf []byte, kind uint8) *Page {
	for i := range buf {
		buf[i] = 0
	}
	p := &Page{buf: buf}
	p.setCellCount(0)
	p.setFreeOffset(uint16(len(buf)))
	buf[offKind] = kind
	p.SetRightSibling(0xFFFFFFFF)
	p.SetLeftSibling(0xFFFFFFFF)
	return p
}

func (p *Page) cellCount() uint16    { return binary.LittleEndian.Uint16(p.buf[offCellCount:]) }
func (p *Page) setCellCount(n uint16) { binary.LittleEndian.PutUint16(p.buf[offCellCount:], n) }
func (p *Page) freeOffset() uint16   { return binary.LittleEndian.Uint16(p.buf[offFreeOffset:]) }
func (p *Page) setFreeOffset(n uint16) {
	binary.LittleEndian.PutUint16(p.buf[offFreeOffset:], n)
}

// CellCount returns the number of live cells.
func (p *Page) CellCount() int { return int(p.cellCount()) }

// Kind returns the page kind (KindLeaf/KindInternal/KindMeta).
func (p *Page) Kind() uint8 { return p.buf[offKind] }

// Flags returns the raw flags byte.
func (p *Page) Flags() uint8        { return p.buf[offFlags] }
func (p *Page) SetFlags(f uint8)    { p.buf[offFlags] = f }

// RightSibling/LeftSibling are the B+Tree leaf doubly-linked-list pointers.
// 0xFFFFFFFF means "none".
func (p *Page) RightSibling() uint32 { return binary.LittleEndian.Uint32(p.buf[offRightSib:]) }
func (p *Page) SetRightSibling(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[offRightSib:], v)
}
func (p *Page) LeftSibling() uint32 { return binary.LittleEndian.Uint32(p.buf[offLeftSib:]) }
func (p *Page) SetLeftSibling(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[offLeftSib:], v)
}

// ParentOrVersion is the parent page pointer (internal/leaf nodes track
// their parent for latch-coupling bookkeeping) or a checksum/version tag
// for meta pages.
func (p *Page) ParentOrVersion() uint64 { return binary.LittleEndian.Uint64(p.buf[offParentVer:]) }
func (p *Page) SetParentOrVersion(v uint64) {
	binary.LittleEndian.PutUint64(p.buf[offParentVer:], v)
}

func (p *Page) slotAt(i int) (offset, length uint16) {
	base := HeaderSize + i*slotSize
	return binary.LittleEndian.Uint16(p.buf[base:]), binary.LittleEndian.Uint16(p.buf[base+2:])
}

func (p *Page) setSlotAt(i int, offset, length uint16) {
	base := HeaderSize + i*slotSize
	binary.LittleEndian.PutUint16(p.buf[base:], offset)
	binary.LittleEndian.PutUint16(p.buf[base+2:], length)
}

func (p *Page) dirEnd() int { return HeaderSize + int(p.cellCount())*slotSize }

// keyAt returns the key of the cell stored at slot i, without decoding the
// full cell.
func (p *Page) keyAt(i int) []byte {
	offset, length := p.slotAt(i)
	return decodeCell(p.buf[offset : offset+length]).Key
}

// find returns the slot index of key (found=true) or the insertion point
// that keeps slots sorted (found=false).
func (p *Page) find(key []byte, cmp func(a, b []byte) int) (idx int, found bool) {
	n := int(p.cellCount())
	idx = sort.Search(n, func(i int) bool { return cmp(p.keyAt(i), key) >= 0 })
	if idx < n && cmp(p.keyAt(idx), key) == 0 {
		return idx, true
	}
	return idx, false
}

// ByteCompare is the default byte-lexicographic key comparator.
func ByteCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Find looks up a cell by key using the given key comparator. Returns the
// slot index and whether the key was found.
func (p *Page) Find(key []byte, cmp func(a, b []byte) int) (int, bool) {
	if cmp == nil {
		cmp = ByteCompare
	}
	return p.find(key, cmp)
}

// Get decodes the cell stored at slot i.
func (p *Page) Get(i int) (Cell, error) {
	if i < 0 || i >= int(p.cellCount()) {
		return Cell{}, ErrNoSuchSlot
	}
	offset, length := p.slotAt(i)
	return decodeCell(p.buf[offset : offset+length]), nil
}

// liveBytes sums the length of every live cell (i.e. bytes that would
// remain after Compact).
func (p *Page) liveBytes() int {
	total := 0
	for i := 0; i < int(p.cellCount()); i++ {
		_, length := p.slotAt(i)
		total += int(length)
	}
	return total
}

// Insert adds cell, keeping the slot directory sorted by key. Triggers
// Compact if contiguous space is insufficient but total free space
// suffices; fails with ErrOutOfSpace if neither suffices (the B+Tree must
// split), or ErrKeyTooLarge if the cell could never fit even in an empty
// page.
func (p *Page) Insert(cell Cell, cmp func(a, b []byte) int) error {
	if cmp == nil {
		cmp = ByteCompare
	}
	encoded := encodeCell(cell)
	need := len(encoded)

	if need > len(p.buf)-HeaderSize-slotSize {
		return ErrKeyTooLarge
	}

	idx, found := p.find(cell.Key, cmp)
	newDirEnd := p.dirEnd() + slotSize // space for the new slot, if inserting
	if found {
		newDirEnd = p.dirEnd() // replacing: directory doesn't grow
	}

	if int(p.freeOffset())-newDirEnd < need {
		totalFree := int(p.freeOffset()) - p.dirEnd()
		if found {
			_, oldLen := p.slotAt(idx)
			totalFree += int(oldLen)
		}
		if totalFree < need {
			return ErrOutOfSpace
		}
		p.Compact()
		newDirEnd = p.dirEnd()
		if !found {
			newDirEnd += slotSize
		}
		if int(p.freeOffset())-newDirEnd < need {
			return ErrOutOfSpace
		}
	}

	if found {
		// Overwrite in place: free the old cell's heap bytes lazily (left
		// for Compact) and allocate a fresh one.
		newOffset := p.freeOffset() - uint16(need)
		copy(p.buf[newOffset:], encoded)
		p.setFreeOffset(newOffset)
		p.setSlotAt(idx, newOffset, uint16(need))
		return nil
	}

	// Shift slots [idx, count) up by one to make room, then insert.
	count := int(p.cellCount())
	for i := count; i > idx; i-- {
		off, length := p.slotAt(i - 1)
		p.setSlotAt(i, off, length)
	}
	newOffset := p.freeOffset() - uint16(need)
	copy(p.buf[newOffset:], encoded)
	p.setFreeOffset(newOffset)
	p.setSlotAt(idx, newOffset, uint16(need))
	p.setCellCount(uint16(count + 1))
	return nil
}

// Delete removes the cell at slot i. Its heap bytes become reclaimable but
// are not reused until Compact runs.
func (p *Page) Delete(i int) error {
	count := int(p.cellCount())
	if i < 0 || i >= count {
		return ErrNoSuchSlot
	}
	for j := i; j < count-1; j++ {
		off, length := p.slotAt(j + 1)
		p.setSlotAt(j, off, length)
	}
	p.setCellCount(uint16(count - 1))
	return nil
}

// Compact rewrites the heap densely, in slot order, without reordering
// slots.
func (p *Page) Compact() {
	count := int(p.cellCount())
	type rec struct {
		offset, length uint16
	}
	recs := make([]rec, count)
	for i := 0; i < count; i++ {
		off, length := p.slotAt(i)
		recs[i] = rec{off, length}
	}
	scratch := make([][]byte, count)
	for i, r := range recs {
		cp := make([]byte, r.length)
		copy(cp, p.buf[r.offset:r.offset+r.length])
		scratch[i] = cp
	}
	cursor := uint16(len(p.buf))
	for i := count - 1; i >= 0; i-- {
		cursor -= uint16(len(scratch[i]))
		copy(p.buf[cursor:], scratch[i])
		p.setSlotAt(i, cursor, uint16(len(scratch[i])))
	}
	p.setFreeOffset(cursor)
}

// Iter returns every live cell in key order (slots are always kept sorted).
func (p *Page) Iter() []Cell {
	count := int(p.cellCount())
	out := make([]Cell, 0, count)
	for i := 0; i < count; i++ {
		c, _ := p.Get(i)
		out = append(out, c)
	}
	return out
}

// FreeBytes returns the number of bytes available for new cells without
// compaction and the number available after compaction.
func (p *Page) FreeBytes() (contiguous, afterCompact int) {
	contiguous = int(p.freeOffset()) - p.dirEnd()
	afterCompact = len(p.buf) - p.dirEnd() - p.liveBytes()
	return
}
