// Package bplustree implements the internal-node page layer of a
// B+Tree index: an in-place byte layout over a buffer-pool frame
// providing the ordered key/child-id array and the split, merge, and
// redistribute primitives that keep the tree's invariants — including
// parent back-links — intact. The leaf page layer and the B+Tree
// driver that orchestrates search/insert/delete across pages are
// external collaborators, out of this package's scope.
package bplustree

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/ridgedb/ridgedb/internal/storage/page"
	"github.com/ridgedb/ridgedb/internal/storage/storageerr"
)

// Type discriminates what a page's bytes currently hold. Internal
// pages transition to Invalid only when RemoveAndReturnOnlyChild
// collapses the root.
type Type uint8

const (
	Invalid  Type = 0
	Internal Type = 1
)

// Comparator orders two fixed-width keys lexicographically by
// default (bytes.Compare already is lexicographic); callers may
// supply a different one for key types that aren't plain byte
// sequences, same latitude each fixed key width gets its own
// associated comparator.
type Comparator func(a, b []byte) int

// DefaultComparator is lexicographic byte comparison, the default for
// every supported fixed key width (4, 8, 16, 32, 64 bytes).
func DefaultComparator(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
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

const (
	offType     = 0
	offPageID   = offType + 1
	offParentID = offPageID + 8
	offSize     = offParentID + 8
	offMaxSize  = offSize + 4
	offKeyWidth = offMaxSize + 4
	headerSize  = offKeyWidth + 2
	checksumLen = 4
)

// Pool is the narrow slice of buffer.Pool this package needs to fetch
// and unpin child/parent pages during split, merge, and redistribute.
// buffer.Pool satisfies this directly.
type Pool interface {
	FetchPage(id page.ID) (*page.Frame, error)
	UnpinPage(id page.ID, isDirty bool) (bool, error)
}

// InternalPage is a typed view over a frame's bytes. It holds no
// state of its own besides the frame it wraps, the fixed key width,
// and the comparator — every read/write goes straight through to
// frame.Data(), the same in-place layout the source's
// reinterpret_cast gives it, expressed here as an explicit view
// instead of a type pun.
type InternalPage struct {
	frame    *page.Frame
	keyWidth int
	cmp      Comparator
}

// Wrap constructs a view over an already-populated page (one that's
// been through Init, or read from disk).
func Wrap(frame *page.Frame, keyWidth int, cmp Comparator) *InternalPage {
	if cmp == nil {
		cmp = DefaultComparator
	}
	return &InternalPage{frame: frame, keyWidth: keyWidth, cmp: cmp}
}

func (p *InternalPage) mappingSize() int { return p.keyWidth + 8 }

func (p *InternalPage) data() []byte { return p.frame.Data() }

// Init writes a fresh header: type Internal, size 1 (slot 0 holds
// only a child id, no key yet — an internal page with k keys has
// size k+1), the given parent, and a maximum size derived from the
// page's available bytes and this page's mapping size.
func (p *InternalPage) Init(id, parentID page.ID) {
	d := p.data()
	d[offType] = byte(Internal)
	binary.LittleEndian.PutUint64(d[offPageID:], uint64(id))
	binary.LittleEndian.PutUint64(d[offParentID:], uint64(parentID))
	binary.LittleEndian.PutUint32(d[offSize:], 1)
	binary.LittleEndian.PutUint16(d[offKeyWidth:], uint16(p.keyWidth))
	maxSize := (page.Size - headerSize - checksumLen) / p.mappingSize()
	binary.LittleEndian.PutUint32(d[offMaxSize:], uint32(maxSize))
}

func (p *InternalPage) PageType() Type { return Type(p.data()[offType]) }

func (p *InternalPage) setPageType(t Type) { p.data()[offType] = byte(t) }

func (p *InternalPage) PageID() page.ID {
	return page.ID(binary.LittleEndian.Uint64(p.data()[offPageID:]))
}

func (p *InternalPage) ParentID() page.ID {
	return page.ID(binary.LittleEndian.Uint64(p.data()[offParentID:]))
}

func (p *InternalPage) SetParentID(id page.ID) {
	binary.LittleEndian.PutUint64(p.data()[offParentID:], uint64(id))
}

func (p *InternalPage) Size() int {
	return int(binary.LittleEndian.Uint32(p.data()[offSize:]))
}

func (p *InternalPage) setSize(n int) {
	binary.LittleEndian.PutUint32(p.data()[offSize:], uint32(n))
}

// MaxSize is the maximum number of (key, child-id) mappings this page
// can hold, derived at Init time from the page's byte budget.
func (p *InternalPage) MaxSize() int {
	return int(binary.LittleEndian.Uint32(p.data()[offMaxSize:]))
}

// MinSize is the minimum occupancy a non-root internal page must
// maintain. The root is exempt from this floor — that exemption is
// enforced by the B+Tree driver, out of scope here; this is just the
// accessor it would consult.
func (p *InternalPage) MinSize() int {
	return (p.MaxSize() + 1) / 2
}

func (p *InternalPage) slotOffset(index int) int {
	return headerSize + index*p.mappingSize()
}

// KeyAt returns the key at index. Slot 0's key is invalid by
// convention and is never read through normal traversal; callers
// that do anyway get back whatever keyWidth bytes the slot holds —
// zeros on a page Init'd over a zeroed frame, or a key left there by
// MoveHalfTo, MoveAllTo, MoveFirstToEndOf or MoveLastToFrontOf.
func (p *InternalPage) KeyAt(index int) []byte {
	p.assertIndex(index)
	off := p.slotOffset(index)
	return p.data()[off : off+p.keyWidth]
}

func (p *InternalPage) SetKeyAt(index int, key []byte) {
	p.assertIndex(index)
	p.setKeyAt(index, key)
}

// setKeyAt writes a key without bounds-checking against the current
// Size(). Every mutation that grows the page (inserting, splitting,
// merging) writes a new slot's key before bumping Size() to cover it,
// so it goes through this instead of the public, bounds-asserted
// SetKeyAt.
func (p *InternalPage) setKeyAt(index int, key []byte) {
	off := p.slotOffset(index)
	copy(p.data()[off:off+p.keyWidth], key)
}

func (p *InternalPage) ValueAt(index int) page.ID {
	p.assertIndex(index)
	off := p.slotOffset(index) + p.keyWidth
	return page.ID(binary.LittleEndian.Uint64(p.data()[off:]))
}

func (p *InternalPage) setValueAt(index int, v page.ID) {
	off := p.slotOffset(index) + p.keyWidth
	binary.LittleEndian.PutUint64(p.data()[off:], uint64(v))
}

func (p *InternalPage) assertIndex(index int) {
	if index < 0 || index >= p.Size() {
		panic(fmt.Sprintf("bplustree: index %d out of range [0,%d)", index, p.Size()))
	}
}

// ValueIndex returns the first slot whose child equals value, or -1.
func (p *InternalPage) ValueIndex(value page.ID) int {
	for i := 0; i < p.Size(); i++ {
		if p.ValueAt(i) == value {
			return i
		}
	}
	return -1
}

// Lookup returns the child that covers key: a binary search over
// slots [1, size-1] using comparator(array[mid], key) <= 0 to move
// the left cursor, so that equal keys tie-break to the right (≥ the
// separator key).
func (p *InternalPage) Lookup(key []byte) page.ID {
	if p.Size() <= 1 {
		panic("bplustree: Lookup requires size > 1")
	}
	l, r := 1, p.Size()-1
	for l <= r {
		mid := (l + r) / 2
		if p.cmp(p.KeyAt(mid), key) <= 0 {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return p.ValueAt(r)
}

// PopulateNewRoot sets up a freshly created root page after the tree
// grows in height: slot 0 holds oldValue, slot 1 holds the new
// separator and its child.
func (p *InternalPage) PopulateNewRoot(oldValue page.ID, newKey []byte, newValue page.ID) {
	if p.Size() != 1 {
		panic("bplustree: PopulateNewRoot requires size == 1")
	}
	p.setValueAt(0, oldValue)
	p.setKeyAt(1, newKey)
	p.setValueAt(1, newValue)
	p.setSize(2)
}

// InsertNodeAfter inserts (newKey, newValue) immediately after the
// mapping whose child is oldValue, shifting later mappings right by
// one slot, and returns the new size.
func (p *InternalPage) InsertNodeAfter(oldValue page.ID, newKey []byte, newValue page.ID) int {
	index := p.ValueIndex(oldValue)
	for i := p.Size() - 1; i > index; i-- {
		p.copySlot(i, i+1)
	}
	p.setKeyAt(index+1, newKey)
	p.setValueAt(index+1, newValue)
	p.setSize(p.Size() + 1)
	return p.Size()
}

func (p *InternalPage) copySlot(dst, src int) {
	srcOff, dstOff := p.slotOffset(src), p.slotOffset(dst)
	copy(p.data()[dstOff:dstOff+p.mappingSize()], p.data()[srcOff:srcOff+p.mappingSize()])
}

// MoveHalfTo moves the last ceil(size/2) mappings to recipient's
// prefix, reparenting each moved child to recipient via the buffer
// pool. Every FetchPage failure here means every frame is pinned and
// is surfaced to the caller as an index error.
func (p *InternalPage) MoveHalfTo(recipient *InternalPage, pool Pool) error {
	moveCount := (p.Size() + 1) / 2
	start := p.Size() - moveCount

	recipient.copyRangeFromAsNewContents(p, start, moveCount)

	for i := start; i < p.Size(); i++ {
		if err := p.reparentChild(p.ValueAt(i), recipient.PageID(), pool); err != nil {
			return err
		}
	}
	p.setSize(p.Size() - moveCount)
	return nil
}

// copyRangeFromAsNewContents overwrites this page's entire contents
// with count mappings read from src starting at srcStart — the Go
// equivalent of the source's CopyHalfFrom, which always receives a
// freshly Init'd (size==1, empty) recipient.
func (p *InternalPage) copyRangeFromAsNewContents(src *InternalPage, srcStart, count int) {
	for i := 0; i < count; i++ {
		p.setKeyAt(i, src.KeyAt(srcStart+i))
		p.setValueAt(i, src.ValueAt(srcStart+i))
	}
	p.setSize(count)
}

func (p *InternalPage) reparentChild(childID, newParentID page.ID, pool Pool) error {
	childFrame, err := pool.FetchPage(childID)
	if err != nil {
		return storageerr.NewIndexError("MoveHalfTo/MoveAllTo reparent", uint64(childID))
	}
	Wrap(childFrame, p.keyWidth, p.cmp).SetParentID(newParentID)
	_, _ = pool.UnpinPage(childID, true)
	return nil
}

// Remove deletes the mapping at index, shifting everything after it
// left by one slot. The source shifts starting one slot too far right
// and reads past the valid range (array[size]); this copies slot i+1
// into slot i for i in [index, size-2], staying within bounds.
func (p *InternalPage) Remove(index int) {
	p.assertIndex(index)
	for i := index; i < p.Size()-1; i++ {
		p.copySlot(i, i+1)
	}
	p.setSize(p.Size() - 1)
}

// RemoveAndReturnOnlyChild collapses a root down to its only
// remaining child, marking the page Invalid so it can be freed.
func (p *InternalPage) RemoveAndReturnOnlyChild() page.ID {
	if p.Size() != 1 {
		panic("bplustree: RemoveAndReturnOnlyChild requires size == 1")
	}
	v := p.ValueAt(0)
	p.setPageType(Invalid)
	p.setSize(1)
	return v
}

// MoveAllTo merges this page into recipient during a collapse: it
// reifies the parent's separator key at indexInParent into this
// page's slot 0, removes that entry from the parent, appends all of
// this page's mappings to recipient, and reparents every moved child
// to recipient. The source reparents each moved child to
// indexInParent (an int slot index) instead of recipient's page id;
// this sets it to recipient.PageID() instead.
func (p *InternalPage) MoveAllTo(recipient *InternalPage, indexInParent int, pool Pool) error {
	parentFrame, err := pool.FetchPage(p.ParentID())
	if err != nil {
		return storageerr.NewIndexError("MoveAllTo fetch parent", uint64(p.ParentID()))
	}
	parent := Wrap(parentFrame, p.keyWidth, p.cmp)
	p.SetKeyAt(0, parent.KeyAt(indexInParent))
	parent.Remove(indexInParent)
	if _, err := pool.UnpinPage(p.ParentID(), true); err != nil {
		return fmt.Errorf("unpinning parent %d: %w", p.ParentID(), err)
	}

	base := recipient.Size()
	for i := 0; i < p.Size(); i++ {
		recipient.setKeyAt(base+i, p.KeyAt(i))
		recipient.setValueAt(base+i, p.ValueAt(i))
	}
	recipient.setSize(base + p.Size())

	for i := 0; i < p.Size(); i++ {
		if err := p.reparentChild(p.ValueAt(i), recipient.PageID(), pool); err != nil {
			return err
		}
	}
	p.setSize(1)
	return nil
}

// MoveFirstToEndOf redistributes: this page's leftmost mapping moves
// to the tail of recipient (its left cousin), and the parent's
// separator for this page is refreshed to the new leftmost key.
func (p *InternalPage) MoveFirstToEndOf(recipient *InternalPage, pool Pool) error {
	parentFrame, err := pool.FetchPage(p.ParentID())
	if err != nil {
		return storageerr.NewIndexError("MoveFirstToEndOf fetch parent", uint64(p.ParentID()))
	}
	parent := Wrap(parentFrame, p.keyWidth, p.cmp)
	idx := parent.ValueIndex(p.PageID())
	p.SetKeyAt(0, parent.KeyAt(idx))
	parent.SetKeyAt(idx, p.KeyAt(1))
	if _, err := pool.UnpinPage(p.ParentID(), true); err != nil {
		return fmt.Errorf("unpinning parent %d: %w", p.ParentID(), err)
	}

	movedKey, movedValue := append([]byte(nil), p.KeyAt(0)...), p.ValueAt(0)
	recipient.appendMapping(movedKey, movedValue)
	if err := p.reparentChild(movedValue, recipient.PageID(), pool); err != nil {
		return err
	}

	for i := 1; i < p.Size(); i++ {
		p.copySlot(i-1, i)
	}
	p.setSize(p.Size() - 1)
	return nil
}

// MoveLastToFrontOf redistributes the symmetric way: this page's
// rightmost mapping moves to the head of recipient (its right
// cousin), and the parent's key at parentIndex is set to the moved
// mapping's key.
func (p *InternalPage) MoveLastToFrontOf(recipient *InternalPage, parentIndex int, pool Pool) error {
	parentFrame, err := pool.FetchPage(p.ParentID())
	if err != nil {
		return storageerr.NewIndexError("MoveLastToFrontOf fetch parent", uint64(p.ParentID()))
	}
	parent := Wrap(parentFrame, p.keyWidth, p.cmp)
	last := p.Size() - 1
	parent.SetKeyAt(parentIndex, p.KeyAt(last))
	if _, err := pool.UnpinPage(p.ParentID(), true); err != nil {
		return fmt.Errorf("unpinning parent %d: %w", p.ParentID(), err)
	}

	movedKey, movedValue := append([]byte(nil), p.KeyAt(last)...), p.ValueAt(last)
	recipient.prependMapping(movedKey, movedValue)
	if err := p.reparentChild(movedValue, recipient.PageID(), pool); err != nil {
		return err
	}
	p.setSize(p.Size() - 1)
	return nil
}

func (p *InternalPage) appendMapping(key []byte, value page.ID) {
	i := p.Size()
	p.setKeyAt(i, key)
	p.setValueAt(i, value)
	p.setSize(i + 1)
}

func (p *InternalPage) prependMapping(key []byte, value page.ID) {
	for i := p.Size(); i > 0; i-- {
		p.copySlot(i, i-1)
	}
	p.setKeyAt(0, key)
	p.setValueAt(0, value)
	p.setSize(p.Size() + 1)
}

// Checksum computes the CRC32 of every byte except the trailing
// checksum field itself, following the page-layout convention
// node.go uses for leaf/node serialization elsewhere in the corpus.
func (p *InternalPage) Checksum() uint32 {
	return crc32.ChecksumIEEE(p.data()[:page.Size-checksumLen])
}

// WriteChecksum stamps the trailing checksum field. Callers that
// persist a page across a flush call this immediately before
// unpinning it dirty.
func (p *InternalPage) WriteChecksum() {
	binary.LittleEndian.PutUint32(p.data()[page.Size-checksumLen:], p.Checksum())
}

// VerifyChecksum reports whether the trailing checksum field matches
// the page's current contents.
func (p *InternalPage) VerifyChecksum() bool {
	stored := binary.LittleEndian.Uint32(p.data()[page.Size-checksumLen:])
	return stored == p.Checksum()
}
