package bplustree

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ridgedb/ridgedb/internal/storage/buffer"
	"github.com/ridgedb/ridgedb/internal/storage/page"
)

type fakeDisk struct {
	pages  map[page.ID][]byte
	nextID int64
}

func newFakeDisk() *fakeDisk { return &fakeDisk{pages: make(map[page.ID][]byte)} }

func (d *fakeDisk) ReadPage(id page.ID, buf []byte) error {
	data, ok := d.pages[id]
	if !ok {
		data = make([]byte, page.Size)
	}
	copy(buf, data)
	return nil
}

func (d *fakeDisk) WritePage(id page.ID, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	d.pages[id] = cp
	return nil
}

func (d *fakeDisk) AllocatePage() (page.ID, error) {
	id := page.ID(d.nextID)
	d.nextID++
	return id, nil
}

func (d *fakeDisk) DeallocatePage(id page.ID) error { return nil }

func keyOf(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

func newPool(t *testing.T, poolSize int) *buffer.Pool {
	t.Helper()
	return buffer.New(buffer.Config{PoolSize: poolSize, BucketSize: 4}, newFakeDisk(), nil, nil, nil)
}

func newInternal(t *testing.T, pool *buffer.Pool, parent page.ID) *InternalPage {
	t.Helper()
	frame, id, err := pool.NewPage()
	require.NoError(t, err)
	ip := Wrap(frame, 8, nil)
	ip.Init(id, parent)
	return ip
}

// TestInternalPage_LookupTieBreaksRight checks the binary search over
// keys [_,10,20,30] with children [c0,c1,c2,c3]: equal keys resolve
// to the child on the right of the separator.
func TestInternalPage_LookupTieBreaksRight(t *testing.T) {
	pool := newPool(t, 8)
	root := newInternal(t, pool, page.InvalidID)

	c0, c1, c2, c3 := page.ID(100), page.ID(101), page.ID(102), page.ID(103)
	root.PopulateNewRoot(c0, keyOf(10), c1)
	root.InsertNodeAfter(c1, keyOf(20), c2)
	root.InsertNodeAfter(c2, keyOf(30), c3)

	require.Equal(t, c1, root.Lookup(keyOf(10)))
	require.Equal(t, c1, root.Lookup(keyOf(15)))
	require.Equal(t, c2, root.Lookup(keyOf(20)))
	require.Equal(t, c3, root.Lookup(keyOf(35)))
	require.Equal(t, c0, root.Lookup(keyOf(5)))
}

func TestInternalPage_InsertNodeAfterShiftsTail(t *testing.T) {
	pool := newPool(t, 8)
	p := newInternal(t, pool, page.InvalidID)

	p.PopulateNewRoot(page.ID(1), keyOf(10), page.ID(2))
	p.InsertNodeAfter(page.ID(2), keyOf(30), page.ID(4))
	newSize := p.InsertNodeAfter(page.ID(2), keyOf(20), page.ID(3))

	require.Equal(t, 4, newSize)
	require.Equal(t, page.ID(1), p.ValueAt(0))
	require.Equal(t, page.ID(2), p.ValueAt(1))
	require.Equal(t, page.ID(3), p.ValueAt(2))
	require.Equal(t, page.ID(4), p.ValueAt(3))
	require.Equal(t, keyOf(20), p.KeyAt(2))
	require.Equal(t, keyOf(30), p.KeyAt(3))
}

func TestInternalPage_RemoveShiftsWithoutOverrun(t *testing.T) {
	pool := newPool(t, 8)
	p := newInternal(t, pool, page.InvalidID)

	p.PopulateNewRoot(page.ID(1), keyOf(10), page.ID(2))
	p.InsertNodeAfter(page.ID(2), keyOf(20), page.ID(3))
	p.InsertNodeAfter(page.ID(3), keyOf(30), page.ID(4))
	require.Equal(t, 4, p.Size())

	p.Remove(1)
	require.Equal(t, 3, p.Size())
	require.Equal(t, page.ID(1), p.ValueAt(0))
	require.Equal(t, page.ID(3), p.ValueAt(1))
	require.Equal(t, page.ID(4), p.ValueAt(2))
	require.Equal(t, keyOf(20), p.KeyAt(1))
	require.Equal(t, keyOf(30), p.KeyAt(2))
}

func TestInternalPage_RemoveAndReturnOnlyChild(t *testing.T) {
	pool := newPool(t, 8)
	p := newInternal(t, pool, page.InvalidID)
	p.setValueAt(0, page.ID(42))

	v := p.RemoveAndReturnOnlyChild()
	require.Equal(t, page.ID(42), v)
	require.Equal(t, Invalid, p.PageType())
}

func TestInternalPage_MoveHalfToReparentsMovedChildren(t *testing.T) {
	pool := newPool(t, 8)
	left := newInternal(t, pool, page.InvalidID)

	c1f, c1, err := pool.NewPage()
	require.NoError(t, err)
	_ = Wrap(c1f, 8, nil)
	_, err = pool.UnpinPage(c1, false)
	require.NoError(t, err)

	left.PopulateNewRoot(page.ID(900), keyOf(10), c1)

	c2f, c2, err := pool.NewPage()
	require.NoError(t, err)
	_ = Wrap(c2f, 8, nil)
	_, err = pool.UnpinPage(c2, false)
	require.NoError(t, err)
	left.InsertNodeAfter(c1, keyOf(20), c2)

	right := newInternal(t, pool, page.InvalidID)

	require.NoError(t, left.MoveHalfTo(right, pool))

	require.Equal(t, 1, left.Size())
	require.Equal(t, 2, right.Size())
	require.Equal(t, c1, right.ValueAt(0))
	require.Equal(t, c2, right.ValueAt(1))

	childFrame, err := pool.FetchPage(c1)
	require.NoError(t, err)
	require.Equal(t, right.PageID(), Wrap(childFrame, 8, nil).ParentID())
	_, err = pool.UnpinPage(c1, false)
	require.NoError(t, err)

	childFrame2, err := pool.FetchPage(c2)
	require.NoError(t, err)
	require.Equal(t, right.PageID(), Wrap(childFrame2, 8, nil).ParentID())
	_, err = pool.UnpinPage(c2, false)
	require.NoError(t, err)
}

func TestInternalPage_MoveAllToReparentsToRecipientNotIndex(t *testing.T) {
	pool := newPool(t, 16)

	parent := newInternal(t, pool, page.InvalidID)
	left := newInternal(t, pool, parent.PageID())
	right := newInternal(t, pool, parent.PageID())

	childFrame, childID, err := pool.NewPage()
	require.NoError(t, err)
	Wrap(childFrame, 8, nil).SetParentID(left.PageID())
	_, err = pool.UnpinPage(childID, true)
	require.NoError(t, err)

	left.setValueAt(0, childID)

	parent.PopulateNewRoot(left.PageID(), keyOf(50), right.PageID())
	left.SetParentID(parent.PageID())
	right.SetParentID(parent.PageID())

	indexInParent := parent.ValueIndex(left.PageID())
	require.NoError(t, left.MoveAllTo(right, indexInParent, pool))

	require.Equal(t, 1, parent.Size())
	require.Equal(t, 2, right.Size())

	childFrame2, err := pool.FetchPage(childID)
	require.NoError(t, err)
	gotParent := Wrap(childFrame2, 8, nil).ParentID()
	_, err = pool.UnpinPage(childID, false)
	require.NoError(t, err)

	require.Equal(t, right.PageID(), gotParent, "moved child must be reparented to the recipient's page id, not the parent slot index")
	require.NotEqual(t, page.ID(indexInParent), gotParent)
}

func TestInternalPage_ValueIndexFindsChild(t *testing.T) {
	pool := newPool(t, 8)
	p := newInternal(t, pool, page.InvalidID)
	p.PopulateNewRoot(page.ID(7), keyOf(10), page.ID(8))

	require.Equal(t, 0, p.ValueIndex(page.ID(7)))
	require.Equal(t, 1, p.ValueIndex(page.ID(8)))
	require.Equal(t, -1, p.ValueIndex(page.ID(99)))
}

func TestInternalPage_ChecksumDetectsCorruption(t *testing.T) {
	pool := newPool(t, 8)
	p := newInternal(t, pool, page.InvalidID)
	p.PopulateNewRoot(page.ID(1), keyOf(10), page.ID(2))
	p.WriteChecksum()
	require.True(t, p.VerifyChecksum())

	p.SetKeyAt(1, keyOf(999))
	require.False(t, p.VerifyChecksum())
}
