package hashindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// identityHash keeps the directory math observable/predictable in
// tests, the way the source's bit-cast hash did, while production
// code uses DefaultHash for real uniformity across collision-prone
// key sequences.
func identityHash(k int) uint64 { return uint64(k) }

func TestTable_SplitsAndDoublesDirectory(t *testing.T) {
	tbl := New[int, string](2, identityHash)

	want := make(map[int]string)
	for i := 0; i < 8; i++ {
		v := "v" + string(rune('0'+i))
		want[i] = v
		tbl.Insert(i, v)
	}

	require.Equal(t, 2, tbl.GlobalDepth())
	require.Equal(t, 4, tbl.NumBuckets())

	for k, v := range want {
		got, ok := tbl.Find(k)
		require.True(t, ok, "key %d", k)
		require.Equal(t, v, got)
	}
}

func TestTable_RemoveThenFindMisses(t *testing.T) {
	tbl := New[int, string](2, identityHash)
	tbl.Insert(5, "five")

	v, ok := tbl.Find(5)
	require.True(t, ok)
	require.Equal(t, "five", v)

	require.True(t, tbl.Remove(5))
	_, ok = tbl.Find(5)
	require.False(t, ok)
	require.False(t, tbl.Remove(5))
}

func TestTable_LocalDepthNeverExceedsGlobalDepth(t *testing.T) {
	tbl := New[int, string](2, identityHash)
	for i := 0; i < 16; i++ {
		tbl.Insert(i, "x")
	}
	for slot := 0; slot < tbl.NumBuckets(); slot++ {
		require.LessOrEqual(t, tbl.LocalDepth(slot), tbl.GlobalDepth())
	}
}

func TestTable_InsertRemoveRepeatedKeepsNumBucketsMonotone(t *testing.T) {
	tbl := New[int, int](2, identityHash)
	prev := tbl.NumBuckets()
	for round := 0; round < 5; round++ {
		for i := 0; i < 8; i++ {
			tbl.Insert(round*8+i, i)
		}
		require.GreaterOrEqual(t, tbl.NumBuckets(), prev)
		prev = tbl.NumBuckets()
		for i := 0; i < 8; i++ {
			tbl.Remove(round*8 + i)
		}
		require.GreaterOrEqual(t, tbl.NumBuckets(), prev)
		prev = tbl.NumBuckets()
	}
}

func TestDefaultHash_StableAcrossCalls(t *testing.T) {
	require.Equal(t, DefaultHash(int64(42)), DefaultHash(int64(42)))
	require.NotEqual(t, DefaultHash(int64(42)), DefaultHash(int64(43)))
}
