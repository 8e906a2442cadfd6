package replacer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU_FIFOOrder(t *testing.T) {
	r := New()
	r.Insert(1) // A
	r.Insert(2) // B
	r.Insert(3) // C

	v, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, int32(1), v)

	v, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, int32(2), v)

	r.Insert(2) // B re-inserted, refreshes to tail
	v, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, int32(3), v)

	v, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, int32(2), v)

	_, ok = r.Victim()
	require.False(t, ok)
}

func TestLRU_EraseRemovesCandidate(t *testing.T) {
	r := New()
	r.Insert(1)
	r.Insert(2)

	require.True(t, r.Erase(1))
	require.False(t, r.Erase(1))

	v, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, int32(2), v)
}

func TestLRU_SizeTracksCandidates(t *testing.T) {
	r := New()
	require.Equal(t, 0, r.Size())
	r.Insert(1)
	r.Insert(2)
	require.Equal(t, 2, r.Size())
	r.Erase(1)
	require.Equal(t, 1, r.Size())
	r.Victim()
	require.Equal(t, 0, r.Size())
}

func TestLRU_ConcurrentInsertVictimNoTOCTOU(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := int32(0); i < 100; i++ {
		wg.Add(1)
		go func(id int32) {
			defer wg.Done()
			r.Insert(id)
			r.Insert(id)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 100, r.Size())
}
