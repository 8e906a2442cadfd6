// Package hashindex implements a directory-doubling extendible hash
// table, used by the buffer pool as its resident-page lookup
// structure (page id -> frame index) but kept generic over key/value
// types the way the source's template class is.
package hashindex

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashFunc produces a uniform hash for a key. The source casts the
// key directly to an integer and uses its low bits, which clusters
// badly for sequential keys; New takes the hash function as a
// parameter, and the buffer pool's page table uses DefaultHash below
// (for integer-ish keys, without hand-rolling one).
type HashFunc[K comparable] func(K) uint64

// DefaultHash hashes a uint64-backed key (page ids, frame indices) by
// running it through xxhash rather than bit-casting it, so the low
// bits consulted by slotFor are not simply the key's own low bits —
// stable for the table's lifetime and uniform across the directory's
// growth.
func DefaultHash[K ~int64 | ~uint64 | ~int | ~uint32 | ~int32](key K) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return xxhash.Sum64(buf[:])
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// bucket is addressed by pointer identity, which stands in for the
// source's value-copied-bucket comparison: the original rewrites
// every directory slot whose bucket instance equals the bucket being
// split by C++ value equality. Go buckets are reference types here,
// so the equivalent test is "does this directory slot point at the
// same *bucket".
type bucket[K comparable, V any] struct {
	localDepth int
	entries    []entry[K, V]
}

// Table is a fixed-bucket-capacity extendible hash table. All
// directory/bucket mutation is under mu; Find takes a read lock —
// the source leaves Find and HashKey unsynchronized against a
// concurrent Insert that grows the directory, a data race this
// implementation closes.
type Table[K comparable, V any] struct {
	mu             sync.RWMutex
	hash           HashFunc[K]
	bucketCapacity int
	globalDepth    int
	directory      []*bucket[K, V]
}

// New constructs a table with the given fixed bucket capacity and
// hash function.
func New[K comparable, V any](bucketCapacity int, hash HashFunc[K]) *Table[K, V] {
	return &Table[K, V]{
		hash:           hash,
		bucketCapacity: bucketCapacity,
		globalDepth:    0,
		directory:      []*bucket[K, V]{{localDepth: 0}},
	}
}

func (t *Table[K, V]) slotFor(key K) int {
	mask := uint64(1)<<uint(t.globalDepth) - 1
	return int(t.hash(key) & mask)
}

// Find locates the value for key, linear-scanning its bucket. Takes
// the table's read lock, closing the source's unsynchronized-read bug.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.directory[t.slotFor(key)]
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Remove deletes key's entry if present. Shrinking the directory or
// merging buckets on removal is explicitly not required.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.directory[t.slotFor(key)]
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Insert adds key/value, splitting and/or doubling the directory as
// needed. The source recurses into itself after releasing the lock
// once the split/double is done; recursing here would grow the Go
// stack under pathological collision patterns, so this loops instead,
// retrying the single-pass attempt until it lands in a bucket with
// room — same retry semantics, stack-safe.
func (t *Table[K, V]) Insert(key K, value V) {
	for {
		if t.insertAttempt(key, value) {
			return
		}
	}
}

// insertAttempt performs one pass: try to place the entry, growing
// the directory or splitting the target bucket if it's full, then
// report whether the entry was placed.
func (t *Table[K, V]) insertAttempt(key K, value V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.slotFor(key)
	b := t.directory[slot]

	if len(b.entries) < t.bucketCapacity {
		b.entries = append(b.entries, entry[K, V]{key: key, value: value})
		return true
	}

	if b.localDepth == t.globalDepth {
		t.doubleDirectory()
		return false
	}

	t.splitBucket(slot, b)
	return false
}

// doubleDirectory copies the first 2^globalDepth slots to the newly
// created second half and increments globalDepth.
func (t *Table[K, V]) doubleDirectory() {
	n := len(t.directory)
	grown := make([]*bucket[K, V], n*2)
	copy(grown, t.directory)
	copy(grown[n:], t.directory)
	t.directory = grown
	t.globalDepth++
}

// splitBucket replaces every directory slot pointing at b with one of
// two fresh buckets at localDepth+1, redistributing b's entries by
// the localDepth-th bit of each key's hash — it examines bit
// `b.localDepth` of the full hash, not of the truncated slot index.
func (t *Table[K, V]) splitBucket(slot int, b *bucket[K, V]) {
	newDepth := b.localDepth + 1
	b1 := &bucket[K, V]{localDepth: newDepth}
	b2 := &bucket[K, V]{localDepth: newDepth}

	for _, e := range b.entries {
		h := t.hash(e.key)
		if (h>>uint(b.localDepth))&1 == 1 {
			b1.entries = append(b1.entries, e)
		} else {
			b2.entries = append(b2.entries, e)
		}
	}

	for i := range t.directory {
		if t.directory[i] != b {
			continue
		}
		if (uint64(i)>>uint(b.localDepth))&1 == 1 {
			t.directory[i] = b1
		} else {
			t.directory[i] = b2
		}
	}
}

// GlobalDepth returns the current number of directory bits in use.
func (t *Table[K, V]) GlobalDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket the directory slot
// at index points to.
func (t *Table[K, V]) LocalDepth(slot int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.directory[slot].localDepth
}

// NumBuckets returns 2^globalDepth, the directory size.
func (t *Table[K, V]) NumBuckets() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.directory)
}
