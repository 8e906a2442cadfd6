// Package replacer implements the victim-selection policy the buffer
// pool consults once its free list is exhausted.
package replacer

import (
	"container/list"
	"sync"
)

// LRU is a FIFO-from-head set of replacement candidates: the next
// victim is whichever frame id has spent the longest time as an
// unpinned candidate. Re-inserting a value already present refreshes
// its position to the tail, same as the source it's grounded on.
type LRU struct {
	mu   sync.Mutex
	list *list.List
	node map[int32]*list.Element
}

// New constructs an empty replacer.
func New() *LRU {
	return &LRU{
		list: list.New(),
		node: make(map[int32]*list.Element),
	}
}

// Insert adds frameID as a victim candidate, moving it to the tail
// (most-recently-inserted) if it was already a candidate.
//
// The source implementation released its mutex between erasing the
// old entry and re-acquiring it to append the new one, a TOCTOU
// window under concurrent Insert/Victim; this version holds the lock
// across the whole operation instead.
func (r *LRU) Insert(frameID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if elem, ok := r.node[frameID]; ok {
		r.list.Remove(elem)
		delete(r.node, frameID)
	}
	r.node[frameID] = r.list.PushBack(frameID)
}

// Victim pops the head (least-recently-inserted) candidate. Returns
// false if the replacer holds no candidates.
func (r *LRU) Victim() (int32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	front := r.list.Front()
	if front == nil {
		return 0, false
	}
	frameID := front.Value.(int32)
	r.list.Remove(front)
	delete(r.node, frameID)
	return frameID, true
}

// Erase removes frameID from the candidate set if present, returning
// whether it was found. Used by the buffer pool when a resident
// frame's pin count transitions 0→positive, so it can no longer be
// chosen as a victim while pinned.
func (r *LRU) Erase(frameID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	elem, ok := r.node[frameID]
	if !ok {
		return false
	}
	r.list.Remove(elem)
	delete(r.node, frameID)
	return true
}

// Size returns the current candidate count.
func (r *LRU) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list.Len()
}
