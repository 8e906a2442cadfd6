// Package buffer implements the buffer pool manager: a fixed array
// of page frames, a free list, a hash-indexed page table, an LRU
// replacer, and the Fetch/Unpin/Flush/New/Delete operations that
// mediate every bit of disk I/O the rest of the storage core performs.
package buffer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ridgedb/ridgedb/internal/storage/hashindex"
	"github.com/ridgedb/ridgedb/internal/storage/page"
	"github.com/ridgedb/ridgedb/internal/storage/replacer"
	"github.com/ridgedb/ridgedb/internal/storage/storageerr"
	"github.com/ridgedb/ridgedb/internal/storage/wal"
)

// DiskManager is the narrow contract the pool consumes; disk.Manager
// satisfies it, and tests substitute a fake.
type DiskManager interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	AllocatePage() (page.ID, error)
	DeallocatePage(id page.ID) error
}

// Metrics receives buffer-pool events; pkg/telemetry implements this
// against real OpenTelemetry instruments. nil is a valid Metrics —
// every method on a nil Metrics is a no-op via noopMetrics below.
type Metrics interface {
	Hit()
	Miss()
	Eviction()
	SetPinnedFrames(n int)
}

type noopMetrics struct{}

func (noopMetrics) Hit()                 {}
func (noopMetrics) Miss()                {}
func (noopMetrics) Eviction()            {}
func (noopMetrics) SetPinnedFrames(int)  {}

// Config configures a Pool.
type Config struct {
	// PoolSize is the fixed number of frames the pool owns.
	PoolSize int `yaml:"pool_size"`
	// BucketSize is the fixed capacity of each extendible-hash bucket
	// backing the page table.
	BucketSize int `yaml:"bucket_size"`
}

// DefaultConfig returns a Config sized for small-scale exercise (a
// handful of frames, small buckets) — callers with production sizing
// needs override it.
func DefaultConfig() Config {
	return Config{PoolSize: 16, BucketSize: 4}
}

// Pool owns pool-level state (page table, free list, replacer) under
// a single mutex, and per-frame read/write latches that protect frame
// bytes during disk I/O. Correct callers acquire a frame's latch
// without holding the pool mutex; this implementation's own disk I/O
// during Fetch/Flush/New holds the pool mutex across it too, matching
// the source's suboptimal-but-simple choice rather than the
// theoretically-better one.
type Pool struct {
	mu sync.Mutex

	disk DiskManager
	log  *wal.Manager // optional; nil disables WAL integration entirely

	logger  *zap.Logger
	metrics Metrics

	frames    []*page.Frame
	pageTable *hashindex.Table[page.ID, int32]
	replacer  *replacer.LRU
	freeList  []int32
}

// New constructs a pool with cfg.PoolSize frames, all initially on
// the free list.
func New(cfg Config, disk DiskManager, log *wal.Manager, logger *zap.Logger, metrics Metrics) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	p := &Pool{
		disk:      disk,
		log:       log,
		logger:    logger,
		metrics:   metrics,
		frames:    make([]*page.Frame, cfg.PoolSize),
		pageTable: hashindex.New[page.ID, int32](cfg.BucketSize, hashindex.DefaultHash[page.ID]),
		replacer:  replacer.New(),
		freeList:  make([]int32, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		p.frames[i] = page.NewFrame()
		p.freeList[i] = int32(i)
	}
	return p
}

// FetchPage pins and returns the frame holding id, reading it from
// disk if it isn't already resident. Returns storageerr.ErrBufferPoolFull
// if no frame is available; index-layer callers turn that into their
// own "all pages are pinned" error.
func (p *Pool) FetchPage(id page.ID) (*page.Frame, error) {
	if id == page.InvalidID {
		return nil, storageerr.ErrInvalidPageID
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameIdx, ok := p.pageTable.Find(id); ok {
		frame := p.frames[frameIdx]
		// The source does not remove an already-resident frame from
		// the replacer when its pin count transitions 0->positive, so
		// a pinned frame could still be chosen as a victim elsewhere.
		// Erase it here instead.
		if frame.PinCount() == 0 {
			p.replacer.Erase(frameIdx)
		}
		frame.Pin()
		p.metrics.Hit()
		p.metrics.SetPinnedFrames(p.countPinnedLocked())
		return frame, nil
	}

	frameIdx, frame, err := p.victimLocked()
	if err != nil {
		return nil, err
	}

	if err := p.evictLocked(frameIdx, frame); err != nil {
		return nil, err
	}

	p.pageTable.Insert(id, frameIdx)
	frame.SetID(id)
	frame.Pin()
	frame.SetDirty(false)

	frame.RLock()
	err = p.disk.ReadPage(id, frame.Data())
	frame.RUnlock()
	if err != nil {
		p.pageTable.Remove(id)
		frame.Reset()
		p.freeList = append(p.freeList, frameIdx)
		return nil, err
	}

	p.metrics.Miss()
	p.metrics.SetPinnedFrames(p.countPinnedLocked())
	p.logger.Debug("buffer fetch miss", zap.Int64("page_id", int64(id)), zap.Int32("frame", frameIdx))
	return frame, nil
}

// victimLocked picks a frame for reuse: free list first, then the
// replacer. Returns storageerr.ErrBufferPoolFull if neither yields one.
func (p *Pool) victimLocked() (int32, *page.Frame, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[0]
		p.freeList = p.freeList[1:]
		return idx, p.frames[idx], nil
	}
	if idx, ok := p.replacer.Victim(); ok {
		frame := p.frames[idx]
		if frame.PinCount() > 0 {
			// Defensive: should not happen under the pin-discipline
			// invariant, but the source guards it explicitly.
			return 0, nil, storageerr.ErrBufferPoolFull
		}
		p.metrics.Eviction()
		return idx, frame, nil
	}
	return 0, nil, storageerr.ErrBufferPoolFull
}

// evictLocked writes back a dirty victim and removes its old page id
// from the page table, readying it for reuse under a new id.
func (p *Pool) evictLocked(frameIdx int32, frame *page.Frame) error {
	oldID := frame.ID()
	if frame.IsDirty() && oldID != page.InvalidID {
		frame.Lock()
		err := p.disk.WritePage(oldID, frame.Data())
		frame.Unlock()
		if err != nil {
			return fmt.Errorf("%w: writing back evicted page %d: %v", storageerr.ErrIO, oldID, err)
		}
	}
	if oldID != page.InvalidID {
		p.pageTable.Remove(oldID)
	}
	return nil
}

// UnpinPage decrements id's pin count and, if it reaches zero, makes
// the frame eligible for eviction again. isDirty is OR'd into the
// frame's dirty flag rather than overwriting it — the source
// overwrites unconditionally, which can clear a previously-set dirty
// flag set by an earlier pinner.
func (p *Pool) UnpinPage(id page.ID, isDirty bool) (bool, error) {
	if id == page.InvalidID {
		return false, storageerr.ErrInvalidPageID
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTable.Find(id)
	if !ok {
		return false, nil
	}
	frame := p.frames[frameIdx]
	if frame.PinCount() <= 0 {
		return false, nil
	}
	frame.Unpin()
	frame.SetDirty(frame.IsDirty() || isDirty)

	if isDirty && p.log != nil {
		lsn, err := p.log.Append(&wal.Record{Type: wal.RecordUpdate, PageID: id, Data: frame.Data()})
		if err != nil {
			p.logger.Warn("wal append failed on unpin", zap.Int64("page_id", int64(id)), zap.Error(err))
		} else {
			frame.SetLSN(lsn)
		}
	}

	if frame.PinCount() == 0 {
		p.replacer.Insert(frameIdx)
	}
	p.metrics.SetPinnedFrames(p.countPinnedLocked())
	return true, nil
}

// FlushPage writes id's current bytes to disk, under the frame's
// write latch, and clears its dirty flag on success. The write happens
// on every call, dirty or not; clearing the flag only keeps
// FlushAllPages and eviction from writing the page back again until it
// is next unpinned dirty.
func (p *Pool) FlushPage(id page.ID) (bool, error) {
	if id == page.InvalidID {
		return false, storageerr.ErrInvalidPageID
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTable.Find(id)
	if !ok {
		return false, nil
	}
	frame := p.frames[frameIdx]

	frame.Lock()
	err := p.disk.WritePage(id, frame.Data())
	frame.Unlock()
	if err != nil {
		return false, fmt.Errorf("%w: flushing page %d: %v", storageerr.ErrIO, id, err)
	}
	frame.SetDirty(false)
	p.logger.Debug("buffer flush", zap.Int64("page_id", int64(id)), zap.Uint64("lsn", uint64(frame.LSN())))
	return true, nil
}

// FlushAllPages writes back every dirty resident frame.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	ids := make([]page.ID, 0, len(p.frames))
	for _, f := range p.frames {
		if f.ID() != page.InvalidID && f.IsDirty() {
			ids = append(ids, f.ID())
		}
	}
	p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if _, err := p.FlushPage(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeletePage removes id from the pool and deallocates it on disk.
// Returns true if id was already absent (already deleted), false if
// it's resident and pinned, or true after a successful delete.
func (p *Pool) DeletePage(id page.ID) (bool, error) {
	if id == page.InvalidID {
		return false, storageerr.ErrInvalidPageID
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTable.Find(id)
	if !ok {
		return true, nil
	}
	frame := p.frames[frameIdx]
	if frame.PinCount() != 0 {
		return false, nil
	}
	p.pageTable.Remove(id)
	p.replacer.Erase(frameIdx) // the source omits this cleanup; a deleted frame must not linger as a victim candidate
	frame.Reset()
	p.freeList = append(p.freeList, frameIdx)
	if err := p.disk.DeallocatePage(id); err != nil {
		return true, fmt.Errorf("%w: deallocating page %d: %v", storageerr.ErrIO, id, err)
	}
	return true, nil
}

// NewPage allocates a fresh page id on disk and pins it into a frame,
// choosing a victim exactly as Fetch does (free list first, then
// replacer). Returns storageerr.ErrBufferPoolFull if none is
// available.
func (p *Pool) NewPage() (*page.Frame, page.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, frame, err := p.victimLocked()
	if err != nil {
		return nil, page.InvalidID, err
	}
	if err := p.evictLocked(frameIdx, frame); err != nil {
		return nil, page.InvalidID, err
	}

	id, err := p.disk.AllocatePage()
	if err != nil {
		p.freeList = append(p.freeList, frameIdx)
		return nil, page.InvalidID, fmt.Errorf("%w: allocating page: %v", storageerr.ErrIO, err)
	}

	p.pageTable.Insert(id, frameIdx)
	frame.Reset()
	frame.SetID(id)
	frame.Pin()
	frame.SetDirty(false)

	if p.log != nil {
		lsn, err := p.log.Append(&wal.Record{Type: wal.RecordNewPage, PageID: id})
		if err != nil {
			p.logger.Warn("wal append failed on new page", zap.Int64("page_id", int64(id)), zap.Error(err))
		} else {
			frame.SetLSN(lsn)
		}
	}

	p.metrics.SetPinnedFrames(p.countPinnedLocked())
	return frame, id, nil
}

func (p *Pool) countPinnedLocked() int {
	n := 0
	for _, f := range p.frames {
		if f.PinCount() > 0 {
			n++
		}
	}
	return n
}
