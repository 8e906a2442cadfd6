// Package disk is the concrete disk manager the buffer pool talks to
// through a fixed four-call contract: ReadPage, WritePage,
// AllocatePage, DeallocatePage. It is an external collaborator to the
// storage core proper, but the core needs a real implementation to
// run end to end, so this package provides one.
package disk

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ridgedb/ridgedb/internal/storage/page"
	"github.com/ridgedb/ridgedb/internal/storage/storageerr"
)

const (
	magic         uint32 = 0x72696467 // "ridg"
	headerVersion uint32 = 1
	headerSize           = page.Size // header occupies page slot 0
)

// Config configures a Manager. WriteBytesPerSec, when positive,
// throttles WritePage through a token bucket so a burst of dirty
// evictions can't saturate the disk — a concern the buffer pool
// itself has no visibility into and so belongs down here.
type Config struct {
	Path             string `yaml:"path"`
	WriteBytesPerSec int    `yaml:"write_bytes_per_sec"`
}

// DefaultConfig returns a Config with throttling disabled.
func DefaultConfig(path string) Config {
	return Config{Path: path, WriteBytesPerSec: 0}
}

// Manager owns a single backing file, laid out as a fixed-size header
// at page slot 0 followed by PageSize-byte pages allocated
// monotonically. It is the only component in this repo that performs
// raw file I/O.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	numPages int64 // highest allocated page id + 1, including the header slot

	limiter *rate.Limiter
}

// Open creates the backing file if absent, or opens and validates an
// existing one.
func Open(cfg Config) (*Manager, error) {
	var limiter *rate.Limiter
	if cfg.WriteBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WriteBytesPerSec), page.Size)
	}

	m := &Manager{limiter: limiter}

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", storageerr.ErrIO, cfg.Path, err)
		}
		m.file = f
		if err := m.writeHeader(); err != nil {
			f.Close()
			os.Remove(cfg.Path)
			return nil, err
		}
		m.numPages = 1
		return m, nil
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", storageerr.ErrIO, cfg.Path, err)
	}
	m.file = f
	if err := m.readAndValidateHeader(); err != nil {
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", storageerr.ErrIO, cfg.Path, err)
	}
	m.numPages = fi.Size() / page.Size
	return m, nil
}

func (m *Manager) writeHeader() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	if _, err := m.file.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("%w: writing header: %v", storageerr.ErrIO, err)
	}
	return m.file.Sync()
}

func (m *Manager) readAndValidateHeader() error {
	var buf [headerSize]byte
	if _, err := m.file.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("%w: reading header: %v", storageerr.ErrIO, err)
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != magic {
		return fmt.Errorf("%w: bad magic 0x%x", storageerr.ErrInvalidPageData, got)
	}
	return nil
}

func (m *Manager) offset(id page.ID) int64 {
	return int64(id) * page.Size
}

// ReadPage fills buf (which must be page.Size bytes) with id's
// current on-disk contents.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	if id == page.InvalidID {
		return storageerr.ErrInvalidPageID
	}
	if len(buf) != page.Size {
		return fmt.Errorf("%w: buffer is %d bytes, want %d", storageerr.ErrInvalidPageData, len(buf), page.Size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.file.ReadAt(buf, m.offset(id))
	if err != nil {
		return fmt.Errorf("%w: reading page %d: %v", storageerr.ErrIO, id, err)
	}
	if n != page.Size {
		return fmt.Errorf("%w: short read for page %d: got %d bytes", storageerr.ErrIO, id, n)
	}
	return nil
}

// WritePage persists buf (page.Size bytes) as id's contents.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	if id == page.InvalidID {
		return storageerr.ErrInvalidPageID
	}
	if len(buf) != page.Size {
		return fmt.Errorf("%w: buffer is %d bytes, want %d", storageerr.ErrInvalidPageData, len(buf), page.Size)
	}
	if m.limiter != nil {
		if err := m.limiter.WaitN(context.Background(), page.Size); err != nil {
			return fmt.Errorf("%w: write throttle: %v", storageerr.ErrIO, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.file.WriteAt(buf, m.offset(id)); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", storageerr.ErrIO, id, err)
	}
	return nil
}

// AllocatePage extends the file by one page and returns its id.
// Allocation is monotonic; there is no free-list reuse — this core
// intentionally leaves directory shrink-style reclamation to whatever
// calls it.
func (m *Manager) AllocatePage() (page.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := page.ID(m.numPages)
	var empty [page.Size]byte
	if _, err := m.file.WriteAt(empty[:], m.offset(id)); err != nil {
		return page.InvalidID, fmt.Errorf("%w: extending file for page %d: %v", storageerr.ErrIO, id, err)
	}
	m.numPages++
	return id, nil
}

// DeallocatePage rejects InvalidID and otherwise does nothing: no
// on-disk free mark is written, and since AllocatePage is monotonic the
// id is never handed out again.
func (m *Manager) DeallocatePage(id page.ID) error {
	if id == page.InvalidID {
		return storageerr.ErrInvalidPageID
	}
	return nil
}

// Sync flushes buffered writes to stable storage.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Sync()
}

// Close syncs and closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}
