// Package wal is the write-ahead log sink the buffer pool optionally
// talks to before writing a dirty page back to disk. The log
// manager's durability protocol is treated as an external
// collaborator reachable only through Append and Sync; this package
// is a trimmed, self-consistent segmented log manager restricted to
// that narrow contract — segment rotation and streaming-replication
// readers built on top of the same record format elsewhere in this
// codebase are out of scope here.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgedb/ridgedb/internal/storage/page"
	"github.com/ridgedb/ridgedb/internal/storage/storageerr"
)

// RecordType mirrors the subset of log record types the buffer pool
// actually produces.
type RecordType byte

const (
	RecordUpdate RecordType = iota + 1
	RecordNewPage
)

// Record is one write-ahead log entry. CorrelationID lets a record be
// traced across a restart the way a replication layer correlates
// operations by id, even though this core has no replication of its
// own.
type Record struct {
	LSN           page.LSN
	CorrelationID uuid.UUID
	Type          RecordType
	PageID        page.ID
	Data          []byte
}

const segmentFileName = "wal-00000000000000000001.log"

// Manager appends records to a single growing segment file and
// assigns monotonically increasing LSNs. A nil *Manager is a valid
// configuration throughout this core — the log manager may be absent
// entirely.
type Manager struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	nextLSN page.LSN
	logger  *zap.Logger
}

// Open creates or appends to the WAL segment in dir.
func Open(dir string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating wal dir: %v", storageerr.ErrIO, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, segmentFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening wal segment: %v", storageerr.ErrIO, err)
	}
	m := &Manager{
		file:   f,
		writer: bufio.NewWriter(f),
		logger: logger,
	}
	if n, err := countRecords(f); err != nil {
		f.Close()
		return nil, err
	} else {
		m.nextLSN = page.LSN(n + 1)
	}
	return m, nil
}

// countRecords scans the segment to resume LSN assignment after a
// restart, a much smaller version of a full recovery pass (this core
// has nothing to replay against page state — that's the B+Tree
// driver's job, out of scope).
func countRecords(f *os.File) (uint64, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("%w: seeking wal segment: %v", storageerr.ErrIO, err)
	}
	r := bufio.NewReader(f)
	var count uint64
	for {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			break
		}
		if _, err := r.Discard(int(length)); err != nil {
			break
		}
		count++
	}
	if _, err := f.Seek(0, 2); err != nil {
		return 0, fmt.Errorf("%w: seeking to wal tail: %v", storageerr.ErrIO, err)
	}
	return count, nil
}

// Append assigns the next LSN to rec, serializes it, and queues it
// for writeback. Callers needing durability before proceeding must
// follow with Sync — Append alone only guarantees the record is
// buffered.
func (m *Manager) Append(rec *Record) (page.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.CorrelationID == uuid.Nil {
		rec.CorrelationID = uuid.New()
	}
	rec.LSN = m.nextLSN

	body := encodeRecord(rec)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := m.writer.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("%w: writing wal record length: %v", storageerr.ErrIO, err)
	}
	if _, err := m.writer.Write(body); err != nil {
		return 0, fmt.Errorf("%w: writing wal record body: %v", storageerr.ErrIO, err)
	}

	m.nextLSN++
	m.logger.Debug("wal append",
		zap.Uint64("lsn", uint64(rec.LSN)),
		zap.String("correlation_id", rec.CorrelationID.String()),
		zap.Int64("page_id", int64(rec.PageID)))
	return rec.LSN, nil
}

// Sync flushes buffered records to the underlying file and fsyncs it.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		return fmt.Errorf("%w: flushing wal writer: %v", storageerr.ErrIO, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing wal segment: %v", storageerr.ErrIO, err)
	}
	return nil
}

// Close syncs and closes the segment file.
func (m *Manager) Close() error {
	if err := m.Sync(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

func encodeRecord(rec *Record) []byte {
	buf := make([]byte, 8+16+1+8+len(rec.Data))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.LSN))
	copy(buf[8:24], rec.CorrelationID[:])
	buf[24] = byte(rec.Type)
	binary.LittleEndian.PutUint64(buf[25:33], uint64(rec.PageID))
	copy(buf[33:], rec.Data)
	return buf
}

// DecodeRecord is exposed for tests that want to confirm what Append
// wrote without reaching into the file format by hand.
func DecodeRecord(buf []byte) (*Record, error) {
	if len(buf) < 33 {
		return nil, fmt.Errorf("%w: wal record too short", storageerr.ErrDeserialization)
	}
	rec := &Record{
		LSN:    page.LSN(binary.LittleEndian.Uint64(buf[0:8])),
		Type:   RecordType(buf[24]),
		PageID: page.ID(binary.LittleEndian.Uint64(buf[25:33])),
		Data:   append([]byte(nil), buf[33:]...),
	}
	copy(rec.CorrelationID[:], buf[8:24])
	return rec, nil
}
