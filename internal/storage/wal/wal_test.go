package wal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridgedb/ridgedb/internal/storage/page"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_AppendAssignsSequentialLSNs(t *testing.T) {
	m := setupManager(t)

	for i := 0; i < 3; i++ {
		lsn, err := m.Append(&Record{Type: RecordUpdate, PageID: page.ID(i), Data: []byte("x")})
		require.NoError(t, err)
		require.Equal(t, page.LSN(i+1), lsn)
	}
}

func TestManager_AppendAssignsCorrelationIDWhenAbsent(t *testing.T) {
	m := setupManager(t)
	rec := &Record{Type: RecordNewPage, PageID: page.ID(1)}
	_, err := m.Append(rec)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, rec.CorrelationID)
}

func TestManager_SyncDoesNotErrorOnEmptyLog(t *testing.T) {
	m := setupManager(t)
	require.NoError(t, m.Sync())
}

func TestManager_ReopenResumesLSNSequence(t *testing.T) {
	dir := t.TempDir()
	m1, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	_, err = m1.Append(&Record{Type: RecordUpdate, PageID: page.ID(1), Data: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer m2.Close()
	lsn, err := m2.Append(&Record{Type: RecordUpdate, PageID: page.ID(2), Data: []byte("b")})
	require.NoError(t, err)
	require.Equal(t, page.LSN(2), lsn)
}
