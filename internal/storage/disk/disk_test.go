package disk

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ridgedb/ridgedb/internal/storage/page"
	"github.com/ridgedb/ridgedb/internal/storage/storageerr"
)

func TestManager_AllocateWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	m, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	defer m.Close()

	id, err := m.AllocatePage()
	require.NoError(t, err)

	want := bytes.Repeat([]byte{0x42}, page.Size)
	require.NoError(t, m.WritePage(id, want))

	got := make([]byte, page.Size)
	require.NoError(t, m.ReadPage(id, got))
	require.Equal(t, want, got)
}

func TestManager_RejectsInvalidPageID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	m, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	defer m.Close()

	buf := make([]byte, page.Size)
	require.ErrorIs(t, m.ReadPage(page.InvalidID, buf), storageerr.ErrInvalidPageID)
	require.ErrorIs(t, m.WritePage(page.InvalidID, buf), storageerr.ErrInvalidPageID)
}

func TestManager_ReopenValidatesHeaderAndPreservesPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	m, err := Open(DefaultConfig(path))
	require.NoError(t, err)

	id, err := m.AllocatePage()
	require.NoError(t, err)
	want := bytes.Repeat([]byte{0x7}, page.Size)
	require.NoError(t, m.WritePage(id, want))
	require.NoError(t, m.Close())

	m2, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	defer m2.Close()

	got := make([]byte, page.Size)
	require.NoError(t, m2.ReadPage(id, got))
	require.Equal(t, want, got)
}
