package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "tokens")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "tokens", []byte(`[]`)))
	require.NoError(t, s.Set(ctx, "tokens", []byte(`[{"id":"T1"}]`)))
	value, err := s.Get(ctx, "tokens")
	require.NoError(t, err)
	require.Equal(t, `[{"id":"T1"}]`, string(value), "last write wins")

	require.NoError(t, s.Set(ctx, "tasks_T1_D1", []byte(`{}`)))
	require.NoError(t, s.Set(ctx, "tasks_T1_D2", []byte(`{}`)))
	require.NoError(t, s.Set(ctx, "tasksXT1", []byte(`{}`)))

	keys, err := s.Keys(ctx, "tasks_T1_")
	require.NoError(t, err)
	require.Equal(t, []string{"tasks_T1_D1", "tasks_T1_D2"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)

	require.NoError(t, s.Delete(ctx, "tokens"))
	require.NoError(t, s.Delete(ctx, "tokens"))
	_, err = s.Get(ctx, "tokens")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared", "group.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestSQLiteStore_VisibleToSecondHandle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "group.db")

	writer, err := OpenSQLite(path)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Set(ctx, "databases_T1", []byte(`[]`)))
	value, err := reader.Get(ctx, "databases_T1")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(value))
}
