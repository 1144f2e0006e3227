package secret

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "tok-1", "secret_abc"))
	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "secret_abc", got)

	require.NoError(t, store.Delete(ctx, "tok-1"))
	_, err = store.Get(ctx, "tok-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileVault_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "secrets.vault")

	vault, err := NewFileVault(path, "com.acrostic.tokens", "hunter2")
	require.NoError(t, err)
	require.NoError(t, vault.Set(ctx, "tok-1", "secret_abc"))
	require.NoError(t, vault.Set(ctx, "tok-2", "secret_def"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret_abc")

	reopened, err := NewFileVault(path, "com.acrostic.tokens", "hunter2")
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "tok-2")
	require.NoError(t, err)
	require.Equal(t, "secret_def", got)

	require.NoError(t, reopened.Delete(ctx, "tok-1"))
	_, err = vault.Get(ctx, "tok-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileVault_NamespacesByService(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.vault")

	a, err := NewFileVault(path, "service-a", "pw")
	require.NoError(t, err)
	b, err := NewFileVault(path, "service-b", "pw")
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "tok", "from-a"))
	_, err = b.Get(ctx, "tok")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileVault_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.vault")

	vault, err := NewFileVault(path, "svc", "right")
	require.NoError(t, err)
	require.NoError(t, vault.Set(ctx, "tok", "value"))

	wrong, err := NewFileVault(path, "svc", "wrong")
	require.NoError(t, err)
	_, err = wrong.Get(ctx, "tok")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestNewFileVault_RequiresPassphrase(t *testing.T) {
	_, err := NewFileVault("x.vault", "svc", "")
	require.Error(t, err)
}

type blockingStore struct {
	release chan struct{}
}

func (s *blockingStore) Set(ctx context.Context, id, secret string) error {
	<-s.release
	return nil
}

func (s *blockingStore) Get(ctx context.Context, id string) (string, error) {
	<-s.release
	return "late", nil
}

func (s *blockingStore) Delete(ctx context.Context, id string) error {
	<-s.release
	return nil
}

func TestWithTimeout_ExpiresAsFailure(t *testing.T) {
	inner := &blockingStore{release: make(chan struct{})}
	defer close(inner.release)

	store := WithTimeout(inner, 20*time.Millisecond)

	start := time.Now()
	_, err := store.Get(context.Background(), "tok")
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)

	require.ErrorIs(t, store.Set(context.Background(), "tok", "x"), ErrTimeout)
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := WithTimeout(inner, 0)

	require.NoError(t, store.Set(ctx, "tok", "value"))
	got, err := store.Get(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, "value", got)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
