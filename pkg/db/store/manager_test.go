package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/prefs"
	"github.com/stretchr/testify/require"
)

func openPrefs(t *testing.T, initial string) *prefs.Store {
	t.Helper()
	p, err := prefs.Open(filepath.Join(t.TempDir(), "preferences.yaml"), "icloud")
	require.NoError(t, err)
	if initial != "" {
		require.NoError(t, p.SetStorage(initial))
	}
	return p
}

func staticOpener(b Backend) Opener {
	return func(ctx context.Context) (Backend, error) {
		return b, nil
	}
}

func failingOpener(err error) Opener {
	return func(ctx context.Context) (Backend, error) {
		return nil, err
	}
}

func newTestManager(t *testing.T, opts ManagerOptions) *Manager {
	t.Helper()
	m := NewManager(opts)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_UsesPreferredCloud(t *testing.T) {
	ctx := context.Background()
	p := openPrefs(t, "")
	m := newTestManager(t, ManagerOptions{
		Local:       staticOpener(openTestStore(t, KindLocal)),
		Cloud:       staticOpener(openTestStore(t, KindCloud)),
		Preferences: p,
	})

	require.NoError(t, m.Init(ctx))
	require.Equal(t, KindCloud, m.Kind())
	require.Empty(t, m.Notice())
	require.Equal(t, "icloud", p.Storage())
}

func TestManager_FallsBackToLocal(t *testing.T) {
	for _, initial := range []string{"", "icloud", "cloud"} {
		t.Run("preference="+initial, func(t *testing.T) {
			ctx := context.Background()
			p := openPrefs(t, initial)
			m := newTestManager(t, ManagerOptions{
				Local:       staticOpener(openTestStore(t, KindLocal)),
				Cloud:       failingOpener(errors.New("no cloud account")),
				Preferences: p,
			})

			require.NoError(t, m.Init(ctx))
			require.Equal(t, KindLocal, m.Kind())
			require.Equal(t, KindLocal, m.Active().Kind())
			require.Equal(t, "local", p.Storage())
			require.Equal(t, FallbackNotice, m.Notice())
		})
	}
}

func TestManager_CloudInitTimeout(t *testing.T) {
	ctx := context.Background()
	p := openPrefs(t, "icloud")
	m := newTestManager(t, ManagerOptions{
		Local: staticOpener(openTestStore(t, KindLocal)),
		Cloud: func(ctx context.Context) (Backend, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Preferences: p,
		InitTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	require.NoError(t, m.Init(ctx))
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, KindLocal, m.Kind())
	require.Equal(t, "local", p.Storage())
}

func TestManager_LocalFailureIsFatal(t *testing.T) {
	m := newTestManager(t, ManagerOptions{
		Local:       failingOpener(errors.New("read-only filesystem")),
		Cloud:       failingOpener(errors.New("no cloud account")),
		Preferences: openPrefs(t, "icloud"),
	})

	require.Error(t, m.Init(context.Background()))
	_, err := m.ListTokens(context.Background())
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestManager_SwitchMigrates(t *testing.T) {
	ctx := context.Background()
	local := openTestStore(t, KindLocal)
	cloud := openTestStore(t, KindCloud)
	p := openPrefs(t, "local")
	m := newTestManager(t, ManagerOptions{
		Local:       staticOpener(local),
		Cloud:       staticOpener(cloud),
		Preferences: p,
	})
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.SaveToken(ctx, &models.Token{ID: "T1", Name: "Work"}))
	require.NoError(t, m.SaveDatabase(ctx, "T1", database("D1", "Tasks")))

	require.NoError(t, m.Switch(ctx, KindCloud))
	require.Equal(t, KindCloud, m.Kind())
	require.Equal(t, "icloud", p.Storage())

	databases, err := m.ListDatabases(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, databases, 1)

	// Switching to the active kind is a no-op
	require.NoError(t, m.Switch(ctx, KindCloud))
}

func TestManager_SwitchAbortRevertsPreference(t *testing.T) {
	ctx := context.Background()
	local := openTestStore(t, KindLocal)
	cloud := &recordingBackend{Backend: openTestStore(t, KindCloud), failToken: "T2"}
	p := openPrefs(t, "local")
	m := newTestManager(t, ManagerOptions{
		Local:       staticOpener(local),
		Cloud:       staticOpener(cloud),
		Preferences: p,
	})
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.SaveToken(ctx, &models.Token{ID: "T1", Name: "A"}))
	require.NoError(t, m.SaveToken(ctx, &models.Token{ID: "T2", Name: "B"}))

	err := m.Switch(ctx, KindCloud)
	require.Error(t, err)
	require.Equal(t, KindLocal, m.Kind())
	require.Equal(t, "local", p.Storage())

	tokens, err := m.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2, "source backend is left intact")
}

func TestManager_SwitchToUnavailableCloud(t *testing.T) {
	ctx := context.Background()
	p := openPrefs(t, "local")
	m := newTestManager(t, ManagerOptions{
		Local:       staticOpener(openTestStore(t, KindLocal)),
		Cloud:       failingOpener(errors.New("no cloud account")),
		Preferences: p,
	})
	require.NoError(t, m.Init(ctx))

	require.Error(t, m.Switch(ctx, KindCloud))
	require.Equal(t, "local", p.Storage())
}

func TestManager_UpdateFallsBackToOtherBackend(t *testing.T) {
	ctx := context.Background()
	local := openTestStore(t, KindLocal)
	cloud := openTestStore(t, KindCloud)
	m := newTestManager(t, ManagerOptions{
		Local:       staticOpener(local),
		Cloud:       staticOpener(cloud),
		Preferences: openPrefs(t, "icloud"),
	})
	require.NoError(t, m.Init(ctx))

	// Only the local backend knows this token, so the active update fails
	require.NoError(t, local.SaveToken(ctx, &models.Token{ID: "T1", Name: "Work", IsActivated: true}))

	require.NoError(t, m.UpdateToken(ctx, &models.Token{ID: "T1", Name: "Work", IsActivated: false}))

	stored, err := local.GetToken(ctx, "T1")
	require.NoError(t, err)
	require.False(t, stored.IsActivated)

	err = m.UpdateToken(ctx, &models.Token{ID: "nowhere", Name: "x"})
	require.ErrorIs(t, err, ErrNotFound, "double failure surfaces both errors")
}

func TestManager_SaveFallsBackToOtherBackend(t *testing.T) {
	ctx := context.Background()
	local := openTestStore(t, KindLocal)
	cloud := &recordingBackend{Backend: openTestStore(t, KindCloud), failToken: "T1"}
	m := newTestManager(t, ManagerOptions{
		Local:       staticOpener(local),
		Cloud:       staticOpener(cloud),
		Preferences: openPrefs(t, "icloud"),
	})
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.SaveToken(ctx, &models.Token{ID: "T1", Name: "Work"}))

	stored, err := local.GetToken(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, "Work", stored.Name)
}
