package publisher

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/db/mapper"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newBackend(t *testing.T) *store.GormStore {
	t.Helper()
	ctx := context.Background()

	s, err := store.OpenLocal(filepath.Join(t.TempDir(), "acrostic.db"))
	require.NoError(t, err)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, backend *store.GormStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, backend.SaveToken(ctx, &models.Token{ID: "T1", Name: "Work", IsActivated: true, ConnectionStatus: true}))
	require.NoError(t, backend.SaveToken(ctx, &models.Token{ID: "T2", Name: "Home"}))

	require.NoError(t, backend.Transaction(ctx, func(tx *gorm.DB) error {
		record, err := mapper.MapDatabase(tx, "T1", notion.DatabaseObject("D1", "Tasks"), now)
		if err != nil {
			return err
		}
		if err := tx.Model(record).Update("widget_enabled", true).Error; err != nil {
			return err
		}
		for _, obj := range []notion.Object{
			notion.TaskPage("P1", "D1", "Write report", false, "2025-01-02"),
			notion.TaskPage("P2", "D1", "Ship", true, ""),
		} {
			page, err := mapper.MapPage(tx, obj, now)
			if err != nil {
				return err
			}
			if _, err := mapper.MapTask(tx, page, "T1", now); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestPublish_WritesSnapshots(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	seed(t, backend)

	shared := kv.NewMemoryStore()
	var reloads atomic.Int32
	p, err := New(backend, shared, ReloaderFunc(func(context.Context) error {
		reloads.Add(1)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx))
	require.EqualValues(t, 1, reloads.Load())

	tokens, err := ReadTokens(ctx, shared)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	databases, err := ReadDatabases(ctx, shared, "T1")
	require.NoError(t, err)
	require.Len(t, databases, 1)
	require.Equal(t, "D1", databases[0].ID)
	require.True(t, databases[0].WidgetEnabled)

	list, ok, err := ReadTasks(ctx, shared, "T1", "D1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, list.Tasks, 2)
	require.Equal(t, "Write report", list.Tasks[0].Title)
	require.NotNil(t, list.Tasks[0].DueDate)
	require.True(t, list.Tasks[1].IsCompleted)

	// inactive credentials publish nothing beyond the token list
	_, err = shared.Get(ctx, DatabasesKey("T2"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPublish_SkipsRecordsWithoutIdentifier(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	require.NoError(t, backend.SaveToken(ctx, &models.Token{ID: "T1", Name: "Work", IsActivated: true}))
	require.NoError(t, backend.DB().Create(&models.Database{Title: "Broken"}).Error)
	require.NoError(t, backend.DB().Create(&models.TokenDatabase{TokenID: "T1", DatabaseRowID: 1}).Error)

	shared := kv.NewMemoryStore()
	p, err := New(backend, shared, nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx))

	databases, err := ReadDatabases(ctx, shared, "T1")
	require.NoError(t, err)
	require.Empty(t, databases)
}

func TestPublish_PrefersSelectedFiles(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	seed(t, backend)

	shared := kv.NewMemoryStore()
	p, err := New(backend, shared, nil)
	require.NoError(t, err)

	require.NoError(t, p.SetSelectedFiles(ctx, "T1", []FileMetadata{
		{ID: "D1", Title: "Tasks", IsSelected: true},
		{ID: "D9", Title: "Gone", IsSelected: true},
		{ID: "D2", Title: "Skipped"},
	}))

	selected, err := p.SelectedFiles(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.Equal(t, FileKindDatabase, selected[0].Kind)
	require.Equal(t, "T1", selected[0].TokenID)

	require.NoError(t, p.Publish(ctx))
	databases, err := ReadDatabases(ctx, shared, "T1")
	require.NoError(t, err)
	require.Len(t, databases, 2)
	require.True(t, databases[0].WidgetEnabled)
	require.Equal(t, "Gone", databases[1].Title)

	require.NoError(t, p.SetSelectedFiles(ctx, "T1", nil))
	selected, err = p.SelectedFiles(ctx, "T1")
	require.NoError(t, err)
	require.Empty(t, selected)
}

func TestReaders_TolerateMissingKeys(t *testing.T) {
	ctx := context.Background()
	shared := kv.NewMemoryStore()

	tokens, err := ReadTokens(ctx, shared)
	require.NoError(t, err)
	require.Empty(t, tokens)

	_, ok, err := ReadTasks(ctx, shared, "T1", "D1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, shared.Set(ctx, KeyTokens, []byte("{")))
	_, err = ReadTokens(ctx, shared)
	require.Error(t, err)
}

func TestValidator_RejectsEmptyIdentifier(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	_, err = v.encode(schemaTokens, []TokenSnapshot{{ID: "", Name: "x"}})
	require.Error(t, err)

	raw, err := v.encode(schemaTokens, []TokenSnapshot{{ID: "T1", Name: "x"}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"T1","name":"x","connectionStatus":false,"isActivated":false}]`, string(raw))
}

func TestWatchSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared", "reload")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchSignal(ctx, path, func() { fired <- struct{}{} })
	}()

	signal := NewSignalFile(path)
	require.Eventually(t, func() bool {
		if err := signal.Reload(ctx); err != nil {
			return false
		}
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestPublish_RemovesStaleKeys(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	seed(t, backend)

	shared := kv.NewMemoryStore()
	p, err := New(backend, shared, nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx))

	require.NoError(t, shared.Set(ctx, SelectedFilesKey("T1"), []byte(`[]`)))

	database, err := backend.GetDatabase(ctx, "D1")
	require.NoError(t, err)
	database.WidgetEnabled = false
	require.NoError(t, backend.UpdateDatabase(ctx, database))
	require.NoError(t, p.Publish(ctx))

	_, ok, err := ReadTasks(ctx, shared, "T1", "D1")
	require.NoError(t, err)
	require.False(t, ok, "disabled database keeps no task list")
	databases, err := ReadDatabases(ctx, shared, "T1")
	require.NoError(t, err)
	require.Len(t, databases, 1)

	token, err := backend.GetToken(ctx, "T1")
	require.NoError(t, err)
	token.IsActivated = false
	require.NoError(t, backend.UpdateToken(ctx, token))
	require.NoError(t, p.Publish(ctx))

	_, err = shared.Get(ctx, DatabasesKey("T1"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	_, err = shared.Get(ctx, SelectedFilesKey("T1"))
	require.NoError(t, err, "keys outside the published families are left alone")
}
