package syncer

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobrmount/Acrostic/internal/publisher"
	"github.com/jacobrmount/Acrostic/pkg/cache"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"github.com/jacobrmount/Acrostic/pkg/secret"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	backend *store.GormStore
	secrets *secret.MemoryStore
	source  *notion.MemorySource
	shared  *kv.MemoryStore
	cache   *cache.Service
	syncer  *Syncer
	clock   *atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	backend, err := store.OpenLocal(filepath.Join(t.TempDir(), "acrostic.db"))
	require.NoError(t, err)
	require.NoError(t, backend.Connect(ctx))
	require.NoError(t, backend.Migrate(ctx))
	t.Cleanup(func() { backend.Close() })

	clock := &atomic.Int64{}
	clock.Store(time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC).UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	shared := kv.NewMemoryStore()
	c := cache.New(shared, cache.WithClock(now))
	p, err := publisher.New(backend, shared, nil, publisher.WithClock(now))
	require.NoError(t, err)

	f := &fixture{
		backend: backend,
		secrets: secret.NewMemoryStore(),
		source:  notion.NewMemorySource(),
		shared:  shared,
		cache:   c,
		clock:   clock,
	}
	f.syncer = New(backend, f.secrets, f.source, c, p, WithClock(now))
	t.Cleanup(f.syncer.Wait)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock.Add(int64(d))
}

func (f *fixture) addToken(t *testing.T, id, key string, activated bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.secrets.Set(ctx, id, key))
	require.NoError(t, f.backend.SaveToken(ctx, &models.Token{ID: id, Name: id, SecretKey: id, IsActivated: activated}))
}

func enabledDatabase(id, title string) *models.Database {
	d := &models.Database{Title: title, WidgetEnabled: true, WidgetType: "tasks"}
	d.SetIdentifier(id)
	return d
}

func TestRunCycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addToken(t, "T1", "secret-1", true)
	require.NoError(t, f.backend.SaveDatabase(ctx, "T1", enabledDatabase("D1", "Inbox")))

	f.source.AddWorkspace("secret-1", notion.Workspace{ID: "W1", Name: "Acme"})
	f.source.SetDatabases("secret-1", notion.DatabaseObject("D1", "Inbox"))
	f.source.SetPages("D1",
		notion.TaskPage("P1", "D1", "Buy milk", false, ""),
		notion.TaskPage("P2", "D1", "Call bank", true, "2025-01-01"),
	)

	report, err := f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Equal(t, 1, report.TokensChecked)
	require.Equal(t, 1, report.DatabasesSynced)
	require.Empty(t, report.Summary())

	list, ok, err := publisher.ReadTasks(ctx, f.shared, "T1", "D1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, list.Tasks, 2)

	require.Equal(t, "P1", list.Tasks[0].ID)
	require.Equal(t, "Buy milk", list.Tasks[0].Title)
	require.False(t, list.Tasks[0].IsCompleted)
	require.Nil(t, list.Tasks[0].DueDate)

	require.Equal(t, "P2", list.Tasks[1].ID)
	require.Equal(t, "Call bank", list.Tasks[1].Title)
	require.True(t, list.Tasks[1].IsCompleted)
	require.NotNil(t, list.Tasks[1].DueDate)
	require.Equal(t, "2025-01-01", list.Tasks[1].DueDate.Format("2006-01-02"))

	databases, err := publisher.ReadDatabases(ctx, f.shared, "T1")
	require.NoError(t, err)
	require.Len(t, databases, 1)
	require.Equal(t, "D1", databases[0].ID)
	require.True(t, databases[0].WidgetEnabled)

	token, err := f.backend.GetToken(ctx, "T1")
	require.NoError(t, err)
	require.True(t, token.ConnectionStatus)
	require.NotNil(t, token.LastValidated)
	require.NotNil(t, token.WorkspaceName)
	require.Equal(t, "Acme", *token.WorkspaceName)
}

func TestRunCycle_DeactivatesFailedCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addToken(t, "T1", "revoked", true)
	f.addToken(t, "T2", "secret-2", true)
	f.source.AddWorkspace("secret-2", notion.Workspace{ID: "W2", Name: "Home"})

	report, err := f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, report.TokensChecked)
	require.Equal(t, 1, report.TokensFailed)
	require.Equal(t, "1 of 2 credentials failed validation", report.Summary())
	require.ErrorIs(t, report.Err(), notion.ErrUnauthorized)

	failed, err := f.backend.GetToken(ctx, "T1")
	require.NoError(t, err)
	require.False(t, failed.IsActivated)
	require.False(t, failed.ConnectionStatus)

	healthy, err := f.backend.GetToken(ctx, "T2")
	require.NoError(t, err)
	require.True(t, healthy.IsActivated)
	require.True(t, healthy.ConnectionStatus)

	// the deactivated credential gets no file list
	require.EqualValues(t, 1, f.source.Searches())
}

func TestRunCycle_MissingSecretFailsValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.backend.SaveToken(ctx, &models.Token{ID: "T1", Name: "Lost", SecretKey: "T1", IsActivated: true}))

	report, err := f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.TokensFailed)
	require.ErrorIs(t, report.Err(), secret.ErrNotFound)
}

func TestRunCycle_FileListStaleWhileRevalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addToken(t, "T1", "secret-1", true)
	f.source.AddWorkspace("secret-1", notion.Workspace{ID: "W1"})
	f.source.SetDatabases("secret-1", notion.DatabaseObject("D1", "Inbox"))

	_, err := f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.source.Searches())

	// fresh: served from cache
	f.advance(30 * time.Minute)
	_, err = f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	f.syncer.Wait()
	require.EqualValues(t, 1, f.source.Searches())

	// older than the refresh age: served, refreshed in the background
	f.advance(2 * time.Hour)
	_, err = f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	f.syncer.Wait()
	require.EqualValues(t, 2, f.source.Searches())

	// older than the hard limit: fetched before returning
	f.advance(25 * time.Hour)
	_, err = f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 3, f.source.Searches())

	_, err = f.syncer.RunCycle(ctx, Options{Force: true})
	require.NoError(t, err)
	require.EqualValues(t, 4, f.source.Searches())

	files, ok, err := cache.Get[[]publisher.FileMetadata](ctx, f.cache, cache.FileListCache, "T1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, files, 1)
	require.Equal(t, "D1", files[0].ID)
}

func TestRunCycle_SkipsDisabledDatabases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addToken(t, "T1", "secret-1", true)
	f.source.AddWorkspace("secret-1", notion.Workspace{ID: "W1"})
	f.source.SetDatabases("secret-1", notion.DatabaseObject("D1", "Inbox"), notion.DatabaseObject("D2", "Archive"))
	f.source.SetPages("D1", notion.TaskPage("P1", "D1", "One", false, ""))
	f.source.SetPages("D2", notion.TaskPage("P2", "D2", "Two", false, ""))

	report, err := f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.Zero(t, report.DatabasesSynced)
	require.Zero(t, f.source.Queries())

	database, err := f.backend.GetDatabase(ctx, "D2")
	require.NoError(t, err)
	database.WidgetEnabled = true
	require.NoError(t, f.backend.UpdateDatabase(ctx, database))

	report, err = f.syncer.RunCycle(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.DatabasesSynced)
	require.EqualValues(t, 1, f.source.Queries())

	_, ok, err := publisher.ReadTasks(ctx, f.shared, "T1", "D1")
	require.NoError(t, err)
	require.False(t, ok)
	list, ok, err := publisher.ReadTasks(ctx, f.shared, "T1", "D2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, list.Tasks, 1)
}

func publishedTaskIDs(t *testing.T, f *fixture, tokenID, databaseID string) []string {
	t.Helper()
	list, ok, err := publisher.ReadTasks(context.Background(), f.shared, tokenID, databaseID)
	require.NoError(t, err)
	require.True(t, ok)

	ids := make([]string, 0, len(list.Tasks))
	for _, task := range list.Tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestRunCycle_DropsTasksRemovedRemotely(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addToken(t, "T1", "secret-1", true)
	require.NoError(t, f.backend.SaveDatabase(ctx, "T1", enabledDatabase("D1", "Inbox")))
	f.source.AddWorkspace("secret-1", notion.Workspace{ID: "W1"})
	f.source.SetDatabases("secret-1", notion.DatabaseObject("D1", "Inbox"))
	f.source.SetPages("D1",
		notion.TaskPage("P1", "D1", "One", false, ""),
		notion.TaskPage("P2", "D1", "Two", false, ""),
		notion.TaskPage("P3", "D1", "Three", false, ""),
	)

	_, err := f.syncer.RunCycle(ctx, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P2", "P3"}, publishedTaskIDs(t, f, "T1", "D1"))

	f.source.SetPages("D1",
		notion.TaskPage("P1", "D1", "One", false, ""),
		notion.TaskPage("P2", "D1", "Two", false, ""),
	)
	_, err = f.syncer.RunCycle(ctx, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P2"}, publishedTaskIDs(t, f, "T1", "D1"))

	f.source.SetPages("D1")
	_, err = f.syncer.RunCycle(ctx, Options{Force: true})
	require.NoError(t, err)
	require.Empty(t, publishedTaskIDs(t, f, "T1", "D1"))
}

func TestRunCycle_KeepsTasksWhenQueryTruncated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addToken(t, "T1", "secret-1", true)
	require.NoError(t, f.backend.SaveDatabase(ctx, "T1", enabledDatabase("D1", "Inbox")))
	f.source.AddWorkspace("secret-1", notion.Workspace{ID: "W1"})
	f.source.SetDatabases("secret-1", notion.DatabaseObject("D1", "Inbox"))
	f.source.SetPages("D1",
		notion.TaskPage("P1", "D1", "One", false, ""),
		notion.TaskPage("P2", "D1", "Two", false, ""),
		notion.TaskPage("P3", "D1", "Three", false, ""),
	)

	_, err := f.syncer.RunCycle(ctx, Options{Force: true})
	require.NoError(t, err)

	f.syncer.cfg.PageSize = 1
	f.syncer.cfg.MaxPages = 1
	f.source.SetPages("D1",
		notion.TaskPage("P1", "D1", "One", false, ""),
		notion.TaskPage("P2", "D1", "Two", false, ""),
	)
	_, err = f.syncer.RunCycle(ctx, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P2", "P3"}, publishedTaskIDs(t, f, "T1", "D1"))
}
