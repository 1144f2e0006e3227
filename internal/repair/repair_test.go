package repair

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/stretchr/testify/require"
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

func TestRecoverIdentifier(t *testing.T) {
	require.Equal(t, "abc123", RecoverIdentifier("https://host/abc123", ""))
	require.Equal(t, "abc123", RecoverIdentifier("https://host/abc123/?v=1", ""))
	require.Equal(t,
		"0123456789abcdef0123456789abcdef",
		RecoverIdentifier("https://www.notion.so/acme/Tasks-0123456789ABCDEF0123456789abcdef", ""))
	require.Equal(t, KnownBadIdentifier, RecoverIdentifier(KnownBadURL, "Tasks"))
	require.Equal(t, HashIdentifier("not a url"), RecoverIdentifier("not a url", "Tasks"))
	require.Equal(t, HashIdentifier("Tasks"), RecoverIdentifier("", "Tasks"))
	require.Len(t, RecoverIdentifier("", ""), 36)
}

func TestHashIdentifier_Stable(t *testing.T) {
	require.Equal(t, HashIdentifier("Tasks"), HashIdentifier("Tasks"))
	require.NotEqual(t, HashIdentifier("Tasks"), HashIdentifier("tasks"))
	require.Len(t, HashIdentifier("Tasks"), 32)
}

func TestRun_RecoversNullIdentifiers(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	db := backend.DB()

	require.NoError(t, db.Create(&models.Database{Title: "From URL", URL: "https://host/abc123"}).Error)
	require.NoError(t, db.Create(&models.Database{Title: "Tasks"}).Error)

	report, err := New(backend, nil).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.IdentifiersRecovered)

	fromURL, err := backend.GetDatabase(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "From URL", fromURL.Title)

	fromTitle, err := backend.GetDatabase(ctx, HashIdentifier("Tasks"))
	require.NoError(t, err)
	require.Equal(t, "Tasks", fromTitle.Title)

	// a second pass finds nothing to do
	report, err = New(backend, nil).Run(ctx)
	require.NoError(t, err)
	require.False(t, report.Changed())
}

func TestRun_CollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	db := backend.DB()

	require.NoError(t, backend.SaveToken(ctx, &models.Token{ID: "T1", Name: "A"}))
	require.NoError(t, backend.SaveToken(ctx, &models.Token{ID: "T2", Name: "B"}))

	var rows []models.Database
	for i := 0; i < 3; i++ {
		d := models.Database{Title: "Dup"}
		d.SetIdentifier("x")
		require.NoError(t, db.Create(&d).Error)
		rows = append(rows, d)
	}
	require.NoError(t, db.Create(&models.TokenDatabase{TokenID: "T1", DatabaseRowID: rows[0].RowID}).Error)
	require.NoError(t, db.Create(&models.TokenDatabase{TokenID: "T1", DatabaseRowID: rows[1].RowID}).Error)
	require.NoError(t, db.Create(&models.TokenDatabase{TokenID: "T2", DatabaseRowID: rows[2].RowID}).Error)

	orphanRow := rows[2].RowID
	require.NoError(t, db.Create(&models.Page{NotionID: "P1", DatabaseRowID: &orphanRow}).Error)
	require.NoError(t, db.Create(&models.Task{NotionID: "P1", DatabaseRowID: &orphanRow}).Error)

	report, err := New(backend, nil).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.DuplicatesRemoved)

	var remaining []models.Database
	require.NoError(t, db.Where("notion_id = ?", "x").Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, rows[0].RowID, remaining[0].RowID)

	var links []models.TokenDatabase
	require.NoError(t, db.Order("token_id").Find(&links).Error)
	require.Equal(t, []models.TokenDatabase{
		{TokenID: "T1", DatabaseRowID: rows[0].RowID},
		{TokenID: "T2", DatabaseRowID: rows[0].RowID},
	}, links)

	var task models.Task
	require.NoError(t, db.Where("notion_id = ?", "P1").First(&task).Error)
	require.Equal(t, rows[0].RowID, *task.DatabaseRowID)

	tasks, err := backend.ListTasks(ctx, "T2", "x")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestRun_RemovesRecordsWithoutIdentifier(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	db := backend.DB()

	require.NoError(t, db.Create(&models.Page{Title: "ghost"}).Error)
	require.NoError(t, db.Create(&models.Task{Title: "ghost"}).Error)
	require.NoError(t, db.Create(&models.Task{NotionID: "P1", Title: "kept"}).Error)

	report, err := New(backend, nil).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.InvalidRemoved)

	var count int64
	require.NoError(t, db.Model(&models.Task{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRun_UninitializedStorage(t *testing.T) {
	manager := store.NewManager(store.ManagerOptions{})

	_, err := New(manager, nil).Run(context.Background())
	require.ErrorIs(t, err, store.ErrBackendUnavailable)
}

func TestRun_EnforcesUniqueIdentifiers(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	db := backend.DB()

	require.NoError(t, backend.SaveToken(ctx, &models.Token{ID: "T1", Name: "A"}))
	existing := models.Database{Title: "Inbox"}
	existing.SetIdentifier("abc123")
	require.NoError(t, db.Create(&existing).Error)

	broken := models.Database{Title: "Inbox copy", URL: "https://host/abc123"}
	require.NoError(t, db.Create(&broken).Error)
	require.NoError(t, db.Create(&models.TokenDatabase{TokenID: "T1", DatabaseRowID: broken.RowID}).Error)

	report, err := New(backend, nil).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.IdentifiersRecovered)

	var remaining []models.Database
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1, "a recovered identifier that already exists is merged")
	require.Equal(t, existing.RowID, remaining[0].RowID)

	linked, err := backend.ListDatabases(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, linked, 1)

	duplicate := models.Database{Title: "Dup"}
	duplicate.SetIdentifier("abc123")
	require.Error(t, db.Create(&duplicate).Error)

	// rows without an identifier stay outside the index
	require.NoError(t, db.Create(&models.Database{Title: "a"}).Error)
	require.NoError(t, db.Create(&models.Database{Title: "b"}).Error)

	_, err = New(backend, nil).Run(ctx)
	require.NoError(t, err)
}
