// Package publisher writes the denormalized snapshot the widget process reads
// from the shared key-value store, then signals it to reload.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/jacobrmount/Acrostic/pkg/log"
)

type Publisher struct {
	backend  store.Backend
	shared   kv.Store
	reloader Reloader
	logger   log.LoggerService
	now      func() time.Time
	schemas  *validator
}

type Option func(*Publisher)

func WithLogger(logger log.LoggerService) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func New(backend store.Backend, shared kv.Store, reloader Reloader, opts ...Option) (*Publisher, error) {
	schemas, err := newValidator()
	if err != nil {
		return nil, err
	}
	if reloader == nil {
		reloader = NopReloader{}
	}

	p := &Publisher{
		backend:  backend,
		shared:   shared,
		reloader: reloader,
		logger:   log.Discard(),
		now:      time.Now,
		schemas:  schemas,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish writes the token list, the database list of every activated token
// and the task list of every widget-enabled database, then signals a reload.
// Records without an identifier are skipped. Database and task keys that are
// no longer published are deleted. A failing key does not stop the remaining
// writes; all failures are returned together.
func (p *Publisher) Publish(ctx context.Context) error {
	tokens, err := p.backend.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}

	var errs []error
	snapshots := make([]TokenSnapshot, 0, len(tokens))
	for _, token := range tokens {
		if token.ID == "" {
			continue
		}
		snapshot := TokenSnapshot{
			ID:               token.ID,
			Name:             token.DisplayName(),
			ConnectionStatus: token.ConnectionStatus,
			IsActivated:      token.IsActivated,
		}
		if token.WorkspaceName != nil {
			snapshot.WorkspaceName = *token.WorkspaceName
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := p.write(ctx, KeyTokens, schemaTokens, snapshots); err != nil {
		errs = append(errs, err)
	}

	live := newKeySet()
	var databaseCount, taskListCount int
	for _, token := range tokens {
		if token.ID == "" || !token.IsActivated {
			continue
		}

		live.add(DatabasesKey(token.ID))
		databases, err := p.databaseSnapshots(ctx, token.ID)
		if err != nil {
			errs = append(errs, err)
		} else if err := p.write(ctx, DatabasesKey(token.ID), schemaDatabases, databases); err != nil {
			errs = append(errs, err)
		} else {
			databaseCount += len(databases)
		}

		count, err := p.publishTasks(ctx, token.ID, live)
		taskListCount += count
		if err != nil {
			errs = append(errs, err)
		}
	}

	removed, err := p.prune(ctx, live)
	if err != nil {
		errs = append(errs, err)
	}

	if err := p.reloader.Reload(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to signal widget reload: %w", err))
	}

	p.logger.Debug("Published %d tokens, %d databases and %d task lists, removed %d stale keys",
		len(snapshots), databaseCount, taskListCount, removed)
	return errors.Join(errs...)
}

// databaseSnapshots prefers the user's selected files and falls back to every
// database linked to the token
func (p *Publisher) databaseSnapshots(ctx context.Context, tokenID string) ([]DatabaseSnapshot, error) {
	selected, err := p.SelectedFiles(ctx, tokenID)
	if err != nil {
		p.logger.Warn("Ignoring unreadable file selection of %s: %v", tokenID, err)
		selected = nil
	}

	snapshots := make([]DatabaseSnapshot, 0)
	if len(selected) > 0 {
		for _, file := range selected {
			if file.ID == "" {
				continue
			}
			snapshot := DatabaseSnapshot{ID: file.ID, Title: file.Title}
			database, err := p.backend.GetDatabase(ctx, file.ID)
			switch {
			case err == nil:
				snapshot = databaseSnapshot(*database)
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("failed to load database %s: %w", file.ID, err)
			}
			snapshots = append(snapshots, snapshot)
		}
		return snapshots, nil
	}

	databases, err := p.backend.ListDatabases(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases of %s: %w", tokenID, err)
	}
	for _, database := range databases {
		if database.Identifier() == "" {
			continue
		}
		snapshots = append(snapshots, databaseSnapshot(database))
	}
	return snapshots, nil
}

func databaseSnapshot(database models.Database) DatabaseSnapshot {
	return DatabaseSnapshot{
		ID:            database.Identifier(),
		Title:         database.Title,
		WidgetEnabled: database.WidgetEnabled,
		WidgetType:    database.WidgetType,
		URL:           database.URL,
	}
}

func (p *Publisher) publishTasks(ctx context.Context, tokenID string, live *keySet) (int, error) {
	databases, err := p.backend.ListWidgetEnabledDatabases(ctx, tokenID)
	if err != nil {
		live.addPrefix(TasksKey(tokenID, ""))
		return 0, fmt.Errorf("failed to list widget databases of %s: %w", tokenID, err)
	}

	var published int
	var errs []error
	for _, database := range databases {
		databaseID := database.Identifier()
		if databaseID == "" {
			continue
		}
		live.add(TasksKey(tokenID, databaseID))

		tasks, err := p.backend.ListTasks(ctx, tokenID, databaseID)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list tasks of %s: %w", databaseID, err))
			continue
		}

		list := TaskList{
			Timestamp: p.now().UTC(),
			Tasks:     make([]TaskSnapshot, 0, len(tasks)),
		}
		for _, task := range tasks {
			if task.NotionID == "" {
				continue
			}
			list.Tasks = append(list.Tasks, TaskSnapshot{
				ID:          task.NotionID,
				Title:       task.Title,
				IsCompleted: task.IsCompleted,
				DueDate:     task.DueDate,
			})
		}

		if err := p.write(ctx, TasksKey(tokenID, databaseID), schemaTasks, list); err != nil {
			errs = append(errs, err)
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}

// prune deletes the database and task keys that are not in live
func (p *Publisher) prune(ctx context.Context, live *keySet) (int, error) {
	var removed int
	var errs []error
	for _, prefix := range []string{prefixDatabases, prefixTasks} {
		keys, err := p.shared.Keys(ctx, prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s keys: %w", prefix, err))
			continue
		}
		for _, key := range keys {
			if live.has(key) {
				continue
			}
			if err := p.shared.Delete(ctx, key); err != nil && !errors.Is(err, kv.ErrNotFound) {
				errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (p *Publisher) write(ctx context.Context, key, schema string, value any) error {
	raw, err := p.schemas.encode(schema, value)
	if err != nil {
		return fmt.Errorf("refusing to publish %s: %w", key, err)
	}
	if err := p.shared.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SelectedFiles returns the files the user picked for tokenID
func (p *Publisher) SelectedFiles(ctx context.Context, tokenID string) ([]FileMetadata, error) {
	var files []FileMetadata
	if _, err := read(ctx, p.shared, SelectedFilesKey(tokenID), &files); err != nil {
		return nil, err
	}
	return files, nil
}

// SetSelectedFiles stores the selected entries of files for tokenID
func (p *Publisher) SetSelectedFiles(ctx context.Context, tokenID string, files []FileMetadata) error {
	selected := make([]FileMetadata, 0, len(files))
	for _, file := range files {
		if file.ID == "" || !file.IsSelected {
			continue
		}
		file.TokenID = tokenID
		if file.Kind == "" {
			file.Kind = FileKindDatabase
		}
		selected = append(selected, file)
	}

	if len(selected) == 0 {
		return p.shared.Delete(ctx, SelectedFilesKey(tokenID))
	}
	return p.write(ctx, SelectedFilesKey(tokenID), schemaFiles, selected)
}
