// Package syncer runs the sync cycle: credentials are validated first, then
// the file lists of activated credentials are refreshed, then the tasks of
// widget-enabled databases, and finally the widget snapshot is published.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jacobrmount/Acrostic/internal/publisher"
	"github.com/jacobrmount/Acrostic/pkg/cache"
	"github.com/jacobrmount/Acrostic/pkg/db/mapper"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"github.com/jacobrmount/Acrostic/pkg/secret"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	DefaultMetadataMaxAge  = 24 * time.Hour
	DefaultMetadataRefresh = time.Hour
	DefaultTaskMaxAge      = 5 * time.Minute
	backgroundTimeout      = 2 * time.Minute
)

type Config struct {
	// MetadataMaxAge is the hard limit after which a cached file list is refetched
	MetadataMaxAge time.Duration
	// MetadataRefresh is the age after which a served file list is refreshed in the background
	MetadataRefresh time.Duration
	TaskMaxAge      time.Duration
	PageSize        int
	MaxPages        int
}

type Options struct {
	// Force bypasses every cache
	Force bool
}

type Syncer struct {
	backend   store.Backend
	secrets   secret.Store
	source    notion.Source
	cache     *cache.Service
	publisher *publisher.Publisher

	cfg    Config
	logger log.LoggerService
	now    func() time.Time

	group   singleflight.Group
	pending sync.WaitGroup
	running sync.Mutex
}

type Option func(*Syncer)

func WithConfig(cfg Config) Option {
	return func(s *Syncer) {
		s.cfg = cfg
	}
}

func WithLogger(logger log.LoggerService) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

func New(backend store.Backend, secrets secret.Store, source notion.Source, c *cache.Service, p *publisher.Publisher, opts ...Option) *Syncer {
	s := &Syncer{
		backend:   backend,
		secrets:   secrets,
		source:    source,
		cache:     c,
		publisher: p,
		logger:    log.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.MetadataMaxAge <= 0 {
		s.cfg.MetadataMaxAge = DefaultMetadataMaxAge
	}
	if s.cfg.MetadataRefresh <= 0 {
		s.cfg.MetadataRefresh = DefaultMetadataRefresh
	}
	if s.cfg.TaskMaxAge <= 0 {
		s.cfg.TaskMaxAge = DefaultTaskMaxAge
	}
	if s.cfg.MaxPages <= 0 {
		s.cfg.MaxPages = notion.DefaultMaxPages
	}
	return s
}

// cycle carries the secrets resolved during credential validation to the later stages
type cycle struct {
	opts    Options
	report  *Report
	secrets map[string]string
}

func newCycle(opts Options) *cycle {
	return &cycle{
		opts:    opts,
		report:  &Report{},
		secrets: make(map[string]string),
	}
}

// RunCycle performs one full sync. Only a failure to read the credential list
// is returned as an error; everything else is recorded in the report.
func (s *Syncer) RunCycle(ctx context.Context, opts Options) (*Report, error) {
	s.running.Lock()
	defer s.running.Unlock()

	started := s.now()
	c := newCycle(opts)

	if err := s.refreshTokens(ctx, c); err != nil {
		return c.report, err
	}

	tokens, err := s.activatedTokens(ctx)
	if err != nil {
		return c.report, err
	}

	for _, token := range tokens {
		if err := s.refreshFiles(ctx, c, token); err != nil {
			c.report.add(fmt.Errorf("file list of %s: %w", token.DisplayName(), err))
		}
	}

	for _, token := range tokens {
		s.refreshTasks(ctx, c, token)
	}

	s.publish(ctx, c)

	s.logger.Info("Sync cycle finished in %s: %d credentials checked, %d failed, %d databases synced",
		s.now().Sub(started).Round(time.Millisecond), c.report.TokensChecked, c.report.TokensFailed, c.report.DatabasesSynced)
	return c.report, nil
}

// ValidateTokens runs only the credential stage and republishes the token list
func (s *Syncer) ValidateTokens(ctx context.Context) (*Report, error) {
	s.running.Lock()
	defer s.running.Unlock()

	c := newCycle(Options{})
	if err := s.refreshTokens(ctx, c); err != nil {
		return c.report, err
	}
	s.publish(ctx, c)
	return c.report, nil
}

func (s *Syncer) publish(ctx context.Context, c *cycle) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx); err != nil {
		c.report.add(fmt.Errorf("publish: %w", err))
	}
}

// Wait blocks until every background refresh has finished
func (s *Syncer) Wait() {
	s.pending.Wait()
}

// refreshTokens validates every stored credential. A failed validation also
// deactivates the credential, in the same update.
func (s *Syncer) refreshTokens(ctx context.Context, c *cycle) error {
	tokens, err := s.backend.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.report.TokensChecked++

		workspace, key, err := s.validate(ctx, token)
		if err != nil {
			c.report.TokensFailed++
			c.report.add(fmt.Errorf("credential %s: %w", token.DisplayName(), err))
			s.logger.Warn("Credential %s failed validation: %v", token.ID, err)

			token.ConnectionStatus = false
			token.IsActivated = false
			if err := s.backend.UpdateToken(ctx, &token); err != nil {
				c.report.add(fmt.Errorf("failed to deactivate %s: %w", token.DisplayName(), err))
			}
			if err := s.cache.Invalidate(ctx, cache.MetadataCache, token.ID); err != nil {
				s.logger.Warn("Failed to drop workspace metadata of %s: %v", token.ID, err)
			}
			continue
		}

		if err := cache.Put(ctx, s.cache, workspace, cache.MetadataCache, token.ID); err != nil {
			s.logger.Warn("Failed to cache workspace metadata of %s: %v", token.ID, err)
		}

		c.secrets[token.ID] = key
		validated := s.now().UTC()
		token.ConnectionStatus = true
		token.LastValidated = &validated
		if workspace.ID != "" {
			token.WorkspaceID = &workspace.ID
		}
		if workspace.Name != "" {
			token.WorkspaceName = &workspace.Name
		}
		if err := s.backend.UpdateToken(ctx, &token); err != nil {
			c.report.add(fmt.Errorf("failed to update %s: %w", token.DisplayName(), err))
		}
	}
	return nil
}

func (s *Syncer) validate(ctx context.Context, token models.Token) (notion.Workspace, string, error) {
	key, err := s.secret(ctx, token)
	if err != nil {
		return notion.Workspace{}, "", err
	}

	workspace, err := s.source.Me(ctx, key)
	if err != nil {
		return notion.Workspace{}, "", err
	}
	return workspace, key, nil
}

func (s *Syncer) secret(ctx context.Context, token models.Token) (string, error) {
	name := token.SecretKey
	if name == "" {
		name = token.ID
	}

	key, err := s.secrets.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return key, nil
}

// Workspace returns the workspace metadata cached by the last successful
// validation of tokenID, when it is younger than the metadata max age
func (s *Syncer) Workspace(ctx context.Context, tokenID string) (notion.Workspace, bool, error) {
	return cache.Get[notion.Workspace](ctx, s.cache, cache.MetadataCache, tokenID, s.cfg.MetadataMaxAge)
}

// activatedTokens re-reads the credentials so deactivations from validation apply
func (s *Syncer) activatedTokens(ctx context.Context) ([]models.Token, error) {
	tokens, err := s.backend.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	activated := make([]models.Token, 0, len(tokens))
	for _, token := range tokens {
		if token.IsActivated && token.ID != "" {
			activated = append(activated, token)
		}
	}
	return activated, nil
}

// refreshFiles serves a cached file list younger than MetadataMaxAge and
// refreshes it in the background once it is older than MetadataRefresh.
// Anything else is fetched before returning.
func (s *Syncer) refreshFiles(ctx context.Context, c *cycle, token models.Token) error {
	if !c.opts.Force {
		entry, ok, err := cache.GetEntry[[]publisher.FileMetadata](ctx, s.cache, cache.FileListCache, token.ID)
		if err != nil {
			s.logger.Warn("Ignoring file list cache of %s: %v", token.ID, err)
		}

		if ok {
			age := entry.Age(s.cache.Now())
			if age <= s.cfg.MetadataMaxAge {
				if age > s.cfg.MetadataRefresh {
					s.refreshInBackground(ctx, token, c.secrets[token.ID])
				}
				return nil
			}
		}
	}

	_, err := s.fetchFilesOnce(ctx, token, c.secrets[token.ID])
	return err
}

func (s *Syncer) refreshInBackground(ctx context.Context, token models.Token, key string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()

		if _, err := s.fetchFilesOnce(ctx, token, key); err != nil {
			s.logger.Warn("Background refresh of %s failed: %v", token.ID, err)
			return
		}
		s.logger.Debug("Background refresh of %s finished", token.ID)
	}()
}

// fetchFilesOnce joins an in-flight fetch for the same credential instead of starting another
func (s *Syncer) fetchFilesOnce(ctx context.Context, token models.Token, key string) ([]publisher.FileMetadata, error) {
	v, err, _ := s.group.Do("files_"+token.ID, func() (any, error) {
		return s.fetchFiles(ctx, token, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]publisher.FileMetadata), nil
}

func (s *Syncer) fetchFiles(ctx context.Context, token models.Token, key string) ([]publisher.FileMetadata, error) {
	if key == "" {
		var err error
		if key, err = s.secret(ctx, token); err != nil {
			return nil, err
		}
	}

	req := notion.DatabaseSearch()
	req.PageSize = s.cfg.PageSize
	objects, err := notion.SearchAll(ctx, s.source, key, req, s.cfg.MaxPages)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var mapped []models.Database
	err = s.backend.Transaction(ctx, func(tx *gorm.DB) error {
		for _, obj := range objects {
			if obj.Object != "" && obj.Object != notion.ObjectDatabase {
				continue
			}
			record, err := mapper.MapDatabase(tx, token.ID, obj, now)
			if errors.Is(err, mapper.ErrMissingIdentifier) {
				continue
			}
			if err != nil {
				return err
			}
			mapped = append(mapped, *record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store databases: %w", err)
	}

	selected := make(map[string]bool)
	if s.publisher != nil {
		files, err := s.publisher.SelectedFiles(ctx, token.ID)
		if err != nil {
			s.logger.Warn("Ignoring file selection of %s: %v", token.ID, err)
		}
		for _, file := range files {
			selected[file.ID] = file.IsSelected
		}
	}

	files := make([]publisher.FileMetadata, 0, len(mapped))
	for _, database := range mapped {
		files = append(files, publisher.FileMetadata{
			ID:         database.Identifier(),
			Title:      database.Title,
			Kind:       publisher.FileKindDatabase,
			TokenID:    token.ID,
			IsSelected: selected[database.Identifier()],
		})
	}

	if err := cache.Put(ctx, s.cache, files, cache.FileListCache, token.ID); err != nil {
		s.logger.Warn("Failed to cache file list of %s: %v", token.ID, err)
	}
	if err := s.backend.RecordSearchFilter(ctx, &models.SearchFilter{
		TokenID:     token.ID,
		Query:       req.Query,
		ObjectType:  notion.ObjectDatabase,
		ResultCount: len(objects),
	}); err != nil {
		s.logger.Warn("Failed to record search of %s: %v", token.ID, err)
	}

	s.logger.Debug("Fetched %d databases for %s", len(files), token.ID)
	return files, nil
}

// refreshTasks pulls only the databases the user enabled for the widget
func (s *Syncer) refreshTasks(ctx context.Context, c *cycle, token models.Token) {
	databases, err := s.backend.ListWidgetEnabledDatabases(ctx, token.ID)
	if err != nil {
		c.report.add(fmt.Errorf("widget databases of %s: %w", token.DisplayName(), err))
		return
	}

	for _, database := range databases {
		databaseID := database.Identifier()
		if databaseID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.report.add(err)
			return
		}

		if err := s.syncDatabase(ctx, c, token, databaseID); err != nil {
			c.report.add(fmt.Errorf("tasks of %s: %w", database.Title, err))
			continue
		}
		c.report.DatabasesSynced++
	}
}

func (s *Syncer) syncDatabase(ctx context.Context, c *cycle, token models.Token, databaseID string) error {
	cacheID := token.ID + "_" + databaseID
	if !c.opts.Force {
		_, ok, err := cache.Get[[]publisher.TaskSnapshot](ctx, s.cache, cache.TaskListCache, cacheID, s.cfg.TaskMaxAge)
		if err != nil {
			s.logger.Warn("Ignoring task cache of %s: %v", cacheID, err)
		}
		if ok {
			return nil
		}
	}

	key := c.secrets[token.ID]
	if key == "" {
		var err error
		if key, err = s.secret(ctx, token); err != nil {
			return err
		}
	}

	req := notion.QueryRequest{PageSize: s.cfg.PageSize}
	pages, complete, err := notion.QueryComplete(ctx, s.source, key, databaseID, req, s.cfg.MaxPages)
	if err != nil {
		return err
	}
	if !complete {
		s.logger.Warn("Query of %s stopped after %d pages, keeping unseen tasks", databaseID, s.cfg.MaxPages)
	}

	now := s.now().UTC()
	tasks := make([]publisher.TaskSnapshot, 0, len(pages))
	err = s.backend.Transaction(ctx, func(tx *gorm.DB) error {
		seen := make([]string, 0, len(pages))
		for _, obj := range pages {
			page, err := mapper.MapPage(tx, obj, now)
			if errors.Is(err, mapper.ErrMissingIdentifier) {
				continue
			}
			if err != nil {
				return err
			}
			task, err := mapper.MapTask(tx, page, token.ID, now)
			if err != nil {
				return err
			}
			seen = append(seen, page.NotionID)
			tasks = append(tasks, publisher.TaskSnapshot{
				ID:          task.NotionID,
				Title:       task.Title,
				IsCompleted: task.IsCompleted,
				DueDate:     task.DueDate,
			})
		}
		if !complete {
			return nil
		}

		removed, err := mapper.PruneDatabase(tx, databaseID, seen)
		if err != nil {
			return err
		}
		if removed > 0 {
			s.logger.Debug("Removed %d tasks no longer in %s", removed, databaseID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store tasks: %w", err)
	}

	if err := cache.Put(ctx, s.cache, tasks, cache.TaskListCache, cacheID); err != nil {
		s.logger.Warn("Failed to cache tasks of %s: %v", cacheID, err)
	}
	if err := s.backend.RecordQuery(ctx, s.queryRecord(token.ID, databaseID, req, len(pages))); err != nil {
		s.logger.Warn("Failed to record query of %s: %v", databaseID, err)
	}
	return nil
}

func (s *Syncer) queryRecord(tokenID, databaseID string, req notion.QueryRequest, count int) *models.Query {
	record := &models.Query{
		TokenID:     tokenID,
		DatabaseID:  databaseID,
		ResultCount: count,
	}
	if req.Filter != nil {
		if raw, err := json.Marshal(req.Filter); err == nil {
			record.Filter = raw
		}
	}
	if len(req.Sorts) > 0 {
		if raw, err := json.Marshal(req.Sorts); err == nil {
			record.Sorts = raw
		}
	}
	return record
}
