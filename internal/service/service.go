// Package service is the single entry point for user actions. It keeps the
// loading and error state a front end renders and republishes the widget
// snapshot after every change.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobrmount/Acrostic/internal/publisher"
	"github.com/jacobrmount/Acrostic/internal/syncer"
	"github.com/jacobrmount/Acrostic/pkg/cache"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/jsonvalue"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"github.com/jacobrmount/Acrostic/pkg/oplog"
	"github.com/jacobrmount/Acrostic/pkg/secret"
	"gorm.io/datatypes"
)

// Storage is the active backend plus the controls of the backend manager
type Storage interface {
	store.Backend
	Switch(ctx context.Context, kind store.Kind) error
	Notice() string
}

type State struct {
	IsLoading    bool
	ErrorMessage string
	Notice       string
}

type Service struct {
	storage   Storage
	secrets   secret.Store
	source    notion.Source
	cache     *cache.Service
	publisher *publisher.Publisher
	syncer    *syncer.Syncer
	history   *oplog.Log
	logger    log.LoggerService

	mu      sync.Mutex
	loading int
	message string
}

type Dependencies struct {
	Storage   Storage
	Secrets   secret.Store
	Source    notion.Source
	Cache     *cache.Service
	Publisher *publisher.Publisher
	Syncer    *syncer.Syncer
	// History is optional; credential changes are not recorded without it
	History *oplog.Log
	Logger  log.LoggerService
}

func New(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		storage:   deps.Storage,
		secrets:   deps.Secrets,
		source:    deps.Source,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		syncer:    deps.Syncer,
		history:   deps.History,
		logger:    logger,
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		IsLoading:    s.loading > 0,
		ErrorMessage: s.message,
		Notice:       s.storage.Notice(),
	}
}

// track marks the service as loading for the duration of fn and records its
// outcome as the current error message
func (s *Service) track(fn func() error) error {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()

	err := fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading--
	if err != nil {
		s.message = err.Error()
	} else {
		s.message = ""
	}
	return err
}

// AddToken validates secret against the remote service and stores the new
// credential activated. Nothing is stored when validation fails.
func (s *Service) AddToken(ctx context.Context, name, key string) (*models.Token, error) {
	var token *models.Token
	err := s.track(func() error {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("secret is required")
		}

		workspace, err := s.source.Me(ctx, key)
		if err != nil {
			return fmt.Errorf("credential rejected: %w", err)
		}

		id := uuid.NewString()
		token = &models.Token{
			ID:               id,
			Name:             strings.TrimSpace(name),
			SecretKey:        id,
			ConnectionStatus: true,
			IsActivated:      true,
		}
		if workspace.ID != "" {
			token.WorkspaceID = &workspace.ID
		}
		if workspace.Name != "" {
			token.WorkspaceName = &workspace.Name
		}

		if err := s.secrets.Set(ctx, token.SecretKey, key); err != nil {
			return fmt.Errorf("failed to store secret: %w", err)
		}
		if err := s.storage.SaveToken(ctx, token); err != nil {
			if derr := s.secrets.Delete(ctx, token.SecretKey); derr != nil {
				s.logger.Warn("Failed to remove secret of unsaved credential: %v", derr)
			}
			return fmt.Errorf("failed to save credential: %w", err)
		}

		s.logger.Info("Added credential %s", token.DisplayName())
		s.record(ctx, oplog.StoreToken, token)
		s.publish(ctx)
		return nil
	})
	return token, err
}

func (s *Service) ListTokens(ctx context.Context) ([]models.Token, error) {
	return s.storage.ListTokens(ctx)
}

// Workspace returns the workspace metadata cached by the last validation of tokenID
func (s *Service) Workspace(ctx context.Context, tokenID string) (notion.Workspace, bool, error) {
	return s.syncer.Workspace(ctx, tokenID)
}

// TokenHistory returns the recorded changes of the credential, oldest first
func (s *Service) TokenHistory(ctx context.Context, tokenID string) ([]oplog.Entry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.History(ctx, tokenID)
}

// LastTokenChange returns the most recent change of kind to the credential
func (s *Service) LastTokenChange(ctx context.Context, tokenID string, kind oplog.Kind) (oplog.Entry, bool, error) {
	if s.history == nil {
		return oplog.Entry{}, false, nil
	}
	return s.history.Latest(ctx, tokenID, kind)
}

// ValidateTokens checks every credential. Failed validations surface
// through the error message of State.
func (s *Service) ValidateTokens(ctx context.Context) (*syncer.Report, error) {
	var report *syncer.Report
	var cycleErr error

	s.track(func() error {
		report, cycleErr = s.syncer.ValidateTokens(ctx)
		return reportError(report, cycleErr)
	})
	return report, cycleErr
}

// DeleteToken removes the credential with its links, tasks and secret. When
// the store delete fails nothing else is touched.
func (s *Service) DeleteToken(ctx context.Context, id string) error {
	return s.track(func() error {
		token, err := s.storage.GetToken(ctx, id)
		if err != nil {
			return err
		}
		if err := s.storage.DeleteToken(ctx, id); err != nil {
			return fmt.Errorf("failed to delete credential: %w", err)
		}

		key := token.SecretKey
		if key == "" {
			key = token.ID
		}
		if err := s.secrets.Delete(ctx, key); err != nil && !errors.Is(err, secret.ErrNotFound) {
			s.logger.Warn("Failed to delete secret of %s: %v", id, err)
		}
		if err := s.cache.Invalidate(ctx, cache.FileListCache, id); err != nil {
			s.logger.Warn("Failed to invalidate file list of %s: %v", id, err)
		}
		if err := s.cache.Invalidate(ctx, cache.MetadataCache, id); err != nil {
			s.logger.Warn("Failed to invalidate workspace metadata of %s: %v", id, err)
		}
		if err := s.publisher.SetSelectedFiles(ctx, id, nil); err != nil {
			s.logger.Warn("Failed to clear file selection of %s: %v", id, err)
		}

		s.record(ctx, oplog.DeleteToken, token)
		s.publish(ctx)
		return nil
	})
}

func (s *Service) SetActivated(ctx context.Context, id string, activated bool) error {
	return s.track(func() error {
		token, err := s.storage.GetToken(ctx, id)
		if err != nil {
			return err
		}
		token.IsActivated = activated
		if err := s.storage.UpdateToken(ctx, token); err != nil {
			return fmt.Errorf("failed to update credential: %w", err)
		}
		s.record(ctx, oplog.UpdateToken, token)
		s.publish(ctx)
		return nil
	})
}

// SetWidgetEnabled opts a database in or out of task syncing. Its cached
// task list is dropped so the next cycle fetches it.
func (s *Service) SetWidgetEnabled(ctx context.Context, tokenID, databaseID string, enabled bool) error {
	return s.track(func() error {
		database, err := s.storage.GetDatabase(ctx, databaseID)
		if err != nil {
			return err
		}
		database.WidgetEnabled = enabled
		if enabled && database.WidgetType == "" {
			database.WidgetType = string(models.WidgetKindTasks)
		}
		if err := s.storage.UpdateDatabase(ctx, database); err != nil {
			return fmt.Errorf("failed to update database: %w", err)
		}
		if err := s.cache.Invalidate(ctx, cache.TaskListCache, tokenID+"_"+databaseID); err != nil {
			s.logger.Warn("Failed to invalidate tasks of %s: %v", databaseID, err)
		}
		s.publish(ctx)
		return nil
	})
}

// SaveWidgetConfiguration validates and stores the display settings of one
// widget. tokenID and databaseID are optional; when given they must exist.
func (s *Service) SaveWidgetConfiguration(ctx context.Context, tokenID, databaseID string, config models.WidgetConfiguration) (*models.WidgetConfiguration, error) {
	err := s.track(func() error {
		if config.Kind == "" {
			config.Kind = models.WidgetKindTasks
		}
		if !config.Kind.Valid() {
			return fmt.Errorf("unknown widget kind %q", config.Kind)
		}
		if config.Size == "" {
			config.Size = models.WidgetSizeMedium
		}
		if !config.Size.Valid() {
			return fmt.Errorf("unknown widget size %q", config.Size)
		}
		if len(config.Configuration) > 0 {
			if _, err := jsonvalue.Parse(config.Configuration); err != nil {
				return fmt.Errorf("invalid widget configuration: %w", err)
			}
		} else {
			config.Configuration = datatypes.JSON("{}")
		}

		config.TokenID = nil
		if tokenID != "" {
			if _, err := s.storage.GetToken(ctx, tokenID); err != nil {
				return err
			}
			config.TokenID = &tokenID
		}
		config.DatabaseRowID = nil
		if databaseID != "" {
			database, err := s.storage.GetDatabase(ctx, databaseID)
			if err != nil {
				return err
			}
			rowID := database.RowID
			config.DatabaseRowID = &rowID
		}
		config.LastUpdated = s.cache.Now().UTC()

		if err := s.storage.SaveWidgetConfiguration(ctx, &config); err != nil {
			return fmt.Errorf("failed to save widget configuration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// ListWidgetConfigurations returns the widgets of tokenID, or every widget when it is empty
func (s *Service) ListWidgetConfigurations(ctx context.Context, tokenID string) ([]models.WidgetConfiguration, error) {
	return s.storage.ListWidgetConfigurations(ctx, tokenID)
}

// Files returns the cached file list of tokenID with the current selection applied
func (s *Service) Files(ctx context.Context, tokenID string) ([]publisher.FileMetadata, error) {
	entry, _, err := cache.GetEntry[[]publisher.FileMetadata](ctx, s.cache, cache.FileListCache, tokenID)
	if err != nil {
		return nil, err
	}
	selected, err := s.publisher.SelectedFiles(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	picked := make(map[string]bool, len(selected))
	for _, file := range selected {
		picked[file.ID] = true
	}
	files := entry.Value
	for i := range files {
		files[i].IsSelected = picked[files[i].ID]
	}
	return files, nil
}

// ToggleFileSelection flips the selection of fileID and republishes
func (s *Service) ToggleFileSelection(ctx context.Context, tokenID, fileID string) error {
	return s.track(func() error {
		selected, err := s.publisher.SelectedFiles(ctx, tokenID)
		if err != nil {
			return err
		}

		var next []publisher.FileMetadata
		found := false
		for _, file := range selected {
			if file.ID == fileID {
				found = true
				continue
			}
			next = append(next, file)
		}

		if !found {
			file, err := s.lookupFile(ctx, tokenID, fileID)
			if err != nil {
				return err
			}
			file.IsSelected = true
			next = append(next, file)
		}

		if err := s.publisher.SetSelectedFiles(ctx, tokenID, next); err != nil {
			return fmt.Errorf("failed to store file selection: %w", err)
		}
		s.publish(ctx)
		return nil
	})
}

func (s *Service) lookupFile(ctx context.Context, tokenID, fileID string) (publisher.FileMetadata, error) {
	entry, ok, err := cache.GetEntry[[]publisher.FileMetadata](ctx, s.cache, cache.FileListCache, tokenID)
	if err != nil {
		return publisher.FileMetadata{}, err
	}
	if ok {
		for _, file := range entry.Value {
			if file.ID == fileID {
				return file, nil
			}
		}
	}

	database, err := s.storage.GetDatabase(ctx, fileID)
	if err != nil {
		return publisher.FileMetadata{}, err
	}
	return publisher.FileMetadata{
		ID:      database.Identifier(),
		Title:   database.Title,
		Kind:    publisher.FileKindDatabase,
		TokenID: tokenID,
	}, nil
}

// SwitchStorage migrates every record into the backend named by raw and makes it active
func (s *Service) SwitchStorage(ctx context.Context, raw string) error {
	return s.track(func() error {
		if err := s.storage.Switch(ctx, store.ParseKind(raw)); err != nil {
			return err
		}
		s.publish(ctx)
		return nil
	})
}

// Sync runs one sync cycle. Per-item failures surface through the error
// message of State; only a failure of the cycle itself is returned.
func (s *Service) Sync(ctx context.Context, force bool) (*syncer.Report, error) {
	var report *syncer.Report
	var cycleErr error

	s.track(func() error {
		report, cycleErr = s.syncer.RunCycle(ctx, syncer.Options{Force: force})
		return reportError(report, cycleErr)
	})
	return report, cycleErr
}

func reportError(report *syncer.Report, err error) error {
	if err != nil {
		return err
	}
	if summary := report.Summary(); summary != "" {
		return errors.New(summary)
	}
	return report.Err()
}

// record keeps the credential change in the operation log; the secret itself
// is never part of the record
func (s *Service) record(ctx context.Context, kind oplog.Kind, token *models.Token) {
	if s.history == nil {
		return
	}
	value := map[string]any{
		"id":               token.ID,
		"name":             token.DisplayName(),
		"connectionStatus": token.ConnectionStatus,
		"isActivated":      token.IsActivated,
	}
	if err := s.history.Record(ctx, kind, token.ID, value, nil); err != nil {
		s.logger.Warn("Failed to record %s of %s: %v", kind, token.ID, err)
	}
}

func (s *Service) publish(ctx context.Context) {
	if err := s.publisher.Publish(ctx); err != nil {
		s.logger.Warn("Failed to publish widget snapshot: %v", err)
	}
}
