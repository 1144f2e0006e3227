package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"gorm.io/gorm"
)

const (
	DefaultInitTimeout = 5 * time.Second

	FallbackNotice = "iCloud storage is unavailable, using local storage on this device"
)

// Opener creates, connects and migrates one backend
type Opener func(ctx context.Context) (Backend, error)

// GormOpener wraps a GormStore constructor into an Opener
func GormOpener(open func() (*GormStore, error)) Opener {
	return func(ctx context.Context) (Backend, error) {
		s, err := open()
		if err != nil {
			return nil, err
		}
		if err := s.Connect(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", s.Name(), err)
		}
		return s, nil
	}
}

type ManagerOptions struct {
	Local       Opener
	Cloud       Opener
	Preferences PreferenceStore
	InitTimeout time.Duration
	Logger      log.LoggerService
}

// Manager selects the active backend from the stored preference and routes
// every Backend call to it. Single-record saves and updates fall back to the
// other backend when the active one fails.
type Manager struct {
	mu     sync.RWMutex
	opts   ManagerOptions
	logger log.LoggerService

	backends    map[Kind]Backend
	unavailable map[Kind]error
	kind        Kind
	notice      string
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{
		opts:        opts,
		logger:      logger,
		backends:    make(map[Kind]Backend),
		unavailable: make(map[Kind]error),
	}
}

// Init opens the preferred backend. When the synced backend cannot be opened
// the local backend is used instead, the preference is corrected to "local"
// and a notice is recorded for the user.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	preferred := ParseKind(m.opts.Preferences.Storage())

	backend, err := m.open(ctx, preferred)
	if err == nil {
		m.kind = preferred
		m.logger.Info("Using %s storage backend", backend.Name())
		return nil
	}
	if preferred == KindLocal {
		return fmt.Errorf("failed to open local storage: %w", err)
	}

	m.logger.Warn("Synced storage unavailable, falling back to local: %v", err)

	local, lerr := m.open(ctx, KindLocal)
	if lerr != nil {
		return errors.Join(err, fmt.Errorf("failed to open local storage: %w", lerr))
	}

	m.kind = KindLocal
	m.notice = FallbackNotice
	if perr := m.opts.Preferences.SetStorage(string(KindLocal)); perr != nil {
		m.logger.Error("Failed to correct storage preference: %v", perr)
	}
	m.logger.Info("Using %s storage backend", local.Name())
	return nil
}

// open returns the cached backend of kind or opens it within the init timeout.
// Callers hold m.mu.
func (m *Manager) open(ctx context.Context, kind Kind) (Backend, error) {
	if backend, ok := m.backends[kind]; ok {
		return backend, nil
	}

	opener := m.opts.Local
	if kind == KindCloud {
		opener = m.opts.Cloud
	}
	if opener == nil {
		return nil, fmt.Errorf("%w: %s backend is not configured", ErrBackendUnavailable, kind)
	}

	backend, err := openWithTimeout(ctx, opener, m.opts.InitTimeout)
	if err != nil {
		m.unavailable[kind] = err
		return nil, err
	}

	delete(m.unavailable, kind)
	m.backends[kind] = backend
	return backend, nil
}

func openWithTimeout(ctx context.Context, opener Opener, timeout time.Duration) (Backend, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		backend Backend
		err     error
	}
	done := make(chan result, 1)
	go func() {
		backend, err := opener(ctx)
		done <- result{backend: backend, err: err}
	}()

	select {
	case r := <-done:
		return r.backend, r.err
	case <-ctx.Done():
		// Close whatever the opener produces after we gave up on it
		go func() {
			if r := <-done; r.backend != nil {
				r.backend.Close()
			}
		}()
		return nil, fmt.Errorf("%w: initialization timed out after %s", ErrBackendUnavailable, timeout)
	}
}

// Active returns the backend all calls are routed to
func (m *Manager) Active() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backends[m.kind]
}

// Notice returns the pending user-facing storage notice, if any
func (m *Manager) Notice() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notice
}

// Switch makes kind the active backend after migrating every record from the
// current one. A failed migration reverts the preference and keeps the
// current backend active; records already copied stay in the target.
func (m *Manager) Switch(ctx context.Context, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == m.kind {
		return nil
	}

	current, ok := m.backends[m.kind]
	if !ok {
		return fmt.Errorf("%w: storage is not initialized", ErrBackendUnavailable)
	}

	target, err := m.open(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", kind, err)
	}

	previous := m.opts.Preferences.Storage()
	if err := m.opts.Preferences.SetStorage(string(kind)); err != nil {
		return fmt.Errorf("failed to store storage preference: %w", err)
	}

	m.logger.Info("Migrating from %s to %s", current.Name(), target.Name())
	if err := target.MigrateFrom(ctx, current); err != nil {
		if perr := m.opts.Preferences.SetStorage(previous); perr != nil {
			m.logger.Error("Failed to revert storage preference: %v", perr)
		}
		return fmt.Errorf("storage switch to %s aborted: %w", kind, err)
	}

	m.kind = kind
	m.notice = ""
	return nil
}

// other returns the non-active backend, opening it on first use. A backend
// that failed to open is not retried.
func (m *Manager) other(ctx context.Context) Backend {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := m.kind.Other()
	if _, failed := m.unavailable[kind]; failed {
		return nil
	}
	backend, err := m.open(ctx, kind)
	if err != nil {
		m.logger.Debug("Fallback backend %s unavailable: %v", kind, err)
		return nil
	}
	return backend
}

func (m *Manager) active() (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backend, ok := m.backends[m.kind]
	if !ok {
		return nil, fmt.Errorf("%w: storage is not initialized", ErrBackendUnavailable)
	}
	return backend, nil
}

// withFallback runs fn on the active backend and, if that fails, once on the
// other backend. Only a double failure is returned.
func (m *Manager) withFallback(ctx context.Context, op string, fn func(Backend) error) error {
	active, err := m.active()
	if err != nil {
		return err
	}

	primaryErr := fn(active)
	if primaryErr == nil {
		return nil
	}

	other := m.other(ctx)
	if other == nil {
		return primaryErr
	}

	m.logger.Warn("%s failed on %s, retrying on %s: %v", op, active.Name(), other.Name(), primaryErr)
	if err := fn(other); err != nil {
		return errors.Join(primaryErr, err)
	}
	return nil
}

// Backend implementation

func (m *Manager) Name() string {
	if active, err := m.active(); err == nil {
		return active.Name()
	}
	return "uninitialized"
}

func (m *Manager) Kind() Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kind
}

func (m *Manager) DB() *gorm.DB {
	if active, err := m.active(); err == nil {
		return active.DB()
	}
	return nil
}

func (m *Manager) Connect(ctx context.Context) error {
	return m.Init(ctx)
}

// Close closes every backend that was opened
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for kind, backend := range m.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", kind, err))
		}
		delete(m.backends, kind)
	}
	return errors.Join(errs...)
}

func (m *Manager) Migrate(ctx context.Context) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.Migrate(ctx)
}

func (m *Manager) Health(ctx context.Context) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.Health(ctx)
}

func (m *Manager) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.Transaction(ctx, fn)
}

func (m *Manager) SaveToken(ctx context.Context, token *models.Token) error {
	return m.withFallback(ctx, "save token", func(b Backend) error {
		return b.SaveToken(ctx, token)
	})
}

func (m *Manager) UpdateToken(ctx context.Context, token *models.Token) error {
	return m.withFallback(ctx, "update token", func(b Backend) error {
		return b.UpdateToken(ctx, token)
	})
}

func (m *Manager) GetToken(ctx context.Context, id string) (*models.Token, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.GetToken(ctx, id)
}

func (m *Manager) ListTokens(ctx context.Context) ([]models.Token, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.ListTokens(ctx)
}

func (m *Manager) DeleteToken(ctx context.Context, id string) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.DeleteToken(ctx, id)
}

func (m *Manager) SaveDatabase(ctx context.Context, tokenID string, database *models.Database) error {
	return m.withFallback(ctx, "save database", func(b Backend) error {
		return b.SaveDatabase(ctx, tokenID, database)
	})
}

func (m *Manager) UpdateDatabase(ctx context.Context, database *models.Database) error {
	return m.withFallback(ctx, "update database", func(b Backend) error {
		return b.UpdateDatabase(ctx, database)
	})
}

func (m *Manager) GetDatabase(ctx context.Context, notionID string) (*models.Database, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.GetDatabase(ctx, notionID)
}

func (m *Manager) ListDatabases(ctx context.Context, tokenID string) ([]models.Database, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.ListDatabases(ctx, tokenID)
}

func (m *Manager) ListWidgetEnabledDatabases(ctx context.Context, tokenID string) ([]models.Database, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.ListWidgetEnabledDatabases(ctx, tokenID)
}

func (m *Manager) DeleteDatabase(ctx context.Context, notionID string) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.DeleteDatabase(ctx, notionID)
}

func (m *Manager) ListTasks(ctx context.Context, tokenID, databaseID string) ([]models.Task, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.ListTasks(ctx, tokenID, databaseID)
}

func (m *Manager) SaveWidgetConfiguration(ctx context.Context, config *models.WidgetConfiguration) error {
	return m.withFallback(ctx, "save widget configuration", func(b Backend) error {
		return b.SaveWidgetConfiguration(ctx, config)
	})
}

func (m *Manager) ListWidgetConfigurations(ctx context.Context, tokenID string) ([]models.WidgetConfiguration, error) {
	active, err := m.active()
	if err != nil {
		return nil, err
	}
	return active.ListWidgetConfigurations(ctx, tokenID)
}

func (m *Manager) RecordQuery(ctx context.Context, query *models.Query) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.RecordQuery(ctx, query)
}

func (m *Manager) RecordSearchFilter(ctx context.Context, filter *models.SearchFilter) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.RecordSearchFilter(ctx, filter)
}

func (m *Manager) MigrateFrom(ctx context.Context, other Backend) error {
	active, err := m.active()
	if err != nil {
		return err
	}
	return active.MigrateFrom(ctx, other)
}
