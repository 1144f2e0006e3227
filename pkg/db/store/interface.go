package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

// Kind names a storage backend; the values double as preference values
type Kind string

const (
	KindLocal Kind = "local"
	KindCloud Kind = "icloud"
)

// ParseKind accepts the persisted preference values. "cloud" is an alias of
// "icloud"; anything unknown selects the cloud default.
func ParseKind(raw string) Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "local":
		return KindLocal
	default:
		return KindCloud
	}
}

func (k Kind) Other() Kind {
	if k == KindLocal {
		return KindCloud
	}
	return KindLocal
}

// Backend is the single storage interface shared by the local and synced stores
type Backend interface {
	// Lifecycle
	Name() string
	Kind() Kind
	DB() *gorm.DB
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Token operations
	SaveToken(ctx context.Context, token *models.Token) error
	UpdateToken(ctx context.Context, token *models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	ListTokens(ctx context.Context) ([]models.Token, error)
	DeleteToken(ctx context.Context, id string) error

	// Database operations
	SaveDatabase(ctx context.Context, tokenID string, database *models.Database) error
	UpdateDatabase(ctx context.Context, database *models.Database) error
	GetDatabase(ctx context.Context, notionID string) (*models.Database, error)
	ListDatabases(ctx context.Context, tokenID string) ([]models.Database, error)
	ListWidgetEnabledDatabases(ctx context.Context, tokenID string) ([]models.Database, error)
	DeleteDatabase(ctx context.Context, notionID string) error

	// Task operations
	ListTasks(ctx context.Context, tokenID, databaseID string) ([]models.Task, error)

	// Widget configuration operations
	SaveWidgetConfiguration(ctx context.Context, config *models.WidgetConfiguration) error
	ListWidgetConfigurations(ctx context.Context, tokenID string) ([]models.WidgetConfiguration, error)

	// History
	RecordQuery(ctx context.Context, query *models.Query) error
	RecordSearchFilter(ctx context.Context, filter *models.SearchFilter) error

	// MigrateFrom copies every record of other into this backend
	MigrateFrom(ctx context.Context, other Backend) error
}

// PreferenceStore persists the per-device backend choice
type PreferenceStore interface {
	Storage() string
	SetStorage(value string) error
}
