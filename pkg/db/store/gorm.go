package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jacobrmount/Acrostic/pkg/db/mapper"
	"github.com/jacobrmount/Acrostic/pkg/db/migrations"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements Backend on top of gorm. The local backend uses sqlite,
// the synced backend usually postgres; both share one schema.
type GormStore struct {
	db      *gorm.DB
	kind    Kind
	dialect string
	cfg     Config
}

// Config holds the connection settings of a single backend
type Config struct {
	Kind         Kind
	DSN          string
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// DB returns the underlying GORM database instance
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// OpenLocal opens the device-only sqlite store at path
func OpenLocal(path string) (*GormStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	return NewGormStore(Config{Kind: KindLocal, DSN: "sqlite://" + path})
}

// OpenCloud opens the synced store. A postgres DSN is expected; sqlite DSNs
// are accepted for tests and single-machine setups.
func OpenCloud(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%w: cloud dsn is not configured", ErrBackendUnavailable)
	}
	return NewGormStore(Config{Kind: KindCloud, DSN: dsn})
}

// OpenFromDSN opens a backend of the given kind from a DSN
func OpenFromDSN(kind Kind, dsn string) (*GormStore, error) {
	return NewGormStore(Config{Kind: kind, DSN: dsn})
}

func NewGormStore(cfg Config) (*GormStore, error) {
	dialect, dialector, err := openDialector(cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s database: %v", ErrBackendUnavailable, dialect, err)
	}

	return &GormStore{
		db:      db,
		kind:    cfg.Kind,
		dialect: dialect,
		cfg:     cfg,
	}, nil
}

func openDialector(dsn string) (string, gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", nil, fmt.Errorf("dsn is required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return "postgres", postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return "sqlite", sqlite.Open(dsn), nil
	default:
		return "", nil, fmt.Errorf("unsupported dsn %q", dsn)
	}
}

func (s *GormStore) Name() string {
	return string(s.kind) + "/" + s.dialect
}

func (s *GormStore) Kind() Kind {
	return s.kind
}

// Connect configures the connection pool and verifies connectivity
func (s *GormStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if s.dialect == "sqlite" {
		// SQLite only supports 1 writer
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		maxOpen := s.cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs the versioned schema migrations
func (s *GormStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Token operations

// SaveToken inserts or replaces a token, keyed by its id
func (s *GormStore) SaveToken(ctx context.Context, token *models.Token) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Save(token).Error
}

// UpdateToken writes every column of an existing token in a single statement
func (s *GormStore) UpdateToken(ctx context.Context, token *models.Token) error {
	if token.ID == "" {
		return fmt.Errorf("token id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Token{}).
		Where("id = ?", token.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("token %s: %w", token.ID, ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetToken(ctx context.Context, id string) (*models.Token, error) {
	var token models.Token
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&token).Error
	if err != nil {
		return nil, notFound(err, "token", id)
	}
	return &token, nil
}

func (s *GormStore) ListTokens(ctx context.Context) ([]models.Token, error) {
	var tokens []models.Token
	err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&tokens).Error
	return tokens, err
}

// DeleteToken removes the token, its links, tasks and widget configurations.
// Databases that no other token links to are removed with their pages and tasks.
func (s *GormStore) DeleteToken(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Delete(&models.Token{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("token %s: %w", id, ErrNotFound)
		}

		var linked []uint
		if err := tx.Model(&models.TokenDatabase{}).
			Where("token_id = ?", id).
			Pluck("database_row_id", &linked).Error; err != nil {
			return fmt.Errorf("failed to list linked databases: %w", err)
		}

		if err := tx.Where("token_id = ?", id).Delete(&models.TokenDatabase{}).Error; err != nil {
			return err
		}
		if err := tx.Where("token_id = ?", id).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		if err := tx.Where("token_id = ?", id).Delete(&models.WidgetConfiguration{}).Error; err != nil {
			return err
		}
		if len(linked) == 0 {
			return nil
		}

		var shared []uint
		if err := tx.Model(&models.TokenDatabase{}).
			Where("database_row_id IN ?", linked).
			Distinct().
			Pluck("database_row_id", &shared).Error; err != nil {
			return fmt.Errorf("failed to list shared databases: %w", err)
		}
		orphaned := orphanedRows(linked, shared)
		if len(orphaned) == 0 {
			return nil
		}
		return deleteDatabaseRows(tx, orphaned)
	})
}

func orphanedRows(linked, shared []uint) []uint {
	keep := make(map[uint]bool, len(shared))
	for _, rowID := range shared {
		keep[rowID] = true
	}

	var orphaned []uint
	for _, rowID := range linked {
		if !keep[rowID] {
			orphaned = append(orphaned, rowID)
		}
	}
	return orphaned
}

// deleteDatabaseRows removes the databases with their links, pages and tasks.
// Widget configurations pointing at them are detached.
func deleteDatabaseRows(tx *gorm.DB, rowIDs []uint) error {
	if err := tx.Where("database_row_id IN ?", rowIDs).Delete(&models.Task{}).Error; err != nil {
		return err
	}
	if err := tx.Where("database_row_id IN ?", rowIDs).Delete(&models.Page{}).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.WidgetConfiguration{}).
		Where("database_row_id IN ?", rowIDs).
		Update("database_row_id", gorm.Expr("NULL")).Error; err != nil {
		return err
	}
	if err := tx.Where("database_row_id IN ?", rowIDs).Delete(&models.TokenDatabase{}).Error; err != nil {
		return err
	}
	return tx.Where("row_id IN ?", rowIDs).Delete(&models.Database{}).Error
}

// Database operations

// SaveDatabase upserts the database by remote id and links it to tokenID.
// On return database.RowID holds the row id in this backend.
func (s *GormStore) SaveDatabase(ctx context.Context, tokenID string, database *models.Database) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		stored, err := mapper.UpsertDatabase(tx, tokenID, *database)
		if err != nil {
			return err
		}
		*database = *stored
		return nil
	})
}

// UpdateDatabase writes every column of the database rows sharing its remote
// id, or of its row id when the remote id is missing
func (s *GormStore) UpdateDatabase(ctx context.Context, database *models.Database) error {
	query := s.db.WithContext(ctx).Model(&models.Database{})
	switch {
	case database.Identifier() != "":
		query = query.Where("notion_id = ?", database.Identifier())
	case database.RowID != 0:
		query = query.Where("row_id = ?", database.RowID)
	default:
		return fmt.Errorf("database identifier is required")
	}

	result := query.Select("*").Omit("row_id", "created_at").Updates(database)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("database %s: %w", database.Identifier(), ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetDatabase(ctx context.Context, notionID string) (*models.Database, error) {
	var database models.Database
	err := s.db.WithContext(ctx).
		Where("notion_id = ?", notionID).
		Order("row_id ASC").
		First(&database).Error
	if err != nil {
		return nil, notFound(err, "database", notionID)
	}
	return &database, nil
}

// ListDatabases returns the databases linked to tokenID, or all databases when tokenID is empty
func (s *GormStore) ListDatabases(ctx context.Context, tokenID string) ([]models.Database, error) {
	var databases []models.Database
	err := s.databasesQuery(ctx, tokenID).Find(&databases).Error
	return databases, err
}

func (s *GormStore) ListWidgetEnabledDatabases(ctx context.Context, tokenID string) ([]models.Database, error) {
	var databases []models.Database
	err := s.databasesQuery(ctx, tokenID).
		Where("databases.widget_enabled = ?", true).
		Find(&databases).Error
	return databases, err
}

func (s *GormStore) databasesQuery(ctx context.Context, tokenID string) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Database{})
	if tokenID != "" {
		query = query.
			Joins("JOIN token_databases ON token_databases.database_row_id = databases.row_id").
			Where("token_databases.token_id = ?", tokenID)
	}
	return query.Order("databases.title ASC, databases.row_id ASC")
}

// DeleteDatabase removes every row with the remote id and the pages and tasks below it
func (s *GormStore) DeleteDatabase(ctx context.Context, notionID string) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		var rowIDs []uint
		if err := tx.Model(&models.Database{}).Where("notion_id = ?", notionID).Pluck("row_id", &rowIDs).Error; err != nil {
			return err
		}
		if len(rowIDs) == 0 {
			return fmt.Errorf("database %s: %w", notionID, ErrNotFound)
		}
		return deleteDatabaseRows(tx, rowIDs)
	})
}

// Task operations

// ListTasks returns the tasks of the database with the remote id databaseID.
// A non-empty tokenID additionally requires the token to be linked to it.
func (s *GormStore) ListTasks(ctx context.Context, tokenID, databaseID string) ([]models.Task, error) {
	var tasks []models.Task
	query := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Joins("JOIN databases ON databases.row_id = tasks.database_row_id").
		Where("databases.notion_id = ?", databaseID)

	if tokenID != "" {
		query = query.
			Joins("JOIN token_databases ON token_databases.database_row_id = databases.row_id").
			Where("token_databases.token_id = ?", tokenID)
	}

	err := query.Order("tasks.row_id ASC").Find(&tasks).Error
	return tasks, err
}

// Widget configuration operations

func (s *GormStore) SaveWidgetConfiguration(ctx context.Context, config *models.WidgetConfiguration) error {
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	if config.LastUpdated.IsZero() {
		config.LastUpdated = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Save(config).Error
}

func (s *GormStore) ListWidgetConfigurations(ctx context.Context, tokenID string) ([]models.WidgetConfiguration, error) {
	var configs []models.WidgetConfiguration
	query := s.db.WithContext(ctx)
	if tokenID != "" {
		query = query.Where("token_id = ?", tokenID)
	}
	err := query.Order("created_at ASC").Find(&configs).Error
	return configs, err
}

// History

func (s *GormStore) RecordQuery(ctx context.Context, query *models.Query) error {
	return s.db.WithContext(ctx).Create(query).Error
}

func (s *GormStore) RecordSearchFilter(ctx context.Context, filter *models.SearchFilter) error {
	return s.db.WithContext(ctx).Create(filter).Error
}

func (s *GormStore) MigrateFrom(ctx context.Context, other Backend) error {
	return Migrate(ctx, other, s)
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
