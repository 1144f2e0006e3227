// Package repair heals structurally invalid records: databases without an
// identifier get one recovered or derived, duplicate databases collapse onto
// the oldest row, and pages or tasks without an identifier are removed.
// Every step is idempotent so the pass can run on each launch.
package repair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/db/store"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KnownBadURL was written for every database by early releases and carries no id
const (
	UniqueIdentifierIndex = "idx_databases_notion_id_unique"

	KnownBadURL        = "https://www.notion.so/"
	KnownBadIdentifier = "notion-workspace-root"
)

var slugID = regexp.MustCompile(`(?i)(?:^|-)([0-9a-f]{32})$`)

type Report struct {
	IdentifiersRecovered int
	DuplicatesRemoved    int
	InvalidRemoved       int
}

func (r Report) Changed() bool {
	return r.IdentifiersRecovered+r.DuplicatesRemoved+r.InvalidRemoved > 0
}

type Repairer struct {
	backend store.Backend
	logger  log.LoggerService
}

func New(backend store.Backend, logger log.LoggerService) *Repairer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Repairer{
		backend: backend,
		logger:  logger,
	}
}

func (r *Repairer) Run(ctx context.Context) (Report, error) {
	var report Report
	if r.backend.DB() == nil {
		return report, fmt.Errorf("repair needs an open backend: %w", store.ErrBackendUnavailable)
	}

	recovered, err := r.recoverIdentifiers(ctx)
	report.IdentifiersRecovered = recovered
	if err != nil {
		return report, err
	}

	removed, err := r.removeDuplicates(ctx)
	report.DuplicatesRemoved = removed
	if err != nil {
		return report, err
	}

	invalid, err := r.removeInvalid(ctx)
	report.InvalidRemoved = invalid
	if err != nil {
		return report, err
	}

	if err := r.enforceUniqueIdentifiers(ctx); err != nil {
		return report, err
	}

	if report.Changed() {
		r.logger.Info("Repair recovered %d identifiers, removed %d duplicates and %d invalid records",
			report.IdentifiersRecovered, report.DuplicatesRemoved, report.InvalidRemoved)
	}
	return report, nil
}

// recoverIdentifiers saves each fixed record on its own so earlier fixes
// survive a later failure
func (r *Repairer) recoverIdentifiers(ctx context.Context) (int, error) {
	db := r.backend.DB().WithContext(ctx)

	var broken []models.Database
	if err := db.Where("notion_id IS NULL OR notion_id = ''").Order("row_id ASC").Find(&broken).Error; err != nil {
		return 0, fmt.Errorf("failed to find databases without identifier: %w", err)
	}

	var recovered int
	for _, database := range broken {
		id := RecoverIdentifier(database.URL, database.Title)
		err := r.backend.Transaction(ctx, func(tx *gorm.DB) error {
			var existing []uint
			if err := tx.Model(&models.Database{}).
				Where("notion_id = ?", id).
				Order("row_id ASC").
				Limit(1).
				Pluck("row_id", &existing).Error; err != nil {
				return err
			}
			if len(existing) > 0 {
				_, err := merge(tx, existing[0], []uint{database.RowID})
				return err
			}
			return tx.Model(&models.Database{}).
				Where("row_id = ?", database.RowID).
				Update("notion_id", id).Error
		})
		if err != nil {
			return recovered, fmt.Errorf("failed to save identifier of database %d: %w", database.RowID, err)
		}
		r.logger.Debug("Assigned identifier %s to database %d", id, database.RowID)
		recovered++
	}
	return recovered, nil
}

// RecoverIdentifier derives an identifier from the first usable source: the
// trailing URL segment, the known bad URL, a hash of the URL, a hash of the
// title, and finally a random id.
func RecoverIdentifier(rawURL, title string) string {
	rawURL = strings.TrimSpace(rawURL)
	title = strings.TrimSpace(title)

	if id := TrailingSegment(rawURL); id != "" {
		return id
	}
	if rawURL == KnownBadURL {
		return KnownBadIdentifier
	}
	if rawURL != "" {
		return HashIdentifier(rawURL)
	}
	if title != "" {
		return HashIdentifier(title)
	}
	return uuid.NewString()
}

// TrailingSegment returns the last path segment of rawURL. Notion page slugs
// of the form Title-<32 hex> yield the hex part.
func TrailingSegment(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return ""
	}
	if match := slugID.FindStringSubmatch(last); match != nil {
		return strings.ToLower(match[1])
	}
	return last
}

// HashIdentifier is stable across runs and processes
func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// removeDuplicates keeps the lowest row id per identifier. Pages, tasks,
// widget configurations and credential links of the removed rows move to the
// survivor.
func (r *Repairer) removeDuplicates(ctx context.Context) (int, error) {
	var ids []string
	err := r.backend.DB().WithContext(ctx).
		Model(&models.Database{}).
		Where("notion_id IS NOT NULL AND notion_id <> ''").
		Group("notion_id").
		Having("COUNT(*) > 1").
		Pluck("notion_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find duplicate databases: %w", err)
	}

	var removed int
	for _, id := range ids {
		count, err := r.collapse(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("failed to collapse duplicates of %s: %w", id, err)
		}
		removed += count
	}
	return removed, nil
}

func (r *Repairer) collapse(ctx context.Context, notionID string) (int, error) {
	var removed int
	err := r.backend.Transaction(ctx, func(tx *gorm.DB) error {
		var rowIDs []uint
		if err := tx.Model(&models.Database{}).
			Where("notion_id = ?", notionID).
			Order("row_id ASC").
			Pluck("row_id", &rowIDs).Error; err != nil {
			return err
		}
		if len(rowIDs) < 2 {
			return nil
		}
		count, err := merge(tx, rowIDs[0], rowIDs[1:])
		removed = count
		return err
	})
	return removed, err
}

// enforceUniqueIdentifiers adds a partial unique index once duplicates are
// gone. Rows without an identifier stay outside the index.
func (r *Repairer) enforceUniqueIdentifiers(ctx context.Context) error {
	err := r.backend.DB().WithContext(ctx).Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS " + UniqueIdentifierIndex +
			" ON databases (notion_id) WHERE notion_id IS NOT NULL AND notion_id <> ''").Error
	if err != nil {
		return fmt.Errorf("failed to enforce unique database identifiers: %w", err)
	}
	return nil
}

// merge moves the links, pages, tasks and widget configurations of duplicates
// onto survivor and deletes the duplicate rows
func merge(tx *gorm.DB, survivor uint, duplicates []uint) (int, error) {
	var links []models.TokenDatabase
	if err := tx.Where("database_row_id IN ?", duplicates).Find(&links).Error; err != nil {
		return 0, err
	}
	for _, link := range links {
		moved := models.TokenDatabase{TokenID: link.TokenID, DatabaseRowID: survivor}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&moved).Error; err != nil {
			return 0, err
		}
	}
	if err := tx.Where("database_row_id IN ?", duplicates).Delete(&models.TokenDatabase{}).Error; err != nil {
		return 0, err
	}

	for _, model := range []any{&models.Page{}, &models.Task{}, &models.WidgetConfiguration{}} {
		if err := tx.Model(model).
			Where("database_row_id IN ?", duplicates).
			Update("database_row_id", survivor).Error; err != nil {
			return 0, err
		}
	}

	result := tx.Where("row_id IN ?", duplicates).Delete(&models.Database{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// removeInvalid drops pages and tasks without an identifier; the next sync rebuilds them
func (r *Repairer) removeInvalid(ctx context.Context) (int, error) {
	var removed int
	err := r.backend.Transaction(ctx, func(tx *gorm.DB) error {
		for _, model := range []any{&models.Task{}, &models.Page{}} {
			result := tx.Where("notion_id IS NULL OR notion_id = ''").Delete(model)
			if result.Error != nil {
				return result.Error
			}
			removed += int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to remove records without identifier: %w", err)
	}
	return removed, nil
}
