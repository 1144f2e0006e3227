// Package mapper converts remote objects into local records. Every function is a
// find-or-create keyed by the remote identifier: scalars are last-write-wins,
// user-owned fields survive a remote refresh and relationships only ever grow.
package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/jacobrmount/Acrostic/pkg/jsonvalue"
	"github.com/jacobrmount/Acrostic/pkg/notion"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMissingIdentifier = errors.New("remote object has no identifier")

// MapDatabase upserts a remote database and links it to tokenID
func MapDatabase(tx *gorm.DB, tokenID string, obj notion.Object, now time.Time) (*models.Database, error) {
	incoming := models.Database{
		Title:          obj.DisplayTitle(),
		URL:            obj.URL,
		Archived:       obj.Archived,
		LastEditedTime: obj.LastEditedTime,
		LastSyncTime:   &now,
	}
	incoming.SetIdentifier(obj.ID)

	return upsertDatabase(tx, tokenID, incoming, false)
}

// UpsertDatabase stores a complete record, user-owned fields included. It is
// used when copying records between backends.
func UpsertDatabase(tx *gorm.DB, tokenID string, record models.Database) (*models.Database, error) {
	return upsertDatabase(tx, tokenID, record, true)
}

func upsertDatabase(tx *gorm.DB, tokenID string, incoming models.Database, withUserFields bool) (*models.Database, error) {
	id := incoming.Identifier()
	if id == "" {
		return nil, ErrMissingIdentifier
	}

	var existing models.Database
	err := tx.Where("notion_id = ?", id).Order("row_id ASC").First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		existing = incoming
		existing.RowID = 0
		if !withUserFields {
			existing.WidgetEnabled = false
			existing.WidgetType = ""
		}
		if err := tx.Create(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", id, err)
		}

	case err != nil:
		return nil, fmt.Errorf("failed to look up database %s: %w", id, err)

	default:
		existing.Title = incoming.Title
		existing.URL = incoming.URL
		existing.Archived = incoming.Archived
		existing.LastEditedTime = incoming.LastEditedTime
		if incoming.LastSyncTime != nil {
			existing.LastSyncTime = incoming.LastSyncTime
		}
		if withUserFields {
			existing.WidgetEnabled = incoming.WidgetEnabled
			existing.WidgetType = incoming.WidgetType
		}
		if err := tx.Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update database %s: %w", id, err)
		}
	}

	if err := LinkToken(tx, tokenID, existing.RowID); err != nil {
		return nil, err
	}
	return &existing, nil
}

// LinkToken adds the token/database pair unless it exists. A token that is
// not stored yet is skipped without error.
func LinkToken(tx *gorm.DB, tokenID string, databaseRowID uint) error {
	if tokenID == "" || databaseRowID == 0 {
		return nil
	}

	exists, err := tokenExists(tx, tokenID)
	if err != nil || !exists {
		return err
	}

	link := models.TokenDatabase{TokenID: tokenID, DatabaseRowID: databaseRowID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
		return fmt.Errorf("failed to link token %s: %w", tokenID, err)
	}
	return nil
}

// MapPage upserts a remote page and resolves its parent database when known
func MapPage(tx *gorm.DB, obj notion.Object, now time.Time) (*models.Page, error) {
	if obj.ID == "" {
		return nil, ErrMissingIdentifier
	}

	properties, err := json.Marshal(obj.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page properties: %w", err)
	}

	var page models.Page
	err = tx.Where("notion_id = ?", obj.ID).Order("row_id ASC").First(&page).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up page %s: %w", obj.ID, err)
	}

	page.NotionID = obj.ID
	page.Title = obj.DisplayTitle()
	page.Archived = obj.Archived
	page.Properties = datatypes.JSON(properties)
	page.LastSyncTime = now

	if obj.Parent.DatabaseID != "" {
		page.ParentDatabaseID = obj.Parent.DatabaseID
		rowID, err := databaseRowID(tx, obj.Parent.DatabaseID)
		if err != nil {
			return nil, err
		}
		if rowID != nil {
			page.DatabaseRowID = rowID
		}
	}

	if err := tx.Save(&page).Error; err != nil {
		return nil, fmt.Errorf("failed to save page %s: %w", obj.ID, err)
	}
	return &page, nil
}

// MapTask derives the task projection of a stored page
func MapTask(tx *gorm.DB, page *models.Page, tokenID string, now time.Time) (*models.Task, error) {
	if page == nil || page.NotionID == "" {
		return nil, ErrMissingIdentifier
	}

	var props map[string]jsonvalue.Value
	if len(page.Properties) > 0 {
		if err := json.Unmarshal(page.Properties, &props); err != nil {
			return nil, fmt.Errorf("failed to decode properties of page %s: %w", page.NotionID, err)
		}
	}

	var task models.Task
	err := tx.Where("notion_id = ?", page.NotionID).Order("row_id ASC").First(&task).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up task %s: %w", page.NotionID, err)
	}

	task.NotionID = page.NotionID
	task.Title = notion.PageTitle(props)
	if task.Title == "" {
		task.Title = page.Title
	}
	task.IsCompleted = notion.IsCompleted(props)
	task.DueDate = notion.DueDate(props)
	task.LastSyncTime = now

	if page.DatabaseRowID != nil {
		task.DatabaseRowID = page.DatabaseRowID
	}
	if page.RowID != 0 {
		rowID := page.RowID
		task.PageRowID = &rowID
	}
	if tokenID != "" {
		exists, err := tokenExists(tx, tokenID)
		if err != nil {
			return nil, err
		}
		if exists {
			id := tokenID
			task.TokenID = &id
		}
	}

	if err := tx.Save(&task).Error; err != nil {
		return nil, fmt.Errorf("failed to save task %s: %w", page.NotionID, err)
	}
	return &task, nil
}

func tokenExists(tx *gorm.DB, tokenID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Token{}).Where("id = ?", tokenID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up token %s: %w", tokenID, err)
	}
	return count > 0, nil
}

func databaseRowID(tx *gorm.DB, notionID string) (*uint, error) {
	var database models.Database
	err := tx.Select("row_id").Where("notion_id = ?", notionID).Order("row_id ASC").First(&database).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up database %s: %w", notionID, err)
	}
	return &database.RowID, nil
}

// PruneDatabase deletes the pages and tasks of the remote database databaseID
// whose remote ids are not in keep. It returns the number of tasks removed.
func PruneDatabase(tx *gorm.DB, databaseID string, keep []string) (int64, error) {
	pages := tx.Model(&models.Page{}).Where("parent_database_id = ?", databaseID)
	if len(keep) > 0 {
		pages = pages.Where("notion_id NOT IN ?", keep)
	}
	var stale []string
	if err := pages.Pluck("notion_id", &stale).Error; err != nil {
		return 0, fmt.Errorf("failed to list stale pages of %s: %w", databaseID, err)
	}

	rowID, err := databaseRowID(tx, databaseID)
	if err != nil {
		return 0, err
	}
	if rowID != nil {
		tasks := tx.Model(&models.Task{}).Where("database_row_id = ?", *rowID)
		if len(keep) > 0 {
			tasks = tasks.Where("notion_id NOT IN ?", keep)
		}
		var staleTasks []string
		if err := tasks.Pluck("notion_id", &staleTasks).Error; err != nil {
			return 0, fmt.Errorf("failed to list stale tasks of %s: %w", databaseID, err)
		}
		stale = append(stale, staleTasks...)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	result := tx.Where("notion_id IN ?", stale).Delete(&models.Task{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune tasks of %s: %w", databaseID, result.Error)
	}
	if err := tx.Where("notion_id IN ?", stale).Delete(&models.Page{}).Error; err != nil {
		return 0, fmt.Errorf("failed to prune pages of %s: %w", databaseID, err)
	}
	return result.RowsAffected, nil
}
