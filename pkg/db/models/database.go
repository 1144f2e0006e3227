package models

import (
	"time"

	"gorm.io/datatypes"
)

// Database mirrors a Notion database. RowID is local; NotionID is the remote
// identifier and may be NULL or duplicated until the repair pass has run.
type Database struct {
	RowID    uint    `gorm:"primaryKey;autoIncrement"`
	NotionID *string `gorm:"column:notion_id;type:text;index:idx_databases_notion_id"`

	Title          string `gorm:"type:text"`
	URL            string `gorm:"type:text"`
	Archived       bool   `gorm:"not null;default:false"`
	LastEditedTime *time.Time

	// User-owned, never overwritten by a remote refresh
	WidgetEnabled bool   `gorm:"not null;default:false;index:idx_databases_widget_enabled"`
	WidgetType    string `gorm:"type:text"`

	LastSyncTime *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identifier returns the remote id or "" when it is missing
func (d Database) Identifier() string {
	if d.NotionID == nil {
		return ""
	}
	return *d.NotionID
}

func (d *Database) SetIdentifier(id string) {
	d.NotionID = &id
}

// Page mirrors a Notion page; Properties keeps the raw property map
type Page struct {
	RowID            uint   `gorm:"primaryKey;autoIncrement"`
	NotionID         string `gorm:"column:notion_id;type:text;index:idx_pages_notion_id"`
	Title            string `gorm:"type:text"`
	ParentDatabaseID string `gorm:"type:text"`
	DatabaseRowID    *uint  `gorm:"index:idx_pages_database"`
	Archived         bool   `gorm:"not null;default:false"`
	Properties       datatypes.JSON
	LastSyncTime     time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
