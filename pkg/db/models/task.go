package models

import (
	"time"
)

// Task is the flattened widget view of a page inside a widget-enabled database
type Task struct {
	RowID       uint       `gorm:"primaryKey;autoIncrement"`
	NotionID    string     `gorm:"column:notion_id;type:text;index:idx_tasks_notion_id"`
	Title       string     `gorm:"type:text"`
	IsCompleted bool       `gorm:"not null;default:false;index:idx_tasks_completed"`
	DueDate     *time.Time `gorm:"index:idx_tasks_due_date"`

	DatabaseRowID *uint   `gorm:"index:idx_tasks_database"`
	PageRowID     *uint   `gorm:"index:idx_tasks_page"`
	TokenID       *string `gorm:"type:text;index:idx_tasks_token"`

	LastSyncTime time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
