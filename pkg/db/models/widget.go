package models

import (
	"time"

	"gorm.io/datatypes"
)

type WidgetKind string

const (
	WidgetKindTasks    WidgetKind = "tasks"
	WidgetKindProgress WidgetKind = "progress"
	WidgetKindCalendar WidgetKind = "calendar"
)

func (k WidgetKind) Valid() bool {
	switch k {
	case WidgetKindTasks, WidgetKindProgress, WidgetKindCalendar:
		return true
	}
	return false
}

type WidgetSize string

const (
	WidgetSizeSmall  WidgetSize = "small"
	WidgetSizeMedium WidgetSize = "medium"
	WidgetSizeLarge  WidgetSize = "large"
)

func (s WidgetSize) Valid() bool {
	switch s {
	case WidgetSizeSmall, WidgetSizeMedium, WidgetSizeLarge:
		return true
	}
	return false
}

// WidgetConfiguration stores per-widget display settings as an opaque JSON blob
type WidgetConfiguration struct {
	ID            string         `gorm:"primaryKey;type:text"`
	Name          string         `gorm:"type:text"`
	Kind          WidgetKind     `gorm:"type:text;not null;default:'tasks'"`
	Size          WidgetSize     `gorm:"type:text;not null;default:'medium'"`
	TokenID       *string        `gorm:"type:text;index:idx_widget_configurations_token"`
	DatabaseRowID *uint          `gorm:"index:idx_widget_configurations_database"`
	Configuration datatypes.JSON `gorm:"type:text"`
	LastUpdated   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
