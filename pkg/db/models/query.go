package models

import (
	"time"

	"gorm.io/datatypes"
)

// Query records a database query that was issued against the remote service
type Query struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	TokenID     string         `gorm:"type:text;index:idx_queries_token"`
	DatabaseID  string         `gorm:"type:text;index:idx_queries_database"`
	Filter      datatypes.JSON `gorm:"type:text"`
	Sorts       datatypes.JSON `gorm:"type:text"`
	ResultCount int
	CreatedAt   time.Time
}

// SearchFilter records a workspace search that was issued against the remote service
type SearchFilter struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TokenID     string `gorm:"type:text;index:idx_search_filters_token"`
	Query       string `gorm:"type:text"`
	ObjectType  string `gorm:"type:text"`
	ResultCount int
	CreatedAt   time.Time
}

// All lists every persisted model in dependency order, parents first
func All() []any {
	return []any{
		&Token{},
		&Database{},
		&TokenDatabase{},
		&Page{},
		&Task{},
		&WidgetConfiguration{},
		&Query{},
		&SearchFilter{},
	}
}
