package models

import (
	"time"
)

// Token is a Notion integration credential. The API secret lives in the secret
// store under SecretKey and is never written to this table.
type Token struct {
	ID            string  `gorm:"primaryKey;type:text"`
	Name          string  `gorm:"type:text;not null"`
	WorkspaceID   *string `gorm:"type:text"`
	WorkspaceName *string `gorm:"type:text"`
	SecretKey     string  `gorm:"type:text"`

	// ConnectionStatus reflects the outcome of the last validation call
	ConnectionStatus bool `gorm:"not null;default:false"`
	// IsActivated opts the credential into widget data sharing
	IsActivated   bool `gorm:"not null;default:false;index:idx_tokens_is_activated"`
	LastValidated *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName falls back to the workspace name and then the id
func (t Token) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	if t.WorkspaceName != nil && *t.WorkspaceName != "" {
		return *t.WorkspaceName
	}
	return t.ID
}

// TokenDatabase is the many-to-many link between credentials and the databases they can see
type TokenDatabase struct {
	TokenID       string `gorm:"primaryKey;type:text;index:idx_token_databases_token"`
	DatabaseRowID uint   `gorm:"primaryKey;index:idx_token_databases_database"`
}

func (TokenDatabase) TableName() string {
	return "token_databases"
}
