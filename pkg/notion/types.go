package notion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/jsonvalue"
)

const (
	ObjectDatabase = "database"
	ObjectPage     = "page"
)

var ErrUnauthorized = errors.New("notion: credential rejected")

// Source is the remote workspace API as seen by the sync engine
type Source interface {
	// Me is the lightweight call used to validate a credential
	Me(ctx context.Context, token string) (Workspace, error)
	Search(ctx context.Context, token string, req SearchRequest) (ListResponse, error)
	QueryDatabase(ctx context.Context, token, databaseID string, req QueryRequest) (ListResponse, error)
}

type Workspace struct {
	ID    string
	Name  string
	BotID string
}

type RichText struct {
	Type      string  `json:"type,omitempty"`
	PlainText string  `json:"plain_text"`
	Href      *string `json:"href,omitempty"`
}

type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	Workspace  bool   `json:"workspace,omitempty"`
}

// Object is a database or page as returned by search and query endpoints
type Object struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	URL            string                     `json:"url,omitempty"`
	Title          []RichText                 `json:"title,omitempty"`
	Properties     map[string]jsonvalue.Value `json:"properties,omitempty"`
	Parent         Parent                     `json:"parent"`
	Archived       bool                       `json:"archived"`
	CreatedTime    *time.Time                 `json:"created_time,omitempty"`
	LastEditedTime *time.Time                 `json:"last_edited_time,omitempty"`
}

// DisplayTitle prefers the database title and falls back to the page title property
func (o Object) DisplayTitle() string {
	if len(o.Title) > 0 {
		return PlainText(o.Title)
	}
	return PageTitle(o.Properties)
}

type ListResponse struct {
	Object     string   `json:"object"`
	Results    []Object `json:"results"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

type SearchFilter struct {
	Value    string `json:"value"`
	Property string `json:"property"`
}

type SearchRequest struct {
	Query       string        `json:"query,omitempty"`
	Filter      *SearchFilter `json:"filter,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
}

// DatabaseSearch restricts a search to databases
func DatabaseSearch() SearchRequest {
	return SearchRequest{
		Filter: &SearchFilter{Value: ObjectDatabase, Property: "object"},
	}
}

type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

type QueryRequest struct {
	Filter      *jsonvalue.Value `json:"filter,omitempty"`
	Sorts       []Sort           `json:"sorts,omitempty"`
	StartCursor string           `json:"start_cursor,omitempty"`
	PageSize    int              `json:"page_size,omitempty"`
}

// APIError is a non-retryable response from the remote service
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion request failed: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion request failed: status=%d message=%s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == 401 || e.Status == 403 {
		return ErrUnauthorized
	}
	return nil
}
