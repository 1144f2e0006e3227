package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/kv"
)

// Shared keys read by the widget process
const (
	KeyTokens = "tokens"

	prefixDatabases     = "databases_"
	prefixTasks         = "tasks_"
	prefixSelectedFiles = "widget_config_databases_"
)

func DatabasesKey(tokenID string) string {
	return prefixDatabases + tokenID
}

func TasksKey(tokenID, databaseID string) string {
	return prefixTasks + tokenID + "_" + databaseID
}

func SelectedFilesKey(tokenID string) string {
	return prefixSelectedFiles + tokenID
}

// keySet holds the keys written by one publish. Keys under a protected prefix
// count as live because their owner could not be listed.
type keySet struct {
	keys     map[string]bool
	prefixes []string
}

func newKeySet() *keySet {
	return &keySet{keys: make(map[string]bool)}
}

func (s *keySet) add(key string) {
	s.keys[key] = true
}

func (s *keySet) addPrefix(prefix string) {
	s.prefixes = append(s.prefixes, prefix)
}

func (s *keySet) has(key string) bool {
	if s.keys[key] {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

type TokenSnapshot struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	WorkspaceName    string `json:"workspaceName,omitempty"`
	ConnectionStatus bool   `json:"connectionStatus"`
	IsActivated      bool   `json:"isActivated"`
}

type DatabaseSnapshot struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	WidgetEnabled bool   `json:"widgetEnabled"`
	WidgetType    string `json:"widgetType,omitempty"`
	URL           string `json:"url,omitempty"`
}

type TaskSnapshot struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"isCompleted"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// TaskList is the value of a tasks_<token>_<database> key
type TaskList struct {
	Timestamp time.Time      `json:"timestamp"`
	Tasks     []TaskSnapshot `json:"tasks"`
}

type FileKind string

const (
	FileKindDatabase FileKind = "database"
	FileKindPage     FileKind = "page"
)

// FileMetadata is the flattened file-picker entry for one remote object
type FileMetadata struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Kind       FileKind `json:"kind"`
	TokenID    string   `json:"tokenId"`
	IsSelected bool     `json:"isSelected"`
}

// ReadTokens returns the published token list; a missing key yields no tokens
func ReadTokens(ctx context.Context, store kv.Store) ([]TokenSnapshot, error) {
	var tokens []TokenSnapshot
	_, err := read(ctx, store, KeyTokens, &tokens)
	return tokens, err
}

func ReadDatabases(ctx context.Context, store kv.Store, tokenID string) ([]DatabaseSnapshot, error) {
	var databases []DatabaseSnapshot
	_, err := read(ctx, store, DatabasesKey(tokenID), &databases)
	return databases, err
}

// ReadTasks reports false when nothing has been published for the pair yet
func ReadTasks(ctx context.Context, store kv.Store, tokenID, databaseID string) (TaskList, bool, error) {
	var list TaskList
	ok, err := read(ctx, store, TasksKey(tokenID, databaseID), &list)
	return list, ok, err
}

func read(ctx context.Context, store kv.Store, key string, out any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
