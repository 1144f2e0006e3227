// Package prefs stores per-device preferences in a small YAML file. The file is
// separate from the application config and from the shared widget store.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const keyStorage = "storage"

type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// Open loads the preference file at path. A missing file is not an error;
// defaultStorage is used until a value is written.
func Open(path, defaultStorage string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(keyStorage, defaultStorage)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read preferences: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat preferences: %w", err)
	}

	return &Store{
		v:    v,
		path: path,
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Storage returns the backend preference
func (s *Store) Storage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(keyStorage)
}

// SetStorage persists the backend preference
func (s *Store) SetStorage(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(keyStorage, value)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
