// Package oplog keeps an append-only history of credential and cache
// operations on a key-value store. Entries are stored under
// tx:<key>:<timestamp>:<sequence> and are never rewritten, only pruned by age.
package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/kv"
)

const (
	prefix = "tx:"

	DefaultRetention = 30 * 24 * time.Hour
)

type Kind string

const (
	StoreToken  Kind = "store_token"
	UpdateToken Kind = "update_token"
	DeleteToken Kind = "delete_token"
	StoreCache  Kind = "store_cache"
	UpdateCache Kind = "update_cache"
	DeleteCache Kind = "delete_cache"
)

func (k Kind) Valid() bool {
	switch k {
	case StoreToken, UpdateToken, DeleteToken, StoreCache, UpdateCache, DeleteCache:
		return true
	}
	return false
}

// Entry is one recorded operation. Value is the record as it was written,
// never a secret.
type Entry struct {
	Kind      Kind              `json:"kind"`
	Key       string            `json:"key"`
	Value     json.RawMessage   `json:"value,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Recorder is the write side of the log
type Recorder interface {
	Record(ctx context.Context, kind Kind, key string, value any, metadata map[string]string) error
}

type Log struct {
	store kv.Store
	now   func() time.Time
	seq   atomic.Uint64
}

type Option func(*Log)

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

func New(store kv.Store, opts ...Option) *Log {
	l := &Log{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an operation on key. value is encoded as JSON; nil records
// no value.
func (l *Log) Record(ctx context.Context, kind Kind, key string, value any, metadata map[string]string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", kind)
	}
	if key == "" {
		return fmt.Errorf("operation key is required")
	}

	entry := Entry{
		Kind:      kind,
		Key:       key,
		Metadata:  metadata,
		Timestamp: l.now().UTC(),
	}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s value: %w", kind, err)
		}
		entry.Value = raw
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	storeKey := fmt.Sprintf("%s%s:%020d:%06d", prefix, key, entry.Timestamp.UnixNano(), l.seq.Add(1)%1000000)
	if err := l.store.Set(ctx, storeKey, raw); err != nil {
		return fmt.Errorf("failed to append %s for %s: %w", kind, key, err)
	}
	return nil
}

// History returns every entry recorded for key, oldest first
func (l *Log) History(ctx context.Context, key string) ([]Entry, error) {
	keyPrefix := prefix + key + ":"
	keys, err := l.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list history of %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, storeKey := range keys {
		// entries of "<key>:<suffix>" share the prefix
		if strings.Count(strings.TrimPrefix(storeKey, keyPrefix), ":") != 1 {
			continue
		}

		entry, ok, err := l.read(ctx, storeKey)
		if err != nil {
			return nil, err
		}
		if ok && entry.Key == key {
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Latest returns the most recent entry of kind for key
func (l *Log) Latest(ctx context.Context, key string, kind Kind) (Entry, bool, error) {
	entries, err := l.History(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == kind {
			return entries[i], true, nil
		}
	}
	return Entry{}, false, nil
}

// Prune deletes entries older than olderThan along with entries that cannot
// be decoded, and returns how many were removed
func (l *Log) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	cutoff := l.now().UTC().Add(-olderThan)

	keys, err := l.store.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list history: %w", err)
	}

	var removed int
	var errs []error
	for _, storeKey := range keys {
		entry, ok, err := l.read(ctx, storeKey)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok && !entry.Timestamp.Before(cutoff) {
			continue
		}
		if err := l.store.Delete(ctx, storeKey); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", storeKey, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// read reports false for entries that are gone or malformed
func (l *Log) read(ctx context.Context, storeKey string) (Entry, bool, error) {
	raw, err := l.store.Get(ctx, storeKey)
	if errors.Is(err, kv.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read %s: %w", storeKey, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Timestamp.IsZero() {
		return Entry{}, false, nil
	}
	return entry, true, nil
}
