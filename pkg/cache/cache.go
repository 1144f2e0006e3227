// Package cache is a typed TTL cache over the shared key-value store. Each
// value is stored with the time it was written; freshness is decided on read
// and storage is reclaimed only by an explicit sweep.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/jacobrmount/Acrostic/pkg/log"
	"github.com/jacobrmount/Acrostic/pkg/oplog"
)

const DefaultRetention = 7 * 24 * time.Hour

// Type tags a family of cache keys
type Type string

const (
	MetadataCache Type = "metadata_cache"
	FileListCache Type = "file_list_cache"
	TaskListCache Type = "task_list_cache"
)

// Types lists every cache type the sweep recognizes
var Types = []Type{MetadataCache, FileListCache, TaskListCache}

// Key returns the store key for id; an empty id uses the bare type tag
func (t Type) Key(id string) string {
	if id == "" {
		return string(t)
	}
	return string(t) + "_" + id
}

type envelope struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Entry is a cached value together with the time it was stored
type Entry[T any] struct {
	Value    T
	StoredAt time.Time
}

// Age is measured against now
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

type Service struct {
	store    kv.Store
	now      func() time.Time
	logger   log.LoggerService
	recorder oplog.Recorder
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger log.LoggerService) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRecorder appends every write and invalidation to an operation log
func WithRecorder(recorder oplog.Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func New(store kv.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Now() time.Time {
	return s.now()
}

// Put stores value under typ and id, stamped with the current time
func Put[T any](ctx context.Context, s *Service, value T, typ Type, id string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", typ, err)
	}

	raw, err := json.Marshal(envelope{Timestamp: s.now().UTC(), Data: data})
	if err != nil {
		return err
	}

	kind := oplog.StoreCache
	if s.recorder != nil {
		if _, err := s.store.Get(ctx, typ.Key(id)); err == nil {
			kind = oplog.UpdateCache
		}
	}
	if err := s.store.Set(ctx, typ.Key(id), raw); err != nil {
		return err
	}
	s.record(ctx, kind, typ, id, len(data))
	return nil
}

// Get returns the value when it exists, decodes and is no older than maxAge.
// Anything else is a miss; only store failures are returned as errors.
func Get[T any](ctx context.Context, s *Service, typ Type, id string, maxAge time.Duration) (T, bool, error) {
	entry, ok, err := GetEntry[T](ctx, s, typ, id)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	if entry.Age(s.now()) > maxAge {
		var zero T
		return zero, false, nil
	}
	return entry.Value, true, nil
}

// GetEntry returns the value regardless of age
func GetEntry[T any](ctx context.Context, s *Service, typ Type, id string) (Entry[T], bool, error) {
	key := typ.Key(id)

	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return Entry[T]{}, false, nil
	}
	if err != nil {
		return Entry[T]{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Timestamp.IsZero() {
		s.logger.Debug("Ignoring malformed cache entry %s", key)
		return Entry[T]{}, false, nil
	}

	var value T
	if err := json.Unmarshal(env.Data, &value); err != nil {
		s.logger.Debug("Ignoring undecodable cache entry %s: %v", key, err)
		return Entry[T]{}, false, nil
	}
	return Entry[T]{Value: value, StoredAt: env.Timestamp}, true, nil
}

func (s *Service) Invalidate(ctx context.Context, typ Type, id string) error {
	if err := s.store.Delete(ctx, typ.Key(id)); err != nil {
		return err
	}
	s.record(ctx, oplog.DeleteCache, typ, id, 0)
	return nil
}

func (s *Service) record(ctx context.Context, kind oplog.Kind, typ Type, id string, size int) {
	if s.recorder == nil {
		return
	}
	metadata := map[string]string{"type": string(typ), "id": id}
	if size > 0 {
		metadata["bytes"] = strconv.Itoa(size)
	}
	if err := s.recorder.Record(ctx, kind, typ.Key(id), nil, metadata); err != nil {
		s.logger.Warn("Failed to record %s of %s: %v", kind, typ.Key(id), err)
	}
}

// CleanupExpired deletes entries of every known type that are older than
// olderThan, along with entries that cannot be decoded. It returns the number
// of deleted keys.
func (s *Service) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	now := s.now()

	var removed int
	var errs []error
	for _, typ := range Types {
		keys, err := s.store.Keys(ctx, string(typ))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s: %w", typ, err))
			continue
		}

		for _, key := range keys {
			if key != string(typ) && !strings.HasPrefix(key, string(typ)+"_") {
				continue
			}

			expired, err := s.expired(ctx, key, now, olderThan)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !expired {
				continue
			}
			if err := s.store.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Removed %d expired cache entries", removed)
	}
	return removed, errors.Join(errs...)
}

func (s *Service) expired(ctx context.Context, key string, now time.Time, olderThan time.Duration) (bool, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Timestamp.IsZero() {
		return true, nil
	}
	return now.Sub(env.Timestamp) > olderThan, nil
}
