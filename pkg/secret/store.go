// Package secret keeps credential secrets out of the object store. Records only
// carry a lookup key; the secret itself is resolved through a Store.
package secret

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("secret not found")
	ErrTimeout  = errors.New("secret store timed out")
)

const DefaultTimeout = 5 * time.Second

type Store interface {
	Set(ctx context.Context, id, secret string) error
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]string),
	}
}

func (s *MemoryStore) Set(ctx context.Context, id, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[id] = secret
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[id]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, id)
	return nil
}

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout bounds every call on inner by d. A call that does not return in
// time yields ErrTimeout; the underlying call is left to finish on its own.
func WithTimeout(inner Store, d time.Duration) Store {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutStore{
		inner:   inner,
		timeout: d,
	}
}

func (s *timeoutStore) Set(ctx context.Context, id, secret string) error {
	_, err := bounded(ctx, s.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.Set(ctx, id, secret)
	})
	return err
}

func (s *timeoutStore) Get(ctx context.Context, id string) (string, error) {
	return bounded(ctx, s.timeout, func(ctx context.Context) (string, error) {
		return s.inner.Get(ctx, id)
	})
}

func (s *timeoutStore) Delete(ctx context.Context, id string) error {
	_, err := bounded(ctx, s.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.Delete(ctx, id)
	})
	return err
}

type result[T any] struct {
	value T
	err   error
}

func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		value, err := fn(ctx)
		done <- result[T]{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
