package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader tells the widget process that shared data changed
type Reloader interface {
	Reload(ctx context.Context) error
}

type ReloaderFunc func(ctx context.Context) error

func (f ReloaderFunc) Reload(ctx context.Context) error {
	return f(ctx)
}

type NopReloader struct{}

func (NopReloader) Reload(context.Context) error {
	return nil
}

// SignalFile rewrites a marker file in the shared directory on every reload
type SignalFile struct {
	path string
}

func NewSignalFile(path string) *SignalFile {
	return &SignalFile{path: path}
}

func (s *SignalFile) Path() string {
	return s.path
}

func (s *SignalFile) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create signal directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	return os.WriteFile(s.path, []byte(stamp+"\n"), 0o644)
}

// WatchSignal calls fn whenever the signal file at path is written. It blocks
// until ctx is done. The directory is watched so the file may not exist yet.
func WatchSignal(ctx context.Context, path string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create signal directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fn()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("signal watcher failed: %w", err)
		}
	}
}
