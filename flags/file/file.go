// Package file provides a JSON-file FlagStore for askgate.
//
// The flags live in one JSON object keyed by the shared key names, so the
// settings UI can edit the same file. Writes are atomic; external edits are
// picked up through fsnotify.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ineyio/askgate"
)

const debounceInterval = 100 * time.Millisecond

// Store is a file-backed FlagStore.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

var (
	_ askgate.FlagStore       = (*Store)(nil)
	_ askgate.PlanTierWatcher = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithLogger sets the logger used by the watcher and for replaced files.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store backed by the JSON file at path.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("askgate/flags: create dir: %w", err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) PlanTier(context.Context) (askgate.PlanTier, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", false, err
	}
	return planTier(values)
}

func (s *Store) SetPlanTier(_ context.Context, tier askgate.PlanTier) error {
	return s.update(askgate.KeyPlanTier, tier == askgate.PlanPaid)
}

func (s *Store) TrialStart(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return time.Time{}, false, err
	}
	raw, ok := values[askgate.KeyFreePlanStart]
	if !ok {
		return time.Time{}, false, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, false, fmt.Errorf("askgate/flags: %s: %w", askgate.KeyFreePlanStart, err)
	}
	return askgate.FromEpochSeconds(secs), true, nil
}

func (s *Store) SetTrialStart(_ context.Context, start time.Time) error {
	return s.update(askgate.KeyFreePlanStart, askgate.EpochSeconds(start))
}

// WatchPlanTier emits the tier whenever the file changes to a new value.
// The channel is closed when ctx is done.
func (s *Store) WatchPlanTier(ctx context.Context) (<-chan askgate.PlanTier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("askgate/flags: create watcher: %w", err)
	}
	// Watch the directory to catch atomic renames over the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("askgate/flags: watch dir: %w", err)
	}

	last, _, _ := s.PlanTier(ctx)
	out := make(chan askgate.PlanTier, 1)
	go s.watchLoop(ctx, watcher, last, out)
	return out, nil
}

// watchLoop handles file system events with debouncing.
func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, last askgate.PlanTier, out chan<- askgate.PlanTier) {
	defer close(out)
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Warn("close flag watcher", zap.Error(err))
		}
	}()

	var debounce *time.Timer
	var fire <-chan time.Time
	name := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce rapid changes
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(debounceInterval)
			fire = debounce.C

		case <-fire:
			fire = nil
			tier, ok, err := s.PlanTier(ctx)
			if err != nil {
				s.logger.Warn("reload flags", zap.Error(err))
				continue
			}
			if !ok || tier == last {
				continue
			}
			last = tier
			select {
			case out <- tier:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("flag watcher error", zap.Error(err))
		}
	}
}

func (s *Store) update(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("askgate/flags: encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		// Keys other than this one are lost.
		s.logger.Warn("flags file unreadable, replacing",
			zap.String("path", s.path),
			zap.String("key", key),
			zap.Error(err),
		)
		values = make(map[string]json.RawMessage)
	}
	values[key] = raw
	return s.write(values)
}

// read must be called with s.mu held. A missing file is an empty set.
func (s *Store) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("askgate/flags: read: %w", err)
	}
	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("askgate/flags: parse: %w", err)
	}
	return values, nil
}

// write must be called with s.mu held.
func (s *Store) write(values map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("askgate/flags: encode: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("askgate/flags: write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("askgate/flags: rename temp file: %w", err)
	}
	return nil
}

func planTier(values map[string]json.RawMessage) (askgate.PlanTier, bool, error) {
	raw, ok := values[askgate.KeyPlanTier]
	if !ok {
		return "", false, nil
	}
	var paid bool
	if err := json.Unmarshal(raw, &paid); err != nil {
		return "", false, fmt.Errorf("askgate/flags: %s: %w", askgate.KeyPlanTier, err)
	}
	return askgate.PlanTierFromPaid(paid), true, nil
}
