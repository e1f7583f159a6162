package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store keeps the current settings and persists them as JSON.
// It is safe for concurrent use; the watcher reloads from its own goroutine.
type Store struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	current UserSettings
}

// NewStore returns a store holding the defaults. Call Load to read the file.
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		path:    path,
		log:     log,
		current: Default(),
	}
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current settings.
func (s *Store) Get() UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Load reads the settings file. A missing file keeps the defaults.
// A badly formatted file also keeps the current settings and is reported.
func (s *Store) Load() error {
	_, err := s.reload()
	return err
}

// reload reads the file and reports whether the settings changed.
func (s *Store) reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading settings %s: %w", s.path, err)
	}

	next := Default()
	if err := json.Unmarshal(data, &next); err != nil {
		s.log.Error("user settings file badly formatted, keeping current settings",
			zap.String("path", s.path), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := next.Validate(); err != nil {
		s.log.Error("user settings file out of range, keeping current settings",
			zap.String("path", s.path), zap.Error(err))
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(s.current, next) {
		return false, nil
	}
	s.current = next
	return true, nil
}

// Update validates, stores and persists new settings.
func (s *Store) Update(next UserSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = next.Clone()
	s.mu.Unlock()

	return s.save(next)
}

func (s *Store) save(us UserSettings) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(us, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Watch reloads the file whenever it changes on disk and calls onChange with
// the new settings. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(UserSettings)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating settings watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	// The directory is watched so atomic replace-by-rename is seen.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			changed, err := s.reload()
			if err != nil || !changed {
				continue
			}
			s.log.Info("user settings reloaded", zap.String("path", s.path))
			if onChange != nil {
				onChange(s.Get())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("settings watcher error", zap.Error(err))
		}
	}
}
