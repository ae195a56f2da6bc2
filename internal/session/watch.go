package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/g960059/helpdesk/internal/model"
)

const watchDebounce = 50 * time.Millisecond

// ErrNotWatchable is returned by Watch when the store has no file on disk.
var ErrNotWatchable = errors.New("session store has no file to watch")

// Watch blocks until ctx is done, calling onChange whenever the stored
// token differs from the last one observed. The sqlite file and its WAL
// live in one directory, so the directory is watched and events are
// filtered by file name prefix.
func (s *Store) Watch(ctx context.Context, onChange func(model.Credential, bool)) error {
	if strings.TrimSpace(s.path) == "" {
		return ErrNotWatchable
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create session watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch session dir: %w", err)
	}

	last, _, err := s.Current(ctx)
	if err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.After(watchDebounce)
			}
		case <-debounce:
			debounce = nil
			cred, ok, err := s.Current(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("session watch: reload failed", "err", err)
				continue
			}
			if cred.Token == last.Token {
				continue
			}
			last = cred
			if onChange != nil {
				onChange(cred, ok)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("session watch error", "err", err)
		}
	}
}
