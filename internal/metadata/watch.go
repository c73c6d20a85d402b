package metadata

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// watchInterval bounds how often Watch reloads the sidecar. Events arriving
// while it waits are folded into the next reload.
const watchInterval = 100 * time.Millisecond

// Watch calls fn with the current record, then again every time the
// project's sidecar is written or renamed into place, until ctx is done.
// Load errors are passed to fn rather than ending the watch, so a sidecar
// that is briefly missing or being replaced does not stop the caller.
func (s *Store) Watch(ctx context.Context, location, name string, fn func(*Metadata, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Saves replace the file by rename, which drops a watch on the file
	// itself, so the directory is watched instead.
	if err := watcher.Add(location); err != nil {
		return fmt.Errorf("failed to watch %s: %w", location, err)
	}

	target := filepath.Base(PathsFor(location, name).Metadata)
	relevant := func(event fsnotify.Event) bool {
		return filepath.Base(event.Name) == target &&
			(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename))
	}
	limiter := rate.NewLimiter(rate.Every(watchInterval), 1)

	fn(s.LoadProject(location, name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			drain(watcher.Events)
			fn(s.LoadProject(location, name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", location, err)
		}
	}
}

// drain discards events already queued; the reload that follows observes
// their effect.
func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
