package repository

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceInterval collapses bursts of filesystem events from a single git
// operation into one change notification
const debounceInterval = 250 * time.Millisecond

// Watch observes the repository's git metadata and invokes onChange with the
// new head revision whenever desired state advances out-of-band (e.g. a fetch
// or a manual commit). Merges through this Repository already notify
// subscribers directly. Watch blocks until the context is cancelled.
func (r *Repository) Watch(ctx context.Context, onChange func(revision string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	gitDir := filepath.Join(r.path, ".git")
	for _, dir := range []string{gitDir, filepath.Join(gitDir, "refs", "heads")} {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	lastRevision, err := r.HeadRevision()
	if err != nil {
		return err
	}

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("Repository watch error: %v", err)
		case <-fire:
			revision, err := r.HeadRevision()
			if err != nil {
				log.Warnf("Could not resolve head revision after change: %v", err)
				continue
			}
			if revision != lastRevision {
				lastRevision = revision
				log.WithField("revision", revision).Debug("Desired-state repository changed")
				onChange(revision)
			}
		}
	}
}
