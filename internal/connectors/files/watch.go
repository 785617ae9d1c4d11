package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// Watch reports changes under the root. Bursts of events collapse into a
// single pending notification. The channel is closed when ctx is done.
func (a *Adapter) Watch(ctx context.Context) (<-chan struct{}, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, domain.ErrAdapterClosed
	}
	if err := a.checkRoot(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), "watch", err)
	}
	if err := a.addTree(w, a.root); err != nil {
		w.Close()
		return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), "watch", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !a.handleFsEvent(w, ev) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("files %s: watch error: %v", a.Name(), err)
			}
		}
	}()
	return out, nil
}

// addTree watches dir and every non-hidden directory below it.
func (a *Adapter) addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(a.root, p); rel != "." && isHidden(rel) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// handleFsEvent reports whether an event may change the synced set.
// New directories are added to the watch.
func (a *Adapter) handleFsEvent(w *fsnotify.Watcher, ev fsnotify.Event) bool {
	rel, err := filepath.Rel(a.root, ev.Name)
	if err != nil || isHidden(rel) {
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w != nil {
				if err := a.addTree(w, ev.Name); err != nil {
					logger.Warn("files %s: %v", a.Name(), err)
				}
			}
			return true
		}
	}
	return a.matches(filepath.ToSlash(rel))
}
