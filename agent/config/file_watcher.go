// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/xmppd/xmppd/logging"
)

const defaultReconcileInterval = 200 * time.Millisecond

// FileWatcher reports changes to the agent's config files and directories
// so that the agent can reload its configuration.
type FileWatcher struct {
	watcher           *fsnotify.Watcher
	paths             map[string]time.Time
	logger            hclog.Logger
	reconcileInterval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// EventsCh receives one event per detected change once Start was
	// called. It is closed by Stop.
	EventsCh chan *FileWatcherEvent
}

type FileWatcherEvent struct {
	Filename string
}

// NewFileWatcher watches every file or directory in paths. Symbolic links
// are rejected.
func NewFileWatcher(paths []string, logger hclog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FileWatcher{
		watcher:           fw,
		paths:             make(map[string]time.Time),
		logger:            logger.Named(logging.Watcher),
		reconcileInterval: defaultReconcileInterval,
		done:              make(chan struct{}),
		EventsCh:          make(chan *FileWatcherEvent),
	}
	for _, p := range paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, fmt.Errorf("error adding file %q: %w", p, err)
		}
	}
	return w, nil
}

// Start the watch loop. Calling Start more than once is a noop.
func (w *FileWatcher) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.watch(ctx)
}

// Stop the watch loop and close EventsCh. Stop must be called after Start.
func (w *FileWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
		close(w.EventsCh)
		err = w.watcher.Close()
	})
	return err
}

func (w *FileWatcher) add(path string) error {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not supported %s", path)
	}
	path = filepath.Clean(path)
	if err := w.watcher.Add(path); err != nil {
		return err
	}
	modTime, err := modifiedTime(path)
	if err != nil {
		return err
	}
	w.paths[path] = modTime
	w.logger.Trace("watching", "path", path)
	return nil
}

func (w *FileWatcher) watch(ctx context.Context) {
	ticker := time.NewTicker(w.reconcileInterval)
	defer ticker.Stop()
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Error("watcher event channel is closed")
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Error("watcher error channel is closed")
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			w.reconcile(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *FileWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}
	name := filepath.Clean(event.Name)
	watched, ok := w.watchedPath(name)
	if !ok {
		w.logger.Trace("ignoring event for unwatched path", "path", name)
		return
	}

	if event.Has(fsnotify.Remove) {
		// editors replace files by removing them; reconcile picks the new
		// file up and re-adds it to the watcher.
		if watched == name {
			w.paths[watched] = time.Time{}
		}
		w.reconcile(ctx)
		return
	}
	w.emit(ctx, name)
}

// watchedPath returns the watched path an event for name belongs to, which
// is name itself or its parent directory.
func (w *FileWatcher) watchedPath(name string) (string, bool) {
	if _, ok := w.paths[name]; ok {
		return name, true
	}
	dir := filepath.Dir(name)
	if _, ok := w.paths[dir]; ok {
		return dir, true
	}
	return "", false
}

func (w *FileWatcher) reconcile(ctx context.Context) {
	for path, last := range w.paths {
		modTime, err := modifiedTime(path)
		if err != nil {
			w.logger.Debug("failed to stat watched path", "path", path, "error", err)
			continue
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Error("failed to add path to watcher", "path", path, "error", err)
			continue
		}
		if modTime.Equal(last) {
			continue
		}
		w.paths[path] = modTime
		if !w.emit(ctx, path) {
			return
		}
	}
}

func (w *FileWatcher) emit(ctx context.Context, name string) bool {
	w.logger.Trace("config change detected", "path", name)
	select {
	case w.EventsCh <- &FileWatcherEvent{Filename: name}:
		return true
	case <-ctx.Done():
		return false
	}
}

func modifiedTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
