// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow batches a burst of overlay edits (editors often write
// a file several times in quick succession) into one reload.
const debounceWindow = 500 * time.Millisecond

// Watcher watches the daemon's config overlay directory and re-merges
// the overlays once a burst of edits settles. Each settled burst
// produces one onChange call with the freshly merged config.
type Watcher struct {
	dir      string
	onChange func(*Config, string)
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewWatcher creates a watcher over the overlay directory that LoadDir
// merges. onChange receives the merged config and the overlay file that
// triggered the reload.
func NewWatcher(dir string, onChange func(*Config, string), logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the overlay directory.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	go w.loop(ctx)
	w.logger.Info("watching config overlays", zap.String("dir", w.dir))
	return nil
}

// Stop shuts the watcher down. A reload already debouncing may still
// fire.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

// overlayEvent reports whether a filesystem event is a write or create
// of a YAML overlay. Temp files and editor droppings are ignored.
func overlayEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return strings.HasSuffix(ev.Name, ".yaml") || strings.HasSuffix(ev.Name, ".yml")
}

func (w *Watcher) loop(ctx context.Context) {
	var debounce *time.Timer
	var lastOverlay string

	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
		}
	}

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !overlayEvent(ev) {
				continue
			}
			lastOverlay = filepath.Base(ev.Name)
			w.logger.Debug("config overlay changed", zap.String("overlay", lastOverlay))

			stopDebounce()
			debounce = time.AfterFunc(debounceWindow, func() {
				w.remerge(lastOverlay)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("overlay watch error", zap.Error(err))

		case <-ctx.Done():
			stopDebounce()
			return

		case <-w.stopCh:
			stopDebounce()
			return
		}
	}
}

// remerge reloads the full overlay set and hands the merged config to
// the reload callback. A config that fails validation is rejected here
// and the running config stays in effect.
func (w *Watcher) remerge(changedOverlay string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error("config overlay reload rejected",
			zap.String("overlay", changedOverlay), zap.Error(err))
		return
	}

	w.logger.Info("config overlays re-merged", zap.String("trigger", changedOverlay))
	w.onChange(cfg, changedOverlay)
}
