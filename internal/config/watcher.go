// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// DefaultWatchDebounce coalesces editor save bursts into one reload.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when its file changes on disk and
// hands the fresh Config to the callback. Built on fsnotify, with a
// polling fallback for filesystems without change notification (network
// mounts, some containers).
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a watcher for the config file at path. onChange runs
// on a background goroutine after each successful reload; load errors are
// swallowed so a half-saved file never tears down a running process.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		debounce: DefaultWatchDebounce,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Fall back to polling.
		go w.poll()
		return w, nil
	}
	w.watcher = fsw

	// Watch the directory, not the file: atomic saves replace the inode
	// and a file-level watch would go stale after the first write.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		w.watcher = nil
		go w.poll()
		return w, nil
	}

	go w.processEvents()
	go w.processPending()
	return w, nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer func() {
		// A panicking watcher goroutine must not take the process down.
		_ = recover()
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// processPending fires the reload once changes settle for the debounce
// window.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if due {
				w.reload()
			}
		}
	}
}

// poll is the fallback when fsnotify is unavailable: mtime checks on an
// interval.
func (w *Watcher) poll() {
	const interval = 2 * time.Second

	var lastMod time.Time
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
