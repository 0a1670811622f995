// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watcher reconciles configured file trees into a memory store and
// keeps them current with filesystem notifications.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/annalhq/annal/internal/indexer"
	"github.com/annalhq/annal/internal/store"
)

// Watcher indexes files under a set of roots matching glob patterns.
type Watcher struct {
	store    *store.MemoryStore
	roots    []string
	patterns []string
	exclude  []string

	mu      sync.Mutex
	notify  *fsnotify.Watcher
	done    chan struct{}
	stopped sync.WaitGroup
}

// New builds a watcher over the given roots. Patterns and excludes use
// doublestar glob syntax matched against paths relative to each root.
func New(s *store.MemoryStore, roots, patterns, exclude []string) *Watcher {
	return &Watcher{store: s, roots: roots, patterns: patterns, exclude: exclude}
}

// matches reports whether a root-relative path is eligible for indexing.
func (w *Watcher) matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	for _, pattern := range w.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ReconcileResult counts the work done by one reconcile pass.
type ReconcileResult struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
	Chunks  int `json:"chunks"`
}

// Reconcile walks the roots and indexes new or modified files, skipping
// files whose stored mtime is current, and removes chunks for files that
// no longer exist on disk.
func (w *Watcher) Reconcile() (ReconcileResult, error) {
	known, err := w.store.FileMtimes()
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("load indexed mtimes: %w", err)
	}

	var res ReconcileResult
	seen := make(map[string]struct{})
	for _, root := range w.roots {
		root, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			if d.IsDir() {
				if w.excludedDir(rel) {
					return fs.SkipDir
				}
				return nil
			}
			if !w.matches(rel) {
				return nil
			}
			seen[path] = struct{}{}
			info, statErr := d.Info()
			if statErr != nil {
				return nil
			}
			mtime := float64(info.ModTime().UnixNano()) / 1e9
			if prev, ok := known["file:"+path]; ok && prev >= mtime {
				res.Skipped++
				return nil
			}
			chunks, indexErr := indexer.IndexFile(w.store, path, mtime)
			if indexErr != nil {
				log.Warn("index failed", "path", path, "err", indexErr)
				return nil
			}
			res.Indexed++
			res.Chunks += chunks
			return nil
		})
		if walkErr != nil {
			return res, fmt.Errorf("walk %s: %w", root, walkErr)
		}
	}

	for key := range known {
		path := strings.TrimPrefix(key, "file:")
		if _, ok := seen[path]; ok {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			// Indexed under a root not in this watcher's set. Leave it.
			continue
		}
		if _, delErr := w.store.DeleteBySourcePrefix(key + "|"); delErr == nil {
			res.Removed++
		}
	}
	return res, nil
}

// excludedDir prunes whole subtrees whose every descendant is excluded.
func (w *Watcher) excludedDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.exclude {
		base := strings.TrimSuffix(pattern, "/**")
		if base == pattern {
			continue
		}
		if ok, _ := doublestar.Match(base, rel); ok {
			return true
		}
	}
	return false
}

// Start begins watching the roots for changes, indexing matched files as
// they are written and removing their chunks when deleted.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notify != nil {
		return nil
	}
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	for _, root := range w.roots {
		abs, absErr := filepath.Abs(root)
		if absErr != nil {
			continue
		}
		_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if rel, relErr := filepath.Rel(abs, path); relErr == nil && w.excludedDir(rel) {
				return fs.SkipDir
			}
			_ = notify.Add(path)
			return nil
		})
	}
	w.notify = notify
	w.done = make(chan struct{})
	w.stopped.Add(1)
	go w.loop(notify, w.done)
	return nil
}

func (w *Watcher) loop(notify *fsnotify.Watcher, done chan struct{}) {
	defer w.stopped.Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-notify.Events:
			if !ok {
				return
			}
			w.handle(notify, event)
		case err, ok := <-notify.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(notify *fsnotify.Watcher, event fsnotify.Event) {
	path := event.Name
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			_ = notify.Add(path)
			return
		}
	}
	rel, ok := w.relToRoot(path)
	if !ok || !w.matches(rel) {
		return
	}
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if _, err := w.store.DeleteBySourcePrefix("file:" + path + "|"); err != nil {
			log.Warn("remove chunks failed", "path", path, "err", err)
		}
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if _, err := indexer.IndexFile(w.store, path, 0); err != nil {
			log.Warn("index failed", "path", path, "err", err)
		}
	}
}

// relToRoot resolves a path against the first containing root.
func (w *Watcher) relToRoot(path string) (string, bool) {
	for _, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return rel, true
	}
	return "", false
}

// Stop shuts the notification loop down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	notify, done := w.notify, w.done
	w.notify, w.done = nil, nil
	w.mu.Unlock()
	if notify == nil {
		return
	}
	close(done)
	_ = notify.Close()
	w.stopped.Wait()
}
