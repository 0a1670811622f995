// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pool hands out one memory store per project and serializes the
// reconcile work that keeps each project's file index current.
package pool

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/annalhq/annal/internal/backend"
	"github.com/annalhq/annal/internal/backend/chromem"
	"github.com/annalhq/annal/internal/backend/sqlvec"
	"github.com/annalhq/annal/internal/config"
	"github.com/annalhq/annal/internal/embedder"
	"github.com/annalhq/annal/internal/events"
	"github.com/annalhq/annal/internal/store"
	"github.com/annalhq/annal/internal/watcher"
)

var projectNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ReconcileStatus is one project's last reconcile outcome.
type ReconcileStatus struct {
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	LastResult string    `json:"last_result,omitempty"`
}

// storeEntry is created under the pool lock but constructed outside it, so
// slow backend startup never blocks access to other projects.
type storeEntry struct {
	once  sync.Once
	store *store.MemoryStore
	err   error
}

// StorePool lazily opens project stores and owns their watchers.
type StorePool struct {
	cfg *config.Config
	emb embedder.Embedder
	bus *events.Bus

	mu       sync.RWMutex
	stores   map[string]*storeEntry
	watchers map[string]*watcher.Watcher

	// reconcileMu guards the reconcilers map only. Per-project locks are
	// never acquired while it is held.
	reconcileMu sync.Mutex
	reconcilers map[string]*sync.Mutex
	status      map[string]*ReconcileStatus

	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// New builds a pool over a loaded config.
func New(cfg *config.Config, emb embedder.Embedder, bus *events.Bus) *StorePool {
	return &StorePool{
		cfg:         cfg,
		emb:         emb,
		bus:         bus,
		stores:      make(map[string]*storeEntry),
		watchers:    make(map[string]*watcher.Watcher),
		reconcilers: make(map[string]*sync.Mutex),
		status:      make(map[string]*ReconcileStatus),
		closing:     make(chan struct{}),
	}
}

// Config exposes the pool's configuration for the tool layer.
func (p *StorePool) Config() *config.Config { return p.cfg }

// Bus exposes the event bus.
func (p *StorePool) Bus() *events.Bus { return p.bus }

// Get returns the store for a project, opening it on first use. Concurrent
// callers for the same project all receive the identical instance; the
// backend is created exactly once.
func (p *StorePool) Get(project string) (*store.MemoryStore, error) {
	if !projectNameRe.MatchString(project) {
		return nil, &backend.ValidationError{Field: "project", Message: "invalid project name"}
	}

	p.mu.RLock()
	entry, ok := p.stores[project]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		entry, ok = p.stores[project]
		if !ok {
			entry = &storeEntry{}
			p.stores[project] = entry
		}
		p.mu.Unlock()
	}

	entry.once.Do(func() {
		entry.store, entry.err = p.open(project)
	})
	if entry.err != nil {
		// Leave the failed entry out of the map so a later call can retry.
		p.mu.Lock()
		if p.stores[project] == entry {
			delete(p.stores, project)
		}
		p.mu.Unlock()
		return nil, entry.err
	}
	return entry.store, nil
}

// open builds the backend stack for one project and registers unknown
// projects in the config. Save happens here, outside every pool lock.
func (p *StorePool) open(project string) (*store.MemoryStore, error) {
	proj := p.cfg.Projects[project]
	engine := proj.Backend
	if engine == "" {
		engine = p.cfg.Storage.Backend
	}

	split := p.cfg.Storage.SplitByChunkType
	agent, err := p.openBackend(engine, project, "memories")
	if err != nil {
		return nil, err
	}
	var s *store.MemoryStore
	if split {
		file, ferr := p.openBackend(engine, project, "files")
		if ferr != nil {
			_ = agent.Close()
			return nil, ferr
		}
		s = store.NewSplit(agent, file, p.emb, p.cfg.Thresholds)
	} else {
		s = store.New(agent, p.emb, p.cfg.Thresholds)
	}

	if !p.cfg.HasProject(project) {
		p.cfg.AddProject(project)
		if err := p.cfg.Save(); err != nil {
			log.Warn("persist config failed", "project", project, "err", err)
		}
	}
	return s, nil
}

func (p *StorePool) openBackend(engine, project, collection string) (backend.Backend, error) {
	dir := filepath.Join(p.cfg.DataDir, "projects", project)
	switch engine {
	case "", "chromem":
		return chromem.New(filepath.Join(dir, "chromem"), collection, p.emb.Dimension())
	case "sqlvec":
		opts := sqlvec.Options{PostgresDSN: p.cfg.Storage.PostgresDSN}
		if opts.PostgresDSN == "" {
			opts.SQLitePath = filepath.Join(dir, collection+".db")
		}
		return sqlvec.New(opts, p.emb.Dimension())
	default:
		return nil, &backend.ValidationError{Field: "storage.backend", Message: fmt.Sprintf("unknown backend %q", engine)}
	}
}

// Projects lists every project with an open store.
func (p *StorePool) Projects() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.stores))
	for name, entry := range p.stores {
		if entry.store != nil {
			names = append(names, name)
		}
	}
	return names
}

func (p *StorePool) reconcileLock(project string) (*sync.Mutex, *ReconcileStatus) {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()
	lock, ok := p.reconcilers[project]
	if !ok {
		lock = &sync.Mutex{}
		p.reconcilers[project] = lock
		p.status[project] = &ReconcileStatus{}
	}
	return lock, p.status[project]
}

// Reconcile runs one synchronous index pass for a project. Passes for the
// same project serialize on the project lock; different projects proceed
// concurrently.
func (p *StorePool) Reconcile(project string) (watcher.ReconcileResult, error) {
	lock, status := p.reconcileLock(project)
	lock.Lock()
	defer lock.Unlock()

	p.setRunning(status, true)
	defer p.setRunning(status, false)

	p.bus.Push(events.Event{Type: events.TypeIndexStarted, Project: project})
	res, err := p.reconcileLocked(project)

	p.reconcileMu.Lock()
	status.LastRun = time.Now().UTC()
	if err != nil {
		status.LastError = err.Error()
		status.LastResult = ""
	} else {
		status.LastError = ""
		status.LastResult = fmt.Sprintf("indexed=%d skipped=%d removed=%d chunks=%d",
			res.Indexed, res.Skipped, res.Removed, res.Chunks)
	}
	p.reconcileMu.Unlock()

	if err != nil {
		p.bus.Push(events.Event{Type: events.TypeIndexFailed, Project: project, Detail: err.Error()})
		return res, err
	}
	p.bus.Push(events.Event{
		Type:    events.TypeIndexComplete,
		Project: project,
		Detail:  fmt.Sprintf("%d files indexed, %d chunks", res.Indexed, res.Chunks),
	})
	return res, nil
}

func (p *StorePool) setRunning(status *ReconcileStatus, running bool) {
	p.reconcileMu.Lock()
	status.Running = running
	p.reconcileMu.Unlock()
}

func (p *StorePool) reconcileLocked(project string) (watcher.ReconcileResult, error) {
	proj, ok := p.cfg.Projects[project]
	if !ok || len(proj.WatchPaths) == 0 {
		return watcher.ReconcileResult{}, nil
	}
	s, err := p.Get(project)
	if err != nil {
		return watcher.ReconcileResult{}, err
	}
	return p.watcherFor(project, proj, s).Reconcile()
}

func (p *StorePool) watcherFor(project string, proj config.ProjectConfig, s *store.MemoryStore) *watcher.Watcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.watchers[project]; ok {
		return w
	}
	patterns := proj.WatchPatterns
	if len(patterns) == 0 {
		patterns = config.DefaultWatchPatterns
	}
	exclude := proj.WatchExclude
	if len(exclude) == 0 {
		exclude = config.DefaultWatchExclude
	}
	w := watcher.New(s, proj.WatchPaths, patterns, exclude)
	p.watchers[project] = w
	return w
}

// ReconcileAsync runs Reconcile on a goroutine. A panic inside the pass is
// logged and reported as a failed index instead of crashing the daemon.
func (p *StorePool) ReconcileAsync(project string) {
	select {
	case <-p.closing:
		return
	default:
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("reconcile panicked", "project", project, "panic", r, "stack", string(debug.Stack()))
				p.bus.Push(events.Event{Type: events.TypeIndexFailed, Project: project, Detail: fmt.Sprintf("panic: %v", r)})
			}
		}()
		if _, err := p.Reconcile(project); err != nil {
			log.Warn("reconcile failed", "project", project, "err", err)
		}
	}()
}

// ReconcileAll dispatches an async pass for every configured project that
// has watch paths.
func (p *StorePool) ReconcileAll() {
	for name, proj := range p.cfg.Projects {
		if len(proj.WatchPaths) > 0 {
			p.ReconcileAsync(name)
		}
	}
}

// Status reports every known project's reconcile state. Running is probed
// with TryLock so a status call never waits behind an index pass.
func (p *StorePool) Status() map[string]ReconcileStatus {
	p.reconcileMu.Lock()
	names := make([]string, 0, len(p.reconcilers))
	for name := range p.reconcilers {
		names = append(names, name)
	}
	p.reconcileMu.Unlock()

	out := make(map[string]ReconcileStatus, len(names))
	for _, name := range names {
		lock, status := p.reconcileLock(name)
		running := !lock.TryLock()
		if !running {
			lock.Unlock()
		}
		p.reconcileMu.Lock()
		snap := *status
		p.reconcileMu.Unlock()
		snap.Running = running
		out[name] = snap
	}
	return out
}

// StartWatching begins live filesystem watching for every project that
// opts in with watch: true.
func (p *StorePool) StartWatching() {
	for name, proj := range p.cfg.Projects {
		if !proj.Watch || len(proj.WatchPaths) == 0 {
			continue
		}
		s, err := p.Get(name)
		if err != nil {
			log.Warn("open store for watching failed", "project", name, "err", err)
			continue
		}
		if err := p.watcherFor(name, proj, s).Start(); err != nil {
			log.Warn("start watcher failed", "project", name, "err", err)
		}
	}
}

// Shutdown stops watchers, waits for outstanding reconciles up to the
// timeout, then closes every open store.
func (p *StorePool) Shutdown(timeout time.Duration) {
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	watchers := make([]*watcher.Watcher, 0, len(p.watchers))
	for _, w := range p.watchers {
		watchers = append(watchers, w)
	}
	p.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("shutdown timed out waiting for reconciles", "timeout", timeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, entry := range p.stores {
		if entry.store != nil {
			if err := entry.store.Close(); err != nil {
				log.Warn("close store failed", "project", name, "err", err)
			}
		}
	}
	p.stores = make(map[string]*storeEntry)
}
