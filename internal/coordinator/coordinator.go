// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package coordinator fans a search out across project stores and merges
// the results into one globally ranked list.
package coordinator

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/annalhq/annal/internal/config"
	"github.com/annalhq/annal/internal/store"
)

// Pool is the store-lookup surface the coordinator needs.
type Pool interface {
	Get(project string) (*store.MemoryStore, error)
	Config() *config.Config
}

// Coordinator merges per-project searches. It holds no state of its own;
// all concurrency control lives in the pool and the stores.
type Coordinator struct {
	pool Pool
}

func New(pool Pool) *Coordinator {
	return &Coordinator{pool: pool}
}

// resolveTargets expands the requested project list. The caller's own
// project is always searched; "*" selects every configured project.
func (c *Coordinator) resolveTargets(caller string, requested []string) []string {
	seen := map[string]struct{}{caller: {}}
	targets := []string{caller}
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		targets = append(targets, name)
	}
	for _, name := range requested {
		if name == "*" {
			for _, configured := range c.pool.Config().ProjectNames() {
				add(configured)
			}
			continue
		}
		add(name)
	}
	return targets
}

// SearchAcross queries every target project concurrently, scales scores by
// the caller-supplied weight for that project (falling back to the
// project's configured weight), and returns the top results globally.
// A project that fails to open or search is logged and skipped rather than
// failing the whole query.
func (c *Coordinator) SearchAcross(caller, query string, projects []string, weights map[string]float64, opts store.SearchOptions) ([]store.Memory, error) {
	targets := c.resolveTargets(caller, projects)

	perProject := opts
	if perProject.Limit <= 0 {
		perProject.Limit = 5
	}

	type leg struct {
		project string
		results []store.Memory
		err     error
	}
	legs := make([]leg, len(targets))
	var wg sync.WaitGroup
	for i, project := range targets {
		wg.Add(1)
		go func(i int, project string) {
			defer wg.Done()
			legs[i].project = project
			s, err := c.pool.Get(project)
			if err != nil {
				legs[i].err = err
				return
			}
			legs[i].results, legs[i].err = s.Search(query, perProject)
		}(i, project)
	}
	wg.Wait()

	cfg := c.pool.Config()
	var merged []store.Memory
	for _, l := range legs {
		if l.err != nil {
			log.Warn("cross-project search leg failed", "project", l.project, "err", l.err)
			continue
		}
		weight := 1.0
		if proj, ok := cfg.Projects[l.project]; ok && proj.Weight > 0 {
			weight = proj.Weight
		}
		if w, ok := weights[l.project]; ok && w > 0 {
			weight = w
		}
		for _, m := range l.results {
			m.Project = l.project
			m.Score *= weight
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > perProject.Limit {
		merged = merged[:perProject.Limit]
	}
	return merged, nil
}
