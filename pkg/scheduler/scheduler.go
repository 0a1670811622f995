// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scheduler runs periodic reindex passes over configured projects.
package scheduler

import (
	"time"

	"github.com/annalhq/annal/internal/pool"
)

// Scheduler dispatches a reconcile pass for every watched project on a
// fixed interval. Passes that are still running when the next tick fires
// serialize on the pool's per-project locks.
type Scheduler struct {
	pool     *pool.StorePool
	interval time.Duration
	stopChan chan bool
}

// NewScheduler creates a new scheduler
func NewScheduler(p *pool.StorePool, intervalMinutes int) *Scheduler {
	return &Scheduler{
		pool:     p,
		interval: time.Duration(intervalMinutes) * time.Minute,
		stopChan: make(chan bool),
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.pool.ReconcileAll()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.stopChan <- true
}
