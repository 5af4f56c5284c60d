// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package services

import (
	"context"
	"time"

	"github.com/tomtom215/veilgate/internal/logging"
)

// defaultSweepInterval is how often maintenance tasks run. One minute keeps
// the geolocation cache and throttle map close to their true working set
// without measurable load.
const defaultSweepInterval = time.Minute

// SweepTask is one periodic maintenance job. Run errors are logged, not
// propagated; a failing purge must not take the other tasks down with it.
type SweepTask struct {
	Name string
	Run  func() error
}

// SweeperService runs registered maintenance tasks on a fixed interval:
// geolocation cache eviction, stale throttle state cleanup, secret-rotation
// slot retention, and access-log purging.
type SweeperService struct {
	interval time.Duration
	tasks    []SweepTask
	name     string
}

// NewSweeperService creates a sweeper running the given tasks every interval.
// A non-positive interval falls back to one minute.
func NewSweeperService(interval time.Duration, tasks ...SweepTask) *SweeperService {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweeperService{
		interval: interval,
		tasks:    tasks,
		name:     "maintenance-sweeper",
	}
}

// Serve implements suture.Service. The first sweep happens one full interval
// after start; everything the tasks clean up is also rejected at read time,
// so there is nothing to catch up on.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *SweeperService) sweep() {
	logger := logging.WithComponent("sweeper")
	for _, task := range s.tasks {
		if err := task.Run(); err != nil {
			logger.Warn().Err(err).Str("task", task.Name).Msg("sweep task failed")
		}
	}
}

// String implements fmt.Stringer for supervisor log messages.
func (s *SweeperService) String() string {
	return s.name
}
