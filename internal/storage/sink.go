// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package storage

import (
	"context"

	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/metrics"
	"github.com/tomtom215/veilgate/internal/models"
)

// defaultQueueSize bounds the telemetry backlog. At typical gate traffic
// this is several seconds of headroom before writes start dropping.
const defaultQueueSize = 4096

type sinkEvent struct {
	log    *models.AccessLog
	seenIP *seenIPEvent
}

type seenIPEvent struct {
	key   string
	state models.SeenIPState
}

// Sink buffers telemetry writes behind a bounded channel so the request
// path never waits on SQLite. When the queue is full new events are
// dropped, not blocked on: losing a log row is cheaper than stalling
// admission. Drops are counted in metrics.
type Sink struct {
	store *Store
	queue chan sinkEvent
}

// NewSink creates a sink over the store. queueSize <= 0 uses the default.
func NewSink(store *Store, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Sink{
		store: store,
		queue: make(chan sinkEvent, queueSize),
	}
}

// Emit queues one access log row. Never blocks.
func (s *Sink) Emit(log models.AccessLog) {
	s.enqueue(sinkEvent{log: &log})
}

// RecordSeenIP queues one attempt-state upsert. Never blocks.
func (s *Sink) RecordSeenIP(key string, state models.SeenIPState) {
	s.enqueue(sinkEvent{seenIP: &seenIPEvent{key: key, state: state}})
}

func (s *Sink) enqueue(ev sinkEvent) {
	select {
	case s.queue <- ev:
		metrics.TelemetryEventsQueued.Inc()
	default:
		metrics.TelemetryEventsDropped.Inc()
	}
}

// Run consumes the queue until ctx is canceled, then drains whatever is
// already buffered before returning. Intended to run under the supervisor.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.queue:
			s.write(ctx, ev)
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		}
	}
}

func (s *Sink) drain() {
	for {
		select {
		case ev := <-s.queue:
			s.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, ev sinkEvent) {
	switch {
	case ev.log != nil:
		if err := s.store.InsertAccessLog(ctx, *ev.log); err != nil {
			metrics.TelemetryWriteErrors.Inc()
			logging.Warn().Err(err).Msg("Failed to persist access log")
			return
		}
		s.bumpCounters(ctx, ev.log)
	case ev.seenIP != nil:
		if err := s.store.UpsertSeenIP(ctx, ev.seenIP.key, ev.seenIP.state); err != nil {
			metrics.TelemetryWriteErrors.Inc()
			logging.Warn().Err(err).Msg("Failed to persist seen ip state")
		}
	}
}

func (s *Sink) bumpCounters(ctx context.Context, log *models.AccessLog) {
	var err error
	if log.Allowed {
		err = s.store.IncrementClicks(ctx, log.DestinationID)
	} else {
		err = s.store.IncrementBlocked(ctx, log.DestinationID)
	}
	if err != nil {
		metrics.TelemetryWriteErrors.Inc()
		logging.Warn().Err(err).Str("destination_id", log.DestinationID).Msg("Failed to update destination counters")
	}
}

// QueueDepth returns the number of buffered events, for health reporting.
func (s *Sink) QueueDepth() int {
	return len(s.queue)
}
