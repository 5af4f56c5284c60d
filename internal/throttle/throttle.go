// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package throttle tracks per-destination request attempts by client IP and
// temporarily blocks IPs that accumulate too many denied attempts. It exists
// to slow down probing: a visitor who keeps getting the safe page cannot
// brute-force their way to the offer by retrying.
package throttle

import (
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/metrics"
	"github.com/tomtom215/veilgate/internal/models"
)

const (
	// MaxAttempts is the number of consecutive denied attempts before an
	// IP is temporarily blocked for a destination.
	MaxAttempts = 10

	// BlockDuration is how long a tripped IP stays blocked.
	BlockDuration = 60 * time.Second

	// staleAfter is how long an idle entry survives before the sweeper
	// drops it.
	staleAfter = 24 * time.Hour
)

// BlockedReason is the decision reason reported when an IP trips the limit.
const BlockedReason = "IP blocked: limit of 10 attempts reached, wait 1 minute"

// Recorder persists seen-IP state. Persistence is fire-and-forget: a write
// failure never delays or changes an admission decision.
type Recorder interface {
	RecordSeenIP(key string, state models.SeenIPState)
}

// Throttle tracks attempt counts per (destination, IP) pair in memory.
// The map is guarded by a single RWMutex; the pre-check in Check and the
// update in Commit are separate critical sections, so two concurrent
// requests from one IP may both pass the pre-check. That race only delays
// a block by one request and is accepted for lock simplicity.
type Throttle struct {
	mu       sync.RWMutex
	seen     map[string]*models.SeenIPState
	recorder Recorder
	now      func() time.Time
}

// New creates an empty throttle. recorder may be nil to disable persistence.
func New(recorder Recorder) *Throttle {
	return &Throttle{
		seen:     make(map[string]*models.SeenIPState),
		recorder: recorder,
		now:      time.Now,
	}
}

func key(destinationID, ip string) string {
	return destinationID + ":" + ip
}

// Check reports whether the IP is currently blocked for the destination.
// Returns a non-empty reason with the remaining wait when blocked. An
// expired block is left in place here; Commit clears it on the next write.
func (t *Throttle) Check(destinationID, ip string) (blocked bool, reason string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.seen[key(destinationID, ip)]
	if !ok || entry.BlockedAt == nil {
		return false, ""
	}

	elapsed := t.now().Sub(*entry.BlockedAt)
	if elapsed >= BlockDuration {
		return false, ""
	}

	remaining := int64((BlockDuration - elapsed).Seconds())
	if remaining < 1 {
		remaining = 1
	}
	return true, fmt.Sprintf("IP temporarily blocked after too many attempts, retry in %ds", remaining)
}

// Commit records the outcome of an admission decision and returns the
// decision, possibly overridden: when a denied attempt trips the limit the
// reason becomes BlockedReason. Allowed requests reset the attempt counter.
// Commit must run for every decision so the counters stay truthful.
func (t *Throttle) Commit(destinationID, ip, userAgent string, allowed bool, reason string) (bool, string) {
	now := t.now()
	k := key(destinationID, ip)

	t.mu.Lock()
	entry, ok := t.seen[k]
	if !ok {
		entry = &models.SeenIPState{
			DestinationID: destinationID,
			IP:            ip,
			FirstSeen:     now,
		}
		t.seen[k] = entry
	}

	// Clear an expired block before counting this attempt.
	if entry.BlockedAt != nil && now.Sub(*entry.BlockedAt) >= BlockDuration {
		entry.BlockedAt = nil
		entry.Attempts = 0
	}

	entry.LastSeen = now
	entry.UserAgent = userAgent

	if allowed {
		entry.Attempts = 0
	} else {
		entry.Attempts++
		if entry.Attempts >= MaxAttempts {
			blockedAt := now
			entry.BlockedAt = &blockedAt
			reason = BlockedReason
			metrics.ThrottleBlocks.Inc()
			logging.Warn().
				Str("destination_id", destinationID).
				Str("ip", ip).
				Int("attempts", entry.Attempts).
				Msg("IP tripped attempt limit")
		}
	}

	snapshot := *entry
	metrics.ThrottleTrackedKeys.Set(float64(len(t.seen)))
	t.mu.Unlock()

	if t.recorder != nil {
		go t.recorder.RecordSeenIP(k, snapshot)
	}

	return allowed, reason
}

// Snapshot returns a copy of the state for one (destination, IP) pair.
func (t *Throttle) Snapshot(destinationID, ip string) (models.SeenIPState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.seen[key(destinationID, ip)]
	if !ok {
		return models.SeenIPState{}, false
	}
	return *entry, true
}

// Restore seeds an entry from persisted state, used at startup to survive
// restarts without forgetting active blocks.
func (t *Throttle) Restore(state models.SeenIPState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := state
	t.seen[key(state.DestinationID, state.IP)] = &entry
	metrics.ThrottleTrackedKeys.Set(float64(len(t.seen)))
}

// Sweep drops entries idle longer than staleAfter. Active blocks are never
// older than BlockDuration so they always survive.
func (t *Throttle) Sweep() {
	cutoff := t.now().Add(-staleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, entry := range t.seen {
		if entry.LastSeen.Before(cutoff) {
			delete(t.seen, k)
		}
	}
	metrics.ThrottleTrackedKeys.Set(float64(len(t.seen)))
}

// TrackedKeys returns the number of (destination, IP) pairs in memory.
func (t *Throttle) TrackedKeys() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.seen)
}
