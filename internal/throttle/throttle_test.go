// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package throttle

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/veilgate/internal/models"
)

func newTestThrottle(start time.Time) (*Throttle, *time.Time) {
	current := start
	t := New(nil)
	t.now = func() time.Time { return current }
	return t, &current
}

func TestCheckUnknownIPNotBlocked(t *testing.T) {
	th, _ := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	blocked, reason := th.Check("dest-1", "203.0.113.7")
	if blocked || reason != "" {
		t.Errorf("Check() = %v, %q, expected not blocked", blocked, reason)
	}
}

func TestCommitBlocksAfterMaxAttempts(t *testing.T) {
	th, _ := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < MaxAttempts-1; i++ {
		allowed, reason := th.Commit("dest-1", "203.0.113.7", "curl/8.0", false, "bot detected")
		if allowed {
			t.Fatalf("attempt %d: allowed = true", i+1)
		}
		if reason != "bot detected" {
			t.Fatalf("attempt %d: reason = %q, expected original reason passed through", i+1, reason)
		}
	}

	// The tenth denied attempt trips the block and overrides the reason.
	_, reason := th.Commit("dest-1", "203.0.113.7", "curl/8.0", false, "bot detected")
	if reason != BlockedReason {
		t.Errorf("reason = %q, expected %q", reason, BlockedReason)
	}

	blocked, checkReason := th.Check("dest-1", "203.0.113.7")
	if !blocked {
		t.Fatal("Check() not blocked after limit tripped")
	}
	if !strings.Contains(checkReason, "retry in") {
		t.Errorf("reason = %q, expected remaining wait", checkReason)
	}
}

func TestCheckReportsRemainingSeconds(t *testing.T) {
	th, current := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < MaxAttempts; i++ {
		th.Commit("dest-1", "203.0.113.7", "", false, "denied")
	}

	*current = current.Add(45 * time.Second)
	_, reason := th.Check("dest-1", "203.0.113.7")
	if !strings.Contains(reason, "retry in 15s") {
		t.Errorf("reason = %q, expected 15s remaining", reason)
	}

	// Never report less than one second while still blocked.
	*current = current.Add(14*time.Second + 900*time.Millisecond)
	blocked, reason := th.Check("dest-1", "203.0.113.7")
	if !blocked {
		t.Fatal("Check() not blocked 0.1s before expiry")
	}
	if !strings.Contains(reason, "retry in 1s") {
		t.Errorf("reason = %q, expected floor of 1s", reason)
	}
}

func TestBlockExpiresAndCounterResets(t *testing.T) {
	th, current := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < MaxAttempts; i++ {
		th.Commit("dest-1", "203.0.113.7", "", false, "denied")
	}

	*current = current.Add(BlockDuration)
	if blocked, _ := th.Check("dest-1", "203.0.113.7"); blocked {
		t.Fatal("Check() still blocked after BlockDuration")
	}

	// The next denied commit clears the stale block and starts over at 1.
	th.Commit("dest-1", "203.0.113.7", "", false, "denied")
	state, ok := th.Snapshot("dest-1", "203.0.113.7")
	if !ok {
		t.Fatal("Snapshot() missing entry")
	}
	if state.Attempts != 1 {
		t.Errorf("Attempts = %d after expiry, expected 1", state.Attempts)
	}
	if state.BlockedAt != nil {
		t.Error("BlockedAt still set after expiry commit")
	}
}

func TestAllowedCommitResetsAttempts(t *testing.T) {
	th, _ := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		th.Commit("dest-1", "203.0.113.7", "", false, "denied")
	}
	th.Commit("dest-1", "203.0.113.7", "Mozilla/5.0", true, "ok")

	state, _ := th.Snapshot("dest-1", "203.0.113.7")
	if state.Attempts != 0 {
		t.Errorf("Attempts = %d after allowed commit, expected 0", state.Attempts)
	}
	if state.UserAgent != "Mozilla/5.0" {
		t.Errorf("UserAgent = %q, expected recorded", state.UserAgent)
	}
}

func TestThrottleKeysAreScopedPerDestination(t *testing.T) {
	th, _ := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < MaxAttempts; i++ {
		th.Commit("dest-1", "203.0.113.7", "", false, "denied")
	}

	if blocked, _ := th.Check("dest-2", "203.0.113.7"); blocked {
		t.Error("block on dest-1 leaked to dest-2")
	}
	if blocked, _ := th.Check("dest-1", "203.0.113.7"); !blocked {
		t.Error("dest-1 not blocked")
	}
}

func TestRestoreSeedsActiveBlock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	th, _ := newTestThrottle(start)

	blockedAt := start.Add(-10 * time.Second)
	th.Restore(models.SeenIPState{
		DestinationID: "dest-1",
		IP:            "203.0.113.7",
		Attempts:      MaxAttempts,
		BlockedAt:     &blockedAt,
	})

	blocked, _ := th.Check("dest-1", "203.0.113.7")
	if !blocked {
		t.Error("restored block not honored")
	}
}

func TestSweepDropsStaleEntries(t *testing.T) {
	th, current := newTestThrottle(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	th.Commit("dest-1", "203.0.113.7", "", false, "denied")
	*current = current.Add(12 * time.Hour)
	th.Commit("dest-1", "198.51.100.9", "", false, "denied")

	*current = current.Add(12*time.Hour + time.Minute)
	th.Sweep()

	if th.TrackedKeys() != 1 {
		t.Errorf("TrackedKeys() = %d after sweep, expected 1", th.TrackedKeys())
	}
	if _, ok := th.Snapshot("dest-1", "198.51.100.9"); !ok {
		t.Error("recent entry swept")
	}
}

type captureRecorder struct {
	mu   sync.Mutex
	keys []string
	done chan struct{}
}

func (c *captureRecorder) RecordSeenIP(key string, _ models.SeenIPState) {
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func TestCommitNotifiesRecorder(t *testing.T) {
	rec := &captureRecorder{done: make(chan struct{}, 1)}
	th := New(rec)

	th.Commit("dest-1", "203.0.113.7", "", false, "denied")

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("recorder not notified within 1s")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.keys) != 1 || rec.keys[0] != "dest-1:203.0.113.7" {
		t.Errorf("recorded keys = %v", rec.keys)
	}
}
