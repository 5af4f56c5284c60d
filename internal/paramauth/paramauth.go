// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package paramauth verifies the per-destination secret token and enforces
// its optional time-boxed validity window.
//
// Verification is stateless: the submitted token is hashed with SHA-256 and
// compared to the stored digest, falling back to plaintext equality when only
// a plaintext code is configured. Expiry tracking is stateful: each
// destination owns exactly one usage slot recording the tracked token and
// when it was first seen; rotating the token replaces the slot wholesale and
// restarts the TTL window.
package paramauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tomtom215/veilgate/internal/models"
)

// HashParam returns the SHA-256 hex digest of a token.
func HashParam(param string) string {
	sum := sha256.Sum256([]byte(param))
	return hex.EncodeToString(sum[:])
}

// SetParam stores both the plaintext code and its digest on the policy.
// Used by the admin surface when a token is assigned or rotated.
func SetParam(policy *models.DestinationPolicy, param string) {
	policy.ParamCode = param
	policy.ParamHash = HashParam(param)
}

// GenerateCode returns a random lowercase hex token of the given length.
func GenerateCode(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; an empty token
		// is rejected by Verify rather than silently accepted.
		return ""
	}
	return hex.EncodeToString(buf)[:length]
}

// Verify reports whether the submitted token matches the policy's secret.
// An empty token is always rejected. A stored hash takes precedence over the
// plaintext code; a policy with neither configured rejects everything.
func Verify(policy *models.DestinationPolicy, submitted string) bool {
	if submitted == "" {
		return false
	}
	if policy.ParamHash != "" {
		digest := HashParam(submitted)
		return subtle.ConstantTimeCompare([]byte(digest), []byte(policy.ParamHash)) == 1
	}
	if policy.ParamCode != "" {
		return subtle.ConstantTimeCompare([]byte(policy.ParamCode), []byte(submitted)) == 1
	}
	return false
}

// Authenticator tracks per-destination token usage slots for TTL enforcement.
// Safe for concurrent use; reads take a shared lock, any slot mutation takes
// an exclusive lock over the whole map.
type Authenticator struct {
	mu    sync.RWMutex
	slots map[string]*models.ParamUsageState

	// now is swappable for tests.
	now func() time.Time
}

// NewAuthenticator creates an Authenticator with an empty slot map.
func NewAuthenticator() *Authenticator {
	return &Authenticator{
		slots: make(map[string]*models.ParamUsageState),
		now:   time.Now,
	}
}

// IsExpired reports whether the submitted token's validity window has
// elapsed for the destination. Applies only when the policy defines a
// positive TTL; otherwise tokens never expire.
//
// The first sighting of a token creates the slot and is never expired.
// A token differing from the tracked one resets the slot, restarting the
// window — this is how operators rotate tokens without downtime. Each
// non-expired check increments the slot's use counter.
func (a *Authenticator) IsExpired(destinationID string, policy *models.DestinationPolicy, submitted string) bool {
	if policy.ParamTTL <= 0 || submitted == "" {
		return false
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	slot, ok := a.slots[destinationID]
	if !ok || slot.Code != submitted {
		a.slots[destinationID] = &models.ParamUsageState{
			Code:      submitted,
			CreatedAt: now,
		}
		slot = a.slots[destinationID]
	}

	expired := now.Sub(slot.CreatedAt) > time.Duration(policy.ParamTTL)*time.Minute
	if !expired {
		slot.Uses++
	}
	return expired
}

// Usage returns a copy of the destination's slot, if one exists.
func (a *Authenticator) Usage(destinationID string) (models.ParamUsageState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	slot, ok := a.slots[destinationID]
	if !ok {
		return models.ParamUsageState{}, false
	}
	return *slot, true
}

// Sweep evicts slots created longer ago than the retention period. TTL
// windows are minutes-scale, so a generous retention keeps rotation history
// bounded without ever evicting a live window.
func (a *Authenticator) Sweep(retention time.Duration) int {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, slot := range a.slots {
		if now.Sub(slot.CreatedAt) > retention {
			delete(a.slots, id)
			removed++
		}
	}
	return removed
}
