// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package models

import "time"

// SeenIPState tracks one (destination, IP) pair across evaluations.
// It feeds the admission throttle: consecutive failures accumulate in
// Attempts, and BlockedAt marks the start of a temporary block window.
type SeenIPState struct {
	// DestinationID identifies the destination this state belongs to.
	DestinationID string `json:"destination_id"`

	// IP is the client address.
	IP string `json:"ip"`

	// Attempts counts consecutive failed admissions. Reset to zero on any
	// successful admission for the same key.
	Attempts int `json:"attempts"`

	// FirstSeen is when this key was first evaluated.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is updated on every evaluation.
	LastSeen time.Time `json:"last_seen"`

	// BlockedAt, when non-nil, is the instant the temporary block started.
	// The block is authoritative for its fixed duration regardless of
	// intervening successes on other keys.
	BlockedAt *time.Time `json:"blocked_at,omitempty"`

	// UserAgent is the most recently observed user agent for the key.
	UserAgent string `json:"user_agent,omitempty"`
}

// ParamUsageState is the single live token-tracking slot for a destination.
// The slot is replaced wholesale (timestamp reset, counter zeroed) whenever
// the submitted token differs from the tracked one.
type ParamUsageState struct {
	// Code is the currently tracked token value.
	Code string `json:"code"`

	// CreatedAt is when this token was first seen; the TTL window is
	// measured from here.
	CreatedAt time.Time `json:"created_at"`

	// Uses counts non-expired checks. Informational only, not enforced.
	Uses int `json:"uses"`
}

// AccessDecision is the outcome of one admission evaluation. It is ephemeral
// and never persisted by the engine itself.
type AccessDecision struct {
	// Allowed is true when the request should be forwarded to the offer.
	Allowed bool `json:"allowed"`

	// Reason is a human-readable explanation for the decision.
	Reason string `json:"reason"`
}

// AccessLog is one telemetry row describing an evaluated request. Rows are
// handed to the telemetry sink fire-and-forget and persisted asynchronously.
type AccessLog struct {
	// Timestamp is when the request was evaluated.
	Timestamp time.Time `json:"timestamp"`

	// DestinationID identifies the destination evaluated against.
	DestinationID string `json:"destination_id"`

	// Slug is the destination slug, duplicated for query convenience.
	Slug string `json:"slug"`

	// IP is the resolved client address.
	IP string `json:"ip"`

	// Country, CountryCode, Region, RegionName, and City are copied from
	// the resolved GeoRecord for log enrichment.
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Region      string `json:"region,omitempty"`
	RegionName  string `json:"region_name,omitempty"`
	City        string `json:"city,omitempty"`

	// ISP is the resolved provider name.
	ISP string `json:"isp,omitempty"`

	// UserAgent is the raw User-Agent header.
	UserAgent string `json:"user_agent,omitempty"`

	// Referer is the raw Referer header.
	Referer string `json:"referer,omitempty"`

	// Allowed mirrors the decision outcome.
	Allowed bool `json:"allowed"`

	// Reason mirrors the decision reason.
	Reason string `json:"reason"`
}
