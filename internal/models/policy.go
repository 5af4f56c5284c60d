// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package models defines the shared data types of the admission pipeline:
// destination policies, geolocation records, per-IP throttle state, and the
// access decisions and telemetry rows produced per request.
//
// The engine treats DestinationPolicy as read-only; it is owned and mutated
// only by the external admin layer. All other types here are produced and
// consumed inside the pipeline.
package models

import "time"

// DestinationPolicy describes the admission rules for one cloaked destination.
// A destination is addressed by its slug; traffic that passes every rule is
// redirected to OfferURL, everything else receives the decoy page.
type DestinationPolicy struct {
	// ID is the unique destination identifier.
	ID string `json:"id"`

	// Slug is the public URL path segment for this destination.
	Slug string `json:"slug"`

	// OfferURL is the real target traffic is forwarded to when admitted.
	OfferURL string `json:"offer_url"`

	// SafePageURL optionally names an external page whose HTML is served
	// as the decoy. Empty means the built-in neutral page is used.
	SafePageURL string `json:"safe_page_url,omitempty"`

	// ParamHash is the SHA-256 hex digest of the secret token. When set it
	// takes precedence over ParamCode for verification.
	ParamHash string `json:"param_hash,omitempty"`

	// ParamCode is the plaintext secret token, kept for operator visibility
	// and as a verification fallback when no hash is stored.
	ParamCode string `json:"param_code,omitempty"`

	// ParamTTL is the token validity window in minutes. Zero disables expiry.
	ParamTTL int `json:"param_ttl"`

	// MaxClicks caps admitted requests. Zero means unlimited.
	MaxClicks int64 `json:"max_clicks"`

	// Clicks is the number of admitted requests so far.
	Clicks int64 `json:"clicks"`

	// Blocked is the number of denied requests so far.
	Blocked int64 `json:"blocked"`

	// AllowedHours restricts admission to a local-time window in
	// "HH:MM-HH:MM" form. Empty or malformed means unrestricted.
	AllowedHours string `json:"allowed_hours,omitempty"`

	// AllowedCountries is an ISO 3166-1 alpha-2 allow-list. Empty means any.
	AllowedCountries []string `json:"allowed_countries,omitempty"`

	// BlockedCountries is an ISO 3166-1 alpha-2 block-list.
	BlockedCountries []string `json:"blocked_countries,omitempty"`

	// BlockedIPs lists literal addresses or CIDR prefixes (v4 and v6) to deny.
	BlockedIPs []string `json:"blocked_ips,omitempty"`

	// BlockedISPs lists substrings matched case-insensitively against the
	// resolved ISP and organization fields.
	BlockedISPs []string `json:"blocked_isps,omitempty"`

	// MobileOnly denies traffic that is identifiably non-mobile.
	MobileOnly bool `json:"mobile_only"`

	// AdsOnly denies traffic without ad-attribution signals.
	AdsOnly bool `json:"ads_only"`

	// BotProtection denies known crawlers and automation tools.
	BotProtection bool `json:"bot_protection"`

	// Active gates the destination as a whole.
	Active bool `json:"active"`

	// CloakingActive toggles rule evaluation; when false every request is
	// forwarded to OfferURL unchecked.
	CloakingActive bool `json:"cloaking_active"`

	// CreatedAt is when the destination was registered.
	CreatedAt time.Time `json:"created_at"`
}

// TokenConfigured reports whether any secret token is set on the policy.
func (p *DestinationPolicy) TokenConfigured() bool {
	return p.ParamHash != "" || p.ParamCode != ""
}
