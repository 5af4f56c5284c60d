// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package signature classifies requests from their text alone: user agent,
// referer, and query parameters. All functions are pure and allocation-light;
// the heuristic lists are fixed at compile time and never mutated at runtime.
//
// Classification is best-effort by design. The lists catch the crawlers,
// HTTP libraries, and automation drivers seen in real ad traffic, not a
// determined adversary spoofing a clean mobile user agent.
package signature

import "strings"

// botTokens are substrings identifying known crawlers, scraping libraries,
// HTTP clients, and headless browsers. Matched case-insensitively.
var botTokens = []string{
	"googlebot",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"sogou",
	"exabot",
	"facebot",
	"facebookexternalhit",
	"ia_archiver",
	"mj12bot",
	"semrushbot",
	"ahrefsbot",
	"dotbot",
	"rogerbot",
	"seznambot",
	"crawler",
	"spider",
	"bot",
	"scraper",
	"curl",
	"wget",
	"python-requests",
	"httpie",
	"postman",
	"insomnia",
	"selenium",
	"phantomjs",
	"headless",
	"puppeteer",
	"playwright",
	"httrack",
	"apache-httpclient",
	"java/",
	"libwww",
	"lwp-trivial",
	"go-http-client",
	"php/",
	"ruby",
	"perl",
	"python-urllib",
	"adsbot",
	"mediapartners",
	"adreview",
	"facebookcatalog",
}

// automationTokens are substrings identifying browser-automation drivers and
// inspection tooling. Broader than botTokens: these tools often present an
// otherwise genuine browser user agent.
var automationTokens = []string{
	"selenium",
	"webdriver",
	"puppeteer",
	"playwright",
	"phantomjs",
	"headless",
	"headlesschrome",
	"chromeheadless",
	"electron",
	"nightmare",
	"cypress",
	"browserless",
	"chrome-lighthouse",
	"inspect",
	"debugger",
	"lucid",
	"clarity",
}

// desktopTokens mark a user agent as identifiably non-mobile. "linux" counts
// only when "android" is absent, handled separately in IsMobileDevice.
var desktopTokens = []string{
	"windows nt",
	"macintosh",
	"x11",
}

// mobileTokens mark a user agent as a mobile device.
var mobileTokens = []string{
	"iphone",
	"ipod",
	"android",
	"ipad",
}

// IsBot reports whether the user agent matches a known crawler or tool token.
func IsBot(userAgent string) bool {
	return containsAny(strings.ToLower(userAgent), botTokens)
}

// IsAutomationTool reports whether the user agent matches an automation
// driver signature.
func IsAutomationTool(userAgent string) bool {
	return containsAny(strings.ToLower(userAgent), automationTokens)
}

// IsMobileDevice reports whether the user agent looks like a mobile device.
//
// The check fails open: an empty or unrecognized user agent is treated as
// mobile so genuine clients with stripped headers are not discarded. Only an
// explicit desktop marker (Windows NT, Macintosh, X11, or Linux without
// Android) yields false.
func IsMobileDevice(userAgent string) bool {
	lower := strings.ToLower(userAgent)

	if strings.TrimSpace(lower) == "" {
		return true
	}

	if containsAny(lower, mobileTokens) {
		return true
	}

	if containsAny(lower, desktopTokens) {
		return false
	}
	if strings.Contains(lower, "linux") && !strings.Contains(lower, "android") {
		return false
	}

	// Unrecognized UA: fail open
	return true
}

// containsAny reports whether s contains any of the given tokens.
// Callers are expected to lowercase s once up front.
func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
