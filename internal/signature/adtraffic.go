// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package signature

import "strings"

// adRefererDomains are referer substrings produced by social-ad click
// redirects. A referer containing any of these attributes the click to an ad.
var adRefererDomains = []string{
	"l.facebook.com",
	"lm.facebook.com",
	"l.instagram.com",
	"business.facebook.com",
	"fb.com/ads",
	"facebook.com/ads",
	"instagram.com/ads",
}

// inAppUATokens identify the Facebook/Instagram in-app browsers.
var inAppUATokens = []string{
	"fban/",
	"fbios",
	"fb_iab",
	"fbav/",
	"instagram",
	"[fban",
	"[fbss",
}

// adUTMSources are the utm_source values accepted as ad attribution.
// Compared case-insensitively, exact match.
var adUTMSources = []string{
	"facebook",
	"instagram",
	"fb",
	"ig",
	"meta",
}

// IsAdTraffic reports whether the request carries ad-attribution signals:
// an ad click ID (fbclid/igshid), an accepted utm_source, an ad-redirect
// referer, or an in-app browser user agent combined with a platform referer.
func IsAdTraffic(referer, userAgent string, queryParams map[string]string) bool {
	refLower := strings.ToLower(referer)
	uaLower := strings.ToLower(userAgent)

	if _, ok := queryParams["fbclid"]; ok {
		return true
	}
	if _, ok := queryParams["igshid"]; ok {
		return true
	}

	if utm, ok := queryParams["utm_source"]; ok {
		utmLower := strings.ToLower(utm)
		for _, source := range adUTMSources {
			if utmLower == source {
				return true
			}
		}
	}

	refererFromAd := containsAny(refLower, adRefererDomains)
	inAppUA := containsAny(uaLower, inAppUATokens)

	// Ad-redirect referer alone attributes the click; combined with an
	// in-app UA it is redundant but kept explicit to match the evaluated
	// combinations one-to-one.
	if refererFromAd && inAppUA {
		return true
	}
	if refererFromAd {
		return true
	}

	// In-app browser landing from the platform's main domain.
	if inAppUA && (strings.Contains(refLower, "facebook.com") || strings.Contains(refLower, "instagram.com")) {
		return true
	}

	return false
}
