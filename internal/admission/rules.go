// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package admission

import (
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// ContainsIgnoreCase reports whether list contains value, comparing
// trimmed and case-folded. Empty values never match.
func ContainsIgnoreCase(list []string, value string) bool {
	target := strings.ToUpper(strings.TrimSpace(value))
	if target == "" {
		return false
	}
	for _, item := range list {
		if strings.ToUpper(strings.TrimSpace(item)) == target {
			return true
		}
	}
	return false
}

// IsIPBlocked reports whether ip matches any entry in blocked. Entries are
// either literal addresses or CIDR ranges (v4 or v6). Malformed entries are
// inert: a bad block-list line must never deny or admit anyone.
func IsIPBlocked(ip string, blocked []string) bool {
	addr, parseErr := netip.ParseAddr(ip)

	for _, entry := range blocked {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			if parseErr != nil {
				continue
			}
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr.Unmap()) {
				return true
			}
			continue
		}

		if entry == ip {
			return true
		}
	}
	return false
}

// IsISPBlocked reports whether any blocked entry appears as a substring of
// the combined ISP and organization names, case-insensitive. Matching both
// fields catches providers that report their network under either name.
func IsISPBlocked(isp, org string, blocked []string) bool {
	combined := strings.ToLower(isp + " " + org)
	for _, entry := range blocked {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" && strings.Contains(combined, entry) {
			return true
		}
	}
	return false
}

// WithinAllowedHours reports whether now falls inside an "HH:MM-HH:MM"
// window. A window that ends before it starts wraps past midnight
// (e.g. "22:00-06:00"). Malformed windows are treated as unrestricted.
func WithinAllowedHours(allowedHours string, now time.Time) bool {
	parts := strings.Split(allowedHours, "-")
	if len(parts) != 2 {
		return true
	}

	start, okStart := parseMinutes(parts[0])
	end, okEnd := parseMinutes(parts[1])
	if !okStart || !okEnd {
		return true
	}

	current := now.Hour()*60 + now.Minute()
	if end < start {
		return current >= start || current <= end
	}
	return current >= start && current <= end
}

// parseMinutes converts "HH:MM" to minutes since midnight.
func parseMinutes(s string) (int, bool) {
	fields := strings.Split(strings.TrimSpace(s), ":")
	if len(fields) != 2 {
		return 0, false
	}
	h, errH := strconv.Atoi(strings.TrimSpace(fields[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(fields[1]))
	if errH != nil || errM != nil {
		return 0, false
	}
	return h*60 + m, true
}
