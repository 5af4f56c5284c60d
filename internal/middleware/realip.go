// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package middleware

import (
	"context"
	"net/http"
	"strings"
)

const clientIPKey contextKey = "client_ip"

// RealIP resolves the client address from proxy headers and stores it in
// the request context. Header precedence matches the expected deployment
// behind Cloudflare or a reverse proxy:
//
//	CF-Connecting-IP > X-Real-IP > first X-Forwarded-For entry > socket peer
//
// The resolved address has any port and IPv6 brackets stripped.
func RealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPFromRequest(r)
		ctx := context.WithValue(r.Context(), clientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the resolved client address, or empty when the RealIP
// middleware did not run.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}

func clientIPFromRequest(r *http.Request) string {
	if ip := normalizeIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := firstForwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	return normalizeIP(r.RemoteAddr)
}

// normalizeIP strips a trailing :port and IPv6 brackets. Bare IPv6
// addresses pass through untouched: more than one colon without brackets
// means the colons are part of the address.
func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}

	// [::1]:8080 form, with or without port
	if strings.HasPrefix(ip, "[") {
		if end := strings.Index(ip, "]"); end > 0 {
			return ip[1:end]
		}
	}

	if strings.Count(ip, ":") == 1 {
		if idx := strings.LastIndex(ip, ":"); idx > 0 {
			return ip[:idx]
		}
	}

	return ip
}

// firstForwardedIP returns the first non-empty entry of an
// X-Forwarded-For list, which is the original client in a well-behaved
// proxy chain.
func firstForwardedIP(xff string) string {
	for _, part := range strings.Split(xff, ",") {
		if ip := normalizeIP(part); ip != "" {
			return ip
		}
	}
	return ""
}
