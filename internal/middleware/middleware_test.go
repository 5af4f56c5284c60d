// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRealIPHeaderPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name: "cloudflare header wins",
			headers: map[string]string{
				"CF-Connecting-IP": "203.0.113.7",
				"X-Real-IP":        "198.51.100.1",
				"X-Forwarded-For":  "192.0.2.1",
			},
			remoteAddr: "10.0.0.1:4567",
			expected:   "203.0.113.7",
		},
		{
			name: "x-real-ip second",
			headers: map[string]string{
				"X-Real-IP":       "198.51.100.1",
				"X-Forwarded-For": "192.0.2.1",
			},
			remoteAddr: "10.0.0.1:4567",
			expected:   "198.51.100.1",
		},
		{
			name: "first forwarded entry third",
			headers: map[string]string{
				"X-Forwarded-For": "192.0.2.1, 198.51.100.1, 10.0.0.1",
			},
			remoteAddr: "10.0.0.1:4567",
			expected:   "192.0.2.1",
		},
		{
			name: "forwarded list skips empty entries",
			headers: map[string]string{
				"X-Forwarded-For": " , 192.0.2.1",
			},
			remoteAddr: "10.0.0.1:4567",
			expected:   "192.0.2.1",
		},
		{
			name:       "socket peer last resort",
			remoteAddr: "10.0.0.1:4567",
			expected:   "10.0.0.1",
		},
		{
			name:       "bracketed ipv6 peer",
			remoteAddr: "[2001:db8::1]:4567",
			expected:   "2001:db8::1",
		},
		{
			name: "cf header with port",
			headers: map[string]string{
				"CF-Connecting-IP": "203.0.113.7:1234",
			},
			remoteAddr: "10.0.0.1:4567",
			expected:   "203.0.113.7",
		},
		{
			name: "bare ipv6 in header untouched",
			headers: map[string]string{
				"X-Real-IP": "2001:db8::1",
			},
			remoteAddr: "10.0.0.1:4567",
			expected:   "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := RealIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.expected {
				t.Errorf("ClientIP = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ClientIP(req.Context()); got != "" {
		t.Errorf("ClientIP = %q without middleware, expected empty", got)
	}
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	headerID := rec.Header().Get("X-Request-ID")
	if headerID == "" {
		t.Fatal("X-Request-ID header not set")
	}
	if ctxID != headerID {
		t.Errorf("context ID %q != header ID %q", ctxID, headerID)
	}
}

func TestRequestIDKeepsUpstreamID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "upstream-id-42" {
		t.Errorf("X-Request-ID = %q, expected upstream value kept", got)
	}
}

func TestPrometheusMetricsCapturesStatus(t *testing.T) {
	handler := PrometheusMetrics("/{slug}")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spring-sale", nil))

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, expected 302 passed through", rec.Code)
	}
}
