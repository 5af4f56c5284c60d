// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/veilgate/internal/models"
)

// fakeProvider returns a fixed record or error and counts invocations.
type fakeProvider struct {
	name   string
	record models.GeoRecord
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Lookup(_ context.Context, _ string) (models.GeoRecord, error) {
	f.calls++
	if f.err != nil {
		return models.GeoRecord{}, f.err
	}
	return f.record, nil
}

func usRecord() models.GeoRecord {
	return models.GeoRecord{
		Success:     true,
		Country:     "United States",
		CountryCode: "US",
		City:        "Ashburn",
		ISP:         "Example ISP",
	}
}

func TestResolvePrivateIPSkipsProviders(t *testing.T) {
	tests := []struct {
		name string
		ip   string
	}{
		{"ipv4 loopback", "127.0.0.1"},
		{"ipv6 loopback", "::1"},
		{"rfc1918 class A", "10.1.2.3"},
		{"rfc1918 class C", "192.168.1.50"},
		{"link local", "169.254.10.10"},
		{"unspecified", "0.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProvider{name: "fake", record: usRecord()}
			r := NewResolver(fp)

			got := r.Resolve(context.Background(), tt.ip)

			if got.CountryCode != models.LocalCountryCode {
				t.Errorf("CountryCode = %q, expected %q", got.CountryCode, models.LocalCountryCode)
			}
			if fp.calls != 0 {
				t.Errorf("provider called %d times for private IP", fp.calls)
			}
		})
	}
}

func TestResolveCascadeFallsThroughFailures(t *testing.T) {
	failing := &fakeProvider{name: "first", err: errors.New("rate limited")}
	working := &fakeProvider{name: "second", record: usRecord()}
	r := NewResolver(failing, working)

	got := r.Resolve(context.Background(), "203.0.113.7")

	if got.CountryCode != "US" {
		t.Fatalf("CountryCode = %q, expected US", got.CountryCode)
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Errorf("calls = %d/%d, expected 1/1", failing.calls, working.calls)
	}
}

func TestResolveAllProvidersFailReturnsUnknown(t *testing.T) {
	p1 := &fakeProvider{name: "first", err: errors.New("down")}
	p2 := &fakeProvider{name: "second", err: errors.New("down")}
	r := NewResolver(p1, p2)

	got := r.Resolve(context.Background(), "203.0.113.7")

	if got.Success {
		t.Error("Success = true, expected false when all providers fail")
	}
	if got.CountryCode != models.UnknownCountryCode {
		t.Errorf("CountryCode = %q, expected %q", got.CountryCode, models.UnknownCountryCode)
	}

	// Failures are not cached, so the next request retries the cascade.
	r.Resolve(context.Background(), "203.0.113.7")
	if p1.calls != 2 {
		t.Errorf("first provider calls = %d, expected 2", p1.calls)
	}
}

func TestResolveCachesSuccessfulLookups(t *testing.T) {
	fp := &fakeProvider{name: "fake", record: usRecord()}
	r := NewResolver(fp)

	r.Resolve(context.Background(), "203.0.113.7")
	r.Resolve(context.Background(), "203.0.113.7")

	if fp.calls != 1 {
		t.Errorf("provider calls = %d, expected 1 (second hit should be cached)", fp.calls)
	}
	if r.CacheSize() != 1 {
		t.Errorf("CacheSize() = %d, expected 1", r.CacheSize())
	}
}

func TestResolveCacheExpires(t *testing.T) {
	fp := &fakeProvider{name: "fake", record: usRecord()}
	r := NewResolver(fp)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	r.Resolve(context.Background(), "203.0.113.7")

	current = current.Add(cacheTTL + time.Second)
	r.Resolve(context.Background(), "203.0.113.7")

	if fp.calls != 2 {
		t.Errorf("provider calls = %d, expected 2 after TTL expiry", fp.calls)
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	fp := &fakeProvider{name: "fake", record: usRecord()}
	r := NewResolver(fp)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	r.Resolve(context.Background(), "203.0.113.7")
	current = current.Add(5 * time.Minute)
	r.Resolve(context.Background(), "198.51.100.9")

	current = current.Add(cacheTTL - 5*time.Minute + time.Second)
	r.Sweep()

	if r.CacheSize() != 1 {
		t.Errorf("CacheSize() = %d after sweep, expected 1", r.CacheSize())
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.1.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"203.0.113.7", false},
		{"2001:4860:4860::8888", false},
		{"not-an-ip", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(tt.ip); got != tt.expected {
				t.Errorf("isPrivateIP(%q) = %v, expected %v", tt.ip, got, tt.expected)
			}
		})
	}
}

// ========================================
// Provider response parsing
// ========================================

func TestIPWhoProviderLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/203.0.113.7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"country": "Germany",
			"country_code": "DE",
			"region": "Hesse",
			"region_code": "HE",
			"city": "Frankfurt",
			"connection": {"isp": "Deutsche Telekom", "org": "DTAG", "asn": "AS3320"},
			"security": {"proxy": false, "hosting": false, "tor": true, "anonymous": false}
		}`))
	}))
	defer server.Close()

	p := NewIPWhoProvider(server.Client())
	p.baseURL = server.URL

	got, err := p.Lookup(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.CountryCode != "DE" || got.Country != "Germany" {
		t.Errorf("country = %s/%s, expected Germany/DE", got.Country, got.CountryCode)
	}
	if got.Region != "HE" || got.RegionName != "Hesse" {
		t.Errorf("region = %s/%s, expected HE/Hesse", got.Region, got.RegionName)
	}
	if got.ISP != "Deutsche Telekom" || got.ASInfo != "AS3320" {
		t.Errorf("isp/as = %s/%s", got.ISP, got.ASInfo)
	}
	// Tor exit nodes count as proxies.
	if !got.Proxy {
		t.Error("Proxy = false, expected true for tor=true")
	}
}

func TestIPWhoProviderRejectsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "message": "reserved range"}`))
	}))
	defer server.Close()

	p := NewIPWhoProvider(server.Client())
	p.baseURL = server.URL

	if _, err := p.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Error("Lookup() error = nil, expected error for success=false")
	}
}

func TestIPAPICoProviderLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/203.0.113.7/json/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"country_name": "Brazil",
			"country": "BR",
			"region": "Sao Paulo",
			"region_code": "SP",
			"city": "Sao Paulo",
			"org": "Claro NXT",
			"asn": "AS28573"
		}`))
	}))
	defer server.Close()

	p := NewIPAPICoProvider(server.Client())
	p.baseURL = server.URL

	got, err := p.Lookup(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.CountryCode != "BR" || got.Country != "Brazil" {
		t.Errorf("country = %s/%s, expected Brazil/BR", got.Country, got.CountryCode)
	}
	if got.ISP != "Claro NXT" || got.Org != "Claro NXT" {
		t.Errorf("isp/org = %s/%s, expected org mirrored into both", got.ISP, got.Org)
	}
}

func TestIPAPICoProviderRejectsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": true, "reason": "RateLimited"}`))
	}))
	defer server.Close()

	p := NewIPAPICoProvider(server.Client())
	p.baseURL = server.URL

	if _, err := p.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Error("Lookup() error = nil, expected error for error=true")
	}
}

func TestIPAPIProviderLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/203.0.113.7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("fields") != "66842623" {
			t.Errorf("fields = %s, expected 66842623", r.URL.Query().Get("fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"country": "Japan",
			"countryCode": "JP",
			"region": "13",
			"regionName": "Tokyo",
			"city": "Shinjuku",
			"isp": "NTT",
			"org": "NTT Communications",
			"as": "AS4713 NTT Communications",
			"proxy": true,
			"hosting": false
		}`))
	}))
	defer server.Close()

	p := NewIPAPIProvider(server.Client())
	p.baseURL = server.URL

	got, err := p.Lookup(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.CountryCode != "JP" || got.City != "Shinjuku" {
		t.Errorf("got %s/%s, expected JP/Shinjuku", got.CountryCode, got.City)
	}
	if !got.Proxy || got.Hosting {
		t.Errorf("proxy/hosting = %v/%v, expected true/false", got.Proxy, got.Hosting)
	}
}

func TestIPAPIProviderRejectsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "fail", "message": "private range"}`))
	}))
	defer server.Close()

	p := NewIPAPIProvider(server.Client())
	p.baseURL = server.URL

	if _, err := p.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Error("Lookup() error = nil, expected error for status=fail")
	}
}

func TestFetchJSONNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var out map[string]interface{}
	if err := fetchJSON(context.Background(), server.Client(), server.URL, &out); err == nil {
		t.Error("fetchJSON() error = nil, expected error for 429")
	}
}
