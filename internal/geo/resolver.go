// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package geo

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/metrics"
	"github.com/tomtom215/veilgate/internal/models"
)

// cacheTTL is how long a resolved record stays valid. Residential IPs
// rarely change location within minutes, and the free APIs are rate
// limited, so lookups are cached aggressively.
const cacheTTL = 10 * time.Minute

// cacheEntry pairs a resolved record with its expiry deadline.
type cacheEntry struct {
	record  models.GeoRecord
	expires time.Time
}

// Resolver resolves IP addresses to geolocation records using a cascade of
// free public APIs with an in-memory TTL cache. Each provider is wrapped in
// its own circuit breaker so a flapping API is skipped instead of adding
// its full timeout to every admission decision.
type Resolver struct {
	mu        sync.RWMutex
	cache     map[string]cacheEntry
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker[models.GeoRecord]
	now       func() time.Time
}

// NewResolver creates a resolver over the given providers. Providers are
// tried in order until one succeeds. With no providers every public IP
// resolves to the unknown record.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{
		cache:     make(map[string]cacheEntry),
		providers: providers,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[models.GeoRecord]),
		now:       time.Now,
	}

	for _, p := range providers {
		r.breakers[p.Name()] = newProviderBreaker(p.Name())
	}

	return r
}

// NewDefaultResolver creates a resolver with the standard provider cascade:
// ipwho.is, then ipapi.co, then ip-api.com.
func NewDefaultResolver() *Resolver {
	client := &http.Client{Timeout: providerTimeout}
	return NewResolver(
		NewIPWhoProvider(client),
		NewIPAPICoProvider(client),
		NewIPAPIProvider(client),
	)
}

// newProviderBreaker builds the circuit breaker guarding a single provider.
// Opens after 60% failure rate with minimum 6 requests, recovers after 30s.
func newProviderBreaker(name string) *gobreaker.CircuitBreaker[models.GeoRecord] {
	return gobreaker.NewCircuitBreaker[models.GeoRecord](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 6 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Geo provider circuit breaker state transition")
		},
	})
}

// Resolve returns the geolocation record for an IP address. Private and
// loopback addresses short-circuit to a local record without any network
// call. If every provider fails the unknown record is returned and NOT
// cached, so the next request retries the cascade.
func (r *Resolver) Resolve(ctx context.Context, ipAddress string) models.GeoRecord {
	if isPrivateIP(ipAddress) {
		return models.LocalGeoRecord()
	}

	if record, ok := r.cached(ipAddress); ok {
		metrics.RecordGeoCache(true)
		return record
	}
	metrics.RecordGeoCache(false)

	for _, p := range r.providers {
		record, err := r.lookup(ctx, p, ipAddress)
		if err != nil {
			logging.Debug().
				Err(err).
				Str("provider", p.Name()).
				Str("ip", ipAddress).
				Msg("Geo provider lookup failed, trying next")
			continue
		}

		r.store(ipAddress, record)
		return record
	}

	logging.Warn().Str("ip", ipAddress).Msg("All geo providers failed")
	return models.UnknownGeoRecord()
}

// lookup runs one provider through its circuit breaker and records metrics.
func (r *Resolver) lookup(ctx context.Context, p Provider, ipAddress string) (models.GeoRecord, error) {
	start := r.now()
	record, err := r.breakers[p.Name()].Execute(func() (models.GeoRecord, error) {
		return p.Lookup(ctx, ipAddress)
	})
	metrics.RecordGeoProvider(p.Name(), err, r.now().Sub(start))
	return record, err
}

func (r *Resolver) cached(ipAddress string) (models.GeoRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[ipAddress]
	if !ok || !r.now().Before(entry.expires) {
		return models.GeoRecord{}, false
	}
	return entry.record, true
}

func (r *Resolver) store(ipAddress string, record models.GeoRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[ipAddress] = cacheEntry{
		record:  record,
		expires: r.now().Add(cacheTTL),
	}
	metrics.GeoCacheSize.Set(float64(len(r.cache)))
}

// Sweep removes expired cache entries. Called periodically by the
// maintenance sweeper; lookups never block on it because expired entries
// are also rejected at read time.
func (r *Resolver) Sweep() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for ip, entry := range r.cache {
		if !now.Before(entry.expires) {
			delete(r.cache, ip)
		}
	}
	metrics.GeoCacheSize.Set(float64(len(r.cache)))
}

// CacheSize returns the number of cached records, expired or not.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// isPrivateIP checks if the IP address is in a private/local range.
// Private IPs cannot be geolocated and resolve to the local record.
func isPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
