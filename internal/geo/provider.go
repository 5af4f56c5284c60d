// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package geo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/veilgate/internal/models"
)

// providerTimeout bounds every upstream lookup. The free geolocation APIs
// occasionally hang under load; a slow lookup must not stall admission.
const providerTimeout = 3 * time.Second

// Provider defines the interface for geolocation lookup services.
// Implementations query free public APIs; the resolver tries them in order.
type Provider interface {
	// Lookup returns geolocation data for the given IP address.
	// Returns an error if the lookup fails or the provider reports the IP
	// as unresolvable (missing country code, error status, rate limited).
	Lookup(ctx context.Context, ipAddress string) (models.GeoRecord, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// ========================================
// ipwho.is Provider
// ========================================

// IPWhoProvider implements Provider using the ipwho.is free API.
// No API key required. Rate limit: 10,000 lookups/month on the free tier.
type IPWhoProvider struct {
	client  *http.Client
	baseURL string
}

// ipWhoResponse represents the JSON response from ipwho.is
type ipWhoResponse struct {
	Success     bool   `json:"success"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	RegionCode  string `json:"region_code"`
	City        string `json:"city"`
	Connection  struct {
		ISP string `json:"isp"`
		Org string `json:"org"`
		ASN string `json:"asn"`
	} `json:"connection"`
	Security struct {
		Proxy     bool `json:"proxy"`
		Hosting   bool `json:"hosting"`
		Tor       bool `json:"tor"`
		Anonymous bool `json:"anonymous"`
	} `json:"security"`
}

// NewIPWhoProvider creates a new ipwho.is provider.
func NewIPWhoProvider(client *http.Client) *IPWhoProvider {
	return &IPWhoProvider{
		client:  client,
		baseURL: "https://ipwho.is",
	}
}

// Name returns the provider name.
func (p *IPWhoProvider) Name() string {
	return "ipwho.is"
}

// Lookup queries ipwho.is for geolocation data.
func (p *IPWhoProvider) Lookup(ctx context.Context, ipAddress string) (models.GeoRecord, error) {
	var result ipWhoResponse
	url := fmt.Sprintf("%s/%s", p.baseURL, ipAddress)
	if err := fetchJSON(ctx, p.client, url, &result); err != nil {
		return models.GeoRecord{}, err
	}

	if !result.Success || result.CountryCode == "" {
		return models.GeoRecord{}, fmt.Errorf("ipwho.is: no result for %s", ipAddress)
	}

	return models.GeoRecord{
		Success:     true,
		Country:     result.Country,
		CountryCode: result.CountryCode,
		Region:      result.RegionCode,
		RegionName:  result.Region,
		City:        result.City,
		ISP:         result.Connection.ISP,
		Org:         result.Connection.Org,
		ASInfo:      result.Connection.ASN,
		Proxy:       result.Security.Proxy || result.Security.Tor || result.Security.Anonymous,
		Hosting:     result.Security.Hosting,
	}, nil
}

// ========================================
// ipapi.co Provider
// ========================================

// IPAPICoProvider implements Provider using the ipapi.co free API.
// No API key required. Rate limit: 1,000 lookups/day on the free tier.
// The API reports upstream ISP and organization as a single "org" field,
// so both GeoRecord fields carry the same value.
type IPAPICoProvider struct {
	client  *http.Client
	baseURL string
}

// ipAPICoResponse represents the JSON response from ipapi.co
type ipAPICoResponse struct {
	Error       bool   `json:"error"`
	CountryName string `json:"country_name"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	RegionCode  string `json:"region_code"`
	City        string `json:"city"`
	Org         string `json:"org"`
	ASN         string `json:"asn"`
}

// NewIPAPICoProvider creates a new ipapi.co provider.
func NewIPAPICoProvider(client *http.Client) *IPAPICoProvider {
	return &IPAPICoProvider{
		client:  client,
		baseURL: "https://ipapi.co",
	}
}

// Name returns the provider name.
func (p *IPAPICoProvider) Name() string {
	return "ipapi.co"
}

// Lookup queries ipapi.co for geolocation data.
func (p *IPAPICoProvider) Lookup(ctx context.Context, ipAddress string) (models.GeoRecord, error) {
	var result ipAPICoResponse
	url := fmt.Sprintf("%s/%s/json/", p.baseURL, ipAddress)
	if err := fetchJSON(ctx, p.client, url, &result); err != nil {
		return models.GeoRecord{}, err
	}

	if result.Error || result.Country == "" {
		return models.GeoRecord{}, fmt.Errorf("ipapi.co: no result for %s", ipAddress)
	}

	return models.GeoRecord{
		Success:     true,
		Country:     result.CountryName,
		CountryCode: result.Country,
		Region:      result.RegionCode,
		RegionName:  result.Region,
		City:        result.City,
		ISP:         result.Org,
		Org:         result.Org,
		ASInfo:      result.ASN,
	}, nil
}

// ========================================
// ip-api.com Provider
// ========================================

// IPAPIProvider implements Provider using the ip-api.com free API.
// No API key required, HTTP only on the free tier. Rate limit: 45 requests
// per minute. The fields bitmask requests status, country, countryCode,
// region, regionName, city, isp, org, as, proxy and hosting in one call.
type IPAPIProvider struct {
	client  *http.Client
	baseURL string
}

// ipAPIResponse represents the JSON response from ip-api.com
type ipAPIResponse struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	AS          string `json:"as"`
	Proxy       bool   `json:"proxy"`
	Hosting     bool   `json:"hosting"`
}

// NewIPAPIProvider creates a new ip-api.com provider.
func NewIPAPIProvider(client *http.Client) *IPAPIProvider {
	return &IPAPIProvider{
		client:  client,
		baseURL: "http://ip-api.com",
	}
}

// Name returns the provider name.
func (p *IPAPIProvider) Name() string {
	return "ip-api.com"
}

// Lookup queries ip-api.com for geolocation data.
func (p *IPAPIProvider) Lookup(ctx context.Context, ipAddress string) (models.GeoRecord, error) {
	var result ipAPIResponse
	url := fmt.Sprintf("%s/json/%s?fields=66842623", p.baseURL, ipAddress)
	if err := fetchJSON(ctx, p.client, url, &result); err != nil {
		return models.GeoRecord{}, err
	}

	if result.Status != "success" || result.CountryCode == "" {
		return models.GeoRecord{}, fmt.Errorf("ip-api.com: no result for %s", ipAddress)
	}

	return models.GeoRecord{
		Success:     true,
		Country:     result.Country,
		CountryCode: result.CountryCode,
		Region:      result.Region,
		RegionName:  result.RegionName,
		City:        result.City,
		ISP:         result.ISP,
		Org:         result.Org,
		ASInfo:      result.AS,
		Proxy:       result.Proxy,
		Hosting:     result.Hosting,
	}, nil
}

// fetchJSON performs a GET request with the provider timeout applied and
// decodes the response body into out.
func fetchJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
