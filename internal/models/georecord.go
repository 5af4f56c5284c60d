// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package models

// UnknownCountryCode is the sentinel country code reported when every
// geolocation provider failed. Country filters skip records carrying it.
const UnknownCountryCode = "XX"

// LocalCountryCode is the synthetic country code for private and loopback
// addresses, which are never sent to a provider.
const LocalCountryCode = "LO"

// GeoRecord is the normalized geolocation result for one IP address.
// Provider-specific response shapes are flattened into this form; the first
// provider that reports success and a non-empty country code wins wholesale.
type GeoRecord struct {
	// Success is false only for the fallback "Unknown" record.
	Success bool `json:"success"`

	// Country is the full country name.
	Country string `json:"country"`

	// CountryCode is the ISO 3166-1 alpha-2 code, or a sentinel value.
	CountryCode string `json:"country_code"`

	// Region is the region/state code.
	Region string `json:"region,omitempty"`

	// RegionName is the full region/state name.
	RegionName string `json:"region_name,omitempty"`

	// City is the city name.
	City string `json:"city,omitempty"`

	// ISP is the internet service provider name.
	ISP string `json:"isp,omitempty"`

	// Org is the organization name, often distinct from the ISP.
	Org string `json:"org,omitempty"`

	// ASInfo is the autonomous system number and/or name.
	ASInfo string `json:"as_info,omitempty"`

	// Proxy is true when the provider flagged the address as a proxy, Tor
	// exit, or otherwise anonymized. Providers without the signal report false.
	Proxy bool `json:"proxy"`

	// Hosting is true when the address belongs to a datacenter or hosting range.
	Hosting bool `json:"hosting"`
}

// UnknownGeoRecord returns the fallback record used when all providers fail.
func UnknownGeoRecord() GeoRecord {
	return GeoRecord{
		Success:     false,
		Country:     "Unknown",
		CountryCode: UnknownCountryCode,
	}
}

// LocalGeoRecord returns the synthetic record for private/loopback addresses.
func LocalGeoRecord() GeoRecord {
	return GeoRecord{
		Success:     true,
		Country:     "Local",
		CountryCode: LocalCountryCode,
		City:        "Localhost",
		ISP:         "Local Network",
	}
}
