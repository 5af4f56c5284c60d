// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

/*
Package services provides suture.Service wrappers for Veilgate components.

Each wrapper adapts an existing lifecycle pattern (Run, ListenAndServe,
periodic sweeping) to suture's context-aware Serve pattern:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Available services:

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts the blocking ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections

Telemetry Writer (TelemetryService):
  - Wraps the storage sink's Run loop
  - Drains queued access logs and throttle state on shutdown

Maintenance Sweeper (SweeperService):
  - Periodically evicts expired geolocation cache entries, stale
    throttle state, old secret-rotation slots, and aged access logs
*/
package services
