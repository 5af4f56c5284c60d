// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package services

import (
	"context"
)

// TelemetryRunner matches the storage sink's consumer loop. Satisfied by
// *storage.Sink.
type TelemetryRunner interface {
	Run(ctx context.Context) error
}

// TelemetryService runs the telemetry sink's writer loop under supervision.
// If a SQLite write panics or the loop returns an error, suture restarts it
// and the bounded queue absorbs events produced in the meantime.
type TelemetryService struct {
	sink TelemetryRunner
	name string
}

// NewTelemetryService creates a supervised wrapper around the telemetry sink.
func NewTelemetryService(sink TelemetryRunner) *TelemetryService {
	return &TelemetryService{
		sink: sink,
		name: "telemetry-writer",
	}
}

// Serve implements suture.Service. Run blocks until the context is canceled
// and drains the queue before returning.
func (s *TelemetryService) Serve(ctx context.Context) error {
	return s.sink.Run(ctx)
}

// String implements fmt.Stringer for supervisor log messages.
func (s *TelemetryService) String() string {
	return s.name
}
