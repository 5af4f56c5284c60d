// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package main is the entry point for the Veilgate server.
//
// Veilgate is a self-hosted traffic admission gateway. Each destination
// policy owns a public slug; requests to /{slug} are classified by
// geolocation, device class, bot and automation heuristics, secret-parameter
// authentication and a per-IP throttle. Admitted visitors are redirected to
// the policy's offer URL, everyone else receives the safe page.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered from defaults, config.yaml and VEILGATE_*
//     environment variables (Koanf v2)
//  2. Storage: SQLite (modernc.org/sqlite) holding policies, access logs
//     and persisted throttle state
//  3. Engine: geolocation resolver, throttle (reseeded from storage),
//     secret-parameter authenticator and the admission evaluator
//  4. Telemetry: bounded async queue writing access logs back to SQLite
//  5. HTTP server: chi router with the gate route, health and metrics
//
// Everything long-lived runs under a suture supervisor tree so a crashed
// component restarts without taking the listener down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (VEILGATE_SERVER_PORT, VEILGATE_DATABASE_PATH, ...)
//   - Config file (config.yaml, or the path in VEILGATE_CONFIG)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (configurable timeout)
//   - Drains the telemetry queue and closes the database
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/veilgate/internal/admission"
	"github.com/tomtom215/veilgate/internal/api"
	"github.com/tomtom215/veilgate/internal/config"
	"github.com/tomtom215/veilgate/internal/geo"
	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/paramauth"
	"github.com/tomtom215/veilgate/internal/storage"
	"github.com/tomtom215/veilgate/internal/supervisor"
	"github.com/tomtom215/veilgate/internal/supervisor/services"
	"github.com/tomtom215/veilgate/internal/throttle"
)

// paramSlotRetention bounds how long secret-rotation history is kept in
// memory. TTL windows are minutes-scale, so a week is effectively forever.
const paramSlotRetention = 7 * 24 * time.Hour

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("geo_enabled", cfg.Geo.Enabled).
		Msg("Starting Veilgate")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	sink := storage.NewSink(store, cfg.Telemetry.QueueSize)

	// The sink doubles as the throttle's persistence recorder, so blocked
	// state survives restarts.
	th := throttle.New(sink)
	restoreThrottleState(store, th)

	resolver := newGeoResolver(cfg.Geo.Enabled)
	auth := paramauth.NewAuthenticator()
	evaluator := admission.NewEvaluator(resolver, th, auth, sink)

	handler := api.NewHandler(store, evaluator, api.NewDecoyFetcher(), api.DefaultParamName)
	router := api.NewRouter(handler, api.RateLimitConfig{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window,
		Disabled: cfg.RateLimit.Disabled,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddEngineService(services.NewTelemetryService(sink))
	tree.AddEngineService(services.NewSweeperService(0, sweepTasks(store, resolver, th, auth, cfg.Database.LogRetention)...))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// newGeoResolver returns the provider cascade, or an empty resolver when
// lookups are disabled. With no providers every public IP resolves to the
// unknown record and country filters are inert.
func newGeoResolver(enabled bool) *geo.Resolver {
	if !enabled {
		logging.Info().Msg("Geolocation lookups disabled")
		return geo.NewResolver()
	}
	return geo.NewDefaultResolver()
}

// restoreThrottleState reseeds the in-memory throttle from persisted state
// so active blocks survive a restart. Failures are non-fatal; the throttle
// starts cold and rebuilds from live traffic.
func restoreThrottleState(store *storage.Store, th *throttle.Throttle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	states, err := store.LoadSeenIPs(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to load persisted throttle state")
		return
	}
	for _, state := range states {
		th.Restore(state)
	}
	logging.Info().Int("entries", len(states)).Msg("Restored throttle state")
}

// sweepTasks assembles the periodic maintenance jobs.
func sweepTasks(store *storage.Store, resolver *geo.Resolver, th *throttle.Throttle, auth *paramauth.Authenticator, logRetention time.Duration) []services.SweepTask {
	return []services.SweepTask{
		{Name: "geo-cache", Run: func() error { resolver.Sweep(); return nil }},
		{Name: "throttle", Run: func() error { th.Sweep(); return nil }},
		{Name: "param-slots", Run: func() error { auth.Sweep(paramSlotRetention); return nil }},
		{Name: "access-logs", Run: func() error {
			purged, err := store.PurgeAccessLogs(logRetention)
			if err != nil {
				return err
			}
			if purged > 0 {
				logging.Debug().Int64("rows", purged).Msg("Purged old access logs")
			}
			return nil
		}},
	}
}
