// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/veilgate/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "veilgate-test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePolicy() *models.DestinationPolicy {
	return &models.DestinationPolicy{
		ID:               "dest-1",
		Slug:             "spring-sale",
		OfferURL:         "https://offer.example.com/landing",
		SafePageURL:      "https://safe.example.com",
		ParamHash:        "abc123",
		ParamTTL:         30,
		MaxClicks:        1000,
		AllowedHours:     "09:00-18:00",
		AllowedCountries: []string{"BR", "US"},
		BlockedIPs:       []string{"10.0.0.0/8"},
		BlockedISPs:      []string{"amazon"},
		MobileOnly:       true,
		BotProtection:    true,
		Active:           true,
		CloakingActive:   true,
		CreatedAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPolicy(ctx, samplePolicy()); err != nil {
		t.Fatalf("UpsertPolicy() error = %v", err)
	}

	got, err := s.GetPolicyBySlug(ctx, "spring-sale")
	if err != nil {
		t.Fatalf("GetPolicyBySlug() error = %v", err)
	}

	if got.ID != "dest-1" || got.OfferURL != "https://offer.example.com/landing" {
		t.Errorf("policy = %+v", got)
	}
	if len(got.AllowedCountries) != 2 || got.AllowedCountries[0] != "BR" {
		t.Errorf("AllowedCountries = %v", got.AllowedCountries)
	}
	if len(got.BlockedIPs) != 1 || got.BlockedIPs[0] != "10.0.0.0/8" {
		t.Errorf("BlockedIPs = %v", got.BlockedIPs)
	}
	if !got.MobileOnly || !got.BotProtection || got.AdsOnly {
		t.Errorf("flags = mobile:%v bot:%v ads:%v", got.MobileOnly, got.BotProtection, got.AdsOnly)
	}

	byID, err := s.GetPolicyByID(ctx, "dest-1")
	if err != nil {
		t.Fatalf("GetPolicyByID() error = %v", err)
	}
	if byID.Slug != "spring-sale" {
		t.Errorf("Slug = %q", byID.Slug)
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPolicyBySlug(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, expected ErrNotFound", err)
	}
}

func TestUpsertPolicyUpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePolicy()
	if err := s.UpsertPolicy(ctx, p); err != nil {
		t.Fatalf("UpsertPolicy() error = %v", err)
	}

	p.OfferURL = "https://offer.example.com/v2"
	p.BlockedCountries = []string{"RU"}
	if err := s.UpsertPolicy(ctx, p); err != nil {
		t.Fatalf("UpsertPolicy() update error = %v", err)
	}

	got, err := s.GetPolicyByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPolicyByID() error = %v", err)
	}
	if got.OfferURL != "https://offer.example.com/v2" {
		t.Errorf("OfferURL = %q, expected updated", got.OfferURL)
	}
	if len(got.BlockedCountries) != 1 || got.BlockedCountries[0] != "RU" {
		t.Errorf("BlockedCountries = %v", got.BlockedCountries)
	}

	policies, err := s.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies() error = %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("ListPolicies() len = %d, expected 1 (upsert, not insert)", len(policies))
	}
}

func TestCounterIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPolicy(ctx, samplePolicy()); err != nil {
		t.Fatalf("UpsertPolicy() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementClicks(ctx, "dest-1"); err != nil {
			t.Fatalf("IncrementClicks() error = %v", err)
		}
	}
	if err := s.IncrementBlocked(ctx, "dest-1"); err != nil {
		t.Fatalf("IncrementBlocked() error = %v", err)
	}

	got, err := s.GetPolicyByID(ctx, "dest-1")
	if err != nil {
		t.Fatalf("GetPolicyByID() error = %v", err)
	}
	if got.Clicks != 3 || got.Blocked != 1 {
		t.Errorf("counters = %d/%d, expected 3/1", got.Clicks, got.Blocked)
	}
}

func TestAccessLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	log := models.AccessLog{
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DestinationID: "dest-1",
		Slug:          "spring-sale",
		IP:            "203.0.113.7",
		Country:       "Brazil",
		CountryCode:   "BR",
		City:          "Sao Paulo",
		ISP:           "Claro NXT",
		UserAgent:     "Mozilla/5.0",
		Allowed:       false,
		Reason:        "bot detected (user agent)",
	}
	if err := s.InsertAccessLog(ctx, log); err != nil {
		t.Fatalf("InsertAccessLog() error = %v", err)
	}

	logs, err := s.RecentAccessLogs(ctx, "dest-1", 10)
	if err != nil {
		t.Fatalf("RecentAccessLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, expected 1", len(logs))
	}
	if logs[0].CountryCode != "BR" || logs[0].Allowed || logs[0].Reason != log.Reason {
		t.Errorf("log = %+v", logs[0])
	}
}

func TestPurgeAccessLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := models.AccessLog{Timestamp: time.Now().Add(-48 * time.Hour), DestinationID: "dest-1", Slug: "s", IP: "1.1.1.1"}
	recent := models.AccessLog{Timestamp: time.Now(), DestinationID: "dest-1", Slug: "s", IP: "1.1.1.1"}
	if err := s.InsertAccessLog(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertAccessLog(ctx, recent); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeAccessLogs(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeAccessLogs() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, expected 1", n)
	}
}

func TestSeenIPRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blockedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := models.SeenIPState{
		DestinationID: "dest-1",
		IP:            "203.0.113.7",
		Attempts:      10,
		FirstSeen:     blockedAt.Add(-time.Hour),
		LastSeen:      blockedAt,
		BlockedAt:     &blockedAt,
		UserAgent:     "curl/8.0",
	}
	if err := s.UpsertSeenIP(ctx, "dest-1:203.0.113.7", state); err != nil {
		t.Fatalf("UpsertSeenIP() error = %v", err)
	}

	// Second upsert on the same key updates instead of duplicating.
	state.Attempts = 11
	if err := s.UpsertSeenIP(ctx, "dest-1:203.0.113.7", state); err != nil {
		t.Fatalf("UpsertSeenIP() update error = %v", err)
	}

	states, err := s.LoadSeenIPs(ctx)
	if err != nil {
		t.Fatalf("LoadSeenIPs() error = %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("len(states) = %d, expected 1", len(states))
	}
	if states[0].Attempts != 11 || states[0].BlockedAt == nil {
		t.Errorf("state = %+v", states[0])
	}
}

func TestSinkWritesQueuedEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPolicy(ctx, samplePolicy()); err != nil {
		t.Fatal(err)
	}

	sink := NewSink(s, 16)
	sink.Emit(models.AccessLog{
		Timestamp:     time.Now(),
		DestinationID: "dest-1",
		Slug:          "spring-sale",
		IP:            "203.0.113.7",
		Allowed:       true,
	})
	sink.RecordSeenIP("dest-1:203.0.113.7", models.SeenIPState{
		DestinationID: "dest-1",
		IP:            "203.0.113.7",
		FirstSeen:     time.Now(),
		LastSeen:      time.Now(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = sink.Run(runCtx)
		close(done)
	}()

	// Give the writer a moment, then stop it; Run drains on shutdown.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not stop")
	}

	logs, err := s.RecentAccessLogs(ctx, "dest-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Errorf("len(logs) = %d, expected 1", len(logs))
	}

	got, err := s.GetPolicyByID(ctx, "dest-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Clicks != 1 {
		t.Errorf("Clicks = %d, expected counter bumped by sink", got.Clicks)
	}

	states, err := s.LoadSeenIPs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Errorf("len(states) = %d, expected 1", len(states))
	}
}

func TestSinkDropsWhenFull(t *testing.T) {
	s := newTestStore(t)
	sink := NewSink(s, 1)

	// Queue capacity 1: second emit must drop, not block.
	done := make(chan struct{})
	go func() {
		sink.Emit(models.AccessLog{DestinationID: "dest-1"})
		sink.Emit(models.AccessLog{DestinationID: "dest-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on full queue")
	}

	if sink.QueueDepth() != 1 {
		t.Errorf("QueueDepth() = %d, expected 1", sink.QueueDepth())
	}
}
