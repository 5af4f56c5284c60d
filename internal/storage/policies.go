// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/veilgate/internal/models"
)

const policyColumns = `id, slug, offer_url, safe_page_url, param_hash, param_code,
	param_ttl, max_clicks, clicks, blocked, allowed_hours, allowed_countries,
	blocked_countries, blocked_ips, blocked_isps, mobile_only, ads_only,
	bot_protection, active, cloaking_active, created_at`

// GetPolicyBySlug fetches one destination policy by its public slug.
func (s *Store) GetPolicyBySlug(ctx context.Context, slug string) (*models.DestinationPolicy, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM destinations WHERE slug = ?`, slug)
	return scanPolicy(row)
}

// GetPolicyByID fetches one destination policy by its identifier.
func (s *Store) GetPolicyByID(ctx context.Context, id string) (*models.DestinationPolicy, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM destinations WHERE id = ?`, id)
	return scanPolicy(row)
}

// ListPolicies returns every destination policy ordered by creation time.
func (s *Store) ListPolicies(ctx context.Context) ([]*models.DestinationPolicy, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM destinations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.DestinationPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpsertPolicy inserts or replaces a destination policy keyed by ID.
func (s *Store) UpsertPolicy(ctx context.Context, p *models.DestinationPolicy) error {
	allowedCountries, err := marshalList(p.AllowedCountries)
	if err != nil {
		return err
	}
	blockedCountries, err := marshalList(p.BlockedCountries)
	if err != nil {
		return err
	}
	blockedIPs, err := marshalList(p.BlockedIPs)
	if err != nil {
		return err
	}
	blockedISPs, err := marshalList(p.BlockedISPs)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO destinations (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			offer_url = excluded.offer_url,
			safe_page_url = excluded.safe_page_url,
			param_hash = excluded.param_hash,
			param_code = excluded.param_code,
			param_ttl = excluded.param_ttl,
			max_clicks = excluded.max_clicks,
			clicks = excluded.clicks,
			blocked = excluded.blocked,
			allowed_hours = excluded.allowed_hours,
			allowed_countries = excluded.allowed_countries,
			blocked_countries = excluded.blocked_countries,
			blocked_ips = excluded.blocked_ips,
			blocked_isps = excluded.blocked_isps,
			mobile_only = excluded.mobile_only,
			ads_only = excluded.ads_only,
			bot_protection = excluded.bot_protection,
			active = excluded.active,
			cloaking_active = excluded.cloaking_active`,
		p.ID, p.Slug, p.OfferURL, p.SafePageURL, p.ParamHash, p.ParamCode,
		p.ParamTTL, p.MaxClicks, p.Clicks, p.Blocked, p.AllowedHours,
		allowedCountries, blockedCountries, blockedIPs, blockedISPs,
		p.MobileOnly, p.AdsOnly, p.BotProtection, p.Active, p.CloakingActive,
		p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert policy %s: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a destination by ID. Missing rows are not an error.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", id, err)
	}
	return nil
}

// IncrementClicks bumps the admitted-request counter for a destination.
func (s *Store) IncrementClicks(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE destinations SET clicks = clicks + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to increment clicks for %s: %w", id, err)
	}
	return nil
}

// IncrementBlocked bumps the denied-request counter for a destination.
func (s *Store) IncrementBlocked(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE destinations SET blocked = blocked + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to increment blocked for %s: %w", id, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*models.DestinationPolicy, error) {
	var (
		p                models.DestinationPolicy
		allowedCountries string
		blockedCountries string
		blockedIPs       string
		blockedISPs      string
	)

	err := row.Scan(&p.ID, &p.Slug, &p.OfferURL, &p.SafePageURL, &p.ParamHash,
		&p.ParamCode, &p.ParamTTL, &p.MaxClicks, &p.Clicks, &p.Blocked,
		&p.AllowedHours, &allowedCountries, &blockedCountries, &blockedIPs,
		&blockedISPs, &p.MobileOnly, &p.AdsOnly, &p.BotProtection, &p.Active,
		&p.CloakingActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan policy: %w", err)
	}

	if p.AllowedCountries, err = unmarshalList(allowedCountries); err != nil {
		return nil, err
	}
	if p.BlockedCountries, err = unmarshalList(blockedCountries); err != nil {
		return nil, err
	}
	if p.BlockedIPs, err = unmarshalList(blockedIPs); err != nil {
		return nil, err
	}
	if p.BlockedISPs, err = unmarshalList(blockedISPs); err != nil {
		return nil, err
	}

	return &p, nil
}

// List columns are stored as JSON arrays so the schema stays flat.

func marshalList(list []string) (string, error) {
	if len(list) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list column: %w", err)
	}
	return string(data), nil
}

func unmarshalList(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list column: %w", err)
	}
	return list, nil
}
