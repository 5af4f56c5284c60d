// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package storage

import (
	"context"
	"fmt"

	"github.com/tomtom215/veilgate/internal/models"
)

// InsertAccessLog appends one access log row.
func (s *Store) InsertAccessLog(ctx context.Context, log models.AccessLog) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO access_logs (timestamp, destination_id, slug, ip, country,
			country_code, region, region_name, city, isp, user_agent, referer,
			allowed, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.Timestamp, log.DestinationID, log.Slug, log.IP, log.Country,
		log.CountryCode, log.Region, log.RegionName, log.City, log.ISP,
		log.UserAgent, log.Referer, log.Allowed, log.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert access log: %w", err)
	}
	return nil
}

// RecentAccessLogs returns up to limit rows for one destination, newest first.
func (s *Store) RecentAccessLogs(ctx context.Context, destinationID string, limit int) ([]models.AccessLog, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT timestamp, destination_id, slug, ip, country, country_code,
			region, region_name, city, isp, user_agent, referer, allowed, reason
		FROM access_logs
		WHERE destination_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, destinationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query access logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AccessLog
	for rows.Next() {
		var l models.AccessLog
		if err := rows.Scan(&l.Timestamp, &l.DestinationID, &l.Slug, &l.IP,
			&l.Country, &l.CountryCode, &l.Region, &l.RegionName, &l.City,
			&l.ISP, &l.UserAgent, &l.Referer, &l.Allowed, &l.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpsertSeenIP persists one (destination, IP) attempt state row.
func (s *Store) UpsertSeenIP(ctx context.Context, key string, state models.SeenIPState) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO seen_ips (key, destination_id, ip, attempts, first_seen,
			last_seen, blocked_at, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			attempts = excluded.attempts,
			last_seen = excluded.last_seen,
			blocked_at = excluded.blocked_at,
			user_agent = excluded.user_agent`,
		key, state.DestinationID, state.IP, state.Attempts, state.FirstSeen,
		state.LastSeen, state.BlockedAt, state.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to upsert seen ip %s: %w", key, err)
	}
	return nil
}

// LoadSeenIPs returns all persisted attempt state, used to reseed the
// throttle at startup.
func (s *Store) LoadSeenIPs(ctx context.Context) ([]models.SeenIPState, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT destination_id, ip, attempts, first_seen, last_seen, blocked_at, user_agent
		FROM seen_ips`)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen ips: %w", err)
	}
	defer rows.Close()

	var states []models.SeenIPState
	for rows.Next() {
		var st models.SeenIPState
		if err := rows.Scan(&st.DestinationID, &st.IP, &st.Attempts,
			&st.FirstSeen, &st.LastSeen, &st.BlockedAt, &st.UserAgent); err != nil {
			return nil, fmt.Errorf("failed to scan seen ip: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
