package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/sheetsync/pkg/model"
)

func (s *Store) GetSyncSettings(ctx context.Context) (model.SyncSettings, error) {
	var (
		st         model.SyncSettings
		lastSyncAt sql.NullString
		lastResult sql.NullString
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT enabled, interval_minutes, last_sync_at, last_result FROM sync_settings WHERE id = 1`,
	).Scan(&st.Enabled, &st.IntervalMinutes, &lastSyncAt, &lastResult)
	if err != nil {
		return st, fmt.Errorf("failed to read sync settings: %w", err)
	}
	if st.LastSyncAt, err = parseTime(lastSyncAt); err != nil {
		return st, fmt.Errorf("failed to read sync settings: %w", err)
	}
	if lastResult.Valid && lastResult.String != "" {
		var r model.SyncResult
		if err := json.Unmarshal([]byte(lastResult.String), &r); err != nil {
			s.logger.Printf("Warning: discarding unreadable last sync result: %v", err)
		} else {
			st.LastResult = &r
		}
	}
	return st, nil
}

// SaveSyncResult records a finished pass as the last result. Only a complete
// pass moves the last sync time the schedule counts from.
func (s *Store) SaveSyncResult(ctx context.Context, r model.SyncResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal sync result: %w", err)
	}
	if r.Complete() {
		_, err = s.conn.ExecContext(ctx,
			`UPDATE sync_settings SET last_sync_at = ?, last_result = ? WHERE id = 1`,
			formatTime(r.SyncedAt), string(data))
	} else {
		_, err = s.conn.ExecContext(ctx,
			`UPDATE sync_settings SET last_result = ? WHERE id = 1`, string(data))
	}
	if err != nil {
		return fmt.Errorf("failed to save sync result: %w", err)
	}
	return nil
}

// SaveSchedule sets the periodic sync switch and interval.
func (s *Store) SaveSchedule(ctx context.Context, enabled bool, intervalMinutes int) error {
	if intervalMinutes < 0 {
		return fmt.Errorf("interval must not be negative: %d", intervalMinutes)
	}
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_settings SET enabled = ?, interval_minutes = ? WHERE id = 1`,
		enabled, intervalMinutes)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// ClaimLease takes the single sync lease for owner. It fails with
// ErrLeaseHeld while another unexpired lease exists. The returned token
// identifies this holder to RenewLease and ReleaseLease.
func (s *Store) ClaimLease(ctx context.Context, owner string, ttl time.Duration) (string, error) {
	now := s.Now()
	token := uuid.NewString()
	res, err := s.conn.ExecContext(ctx, `UPDATE sync_settings
		SET lease_token = ?, lease_owner = ?, lease_expires_at = ?
		WHERE id = 1 AND (lease_token IS NULL OR lease_expires_at IS NULL OR lease_expires_at <= ?)`,
		token, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to claim sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to claim sync lease: %w", err)
	}
	if n == 0 {
		var holder sql.NullString
		_ = s.conn.QueryRowContext(ctx, `SELECT lease_owner FROM sync_settings WHERE id = 1`).Scan(&holder)
		return "", fmt.Errorf("%w (owner %s)", ErrLeaseHeld, holder.String)
	}
	return token, nil
}

// RenewLease extends a held lease. ErrLeaseLost means the token no longer
// holds it.
func (s *Store) RenewLease(ctx context.Context, token string, ttl time.Duration) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_settings SET lease_expires_at = ? WHERE id = 1 AND lease_token = ?`,
		s.Now().Add(ttl).UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("failed to renew sync lease: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to renew sync lease: %w", err)
	} else if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLease drops the lease if token still holds it.
func (s *Store) ReleaseLease(ctx context.Context, token string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE sync_settings
		SET lease_token = NULL, lease_owner = NULL, lease_expires_at = NULL
		WHERE id = 1 AND lease_token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}
