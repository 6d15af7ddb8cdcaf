package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DeviceKeyRow mirrors actor.DeviceKeyRow without importing the actor
// package, avoiding an import cycle (actor depends on store indirectly via
// app wiring, not the other way around).
type DeviceKeyRow struct {
	ActorID string
	OrgID   string
	Display string
	KeyHash string
	Revoked bool
}

// GetDeviceKey implements actor.DeviceKeyStore against the device_keys table.
func (s *Store) GetDeviceKey(ctx context.Context, actorID string) (DeviceKeyRow, error) {
	var row DeviceKeyRow
	err := s.Pool.QueryRow(ctx, `
		SELECT actor_id, org_id, display, key_hash, revoked
		FROM device_keys WHERE actor_id = $1
	`, actorID).Scan(&row.ActorID, &row.OrgID, &row.Display, &row.KeyHash, &row.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeviceKeyRow{}, ErrNotFound
	}
	if err != nil {
		return DeviceKeyRow{}, fmt.Errorf("fetching device key: %w", err)
	}
	return row, nil
}

// PutDeviceKey provisions or updates a device key row, used by operator
// tooling rather than any request path.
func (s *Store) PutDeviceKey(ctx context.Context, row DeviceKeyRow, now time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO device_keys (actor_id, org_id, display, key_hash, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (actor_id) DO UPDATE SET
			org_id = EXCLUDED.org_id, display = EXCLUDED.display,
			key_hash = EXCLUDED.key_hash, revoked = EXCLUDED.revoked
	`, row.ActorID, row.OrgID, row.Display, row.KeyHash, row.Revoked, now)
	if err != nil {
		return fmt.Errorf("writing device key: %w", err)
	}
	return nil
}
