package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/serena-health/breath-engine/internal/model"
)

// TouchDevice upserts a device row, updating last_seen on every call so a
// device's first-seen/last-seen bounds stay accurate across ingest calls.
func (s *Store) TouchDevice(ctx context.Context, deviceID string, now time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO devices (device_id, created_at, last_seen)
		VALUES ($1, $2, $2)
		ON CONFLICT (device_id) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`, deviceID, now)
	return err
}

// GetDevice looks up a device by id.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (model.Device, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT device_id, display_name, device_type, created_at, last_seen
		FROM devices WHERE device_id = $1
	`, deviceID)

	var d model.Device
	err := row.Scan(&d.DeviceID, &d.DisplayName, &d.DeviceType, &d.CreatedAt, &d.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Device{}, false, nil
	}
	if err != nil {
		return model.Device{}, false, err
	}
	return d, true, nil
}
