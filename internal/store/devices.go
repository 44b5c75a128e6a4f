package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/franz/fpvscan/internal/util"
)

const deviceColumns = `device_id, mb_per_10min, is_active, skip_scan,
	CAST(created_at AS TEXT), CAST(updated_at AS TEXT)`

func scanDevice(row interface{ Scan(...any) error }) (Device, error) {
	var d Device
	err := row.Scan(&d.DeviceID, &d.MBPer10Min, &d.IsActive, &d.SkipScan, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// ListDevices returns all devices ordered by id
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// LoadDevices returns every device keyed by id
func (s *Store) LoadDevices(ctx context.Context) (map[string]Device, error) {
	list, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Device, len(list))
	for _, d := range list {
		m[d.DeviceID] = d
	}
	return m, nil
}

// GetDevice returns a device by id, or util.ErrNotFound
func (s *Store) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`), deviceID)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, fmt.Errorf("device %s: %w", deviceID, util.ErrNotFound)
	}
	if err != nil {
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// RegisterDevice creates a device with default settings when it does not
// exist yet. It reports whether a row was created.
func (s *Store) RegisterDevice(ctx context.Context, deviceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO devices (device_id, mb_per_10min, is_active, skip_scan)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO NOTHING
	`), deviceID, DefaultMBPer10Min, true, false)
	if err != nil {
		return false, fmt.Errorf("failed to register device %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// UpsertDevice inserts a device or overwrites its settings
func (s *Store) UpsertDevice(ctx context.Context, d Device) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO devices (device_id, mb_per_10min, is_active, skip_scan)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			mb_per_10min = excluded.mb_per_10min,
			is_active = excluded.is_active,
			skip_scan = excluded.skip_scan,
			updated_at = CURRENT_TIMESTAMP
	`), d.DeviceID, d.MBPer10Min, d.IsActive, d.SkipScan)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", d.DeviceID, err)
	}
	return nil
}
