package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Counts returns aggregate statistics over all tables
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_active AND NOT skip_scan THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN skip_scan THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT is_active AND NOT skip_scan THEN 1 ELSE 0 END), 0)
		FROM devices
	`).Scan(&c.Devices, &c.ActiveDevices, &c.SkippedDevices, &c.InactiveDevices)
	if err != nil {
		return c, fmt.Errorf("failed to count devices: %w", err)
	}

	var first, last sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(CAST(collect_date AS TEXT)), MAX(CAST(collect_date AS TEXT))
		FROM sessions
	`).Scan(&c.Sessions, &first, &last)
	if err != nil {
		return c, fmt.Errorf("failed to count sessions: %w", err)
	}
	c.FirstDate = first.String
	c.LastDate = last.String

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), CAST(COALESCE(SUM(down_file_size_bytes + front_file_size_bytes), 0) AS BIGINT)
		FROM segments
	`).Scan(&c.Segments, &c.TotalBytes)
	if err != nil {
		return c, fmt.Errorf("failed to count segments: %w", err)
	}

	return c, nil
}

// DeviceActivity returns per-device, per-day session and segment counts for
// sessions collected on or after since (YYYY-MM-DD, empty for all)
func (s *Store) DeviceActivity(ctx context.Context, since string) ([]DeviceActivity, error) {
	where := ""
	var args []any
	if since != "" {
		where = " WHERE CAST(sess.collect_date AS TEXT) >= ?"
		args = append(args, since)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT sess.device_id, CAST(sess.collect_date AS TEXT),
		       COUNT(DISTINCT sess.session_id), COUNT(seg.id)
		FROM sessions sess
		LEFT JOIN segments seg ON seg.session_id = sess.session_id`+where+`
		GROUP BY sess.device_id, sess.collect_date
		ORDER BY sess.collect_date DESC, sess.device_id
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device activity: %w", err)
	}
	defer rows.Close()

	var out []DeviceActivity
	for rows.Next() {
		var a DeviceActivity
		var date sql.NullString
		if err := rows.Scan(&a.DeviceID, &date, &a.Sessions, &a.Segments); err != nil {
			return nil, fmt.Errorf("failed to scan device activity: %w", err)
		}
		a.CollectDate = date.String
		out = append(out, a)
	}
	return out, rows.Err()
}
