package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SessionExists reports whether a session row exists
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM sessions WHERE session_id = ? LIMIT 1`), sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session %s: %w", sessionID, err)
	}
	return true, nil
}

// InsertSession inserts a session in its own transaction. A unique
// violation means the row already exists: the transaction is rolled back
// and (false, nil) is returned.
func (s *Store) InsertSession(ctx context.Context, sess *Session) (bool, error) {
	var fps any
	if sess.FPS != nil {
		fps = *sess.FPS
	}

	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO sessions (
				session_id, device_id, collect_date, collect_time,
				start_time_utc, end_time_utc, task_description, scene, collect_site,
				operator_info, device_model, platform, resolution, fps, num_cameras,
				raw_metadata_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			sess.SessionID, sess.DeviceID, nullString(sess.CollectDate), nullString(sess.CollectTime),
			nullString(sess.StartTimeUTC), nullString(sess.EndTimeUTC),
			nullString(sess.TaskDescription), nullString(sess.Scene), nullString(sess.CollectSite),
			nullString(sess.OperatorInfo), nullString(sess.DeviceModel), nullString(sess.Platform),
			nullString(sess.Resolution), fps, sess.NumCameras,
			nullString(sess.RawMetadata),
		)
		return err
	})
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert session %s: %w", sess.SessionID, err)
	}
	return true, nil
}

// GetSession returns a session by id. The second value is false when the
// session does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, bool, error) {
	var (
		sess                                            Session
		date, clock, start, end, task, scene, site      sql.NullString
		opInfo, model, platform, resolution, rawPayload sql.NullString
		fps                                             sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT session_id, device_id, CAST(collect_date AS TEXT), CAST(collect_time AS TEXT),
		       start_time_utc, end_time_utc, task_description, scene, collect_site,
		       CAST(operator_info AS TEXT), device_model, platform, resolution, fps, num_cameras,
		       CAST(raw_metadata_json AS TEXT)
		FROM sessions WHERE session_id = ?
	`), sessionID).Scan(
		&sess.SessionID, &sess.DeviceID, &date, &clock,
		&start, &end, &task, &scene, &site,
		&opInfo, &model, &platform, &resolution, &fps, &sess.NumCameras,
		&rawPayload,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	sess.CollectDate = date.String
	sess.CollectTime = clock.String
	sess.StartTimeUTC = start.String
	sess.EndTimeUTC = end.String
	sess.TaskDescription = task.String
	sess.Scene = scene.String
	sess.CollectSite = site.String
	sess.OperatorInfo = opInfo.String
	sess.DeviceModel = model.String
	sess.Platform = platform.String
	sess.Resolution = resolution.String
	sess.RawMetadata = rawPayload.String
	if fps.Valid {
		v := fps.Float64
		sess.FPS = &v
	}
	return &sess, true, nil
}

// SessionFilter narrows ListSessionIDs. Empty fields are not applied.
type SessionFilter struct {
	DeviceID  string
	StartDate string // inclusive YYYY-MM-DD
	EndDate   string // inclusive YYYY-MM-DD
}

func (f SessionFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.StartDate != "" {
		conds = append(conds, "CAST(collect_date AS TEXT) >= ?")
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		conds = append(conds, "CAST(collect_date AS TEXT) <= ?")
		args = append(args, f.EndDate)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListSessionIDs returns session ids matching the filter, newest first
func (s *Store) ListSessionIDs(ctx context.Context, f SessionFilter) ([]string, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT session_id FROM sessions`+where+`
		ORDER BY collect_date DESC, collect_time DESC, session_id
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
