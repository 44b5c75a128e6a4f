package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SegmentExists reports whether a segment row exists
func (s *Store) SegmentExists(ctx context.Context, sessionID, segmentNumber string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT 1 FROM segments WHERE session_id = ? AND segment_number = ? LIMIT 1
	`), sessionID, segmentNumber).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check segment %s/%s: %w", sessionID, segmentNumber, err)
	}
	return true, nil
}

// InsertSegment inserts a segment in its own transaction. A unique
// violation means the row already exists: the transaction is rolled back
// and (false, nil) is returned.
func (s *Store) InsertSegment(ctx context.Context, seg *Segment) (bool, error) {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO segments (
				session_id, segment_number,
				down_file_name, down_oss_path, down_file_size_bytes,
				front_file_name, front_oss_path, front_file_size_bytes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`),
			seg.SessionID, seg.SegmentNumber,
			seg.DownFileName, seg.DownOSSPath, seg.DownSizeBytes,
			seg.FrontFileName, seg.FrontOSSPath, seg.FrontSizeBytes,
		)
		return err
	})
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert segment %s/%s: %w", seg.SessionID, seg.SegmentNumber, err)
	}
	return true, nil
}

// SessionSegments returns a session's segments ordered by number
func (s *Store) SessionSegments(ctx context.Context, sessionID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, session_id, segment_number,
		       down_file_name, down_oss_path, down_file_size_bytes,
		       front_file_name, front_oss_path, front_file_size_bytes,
		       approval_status
		FROM segments
		WHERE session_id = ?
		ORDER BY segment_number
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(
			&seg.ID, &seg.SessionID, &seg.SegmentNumber,
			&seg.DownFileName, &seg.DownOSSPath, &seg.DownSizeBytes,
			&seg.FrontFileName, &seg.FrontOSSPath, &seg.FrontSizeBytes,
			&seg.ApprovalStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// UpdateSegmentSizes overwrites the stored file sizes of a segment
func (s *Store) UpdateSegmentSizes(ctx context.Context, key SegmentKey, downSize, frontSize int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE segments
		SET down_file_size_bytes = ?, front_file_size_bytes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ? AND segment_number = ?
	`), downSize, frontSize, key.SessionID, key.SegmentNumber)
	if err != nil {
		return fmt.Errorf("failed to update segment %s/%s: %w", key.SessionID, key.SegmentNumber, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("segment %s/%s not found", key.SessionID, key.SegmentNumber)
	}
	return nil
}
