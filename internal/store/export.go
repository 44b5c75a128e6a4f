package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// deltaBatchSize bounds the number of key pairs per query
const deltaBatchSize = 500

// DeltaRows reads the segments_csv_export view for exactly the given keys,
// ordered by date and time descending, then segment number
func (s *Store) DeltaRows(ctx context.Context, keys []SegmentKey) ([]DeltaRow, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	keys = sortKeys(keys)
	var out []DeltaRow
	for start := 0; start < len(keys); start += deltaBatchSize {
		end := min(start+deltaBatchSize, len(keys))
		batch := keys[start:end]

		args := make([]any, 0, len(batch)*2)
		for _, k := range batch {
			args = append(args, k.SessionID, k.SegmentNumber)
		}

		rows, err := s.db.QueryContext(ctx, s.rebind(`
			SELECT updated_at, date, time, device_id, segment_number, approval_status,
			       down_oss_path, front_oss_path, session_id, filesize, estimated_duration
			FROM segments_csv_export
			WHERE (session_id, segment_number) IN (VALUES `+tuplePlaceholders(len(batch))+`)
		`), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query export view: %w", err)
		}

		part, err := scanDeltaRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		return a.SegmentNumber < b.SegmentNumber
	})
	return out, nil
}

func scanDeltaRows(rows *sql.Rows) ([]DeltaRow, error) {
	defer rows.Close()

	var out []DeltaRow
	for rows.Next() {
		var (
			r                   DeltaRow
			updated, date, tm   sql.NullString
			filesize, estimated sql.NullFloat64
		)
		if err := rows.Scan(
			&updated, &date, &tm, &r.DeviceID, &r.SegmentNumber, &r.ApprovalStatus,
			&r.DownOSSPath, &r.FrontOSSPath, &r.SessionID, &filesize, &estimated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		r.UpdatedAt = updated.String
		r.Date = date.String
		r.Time = tm.String
		r.FileSizeMB = filesize.Float64
		r.EstimatedDuration = estimated.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExportQuery selects rows for a formatted export. All ignores the dates.
type ExportQuery struct {
	StartDate string
	EndDate   string
	All       bool
}

// ExportRows returns joined segment rows for the formatted exports
func (s *Store) ExportRows(ctx context.Context, q ExportQuery) ([]ExportRow, error) {
	var conds []string
	var args []any
	if !q.All {
		if q.StartDate != "" {
			conds = append(conds, "collect_date >= ?")
			args = append(args, q.StartDate)
		}
		if q.EndDate != "" {
			conds = append(conds, "collect_date <= ?")
			args = append(args, q.EndDate)
		}
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT session_id, segment_number, device_id, collect_date, collect_time, updated_at,
		       task_description, down_oss_path, front_oss_path,
		       down_file_size_bytes, front_file_size_bytes, approval_status, mb_per_10min
		FROM segments_detail`+where+`
		ORDER BY collect_date DESC, collect_time DESC, segment_number
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query export rows: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var (
			r                       ExportRow
			date, tm, updated, task sql.NullString
		)
		if err := rows.Scan(
			&r.SessionID, &r.SegmentNumber, &r.DeviceID, &date, &tm, &updated,
			&task, &r.DownOSSPath, &r.FrontOSSPath,
			&r.DownSizeBytes, &r.FrontSizeBytes, &r.ApprovalStatus, &r.MBPer10Min,
		); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		r.CollectDate = date.String
		r.CollectTime = tm.String
		r.UpdatedAt = updated.String
		r.TaskDesc = task.String
		out = append(out, r)
	}
	return out, rows.Err()
}
