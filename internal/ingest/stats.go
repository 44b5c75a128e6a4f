package ingest

import "log/slog"

// MetadataStats counts the outcomes of a metadata phase
type MetadataStats struct {
	DevicesScanned    int
	DevicesSkipped    int // filtered, skip_scan or inactive
	DevicesRegistered int
	DevicesFailed     int // session listing failed
	SessionsScanned   int
	New               int
	Existing          int
	SkippedByDate     int
	MetadataMissing   int
	FetchFailures     int // existence check or download failed after retries
	ParseFailures     int
	InsertFailures    int
	Halted            bool // debug limit reached
}

// LogValue implements slog.LogValuer
func (s MetadataStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("devices", s.DevicesScanned),
		slog.Int("devices_skipped", s.DevicesSkipped),
		slog.Int("devices_registered", s.DevicesRegistered),
		slog.Int("devices_failed", s.DevicesFailed),
		slog.Int("sessions", s.SessionsScanned),
		slog.Int("new", s.New),
		slog.Int("existing", s.Existing),
		slog.Int("skipped_by_date", s.SkippedByDate),
		slog.Int("metadata_missing", s.MetadataMissing),
		slog.Int("fetch_failures", s.FetchFailures),
		slog.Int("parse_failures", s.ParseFailures),
		slog.Int("insert_failures", s.InsertFailures),
	)
}

// Failures is the number of sessions that could not be ingested
func (s MetadataStats) Failures() int {
	return s.FetchFailures + s.ParseFailures + s.InsertFailures
}

// SegmentStats counts the outcomes of a segment phase
type SegmentStats struct {
	DevicesScanned    int
	DevicesSkipped    int
	DevicesFailed     int
	SessionsScanned   int
	SessionsProcessed int
	SessionMissing    int // no session row yet
	ListFailures      int
	New               int
	Existing          int
	Unpaired          int
	InvalidFilenames  int
	SizeFailures      int // size lookups that fell back to 0
	InsertFailures    int
	Orphaned          int // insert failures caused by a missing session row
	NewBytes          int64
	Halted            bool
}

// LogValue implements slog.LogValuer
func (s SegmentStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("devices", s.DevicesScanned),
		slog.Int("devices_skipped", s.DevicesSkipped),
		slog.Int("devices_failed", s.DevicesFailed),
		slog.Int("sessions", s.SessionsScanned),
		slog.Int("processed", s.SessionsProcessed),
		slog.Int("session_missing", s.SessionMissing),
		slog.Int("list_failures", s.ListFailures),
		slog.Int("new", s.New),
		slog.Int("existing", s.Existing),
		slog.Int("unpaired", s.Unpaired),
		slog.Int("invalid_filenames", s.InvalidFilenames),
		slog.Int("size_failures", s.SizeFailures),
		slog.Int("insert_failures", s.InsertFailures),
		slog.Int("orphaned", s.Orphaned),
		slog.Int64("new_bytes", s.NewBytes),
	)
}
