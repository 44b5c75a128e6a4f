// Package export writes segment rows to CSV files: the delta file of the
// segments committed by one scan, and the formatted review sheets.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

// Source provides the rows to export
type Source interface {
	DeltaRows(ctx context.Context, keys []store.SegmentKey) ([]store.DeltaRow, error)
	ExportRows(ctx context.Context, q store.ExportQuery) ([]store.ExportRow, error)
}

// Config holds exporter configuration
type Config struct {
	Source       Source
	Dir          string // output directory, created on demand
	Bucket       string // used to rebuild oss:// paths in the raw format
	VideoBaseURL string
	Logger       *slog.Logger
	Events       *report.EventLogger
	Rand         *rand.Rand       // approver shuffling; nil seeds from the runtime
	Now          func() time.Time // file name timestamps; nil uses time.Now
}

// Exporter writes CSV files
type Exporter struct {
	src       Source
	dir       string
	bucket    string
	videoBase string
	logger    *slog.Logger
	events    *report.EventLogger
	rng       *rand.Rand
	now       func() time.Time
}

// New creates a new Exporter
func New(cfg *Config) *Exporter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Exporter{
		src:       cfg.Source,
		dir:       cfg.Dir,
		bucket:    cfg.Bucket,
		videoBase: cfg.VideoBaseURL,
		logger:    util.OrNop(cfg.Logger),
		events:    cfg.Events,
		rng:       cfg.Rand,
		now:       now,
	}
}

// Result describes a written file. Path is empty when nothing was written.
type Result struct {
	Path      string
	Rows      int
	SizeBytes int64
}

// Delta writes the view rows of exactly the given segments to
// dir/<name>_<timestamp>.csv. No keys means no file.
func (e *Exporter) Delta(ctx context.Context, keys []store.SegmentKey, name string) (Result, error) {
	if len(keys) == 0 {
		e.logger.Warn("no new segments, skipping delta export")
		return Result{}, nil
	}
	if name == "" {
		name = DefaultDelta
	}

	rows, err := e.src.DeltaRows(ctx, keys)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		e.logger.Warn("new segments have no rows in the export view", "segments", len(keys))
		return Result{}, nil
	}

	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.UpdatedAt, r.Date, r.Time, r.DeviceID, r.SegmentNumber, r.ApprovalStatus,
			r.DownOSSPath, r.FrontOSSPath, r.SessionID,
			formatFloat(r.FileSizeMB), formatFloat(r.EstimatedDuration),
		})
	}

	res, err := e.write(TimestampedName(name, e.now()), store.DeltaColumns, records)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("delta CSV written", "path", res.Path, "segments", len(keys), "rows", res.Rows, "size", humanize.Bytes(uint64(res.SizeBytes)))
	return res, nil
}

// Format selects the column layout of a formatted export
type Format string

const (
	FormatRaw      Format = "raw"
	FormatInternal Format = "internal"
	FormatScale    Format = "scale"
)

// ParseFormat validates a format name. Empty means internal.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatInternal, nil
	case FormatRaw, FormatInternal, FormatScale:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q (want raw, internal or scale)", util.ErrInvalidConfig, s)
	}
}

// Columns returns the header of the format
func (f Format) Columns() []string {
	switch f {
	case FormatRaw:
		return rawColumns
	case FormatScale:
		return scaleColumns
	default:
		return internalColumns
	}
}

var rawColumns = []string{
	"updated_at", "date", "time", "device_id", "segment_number",
	"down_oss_path", "front_oss_path", "session_id",
	"down_file_size_bytes", "front_file_size_bytes",
}

var internalColumns = []string{
	"采集日期", "采集时间", "设备ID", "段落号",
	"向下镜头视频链接", "向前镜头视频链接",
	"session_id", "filesize", "时长",
	"审批人", "任务描述", "操作员姿态", "头部移动",
	"向下摄像头手部位置", "数据状态", "时间标注", "NOTE",
}

var scaleColumns = []string{
	"采集日期", "采集时间", "设备ID", "段落序号",
	"向下镜头视频链接", "向前镜头视频链接",
	"session_id", "filesize", "原始上送时长", "任务描述",
	"运营端不合格时长", "算法端可用数据时长",
	"审批人", "审批状态", "数据状态", "不合格时间标注", "不合格时长", "NOTE",
	"操作员姿态", "头部移动", "向下摄像头手部位置", "其余数据标签", "LET PT",
}

// ScalePendingStatus is the review status of freshly exported scale rows
const ScalePendingStatus = "待审批"

// timeAdjustExempt records local time already
const timeAdjustExempt = "b852"

// Options scope a formatted export
type Options struct {
	Format     Format
	Range      entity.DateRange
	All        bool   // ignore Range
	Output     string // file name; empty generates one
	TimeAdjust bool   // scale only: shift date/time by +8h except timeAdjustExempt
	Approvers  []Approver
}

// Filename returns the generated file name for opts
func (o Options) Filename(now time.Time) string {
	if o.Output != "" {
		return o.Output
	}
	ts := now.Format(timestampStyle)
	switch {
	case o.All:
		return fmt.Sprintf("%s_all_%s.csv", o.Format, ts)
	case !o.Range.Start.IsZero() && !o.Range.End.IsZero():
		return fmt.Sprintf("%s_%s_%s_%s.csv", o.Format, o.Range.StartString(), o.Range.EndString(), ts)
	default:
		return fmt.Sprintf("%s_%s.csv", o.Format, ts)
	}
}

// Formatted writes one of the review layouts. Zero matching rows write no
// file.
func (e *Exporter) Formatted(ctx context.Context, opts Options) (Result, error) {
	if opts.Format == "" {
		opts.Format = FormatInternal
	}

	rows, err := e.src.ExportRows(ctx, store.ExportQuery{
		StartDate: opts.Range.StartString(),
		EndDate:   opts.Range.EndString(),
		All:       opts.All,
	})
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		e.logger.Warn("no rows to export", "format", opts.Format, "range", opts.Range.String(), "all", opts.All)
		return Result{}, nil
	}
	e.logger.Info("queried export rows", "rows", len(rows))

	var records [][]string
	switch opts.Format {
	case FormatRaw:
		records = e.rawRecords(rows)
	case FormatScale:
		valid := rows[:0:0]
		for _, r := range rows {
			if Duration(r.TotalBytes()) > 0 {
				valid = append(valid, r)
			}
		}
		e.logger.Info("dropped zero-duration rows", "kept", len(valid), "dropped", len(rows)-len(valid))
		if len(valid) == 0 {
			return Result{}, nil
		}
		records = e.scaleRecords(valid, opts)
	default:
		records = e.internalRecords(rows)
	}

	res, err := e.write(opts.Filename(e.now()), opts.Format.Columns(), records)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("CSV exported", "format", opts.Format, "path", res.Path, "rows", res.Rows, "size", humanize.Bytes(uint64(res.SizeBytes)))
	return res, nil
}

func (e *Exporter) rawRecords(rows []store.ExportRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.UpdatedAt, r.CollectDate, r.CollectTime, r.DeviceID, PadNumber(r.SegmentNumber),
			OSSPath(e.bucket, r.DeviceID, r.SessionID, r.SegmentNumber, "down"),
			OSSPath(e.bucket, r.DeviceID, r.SessionID, r.SegmentNumber, "front"),
			r.SessionID,
			strconv.FormatInt(r.DownSizeBytes, 10),
			strconv.FormatInt(r.FrontSizeBytes, 10),
		})
	}
	return out
}

func (e *Exporter) internalRecords(rows []store.ExportRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		total := r.TotalBytes()
		out = append(out, []string{
			r.CollectDate, r.CollectTime, r.DeviceID, segmentInt(r.SegmentNumber),
			VideoURL(e.videoBase, r.DeviceID, r.SessionID, r.SegmentNumber, "down"),
			VideoURL(e.videoBase, r.DeviceID, r.SessionID, r.SegmentNumber, "front"),
			r.SessionID, FileSize(total), strconv.Itoa(Duration(total)),
			"", TranslateTask(r.TaskDesc), "", "",
			"", "", "", "",
		})
	}
	return out
}

func (e *Exporter) scaleRecords(rows []store.ExportRow, opts Options) [][]string {
	approvers := AssignApprovers(len(rows), opts.Approvers, e.rng)

	out := make([][]string, 0, len(rows))
	for i, r := range rows {
		total := r.TotalBytes()
		date, clock := r.CollectDate, r.CollectTime
		if opts.TimeAdjust && r.DeviceID != timeAdjustExempt {
			date, clock = shiftHours(date, clock, 8)
		}
		out = append(out, []string{
			date, clock, r.DeviceID, segmentInt(r.SegmentNumber),
			VideoURL(e.videoBase, r.DeviceID, r.SessionID, r.SegmentNumber, "down"),
			VideoURL(e.videoBase, r.DeviceID, r.SessionID, r.SegmentNumber, "front"),
			r.SessionID, FileSize(total), strconv.Itoa(Duration(total)), TranslateTask(r.TaskDesc),
			"", "",
			approvers[i], ScalePendingStatus, "", "", "", "",
			"", "", "", "", "",
		})
	}
	return out
}

// write creates dir/name with the header and records
func (e *Exporter) write(name string, header []string, records [][]string) (Result, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(e.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	w.UseCRLF = true
	if err := w.Write(header); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close %s: %w", path, err)
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	e.events.LogExport(path, len(records), size)
	return Result{Path: path, Rows: len(records), SizeBytes: size}, nil
}

const mib = 1024 * 1024

// reviewMBPer10Min is the nominal bitrate the review sheets assume
const reviewMBPer10Min = 1200.0

// FileSize renders a byte count as "<MiB with two decimals> MB"
func FileSize(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/mib)
}

// Duration estimates the recorded minutes of a segment from its combined
// size, rounding halves to even
func Duration(bytes int64) int {
	return int(math.RoundToEven(float64(bytes) / mib / reviewMBPer10Min * 10))
}

func segmentInt(n string) string {
	if v, err := strconv.Atoi(n); err == nil {
		return strconv.Itoa(v)
	}
	return n
}

func shiftHours(date, clock string, hours int) (string, string) {
	t, err := time.Parse("2006-01-02 15:04:05", date+" "+clock)
	if err != nil {
		return date, clock
	}
	t = t.Add(time.Duration(hours) * time.Hour)
	return t.Format("2006-01-02"), t.Format("15:04:05")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
