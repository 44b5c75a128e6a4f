// Package pipeline ties the ingest engine to the CSV exporters. The CLI
// and the chat bot both run scans and exports through a Runner.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/franz/fpvscan/internal/export"
	"github.com/franz/fpvscan/internal/ingest"
	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/util"
)

// Database is what a Runner needs from the store
type Database interface {
	ingest.Store
	export.Source
}

// Config holds runner configuration
type Config struct {
	Store        Database
	Objects      ingest.Objects
	Bucket       string
	ExportDir    string
	TempDir      string
	VideoBaseURL string
	Concurrency  int
	Progress     bool
	Logger       *slog.Logger
	Events       *report.EventLogger
	Now          func() time.Time
}

// Runner runs scans and exports
type Runner struct {
	engine   *ingest.Engine
	exporter *export.Exporter
	logger   *slog.Logger
}

// New creates a new Runner
func New(cfg *Config) *Runner {
	logger := util.OrNop(cfg.Logger)
	return &Runner{
		engine: ingest.New(&ingest.Config{
			Store:       cfg.Store,
			Objects:     cfg.Objects,
			TempDir:     cfg.TempDir,
			Concurrency: cfg.Concurrency,
			Progress:    cfg.Progress,
			Logger:      logger,
			Events:      cfg.Events,
		}),
		exporter: export.New(&export.Config{
			Source:       cfg.Store,
			Dir:          cfg.ExportDir,
			Bucket:       cfg.Bucket,
			VideoBaseURL: cfg.VideoBaseURL,
			Logger:       logger,
			Events:       cfg.Events,
			Now:          cfg.Now,
		}),
		logger: logger,
	}
}

// ScanOptions scope a scan
type ScanOptions struct {
	ingest.Options
	SkipDelta bool   // do not write the delta CSV
	DeltaName string // delta file base name; empty uses export.DefaultDelta
}

// ScanResult is the outcome of a scan
type ScanResult struct {
	*ingest.Result
	Delta export.Result
}

// NewSessions is the number of sessions inserted
func (r *ScanResult) NewSessions() int {
	if r == nil || r.Result == nil {
		return 0
	}
	return r.Metadata.New
}

// NewSegments is the number of segments inserted
func (r *ScanResult) NewSegments() int {
	if r == nil || r.Result == nil {
		return 0
	}
	return r.Segments.New
}

// Scan ingests new sessions and segments, then writes the delta CSV of the
// segments it committed. The ingest result is returned even when the run
// fails part way.
func (r *Runner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	r.logger.Info("scan started",
		"device", deviceLabel(opts.DeviceID),
		"range", opts.Range.String(),
		"mode", opts.Mode,
		"debug", opts.Debug)

	res, err := r.engine.Run(ctx, opts.Options)
	out := &ScanResult{Result: res}
	if err != nil {
		return out, err
	}

	if opts.SkipDelta || !res.RanSegments {
		return out, nil
	}

	delta, err := r.exporter.Delta(ctx, res.Tracker.Keys(), opts.DeltaName)
	if err != nil {
		return out, fmt.Errorf("delta export failed: %w", err)
	}
	out.Delta = delta
	return out, nil
}

// Export writes a formatted CSV
func (r *Runner) Export(ctx context.Context, opts export.Options) (export.Result, error) {
	r.logger.Info("export started", "format", opts.Format, "range", opts.Range.String(), "all", opts.All)
	return r.exporter.Formatted(ctx, opts)
}

func deviceLabel(id string) string {
	if id == "" {
		return "all"
	}
	return id
}
