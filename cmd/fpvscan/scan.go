package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/fpvscan/internal/export"
	"github.com/franz/fpvscan/internal/ingest"
	"github.com/franz/fpvscan/internal/pipeline"
	"github.com/franz/fpvscan/internal/util"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan OSS and ingest new sessions and segments",
	Long: `Scan object storage for new recording sessions and segments.

This command performs two phases:
1. Metadata: lists each device's sessions, downloads metadata.json for
   sessions not yet in the database and inserts them
2. Segments: pairs down/front videos of each session and inserts the
   segments that are missing, with their file sizes

Segments inserted by this run are written to a delta CSV in the export
directory. Without dates, today's sessions are scanned.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("device-id", "", "scan only this device")
	addDateFlags(scanCmd)
	scanCmd.Flags().String("mode", string(ingest.ModeAll), "phases to run: all, metadata or segments")
	scanCmd.Flags().Bool("debug", false, "stop each phase after a few new rows")
	scanCmd.Flags().Bool("no-export-csv", false, "do not write the delta CSV")
	scanCmd.Flags().String("csv-output", export.DefaultDelta, "delta CSV base name")
	scanCmd.Flags().Int("concurrency", ingest.DefaultConcurrency, "parallel size lookups per session")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()

	mode, err := ingest.ParseMode(flagString(cmd, "mode"))
	if err != nil {
		return err
	}
	dates, err := dateRange(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	objects, err := openObjects(logger)
	if err != nil {
		return err
	}

	events := openEvents(logger)
	defer events.Close()

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	runner := pipeline.New(&pipeline.Config{
		Store:        db,
		Objects:      objects,
		Bucket:       objects.Bucket(),
		ExportDir:    appConfig.Paths.ExportDir,
		TempDir:      appConfig.Paths.TempDir,
		VideoBaseURL: appConfig.Paths.VideoBaseURL,
		Concurrency:  concurrency,
		Progress:     util.ShowProgress(viper.GetBool("quiet")),
		Logger:       logger,
		Events:       events,
	})

	debug, _ := cmd.Flags().GetBool("debug")
	noExport, _ := cmd.Flags().GetBool("no-export-csv")
	res, err := runner.Scan(ctx, pipeline.ScanOptions{
		Options: ingest.Options{
			DeviceID: flagString(cmd, "device-id"),
			Range:    dates,
			Mode:     mode,
			Debug:    debug,
		},
		SkipDelta: noExport,
		DeltaName: flagString(cmd, "csv-output"),
	})
	if res != nil && res.Result != nil {
		printScanSummary(res, logger)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func printScanSummary(res *pipeline.ScanResult, logger *slog.Logger) {
	if res.RanMetadata {
		m := res.Metadata
		logger.Info("=== Metadata phase ===")
		logger.Info("devices", "scanned", m.DevicesScanned, "skipped", m.DevicesSkipped, "registered", m.DevicesRegistered)
		logger.Info("sessions", "scanned", m.SessionsScanned, "new", m.New, "existing", m.Existing, "outside_range", m.SkippedByDate)
		if m.MetadataMissing > 0 {
			logger.Warn("sessions without metadata.json", "count", m.MetadataMissing)
		}
		if n := m.Failures(); n > 0 {
			logger.Warn("metadata failures", "count", n, "fetch", m.FetchFailures, "parse", m.ParseFailures, "insert", m.InsertFailures)
		}
	}

	if res.RanSegments {
		s := res.Segments
		logger.Info("=== Segment phase ===")
		logger.Info("sessions", "scanned", s.SessionsScanned, "processed", s.SessionsProcessed, "not_in_db", s.SessionMissing)
		logger.Info("segments", "new", s.New, "existing", s.Existing, "size", humanize.IBytes(uint64(s.NewBytes)))
		if s.Unpaired > 0 || s.InvalidFilenames > 0 {
			logger.Warn("skipped files", "unpaired", s.Unpaired, "invalid_names", s.InvalidFilenames)
		}
		if s.SizeFailures > 0 || s.InsertFailures > 0 || s.ListFailures > 0 {
			logger.Warn("segment failures", "size", s.SizeFailures, "insert", s.InsertFailures, "orphaned", s.Orphaned, "list", s.ListFailures)
		}
	}

	util.Success(logger, "=== Scan Summary ===")
	logger.Info("total", "new_sessions", res.NewSessions(), "new_segments", res.NewSegments(),
		"duration", res.Duration.Round(time.Millisecond))
	if res.Delta.Path != "" {
		logger.Info("delta CSV", "path", res.Delta.Path, "rows", res.Delta.Rows, "size", humanize.Bytes(uint64(res.Delta.SizeBytes)))
	}
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
