package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report from an event log",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Sessions and segments inserted or already present
- Devices registered during the run
- Jobs run by the bot and their failures
- CSV exports written
- Skip reasons and top errors
- Current database totals (unless --no-db)

The newest event log in the artifacts directory is used unless --event-log
is given. The report is saved to <artifacts>/reports/<timestamp>/summary.md`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "output directory for the report (default: <artifacts>/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "event log file (default: newest in the artifacts directory)")
	reportCmd.Flags().Bool("no-db", false, "do not include database totals")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	logger.Info("=== Generating Summary Report ===")

	eventLog := flagString(cmd, "event-log")
	if eventLog == "" {
		latest, err := report.LatestEventLog(appConfig.Paths.ArtifactsDir)
		if err != nil {
			return err
		}
		eventLog = latest
	}
	logger.Info("reading events", "path", eventLog)

	var counts report.CountsSource
	if noDB, _ := cmd.Flags().GetBool("no-db"); !noDB {
		db, err := openStore(ctx, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		counts = db
	}

	summary, err := report.GenerateSummaryReport(ctx, counts, eventLog)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	outputDir := flagString(cmd, "out")
	if outputDir == "" {
		outputDir = filepath.Join(appConfig.Paths.ArtifactsDir, "reports", time.Now().Format("20060102-150405"))
	}
	outputPath := filepath.Join(outputDir, "summary.md")
	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.Success(logger, "report generated", "path", outputPath)
	logger.Info("sessions", "inserted", summary.SessionsInserted, "existing", summary.SessionsExisting)
	logger.Info("segments", "inserted", summary.SegmentsInserted, "existing", summary.SegmentsExisting,
		"size", humanize.IBytes(uint64(summary.BytesIngested)))
	if summary.JobsRun > 0 {
		logger.Info("jobs", "run", summary.JobsRun, "failed", summary.JobsFailed)
	}
	if summary.ExportedRows > 0 {
		logger.Info("exports", "files", len(summary.Exports), "rows", summary.ExportedRows)
	}
	if len(summary.TopErrors) > 0 {
		logger.Warn("errors recorded", "distinct", len(summary.TopErrors))
	}
	return nil
}
