package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/export"
	"github.com/franz/fpvscan/internal/util"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export segments to a formatted CSV",
	Long: `Export segments joined with their sessions and devices to a CSV file.

Formats:
- raw:      database columns with rebuilt oss:// paths
- internal: review sheet with video links, size and duration
- scale:    vendor sheet; zero-length rows dropped, approvers assigned

Without dates or --all, today's sessions are exported. Files are written to
the export directory with a timestamped name unless --output is given.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("format", string(export.FormatInternal), "raw, internal or scale")
	addDateFlags(exportCmd)
	exportCmd.Flags().Bool("all", false, "export every date")
	exportCmd.Flags().String("output", "", "output file name inside the export directory")
	exportCmd.Flags().Bool("time-adjust", false, "scale only: shift date and time by +8h")
	exportCmd.Flags().StringSlice("approver", nil, "scale only: approver as name[:weight] or a default index (repeatable)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()

	format, err := export.ParseFormat(flagString(cmd, "format"))
	if err != nil {
		return err
	}

	all, _ := cmd.Flags().GetBool("all")
	var dates entity.DateRange
	if !all {
		if dates, err = dateRange(cmd); err != nil {
			return err
		}
	}

	specs, _ := cmd.Flags().GetStringSlice("approver")
	approvers, err := export.ParseApprovers(specs)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	events := openEvents(logger)
	defer events.Close()

	exporter := export.New(&export.Config{
		Source:       db,
		Dir:          appConfig.Paths.ExportDir,
		Bucket:       appConfig.OSS.Bucket,
		VideoBaseURL: appConfig.Paths.VideoBaseURL,
		Logger:       logger,
		Events:       events,
	})

	timeAdjust, _ := cmd.Flags().GetBool("time-adjust")
	res, err := exporter.Formatted(ctx, export.Options{
		Format:     format,
		Range:      dates,
		All:        all,
		Output:     flagString(cmd, "output"),
		TimeAdjust: timeAdjust,
		Approvers:  approvers,
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if res.Rows == 0 {
		logger.Warn("no rows to export", "range", dates.String(), "all", all)
		return nil
	}
	util.Success(logger, "export complete",
		"path", res.Path,
		"rows", humanize.Comma(int64(res.Rows)),
		"size", humanize.Bytes(uint64(res.SizeBytes)))
	return nil
}
