package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/fpvscan/internal/config"
	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/oss"
	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

func logOptions() util.LogOptions {
	return util.LogOptions{
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
		Format:  viper.GetString("log-format"),
	}
}

func newLogger() *slog.Logger {
	return util.NewLogger(logOptions())
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore connects to the configured database and applies migrations
func openStore(ctx context.Context, logger *slog.Logger) (*store.Store, error) {
	if err := appConfig.Require(config.NeedDatabase); err != nil {
		return nil, err
	}

	db := appConfig.Database
	var (
		s   *store.Store
		err error
	)
	switch db.Driver {
	case config.DriverSQLite:
		logger.Debug("opening database", "driver", db.Driver, "path", db.SQLitePath)
		s, err = store.OpenSQLite(ctx, db.SQLitePath, logger)
	default:
		logger.Debug("opening database", "driver", db.Driver, "host", db.Host, "database", db.Name)
		s, err = store.OpenPostgres(ctx, db.PostgresOptions(logger))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return s, nil
}

// openObjects builds the retrying object storage client
func openObjects(logger *slog.Logger) (*oss.Client, error) {
	if err := appConfig.Require(config.NeedOSS); err != nil {
		return nil, err
	}
	return oss.New(appConfig.OSS.ClientConfig(), logger)
}

// openEvents creates the JSONL event log. A failure only disables it.
func openEvents(logger *slog.Logger) *report.EventLogger {
	level := report.LevelInfo
	if viper.GetBool("quiet") {
		level = report.LevelWarning
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug
	}

	events, err := report.NewEventLogger(appConfig.Paths.ArtifactsDir, level)
	if err != nil {
		logger.Warn("failed to create event logger", "error", err)
		return report.NullLogger()
	}
	logger.Info("event log", "path", events.Path())
	return events
}

// addDateFlags registers --start-date and --end-date
func addDateFlags(cmd *cobra.Command) {
	cmd.Flags().String("start-date", "", "first collection date (YYYY-MM-DD)")
	cmd.Flags().String("end-date", "", "last collection date (YYYY-MM-DD, default: start date)")
}

// dateRange reads --start-date/--end-date. Without dates the range is
// today; an end date alone is rejected.
func dateRange(cmd *cobra.Command) (entity.DateRange, error) {
	start, _ := cmd.Flags().GetString("start-date")
	end, _ := cmd.Flags().GetString("end-date")

	switch {
	case start == "" && end == "":
		return entity.SingleDay(entity.Today()), nil
	case start == "":
		return entity.DateRange{}, fmt.Errorf("%w: --end-date needs --start-date", util.ErrInvalidDate)
	case end == "":
		end = start
	}
	return entity.ParseDateRange(start, end)
}
