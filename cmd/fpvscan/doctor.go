package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/fpvscan/internal/config"
	"github.com/franz/fpvscan/internal/lark"
	"github.com/franz/fpvscan/internal/oss"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

// doctorTimeout bounds each remote check
const doctorTimeout = 15 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure fpvscan can operate correctly.

This command checks:
- Configuration of the database, OSS and Lark sections
- Database connectivity, server version and schema version
- OSS bucket listing
- Lark credentials (tenant token)
- Export and temp directories are writable
- Disk space for exports

Use this command to troubleshoot issues before running a scan or the bot.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	logger.Info("=== fpvscan doctor ===")
	if appConfig.File != "" {
		logger.Info("using config file", "path", appConfig.File)
	}

	results := checkConfig(appConfig)
	results = append(results, checkDatabase(ctx, appConfig))

	if appConfig.Require(config.NeedOSS) == nil {
		objects, err := oss.New(appConfig.OSS.ClientConfig(), nil)
		if err != nil {
			results = append(results, checkResult{name: "OSS", error: true, message: err.Error()})
		} else {
			results = append(results, checkObjects(ctx, objects))
		}
	}

	if appConfig.Require(config.NeedLark) == nil {
		client := lark.New(lark.Config{
			BaseURL:   appConfig.Lark.BaseURL,
			AppID:     appConfig.Lark.AppID,
			AppSecret: appConfig.Lark.AppSecret,
		})
		results = append(results, checkLark(ctx, client))
	}

	results = append(results,
		checkWritableDir("Export directory", appConfig.Paths.ExportDir),
		checkWritableDir("Temp directory", appConfig.Paths.TempDir),
		checkDiskSpace(appConfig.Paths.ExportDir, "export"),
	)

	return printResults(logger, results)
}

func printResults(logger *slog.Logger, results []checkResult) error {
	logger.Info("=== Diagnostic Results ===")

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += ": " + r.message
		}

		switch {
		case r.error:
			logger.Error(line)
		case r.warning:
			logger.Warn(line)
		default:
			util.Success(logger, line)
		}
	}

	switch {
	case hasErrors:
		logger.Error("❌ Some critical checks failed. Please resolve errors before running fpvscan.")
		return fmt.Errorf("system diagnostics failed")
	case hasWarnings:
		logger.Warn("⚠️  Some checks produced warnings. Review them before proceeding.")
	default:
		util.Success(logger, "✅ All checks passed! Ready to scan.")
	}
	return nil
}

// checkConfig validates each section. The bot section is optional for
// scans, so a missing one is only a warning.
func checkConfig(cfg *config.Config) []checkResult {
	var results []checkResult

	if err := cfg.Require(config.NeedDatabase); err != nil {
		results = append(results, checkResult{name: "Database config", error: true, message: err.Error()})
	} else {
		results = append(results, checkResult{name: "Database config", message: cfg.Database.Driver})
	}

	if err := cfg.Require(config.NeedOSS); err != nil {
		results = append(results, checkResult{name: "OSS config", error: true, message: err.Error()})
	} else {
		results = append(results, checkResult{name: "OSS config", message: fmt.Sprintf("%s bucket %q", cfg.OSS.Backend, cfg.OSS.Bucket)})
	}

	if err := cfg.Require(config.NeedLark); err != nil {
		results = append(results, checkResult{name: "Lark config", warning: true, message: "incomplete, the bot cannot run: " + err.Error()})
	} else {
		results = append(results, checkResult{name: "Lark config", message: "chat " + cfg.Lark.ChatID})
	}
	return results
}

// checkDatabase opens the configured database, which applies migrations,
// and reports the server and schema versions
func checkDatabase(ctx context.Context, cfg *config.Config) checkResult {
	if cfg.Require(config.NeedDatabase) != nil {
		return checkResult{name: "Database", warning: true, message: "skipped, configuration incomplete"}
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	var (
		db  *store.Store
		err error
	)
	if cfg.Database.Driver == config.DriverSQLite {
		db, err = store.OpenSQLite(ctx, cfg.Database.SQLitePath, nil)
	} else {
		db, err = store.OpenPostgres(ctx, cfg.Database.PostgresOptions(nil))
	}
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot open: %v", err)}
	}
	defer db.Close()

	version, err := db.ServerVersion(ctx)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot query version: %v", err)}
	}
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot read schema version: %v", err)}
	}
	counts, err := db.Counts(ctx)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot read tables: %v", err)}
	}

	return checkResult{
		name: "Database",
		message: fmt.Sprintf("%s %s, schema v%d (%d devices, %d sessions, %d segments)",
			cfg.Database.Driver, version, schema, counts.Devices, counts.Sessions, counts.Segments),
	}
}

// prefixLister lists the top-level prefixes of a bucket
type prefixLister interface {
	Bucket() string
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
}

// checkObjects lists the bucket root, one prefix per device
func checkObjects(ctx context.Context, objects prefixLister) checkResult {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	prefixes, err := objects.ListPrefixes(ctx, "")
	if err != nil {
		return checkResult{name: "OSS", error: true, message: fmt.Sprintf("cannot list bucket %s: %v", objects.Bucket(), err)}
	}
	if len(prefixes) == 0 {
		return checkResult{name: "OSS", warning: true, message: fmt.Sprintf("bucket %s is empty", objects.Bucket())}
	}
	return checkResult{name: "OSS", message: fmt.Sprintf("bucket %s (%d device prefixes)", objects.Bucket(), len(prefixes))}
}

type tokenSource interface {
	TenantToken(ctx context.Context) (string, error)
}

// checkLark obtains a tenant token with the configured credentials
func checkLark(ctx context.Context, client tokenSource) checkResult {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	if _, err := client.TenantToken(ctx); err != nil {
		return checkResult{name: "Lark", error: true, message: fmt.Sprintf("cannot obtain tenant token: %v", err)}
	}
	return checkResult{name: "Lark", message: "credentials accepted"}
}

// checkWritableDir verifies a directory exists or can be created, and is
// writable
func checkWritableDir(name, path string) checkResult {
	if path == "" {
		return checkResult{name: name, warning: true, message: "not configured"}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{name: name, error: true, message: fmt.Sprintf("cannot create %s: %v", path, err)}
			}
			return checkResult{name: name, message: fmt.Sprintf("%s (created)", path)}
		}
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}

	if !info.IsDir() {
		return checkResult{name: name, error: true, message: fmt.Sprintf("%s is not a directory", path)}
	}

	testFile := filepath.Join(path, ".fpvscan_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot write to %s: %v", path, err)}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{name: name, message: fmt.Sprintf("%s (writable)", path)}
}

// checkDiskSpace warns when less than 1 GB is free or the disk is over 90%
// full
func checkDiskSpace(path string, label string) checkResult {
	name := fmt.Sprintf("Disk space (%s)", label)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{name: name, warning: true, message: fmt.Sprintf("cannot determine disk space: %v", err)}
	}

	avail := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	used := total - stat.Bfree*uint64(stat.Bsize)

	var usedPercent float64
	if total > 0 {
		usedPercent = float64(used) / float64(total) * 100
	}

	r := checkResult{name: name, message: humanize.IBytes(avail) + " available"}
	switch {
	case avail < 1<<30:
		r.warning = true
		r.message += " (low space!)"
	case usedPercent > 90:
		r.warning = true
		r.message += " (>90% used)"
	}
	return r
}
