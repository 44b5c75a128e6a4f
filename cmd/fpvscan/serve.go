package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/franz/fpvscan/internal/bot"
	"github.com/franz/fpvscan/internal/config"
	"github.com/franz/fpvscan/internal/execute"
	"github.com/franz/fpvscan/internal/lark"
	"github.com/franz/fpvscan/internal/pipeline"
	"github.com/franz/fpvscan/internal/util"
)

// Bot log rotation
const (
	botLogName       = "lark_bot.log"
	botLogMaxSizeMB  = 5
	botLogMaxBackups = 3
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Lark chat bot",
	Long: `Poll the monitored Lark chat for commands and run them.

Supported chat commands:
  /scan <device> [start] [end]   scan OSS and send the delta CSV
  /export <date> [end] | all     export the internal CSV and send it
  help, 帮助, ? or a mention       show usage

One job runs at a time; commands sent while a job is running are rejected
with the name of the running job. On SIGINT or SIGTERM polling stops and
the running job is allowed to finish.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// botLogger tees the console logger into a rotated file in LOG_DIR
func botLogger() (*slog.Logger, *lumberjack.Logger, error) {
	if err := os.MkdirAll(appConfig.Paths.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(appConfig.Paths.LogDir, botLogName),
		MaxSize:    botLogMaxSizeMB,
		MaxBackups: botLogMaxBackups,
	}

	fileLevel := slog.LevelInfo
	if viper.GetBool("verbose") {
		fileLevel = slog.LevelDebug
	}
	console := newLogger().Handler()
	logger := slog.New(util.NewTeeHandler(console, util.NewConsoleHandler(file, fileLevel, false)))
	return logger, file, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := appConfig.Require(config.NeedDatabase, config.NeedOSS, config.NeedLark); err != nil {
		return err
	}

	logger, logFile, err := botLogger()
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger.Info("configuration loaded", "config", appConfig)

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

	runner := pipeline.New(&pipeline.Config{
		Store:        db,
		Objects:      objects,
		Bucket:       objects.Bucket(),
		ExportDir:    appConfig.Paths.ExportDir,
		TempDir:      appConfig.Paths.TempDir,
		VideoBaseURL: appConfig.Paths.VideoBaseURL,
		Logger:       logger,
		Events:       events,
	})

	client := lark.New(lark.Config{
		BaseURL:   appConfig.Lark.BaseURL,
		AppID:     appConfig.Lark.AppID,
		AppSecret: appConfig.Lark.AppSecret,
		Logger:    logger,
	})

	executor := execute.New(&execute.Config{Logger: logger, Events: events})
	b := bot.New(&bot.Config{
		Messenger:    client,
		Runner:       runner,
		Executor:     executor,
		ChatID:       appConfig.Lark.ChatID,
		PollInterval: appConfig.Lark.Interval(),
		ExportDir:    appConfig.Paths.ExportDir,
		Logger:       logger,
	})

	if err := b.Run(ctx); err != nil {
		return err
	}

	if st := executor.Status(); st.Running {
		logger.Info("waiting for running job", "job", st.Description)
	}
	executor.Wait()
	util.Success(logger, "bot shut down")
	return nil
}
