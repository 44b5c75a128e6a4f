// Package bot polls a Lark chat for /scan and /export commands and runs
// them one at a time, reporting progress back to the chat.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/franz/fpvscan/internal/execute"
	"github.com/franz/fpvscan/internal/export"
	"github.com/franz/fpvscan/internal/ingest"
	"github.com/franz/fpvscan/internal/lark"
	"github.com/franz/fpvscan/internal/pipeline"
	"github.com/franz/fpvscan/internal/util"
)

const (
	// SeedPageSize is how many existing messages are marked seen at start
	SeedPageSize = 50
	// PollPageSize is how many of the newest messages each poll reads
	PollPageSize = 10
	// DefaultPollInterval is the delay between polls
	DefaultPollInterval = 3 * time.Second
	// ArtifactMaxAge bounds the age of a CSV sent after a job
	ArtifactMaxAge = 5 * time.Minute
)

// Messenger is the chat API the bot talks to
type Messenger interface {
	ListRecent(ctx context.Context, chatID string, pageSize int) ([]lark.Message, error)
	SendText(ctx context.Context, chatID, text string) error
	SendFile(ctx context.Context, chatID, path string) error
}

// Runner executes scans and exports
type Runner interface {
	Scan(ctx context.Context, opts pipeline.ScanOptions) (*pipeline.ScanResult, error)
	Export(ctx context.Context, opts export.Options) (export.Result, error)
}

// Config holds bot configuration
type Config struct {
	Messenger    Messenger
	Runner       Runner
	Executor     *execute.Executor // nil creates one
	ChatID       string
	PollInterval time.Duration
	ExportDir    string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Bot is the command poller
type Bot struct {
	messenger Messenger
	runner    Runner
	executor  *execute.Executor
	chatID    string
	interval  time.Duration
	exportDir string
	logger    *slog.Logger
	now       func() time.Time

	// seen is only touched by the polling goroutine
	seen map[string]bool
}

// New creates a new Bot
func New(cfg *Config) *Bot {
	b := &Bot{
		messenger: cfg.Messenger,
		runner:    cfg.Runner,
		executor:  cfg.Executor,
		chatID:    cfg.ChatID,
		interval:  cfg.PollInterval,
		exportDir: cfg.ExportDir,
		logger:    util.OrNop(cfg.Logger),
		now:       cfg.Now,
		seen:      make(map[string]bool),
	}
	if b.interval <= 0 {
		b.interval = DefaultPollInterval
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.executor == nil {
		b.executor = execute.New(&execute.Config{Logger: b.logger})
	}
	return b
}

// Executor returns the job executor, for waiting on shutdown
func (b *Bot) Executor() *execute.Executor {
	return b.executor
}

// Run seeds the seen set, then polls until ctx is cancelled. A failed seed
// is retried every interval and nothing is dispatched until it succeeds.
// Poll errors are logged and polling continues. A running job is not
// waited for.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started", "chat", b.chatID, "interval", b.interval)

	seeded := b.trySeed(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot stopped")
			return nil
		case <-ticker.C:
			if !seeded {
				seeded = b.trySeed(ctx)
				continue
			}
			if err := b.PollOnce(ctx); err != nil && ctx.Err() == nil {
				b.logger.Error("poll failed", "error", err)
			}
		}
	}
}

func (b *Bot) trySeed(ctx context.Context) bool {
	if err := b.Seed(ctx); err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("failed to load existing messages, retrying", "error", err)
		}
		return false
	}
	return true
}

// Seed marks the latest SeedPageSize messages as seen so history is never
// replayed
func (b *Bot) Seed(ctx context.Context) error {
	msgs, err := b.messenger.ListRecent(ctx, b.chatID, SeedPageSize)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		b.seen[m.MessageID] = true
	}
	b.logger.Info("marked existing messages", "count", len(msgs))
	return nil
}

// PollOnce handles the unseen messages among the latest PollPageSize,
// oldest first. A message is marked seen before it is handled.
func (b *Bot) PollOnce(ctx context.Context) error {
	msgs, err := b.messenger.ListRecent(ctx, b.chatID, PollPageSize)
	if err != nil {
		return err
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if b.seen[m.MessageID] {
			continue
		}
		b.seen[m.MessageID] = true

		if m.MsgType != "text" {
			continue
		}
		text, err := m.Text()
		if err != nil {
			b.logger.Debug("skipping undecodable message", "id", m.MessageID, "error", err)
			continue
		}

		b.logger.Info("new message", "id", m.MessageID, "text", text)
		b.Handle(ctx, text)
	}
	return nil
}

// Handle dispatches one message text
func (b *Bot) Handle(ctx context.Context, text string) {
	cmd := Parse(text, b.today())

	switch cmd.Kind {
	case KindHelp:
		b.send(ctx, HelpMessage)
	case KindScanUsage:
		b.send(ctx, ScanUsage)
	case KindExportUsage:
		b.send(ctx, ExportUsage)
	case KindScan:
		b.start(ctx, cmd, b.scanJob(ctx, cmd))
	case KindExport:
		b.start(ctx, cmd, b.exportJob(ctx, cmd))
	}
}

func (b *Bot) start(ctx context.Context, cmd Command, job execute.Job) {
	b.logger.Info("command parsed", "command", cmd.Description())
	ok, current := b.executor.TryStart(job)
	if !ok {
		b.logger.Info("rejected command, executor busy", "current", current)
		b.send(ctx, busyMessage(current))
	}
}

func (b *Bot) scanJob(ctx context.Context, cmd Command) execute.Job {
	ctx = context.WithoutCancel(ctx)
	var res *pipeline.ScanResult

	return execute.Job{
		Description: cmd.Description(),
		Run: func(jobCtx context.Context) error {
			b.send(ctx, scanStartMessage(cmd))
			var err error
			res, err = b.runner.Scan(jobCtx, pipeline.ScanOptions{
				Options: ingest.Options{DeviceID: cmd.DeviceID, Range: cmd.Range, Mode: ingest.ModeAll},
			})
			return err
		},
		Done: func(err error, elapsed time.Duration) {
			if err != nil {
				b.send(ctx, scanFailedMessage(cmd, err))
				return
			}
			b.send(ctx, scanDoneMessage(cmd, elapsed, res.NewSessions(), res.NewSegments(), res.Delta.Rows))
			b.sendLatest(ctx, export.DeltaPrefix)
		},
	}
}

func (b *Bot) exportJob(ctx context.Context, cmd Command) execute.Job {
	ctx = context.WithoutCancel(ctx)
	var res export.Result

	return execute.Job{
		Description: cmd.Description(),
		Run: func(jobCtx context.Context) error {
			b.send(ctx, exportStartMessage(cmd))
			var err error
			res, err = b.runner.Export(jobCtx, export.Options{
				Format: export.FormatInternal,
				Range:  cmd.Range,
				All:    cmd.All,
			})
			return err
		},
		Done: func(err error, elapsed time.Duration) {
			if err != nil {
				b.send(ctx, exportFailedMessage(err))
				return
			}
			b.send(ctx, exportDoneMessage(cmd, elapsed, res.Rows))
			b.sendLatest(ctx, string(export.FormatInternal)+"_")
		},
	}
}

// sendLatest sends the newest CSV with the given prefix if it was written
// within ArtifactMaxAge
func (b *Bot) sendLatest(ctx context.Context, prefix string) {
	path, ok, err := export.LatestArtifact(b.exportDir, prefix, ArtifactMaxAge, b.now())
	if err != nil {
		b.logger.Warn("failed to look up export", "dir", b.exportDir, "error", err)
		return
	}
	if !ok {
		b.logger.Debug("no recent export to send", "prefix", prefix)
		return
	}
	if err := b.messenger.SendFile(ctx, b.chatID, path); err != nil {
		b.logger.Error("failed to send file", "path", path, "error", err)
	}
}

func (b *Bot) send(ctx context.Context, text string) {
	if err := b.messenger.SendText(ctx, b.chatID, text); err != nil {
		b.logger.Error("failed to send message", "error", err)
	}
}

func (b *Bot) today() time.Time {
	now := b.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
