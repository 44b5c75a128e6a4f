// Package ingest walks the object store and records new sessions and
// segments in the database. Both phases are idempotent: a re-run over the
// same range inserts nothing.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

// DebugLimit caps the number of new rows per phase in debug mode
const DebugLimit = 5

// DefaultConcurrency bounds parallel size lookups within a session
const DefaultConcurrency = 8

// Store is the subset of the database the engine needs
type Store interface {
	LoadDevices(ctx context.Context) (map[string]store.Device, error)
	RegisterDevice(ctx context.Context, deviceID string) (bool, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	InsertSession(ctx context.Context, sess *store.Session) (bool, error)
	SegmentExists(ctx context.Context, sessionID, segmentNumber string) (bool, error)
	InsertSegment(ctx context.Context, seg *store.Segment) (bool, error)
}

// Objects is the subset of the object store client the engine needs.
// Implementations retry transient failures themselves.
type Objects interface {
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	ObjectSize(ctx context.Context, key string) (int64, error)
	Download(ctx context.Context, key, localPath string) error
	Path(key string) string
}

// Mode selects which phases run
type Mode string

const (
	ModeAll      Mode = "all"
	ModeMetadata Mode = "metadata"
	ModeSegments Mode = "segments"
)

// ParseMode validates a mode name. Empty means all.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAll, nil
	case ModeAll, ModeMetadata, ModeSegments:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown scan mode %q (want all, metadata or segments)", util.ErrInvalidConfig, s)
	}
}

func (m Mode) metadata() bool { return m == ModeAll || m == ModeMetadata || m == "" }
func (m Mode) segments() bool { return m == ModeAll || m == ModeSegments || m == "" }

// Options scope one run
type Options struct {
	DeviceID string           // empty scans every device
	Range    entity.DateRange // inclusive; an open range disables date filtering
	Mode     Mode
	Debug    bool // stop a phase after DebugLimit new rows
}

// Config holds engine configuration
type Config struct {
	Store       Store
	Objects     Objects
	TempDir     string // metadata documents are downloaded here
	Concurrency int
	Progress    bool // draw progress bars
	Logger      *slog.Logger
	Events      *report.EventLogger
}

// Engine runs the metadata and segment phases
type Engine struct {
	store       Store
	objects     Objects
	tempDir     string
	concurrency int
	progress    bool
	logger      *slog.Logger
	events      *report.EventLogger
}

// New creates a new Engine
func New(cfg *Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	return &Engine{
		store:       cfg.Store,
		objects:     cfg.Objects,
		tempDir:     cfg.TempDir,
		concurrency: cfg.Concurrency,
		progress:    cfg.Progress,
		logger:      util.OrNop(cfg.Logger),
		events:      cfg.Events,
	}
}

// Result is the outcome of a run
type Result struct {
	Metadata    MetadataStats
	Segments    SegmentStats
	Tracker     *Tracker
	RanMetadata bool
	RanSegments bool
	Duration    time.Duration
}

// Run executes the phases selected by opts.Mode. Entity failures are
// counted in the stats; the returned error is reserved for failures that
// make the rest of the run meaningless (database errors, an unlistable
// bucket root, cancellation).
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{Tracker: NewTracker()}

	devices, err := e.store.LoadDevices(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load devices: %w", err)
	}
	e.logger.Debug("loaded device cache", "devices", len(devices))

	if opts.Mode.metadata() {
		result.RanMetadata = true
		stats, err := e.metadataPhase(ctx, opts, devices)
		result.Metadata = stats
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		e.logger.Info("metadata phase complete", "stats", stats)
	}

	if opts.Mode.segments() {
		result.RanSegments = true
		stats, err := e.segmentPhase(ctx, opts, devices, result.Tracker)
		result.Segments = stats
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		e.logger.Info("segment phase complete", "stats", stats)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// listDevices returns the device prefixes under the bucket root, filtered
// to opts.DeviceID when set
func (e *Engine) listDevices(ctx context.Context, opts Options) ([]string, error) {
	prefixes, err := e.objects.ListPrefixes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if opts.DeviceID == "" {
		return prefixes, nil
	}
	for _, p := range prefixes {
		if entity.BaseName(p) == opts.DeviceID {
			return []string{p}, nil
		}
	}
	return nil, nil
}

// listSessions returns the session prefixes of a device
func (e *Engine) listSessions(ctx context.Context, devicePrefix string) ([]string, error) {
	prefixes, err := e.objects.ListPrefixes(ctx, devicePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if entity.IsSessionName(entity.BaseName(p)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// inRange applies the date filter. Sessions whose id carries no date are
// excluded whenever a filter is active.
func inRange(r entity.DateRange, sessionID string) bool {
	if r.IsOpen() {
		return true
	}
	return r.Contains(entity.ParseSessionID(sessionID).Day)
}

func (e *Engine) newBar(total int, description string) *progressbar.ProgressBar {
	if !e.progress || total <= 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(barWidth(util.GetTerminalWidth())),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("devices"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// barWidth leaves room for the description and counters on narrow
// terminals
func barWidth(columns int) int {
	return min(max(columns-60, 10), 40)
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}

func advanceBar(bar *progressbar.ProgressBar, description string) {
	if bar != nil {
		bar.Describe(description)
		bar.Add(1)
	}
}
