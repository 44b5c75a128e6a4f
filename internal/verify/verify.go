// Package verify checks stored sessions against the segment rules: numbers
// start at 0 and are contiguous, full segments are about 1200 MB and the
// last one is not larger.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/franz/fpvscan/internal/oss"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

// Size limits in MB
const (
	MinFullMB = 1100
	MaxFullMB = 1300
	MaxLastMB = 1210
)

// Kind classifies an issue
type Kind string

const (
	KindOrder        Kind = "order"          // first segment is not 0
	KindGap          Kind = "gap"            // numbers skip
	KindSize         Kind = "size"           // non-last segment outside limits
	KindLastTooLarge Kind = "last_too_large" // last segment too large
)

// Kinds lists issue kinds in report order
var Kinds = []Kind{KindOrder, KindGap, KindSize, KindLastTooLarge}

// Store is the subset of store.Store used here
type Store interface {
	ListSessionIDs(ctx context.Context, f store.SessionFilter) ([]string, error)
	SessionSegments(ctx context.Context, sessionID string) ([]store.Segment, error)
	UpdateSegmentSizes(ctx context.Context, key store.SegmentKey, downSize, frontSize int64) error
}

// Sizer reads object sizes from storage
type Sizer interface {
	ObjectSize(ctx context.Context, key string) (int64, error)
}

// Issue is one rule violation
type Issue struct {
	Kind    Kind
	Segment int
	Detail  string
}

// SegmentSize is a segment number and its combined size
type SegmentSize struct {
	Number int
	MB     float64
	OK     bool
}

// Session is the result for one session with issues
type Session struct {
	SessionID string
	Segments  []SegmentSize
	Issues    []Issue
}

// Report summarizes a run
type Report struct {
	Sessions int
	Valid    int
	Invalid  []Session
	Counts   map[Kind]int // sessions per issue kind
	Fixed    int          // segments whose front size was repaired
}

// Options selects the sessions to check
type Options struct {
	Filter store.SessionFilter
	Fix    bool
}

// Config configures a Verifier
type Config struct {
	Store   Store
	Objects Sizer // required for Fix
	Logger  *slog.Logger
}

// Verifier checks segment rules
type Verifier struct {
	store   Store
	objects Sizer
	logger  *slog.Logger
}

// New creates a Verifier
func New(cfg *Config) *Verifier {
	return &Verifier{
		store:   cfg.Store,
		objects: cfg.Objects,
		logger:  util.OrNop(cfg.Logger),
	}
}

// Run checks every session matching opts
func (v *Verifier) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Fix && v.objects == nil {
		return nil, fmt.Errorf("%w: fixing sizes needs object storage", util.ErrInvalidConfig)
	}

	ids, err := v.store.ListSessionIDs(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	rep := &Report{Counts: make(map[Kind]int)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		segs, err := v.store.SessionSegments(ctx, id)
		if err != nil {
			return rep, err
		}
		if len(segs) == 0 {
			continue
		}
		if opts.Fix {
			rep.Fixed += v.fixFrontSizes(ctx, segs)
		}

		rep.Sessions++
		res := Check(id, segs)
		if len(res.Issues) == 0 {
			rep.Valid++
			continue
		}
		rep.Invalid = append(rep.Invalid, res)
		seen := make(map[Kind]bool)
		for _, is := range res.Issues {
			if !seen[is.Kind] {
				seen[is.Kind] = true
				rep.Counts[is.Kind]++
			}
		}
	}

	v.logger.Info("verification complete", "sessions", rep.Sessions, "invalid", len(rep.Invalid), "fixed", rep.Fixed)
	return rep, nil
}

// fixFrontSizes re-reads missing front sizes from storage and updates segs
// in place. Failures are logged and skipped.
func (v *Verifier) fixFrontSizes(ctx context.Context, segs []store.Segment) int {
	fixed := 0
	for i := range segs {
		seg := &segs[i]
		if seg.FrontSizeBytes != 0 {
			continue
		}
		key, ok := oss.Key(seg.FrontOSSPath)
		if !ok {
			v.logger.Warn("cannot resolve front object", "session", seg.SessionID, "segment", seg.SegmentNumber, "path", seg.FrontOSSPath)
			continue
		}
		size, err := v.objects.ObjectSize(ctx, key)
		if err != nil {
			v.logger.Warn("failed to read front size", "key", key, "error", err)
			continue
		}
		if size == 0 {
			continue
		}
		if err := v.store.UpdateSegmentSizes(ctx, seg.Key(), seg.DownSizeBytes, size); err != nil {
			v.logger.Warn("failed to update segment", "session", seg.SessionID, "segment", seg.SegmentNumber, "error", err)
			continue
		}
		v.logger.Info("fixed front size", "session", seg.SessionID, "segment", seg.SegmentNumber, "bytes", size)
		seg.FrontSizeBytes = size
		fixed++
	}
	return fixed
}

// Check applies the segment rules to one session's segments
func Check(sessionID string, segs []store.Segment) Session {
	sizes := make([]SegmentSize, len(segs))
	for i, seg := range segs {
		n, err := strconv.Atoi(seg.SegmentNumber)
		if err != nil {
			n = -1
		}
		sizes[i] = SegmentSize{Number: n, MB: megabytes(seg.TotalBytes())}
	}
	sort.SliceStable(sizes, func(i, j int) bool { return sizes[i].Number < sizes[j].Number })

	res := Session{SessionID: sessionID, Segments: sizes}
	if len(sizes) == 0 {
		return res
	}

	if sizes[0].Number != 0 {
		res.Issues = append(res.Issues, Issue{
			Kind:    KindOrder,
			Segment: sizes[0].Number,
			Detail:  fmt.Sprintf("segments do not start at 0 (first is %d)", sizes[0].Number),
		})
	} else {
		for i := 1; i < len(sizes); i++ {
			if sizes[i].Number != sizes[i-1].Number+1 {
				res.Issues = append(res.Issues, Issue{
					Kind:    KindGap,
					Segment: sizes[i].Number,
					Detail:  fmt.Sprintf("segments not contiguous: %d -> %d", sizes[i-1].Number, sizes[i].Number),
				})
				break
			}
		}
	}

	last := len(sizes) - 1
	for i := range sizes {
		s := &sizes[i]
		if i == last {
			s.OK = s.MB < MaxLastMB
			if !s.OK {
				res.Issues = append(res.Issues, Issue{
					Kind:    KindLastTooLarge,
					Segment: s.Number,
					Detail:  fmt.Sprintf("last segment %d is %.2f MB (want < %d MB)", s.Number, s.MB, MaxLastMB),
				})
			}
			continue
		}
		s.OK = s.MB >= MinFullMB && s.MB <= MaxFullMB
		switch {
		case s.MB < MinFullMB:
			res.Issues = append(res.Issues, Issue{
				Kind:    KindSize,
				Segment: s.Number,
				Detail:  fmt.Sprintf("segment %d is too small: %.2f MB (want about 1200 MB)", s.Number, s.MB),
			})
		case s.MB > MaxFullMB:
			res.Issues = append(res.Issues, Issue{
				Kind:    KindSize,
				Segment: s.Number,
				Detail:  fmt.Sprintf("segment %d is too large: %.2f MB (want about 1200 MB)", s.Number, s.MB),
			})
		}
	}
	return res
}

func megabytes(b int64) float64 {
	return math.Round(float64(b)/(1024*1024)*100) / 100
}
