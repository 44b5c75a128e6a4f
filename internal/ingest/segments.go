package ingest

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/store"
)

func (e *Engine) segmentPhase(ctx context.Context, opts Options, devices map[string]store.Device, tracker *Tracker) (SegmentStats, error) {
	var stats SegmentStats

	prefixes, err := e.listDevices(ctx, opts)
	if err != nil {
		return stats, err
	}

	e.logger.Info("segment phase", "devices", len(prefixes), "range", opts.Range.String(), "debug", opts.Debug)
	bar := e.newBar(len(prefixes), "Segments")
	defer finishBar(bar)

	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		deviceID := entity.BaseName(prefix)
		advanceBar(bar, "Segments | "+deviceID)

		dev, known := devices[deviceID]
		if !known || dev.SkipScan {
			stats.DevicesSkipped++
			e.logger.Debug("skipping device", "device", deviceID, "known", known)
			continue
		}

		stats.DevicesScanned++
		log := e.logger.With("device", deviceID)

		sessions, err := e.listSessions(ctx, prefix)
		if err != nil {
			stats.DevicesFailed++
			log.Error("failed to list sessions", "error", err)
			e.events.LogError(report.EventDevice, deviceID, "", err)
			continue
		}

		for _, sessPrefix := range sessions {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			sessionID := entity.BaseName(sessPrefix)
			if !inRange(opts.Range, sessionID) {
				continue
			}
			stats.SessionsScanned++

			halt, err := e.ingestSegments(ctx, opts, deviceID, sessPrefix, &stats, tracker, log.With("session", sessionID))
			if err != nil {
				return stats, err
			}
			if halt {
				stats.Halted = true
				log.Info("debug limit reached, stopping segment phase", "limit", DebugLimit)
				return stats, nil
			}
		}
	}

	return stats, nil
}

// pendingSegment is a complete pair that is not in the database yet
type pendingSegment struct {
	pair      entity.Pair
	downSize  int64
	frontSize int64
}

// ingestSegments inserts the new complete pairs of one session in
// ascending segment order
func (e *Engine) ingestSegments(ctx context.Context, opts Options, deviceID, sessPrefix string, stats *SegmentStats, tracker *Tracker, log *slog.Logger) (bool, error) {
	sessionID := entity.BaseName(sessPrefix)

	exists, err := e.store.SessionExists(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !exists {
		stats.SessionMissing++
		log.Warn("session not in database, run the metadata phase first")
		e.events.LogSkip(deviceID, sessionID, "session missing")
		return false, nil
	}
	stats.SessionsProcessed++

	keys, err := e.objects.ListObjects(ctx, sessPrefix+entity.SegmentsDir)
	if err != nil {
		stats.ListFailures++
		log.Warn("failed to list segments", "error", err)
		e.events.LogError(report.EventSegment, deviceID, sessionID, err)
		return false, nil
	}

	grouping := entity.GroupSegments(keys)
	stats.InvalidFilenames += len(grouping.Invalid)
	for _, name := range grouping.Invalid {
		log.Debug("invalid segment filename", "file", name)
	}

	var pending []*pendingSegment
	for _, p := range grouping.Pairs {
		if !p.Complete() {
			stats.Unpaired++
			log.Debug("unpaired segment", "segment", p.Number, "down", p.Down != "", "front", p.Front != "")
			continue
		}

		exists, err := e.store.SegmentExists(ctx, sessionID, p.Number)
		if err != nil {
			return false, err
		}
		if exists {
			stats.Existing++
			e.events.LogSegment(sessionID, p.Number, report.ActionExists, 0)
			continue
		}

		pending = append(pending, &pendingSegment{pair: p})
	}

	if opts.Debug {
		if remaining := DebugLimit - stats.New; len(pending) > remaining {
			pending = pending[:max(remaining, 0)]
		}
	}
	if len(pending) == 0 {
		return opts.Debug && stats.New >= DebugLimit, nil
	}

	stats.SizeFailures += e.lookupSizes(ctx, pending, log)

	for _, ps := range pending {
		seg := entity.BuildSegment(sessionID, ps.pair, e.objects.Path, ps.downSize, ps.frontSize)

		inserted, err := e.store.InsertSegment(ctx, seg)
		if err != nil {
			stats.InsertFailures++
			if store.IsForeignKeyViolation(err) {
				stats.Orphaned++
				log.Warn("session row gone, segment not inserted", "segment", seg.SegmentNumber)
			} else {
				log.Error("failed to insert segment", "segment", seg.SegmentNumber, "error", err)
			}
			e.events.LogError(report.EventSegment, deviceID, sessionID, err)
			continue
		}
		if !inserted {
			stats.Existing++
			e.events.LogSegment(sessionID, seg.SegmentNumber, report.ActionExists, 0)
			continue
		}

		stats.New++
		stats.NewBytes += seg.TotalBytes()
		tracker.Add(seg.Key())
		log.Debug("inserted segment", "segment", seg.SegmentNumber, "bytes", seg.TotalBytes())
		e.events.LogSegment(sessionID, seg.SegmentNumber, report.ActionInsert, seg.TotalBytes())

		if opts.Debug && stats.New >= DebugLimit {
			return true, nil
		}
	}

	return false, nil
}

// lookupSizes fills in both object sizes of every pending segment using a
// bounded pool. A failed lookup leaves the size at 0. It returns the
// number of failed lookups.
func (e *Engine) lookupSizes(ctx context.Context, pending []*pendingSegment, log *slog.Logger) int {
	failures := make([]int, len(pending))

	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i, ps := range pending {
		p.Go(func() {
			ps.downSize = e.sizeOrZero(ctx, ps.pair.Down, log, &failures[i])
			ps.frontSize = e.sizeOrZero(ctx, ps.pair.Front, log, &failures[i])
		})
	}
	p.Wait()

	total := 0
	for _, n := range failures {
		total += n
	}
	return total
}

func (e *Engine) sizeOrZero(ctx context.Context, key string, log *slog.Logger, failures *int) int64 {
	n, err := e.objects.ObjectSize(ctx, key)
	if err != nil {
		*failures++
		log.Warn("failed to get object size, recording 0", "key", key, "error", err)
		return 0
	}
	return n
}
