package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/store"
)

func (e *Engine) metadataPhase(ctx context.Context, opts Options, devices map[string]store.Device) (MetadataStats, error) {
	var stats MetadataStats

	if err := os.MkdirAll(e.tempDir, 0755); err != nil {
		return stats, fmt.Errorf("failed to create temp dir: %w", err)
	}

	prefixes, err := e.listDevices(ctx, opts)
	if err != nil {
		return stats, err
	}

	e.logger.Info("metadata phase", "devices", len(prefixes), "range", opts.Range.String(), "debug", opts.Debug)
	bar := e.newBar(len(prefixes), "Metadata")
	defer finishBar(bar)

	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		deviceID := entity.BaseName(prefix)
		advanceBar(bar, "Metadata | "+deviceID)

		if !e.admitDevice(ctx, deviceID, devices, &stats) {
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

			halt, err := e.ingestSession(ctx, opts, deviceID, sessPrefix, &stats, log)
			if err != nil {
				return stats, err
			}
			if halt {
				stats.Halted = true
				log.Info("debug limit reached, stopping metadata phase", "limit", DebugLimit)
				return stats, nil
			}
		}
	}

	return stats, nil
}

// admitDevice registers unknown devices and applies the skip switches
func (e *Engine) admitDevice(ctx context.Context, deviceID string, devices map[string]store.Device, stats *MetadataStats) bool {
	dev, known := devices[deviceID]
	if !known {
		created, err := e.store.RegisterDevice(ctx, deviceID)
		if err != nil {
			stats.DevicesSkipped++
			e.logger.Error("failed to register device", "device", deviceID, "error", err)
			e.events.LogError(report.EventDevice, deviceID, "", err)
			return false
		}
		dev = store.Device{DeviceID: deviceID, MBPer10Min: store.DefaultMBPer10Min, IsActive: true}
		devices[deviceID] = dev
		if created {
			stats.DevicesRegistered++
			e.logger.Info("registered new device", "device", deviceID, "mb_per_10min", dev.MBPer10Min)
			e.events.LogDeviceRegistered(deviceID, dev.MBPer10Min)
		}
	}

	if !dev.Scannable() {
		stats.DevicesSkipped++
		reason := "skip_scan"
		if !dev.IsActive {
			reason = "inactive"
		}
		e.logger.Info("skipping device", "device", deviceID, "reason", reason)
		e.events.LogSkip(deviceID, "", reason)
		return false
	}
	return true
}

// ingestSession handles one session folder. It returns halt=true when the
// debug limit is reached and a non-nil error only for fatal failures.
func (e *Engine) ingestSession(ctx context.Context, opts Options, deviceID, sessPrefix string, stats *MetadataStats, log *slog.Logger) (bool, error) {
	sessionID := entity.BaseName(sessPrefix)

	if !inRange(opts.Range, sessionID) {
		stats.SkippedByDate++
		return false, nil
	}
	stats.SessionsScanned++
	log = log.With("session", sessionID)

	exists, err := e.store.SessionExists(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if exists {
		stats.Existing++
		log.Debug("session already exists")
		e.events.LogSession(deviceID, sessionID, report.ActionExists)
		return false, nil
	}

	key := sessPrefix + entity.MetadataFilename
	found, err := e.objects.ObjectExists(ctx, key)
	if err != nil {
		stats.FetchFailures++
		log.Warn("failed to check metadata", "key", key, "error", err)
		e.events.LogError(report.EventSession, deviceID, sessionID, err)
		return false, nil
	}
	if !found {
		stats.MetadataMissing++
		log.Warn("metadata missing", "key", key)
		e.events.LogSkip(deviceID, sessionID, "metadata missing")
		return false, nil
	}

	localPath := filepath.Join(e.tempDir, sessionID+"_"+entity.MetadataFilename)
	defer os.Remove(localPath)

	if err := e.objects.Download(ctx, key, localPath); err != nil {
		stats.FetchFailures++
		log.Warn("failed to download metadata", "key", key, "error", err)
		e.events.LogError(report.EventSession, deviceID, sessionID, err)
		return false, nil
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		stats.FetchFailures++
		log.Warn("failed to read metadata", "path", localPath, "error", err)
		return false, nil
	}

	doc, err := entity.DecodeMetadata(data)
	if err != nil {
		stats.ParseFailures++
		log.Warn("failed to parse metadata", "error", err)
		e.events.LogError(report.EventSession, deviceID, sessionID, err)
		return false, nil
	}

	sess, err := entity.BuildSession(deviceID, sessionID, doc)
	if err != nil {
		stats.ParseFailures++
		log.Warn("failed to build session", "error", err)
		return false, nil
	}

	inserted, err := e.store.InsertSession(ctx, sess)
	if err != nil {
		stats.InsertFailures++
		log.Error("failed to insert session", "error", err)
		e.events.LogError(report.EventSession, deviceID, sessionID, err)
		return false, nil
	}
	if !inserted {
		stats.Existing++
		log.Debug("session inserted concurrently")
		e.events.LogSession(deviceID, sessionID, report.ActionExists)
		return false, nil
	}

	stats.New++
	log.Info("inserted session", "date", sess.CollectDate, "time", sess.CollectTime)
	e.events.LogSession(deviceID, sessionID, report.ActionInsert)

	return opts.Debug && stats.New >= DebugLimit, nil
}
