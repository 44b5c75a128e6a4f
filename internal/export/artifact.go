package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact name prefixes
const (
	DeltaPrefix    = "oss_mp4_qa"
	DefaultDelta   = DeltaPrefix + ".csv"
	timestampStyle = "20060102_150405"
)

// TimestampedName inserts _YYYYMMDD_HHMMSS before the extension of name.
// A name without an extension gets .csv.
func TimestampedName(name string, now time.Time) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".csv"
	}
	return base + "_" + now.Format(timestampStyle) + ext
}

// LatestArtifact returns the newest regular file in dir whose name starts
// with prefix and whose modification time is within maxAge of now. The
// second value is false when there is no such file.
func LatestArtifact(dir, prefix string, maxAge time.Duration, now time.Time) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mt := info.ModTime()
		if now.Sub(mt) > maxAge {
			continue
		}
		if best == "" || mt.After(bestTime) {
			best, bestTime = e.Name(), mt
		}
	}

	if best == "" {
		return "", false, nil
	}
	return filepath.Join(dir, best), true, nil
}
