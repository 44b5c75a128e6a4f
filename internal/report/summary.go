package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/fpvscan/internal/store"
)

// SummaryReport aggregates one event log and, optionally, the store totals
type SummaryReport struct {
	GeneratedAt  time.Time
	EventLogPath string
	DatabasePath string

	FirstEvent time.Time
	LastEvent  time.Time
	Events     int

	// Ingest statistics
	DevicesRegistered int
	SessionsInserted  int
	SessionsExisting  int
	SegmentsInserted  int
	SegmentsExisting  int
	BytesIngested     int64

	// Job and export statistics
	JobsRun      int
	JobsFailed   int
	JobDuration  time.Duration
	ExportedRows int
	Exports      []ExportInfo

	// Details
	Skips     []ReasonCount
	TopErrors []ErrorSummary

	Totals *store.Counts
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// ReasonCount is a skip reason with its count
type ReasonCount struct {
	Reason string
	Count  int
}

// ExportInfo describes one written CSV file
type ExportInfo struct {
	Path      string
	Rows      int
	SizeBytes int64
}

// CountsSource provides store totals for the report
type CountsSource interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// ReadEvents decodes a JSONL event log. Malformed lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// Summarize folds events into a report
func Summarize(events []Event) *SummaryReport {
	report := &SummaryReport{
		GeneratedAt: time.Now(),
		Events:      len(events),
	}

	skips := make(map[string]int)
	errs := make(map[string]int)

	for _, ev := range events {
		if report.FirstEvent.IsZero() || ev.Timestamp.Before(report.FirstEvent) {
			report.FirstEvent = ev.Timestamp
		}
		if ev.Timestamp.After(report.LastEvent) {
			report.LastEvent = ev.Timestamp
		}

		if ev.Error != "" {
			errs[ev.Error]++
		}

		switch ev.Event {
		case EventDevice:
			if ev.Action == ActionRegister {
				report.DevicesRegistered++
			}
		case EventSession:
			switch ev.Action {
			case ActionInsert:
				report.SessionsInserted++
			case ActionExists:
				report.SessionsExisting++
			}
		case EventSegment:
			switch ev.Action {
			case ActionInsert:
				report.SegmentsInserted++
				report.BytesIngested += ev.SizeBytes
			case ActionExists:
				report.SegmentsExisting++
			}
		case EventSkip:
			skips[ev.Reason]++
		case EventExport:
			rows, _ := strconv.Atoi(ev.Extra["rows"])
			report.ExportedRows += rows
			report.Exports = append(report.Exports, ExportInfo{Path: ev.Path, Rows: rows, SizeBytes: ev.SizeBytes})
		case EventJob:
			report.JobsRun++
			report.JobDuration += time.Duration(ev.Duration) * time.Millisecond
			if ev.Error != "" {
				report.JobsFailed++
			}
		}
	}

	report.Skips = topCounts(skips, 0, func(k string, n int) ReasonCount { return ReasonCount{Reason: k, Count: n} })
	report.TopErrors = topCounts(errs, 10, func(k string, n int) ErrorSummary { return ErrorSummary{Error: k, Count: n} })
	return report
}

// topCounts sorts a histogram by count, then key. limit <= 0 keeps everything.
func topCounts[T any](m map[string]int, limit int, mk func(string, int) T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, mk(k, m[k]))
	}
	return out
}

// GenerateSummaryReport creates a summary report from an event log and,
// when db is non-nil, the current store totals
func GenerateSummaryReport(ctx context.Context, db CountsSource, eventLogPath string) (*SummaryReport, error) {
	events, err := ReadEvents(eventLogPath)
	if err != nil {
		return nil, err
	}

	report := Summarize(events)
	report.EventLogPath = eventLogPath

	if db != nil {
		counts, err := db.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load store totals: %w", err)
		}
		report.Totals = &counts
	}

	return report, nil
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// RenderMarkdown renders the report as a Markdown document
func RenderMarkdown(report *SummaryReport) string {
	var md strings.Builder

	md.WriteString("# FPV Scan - Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	if !report.FirstEvent.IsZero() {
		md.WriteString(fmt.Sprintf("**Window:** %s ~ %s (%d events)\n\n",
			report.FirstEvent.Format("2006-01-02 15:04:05"),
			report.LastEvent.Format("2006-01-02 15:04:05"),
			report.Events))
	}

	md.WriteString("---\n\n")

	// Ingest
	md.WriteString("## 📥 Ingest\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	if report.DevicesRegistered > 0 {
		md.WriteString(fmt.Sprintf("| Devices Registered | %d |\n", report.DevicesRegistered))
	}
	md.WriteString(fmt.Sprintf("| Sessions Inserted | %d |\n", report.SessionsInserted))
	md.WriteString(fmt.Sprintf("| Sessions Already Present | %d |\n", report.SessionsExisting))
	md.WriteString(fmt.Sprintf("| Segments Inserted | %d |\n", report.SegmentsInserted))
	md.WriteString(fmt.Sprintf("| Segments Already Present | %d |\n", report.SegmentsExisting))
	md.WriteString(fmt.Sprintf("| Bytes Ingested | %s |\n", humanize.Bytes(uint64(report.BytesIngested))))
	md.WriteString("\n")

	// Jobs
	if report.JobsRun > 0 {
		md.WriteString("## 🤖 Bot Jobs\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Jobs Run | %d |\n", report.JobsRun))
		if report.JobsFailed > 0 {
			md.WriteString(fmt.Sprintf("| Jobs Failed | %d |\n", report.JobsFailed))
		}
		md.WriteString(fmt.Sprintf("| Total Job Time | %s |\n", report.JobDuration.Round(time.Second)))
		md.WriteString("\n")
	}

	// Exports
	if len(report.Exports) > 0 {
		md.WriteString("## 📤 Exports\n\n")
		md.WriteString("| File | Rows | Size |\n")
		md.WriteString("|------|------|------|\n")
		for _, e := range report.Exports {
			md.WriteString(fmt.Sprintf("| `%s` | %s | %s |\n",
				truncatePath(e.Path, 60), humanize.Comma(int64(e.Rows)), humanize.Bytes(uint64(e.SizeBytes))))
		}
		md.WriteString("\n")
	}

	// Skips
	if len(report.Skips) > 0 {
		md.WriteString("## ⏭️ Skipped\n\n")
		md.WriteString("| Count | Reason |\n")
		md.WriteString("|-------|--------|\n")
		for _, s := range report.Skips {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", s.Count, s.Reason))
		}
		md.WriteString("\n")
	}

	// Errors
	if len(report.TopErrors) > 0 {
		md.WriteString("## ⚠️ Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, err.Error))
		}
		md.WriteString("\n")
	}

	// Store totals
	if t := report.Totals; t != nil {
		md.WriteString("## 🗄️ Database Totals\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Devices | %d (%d active, %d skipped, %d inactive) |\n",
			t.Devices, t.ActiveDevices, t.SkippedDevices, t.InactiveDevices))
		md.WriteString(fmt.Sprintf("| Sessions | %s |\n", humanize.Comma(int64(t.Sessions))))
		md.WriteString(fmt.Sprintf("| Segments | %s |\n", humanize.Comma(int64(t.Segments))))
		md.WriteString(fmt.Sprintf("| Total Size | %s |\n", humanize.Bytes(uint64(t.TotalBytes))))
		if t.FirstDate != "" {
			md.WriteString(fmt.Sprintf("| Collect Dates | %s ~ %s |\n", t.FirstDate, t.LastDate))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by fpvscan*\n")

	return md.String()
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
