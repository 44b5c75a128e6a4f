package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventDevice  EventType = "device"
	EventSession EventType = "session"
	EventSegment EventType = "segment"
	EventSkip    EventType = "skip"
	EventExport  EventType = "export"
	EventJob     EventType = "job"
	EventError   EventType = "error"
)

// Actions recorded on session and segment events
const (
	ActionInsert   = "insert"
	ActionExists   = "exists"
	ActionRegister = "register"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp     time.Time         `json:"ts"`
	Level         EventLevel        `json:"level"`
	Event         EventType         `json:"event"`
	DeviceID      string            `json:"device_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	SegmentNumber string            `json:"segment_number,omitempty"`
	Path          string            `json:"path,omitempty"`
	Action        string            `json:"action,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	SizeBytes     int64             `json:"size_bytes,omitempty"`
	Duration      int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error         string            `json:"error,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil *EventLogger is valid
// and drops everything.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// EventLogPrefix and EventLogSuffix frame the event log file names
const (
	EventLogPrefix = "events-"
	EventLogSuffix = ".jsonl"
)

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := EventLogPrefix + timestamp + EventLogSuffix
	path := filepath.Join(outputDir, filename)

	// Append so two runs in the same second share a file
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogDeviceRegistered logs the auto-registration of an unknown device
func (l *EventLogger) LogDeviceRegistered(deviceID string, mbPer10Min float64) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventDevice,
		DeviceID: deviceID,
		Action:   ActionRegister,
		Extra: map[string]string{
			"mb_per_10min": strconv.FormatFloat(mbPer10Min, 'f', -1, 64),
		},
	})
}

// LogSession logs the outcome of a session insert attempt
func (l *EventLogger) LogSession(deviceID, sessionID, action string) error {
	level := LevelInfo
	if action == ActionExists {
		level = LevelDebug
	}
	return l.Log(&Event{
		Level:     level,
		Event:     EventSession,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Action:    action,
	})
}

// LogSegment logs the outcome of a segment insert attempt
func (l *EventLogger) LogSegment(sessionID, number, action string, sizeBytes int64) error {
	level := LevelInfo
	if action == ActionExists {
		level = LevelDebug
	}
	return l.Log(&Event{
		Level:         level,
		Event:         EventSegment,
		SessionID:     sessionID,
		SegmentNumber: number,
		Action:        action,
		SizeBytes:     sizeBytes,
	})
}

// LogSkip logs an entity skipped for a non-error reason
func (l *EventLogger) LogSkip(deviceID, sessionID, reason string) error {
	return l.Log(&Event{
		Level:     LevelWarning,
		Event:     EventSkip,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Reason:    reason,
	})
}

// LogExport logs a written CSV file
func (l *EventLogger) LogExport(path string, rows int, sizeBytes int64) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventExport,
		Path:      path,
		SizeBytes: sizeBytes,
		Extra: map[string]string{
			"rows": strconv.Itoa(rows),
		},
	})
}

// LogJob logs the completion of a bot job
func (l *EventLogger) LogJob(description string, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventJob,
		Reason:   description,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, deviceID, sessionID string, err error) error {
	return l.Log(&Event{
		Level:     LevelError,
		Event:     event,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Error:     err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}

// LatestEventLog returns the newest event log in dir
func LatestEventLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, EventLogPrefix+"*"+EventLogSuffix))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no event logs in %s", dir)
	}
	// Timestamped names sort chronologically
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
