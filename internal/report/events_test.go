package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func readLogged(t *testing.T, path string) []Event {
	t.Helper()
	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.path == "" {
		t.Error("EventLogger path is empty")
	}

	// Verify file exists
	if _, err := os.Stat(logger.path); os.IsNotExist(err) {
		t.Errorf("Event log file was not created at %s", logger.path)
	}

	// Verify filename format
	filename := filepath.Base(logger.path)
	if len(filename) != len("events-20060102-150405.jsonl") {
		t.Errorf("Event log filename format incorrect: %s", filename)
	}
}

func TestEventLogger_Log(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	event := &Event{
		Timestamp: time.Now(),
		Level:     LevelInfo,
		Event:     EventSession,
		DeviceID:  "7393",
		SessionID: "session_20250101_120000_1",
		Action:    ActionInsert,
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	logger.Close()
	content, err := os.ReadFile(logger.path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("Failed to decode JSONL: %v", err)
	}

	if decoded.DeviceID != "7393" {
		t.Errorf("Expected device_id '7393', got '%s'", decoded.DeviceID)
	}
	if decoded.SessionID != "session_20250101_120000_1" {
		t.Errorf("Expected session_id, got '%s'", decoded.SessionID)
	}
	if decoded.Action != ActionInsert {
		t.Errorf("Expected action 'insert', got '%s'", decoded.Action)
	}
}

func TestEventLogger_LevelFilter(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	// Existing rows are logged at debug and filtered out
	logger.LogSession("7393", "session_20250101_120000_1", ActionExists)
	logger.LogSession("7393", "session_20250101_130000_2", ActionInsert)
	logger.LogSkip("7393", "", "skip_scan")
	logger.Close()

	events := readLogged(t, logger.Path())
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after filtering, got %d", len(events))
	}
	if events[0].SessionID != "session_20250101_130000_2" {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	if events[1].Level != LevelWarning || events[1].Reason != "skip_scan" {
		t.Errorf("Unexpected skip event: %+v", events[1])
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	const numGoroutines = 10
	const eventsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := logger.LogSegment("session_"+strconv.Itoa(id), strconv.Itoa(j), ActionInsert, 1024); err != nil {
					t.Errorf("Concurrent log failed: %v", err)
				}
			}
		}(i)
	}

	wg.Wait()
	logger.Close()

	file, err := os.Open(logger.path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineCount := 0
	for scanner.Scan() {
		lineCount++
		var decoded Event
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode line %d: %v", lineCount, err)
		}
		if decoded.Timestamp.IsZero() {
			t.Errorf("Line %d: timestamp not set", lineCount)
		}
	}

	expected := numGoroutines * eventsPerGoroutine
	if lineCount != expected {
		t.Errorf("Expected %d events, got %d", expected, lineCount)
	}
}

func TestEventLogger_Helpers(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogDeviceRegistered("b852", 600)
	logger.LogExport("ExportedCSV/oss_mp4_qa_20250101_120000.csv", 12, 2048)
	logger.LogJob("扫库 7393 2025-01-01", 1500*time.Millisecond, nil)
	logger.LogJob("导出 all", time.Second, errors.New("db down"))
	logger.LogError(EventSegment, "7393", "session_20250101_120000_1", errors.New("insert failed"))
	logger.Close()

	events := readLogged(t, logger.Path())
	if len(events) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(events))
	}

	if events[0].Event != EventDevice || events[0].Extra["mb_per_10min"] != "600" {
		t.Errorf("Unexpected device event: %+v", events[0])
	}
	if events[1].Extra["rows"] != "12" || events[1].SizeBytes != 2048 {
		t.Errorf("Unexpected export event: %+v", events[1])
	}
	if events[2].Duration != 1500 || events[2].Level != LevelInfo {
		t.Errorf("Unexpected job event: %+v", events[2])
	}
	if events[3].Level != LevelError || events[3].Error != "db down" {
		t.Errorf("Expected failed job event, got %+v", events[3])
	}
	if events[4].Event != EventSegment || events[4].Error != "insert failed" {
		t.Errorf("Unexpected error event: %+v", events[4])
	}
}

func TestNullLogger(t *testing.T) {
	logger := NullLogger()

	// All calls on a nil logger are no-ops
	if err := logger.LogSession("d", "s", ActionInsert); err != nil {
		t.Errorf("nil logger returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("nil logger Close returned error: %v", err)
	}
	if logger.Path() != "" {
		t.Errorf("nil logger Path = %q", logger.Path())
	}
}

func TestLatestEventLog(t *testing.T) {
	dir := t.TempDir()

	if _, err := LatestEventLog(dir); err == nil {
		t.Error("Expected error for empty directory")
	}

	for _, name := range []string{
		"events-20250101-080000.jsonl",
		"events-20250102-070000.jsonl",
		"events-20241231-235959.jsonl",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := LatestEventLog(dir)
	if err != nil {
		t.Fatalf("LatestEventLog failed: %v", err)
	}
	if filepath.Base(latest) != "events-20250102-070000.jsonl" {
		t.Errorf("Expected newest log, got %s", latest)
	}
}
