package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	var records []map[string]any
	start := 0
	for i, b := range data {
		if b == '\n' {
			var r map[string]any
			if err := json.Unmarshal(data[start:i], &r); err == nil {
				records = append(records, r)
			}
			start = i + 1
		}
	}
	return records
}

func TestInitWritesJSONL(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	Logger().Info("tab_inserted", "tab_id", 7)

	records := readRecords(t, filepath.Join(dir, LogFileName))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0]["msg"] != "tab_inserted" {
		t.Errorf("expected msg=tab_inserted, got %v", records[0]["msg"])
	}
	if records[0]["tab_id"] != float64(7) {
		t.Errorf("expected tab_id=7, got %v", records[0]["tab_id"])
	}
}

func TestInitWithoutDirDiscards(t *testing.T) {
	Shutdown()
	Init(Config{})
	defer Shutdown()

	if Logger() == nil {
		t.Fatal("expected non-nil logger")
	}
	Logger().Info("goes_nowhere")
}

func TestForComponentBeforeInit(t *testing.T) {
	Shutdown()
	// Declared before Init, like package-level loggers.
	log := ForComponent(CompResolver)

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	log.Warn("assignment_timeout")

	records := readRecords(t, filepath.Join(dir, LogFileName))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0]["component"] != CompResolver {
		t.Errorf("expected component=%s, got %v", CompResolver, records[0]["component"])
	}
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	Logger().Info("filtered")
	Logger().Warn("kept")

	records := readRecords(t, filepath.Join(dir, LogFileName))
	if len(records) != 1 || records[0]["msg"] != "kept" {
		t.Fatalf("expected only the warn record, got %v", records)
	}
}

func TestDebugOverridesLevel(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "error", Debug: true})
	defer Shutdown()

	Logger().Debug("visible_in_debug")

	records := readRecords(t, filepath.Join(dir, LogFileName))
	if len(records) != 1 {
		t.Fatalf("expected debug record, got %d records", len(records))
	}
}

func TestDumpRingBuffer(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, RingBufferSize: 4096})
	defer Shutdown()

	Logger().Info("before_crash")

	dump := filepath.Join(dir, "crash.jsonl")
	if err := DumpRingBuffer(dump); err != nil {
		t.Fatalf("DumpRingBuffer: %v", err)
	}
	records := readRecords(t, dump)
	if len(records) != 1 || records[0]["msg"] != "before_crash" {
		t.Fatalf("unexpected dump contents: %v", records)
	}
}
