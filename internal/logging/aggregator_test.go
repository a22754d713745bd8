package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestAggregatorStopFlushesSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agg.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	agg := NewAggregator(slog.New(slog.NewJSONHandler(f, nil)), 60)
	agg.Start()

	agg.Record(CompResolver, "lookup_retry", slog.Int64("tab_id", 3))
	agg.Record(CompResolver, "lookup_retry", slog.Int64("tab_id", 4))
	agg.Record(CompView, "tab_updated")

	if got := agg.Pending(CompResolver, "lookup_retry"); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	agg.Stop()
	_ = f.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	start := 0
	for i, b := range data {
		if b != '\n' {
			continue
		}
		var r map[string]any
		if err := json.Unmarshal(data[start:i], &r); err == nil && r["event"] == "lookup_retry" {
			found = true
			if r["count"] != float64(2) {
				t.Errorf("count = %v, want 2", r["count"])
			}
			if r["tab_id"] != float64(4) {
				t.Errorf("tab_id = %v, want last writer 4", r["tab_id"])
			}
		}
		start = i + 1
	}
	if !found {
		t.Fatal("lookup_retry summary not written")
	}
	if agg.Pending(CompResolver, "lookup_retry") != 0 {
		t.Error("entries should be cleared after flush")
	}
}

func TestAggregatorNilLoggerAndDoubleStop(t *testing.T) {
	agg := NewAggregator(nil, 1)
	agg.Start()
	agg.Record(CompThumb, "capture_ok")
	agg.Stop()
	agg.Stop()
}
