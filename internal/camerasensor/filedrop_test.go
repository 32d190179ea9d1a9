package camerasensor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/fsutil"
)

func TestFileDropWatcher_ProcessesAndRemovesFiles(t *testing.T) {
	b := broker.New()
	defer b.Close()

	mem := fsutil.NewMemoryFileSystem()
	reader := New(b, DefaultConfig())
	watcher := NewFileDropWatcher(mem, "/drop", 10*time.Millisecond, reader)

	batch := DetectionBatch{
		Timestamp:   time.Now(),
		ImageWidth:  100,
		ImageHeight: 100,
		Detections:  []Detection{{Class: "car", Confidence: 0.8, BBox: BoundingBox{10, 10, 20, 20}}},
	}
	data, _ := json.Marshal(batch)
	if err := mem.WriteFile("/drop/batch1.json", data, 0o644); err != nil {
		t.Fatalf("failed to seed drop file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = watcher.Run(ctx)

	if mem.Exists("/drop/batch1.json") {
		t.Error("expected processed drop file to be removed")
	}

	fields, ok := b.HGetAll(KeyLatest)
	if !ok {
		t.Fatal("expected camera:latest to be populated from the drop file")
	}
	if string(fields["primary_vehicle_type"]) != "car" {
		t.Errorf("unexpected primary_vehicle_type: %q", fields["primary_vehicle_type"])
	}
}
