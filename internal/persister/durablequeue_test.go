package persister

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/consolidator"
	"github.com/gcu-merk/edge-traffic-monitor/internal/radarsensor"
)

func sampleBatch(correlationID string) []consolidator.ConsolidatedEvent {
	return []consolidator.ConsolidatedEvent{{
		ConsolidationID: "c-" + correlationID,
		CorrelationID:   correlationID,
		TriggerSource:   "radar",
		Timestamp:       time.Now(),
		Radar:           radarsensor.RadarSample{CorrelationID: correlationID, SpeedMPH: 30},
	}}
}

func TestDurableQueue_AppendAndDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q := NewDurableQueue(path)

	if err := q.Append(sampleBatch("a")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := q.Append(sampleBatch("b")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if q.Depth() == 0 {
		t.Error("expected nonzero depth after appends")
	}

	batches, err := q.DrainAll()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 drained batches, got %d", len(batches))
	}
	if batches[0][0].CorrelationID != "a" || batches[1][0].CorrelationID != "b" {
		t.Errorf("expected batches in append order, got %+v", batches)
	}
	if q.Depth() != 0 {
		t.Error("expected queue to be empty after drain")
	}
}

func TestDurableQueue_DrainAllOnMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.jsonl")
	q := NewDurableQueue(path)

	batches, err := q.DrainAll()
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("expected 0 batches, got %d", len(batches))
	}
}
