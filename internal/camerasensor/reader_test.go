package camerasensor

import (
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
)

func TestProcess_FiltersByROIAndWhitelist(t *testing.T) {
	b := broker.New()
	defer b.Close()

	cfg := Config{
		ROI:            ROI{XStart: 0.4, XEnd: 0.6, YStart: 0.4, YEnd: 0.6},
		VehicleClasses: DefaultVehicleClasses(),
	}
	r := New(b, cfg)

	batch := DetectionBatch{
		Timestamp:   time.Now(),
		ImageWidth:  100,
		ImageHeight: 100,
		Detections: []Detection{
			{Class: "car", Confidence: 0.9, BBox: BoundingBox{40, 40, 60, 60}},   // center in ROI
			{Class: "truck", Confidence: 0.95, BBox: BoundingBox{0, 0, 10, 10}}, // center out of ROI
			{Class: "bicycle", Confidence: 0.99, BBox: BoundingBox{45, 45, 55, 55}}, // not whitelisted
		},
	}

	cls := r.Process(batch)
	if cls.VehicleCount != 1 {
		t.Fatalf("expected 1 surviving detection, got %d", cls.VehicleCount)
	}
	if cls.PrimaryVehicleType != "car" {
		t.Fatalf("expected primary type car, got %q", cls.PrimaryVehicleType)
	}
}

// TestProcess_EmptyResultIsUnknown covers the boundary behavior:
// "Camera classification with empty ROI-filtered list -> camera:latest
// set with count 0, primary_vehicle_type unknown".
func TestProcess_EmptyResultIsUnknown(t *testing.T) {
	b := broker.New()
	defer b.Close()

	r := New(b, DefaultConfig())
	cls := r.Process(DetectionBatch{Timestamp: time.Now(), ImageWidth: 100, ImageHeight: 100})

	if cls.VehicleCount != 0 {
		t.Errorf("expected vehicle count 0, got %d", cls.VehicleCount)
	}
	if cls.PrimaryVehicleType != string(ClassUnknown) {
		t.Errorf("expected unknown primary type, got %q", cls.PrimaryVehicleType)
	}

	fields, ok := b.HGetAll(KeyLatest)
	if !ok {
		t.Fatal("expected camera:latest to be set even for an empty result")
	}
	decoded, err := ClassificationFromHash(fields)
	if err != nil {
		t.Fatalf("failed to decode camera:latest: %v", err)
	}
	if decoded.VehicleCount != 0 || decoded.PrimaryVehicleType != string(ClassUnknown) {
		t.Errorf("unexpected decoded snapshot: %+v", decoded)
	}
}

func TestROIContains(t *testing.T) {
	roi := ROI{XStart: 0.25, XEnd: 0.75, YStart: 0.25, YEnd: 0.75}
	inside := BoundingBox{40, 40, 60, 60}
	outside := BoundingBox{0, 0, 10, 10}

	if !roi.Contains(inside, 100, 100) {
		t.Error("expected inside box to be contained")
	}
	if roi.Contains(outside, 100, 100) {
		t.Error("expected outside box to be excluded")
	}
}
