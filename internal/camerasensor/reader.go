package camerasensor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

// Channel and key names this component owns.
const (
	ChannelCamera = "traffic:camera"
	KeyLatest     = "camera:latest"

	// RawDetectionsChannel is the broker-channel delivery substrate for
	// the external inference process, one of the two implementation
	// choices spec section 4.3 allows (the other is filedrop.go's
	// directory watcher). It is internal plumbing, not one of the
	// closed public channels in spec section 4.1's table.
	RawDetectionsChannel = "camera:raw:detections"

	latestTTL = 10 * time.Second
)

// Detection is one bounding box the external inference process reports.
type Detection struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionBatch is one inference pass over a single frame.
type DetectionBatch struct {
	Timestamp    time.Time   `json:"timestamp"`
	ImageWidth   float64     `json:"image_width"`
	ImageHeight  float64     `json:"image_height"`
	Detections   []Detection `json:"detections"`
}

// Classification is the event published on traffic:camera and held as
// camera:latest.
type Classification struct {
	Timestamp           time.Time     `json:"timestamp"`
	VehicleCount        int           `json:"vehicle_count"`
	PrimaryVehicleType  string        `json:"primary_vehicle_type"`
	DetectionConfidence float64       `json:"detection_confidence"`
	BoundingBoxes       []BoundingBox `json:"bounding_boxes"`
}

// Config tunes Reader behavior.
type Config struct {
	ROI             ROI
	VehicleClasses  []string
}

// DefaultConfig returns permissive defaults (full frame, all vehicle classes).
func DefaultConfig() Config {
	return Config{ROI: DefaultROI(), VehicleClasses: DefaultVehicleClasses()}
}

// Reader is the CameraReader component.
type Reader struct {
	b   broker.Broker
	cfg Config
	log telemetry.Logger
}

// New constructs a Reader.
func New(b broker.Broker, cfg Config) *Reader {
	return &Reader{b: b, cfg: cfg, log: telemetry.For("camera")}
}

// Run subscribes to the broker's raw-detections channel and processes
// each batch until ctx is cancelled. Use this when the external
// inference process delivers over the broker rather than a file drop.
func (r *Reader) Run(ctx context.Context) error {
	id, raw := r.b.Subscribe(RawDetectionsChannel)
	defer r.b.Unsubscribe(RawDetectionsChannel, id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-raw:
			if !ok {
				return nil
			}
			var batch DetectionBatch
			if err := json.Unmarshal(payload, &batch); err != nil {
				r.log.Warn().Err(err).Msg("dropping unparsable detection batch")
				continue
			}
			r.Process(batch)
		}
	}
}

// Process filters batch by ROI and vehicle-class whitelist, then
// publishes the resulting Classification and updates camera:latest.
// Exported so both Run (broker substrate) and the file-drop watcher
// share identical filtering logic.
func (r *Reader) Process(batch DetectionBatch) Classification {
	var surviving []Detection
	for _, d := range batch.Detections {
		if !isWhitelisted(d.Class, r.cfg.VehicleClasses) {
			continue
		}
		if !r.cfg.ROI.Contains(d.BBox, batch.ImageWidth, batch.ImageHeight) {
			continue
		}
		surviving = append(surviving, d)
	}

	cls := Classification{
		Timestamp:          batch.Timestamp,
		VehicleCount:       len(surviving),
		PrimaryVehicleType: string(ClassUnknown),
	}

	var best *Detection
	for i := range surviving {
		if best == nil || surviving[i].Confidence > best.Confidence {
			best = &surviving[i]
		}
		cls.BoundingBoxes = append(cls.BoundingBoxes, surviving[i].BBox)
	}
	if best != nil {
		cls.PrimaryVehicleType = best.Class
		cls.DetectionConfidence = best.Confidence
	}

	payload, err := json.Marshal(cls)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to encode camera classification")
		return cls
	}

	r.b.HSet(KeyLatest, hashFieldsFor(cls), latestTTL)
	r.b.Publish(ChannelCamera, payload)

	r.log.WithEvent("camera_classification").Info().
		Int("vehicle_count", cls.VehicleCount).
		Str("primary_vehicle_type", cls.PrimaryVehicleType).
		Msg("classification published")

	return cls
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func hashFieldsFor(cls Classification) map[string][]byte {
	boxesJSON, _ := json.Marshal(cls.BoundingBoxes)
	return map[string][]byte{
		"timestamp":            []byte(strconv.FormatInt(cls.Timestamp.Unix(), 10)),
		"count":                []byte(strconv.Itoa(cls.VehicleCount)),
		"primary_vehicle_type": []byte(cls.PrimaryVehicleType),
		"confidence":           []byte(strconv.FormatFloat(cls.DetectionConfidence, 'f', -1, 64)),
		"bounding_boxes":       boxesJSON,
	}
}

// ClassificationFromHash reconstructs a Classification from the fields
// HSet wrote to camera:latest. Used by the Consolidator, which only
// ever reads this snapshot — it never requests a fresh frame.
func ClassificationFromHash(fields map[string][]byte) (Classification, error) {
	var cls Classification
	ts, err := strconv.ParseInt(string(fields["timestamp"]), 10, 64)
	if err != nil {
		return cls, fmt.Errorf("invalid timestamp field: %w", err)
	}
	cls.Timestamp = timeFromUnix(ts)

	count, err := strconv.Atoi(string(fields["count"]))
	if err != nil {
		return cls, fmt.Errorf("invalid count field: %w", err)
	}
	cls.VehicleCount = count
	cls.PrimaryVehicleType = string(fields["primary_vehicle_type"])

	if conf, err := strconv.ParseFloat(string(fields["confidence"]), 64); err == nil {
		cls.DetectionConfidence = conf
	}
	if len(fields["bounding_boxes"]) > 0 {
		_ = json.Unmarshal(fields["bounding_boxes"], &cls.BoundingBoxes)
	}
	return cls, nil
}
