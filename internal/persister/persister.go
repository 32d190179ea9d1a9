// Package persister implements the Persister of spec section 4.6: it
// subscribes to traffic:consolidated, batches events by size or time,
// and writes each batch to the store in a single transaction.
//
// Grounded on internal/db.TransitWorker's Start/Stop/ticker-driven
// periodic-run shape, generalized from a fixed-interval rescan to a
// size-or-time-triggered flush, and on
// original_source/data-collection/data-persister/data_persister.py for
// the "one transaction, five inserts, commit" shape.
package persister

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/consolidator"
	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

const (
	// KeyStats is the broker hash updated after every flush.
	KeyStats = "stats:persister"

	defaultBatchSize  = 100
	defaultBatchAge   = 5 * time.Second
	weatherBucketSecs = 5 * 60
)

// Config tunes batching behavior.
type Config struct {
	BatchSize     int
	BatchAge      time.Duration
	QueuePath     string // durable queue file used when both a flush and its retry fail
}

// DefaultConfig returns spec's documented defaults.
func DefaultConfig(queuePath string) Config {
	return Config{BatchSize: defaultBatchSize, BatchAge: defaultBatchAge, QueuePath: queuePath}
}

// Persister is the Persister component.
type Persister struct {
	b     broker.Broker
	db    *store.DB
	cfg   Config
	queue *DurableQueue
	log   telemetry.Logger

	totalPersisted int64
}

// New constructs a Persister.
func New(b broker.Broker, db *store.DB, cfg Config) *Persister {
	return &Persister{
		b:     b,
		db:    db,
		cfg:   cfg,
		queue: NewDurableQueue(cfg.QueuePath),
		log:   telemetry.For("persister"),
	}
}

// Run subscribes to traffic:consolidated and flushes batches until ctx
// is cancelled, at which point any partial batch is flushed once more
// before returning.
func (p *Persister) Run(ctx context.Context) error {
	id, events := p.b.Subscribe(consolidator.ChannelConsolidated)
	defer p.b.Unsubscribe(consolidator.ChannelConsolidated, id)

	p.drainDurableQueue()

	timer := time.NewTimer(p.cfg.BatchAge)
	defer timer.Stop()
	var batch []consolidator.ConsolidatedEvent

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flushWithRetry(batch)
		batch = nil
		timer.Reset(p.cfg.BatchAge)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case <-timer.C:
			flush()
		case payload, ok := <-events:
			if !ok {
				flush()
				return nil
			}
			var event consolidator.ConsolidatedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				p.log.Warn().Err(err).Msg("dropping unparsable consolidated event")
				continue
			}
			batch = append(batch, event)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		}
	}
}

// flushWithRetry attempts to commit batch once, retries once on
// failure, and on a second failure durably queues the batch instead of
// losing it. No event is acknowledged as persisted until committed or
// durably queued.
func (p *Persister) flushWithRetry(batch []consolidator.ConsolidatedEvent) {
	err := p.commitBatch(batch)
	if err == nil {
		p.recordSuccess(len(batch))
		return
	}
	p.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch commit failed, retrying once")

	err = p.commitBatch(batch)
	if err == nil {
		p.recordSuccess(len(batch))
		return
	}

	p.log.Error().Err(err).Int("batch_size", len(batch)).Msg("batch commit failed twice, durably queueing")
	if qerr := p.queue.Append(batch); qerr != nil {
		p.log.Error().Err(qerr).Msg("failed to append batch to durable queue; events are lost")
	}
	p.updateStats(len(batch))
}

func (p *Persister) commitBatch(batch []consolidator.ConsolidatedEvent) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, event := range batch {
		if err := writeEvent(tx, event); err != nil {
			return fmt.Errorf("consolidation_id %s: %w", event.ConsolidationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// writeEvent performs the insert sequence spec section 4.6 describes:
// anchor, then radar/camera children, then one weather upsert + link
// row per present weather source.
func writeEvent(tx *sql.Tx, event consolidator.ConsolidatedEvent) error {
	if err := store.InsertAnchor(tx, store.AnchorRow{
		ID:            event.ConsolidationID,
		CorrelationID: event.CorrelationID,
		Timestamp:     float64(event.Timestamp.Unix()),
		TriggerSource: event.TriggerSource,
	}); err != nil {
		return fmt.Errorf("insert anchor: %w", err)
	}

	if err := store.InsertRadar(tx, store.RadarRow{
		DetectionID: event.ConsolidationID,
		SpeedMPH:    event.Radar.SpeedMPH,
		SpeedMPS:    event.Radar.Speed,
		AlertLevel:  string(event.Radar.AlertLevel),
		Direction:   string(event.Radar.Direction),
	}); err != nil {
		return fmt.Errorf("insert radar: %w", err)
	}

	if event.Camera != nil {
		typesJSON, _ := json.Marshal([]string{event.Camera.PrimaryVehicleType})
		if err := store.InsertCamera(tx, store.CameraRow{
			DetectionID:         event.ConsolidationID,
			VehicleCount:        event.Camera.VehicleCount,
			DetectionConfidence: sql.NullFloat64{Float64: event.Camera.DetectionConfidence, Valid: true},
			VehicleTypes:        string(typesJSON),
		}); err != nil {
			return fmt.Errorf("insert camera: %w", err)
		}
	}

	if event.LocalWeather != nil {
		if err := writeWeatherLink(tx, event.ConsolidationID, "dht22", event.Timestamp, *event.LocalWeather); err != nil {
			return err
		}
	}
	if event.RemoteWeather != nil {
		if err := writeWeatherLink(tx, event.ConsolidationID, "airport", event.Timestamp, *event.RemoteWeather); err != nil {
			return err
		}
	}

	return nil
}

func writeWeatherLink(tx *sql.Tx, detectionID, source string, ts time.Time, snap consolidator.WeatherSnapshot) error {
	bucket := (ts.Unix() / weatherBucketSecs) * weatherBucketSecs
	humidity := sql.NullFloat64{Valid: snap.HumidityPct != nil}
	if snap.HumidityPct != nil {
		humidity.Float64 = *snap.HumidityPct
	}
	weatherID, err := store.UpsertWeather(tx, store.WeatherRow{
		Source:      source,
		TimeBucket:  bucket,
		Temperature: sql.NullFloat64{Float64: snap.TemperatureC, Valid: true},
		Humidity:    humidity,
	})
	if err != nil {
		return fmt.Errorf("upsert weather (%s): %w", source, err)
	}
	if err := store.InsertCorrelation(tx, detectionID, weatherID, 1.0); err != nil {
		return fmt.Errorf("insert weather correlation (%s): %w", source, err)
	}
	return nil
}

func (p *Persister) drainDurableQueue() {
	batches, err := p.queue.DrainAll()
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to read durable queue on startup")
		return
	}
	for _, batch := range batches {
		if err := p.commitBatch(batch); err != nil {
			p.log.Error().Err(err).Msg("failed to replay durable queue batch; re-queueing")
			p.queue.Append(batch)
			continue
		}
		p.recordSuccess(len(batch))
	}
}

func (p *Persister) recordSuccess(n int) {
	p.totalPersisted += int64(n)
	p.updateStats(n)
}

func (p *Persister) updateStats(batchSize int) {
	p.b.HSet(KeyStats, map[string][]byte{
		"batch_size":          []byte(fmt.Sprintf("%d", batchSize)),
		"total_persisted":     []byte(fmt.Sprintf("%d", p.totalPersisted)),
		"last_flush_at":       []byte(fmt.Sprintf("%d", time.Now().Unix())),
		"durable_queue_depth": []byte(fmt.Sprintf("%d", p.queue.Depth())),
	}, 0)
}
