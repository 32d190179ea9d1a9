// Package broadcaster implements the Broadcaster of spec section 4.7:
// it polls the store for newly persisted rows and republishes a
// compact summary of each on the broker, so API WebSocket clients learn
// about persisted detections without touching the store directly.
//
// Grounded on original_source/realtime_events_broadcaster.py's
// poll-for-new-rows-by-id / batch-cap / LRU-guard shape, translated
// into the teacher's own ticker-loop idiom (a ticker + select over
// ctx.Done, as used throughout internal/db.TransitWorker), with the
// ticker taken from an injected timeutil.Clock.
package broadcaster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
	"github.com/gcu-merk/edge-traffic-monitor/internal/timeutil"
)

// ChannelPersisted is the broker channel this component publishes on.
const ChannelPersisted = "traffic:persisted"

// PersistedSummary is the compact record published per row, per spec's
// "(consolidation_id, timestamp, radar_speed, primary_vehicle_type,
// alert_level)".
type PersistedSummary struct {
	ConsolidationID    string  `json:"consolidation_id"`
	Timestamp          float64 `json:"timestamp"`
	RadarSpeedMPH      float64 `json:"radar_speed_mph,omitempty"`
	PrimaryVehicleType string  `json:"primary_vehicle_type,omitempty"`
	AlertLevel         string  `json:"alert_level,omitempty"`
}

// Config tunes polling behavior.
type Config struct {
	Interval time.Duration
	BatchCap int
	LRUSize  int // bound on the recently-broadcast-id guard
}

// DefaultConfig returns spec's documented defaults: poll every 1s, cap
// 50 rows per poll.
func DefaultConfig() Config {
	return Config{Interval: time.Second, BatchCap: 50, LRUSize: 1000}
}

// Broadcaster is the Broadcaster component.
type Broadcaster struct {
	b     broker.Broker
	db    *store.DB
	cfg   Config
	clock timeutil.Clock
	log   telemetry.Logger

	lastSeenID int64
	seen       *lru
}

// New constructs a Broadcaster starting from rowid 0, so it broadcasts
// every row already in the store on its first polls. The LRU guard and
// lastSeenID live in memory only: they prevent re-emission within one
// Broadcaster's lifetime, but a new Broadcaster (for example after a
// process restart) starts empty and re-broadcasts rows that an earlier
// one already published.
func New(b broker.Broker, db *store.DB, cfg Config) *Broadcaster {
	return NewWithClock(b, db, cfg, timeutil.RealClock{})
}

// NewWithClock constructs a Broadcaster against an injected clock, so
// tests can drive its poll loop with a timeutil.MockClock instead of
// waiting on real 1s ticks.
func NewWithClock(b broker.Broker, db *store.DB, cfg Config, clock timeutil.Clock) *Broadcaster {
	return &Broadcaster{b: b, db: db, cfg: cfg, clock: clock, log: telemetry.For("broadcaster"), seen: newLRU(cfg.LRUSize)}
}

// Run polls on a fixed interval until ctx is cancelled.
func (br *Broadcaster) Run(ctx context.Context) error {
	ticker := br.clock.NewTicker(br.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			br.pollOnce()
		}
	}
}

func (br *Broadcaster) pollOnce() {
	rows, err := store.RowsAfter(br.db, br.lastSeenID, br.cfg.BatchCap)
	if err != nil {
		br.log.Warn().Err(err).Msg("failed to poll store for new rows")
		return
	}

	for _, row := range rows {
		if br.seen.Contains(row.ConsolidationID) {
			continue
		}
		br.seen.Add(row.ConsolidationID)

		summary := PersistedSummary{
			ConsolidationID:    row.ConsolidationID,
			Timestamp:          row.Timestamp,
			RadarSpeedMPH:      row.RadarSpeedMPH.Float64,
			PrimaryVehicleType: row.PrimaryVehicleType.String,
			AlertLevel:         row.AlertLevel.String,
		}
		payload, err := json.Marshal(summary)
		if err != nil {
			br.log.Error().Err(err).Msg("failed to encode persisted summary")
			continue
		}
		br.b.Publish(ChannelPersisted, payload)

		if row.RowID > br.lastSeenID {
			br.lastSeenID = row.RowID
		}
	}
}
