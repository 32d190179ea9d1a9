// Package consolidator implements the Consolidator of spec section 4.5:
// it subscribes to radar motion events and, for each, assembles a single
// consolidated record from whatever camera and weather snapshots are
// currently fresh enough in the broker.
//
// Grounded on the assembly algorithm itself rather than on the teacher's
// archived data_fusion_engine.py: that file tracks continuous
// bounding-box/velocity state across frames via a Kalman filter, which
// this component's "no camera wait-loop, read whatever is latest"
// design replaces outright. The per-event idempotency/dispatch shape is
// grounded on internal/db.TransitWorker.RunRange's window-dedup-then-
// insert idiom, translated from a periodic SQL sweep into a per-event
// goroutine off the subscription loop.
package consolidator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/camerasensor"
	"github.com/gcu-merk/edge-traffic-monitor/internal/correlation"
	"github.com/gcu-merk/edge-traffic-monitor/internal/radarsensor"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
	"github.com/gcu-merk/edge-traffic-monitor/internal/weather"
)

// Broker channel and key names this component owns.
const (
	ChannelConsolidated = "traffic:consolidated"
	KeyLatest           = "consolidation:latest"
	KeyHistory          = "consolidation:history"

	latestTTL  = time.Hour
	historyTTL = 48 * time.Hour

	idempotencyWindow = 60 * time.Second

	producerVersion = "edge-traffic-monitor"
)

// WeatherSnapshot is a nullable-by-absence embedding of one weather
// source's latest reading in a ConsolidatedEvent.
type WeatherSnapshot struct {
	Source       string   `json:"source"` // "dht22" or "airport"
	TemperatureC float64  `json:"temperature_c"`
	TemperatureF float64  `json:"temperature_f"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"` // nil when the source didn't report it
}

// ProcessingMetadata records which sources actually contributed to a
// ConsolidatedEvent, for downstream diagnostics.
type ProcessingMetadata struct {
	ProducerVersion string   `json:"producer_version"`
	SourcesPresent  []string `json:"sources_present"`
}

// ConsolidatedEvent is the record published on traffic:consolidated and
// the unit of work the Persister writes to the store.
type ConsolidatedEvent struct {
	ConsolidationID string                       `json:"consolidation_id"`
	CorrelationID   string                        `json:"correlation_id"`
	TriggerSource   string                        `json:"trigger_source"`
	Timestamp       time.Time                     `json:"timestamp"`
	Radar           radarsensor.RadarSample       `json:"radar"`
	Camera          *camerasensor.Classification  `json:"camera,omitempty"`
	LocalWeather    *WeatherSnapshot              `json:"local_weather,omitempty"`
	RemoteWeather   *WeatherSnapshot              `json:"remote_weather,omitempty"`
	Metadata        ProcessingMetadata            `json:"metadata"`
}

// StalenessConfig tunes the per-source freshness bounds of window
// assembly.
type StalenessConfig struct {
	Camera        time.Duration
	LocalWeather  time.Duration
	RemoteWeather time.Duration
}

// DefaultStalenessConfig returns spec's documented defaults: camera 2s,
// local weather 15min, remote weather 60min.
func DefaultStalenessConfig() StalenessConfig {
	return StalenessConfig{
		Camera:        2 * time.Second,
		LocalWeather:  15 * time.Minute,
		RemoteWeather: 60 * time.Minute,
	}
}

// Consolidator is the Consolidator component.
type Consolidator struct {
	b         broker.Broker
	staleness StalenessConfig
	log       telemetry.Logger

	mu   sync.Mutex
	seen map[string]time.Time // correlation_id -> consolidated-at, for the 60s idempotency window
}

// New constructs a Consolidator.
func New(b broker.Broker, staleness StalenessConfig) *Consolidator {
	return &Consolidator{
		b:         b,
		staleness: staleness,
		log:       telemetry.For("consolidator"),
		seen:      make(map[string]time.Time),
	}
}

// Run subscribes to traffic:radar and dispatches each motion event to
// its own goroutine, per spec's "handled independently and in parallel"
// ordering note. Run returns when ctx is cancelled, after waiting for
// in-flight dispatches to finish.
func (c *Consolidator) Run(ctx context.Context) error {
	id, events := c.b.Subscribe(radarsensor.ChannelRadar)
	defer c.b.Unsubscribe(radarsensor.ChannelRadar, id)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var sample radarsensor.RadarSample
			if err := json.Unmarshal(payload, &sample); err != nil {
				c.log.Warn().Err(err).Msg("dropping unparsable radar sample")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(sample)
			}()
		}
	}
}

func (c *Consolidator) handle(sample radarsensor.RadarSample) {
	if c.alreadyConsolidated(sample.CorrelationID) {
		c.log.WithCorrelation(sample.CorrelationID).WithEvent("consolidation_deduplicated").
			Debug().Msg("correlation_id already consolidated within idempotency window")
		return
	}

	event := c.assemble(sample)
	c.emit(event)
}

// alreadyConsolidated reports whether correlationID was consolidated
// within the last 60s, recording this attempt if not. Also opportunely
// evicts stale entries so the map does not grow unbounded.
func (c *Consolidator) alreadyConsolidated(correlationID string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, at := range c.seen {
		if now.Sub(at) > idempotencyWindow {
			delete(c.seen, id)
		}
	}

	if at, ok := c.seen[correlationID]; ok && now.Sub(at) <= idempotencyWindow {
		return true
	}
	c.seen[correlationID] = now
	return false
}

func (c *Consolidator) assemble(sample radarsensor.RadarSample) ConsolidatedEvent {
	event := ConsolidatedEvent{
		ConsolidationID: correlation.NewConsolidationID(),
		CorrelationID:   sample.CorrelationID,
		TriggerSource:   "radar",
		Timestamp:       sample.Timestamp,
		Radar:           sample,
		Metadata:        ProcessingMetadata{ProducerVersion: producerVersion, SourcesPresent: []string{"radar"}},
	}

	if cls, ok := c.freshCamera(sample.Timestamp); ok {
		event.Camera = &cls
		event.Metadata.SourcesPresent = append(event.Metadata.SourcesPresent, "camera")
	}
	if snap, ok := c.freshLocalWeather(sample.Timestamp); ok {
		event.LocalWeather = &snap
		event.Metadata.SourcesPresent = append(event.Metadata.SourcesPresent, "weather_local")
	}
	if snap, ok := c.freshRemoteWeather(sample.Timestamp); ok {
		event.RemoteWeather = &snap
		event.Metadata.SourcesPresent = append(event.Metadata.SourcesPresent, "weather_remote")
	}

	return event
}

func (c *Consolidator) freshCamera(radarTime time.Time) (camerasensor.Classification, bool) {
	fields, ok := c.b.HGetAll(camerasensor.KeyLatest)
	if !ok {
		return camerasensor.Classification{}, false
	}
	cls, err := camerasensor.ClassificationFromHash(fields)
	if err != nil {
		return camerasensor.Classification{}, false
	}
	if !withinBound(cls.Timestamp, radarTime, c.staleness.Camera) {
		return camerasensor.Classification{}, false
	}
	return cls, true
}

func (c *Consolidator) freshLocalWeather(radarTime time.Time) (WeatherSnapshot, bool) {
	fields, ok := c.b.HGetAll(weather.KeyLocalLatest)
	if !ok {
		return WeatherSnapshot{}, false
	}
	reading, ok := weather.LocalReadingFromHash(fields)
	if !ok || !withinBound(reading.Timestamp, radarTime, c.staleness.LocalWeather) {
		return WeatherSnapshot{}, false
	}
	humidity := reading.HumidityPct
	return WeatherSnapshot{
		Source:       "dht22",
		TemperatureC: reading.TemperatureC,
		TemperatureF: reading.TemperatureF,
		HumidityPct:  &humidity,
	}, true
}

func (c *Consolidator) freshRemoteWeather(radarTime time.Time) (WeatherSnapshot, bool) {
	fields, ok := c.b.HGetAll(weather.KeyRemoteLatest)
	if !ok {
		return WeatherSnapshot{}, false
	}
	reading, ok := weather.RemoteReadingFromHash(fields)
	if !ok || !withinBound(reading.Timestamp, radarTime, c.staleness.RemoteWeather) {
		return WeatherSnapshot{}, false
	}
	return WeatherSnapshot{
		Source:       "airport",
		TemperatureC: reading.TemperatureC,
		TemperatureF: reading.TemperatureF,
		HumidityPct:  reading.HumidityPct,
	}, true
}

func withinBound(snapshotTime, referenceTime time.Time, bound time.Duration) bool {
	delta := referenceTime.Sub(snapshotTime)
	if delta < 0 {
		delta = -delta
	}
	return delta <= bound
}

func (c *Consolidator) emit(event ConsolidatedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode consolidated event")
		return
	}

	c.b.Publish(ChannelConsolidated, payload)
	c.b.Set(KeyLatest, payload, latestTTL)
	c.b.ZAdd(KeyHistory, float64(event.Timestamp.Unix()), payload, historyTTL)

	c.log.WithCorrelation(event.CorrelationID).WithEvent("event_consolidated").Info().
		Str("consolidation_id", event.ConsolidationID).
		Strs("sources_present", event.Metadata.SourcesPresent).
		Msg("consolidated event emitted")
}
