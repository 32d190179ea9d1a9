// Package radarsensor implements the RadarReader of spec section 4.2: it
// reads framed lines from a serial-backed multiplexer, parses speed,
// classifies alert level, and publishes motion events on the broker.
//
// Grounded on radar/serial.go (port lifecycle, ctx-cancellable read
// loop) and internal/serialmux (multi-subscriber fan-out over one
// physical port, Initialize's startup command sequence — kept verbatim:
// clock/timezone sync, then AX, OJ (JSON mode), OS, oD, OM, oM, OH, OC
// and the two angle-reset commands). Initialize sends no speed-units,
// alert-threshold or alert-enable command, so the module reports in
// its own configured unit.
package radarsensor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/correlation"
	"github.com/gcu-merk/edge-traffic-monitor/internal/serialmux"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
	"github.com/gcu-merk/edge-traffic-monitor/internal/units"
)

// Broker channel and key names this component owns.
const (
	ChannelRadar  = "traffic:radar"
	ChannelAlert  = "traffic:alert"
	KeyLatest     = "radar:latest"
	historyPrefix = "radar:history:"

	latestTTL = 5 * time.Minute
	historyTTL = 24 * time.Hour
)

// Direction is the sign of a radar sample's native speed value.
type Direction string

const (
	DirectionApproaching Direction = "approaching"
	DirectionReceding    Direction = "receding"
	DirectionStationary  Direction = "stationary"
)

// AlertLevel is derived deterministically from |speed| and two
// configured thresholds.
type AlertLevel string

const (
	AlertNormal AlertLevel = "normal"
	AlertLow    AlertLevel = "low"
	AlertHigh   AlertLevel = "high"
)

// ClassifyAlert is a pure function of absSpeedMPH and the two
// thresholds: equal samples always classify equally (testable
// invariant 4), and a sample exactly at a threshold belongs to that
// threshold's level.
func ClassifyAlert(absSpeedMPH, lowThreshold, highThreshold float64) AlertLevel {
	switch {
	case absSpeedMPH >= highThreshold:
		return AlertHigh
	case absSpeedMPH >= lowThreshold:
		return AlertLow
	default:
		return AlertNormal
	}
}

// RadarSample is the event published on traffic:radar and embedded
// verbatim into a ConsolidatedEvent.
type RadarSample struct {
	Timestamp     time.Time  `json:"timestamp"`
	CorrelationID string     `json:"correlation_id"`
	Speed         float64    `json:"speed"`          // signed, native units
	SpeedMPH      float64    `json:"speed_mph"`      // converted, non-negative
	Magnitude     float64    `json:"magnitude"`
	Direction     Direction  `json:"direction"`
	AlertLevel    AlertLevel `json:"alert_level"`
}

// Config tunes Reader behavior. cmd/edge-monitor runs the reader with
// DefaultConfig; no flag or environment variable sets these fields.
type Config struct {
	NativeUnit      string        // default unit for bare-numeric frames: "mps", "fps", or "mph"
	MotionThreshold float64       // mph; below this, no publish/consolidation (default 2)
	LowThreshold    float64       // mph (default 15)
	HighThreshold   float64       // mph (default 45)
	ReopenBackoff   time.Duration // backoff between Monitor retries after a serial error
}

// DefaultConfig returns spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		NativeUnit:      "mps",
		MotionThreshold: 2,
		LowThreshold:    15,
		HighThreshold:   45,
		ReopenBackoff:   2 * time.Second,
	}
}

// Reader is the RadarReader component.
type Reader struct {
	mux serialmux.SerialMuxInterface
	b   broker.Broker
	cfg Config
	log telemetry.Logger

	parseErrors int64
}

// New constructs a Reader over an already-open serial multiplexer.
func New(mux serialmux.SerialMuxInterface, b broker.Broker, cfg Config) *Reader {
	return &Reader{mux: mux, b: b, cfg: cfg, log: telemetry.For("radar")}
}

// SendCommand forwards command to the device if it is in AllowedCommands.
func (r *Reader) SendCommand(command string) error {
	if !IsAllowedCommand(command) {
		return fmt.Errorf("command %q is not in the allow-list", command)
	}
	return r.mux.SendCommand(command)
}

// IsAllowedCommand reports whether cmd is a recognized OPS243 command.
func IsAllowedCommand(cmd string) bool {
	for _, c := range AllowedCommands {
		if c == cmd {
			return true
		}
	}
	return false
}

// Run initializes the device (best-effort) and processes frames until
// ctx is cancelled. Serial read errors surface from Monitor; the caller
// is expected to reopen the port and call Run again after the
// configured backoff, matching the Disconnected -> Connecting ->
// Reading -> Backoff state machine called for by the redesign notes.
func (r *Reader) Run(ctx context.Context) error {
	if err := r.mux.Initialize(); err != nil {
		r.log.WithEvent("radar_initialize_failed").Warn().Err(err).Msg("device did not acknowledge startup commands; continuing")
	}

	id, lines := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- r.mux.Monitor(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-monitorErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			r.handleLine(line)
		}
	}
}

func (r *Reader) handleLine(line string) {
	frame, err := ParseFrame(line, r.cfg.NativeUnit)
	if err != nil {
		r.parseErrors++
		r.log.Debug().Str("line", line).Err(err).Msg("dropping unparsable radar frame")
		return
	}

	speedMPH := toMPH(frame.Value, frame.Unit)
	absMPH := speedMPH
	if absMPH < 0 {
		absMPH = -absMPH
	}

	direction := DirectionStationary
	switch {
	case frame.Value > 0:
		direction = DirectionApproaching
	case frame.Value < 0:
		direction = DirectionReceding
	}

	sample := RadarSample{
		Timestamp:  time.Now(),
		Speed:      frame.Value,
		SpeedMPH:   absMPH,
		Magnitude:  frame.Magnitude,
		Direction:  direction,
		AlertLevel: ClassifyAlert(absMPH, r.cfg.LowThreshold, r.cfg.HighThreshold),
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to encode radar sample")
		return
	}
	r.b.Set(KeyLatest, payload, latestTTL)

	if absMPH < r.cfg.MotionThreshold {
		return
	}

	sample.CorrelationID = correlation.NewRadarID()
	payload, err = json.Marshal(sample)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to encode radar sample")
		return
	}

	r.b.Set(KeyLatest, payload, latestTTL)
	r.b.Publish(ChannelRadar, payload)

	historyKey := historyPrefix + sample.Timestamp.UTC().Format("20060102")
	r.b.ZAdd(historyKey, float64(sample.Timestamp.Unix()), payload, historyTTL)

	r.log.WithCorrelation(sample.CorrelationID).WithEvent("radar_motion_detected").Info().
		Float64("speed_mph", sample.SpeedMPH).
		Str("alert_level", string(sample.AlertLevel)).
		Msg("motion event published")

	if sample.AlertLevel == AlertHigh {
		alert := map[string]any{
			"correlation_id": sample.CorrelationID,
			"speed_mph":      strconv.FormatFloat(sample.SpeedMPH, 'f', 1, 64),
			"alert_level":    sample.AlertLevel,
			"timestamp":      sample.Timestamp,
		}
		if ap, err := json.Marshal(alert); err == nil {
			r.b.Publish(ChannelAlert, ap)
		}
	}
}

// toMPH normalizes a raw reading in its native unit to mph, the unit
// this reader's samples and alert thresholds are expressed in.
// Delegates to internal/units so the mps/fps/mph factors live in one
// place shared with the API's display-unit conversion. Readings already
// in mph are returned unchanged, without a round trip through mps.
func toMPH(value float64, unit string) float64 {
	if unit == units.MPH {
		return value
	}
	return units.ConvertSpeed(units.ConvertToMPS(value, unit), units.MPH)
}
