// Package weather implements the LocalWeatherReader and
// RemoteWeatherReader of spec section 4.4: fixed-interval samplers that
// write "latest reading" snapshots (and, for the remote source, a
// bounded time-series) to the broker.
//
// Grounded on tannerryan-davisweather's polling-loop idiom (a
// time.NewTimer plus select over ctx.Done, each fetch bounded by an
// explicit timeout) and on original_source's dht_22_weather_service.py
// / airport_weather_service_enhanced.py for field semantics: both C and
// F are stored, a missing remote humidity stays absent rather than
// becoming zero (other fields missing from a station's feed are stored
// as zero), and a local/remote correlation snapshot is written on every
// successful remote poll.
package weather

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

// Broker keys this package owns.
const (
	KeyLocalLatest        = "weather:dht22:latest"
	KeyRemoteLatest       = "weather:airport:latest"
	KeyRemoteTimeseries   = "weather:airport:timeseries"
	KeyCorrelation        = "weather:correlation:local_remote"

	remoteTimeseriesWindow = 24 * time.Hour
)

// LocalSensor abstracts the on-board temperature/humidity sensor (a
// DHT22 or similar one-wire part in the reference deployment) so the
// reader is testable without GPIO hardware.
type LocalSensor interface {
	// Read returns a fresh temperature (Celsius) and relative humidity
	// (percent) sample, or an error if the sensor could not be read.
	Read(ctx context.Context) (temperatureC, humidityPct float64, err error)
}

// LocalReading is the hash snapshot written to KeyLocalLatest.
type LocalReading struct {
	Timestamp      time.Time `json:"timestamp"`
	TemperatureC   float64   `json:"temperature_c"`
	TemperatureF   float64   `json:"temperature_f"`
	HumidityPct    float64   `json:"humidity_pct"`
}

// LocalReader is the LocalWeatherReader component.
type LocalReader struct {
	sensor   LocalSensor
	b        broker.Broker
	interval time.Duration
	log      telemetry.Logger
}

// NewLocalReader constructs a LocalReader sampling sensor every
// interval (spec default 300s).
func NewLocalReader(sensor LocalSensor, b broker.Broker, interval time.Duration) *LocalReader {
	return &LocalReader{sensor: sensor, b: b, interval: interval, log: telemetry.For("weather-local")}
}

// Run samples on a fixed interval until ctx is cancelled. A failed
// sample is logged as degraded and does not overwrite the previous
// latest reading.
func (r *LocalReader) Run(ctx context.Context) error {
	timer := time.NewTimer(0) // sample immediately on start
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			r.sampleOnce(ctx)
			timer.Reset(r.interval)
		}
	}
}

func (r *LocalReader) sampleOnce(ctx context.Context) {
	tempC, humidity, err := r.sensor.Read(ctx)
	if err != nil {
		r.log.WithEvent("local_weather_read_failed").Warn().Err(err).Msg("local sensor read failed; keeping prior snapshot")
		return
	}

	reading := LocalReading{
		Timestamp:    time.Now(),
		TemperatureC: tempC,
		TemperatureF: celsiusToFahrenheit(tempC),
		HumidityPct:  humidity,
	}
	r.b.HSet(KeyLocalLatest, localHashFields(reading), 0)
	r.log.WithEvent("local_weather_sampled").Debug().
		Float64("temperature_c", tempC).Float64("humidity_pct", humidity).Msg("local weather sampled")
}

func celsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

func localHashFields(r LocalReading) map[string][]byte {
	return map[string][]byte{
		"timestamp":     []byte(strconv.FormatInt(r.Timestamp.Unix(), 10)),
		"temperature_c": []byte(strconv.FormatFloat(r.TemperatureC, 'f', -1, 64)),
		"temperature_f": []byte(strconv.FormatFloat(r.TemperatureF, 'f', -1, 64)),
		"humidity_pct":  []byte(strconv.FormatFloat(r.HumidityPct, 'f', -1, 64)),
	}
}

// LocalReadingFromHash reconstructs a LocalReading from broker hash
// fields, returning ok=false if the fields are absent or malformed.
func LocalReadingFromHash(fields map[string][]byte) (LocalReading, bool) {
	var r LocalReading
	ts, err := strconv.ParseInt(string(fields["timestamp"]), 10, 64)
	if err != nil {
		return r, false
	}
	r.Timestamp = time.Unix(ts, 0).UTC()
	r.TemperatureC, _ = strconv.ParseFloat(string(fields["temperature_c"]), 64)
	r.TemperatureF, _ = strconv.ParseFloat(string(fields["temperature_f"]), 64)
	r.HumidityPct, _ = strconv.ParseFloat(string(fields["humidity_pct"]), 64)
	return r, true
}

// marshalForLog is a small helper kept for parity with other readers
// that publish a JSON event alongside their hash snapshot; local
// weather has no dedicated broker channel in spec's closed set, so
// nothing in this module calls it.
func marshalForLog(r LocalReading) []byte {
	b, _ := json.Marshal(r)
	return b
}
