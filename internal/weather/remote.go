package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/httputil"
	"github.com/gcu-merk/edge-traffic-monitor/internal/pipelineerr"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

// stationObservation is the subset of the upstream airport/METAR feed
// this reader consumes, modeled on airport_weather_service_enhanced.py's
// parsed fields: temperature, wind, visibility, and a short textual
// conditions summary. Fields absent from a given station's feed are
// left at their zero value rather than invented.
type stationObservation struct {
	TemperatureC float64  `json:"temp_c"`
	HumidityPct  *float64 `json:"humidity_pct"` // nil when the station omits it
	WindSpeedKPH float64  `json:"wind_kph"`
	WindDirDeg   float64  `json:"wind_dir_deg"`
	VisibilityKM float64  `json:"visibility_km"`
	Conditions   string   `json:"conditions"`
	ObservedAt   string   `json:"observed_at"` // RFC3339, upstream-supplied
}

// RemoteReading is the hash snapshot written to KeyRemoteLatest and the
// member encoded into the KeyRemoteTimeseries zset.
type RemoteReading struct {
	Timestamp    time.Time `json:"timestamp"`
	StationID    string    `json:"station_id"`
	TemperatureC float64   `json:"temperature_c"`
	TemperatureF float64   `json:"temperature_f"`
	HumidityPct  *float64  `json:"humidity_pct,omitempty"` // nil when the station didn't report it
	WindSpeedKPH float64   `json:"wind_speed_kph"`
	WindDirDeg   float64   `json:"wind_dir_deg"`
	VisibilityKM float64   `json:"visibility_km"`
	Conditions   string    `json:"conditions"`
}

// RemoteReaderConfig configures the RemoteReader.
type RemoteReaderConfig struct {
	StationID  string
	URL        string // fully-formed endpoint for StationID's current observation
	Interval   time.Duration
	FetchLimit time.Duration // per-request timeout
}

// DefaultRemoteReaderConfig returns spec's default: poll every 600s, 10s
// per-request timeout.
func DefaultRemoteReaderConfig(stationID, url string) RemoteReaderConfig {
	return RemoteReaderConfig{
		StationID:  stationID,
		URL:        url,
		Interval:   600 * time.Second,
		FetchLimit: 10 * time.Second,
	}
}

// RemoteReader is the RemoteWeatherReader component: it polls a
// station's current-conditions endpoint and writes both a latest-value
// hash and a 24h-bounded time-series, plus a local/remote correlation
// snapshot when a local reading is available.
//
// Grounded on tannerryan-davisweather's fetch-on-timer loop (bounded
// per-request context, degrade-and-retry-next-tick on error) adapted
// to this pipeline's broker-backed snapshot and zset idiom instead of
// davisweather's own in-memory cache.
type RemoteReader struct {
	cfg    RemoteReaderConfig
	client httputil.HTTPClient
	b      broker.Broker
	log    telemetry.Logger
}

// NewRemoteReader constructs a RemoteReader.
func NewRemoteReader(client httputil.HTTPClient, b broker.Broker, cfg RemoteReaderConfig) *RemoteReader {
	return &RemoteReader{cfg: cfg, client: client, b: b, log: telemetry.For("weather-remote")}
}

// Run polls on a fixed interval until ctx is cancelled.
func (r *RemoteReader) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			r.pollOnce(ctx)
			timer.Reset(r.cfg.Interval)
		}
	}
}

func (r *RemoteReader) pollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchLimit)
	defer cancel()

	reading, err := r.fetch(reqCtx)
	if err != nil {
		// A failed station fetch never halts this reader: degrade by
		// keeping the last-known snapshot and retrying on the next
		// tick, so the pipeline as a whole doesn't depend on the
		// weather API's uptime.
		err = pipelineerr.Wrap(pipelineerr.Degraded, "fetch", err)
		r.log.WithEvent("remote_weather_fetch_failed").Warn().Err(err).
			Str("station_id", r.cfg.StationID).Str("kind", pipelineerr.KindOf(err).String()).
			Msg("remote weather fetch failed; keeping prior snapshot")
		return
	}

	r.b.HSet(KeyRemoteLatest, remoteHashFields(reading), 0)
	r.b.ZAdd(KeyRemoteTimeseries, float64(reading.Timestamp.Unix()), remoteTimeseriesMember(reading), remoteTimeseriesWindow)

	cutoff := float64(time.Now().Add(-remoteTimeseriesWindow).Unix())
	r.b.ZRemRangeByScore(KeyRemoteTimeseries, 0, cutoff)

	r.writeCorrelation(reading)

	r.log.WithEvent("remote_weather_sampled").Debug().
		Str("station_id", reading.StationID).Float64("temperature_c", reading.TemperatureC).
		Msg("remote weather sampled")
}

func (r *RemoteReader) fetch(ctx context.Context) (RemoteReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return RemoteReading{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return RemoteReading{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RemoteReading{}, fmt.Errorf("station %s returned status %d", r.cfg.StationID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RemoteReading{}, err
	}
	var obs stationObservation
	if err := json.Unmarshal(body, &obs); err != nil {
		return RemoteReading{}, fmt.Errorf("station %s: unparsable observation: %w", r.cfg.StationID, err)
	}

	observedAt, err := time.Parse(time.RFC3339, obs.ObservedAt)
	if err != nil {
		observedAt = time.Now()
	}

	return RemoteReading{
		Timestamp:    observedAt,
		StationID:    r.cfg.StationID,
		TemperatureC: obs.TemperatureC,
		TemperatureF: celsiusToFahrenheit(obs.TemperatureC),
		HumidityPct:  obs.HumidityPct,
		WindSpeedKPH: obs.WindSpeedKPH,
		WindDirDeg:   obs.WindDirDeg,
		VisibilityKM: obs.VisibilityKM,
		Conditions:   obs.Conditions,
	}, nil
}

// writeCorrelation records a diagnostic snapshot comparing this remote
// reading against the most recent local reading, when one exists. This
// has no consumer in the consolidator itself; it exists for operators
// diagning local-vs-station sensor drift, per spec's correlation
// diagnostic note.
func (r *RemoteReader) writeCorrelation(remote RemoteReading) {
	localFields, ok := r.b.HGetAll(KeyLocalLatest)
	if !ok {
		return
	}
	local, ok := LocalReadingFromHash(localFields)
	if !ok {
		return
	}

	delta := local.TemperatureC - remote.TemperatureC
	r.b.HSet(KeyCorrelation, map[string][]byte{
		"timestamp":            []byte(strconv.FormatInt(time.Now().Unix(), 10)),
		"local_temperature_c":  []byte(strconv.FormatFloat(local.TemperatureC, 'f', -1, 64)),
		"remote_temperature_c": []byte(strconv.FormatFloat(remote.TemperatureC, 'f', -1, 64)),
		"delta_c":              []byte(strconv.FormatFloat(delta, 'f', -1, 64)),
		"station_id":           []byte(remote.StationID),
	}, 0)
}

func remoteHashFields(r RemoteReading) map[string][]byte {
	fields := map[string][]byte{
		"timestamp":      []byte(strconv.FormatInt(r.Timestamp.Unix(), 10)),
		"station_id":     []byte(r.StationID),
		"temperature_c":  []byte(strconv.FormatFloat(r.TemperatureC, 'f', -1, 64)),
		"temperature_f":  []byte(strconv.FormatFloat(r.TemperatureF, 'f', -1, 64)),
		"wind_speed_kph": []byte(strconv.FormatFloat(r.WindSpeedKPH, 'f', -1, 64)),
		"wind_dir_deg":   []byte(strconv.FormatFloat(r.WindDirDeg, 'f', -1, 64)),
		"visibility_km":  []byte(strconv.FormatFloat(r.VisibilityKM, 'f', -1, 64)),
		"conditions":     []byte(r.Conditions),
	}
	// humidity_pct is omitted rather than written as "0" when the
	// station didn't report it, so RemoteReadingFromHash can tell a
	// missing reading apart from a genuine 0%.
	if r.HumidityPct != nil {
		fields["humidity_pct"] = []byte(strconv.FormatFloat(*r.HumidityPct, 'f', -1, 64))
	}
	return fields
}

// RemoteReadingFromHash reconstructs a RemoteReading from broker hash
// fields.
func RemoteReadingFromHash(fields map[string][]byte) (RemoteReading, bool) {
	var r RemoteReading
	ts, err := strconv.ParseInt(string(fields["timestamp"]), 10, 64)
	if err != nil {
		return r, false
	}
	r.Timestamp = time.Unix(ts, 0).UTC()
	r.StationID = string(fields["station_id"])
	r.TemperatureC, _ = strconv.ParseFloat(string(fields["temperature_c"]), 64)
	r.TemperatureF, _ = strconv.ParseFloat(string(fields["temperature_f"]), 64)
	if raw, ok := fields["humidity_pct"]; ok {
		if h, err := strconv.ParseFloat(string(raw), 64); err == nil {
			r.HumidityPct = &h
		}
	}
	r.WindSpeedKPH, _ = strconv.ParseFloat(string(fields["wind_speed_kph"]), 64)
	r.WindDirDeg, _ = strconv.ParseFloat(string(fields["wind_dir_deg"]), 64)
	r.VisibilityKM, _ = strconv.ParseFloat(string(fields["visibility_km"]), 64)
	r.Conditions = string(fields["conditions"])
	return r, true
}

// remoteTimeseriesMember encodes a RemoteReading as the zset member
// payload so a ZRangeByScore reader can decode full readings (with
// RemoteReadingFromTimeseriesMember) rather than bare temperatures.
func remoteTimeseriesMember(r RemoteReading) []byte {
	b, _ := json.Marshal(r)
	return b
}

// RemoteReadingFromTimeseriesMember decodes a member returned by
// ZRangeByScore(KeyRemoteTimeseries, ...).
func RemoteReadingFromTimeseriesMember(member []byte) (RemoteReading, error) {
	var r RemoteReading
	err := json.Unmarshal(member, &r)
	return r, err
}
