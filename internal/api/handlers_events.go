package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
	"github.com/gcu-merk/edge-traffic-monitor/internal/units"
	"gonum.org/v1/gonum/stat"
)

// resolveDisplayUnits reads the optional "units" query parameter,
// defaulting to mph (the unit detections are persisted in), and
// validates it against internal/units' recognized display units.
func resolveDisplayUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return units.MPH, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("must be one of: %s", units.GetValidUnitsString())
	}
	return u, nil
}

type healthResponse struct {
	Status           string  `json:"status"`
	BrokerReachable  bool    `json:"broker_reachable"`
	StoreReachable   bool    `json:"store_reachable"`
	LastPersistedAt  float64 `json:"last_persisted_at,omitempty"`
	Timestamp        float64 `json:"timestamp"`
	CorrelationID    string  `json:"correlation_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	storeOK := s.db.Reachable()

	resp := healthResponse{
		BrokerReachable: true, // the in-process broker has no failure mode to probe
		StoreReachable:  storeOK,
		Timestamp:       nowUnix(),
		CorrelationID:   reqID,
	}
	if maxID, err := store.MaxID(s.db); err == nil && maxID > 0 {
		if rows, err := store.RowsAfter(s.db, maxID-1, 1); err == nil && len(rows) > 0 {
			resp.LastPersistedAt = rows[0].Timestamp
		}
	}

	status := http.StatusOK
	resp.Status = "ok"
	if !storeOK {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", reqID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to encode health response")
	}
}

type detectionView struct {
	ID                  string  `json:"id"`
	CorrelationID       string  `json:"correlation_id"`
	Timestamp           float64 `json:"timestamp"`
	TriggerSource       string  `json:"trigger_source"`
	Speed               float64 `json:"speed,omitempty"`
	SpeedUnits          string  `json:"speed_units,omitempty"`
	AlertLevel          string  `json:"alert_level,omitempty"`
	Direction           string  `json:"direction,omitempty"`
	VehicleCount        int64   `json:"vehicle_count,omitempty"`
	PrimaryVehicleTypes string  `json:"vehicle_types,omitempty"`
}

// toDetectionView projects a stored row (persisted in mph) to the
// caller's requested display unit.
func toDetectionView(d store.RecentDetection, displayUnits string) detectionView {
	var speed float64
	if d.SpeedMPH.Valid {
		speed = units.ConvertSpeed(units.ConvertToMPS(d.SpeedMPH.Float64, units.MPH), displayUnits)
	}
	return detectionView{
		ID:                  d.ID,
		CorrelationID:       d.CorrelationID,
		Timestamp:           d.Timestamp,
		TriggerSource:       d.TriggerSource,
		Speed:               speed,
		SpeedUnits:          displayUnits,
		AlertLevel:          d.AlertLevel.String,
		Direction:           d.Direction.String,
		VehicleCount:        d.VehicleCount.Int64,
		PrimaryVehicleTypes: d.PrimaryVehicleTypes.String,
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	hours, err := parseIntParam(r, "hours", 24, 1, 168)
	if err != nil {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, err.Error(), "hours")
		return
	}
	limit, err := parseIntParam(r, "limit", 100, 1, 1000)
	if err != nil {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, err.Error(), "limit")
		return
	}
	displayUnits, err := resolveDisplayUnits(r)
	if err != nil {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, err.Error(), "units")
		return
	}

	rows, dbErr := store.Recent(s.db, time.Duration(hours)*time.Hour, limit)
	if dbErr != nil {
		writeJSONError(w, s.log, reqID, http.StatusInternalServerError, errInternal, "failed to query recent detections", "")
		return
	}

	views := make([]detectionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toDetectionView(row, displayUnits))
	}
	writeJSON(w, reqID, map[string]any{"detections": views, "count": len(views)})
}

type dailySummary struct {
	Date         string  `json:"date"`
	Count        int     `json:"count"`
	AvgSpeedMPH  float64 `json:"avg_speed_mph"`
	MaxSpeedMPH  float64 `json:"max_speed_mph"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	days, err := parseIntParam(r, "days", 7, 1, 30)
	if err != nil {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, err.Error(), "days")
		return
	}

	rows, dbErr := store.Recent(s.db, time.Duration(days)*24*time.Hour, 100000)
	if dbErr != nil {
		writeJSONError(w, s.log, reqID, http.StatusInternalServerError, errInternal, "failed to query detections for summary", "")
		return
	}

	byDay := make(map[string][]float64)
	for _, row := range rows {
		day := time.Unix(int64(row.Timestamp), 0).UTC().Format("2006-01-02")
		if row.SpeedMPH.Valid {
			byDay[day] = append(byDay[day], row.SpeedMPH.Float64)
		} else {
			byDay[day] = append(byDay[day], 0)
		}
	}

	summaries := make([]dailySummary, 0, len(byDay))
	for day, speeds := range byDay {
		max := 0.0
		for _, v := range speeds {
			if v > max {
				max = v
			}
		}
		summaries = append(summaries, dailySummary{
			Date:        day,
			Count:       len(speeds),
			AvgSpeedMPH: stat.Mean(speeds, nil),
			MaxSpeedMPH: max,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Date < summaries[j].Date })

	writeJSON(w, reqID, map[string]any{"daily_summary": summaries})
}

type analyticsResponse struct {
	Period               string             `json:"period"`
	Count                int                `json:"count"`
	MeanSpeedMPH         float64            `json:"mean_speed_mph"`
	MinSpeedMPH          float64            `json:"min_speed_mph"`
	MaxSpeedMPH          float64            `json:"max_speed_mph"`
	StddevSpeedMPH       float64            `json:"stddev_speed_mph"`
	CountOverSpeedLimit  int                `json:"count_over_speed_limit"`
	HourlyDistribution   map[int]int        `json:"hourly_distribution"`
	VehicleTypeDistribution map[string]int  `json:"vehicle_type_distribution"`
}

// speedLimitMPH is the threshold used for count_over_speed_limit; spec
// leaves the limit value itself out of scope for this endpoint's
// contract, so a single fixed constant stands in for a site-specific
// policy; it is not read from config.
const speedLimitMPH = 25.0

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	period := r.URL.Query().Get("period")
	var window time.Duration
	switch period {
	case "", "day":
		period = "day"
		window = 24 * time.Hour
	case "week":
		window = 7 * 24 * time.Hour
	case "month":
		window = 30 * 24 * time.Hour
	default:
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "must be one of: day, week, month", "period")
		return
	}

	rows, dbErr := store.Recent(s.db, window, 1000000)
	if dbErr != nil {
		writeJSONError(w, s.log, reqID, http.StatusInternalServerError, errInternal, "failed to query detections for analytics", "")
		return
	}

	speeds, overLimit := []float64{}, 0
	hourly := make(map[int]int)
	vehicleTypes := make(map[string]int)
	for _, row := range rows {
		if row.SpeedMPH.Valid {
			speeds = append(speeds, row.SpeedMPH.Float64)
			if row.SpeedMPH.Float64 > speedLimitMPH {
				overLimit++
			}
		}
		hour := time.Unix(int64(row.Timestamp), 0).UTC().Hour()
		hourly[hour]++
		if row.PrimaryVehicleTypes.Valid && row.PrimaryVehicleTypes.String != "" {
			for _, vt := range strings.Split(row.PrimaryVehicleTypes.String, ",") {
				vehicleTypes[strings.TrimSpace(vt)]++
			}
		}
	}

	resp := analyticsResponse{
		Period:                  period,
		Count:                   len(rows),
		CountOverSpeedLimit:     overLimit,
		HourlyDistribution:      hourly,
		VehicleTypeDistribution: vehicleTypes,
	}
	if len(speeds) > 0 {
		mean, variance := stat.MeanVariance(speeds, nil)
		resp.MeanSpeedMPH = mean
		resp.StddevSpeedMPH = sqrtNonNegative(variance)
		resp.MinSpeedMPH, resp.MaxSpeedMPH = minMax(speeds)
	}
	writeJSON(w, reqID, resp)
}

func minMax(vs []float64) (min, max float64) {
	min, max = vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	q := r.URL.Query()

	crit := store.SearchCriteria{Limit: 100}
	haveCriterion := false

	if v := q.Get("start_date"); v != "" {
		ts, err := parseDateParam(v)
		if err != nil {
			writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "must be an RFC3339 timestamp or unix seconds", "start_date")
			return
		}
		crit.StartUnix = &ts
		haveCriterion = true
	}
	if v := q.Get("end_date"); v != "" {
		ts, err := parseDateParam(v)
		if err != nil {
			writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "must be an RFC3339 timestamp or unix seconds", "end_date")
			return
		}
		crit.EndUnix = &ts
		haveCriterion = true
	}
	if v := q.Get("min_speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "must be a number", "min_speed")
			return
		}
		crit.MinSpeedMPH = &f
		haveCriterion = true
	}
	if v := q.Get("max_speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "must be a number", "max_speed")
			return
		}
		crit.MaxSpeedMPH = &f
		haveCriterion = true
	}
	if v := q.Get("vehicle_type"); v != "" {
		crit.VehicleType = &v
		haveCriterion = true
	}
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 || l > 1000 {
			writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "must be between 1 and 1000", "limit")
			return
		}
		crit.Limit = l
	}

	if !haveCriterion {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "at least one search criterion is required", "")
		return
	}
	if crit.MinSpeedMPH != nil && crit.MaxSpeedMPH != nil && *crit.MinSpeedMPH > *crit.MaxSpeedMPH {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, "min_speed must not be greater than max_speed", "min_speed")
		return
	}
	displayUnits, err := resolveDisplayUnits(r)
	if err != nil {
		writeJSONError(w, s.log, reqID, http.StatusBadRequest, errInvalidParameter, err.Error(), "units")
		return
	}

	rows, dbErr := store.Search(s.db, crit)
	if dbErr != nil {
		writeJSONError(w, s.log, reqID, http.StatusInternalServerError, errInternal, "failed to execute search", "")
		return
	}

	views := make([]detectionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toDetectionView(row, displayUnits))
	}
	writeJSON(w, reqID, map[string]any{"detections": views, "count": len(views)})
}

func parseDateParam(v string) (float64, error) {
	if unixSecs, err := strconv.ParseFloat(v, 64); err == nil {
		return unixSecs, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	return float64(t.Unix()), nil
}

func sqrtNonNegative(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

func writeJSON(w http.ResponseWriter, reqID string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", reqID)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
