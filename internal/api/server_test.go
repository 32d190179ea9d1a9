package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
	"github.com/gcu-merk/edge-traffic-monitor/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	b := broker.New()
	t.Cleanup(b.Close)
	return NewServer(b, db, CORSConfig{AllowedOrigins: []string{"*"}}), db
}

func insertDetection(t *testing.T, db *store.DB, id string, speedMPH float64, ts time.Time) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := store.InsertAnchor(tx, store.AnchorRow{ID: id, CorrelationID: id, Timestamp: float64(ts.Unix()), TriggerSource: "radar"}); err != nil {
		t.Fatalf("insert anchor failed: %v", err)
	}
	if err := store.InsertRadar(tx, store.RadarRow{DetectionID: id, SpeedMPH: speedMPH, AlertLevel: "low", Direction: "approaching"}); err != nil {
		t.Fatalf("insert radar failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestHandleHealth_ReportsStoreReachable(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if !resp.StoreReachable {
		t.Error("expected store_reachable true")
	}
}

func TestHandleRecent_ReturnsInsertedDetections(t *testing.T) {
	s, db := newTestServer(t)
	insertDetection(t, db, "d-1", 32.5, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/traffic/recent?hours=1&limit=10", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Detections []detectionView `json:"detections"`
		Count      int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 1 || body.Detections[0].ID != "d-1" {
		t.Fatalf("expected 1 detection d-1, got %+v", body)
	}
}

func TestHandleRecent_ConvertsSpeedToRequestedUnits(t *testing.T) {
	s, db := newTestServer(t)
	insertDetection(t, db, "d-kph", 10, time.Now()) // 10 mph

	req := testutil.NewTestRequest(http.MethodGet, "/traffic/recent?hours=1&limit=10&units=kph")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var body struct {
		Detections []detectionView `json:"detections"`
	}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	if len(body.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %+v", body.Detections)
	}
	got := body.Detections[0]
	if got.SpeedUnits != "kph" {
		t.Errorf("expected speed_units kph, got %q", got.SpeedUnits)
	}
	// 10 mph is about 16.09 kph.
	if got.Speed < 16.0 || got.Speed > 16.2 {
		t.Errorf("expected speed near 16.09 kph, got %v", got.Speed)
	}
}

func TestHandleRecent_RejectsInvalidUnits(t *testing.T) {
	s, _ := newTestServer(t)
	req := testutil.NewTestRequest(http.MethodGet, "/traffic/recent?units=lightyears")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestHandleRecent_RejectsOutOfRangeHours(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/traffic/recent?hours=500", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error.Field != "hours" {
		t.Errorf("expected field hours, got %q", body.Error.Field)
	}
}

func TestHandleSearch_RequiresAtLeastOneCriterion(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/traffic/search", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSearch_RejectsMinSpeedAboveMaxSpeed(t *testing.T) {
	s, _ := newTestServer(t)
	req := testutil.NewTestRequest(http.MethodGet, "/traffic/search?min_speed=50&max_speed=30")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestHandleSearch_FiltersBySpeed(t *testing.T) {
	s, db := newTestServer(t)
	insertDetection(t, db, "slow", 15, time.Now())
	insertDetection(t, db, "fast", 45, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/traffic/search?min_speed=30", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body struct {
		Detections []detectionView `json:"detections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Detections) != 1 || body.Detections[0].ID != "fast" {
		t.Fatalf("expected only the fast detection, got %+v", body.Detections)
	}
}

func TestCORS_PreflightAdvertisesAllowedMethods(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/traffic/recent", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("unexpected Allow-Methods header: %q", got)
	}
}
