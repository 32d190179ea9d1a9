package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_FreshDatabaseCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'traffic_detections'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected traffic_detections table to exist, got count %d", count)
	}

	migFS, err := migrations()
	if err != nil {
		t.Fatalf("failed to load embedded migrations: %v", err)
	}
	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("failed to get migration version: %v", err)
	}
	if dirty {
		t.Error("expected fresh database to not be dirty")
	}
	if version != 1 {
		t.Errorf("expected baseline version 1, got %d", version)
	}
}

func TestInsertAnchorAndRadar_Roundtrip(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	anchor := AnchorRow{ID: "c-1", CorrelationID: "r-1", Timestamp: float64(time.Now().Unix()), TriggerSource: "radar"}
	if err := InsertAnchor(tx, anchor); err != nil {
		t.Fatalf("InsertAnchor failed: %v", err)
	}
	radar := RadarRow{DetectionID: "c-1", SpeedMPH: 32.5, SpeedMPS: 14.5, AlertLevel: "low", Direction: "approaching"}
	if err := InsertRadar(tx, radar); err != nil {
		t.Fatalf("InsertRadar failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	recent, err := Recent(db, time.Hour, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent detection, got %d", len(recent))
	}
	if recent[0].ID != "c-1" {
		t.Errorf("expected id c-1, got %q", recent[0].ID)
	}
	if !recent[0].SpeedMPH.Valid || recent[0].SpeedMPH.Float64 != 32.5 {
		t.Errorf("expected speed_mph 32.5, got %+v", recent[0].SpeedMPH)
	}
}

func TestUpsertWeather_UpdatesSameBucket(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	id1, err := UpsertWeather(tx, WeatherRow{Source: "dht22", TimeBucket: 1000, Temperature: sql.NullFloat64{Float64: 20, Valid: true}})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	id2, err := UpsertWeather(tx, WeatherRow{Source: "dht22", TimeBucket: 1000, Temperature: sql.NullFloat64{Float64: 21, Valid: true}})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same row id for same (source, time_bucket), got %d and %d", id1, id2)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	var temp float64
	if err := db.QueryRow(`SELECT temperature FROM weather_conditions WHERE id = ?`, id1).Scan(&temp); err != nil {
		t.Fatalf("failed to query weather row: %v", err)
	}
	if temp != 21 {
		t.Errorf("expected updated temperature 21, got %v", temp)
	}
}

func TestMaxIDAndRowsAfter(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("failed to begin tx: %v", err)
		}
		id := string(rune('a' + i))
		if err := InsertAnchor(tx, AnchorRow{ID: id, CorrelationID: id, Timestamp: float64(1000 + i), TriggerSource: "radar"}); err != nil {
			t.Fatalf("InsertAnchor failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit failed: %v", err)
		}
	}

	max, err := MaxID(db)
	if err != nil {
		t.Fatalf("MaxID failed: %v", err)
	}
	if max != 3 {
		t.Fatalf("expected max rowid 3, got %d", max)
	}

	rows, err := RowsAfter(db, 1, 10)
	if err != nil {
		t.Fatalf("RowsAfter failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after id 1, got %d", len(rows))
	}
}
