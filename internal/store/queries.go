package store

import (
	"database/sql"
	"time"
)

// AnchorRow mirrors traffic_detections.
type AnchorRow struct {
	ID            string
	CorrelationID string
	Timestamp     float64
	TriggerSource string
	CreatedAt     time.Time
}

// RadarRow mirrors radar_detections.
type RadarRow struct {
	DetectionID string
	SpeedMPH    float64
	SpeedMPS    float64
	Confidence  sql.NullFloat64
	AlertLevel  string
	Direction   string
}

// CameraRow mirrors camera_detections.
type CameraRow struct {
	DetectionID         string
	VehicleCount        int
	DetectionConfidence sql.NullFloat64
	VehicleTypes        string // JSON-encoded list, spec leaves the encoding open
	InferenceTimeMS     sql.NullInt64
}

// WeatherRow mirrors weather_conditions.
type WeatherRow struct {
	Source      string
	TimeBucket  int64
	Temperature sql.NullFloat64
	Humidity    sql.NullFloat64
	Conditions  sql.NullString
	WindSpeed   sql.NullFloat64
}

// InsertAnchor inserts the traffic_detections row for a consolidated
// event within tx.
func InsertAnchor(tx *sql.Tx, row AnchorRow) error {
	_, err := tx.Exec(
		`INSERT INTO traffic_detections (id, correlation_id, timestamp, trigger_source) VALUES (?, ?, ?, ?)`,
		row.ID, row.CorrelationID, row.Timestamp, row.TriggerSource,
	)
	return err
}

// InsertRadar inserts a radar_detections row within tx.
func InsertRadar(tx *sql.Tx, row RadarRow) error {
	_, err := tx.Exec(
		`INSERT INTO radar_detections (detection_id, speed_mph, speed_mps, confidence, alert_level, direction) VALUES (?, ?, ?, ?, ?, ?)`,
		row.DetectionID, row.SpeedMPH, row.SpeedMPS, row.Confidence, row.AlertLevel, row.Direction,
	)
	return err
}

// InsertCamera inserts a camera_detections row within tx.
func InsertCamera(tx *sql.Tx, row CameraRow) error {
	_, err := tx.Exec(
		`INSERT INTO camera_detections (detection_id, vehicle_count, detection_confidence, vehicle_types, inference_time_ms) VALUES (?, ?, ?, ?, ?)`,
		row.DetectionID, row.VehicleCount, row.DetectionConfidence, row.VehicleTypes, row.InferenceTimeMS,
	)
	return err
}

// UpsertWeather inserts or updates the weather_conditions row keyed by
// (source, time_bucket), returning its id.
func UpsertWeather(tx *sql.Tx, row WeatherRow) (int64, error) {
	_, err := tx.Exec(
		`INSERT INTO weather_conditions (source, time_bucket, temperature, humidity, conditions, wind_speed)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, time_bucket) DO UPDATE SET
		   temperature = excluded.temperature,
		   humidity = excluded.humidity,
		   conditions = excluded.conditions,
		   wind_speed = excluded.wind_speed`,
		row.Source, row.TimeBucket, row.Temperature, row.Humidity, row.Conditions, row.WindSpeed,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(`SELECT id FROM weather_conditions WHERE source = ? AND time_bucket = ?`, row.Source, row.TimeBucket).Scan(&id)
	return id, err
}

// InsertCorrelation links an anchor row to a weather_conditions row
// within tx.
func InsertCorrelation(tx *sql.Tx, detectionID string, weatherID int64, strength float64) error {
	_, err := tx.Exec(
		`INSERT INTO traffic_weather_correlation (detection_id, weather_id, correlation_strength) VALUES (?, ?, ?)`,
		detectionID, weatherID, strength,
	)
	return err
}

// RecentDetection is the joined row shape /traffic/recent and
// /traffic/search return.
type RecentDetection struct {
	ID                  string
	CorrelationID       string
	Timestamp           float64
	TriggerSource       string
	SpeedMPH            sql.NullFloat64
	AlertLevel          sql.NullString
	Direction           sql.NullString
	VehicleCount        sql.NullInt64
	PrimaryVehicleTypes sql.NullString
}

const recentDetectionSelect = `
	SELECT d.id, d.correlation_id, d.timestamp, d.trigger_source,
	       r.speed_mph, r.alert_level, r.direction,
	       c.vehicle_count, c.vehicle_types
	FROM traffic_detections d
	LEFT JOIN radar_detections r ON r.detection_id = d.id
	LEFT JOIN camera_detections c ON c.detection_id = d.id
`

// Recent returns detections within the last `since` duration, most
// recent first, capped at limit rows.
func Recent(db *DB, since time.Duration, limit int) ([]RecentDetection, error) {
	cutoff := float64(time.Now().Add(-since).Unix())
	rows, err := db.Query(recentDetectionSelect+` WHERE d.timestamp >= ? ORDER BY d.timestamp DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecentDetections(rows)
}

// SearchCriteria filters /traffic/search.
type SearchCriteria struct {
	StartUnix   *float64
	EndUnix     *float64
	MinSpeedMPH *float64
	MaxSpeedMPH *float64
	VehicleType *string
	Limit       int
}

// Search returns detections matching all supplied criteria.
func Search(db *DB, crit SearchCriteria) ([]RecentDetection, error) {
	query := recentDetectionSelect + ` WHERE 1 = 1`
	var args []any
	if crit.StartUnix != nil {
		query += ` AND d.timestamp >= ?`
		args = append(args, *crit.StartUnix)
	}
	if crit.EndUnix != nil {
		query += ` AND d.timestamp <= ?`
		args = append(args, *crit.EndUnix)
	}
	if crit.MinSpeedMPH != nil {
		query += ` AND r.speed_mph >= ?`
		args = append(args, *crit.MinSpeedMPH)
	}
	if crit.MaxSpeedMPH != nil {
		query += ` AND r.speed_mph <= ?`
		args = append(args, *crit.MaxSpeedMPH)
	}
	if crit.VehicleType != nil {
		query += ` AND c.vehicle_types LIKE ?`
		args = append(args, "%"+*crit.VehicleType+"%")
	}
	query += ` ORDER BY d.timestamp DESC LIMIT ?`
	args = append(args, crit.Limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecentDetections(rows)
}

func scanRecentDetections(rows *sql.Rows) ([]RecentDetection, error) {
	var out []RecentDetection
	for rows.Next() {
		var d RecentDetection
		if err := rows.Scan(&d.ID, &d.CorrelationID, &d.Timestamp, &d.TriggerSource,
			&d.SpeedMPH, &d.AlertLevel, &d.Direction, &d.VehicleCount, &d.PrimaryVehicleTypes); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SpeedSamples returns the speed_mph column for analytics aggregation
// (mean/variance via gonum.org/v1/gonum/stat in internal/api).
func SpeedSamples(db *DB, since time.Duration) ([]float64, error) {
	cutoff := float64(time.Now().Add(-since).Unix())
	rows, err := db.Query(`
		SELECT r.speed_mph FROM traffic_detections d
		JOIN radar_detections r ON r.detection_id = d.id
		WHERE d.timestamp >= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// MaxID returns the highest rowid in traffic_detections's insertion
// order, used by the Broadcaster's id-based polling. traffic_detections
// uses a TEXT primary key (the consolidation_id), so the broadcaster
// tracks SQLite's implicit rowid instead.
func MaxID(db *DB) (int64, error) {
	var max sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(rowid) FROM traffic_detections`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// BroadcastRow is the compact summary the Broadcaster publishes per
// row, per spec's "(consolidation_id, timestamp, radar_speed,
// primary_vehicle_type, alert_level)".
type BroadcastRow struct {
	RowID              int64
	ConsolidationID    string
	Timestamp          float64
	RadarSpeedMPH      sql.NullFloat64
	PrimaryVehicleType sql.NullString
	AlertLevel         sql.NullString
}

// RowsAfter returns rows with rowid > lastSeenID, ascending, up to limit.
func RowsAfter(db *DB, lastSeenID int64, limit int) ([]BroadcastRow, error) {
	rows, err := db.Query(`
		SELECT d.rowid, d.id, d.timestamp, r.speed_mph, c.vehicle_types, r.alert_level
		FROM traffic_detections d
		LEFT JOIN radar_detections r ON r.detection_id = d.id
		LEFT JOIN camera_detections c ON c.detection_id = d.id
		WHERE d.rowid > ?
		ORDER BY d.rowid ASC
		LIMIT ?`, lastSeenID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastRow
	for rows.Next() {
		var r BroadcastRow
		if err := rows.Scan(&r.RowID, &r.ConsolidationID, &r.Timestamp, &r.RadarSpeedMPH, &r.PrimaryVehicleType, &r.AlertLevel); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
