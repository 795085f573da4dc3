// Package store keeps a SQLite history of decoded telemetry snapshots.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CK6170/roverlink/vehicle"
	_ "modernc.org/sqlite"
)

var ErrNilSnapshot = errors.New("store: nil telemetry snapshot")

const schema = `
CREATE TABLE IF NOT EXISTS telemetry (
   id          INTEGER PRIMARY KEY AUTOINCREMENT,
   family      TEXT NOT NULL,
   received_at BIGINT NOT NULL,
   distance    INTEGER,
   ir_left     INTEGER,
   ir_right    INTEGER,
   battery     REAL,
   heading     INTEGER,
   angle       INTEGER,
   raw_json    TEXT
);
CREATE INDEX IF NOT EXISTS idx_telemetry_time ON telemetry (received_at);
`

// Store wraps the telemetry database.
type Store struct {
	db *sql.DB
}

// Record is one stored snapshot. Readings the car did not report are nil.
type Record struct {
	ID         int64           `json:"id"`
	Family     string          `json:"family"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Distance   *int64          `json:"distance,omitempty"`
	IRLeft     *int64          `json:"irLeft,omitempty"`
	IRRight    *int64          `json:"irRight,omitempty"`
	Battery    *float64        `json:"battery,omitempty"`
	Heading    *int64          `json:"heading,omitempty"`
	Angle      *int64          `json:"angle,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InsertTelemetry stores rs and returns its row id. Battery is stored in
// volts using the given convention.
func (s *Store) InsertTelemetry(ctx context.Context, family vehicle.Family, rs *vehicle.ReceiveState, battery vehicle.BatteryConvention) (int64, error) {
	if rs == nil {
		return 0, ErrNilSnapshot
	}
	raw, err := json.Marshal(rs)
	if err != nil {
		return 0, fmt.Errorf("store: encode snapshot: %w", err)
	}
	var (
		distance, irLeft, irRight, heading, angle sql.NullInt64
		volts                                     sql.NullFloat64
	)
	if rs.Distance != nil {
		distance = sql.NullInt64{Int64: int64(*rs.Distance), Valid: true}
	}
	if rs.IRObstacle != nil {
		irLeft = sql.NullInt64{Int64: int64(rs.IRObstacle.Left), Valid: true}
		irRight = sql.NullInt64{Int64: int64(rs.IRObstacle.Right), Valid: true}
	}
	if rs.BatteryRaw != nil {
		volts = sql.NullFloat64{Float64: battery.Volts(*rs.BatteryRaw), Valid: true}
	}
	if rs.CarHeading != nil {
		heading = sql.NullInt64{Int64: int64(*rs.CarHeading), Valid: true}
	}
	if rs.CarAngle != nil {
		angle = sql.NullInt64{Int64: int64(*rs.CarAngle), Valid: true}
	}
	at := rs.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (family, received_at, distance, ir_left, ir_right, battery, heading, angle, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		family.String(), at.UnixNano(), distance, irLeft, irRight, volts, heading, angle, string(raw))
	if err != nil {
		return 0, fmt.Errorf("store: insert telemetry: %w", err)
	}
	return res.LastInsertId()
}

// RecentTelemetry returns up to n snapshots, newest first.
func (s *Store) RecentTelemetry(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family, received_at, distance, ir_left, ir_right, battery, heading, angle, raw_json
		FROM telemetry ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: query telemetry: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                         Record
			at                                        int64
			distance, irLeft, irRight, heading, angle sql.NullInt64
			volts                                     sql.NullFloat64
			raw                                       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Family, &at, &distance, &irLeft, &irRight, &volts, &heading, &angle, &raw); err != nil {
			return nil, fmt.Errorf("store: scan telemetry: %w", err)
		}
		r.ReceivedAt = time.Unix(0, at)
		r.Distance = nullInt(distance)
		r.IRLeft = nullInt(irLeft)
		r.IRRight = nullInt(irRight)
		r.Heading = nullInt(heading)
		r.Angle = nullInt(angle)
		if volts.Valid {
			v := volts.Float64
			r.Battery = &v
		}
		if raw.Valid && raw.String != "" {
			r.Raw = json.RawMessage(raw.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountTelemetry returns the number of stored snapshots.
func (s *Store) CountTelemetry(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count telemetry: %w", err)
	}
	return n, nil
}

// PruneBefore deletes snapshots received before t.
func (s *Store) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telemetry WHERE received_at < ?`, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: prune telemetry: %w", err)
	}
	return res.RowsAffected()
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	x := v.Int64
	return &x
}
