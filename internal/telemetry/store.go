package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/device"
	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/database"
)

// Store persists readings.
type Store interface {
	// Record inserts readings and, when state is non-nil, overwrites the
	// device state, all in one transaction. The returned readings carry
	// their assigned ids.
	Record(ctx context.Context, dev *device.Device, readings []Reading, state *device.State, at time.Time) ([]Reading, error)

	// LatestByDevice returns up to limit readings of a device, newest first.
	LatestByDevice(ctx context.Context, deviceID int64, limit int) ([]Reading, error)

	// List returns readings newest first, optionally filtered by device name.
	List(ctx context.Context, q Query) ([]Reading, error)

	// CountByHome returns the number of readings recorded for a home.
	CountByHome(ctx context.Context, homeID int64) (int, error)

	// LastByHome returns the newest reading of a home, or nil.
	LastByHome(ctx context.Context, homeID int64) (*Reading, error)
}

// Query filters Store.List.
type Query struct {
	Device string
	Limit  int
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a new SQLite-backed reading store.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const readingSelect = `
	SELECT r.id, r.device_id, d.name, r.home_id, r.measure, r.value, r.unit, r.timestamp
	FROM readings r
	JOIN devices d ON d.id = r.device_id`

// Record inserts readings and the state change atomically.
func (s *SQLiteStore) Record(ctx context.Context, dev *device.Device, readings []Reading, state *device.State, at time.Time) ([]Reading, error) {
	out := append([]Reading(nil), readings...)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range out {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO readings (device_id, home_id, measure, value, unit, timestamp)
				VALUES (?, ?, ?, ?, ?, ?)`,
				dev.ID, dev.HomeID, string(out[i].Measure), out[i].Value, out[i].Unit,
				database.FormatTime(out[i].Timestamp),
			)
			if err != nil {
				return fmt.Errorf("inserting %s reading: %w", out[i].Measure, err)
			}
			if out[i].ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("reading id: %w", err)
			}
		}

		if state != nil {
			if err := device.SaveState(ctx, tx, dev.ID, *state, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LatestByDevice returns up to limit readings of a device, newest first.
func (s *SQLiteStore) LatestByDevice(ctx context.Context, deviceID int64, limit int) ([]Reading, error) {
	return s.query(ctx, readingSelect+`
		WHERE r.device_id = ?
		ORDER BY r.timestamp DESC, r.id DESC
		LIMIT ?`, deviceID, limit)
}

// List returns readings newest first, optionally filtered by device name.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Reading, error) {
	if q.Device != "" {
		return s.query(ctx, readingSelect+`
			WHERE d.name = ?
			ORDER BY r.timestamp DESC, r.id DESC
			LIMIT ?`, q.Device, q.Limit)
	}
	return s.query(ctx, readingSelect+`
		ORDER BY r.timestamp DESC, r.id DESC
		LIMIT ?`, q.Limit)
}

// CountByHome returns the number of readings recorded for a home.
func (s *SQLiteStore) CountByHome(ctx context.Context, homeID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings WHERE home_id = ?`, homeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return n, nil
}

// LastByHome returns the newest reading of a home, or nil when there is none.
func (s *SQLiteStore) LastByHome(ctx context.Context, homeID int64) (*Reading, error) {
	row := s.db.QueryRowContext(ctx, readingSelect+`
		WHERE r.home_id = ?
		ORDER BY r.timestamp DESC, r.id DESC
		LIMIT 1`, homeID)
	r, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying last reading: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(scanner rowScanner) (*Reading, error) {
	var r Reading
	var measure, ts string
	if err := scanner.Scan(&r.ID, &r.DeviceID, &r.Device, &r.HomeID, &measure, &r.Value, &r.Unit, &ts); err != nil {
		return nil, err
	}
	r.Measure = MeasureType(measure)

	var err error
	if r.Timestamp, err = database.ParseTime(ts); err != nil {
		return nil, err
	}
	return &r, nil
}
