package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines inventory persistence.
type Repository interface {
	Record(ctx context.Context, sightings []Sighting) error
	Get(ctx context.Context, address string) (*Actuator, error)
	List(ctx context.Context) ([]Actuator, error)
	ListByType(ctx context.Context, deviceType string) ([]Actuator, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, address string) error
}

// SQLiteRepository implements Repository on the actuators table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// timeLayout is fixed width so that stored timestamps order as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const upsertSighting = `INSERT INTO actuators (address, type, serial_number, first_seen, last_seen, seen_count)
	VALUES (?, ?, ?, ?, ?, 1)
	ON CONFLICT (address) DO UPDATE SET
		type = CASE WHEN excluded.type <> '' THEN excluded.type ELSE actuators.type END,
		serial_number = CASE WHEN excluded.serial_number <> '' THEN excluded.serial_number ELSE actuators.serial_number END,
		last_seen = CASE WHEN excluded.last_seen > actuators.last_seen THEN excluded.last_seen ELSE actuators.last_seen END,
		seen_count = actuators.seen_count + 1`

// Record upserts every sighting in one transaction. A new address starts
// with a seen count of 1; each later sighting adds one.
func (r *SQLiteRepository) Record(ctx context.Context, sightings []Sighting) error {
	if len(sightings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, upsertSighting)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range sightings {
		at := s.At
		if at.IsZero() {
			at = time.Now()
		}
		ts := at.UTC().Format(timeLayout)
		if _, err := stmt.ExecContext(ctx, s.Address, s.Type, s.SerialNumber, ts, ts); err != nil {
			return fmt.Errorf("recording %s: %w", s.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sightings: %w", err)
	}
	return nil
}

const selectActuator = `SELECT address, type, serial_number, first_seen, last_seen, seen_count FROM actuators`

// Get returns one actuator, or ErrActuatorNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, address string) (*Actuator, error) {
	row := r.db.QueryRowContext(ctx, selectActuator+` WHERE address = ?`, address)
	a, err := scanActuator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActuatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting actuator %s: %w", address, err)
	}
	return a, nil
}

// List returns every actuator, most recently seen first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Actuator, error) {
	return r.query(ctx, selectActuator+` ORDER BY last_seen DESC, address`)
}

// ListByType returns actuators that reported deviceType.
func (r *SQLiteRepository) ListByType(ctx context.Context, deviceType string) ([]Actuator, error) {
	return r.query(ctx, selectActuator+` WHERE type = ? ORDER BY address`, deviceType)
}

// Count returns the number of known devices.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actuators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting actuators: %w", err)
	}
	return n, nil
}

// Delete forgets an actuator.
func (r *SQLiteRepository) Delete(ctx context.Context, address string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM actuators WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("deleting actuator %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrActuatorNotFound
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Actuator, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actuators: %w", err)
	}
	defer rows.Close()

	var out []Actuator
	for rows.Next() {
		a, err := scanActuator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning actuator row: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActuator(s scanner) (*Actuator, error) {
	var a Actuator
	var first, last string
	if err := s.Scan(&a.Address, &a.Type, &a.SerialNumber, &first, &last, &a.SeenCount); err != nil {
		return nil, err
	}
	var err error
	if a.FirstSeen, err = time.Parse(timeLayout, first); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if a.LastSeen, err = time.Parse(timeLayout, last); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &a, nil
}
