// Package journal keeps a local history of readings and what happened to them, so an operator can see what the
// device measured while it was offline or while sending was disabled.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nlowe/envshadow/metrics"
	"github.com/nlowe/envshadow/sensor"
)

// timeFormat has a fixed width so recorded_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one journaled reading.
type Entry struct {
	ID       int64
	Reading  sensor.Reading
	Sequence uint32
	Outcome  metrics.Outcome
	Recorded time.Time
}

// Store is a journal backed by SQLite. All methods are safe for concurrent use.
type Store struct {
	db       *sql.DB
	instance string
}

// Open opens or creates the journal at path. Use ":memory:" for a throwaway journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if s.instance, err = s.loadOrCreateInstance(); err != nil {
		db.Close()
		return nil, fmt.Errorf("instance id: %w", err)
	}

	return s, nil
}

// InstanceID identifies the agent installation that owns this journal. It is generated the first time the journal is
// created and survives restarts.
func (s *Store) InstanceID() string {
	return s.instance
}

func (s *Store) loadOrCreateInstance() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM instance LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	if _, err = s.db.Exec(`INSERT INTO instance (id) VALUES (?)`, u.String()); err != nil {
		return "", err
	}

	return u.String(), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature   REAL    NOT NULL,
		symbol        TEXT    NOT NULL,
		humidity      REAL    NOT NULL,
		pressure      REAL    NOT NULL,
		trigger_count INTEGER NOT NULL,
		last_read     INTEGER NOT NULL,
		fault         INTEGER NOT NULL DEFAULT 0,
		sequence      INTEGER NOT NULL DEFAULT 0,
		outcome       TEXT    NOT NULL,
		recorded_at   TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS readings_recorded_at ON readings (recorded_at);
	CREATE TABLE IF NOT EXISTS instance (
		id TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a reading with the outcome of publishing it. sequence is the telemetry msg_number, or zero when
// nothing was sent.
func (s *Store) Record(ctx context.Context, r sensor.Reading, sequence uint32, outcome metrics.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (temperature, symbol, humidity, pressure, trigger_count, last_read, fault, sequence, outcome, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Temperature, r.Symbol, r.Humidity, r.Pressure, int64(r.TriggerCount), r.LastRead, int(r.Fault),
		int64(sequence), string(outcome), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("record reading: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, temperature, symbol, humidity, pressure, trigger_count, last_read, fault, sequence, outcome, recorded_at
		 FROM readings ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                   Entry
			triggers, sequence  int64
			fault               int
			outcome, recordedAt string
		)

		if err := rows.Scan(
			&e.ID, &e.Reading.Temperature, &e.Reading.Symbol, &e.Reading.Humidity, &e.Reading.Pressure,
			&triggers, &e.Reading.LastRead, &fault, &sequence, &outcome, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}

		e.Reading.TriggerCount = uint64(triggers)
		e.Reading.Fault = sensor.Status(fault)
		e.Sequence = uint32(sequence)
		e.Outcome = metrics.Outcome(outcome)
		e.Recorded, err = time.Parse(timeFormat, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM readings WHERE recorded_at < ?`,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}

	return res.RowsAffected()
}
