// Package runstate persists per-location processing state and run records.
// An explicit state enum replaces file-presence progress markers, so a
// crashed half-written run is distinguishable from a genuinely empty result.
package runstate

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// State is the processing state of a location or run.
type State string

const (
	NotStarted State = "not_started"
	InProgress State = "in_progress"
	Done       State = "done"
	Failed     State = "failed"
	Stopped    State = "stopped"
)

// Run is one pipeline invocation.
type Run struct {
	ID        string
	Country   string
	Status    State
	StartedAt time.Time
}

// Store is a SQLite-backed status store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the status database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "runstate: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runstate: exec %s", pragma)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	country    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'in_progress',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at   DATETIME
);

CREATE TABLE IF NOT EXISTS locations (
	location   TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_locations_state ON locations(state);

CREATE TABLE IF NOT EXISTS steps (
	name       TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runstate: migrate")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a pipeline run and returns its record.
func (s *Store) BeginRun(ctx context.Context, country string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Country:   country,
		Status:    InProgress,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, country, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Country, string(run.Status), run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, eris.Wrap(err, "runstate: begin run")
	}
	return run, nil
}

// EndRun marks a run finished with the given status.
func (s *Store) EndRun(ctx context.Context, runID string, status State) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = datetime('now') WHERE id = ?`,
		string(status), runID)
	return eris.Wrap(err, "runstate: end run")
}

// SetLocation upserts the state of a location.
func (s *Store) SetLocation(ctx context.Context, location string, state State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (location, state, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(location) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		location, string(state))
	return eris.Wrapf(err, "runstate: set location %s", location)
}

// Location returns the state of a location, NotStarted when unknown.
func (s *Store) Location(ctx context.Context, location string) (State, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM locations WHERE location = ?`, location).Scan(&state)
	if err == sql.ErrNoRows {
		return NotStarted, nil
	}
	if err != nil {
		return NotStarted, eris.Wrapf(err, "runstate: get location %s", location)
	}
	return State(state), nil
}

// Locations returns every location currently in the given state, sorted.
func (s *Store) Locations(ctx context.Context, state State) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location FROM locations WHERE state = ? ORDER BY location`, string(state))
	if err != nil {
		return nil, eris.Wrap(err, "runstate: list locations")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, eris.Wrap(err, "runstate: scan location")
		}
		out = append(out, loc)
	}
	return out, eris.Wrap(rows.Err(), "runstate: iterate locations")
}

// StepStatus is the recorded state of one named preparation step.
// Steps live in their own table so they never show up as locations.
type StepStatus struct {
	Name  string
	State State
}

// SetStep upserts the state of a preparation step.
func (s *Store) SetStep(ctx context.Context, name string, state State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (name, state, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		name, string(state))
	return eris.Wrapf(err, "runstate: set step %s", name)
}

// Step returns the state of a preparation step, NotStarted when unknown.
func (s *Store) Step(ctx context.Context, name string) (State, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM steps WHERE name = ?`, name).Scan(&state)
	if err == sql.ErrNoRows {
		return NotStarted, nil
	}
	if err != nil {
		return NotStarted, eris.Wrapf(err, "runstate: get step %s", name)
	}
	return State(state), nil
}

// Steps returns every recorded preparation step, sorted by name.
func (s *Store) Steps(ctx context.Context) ([]StepStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, state FROM steps ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "runstate: list steps")
	}
	defer rows.Close()

	var out []StepStatus
	for rows.Next() {
		var st StepStatus
		var state string
		if err := rows.Scan(&st.Name, &state); err != nil {
			return nil, eris.Wrap(err, "runstate: scan step")
		}
		st.State = State(state)
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "runstate: iterate steps")
}

// Runs returns all recorded runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, country, status, started_at FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, eris.Wrap(err, "runstate: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var status, started string
		if err := rows.Scan(&r.ID, &r.Country, &status, &started); err != nil {
			return nil, eris.Wrap(err, "runstate: scan run")
		}
		r.Status = State(status)
		r.StartedAt = parseTime(started)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "runstate: iterate runs")
}

// parseTime accepts the timestamp layouts sqlite hands back.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Reset clears all location and step states. Run history is kept.
func (s *Store) Reset(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM locations`, `DELETE FROM steps`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "runstate: reset")
		}
	}
	return nil
}
