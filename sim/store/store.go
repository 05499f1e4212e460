// Package store persists the entity and resource logs of finished runs to
// SQLite, one row set per run, so results can be analysed outside the
// simulator.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/simpm/simpm/sim"
	"github.com/simpm/simpm/sim/record"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		environment TEXT NOT NULL,
		scenario TEXT NOT NULL,
		seed INTEGER NOT NULL,
		replication INTEGER NOT NULL,
		start_time REAL NOT NULL,
		finish_time REAL NOT NULL,
		failures INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedule (
		run_id TEXT NOT NULL REFERENCES runs(id),
		entity_id INTEGER NOT NULL,
		entity TEXT NOT NULL,
		activity TEXT NOT NULL,
		start_time REAL NOT NULL,
		finish_time REAL NOT NULL,
		interrupted INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS waiting (
		run_id TEXT NOT NULL REFERENCES runs(id),
		entity_id INTEGER NOT NULL,
		entity TEXT NOT NULL,
		resource TEXT NOT NULL,
		start_waiting REAL NOT NULL,
		end_waiting REAL NOT NULL,
		amount INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS status (
		run_id TEXT NOT NULL REFERENCES runs(id),
		entity_id INTEGER NOT NULL,
		entity TEXT NOT NULL,
		time REAL NOT NULL,
		status TEXT NOT NULL,
		subject TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS resource_status (
		run_id TEXT NOT NULL REFERENCES runs(id),
		resource_id INTEGER NOT NULL,
		resource TEXT NOT NULL,
		time REAL NOT NULL,
		in_use INTEGER NOT NULL,
		idle INTEGER NOT NULL,
		queue_length INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS resource_queue (
		run_id TEXT NOT NULL REFERENCES runs(id),
		resource_id INTEGER NOT NULL,
		resource TEXT NOT NULL,
		entity TEXT NOT NULL,
		start_time REAL NOT NULL,
		finish_time REAL NOT NULL,
		amount INTEGER NOT NULL
	)`,
}

// Store writes run logs to a SQLite database. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path and ensures the schema exists.
// Use MemoryPath for a throwaway database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "simpm.db"
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying sql.DB for ad hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// RunMeta describes a run being saved. A zero ID is replaced by a new UUID.
type RunMeta struct {
	ID          uuid.UUID
	Scenario    string
	Seed        int64
	Replication int
}

// Run is one row of the runs table.
type Run struct {
	RunMeta
	Environment string
	Start       float64
	Finish      float64
	Failures    int
	CreatedAt   time.Time
}

// SaveRun writes every entity and resource log of env in one transaction and
// returns the run ID.
func (s *Store) SaveRun(ctx context.Context, env *sim.Environment, meta RunMeta) (id uuid.UUID, retErr error) {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	runID := meta.ID.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, environment, scenario, seed, replication, start_time, finish_time, failures, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		runID, env.Name(), meta.Scenario, meta.Seed, meta.Replication, env.Start(), env.Now(),
		len(env.Failures()), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	for _, e := range env.Entities() {
		if err := saveEntity(ctx, tx, runID, e); err != nil {
			return uuid.Nil, fmt.Errorf("entity %s: %w", e, err)
		}
	}
	for _, r := range env.Resources() {
		if err := saveResource(ctx, tx, runID, r); err != nil {
			return uuid.Nil, fmt.Errorf("resource %s: %w", r, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return meta.ID, nil
}

func saveEntity(ctx context.Context, tx *sql.Tx, runID string, e *sim.Entity) error {
	for _, row := range e.Schedule() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule(run_id, entity_id, entity, activity, start_time, finish_time, interrupted) VALUES(?,?,?,?,?,?,?)`,
			runID, e.ID(), e.Name(), row.Activity, row.Start, row.Finish, boolToInt(row.Interrupted)); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
	}
	for _, row := range e.WaitingLog() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO waiting(run_id, entity_id, entity, resource, start_waiting, end_waiting, amount) VALUES(?,?,?,?,?,?,?)`,
			runID, e.ID(), e.Name(), row.Resource, row.StartWaiting, row.EndWaiting, row.Amount); err != nil {
			return fmt.Errorf("insert waiting: %w", err)
		}
	}
	for _, row := range e.StatusLog() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO status(run_id, entity_id, entity, time, status, subject) VALUES(?,?,?,?,?,?)`,
			runID, e.ID(), e.Name(), row.Time, row.Status, row.Subject); err != nil {
			return fmt.Errorf("insert status: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func saveResource(ctx context.Context, tx *sql.Tx, runID string, r *sim.Resource) error {
	for _, row := range r.StatusLog() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resource_status(run_id, resource_id, resource, time, in_use, idle, queue_length) VALUES(?,?,?,?,?,?,?)`,
			runID, r.ID(), r.Name(), row.Time, row.InUse, row.Idle, row.QueueLength); err != nil {
			return fmt.Errorf("insert resource status: %w", err)
		}
	}
	for _, row := range r.QueueLog() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resource_queue(run_id, resource_id, resource, entity, start_time, finish_time, amount) VALUES(?,?,?,?,?,?,?)`,
			runID, r.ID(), r.Name(), row.Entity, row.StartTime, row.FinishTime, row.Amount); err != nil {
			return fmt.Errorf("insert resource queue: %w", err)
		}
	}
	return nil
}

// Runs lists saved runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment, scenario, seed, replication, start_time, finish_time, failures, created_at
		 FROM runs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		var (
			r       Run
			id      string
			created string
		)
		if err := rows.Scan(&id, &r.Environment, &r.Scenario, &r.Seed, &r.Replication,
			&r.Start, &r.Finish, &r.Failures, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %s created_at: %w", id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EntitySchedule is a schedule row tagged with its entity name.
type EntitySchedule struct {
	Entity string
	record.ScheduleRow
}

// Schedule returns the schedule rows of a run in insertion order.
func (s *Store) Schedule(ctx context.Context, runID uuid.UUID) ([]EntitySchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, activity, start_time, finish_time, interrupted FROM schedule WHERE run_id = ? ORDER BY rowid`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("select schedule: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []EntitySchedule
	for rows.Next() {
		var r EntitySchedule
		if err := rows.Scan(&r.Entity, &r.Activity, &r.Start, &r.Finish, &r.Interrupted); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResourceStatus returns the status rows of one resource in a run.
func (s *Store) ResourceStatus(ctx context.Context, runID uuid.UUID, resource string) ([]record.ResourceStatusRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, in_use, idle, queue_length FROM resource_status WHERE run_id = ? AND resource = ? ORDER BY rowid`,
		runID.String(), resource)
	if err != nil {
		return nil, fmt.Errorf("select resource status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []record.ResourceStatusRow
	for rows.Next() {
		var r record.ResourceStatusRow
		if err := rows.Scan(&r.Time, &r.InUse, &r.Idle, &r.QueueLength); err != nil {
			return nil, fmt.Errorf("scan resource status: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResourceQueue returns the granted requests of one resource in a run.
func (s *Store) ResourceQueue(ctx context.Context, runID uuid.UUID, resource string) ([]record.QueueRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, start_time, finish_time, amount FROM resource_queue WHERE run_id = ? AND resource = ? ORDER BY rowid`,
		runID.String(), resource)
	if err != nil {
		return nil, fmt.Errorf("select resource queue: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []record.QueueRow
	for rows.Next() {
		var r record.QueueRow
		if err := rows.Scan(&r.Entity, &r.StartTime, &r.FinishTime, &r.Amount); err != nil {
			return nil, fmt.Errorf("scan resource queue: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Waiting returns the completed waits of one entity in a run.
func (s *Store) Waiting(ctx context.Context, runID uuid.UUID, entity string) ([]record.WaitingRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource, start_waiting, end_waiting, amount FROM waiting WHERE run_id = ? AND entity = ? ORDER BY rowid`,
		runID.String(), entity)
	if err != nil {
		return nil, fmt.Errorf("select waiting: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []record.WaitingRow
	for rows.Next() {
		var r record.WaitingRow
		if err := rows.Scan(&r.Resource, &r.StartWaiting, &r.EndWaiting, &r.Amount); err != nil {
			return nil, fmt.Errorf("scan waiting: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
