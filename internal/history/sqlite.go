package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "could not open history database").
			WithContext("path", dbPath).
			Build()
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to initialize history schema").
			WithContext("path", dbPath).
			Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		trigger_source TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		touched TEXT NOT NULL,
		failed TEXT NOT NULL,
		logs BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores run.
func (s *SQLiteStore) Record(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched, err := json.Marshal(nonNil(run.TouchedKeys))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "failed to marshal touched keys").Build()
	}
	failed, err := json.Marshal(nonNil(run.FailedUnits))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "failed to marshal failed units").Build()
	}
	logs, err := json.Marshal(run.Logs)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "failed to marshal chain logs").Build()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO runs (id, trigger_source, started_at, duration_ns, fingerprint, touched, failed, logs) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Trigger, run.StartedAt.UnixNano(), int64(run.Duration), run.Fingerprint, string(touched), string(failed), logs,
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "failed to record run").WithContext("run_id", run.ID).Build()
	}
	return nil
}

const selectRuns = "SELECT id, trigger_source, started_at, duration_ns, fingerprint, touched, failed, logs FROM runs"

// Get returns the run with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanOne(s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id), id)
}

// Latest returns the most recently recorded run.
func (s *SQLiteStore) Latest(ctx context.Context) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanOne(s.db.QueryRowContext(ctx, selectRuns+" ORDER BY seq DESC LIMIT 1"), "")
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectRuns + " ORDER BY seq DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to query runs").Build()
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to iterate runs").Build()
	}
	return runs, nil
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE seq NOT IN (SELECT seq FROM runs ORDER BY seq DESC LIMIT ?)", keep)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to prune runs").Build()
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanOne(row *sql.Row, id string) (Run, error) {
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		b := ferrors.NotFoundError("run not found")
		if id != "" {
			b = b.WithContext("run_id", id)
		}
		return Run{}, b.Build()
	}
	return run, err
}

func scanRun(row scanner) (Run, error) {
	var (
		run              Run
		startedAt, durNS int64
		touched, failed  string
		logs             []byte
	)
	if err := row.Scan(&run.ID, &run.Trigger, &startedAt, &durNS, &run.Fingerprint, &touched, &failed, &logs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to scan run").Build()
	}
	run.StartedAt = time.Unix(0, startedAt)
	run.Duration = time.Duration(durNS)
	if err := json.Unmarshal([]byte(touched), &run.TouchedKeys); err != nil {
		return Run{}, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to decode touched keys").Build()
	}
	if err := json.Unmarshal([]byte(failed), &run.FailedUnits); err != nil {
		return Run{}, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to decode failed units").Build()
	}
	if err := json.Unmarshal(logs, &run.Logs); err != nil {
		return Run{}, ferrors.WrapError(err, ferrors.CategoryHistory, "failed to decode chain logs").Build()
	}
	if len(run.FailedUnits) == 0 {
		run.FailedUnits = nil
	}
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
