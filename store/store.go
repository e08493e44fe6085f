// Package store persists batch extraction runs and their results in SQLite.
//
// A run groups the documents processed by one batch invocation. Each result
// row keeps the full ExtractionResult as JSON next to the columns needed to
// list and filter runs without decoding it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/kit"
)

// ErrNotFound is returned when a run or result id does not exist.
var ErrNotFound = errors.New("store: not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Config configures a Store.
type Config struct {
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
	Logger      *slog.Logger  `json:"-" yaml:"-"`
	// NewRunID and NewResultID default to prefixed UUIDv7 generators.
	NewRunID    kit.Generator `json:"-" yaml:"-"`
	NewResultID kit.Generator `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewRunID == nil {
		c.NewRunID = kit.Prefixed("run_", kit.UUIDv7())
	}
	if c.NewResultID == nil {
		c.NewResultID = kit.Prefixed("res_", kit.UUIDv7())
	}
}

// Store records runs and results.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Run is one batch invocation.
type Run struct {
	ID         string     `json:"run_id"`
	Root       string     `json:"root"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Documents  int        `json:"documents"`
	Failed     int        `json:"failed"` // results with at least one error
}

// Result is the summary row of one processed document.
type Result struct {
	ID         string             `json:"result_id"`
	RunID      string             `json:"run_id"`
	SourcePath string             `json:"source_path"`
	OutputPath string             `json:"output_path,omitempty"`
	Format     docpipe.FileFormat `json:"file_format"`
	FileSize   int64              `json:"file_size_bytes"`
	ErrorCount int                `json:"error_count"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Open opens (and creates if needed) the store database at path. Use
// ":memory:" for a throwaway store.
func Open(path string, cfg Config) (*Store, error) {
	cfg.defaults()
	db, err := openDB(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StartRun records a new running run for root.
func (s *Store) StartRun(ctx context.Context, root string) (*Run, error) {
	run := &Run{
		ID:        s.cfg.NewRunID(),
		Root:      root,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, root, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Root, run.Status, run.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: start run: %w", err)
	}
	s.cfg.Logger.Debug("store: run started", "run_id", run.ID, "root", root)
	return run, nil
}

// SaveResult records the result of one document in runID and returns the
// new result id. The run's counters are updated in the same transaction.
func (s *Store) SaveResult(ctx context.Context, runID, sourcePath, outputPath string, res *docpipe.ExtractionResult) (string, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("store: encode result: %w", err)
	}
	id := s.cfg.NewResultID()
	failed := 0
	if !res.OK() {
		failed = 1
	}
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx,
			`UPDATE runs SET documents = documents + 1, failed = failed + ? WHERE run_id = ?`,
			failed, runID)
		if err != nil {
			return err
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (result_id, run_id, source_path, output_path, file_format,
				file_size, error_count, result_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, runID, sourcePath, outputPath, string(res.Metadata.FileFormat),
			res.Metadata.FileSizeBytes, len(res.Errors), string(data), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("store: save result: %w", err)
	}
	return id, nil
}

// FinishRun marks runID with a final status.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("store: finish run %s: %w", runID, ErrNotFound)
	}
	s.cfg.Logger.Debug("store: run finished", "run_id", runID, "status", status)
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, root, status, started_at, finished_at, documents, failed
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first, at most limit (0 means 50).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, root, status, started_at, finished_at, documents, failed
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListResults returns the results of runID in insertion order.
func (s *Store) ListResults(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_id, run_id, source_path, output_path, file_format, file_size,
			error_count, created_at
		 FROM results WHERE run_id = ? ORDER BY created_at, result_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var format string
		var created int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.SourcePath, &r.OutputPath, &format,
			&r.FileSize, &r.ErrorCount, &created); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		r.Format = docpipe.FileFormat(format)
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadResult decodes the stored ExtractionResult of one result row.
func (s *Store) LoadResult(ctx context.Context, resultID string) (*docpipe.ExtractionResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result_json FROM results WHERE result_id = ?`, resultID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: result %s: %w", resultID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load result: %w", err)
	}
	var res docpipe.ExtractionResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("store: decode result %s: %w", resultID, err)
	}
	return &res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	if err := sc.Scan(&run.ID, &run.Root, &run.Status, &started, &finished,
		&run.Documents, &run.Failed); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}
