// Package postgres provides the Postgres-backed analysis checkpoint store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for analysis rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists analysis checkpoints in a single table. Expected schema:
//
//	CREATE TABLE website_analyses (
//	    id              TEXT PRIMARY KEY,
//	    url             TEXT NOT NULL,
//	    status          TEXT NOT NULL,
//	    options         JSONB NOT NULL,
//	    result          JSONB NOT NULL DEFAULT '{}',
//	    error           TEXT NOT NULL DEFAULT '',
//	    processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	pool  pgxPool
	table string
	clock analysis.Clock
}

// New creates a Store with its own connection pool.
func New(ctx context.Context, cfg Config, clock analysis.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.Table, clock)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string, clock analysis.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "website_analyses"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a new analysis row.
func (s *Store) Create(ctx context.Context, a analysis.Analysis) error {
	optionsJSON, err := json.Marshal(a.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	resultJSON, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, status, options, result, error, processing_time, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, s.table)
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.URL, string(a.Status), optionsJSON, resultJSON,
		a.Error, a.ProcessingTime, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

const columns = "id, url, status, options, result, error, processing_time, created_at, updated_at"

// Get fetches one analysis by ID.
func (s *Store) Get(ctx context.Context, id string) (analysis.Analysis, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, s.table)
	a, err := scanAnalysis(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return analysis.Analysis{}, analysis.ErrNotFound
	}
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("select analysis: %w", err)
	}
	return a, nil
}

// SetStatus applies a checkpoint transition atomically. The WHERE clause
// restricts the update to rows whose current status may legally move to the
// new status, so a concurrent writer cannot produce an illegal edge. COMPLETED
// is only accepted together with a result carrying the package descriptor.
func (s *Store) SetStatus(ctx context.Context, id string, status analysis.Status, result *analysis.Result, errText string, processingTime float64) (analysis.Analysis, error) {
	if status == analysis.StatusCompleted && (result == nil || result.Package == nil) {
		return analysis.Analysis{}, fmt.Errorf("analysis %s cannot complete without a package descriptor", id)
	}
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return analysis.Analysis{}, fmt.Errorf("marshal result: %w", err)
		}
	}
	from := predecessors(status)
	if len(from) == 0 {
		return analysis.Analysis{}, fmt.Errorf("no state may transition to %s", status)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	result = COALESCE($3, result),
	error = $4,
	processing_time = CASE WHEN $5 > 0 THEN $5 ELSE processing_time END,
	updated_at = $6
WHERE id = $1 AND status = ANY($7)
RETURNING %s`, s.table, columns)

	a, err := scanAnalysis(s.pool.QueryRow(ctx, query,
		id, string(status), resultJSON, errText, processingTime,
		s.clock.Now().UTC(), statusStrings(from),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is missing or the current status forbids the edge.
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return analysis.Analysis{}, getErr
		}
		return analysis.Analysis{}, fmt.Errorf("illegal transition %s -> %s for analysis %s", current.Status, status, id)
	}
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("update analysis: %w", err)
	}
	return a, nil
}

// ListByStatus returns analyses in the given statuses, newest first. An empty
// set returns everything.
func (s *Store) ListByStatus(ctx context.Context, statuses []analysis.Status) ([]analysis.Analysis, error) {
	var (
		query string
		args  []any
	)
	if len(statuses) == 0 {
		query = fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC", columns, s.table)
	} else {
		query = fmt.Sprintf("SELECT %s FROM %s WHERE status = ANY($1) ORDER BY created_at DESC", columns, s.table)
		args = append(args, statusStrings(statuses))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []analysis.Analysis
	for rows.Next() {
		a, scanErr := scanAnalysis(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan analysis: %w", scanErr)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

// Delete removes one analysis row.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analysis.ErrNotFound
	}
	return nil
}

// PurgeTerminal deletes COMPLETED and FAILED rows last updated before the
// cutoff and reports how many were removed.
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	query := fmt.Sprintf("DELETE FROM %s WHERE status = ANY($1) AND updated_at < $2", s.table)
	tag, err := s.pool.Exec(ctx, query,
		statusStrings([]analysis.Status{analysis.StatusCompleted, analysis.StatusFailed}), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge analyses: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// predecessors returns the statuses that may legally transition to next.
func predecessors(next analysis.Status) []analysis.Status {
	all := []analysis.Status{
		analysis.StatusPending, analysis.StatusMapping, analysis.StatusScraping,
		analysis.StatusProcessing, analysis.StatusCompleted, analysis.StatusFailed,
	}
	var out []analysis.Status
	for _, st := range all {
		if st.CanTransition(next) {
			out = append(out, st)
		}
	}
	return out
}

func statusStrings(statuses []analysis.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (analysis.Analysis, error) {
	var (
		a           analysis.Analysis
		status      string
		optionsJSON []byte
		resultJSON  []byte
	)
	err := row.Scan(&a.ID, &a.URL, &status, &optionsJSON, &resultJSON,
		&a.Error, &a.ProcessingTime, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return analysis.Analysis{}, err
	}
	a.Status = analysis.Status(status)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &a.Options); err != nil {
			return analysis.Analysis{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &a.Result); err != nil {
			return analysis.Analysis{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return a, nil
}
