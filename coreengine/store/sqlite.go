// Package store keeps an index of completed runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID       string
	Request     string
	Intent      envelope.Intent
	Final       string
	Loops       int
	Verified    bool
	ToolResults int
	CreatedAt   time.Time
}

// ToolResultRecord is one row of the tool_results table.
type ToolResultRecord struct {
	RunID    string
	Seq      int
	Tool     string
	OK       bool
	ExitCode int
	Error    string
	TimingMS int64
}

// SQLiteStore records runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at path, creating its directory.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			request TEXT NOT NULL,
			intent TEXT NOT NULL,
			final TEXT NOT NULL,
			loops INTEGER NOT NULL,
			verified INTEGER NOT NULL,
			tool_results INTEGER NOT NULL,
			state_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tool_results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tool TEXT NOT NULL,
			ok INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			error TEXT,
			timing_ms INTEGER NOT NULL,
			PRIMARY KEY(run_id, seq),
			FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database. Safe on a nil store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun records a completed run, replacing any earlier record with the same run id.
func (s *SQLiteStore) SaveRun(ctx context.Context, st envelope.RunState) error {
	if st.RunID() == "" {
		return fmt.Errorf("save run: missing run id")
	}
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	verified := st.Verification != nil && st.Verification.OK

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_results WHERE run_id = ?`, st.RunID()); err != nil {
		return fmt.Errorf("clear tool results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, request, intent, final, loops, verified, tool_results, state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID(),
		st.Request,
		string(st.Intent),
		st.Final,
		st.Budgets.CurrentLoop,
		verified,
		len(st.ToolResults),
		string(stateJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(st.ToolResults) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tool_results (run_id, seq, tool, ok, exit_code, error, timing_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range st.ToolResults {
			if _, err := stmt.ExecContext(ctx, st.RunID(), i, r.Tool, r.OK, r.ExitCode, r.ErrorCode(), r.TimingMS); err != nil {
				return fmt.Errorf("insert tool result: %w", err)
			}
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT run_id, request, intent, final, loops, verified, tool_results, created_at
		FROM runs
		ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec       RunRecord
			intent    string
			createdAt string
		)
		if err := rows.Scan(&rec.RunID, &rec.Request, &intent, &rec.Final, &rec.Loops, &rec.Verified, &rec.ToolResults, &createdAt); err != nil {
			return nil, err
		}
		rec.Intent = envelope.Intent(intent)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ToolResults returns the recorded results of one run in execution order.
func (s *SQLiteStore) ToolResults(ctx context.Context, runID string) ([]ToolResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, tool, ok, exit_code, COALESCE(error, ''), timing_ms
		FROM tool_results
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tool results: %w", err)
	}
	defer rows.Close()

	var out []ToolResultRecord
	for rows.Next() {
		var rec ToolResultRecord
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Tool, &rec.OK, &rec.ExitCode, &rec.Error, &rec.TimingMS); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
