// Package store persists analysis history, the task ledger, and prompt
// context snapshots in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/seenimoa/stockwatch/internal/analysis"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS analysis_history (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id         TEXT NOT NULL DEFAULT '',
	code             TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	sentiment_score  REAL NOT NULL DEFAULT 0,
	operation_advice TEXT NOT NULL DEFAULT '',
	decision_type    TEXT NOT NULL DEFAULT 'hold',
	trend_prediction TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 0,
	analysis         TEXT NOT NULL DEFAULT '',
	dashboard_json   TEXT NOT NULL DEFAULT '{}',
	snapshot_json    TEXT,
	data_sources     TEXT NOT NULL DEFAULT '',
	report_type      TEXT NOT NULL DEFAULT '',
	success          INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	analyzed_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_code ON analysis_history(code, analyzed_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_query ON analysis_history(query_id, code);

CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	code           TEXT NOT NULL,
	report_type    TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	source_message TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC);

CREATE TABLE IF NOT EXISTS context_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code       TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	inputs_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created on demand.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// AnalysisRecord is one persisted analysis_history row.
type AnalysisRecord struct {
	ID              int64     `db:"id" json:"id"`
	QueryID         string    `db:"query_id" json:"query_id,omitempty"`
	Code            string    `db:"code" json:"code"`
	Name            string    `db:"name" json:"name"`
	SentimentScore  float64   `db:"sentiment_score" json:"sentiment_score"`
	OperationAdvice string    `db:"operation_advice" json:"operation_advice"`
	DecisionType    string    `db:"decision_type" json:"decision_type"`
	TrendPrediction string    `db:"trend_prediction" json:"trend_prediction"`
	Confidence      float64   `db:"confidence" json:"confidence"`
	Analysis        string    `db:"analysis" json:"analysis,omitempty"`
	DashboardJSON   string    `db:"dashboard_json" json:"-"`
	SnapshotJSON    *string   `db:"snapshot_json" json:"-"`
	DataSources     string    `db:"data_sources" json:"data_sources,omitempty"`
	ReportType      string    `db:"report_type" json:"report_type,omitempty"`
	Success         bool      `db:"success" json:"success"`
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	AnalyzedAt      time.Time `db:"analyzed_at" json:"analyzed_at"`
}

// InsertAnalysis persists one pipeline result.
func (s *Store) InsertAnalysis(ctx context.Context, r *analysis.AnalysisResult) error {
	dashboard, err := json.Marshal(r.Dashboard)
	if err != nil {
		return fmt.Errorf("store: marshal dashboard: %w", err)
	}
	var snapshot *string
	if r.Snapshot != nil {
		b, err := json.Marshal(r.Snapshot)
		if err != nil {
			return fmt.Errorf("store: marshal snapshot: %w", err)
		}
		v := string(b)
		snapshot = &v
	}
	sources, _ := json.Marshal(r.DataSources)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_history
		(query_id, code, name, sentiment_score, operation_advice, decision_type,
		 trend_prediction, confidence, analysis, dashboard_json, snapshot_json,
		 data_sources, report_type, success, error_message, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.QueryID, r.Code, r.Name, r.SentimentScore, r.OperationAdvice, string(r.DecisionType),
		r.TrendPrediction, r.Confidence, r.Analysis, string(dashboard), snapshot,
		string(sources), r.ReportType, r.Success, r.ErrorMessage, r.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("store: insert analysis: %w", err)
	}
	return nil
}

// HistoryFilter narrows GetAnalysisHistory. Zero values mean "any".
type HistoryFilter struct {
	QueryID string
	Code    string
	Since   time.Time
	Limit   int
}

// GetAnalysisHistory returns matching rows, newest first.
func (s *Store) GetAnalysisHistory(ctx context.Context, f HistoryFilter) ([]AnalysisRecord, error) {
	q := `SELECT * FROM analysis_history WHERE 1=1`
	var args []any
	if f.QueryID != "" {
		q += ` AND query_id = ?`
		args = append(args, f.QueryID)
	}
	if f.Code != "" {
		q += ` AND code = ?`
		args = append(args, f.Code)
	}
	if !f.Since.IsZero() {
		q += ` AND analyzed_at >= ?`
		args = append(args, f.Since)
	}
	q += ` ORDER BY analyzed_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var out []AnalysisRecord
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("store: history query: %w", err)
	}
	return out, nil
}

// Task states recorded in the ledger.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskRecord is one durable ledger row.
type TaskRecord struct {
	ID            string    `db:"id" json:"task_id"`
	Code          string    `db:"code" json:"code"`
	ReportType    string    `db:"report_type" json:"report_type,omitempty"`
	Source        string    `db:"source" json:"source,omitempty"`
	SourceMessage string    `db:"source_message" json:"source_message,omitempty"`
	Status        string    `db:"status" json:"status"`
	ErrorMessage  string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// InsertTask records a new task in state running.
func (s *Store) InsertTask(ctx context.Context, t *TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, code, report_type, source, source_message, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`,
		t.ID, t.Code, t.ReportType, t.Source, t.SourceMessage, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus moves a task to its terminal state.
func (s *Store) UpdateTaskStatus(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTask returns one ledger row.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	var t TaskRecord
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return &t, nil
}

// ListTasks returns the newest tasks, capped at limit.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TaskRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM tasks ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return out, nil
}

// SaveContextSnapshot records the prompt and raw inputs that produced one
// analysis, for later inspection.
func (s *Store) SaveContextSnapshot(ctx context.Context, code, prompt string, inputs any) error {
	blob, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("store: marshal inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_snapshots (code, prompt, inputs_json, created_at)
		VALUES (?, ?, ?, ?)`, code, prompt, string(blob), time.Now())
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}
