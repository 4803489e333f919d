// Package history records finished analyses in the run ledger.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/plancheck/internal/model"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Event types written to run_events.
const (
	EventRunFinished = "run_finished"
	EventError       = "error"
)

// Run is one ledger row.
type Run struct {
	RunID         string            `json:"runId"`
	CreatedAt     time.Time         `json:"createdAt"`
	Document      string            `json:"document"`
	Jurisdiction  string            `json:"jurisdiction,omitempty"`
	Status        string            `json:"status"`
	OverallStatus model.CheckStatus `json:"overallStatus,omitempty"`
	Summary       model.Summary     `json:"summary"`
	Usage         model.Usage       `json:"usage"`
	DurationMs    int64             `json:"durationMs"`
}

// Event is one timeline entry of a run.
type Event struct {
	Seq     int       `json:"seq"`
	TS      time.Time `json:"ts"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
}

// Store persists run summaries and their non-fatal errors.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store on an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordRun inserts the run summary and one event per diagnostics error in a
// single transaction. rep is nil when the run aborted.
func (s *Store) RecordRun(ctx context.Context, diag model.Diagnostics, rep *model.ReportData) error {
	if diag.RunID == "" {
		return fmt.Errorf("record run: empty run id")
	}
	createdAt := s.now().UTC().Format(time.RFC3339)

	var (
		overall any
		sum     model.Summary
	)
	if rep != nil {
		overall = string(rep.OverallStatus)
		sum = rep.Summary
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, document, jurisdiction, status, overall_status,
		total_checks, passed, failed, needs_verification, not_applicable, input_tokens, output_tokens, duration_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		diag.RunID, createdAt, diag.DocumentName, nullableString(diag.Jurisdiction), diag.Outcome, overall,
		sum.TotalChecks, sum.Passed, sum.Failed, sum.NeedsVerification, sum.NotApplicable,
		diag.Usage.InputTokens, diag.Usage.OutputTokens, diag.Timing.Total.Milliseconds()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	for _, msg := range diag.Errors {
		if err := insertEvent(ctx, tx, diag.RunID, EventError, msg, createdAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	finished := fmt.Sprintf("%s after %s in phase %s", diag.Outcome, diag.Timing.Total.Round(time.Millisecond), diag.Phase)
	if err := insertEvent(ctx, tx, diag.RunID, EventRunFinished, finished, createdAt); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record run: %w", err)
	}
	return nil
}

// List returns the newest runs first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, created_at, document, COALESCE(jurisdiction, ''), status,
		COALESCE(overall_status, ''), total_checks, passed, failed, needs_verification, not_applicable,
		input_tokens, output_tokens, duration_ms
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r         Run
			createdAt string
			overall   string
		)
		if err := rows.Scan(&r.RunID, &createdAt, &r.Document, &r.Jurisdiction, &r.Status, &overall,
			&r.Summary.TotalChecks, &r.Summary.Passed, &r.Summary.Failed, &r.Summary.NeedsVerification, &r.Summary.NotApplicable,
			&r.Usage.InputTokens, &r.Usage.OutputTokens, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.OverallStatus = model.CheckStatus(overall)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Events returns the timeline of runID in sequence order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE run_id=?`, runID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("read run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message FROM run_events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS, _ = time.Parse(time.RFC3339, ts)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, ts string) error {
	seq, err := nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_events(run_id, seq, ts, type, message) VALUES(?, ?, ?, ?, ?)`,
		runID, seq, ts, typ, message); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM run_events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
