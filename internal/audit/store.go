// Package audit provides a local SQLite audit log of pipeline runs. The log
// is the operator's record of degraded and failed runs; it lives beside the
// process and survives restarts independently of the primary database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clinical-pipeline-server/internal/domain"
)

// RunRecord is one audited pipeline run
type RunRecord struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	PatientID   string    `json:"patient_id"`
	EncounterID string    `json:"encounter_id"`
	State       string    `json:"state"`
	Diagnosis   string    `json:"diagnosis"`
	Degraded    bool      `json:"degraded"`
	Warnings    string    `json:"warnings,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// SQLiteStore implements the run audit log using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite audit store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		encounter_id TEXT NOT NULL,
		state TEXT NOT NULL,
		diagnosis TEXT DEFAULT '',
		degraded INTEGER NOT NULL DEFAULT 0,
		warnings TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_encounter ON pipeline_runs(patient_id, encounter_id);
	CREATE INDEX IF NOT EXISTS idx_runs_degraded ON pipeline_runs(degraded);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
	`

	_, err := db.Exec(schema)
	return err
}

// RecordRun appends a completed or failed run to the audit log
func (s *SQLiteStore) RecordRun(ctx context.Context, result *domain.PipelineRunResult) error {
	warnings := ""
	if len(result.Warnings) > 0 {
		data, err := json.Marshal(result.Warnings)
		if err != nil {
			return fmt.Errorf("failed to encode warnings: %w", err)
		}
		warnings = string(data)
	}

	degraded := 0
	if result.Degraded() {
		degraded = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(request_id, patient_id, encounter_id, state, diagnosis, degraded, warnings, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RequestID, result.PatientID, result.EncounterID,
		string(result.State), result.DiagnosticResult.DiagnosisName,
		degraded, warnings, result.StartedAt, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*RunRecord, error) {
	r := &RunRecord{}
	var degraded int
	err := s.Scan(
		&r.ID, &r.RequestID, &r.PatientID, &r.EncounterID,
		&r.State, &r.Diagnosis, &degraded, &r.Warnings,
		&r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Degraded = degraded != 0
	return r, nil
}

const runColumns = `id, request_id, patient_id, encounter_id, state, diagnosis, degraded, warnings, started_at, completed_at`

// GetByRequestID returns the audited run for a request id.
// Returns domain.ErrNotFound when no run was recorded under the id.
func (s *SQLiteStore) GetByRequestID(ctx context.Context, requestID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE request_id = ?", requestID)

	record, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return record, nil
}

// ListDegraded returns the most recent degraded or failed runs, newest first
func (s *SQLiteStore) ListDegraded(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE degraded = 1 OR state = ? ORDER BY started_at DESC LIMIT ?",
		string(domain.StateFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list degraded runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
