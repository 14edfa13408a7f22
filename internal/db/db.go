package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// ErrNoRuns is returned when the journal holds no run yet.
var ErrNoRuns = errors.New("no runs recorded")

// DB is the local run journal
type DB struct {
	*sql.DB
}

// New opens the journal at path, creating it when needed
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME,
			finished_at DATETIME,
			candidates INTEGER DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT,
			title TEXT,
			status TEXT,
			remote_title TEXT,
			reasons TEXT,
			detail TEXT,
			updated_at DATETIME,
			PRIMARY KEY (run_id, title)
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(run_id, status);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
	`)
	return err
}

// StartRun registers a new run
func (db *DB) StartRun(run models.Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, started_at, candidates)
		VALUES (?, ?, ?)
	`, run.ID, run.StartedAt.UTC(), run.Candidates)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps the end of a run
func (db *DB) FinishRun(runID string, candidates int) error {
	res, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, candidates = ?
		WHERE id = ?
	`, time.Now().UTC(), candidates, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordOutcome saves the outcome of one file. A file seen twice in the
// same run keeps its latest outcome.
func (db *DB) RecordOutcome(o models.Outcome) error {
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO outcomes (run_id, title, status, remote_title, reasons, detail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.RunID, o.Title, o.Status, o.RemoteTitle, strings.Join(o.Reasons, ","), o.Detail, updated.UTC())
	if err != nil {
		return fmt.Errorf("failed to record outcome of %s: %w", o.Title, err)
	}
	return nil
}

// GetRun retrieves a run by id
func (db *DB) GetRun(runID string) (*models.Run, error) {
	var run models.Run
	var finished sql.NullTime
	err := db.QueryRow(`
		SELECT id, started_at, finished_at, candidates
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.StartedAt, &finished, &run.Candidates)
	if err != nil {
		return nil, fmt.Errorf("run not found: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// LatestRunID returns the most recently started run
func (db *DB) LatestRunID() (string, error) {
	var id string
	err := db.QueryRow(`
		SELECT id FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetOutcomes lists the outcomes of a run in the order they were written
func (db *DB) GetOutcomes(runID string) ([]models.Outcome, error) {
	rows, err := db.Query(`
		SELECT run_id, title, status, remote_title, reasons, detail, updated_at
		FROM outcomes
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var reasons string
		err = rows.Scan(&o.RunID, &o.Title, &o.Status, &o.RemoteTitle, &reasons, &o.Detail, &o.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if reasons != "" {
			o.Reasons = strings.Split(reasons, ",")
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// GetStats returns statistics about the outcomes of a run
func (db *DB) GetStats(runID string) (*models.Stats, error) {
	stats := models.Stats{RunID: runID, ByReason: map[string]int64{}}
	err := db.QueryRow(`
		SELECT
			COUNT(*) as total_files,
			COUNT(CASE WHEN status = 'deleted' THEN 1 END) as deleted_files,
			COUNT(CASE WHEN status = 'tagged' THEN 1 END) as tagged_files,
			COUNT(CASE WHEN status = 'skipped' THEN 1 END) as skipped_files,
			COUNT(CASE WHEN status = 'eligible' THEN 1 END) as eligible_files,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_files
		FROM outcomes
		WHERE run_id = ?
	`, runID).Scan(
		&stats.TotalFiles,
		&stats.Deleted,
		&stats.Tagged,
		&stats.Skipped,
		&stats.Eligible,
		&stats.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	rows, err := db.Query(`
		SELECT reasons FROM outcomes
		WHERE run_id = ? AND reasons != ''
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reasons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reasons string
		if err := rows.Scan(&reasons); err != nil {
			return nil, err
		}
		for _, code := range strings.Split(reasons, ",") {
			stats.ByReason[code]++
		}
	}
	return &stats, rows.Err()
}
