// Package resultdb implements the result store on SQLite.
// It owns the jobs, files and entities tables and every status transition
// on file rows. MarkFileProcessing is the claim primitive: a conditional
// single-row update whose affected-row count decides the winner under
// concurrent claims.
package resultdb

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

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
)

// resultDBSchema creates the persisted layout. files is unique on
// (job_id, file_path) and indexed on (job_id, status) for pending claims.
const resultDBSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id          INTEGER PRIMARY KEY AUTOINCREMENT,
		directory       TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'running', 'completed', 'interrupted', 'error')),
		start_time      TIMESTAMP NOT NULL,
		last_updated    TIMESTAMP NOT NULL,
		total_files     INTEGER NOT NULL DEFAULT 0,
		processed_files INTEGER NOT NULL DEFAULT 0,
		error_files     INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS files (
		file_id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id                  INTEGER NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		file_path               TEXT NOT NULL,
		file_type               TEXT NOT NULL DEFAULT '',
		size_bytes              INTEGER NOT NULL DEFAULT 0,
		status                  TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'completed', 'error')),
		processing_started_at   TIMESTAMP,
		processing_time_seconds REAL NOT NULL DEFAULT 0,
		error_message           TEXT NOT NULL DEFAULT '',
		metadata                TEXT NOT NULL DEFAULT '',
		UNIQUE (job_id, file_path)
	);

	CREATE INDEX IF NOT EXISTS files_by_job_status ON files (job_id, status);

	CREATE TABLE IF NOT EXISTS entities (
		entity_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id     INTEGER NOT NULL REFERENCES files(file_id) ON DELETE CASCADE,
		entity_type TEXT NOT NULL,
		text        TEXT NOT NULL,
		score       REAL NOT NULL,
		start_pos   INTEGER NOT NULL,
		end_pos     INTEGER NOT NULL,
		CHECK (start_pos < end_pos)
	);

	CREATE INDEX IF NOT EXISTS entities_by_file ON entities (file_id);
`

// Sentinel errors for callers that need to distinguish outcomes.
var (
	ErrNotFound = errors.New("resultdb: not found")

	// ErrNoTransition means a conditional status update matched no row,
	// e.g. MarkFileCompleted after a recovery pass reset the row.
	ErrNoTransition = errors.New("resultdb: no matching row for status transition")
)

// Store implements interfaces.ResultStore on a WAL-mode SQLite database.
// The embedded *sqlx.DB is a connection pool; callers share the Store and
// never a transaction.
type Store struct {
	db     *sqlx.DB
	path   string
	logger *common.Logger
}

// NewStore opens (creating if needed) the result database at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create result db dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open result db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping result db at %s: %w", path, err)
	}
	if _, err := db.Exec(resultDBSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create result db schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Result database opened")
	return &Store{db: db, path: path, logger: logger}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, directory string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (directory, status, start_time, last_updated) VALUES (?, ?, ?, ?)`,
		directory, models.JobStatusPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create job for %s: %w", directory, err)
	}
	jobID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new job id: %w", err)
	}
	s.logger.Debug().Int64("job_id", jobID).Str("directory", directory).Msg("Job created")
	return jobID, nil
}

func (s *Store) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", jobID, err)
	}
	return &job, nil
}

func (s *Store) GetLatestJob(ctx context.Context) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM jobs ORDER BY job_id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest job: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	return &job, nil
}

func (s *Store) GetJobsByStatus(ctx context.Context, status string) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.SelectContext(ctx, &jobs, `SELECT * FROM jobs WHERE status = ? ORDER BY job_id ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs with status %s: %w", status, err)
	}
	return jobs, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_updated = ? WHERE job_id = ?`,
		status, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %d status to %s: %w", jobID, status, err)
	}
	s.logger.Debug().Int64("job_id", jobID).Str("status", status).Msg("Job status updated")
	return nil
}

// --- Files ---

func (s *Store) RegisterFiles(ctx context.Context, jobID int64, files []models.FileInfo) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}

	// One transaction per batch: in sqlite that is dramatically faster
	// than autocommit inserts, and keeps total_files consistent with the
	// rows that actually landed.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin register tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR IGNORE INTO files (job_id, file_path, file_type, size_bytes, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer stmt.Close()

	var added int64
	for _, f := range files {
		res, err := stmt.ExecContext(ctx, jobID, f.Path, f.Type, f.Size, models.FileStatusPending)
		if err != nil {
			return 0, fmt.Errorf("failed to register %s: %w", f.Path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count register insert: %w", err)
		}
		added += n
	}

	if added > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET total_files = total_files + ?, last_updated = ? WHERE job_id = ?`,
			added, time.Now().UTC(), jobID); err != nil {
			return 0, fmt.Errorf("failed to bump total_files for job %d: %w", jobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit register tx: %w", err)
	}
	return added, nil
}

func (s *Store) GetPendingFiles(ctx context.Context, jobID int64, limit int) ([]models.PendingFile, error) {
	var pending []models.PendingFile
	err := s.db.SelectContext(ctx, &pending,
		`SELECT file_id, file_path FROM files WHERE job_id = ? AND status = ? ORDER BY file_id ASC LIMIT ?`,
		jobID, models.FileStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending files for job %d: %w", jobID, err)
	}
	return pending, nil
}

// MarkFileProcessing is the serialization point for claims: of N
// concurrent callers for one file, the single-row conditional update lets
// exactly one observe rows-affected == 1.
func (s *Store) MarkFileProcessing(ctx context.Context, fileID int64) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = ?, processing_started_at = ? WHERE file_id = ? AND status = ?`,
		models.FileStatusProcessing, now, fileID, models.FileStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim file %d: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count claim update: %w", err)
	}
	return n == 1, nil
}

// StoreFileResults replaces the file's entity rows and writes metadata and
// processing time in one transaction. Re-running a file after a recovery
// reset therefore leaves exactly one entity set.
func (s *Store) StoreFileResults(ctx context.Context, fileID int64, processingTime float64, entities []models.DetectedEntity, metadata map[string]any) error {
	metaJSON := ""
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for file %d: %w", fileID, err)
		}
		metaJSON = string(b)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin results tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to clear prior entities for file %d: %w", fileID, err)
	}

	if len(entities) > 0 {
		stmt, err := tx.PreparexContext(ctx,
			`INSERT INTO entities (file_id, entity_type, text, score, start_pos, end_pos) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare entity insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entities {
			if _, err := stmt.ExecContext(ctx, fileID, e.EntityType, e.Text, e.Score, e.StartPos, e.EndPos); err != nil {
				return fmt.Errorf("failed to insert %s entity for file %d: %w", e.EntityType, fileID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET processing_time_seconds = ?, metadata = ? WHERE file_id = ?`,
		processingTime, metaJSON, fileID); err != nil {
		return fmt.Errorf("failed to write results metadata for file %d: %w", fileID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results for file %d: %w", fileID, err)
	}
	return nil
}

func (s *Store) MarkFileCompleted(ctx context.Context, fileID, jobID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin complete tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET status = ? WHERE file_id = ? AND status = ?`,
		models.FileStatusCompleted, fileID, models.FileStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete file %d: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count complete update: %w", err)
	}
	if n == 0 {
		// The row was reset or never claimed. Callers must treat this as
		// an error, never a silent success.
		return fmt.Errorf("complete file %d: %w", fileID, ErrNoTransition)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET processed_files = processed_files + 1, last_updated = ? WHERE job_id = ?`,
		time.Now().UTC(), jobID); err != nil {
		return fmt.Errorf("failed to bump processed_files for job %d: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit complete for file %d: %w", fileID, err)
	}
	return nil
}

func (s *Store) MarkFileError(ctx context.Context, fileID, jobID int64, msg string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin error tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET status = ?, error_message = ? WHERE file_id = ? AND status = ?`,
		models.FileStatusError, msg, fileID, models.FileStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark file %d errored: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count error update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark error file %d: %w", fileID, ErrNoTransition)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET error_files = error_files + 1, last_updated = ? WHERE job_id = ?`,
		time.Now().UTC(), jobID); err != nil {
		return fmt.Errorf("failed to bump error_files for job %d: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit error for file %d: %w", fileID, err)
	}
	return nil
}

func (s *Store) GetFileStatistics(ctx context.Context, jobID int64) (models.FileStatistics, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) AS n FROM files WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return models.FileStatistics{}, fmt.Errorf("failed to get statistics for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var stats models.FileStatistics
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return models.FileStatistics{}, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		switch status {
		case models.FileStatusPending:
			stats.Pending = n
		case models.FileStatusProcessing:
			stats.Processing = n
		case models.FileStatusCompleted:
			stats.Completed = n
		case models.FileStatusError:
			stats.Error = n
		}
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return models.FileStatistics{}, fmt.Errorf("failed to read statistics rows: %w", err)
	}
	return stats, nil
}

// ResetStalledFiles is the recovery edge: the only transition out of
// processing that does not resolve the file.
func (s *Store) ResetStalledFiles(ctx context.Context, jobID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = ?, processing_started_at = NULL WHERE job_id = ? AND status = ?`,
		models.FileStatusPending, jobID, models.FileStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stalled files for job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count stalled reset: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("job_id", jobID).Int64("reset", n).Msg("Stalled files reset to pending")
	}
	return n, nil
}
