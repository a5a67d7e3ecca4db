// Package interfaces defines storage contracts for piiscan
package interfaces

import (
	"context"

	"github.com/jmcrae/piiscan/internal/models"
)

// ResultStore is the durable, transactional store for jobs, file records
// and detected entities. Every method is a single atomic transaction
// unless noted. MarkFileProcessing is the claim primitive: of N concurrent
// callers for one file, at most one sees true.
type ResultStore interface {
	// CreateJob inserts a job row with status "pending" and returns its id.
	CreateJob(ctx context.Context, directory string) (int64, error)

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)

	// GetLatestJob returns the most recently created job.
	GetLatestJob(ctx context.Context) (*models.Job, error)

	// GetJobsByStatus returns all jobs with the given status, oldest first.
	GetJobsByStatus(ctx context.Context, status string) ([]models.Job, error)

	// UpdateJobStatus writes the status unconditionally and stamps last_updated.
	UpdateJobStatus(ctx context.Context, jobID int64, status string) error

	// RegisterFiles bulk-inserts discovered files, skipping duplicates on
	// (job_id, file_path), and bumps the job's total_files by the number added.
	RegisterFiles(ctx context.Context, jobID int64, files []models.FileInfo) (int64, error)

	// GetPendingFiles returns up to limit pending rows in file_id order.
	GetPendingFiles(ctx context.Context, jobID int64, limit int) ([]models.PendingFile, error)

	// MarkFileProcessing attempts the pending -> processing claim.
	// Returns true iff exactly one row was updated.
	MarkFileProcessing(ctx context.Context, fileID int64) (bool, error)

	// StoreFileResults replaces the file's entity rows and writes metadata
	// and processing time in one transaction. Must precede MarkFileCompleted.
	StoreFileResults(ctx context.Context, fileID int64, processingTime float64, entities []models.DetectedEntity, metadata map[string]any) error

	// MarkFileCompleted performs processing -> completed and increments the
	// job's processed_files. Errors if the row is no longer in processing.
	MarkFileCompleted(ctx context.Context, fileID, jobID int64) error

	// MarkFileError performs processing -> error, records the message and
	// increments the job's error_files.
	MarkFileError(ctx context.Context, fileID, jobID int64, msg string) error

	// GetFileStatistics returns aggregate counts for status polling.
	GetFileStatistics(ctx context.Context, jobID int64) (models.FileStatistics, error)

	// ResetStalledFiles bulk-resets processing -> pending. Recovery only.
	ResetStalledFiles(ctx context.Context, jobID int64) (int64, error)

	// GetFileEntities returns the persisted entities for one file.
	GetFileEntities(ctx context.Context, fileID int64) ([]models.Entity, error)

	// ExportToJSON renders a read-only snapshot of job + files + entities.
	ExportToJSON(ctx context.Context, jobID int64) ([]byte, error)

	// EntityTypeCounts aggregates entity counts per type for reporting.
	EntityTypeCounts(ctx context.Context, jobID int64) ([]models.EntityTypeCount, error)

	// HighRiskFiles lists files containing entities of the given types.
	HighRiskFiles(ctx context.Context, jobID int64, types []string, limit int) ([]models.HighRiskFile, error)

	// CountFilesWithEntities returns how many of the job's files had at
	// least one detection.
	CountFilesWithEntities(ctx context.Context, jobID int64) (int64, error)

	// FilesWithFindings returns up to limit files with their entities for
	// the detailed findings report section.
	FilesWithFindings(ctx context.Context, jobID int64, limit int) ([]models.FileFindings, error)

	// Path returns the database file location. Clear uses it to remove the
	// database wholesale.
	Path() string

	// Close releases the underlying database.
	Close() error
}
