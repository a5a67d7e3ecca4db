package models

import "time"

// Job represents one analysis run against a directory tree.
type Job struct {
	JobID          int64     `json:"job_id" db:"job_id"`
	Directory      string    `json:"directory" db:"directory"`
	Status         string    `json:"status" db:"status"` // "pending", "running", "completed", "interrupted", "error"
	StartTime      time.Time `json:"start_time" db:"start_time"`
	LastUpdated    time.Time `json:"last_updated" db:"last_updated"`
	TotalFiles     int64     `json:"total_files" db:"total_files"`
	ProcessedFiles int64     `json:"processed_files" db:"processed_files"`
	ErrorFiles     int64     `json:"error_files" db:"error_files"`
}

// Job status constants
const (
	JobStatusPending     = "pending"
	JobStatusRunning     = "running"
	JobStatusCompleted   = "completed"
	JobStatusInterrupted = "interrupted"
	JobStatusError       = "error"
)

// FileRecord is the per-file state row owned by the result store.
type FileRecord struct {
	FileID              int64      `json:"file_id" db:"file_id"`
	JobID               int64      `json:"job_id" db:"job_id"`
	FilePath            string     `json:"file_path" db:"file_path"`
	FileType            string     `json:"file_type" db:"file_type"` // extension, lowercased, with dot
	SizeBytes           int64      `json:"size_bytes" db:"size_bytes"`
	Status              string     `json:"status" db:"status"` // "pending", "processing", "completed", "error"
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty" db:"processing_started_at"`
	ProcessingTime      float64    `json:"processing_time_seconds" db:"processing_time_seconds"`
	ErrorMessage        string     `json:"error_message,omitempty" db:"error_message"`
	Metadata            string     `json:"metadata,omitempty" db:"metadata"` // JSON blob
}

// File status constants
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusError      = "error"
)

// PendingFile is the claim-loop projection of a file row.
type PendingFile struct {
	FileID   int64  `json:"file_id" db:"file_id"`
	FilePath string `json:"file_path" db:"file_path"`
}

// FileInfo describes a discovered file before registration.
type FileInfo struct {
	Path string `json:"path"`
	Type string `json:"type"` // extension, lowercased
	Size int64  `json:"size"`
}

// FileStatistics is an aggregate status snapshot for one job.
type FileStatistics struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Error      int64 `json:"error"`
}

// ProgressPercent returns resolved files as a percentage of total.
func (s FileStatistics) ProgressPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed+s.Error) / float64(s.Total) * 100
}
