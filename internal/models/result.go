package models

import "time"

// AnalysisResult is the analyzer's verdict for one file. The scheduler
// augments it with FileID, FilePath and its own timed ProcessingTime
// before persisting.
type AnalysisResult struct {
	Success        bool             `json:"success"`
	Entities       []DetectedEntity `json:"entities,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	ProcessingTime float64          `json:"processing_time,omitempty"` // seconds

	FileID   int64  `json:"file_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// ProgressEvent is broadcast to operators as a run advances.
type ProgressEvent struct {
	Type      string    `json:"type"` // "file_completed", "file_error", "progress", "scaling", "state_changed"
	Timestamp time.Time `json:"timestamp"`

	JobID        int64  `json:"job_id,omitempty"`
	FileID       int64  `json:"file_id,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	Error        string `json:"error,omitempty"`
	FilesScanned int64  `json:"files_scanned,omitempty"`
	State        string `json:"state,omitempty"`

	// Scaling fields; adjustments apply from the next batch only.
	Workers    int `json:"workers,omitempty"`
	OldWorkers int `json:"old_workers,omitempty"`
	BatchSize  int `json:"batch_size,omitempty"`
}

// Progress event type constants
const (
	EventFileCompleted = "file_completed"
	EventFileError     = "file_error"
	EventProgress      = "progress"
	EventScaling       = "scaling"
	EventStateChanged  = "state_changed"
)
