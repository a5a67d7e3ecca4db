package models

import "time"

// Service state constants. The lifecycle is
// idle -> scanning -> processing -> {completed | idle}, with "stopping"
// transient while a stop drains and "error" terminal on uncaught failure.
const (
	StateIdle       = "idle"
	StateScanning   = "scanning"
	StateProcessing = "processing"
	StateStopping   = "stopping"
	StateCompleted  = "completed"
	StateError      = "error"
)

// OpResult is the uniform response shape for lifecycle operations.
// Precondition failures set Success=false with Error and no side effects.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	State   string `json:"state"`
	JobID   int64  `json:"job_id,omitempty"`
}

// FileBreakdown is the status view of a job's file counts.
type FileBreakdown struct {
	Total           int64   `json:"total"`
	Pending         int64   `json:"pending"`
	Processing      int64   `json:"processing"`
	Completed       int64   `json:"completed"`
	Error           int64   `json:"error"`
	ProgressPercent float64 `json:"progress_percent"`
}

// ServiceStatus is the operator-facing snapshot returned by GET /status.
type ServiceStatus struct {
	State          string         `json:"state"`
	JobID          int64          `json:"job_id,omitempty"`
	FilesScanned   int64          `json:"files_scanned,omitempty"`
	IsRunning      bool           `json:"is_running"`
	CanStart       bool           `json:"can_start"`
	CanStop        bool           `json:"can_stop"`
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds,omitempty"`
	Error          string         `json:"error,omitempty"`
	Files          *FileBreakdown `json:"files,omitempty"`
}

// Estimate projects remaining run time from the processing rate so far.
type Estimate struct {
	Status             string  `json:"status"`
	TotalFiles         int64   `json:"total_files"`
	ProcessedFiles     int64   `json:"processed_files"`
	ErrorFiles         int64   `json:"error_files"`
	RemainingFiles     int64   `json:"remaining_files"`
	ElapsedSeconds     float64 `json:"elapsed_seconds,omitempty"`
	ProcessingRate     float64 `json:"processing_rate,omitempty"` // files/second
	EstimatedSeconds   float64 `json:"estimated_remaining_seconds,omitempty"`
	EstimatedRemaining string  `json:"estimated_remaining_time,omitempty"`
	PercentComplete    float64 `json:"percent_complete"`
	Message            string  `json:"message,omitempty"`
}
