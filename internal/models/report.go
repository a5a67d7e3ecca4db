package models

// EntityTypeCount aggregates detections of one entity type across a job.
type EntityTypeCount struct {
	EntityType string  `json:"entity_type" db:"entity_type"`
	Count      int64   `json:"count" db:"count"`
	MaxScore   float64 `json:"max_score" db:"max_score"`
}

// HighRiskFile is a file containing at least one high-risk entity.
type HighRiskFile struct {
	FileID      int64    `json:"file_id" db:"file_id"`
	FilePath    string   `json:"file_path" db:"file_path"`
	EntityCount int64    `json:"entity_count" db:"entity_count"`
	EntityTypes []string `json:"entity_types"`
}

// ReportSummary mirrors the sections of the operator findings report:
// executive summary, per-type statistics, high-risk files and detailed
// findings (capped).
type ReportSummary struct {
	JobID       int64  `json:"job_id"`
	Directory   string `json:"directory"`
	JobStatus   string `json:"job_status"`
	GeneratedAt string `json:"generated_at"`

	Executive    ExecutiveSummary  `json:"executive_summary"`
	EntityStats  []EntityTypeStat  `json:"entity_statistics"`
	HighRisk     []HighRiskFile    `json:"high_risk_files"`
	Findings     []FileFindings    `json:"detailed_findings"`
	FindingsNote string            `json:"findings_note,omitempty"`
}

// ExecutiveSummary is the headline numbers block.
type ExecutiveSummary struct {
	FilesScanned  int64 `json:"files_scanned"`
	FilesWithPII  int64 `json:"files_with_pii"`
	TotalEntities int64 `json:"total_entities"`
	HighRiskCount int64 `json:"high_risk_files"`
	ErrorFiles    int64 `json:"error_files"`
}

// EntityTypeStat is one row of the entity statistics table.
type EntityTypeStat struct {
	EntityType  string  `json:"entity_type"`
	DisplayName string  `json:"display_name"`
	Count       int64   `json:"count"`
	MaxScore    float64 `json:"max_score"`
	HighRisk    bool    `json:"high_risk"`
}

// FileFindings lists one file's detections for the detailed section.
type FileFindings struct {
	FilePath string   `json:"file_path"`
	Entities []Entity `json:"entities"`
}
