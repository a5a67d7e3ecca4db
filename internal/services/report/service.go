// Package report assembles operator findings reports from persisted scan
// results: headline numbers, per-type statistics, high-risk files and a
// capped detailed findings section.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
)

const (
	// highRiskLimit caps the high-risk files section.
	highRiskLimit = 20

	// findingsLimit caps the detailed findings section. Larger jobs get a
	// note pointing at the JSON export instead.
	findingsLimit = 50
)

// StoreProvider returns the current result store. The report service
// resolves it per call because Clear replaces the store instance.
type StoreProvider func() interfaces.ResultStore

// Service builds report summaries and charts for completed jobs.
type Service struct {
	stores StoreProvider
	logger *common.Logger
}

// NewService creates a report service.
func NewService(stores StoreProvider, logger *common.Logger) *Service {
	return &Service{stores: stores, logger: logger}
}

// Summary assembles the full findings report for jobID. A jobID of 0
// selects the most recent job.
func (s *Service) Summary(ctx context.Context, jobID int64) (*models.ReportSummary, error) {
	store := s.stores()

	var job *models.Job
	var err error
	if jobID == 0 {
		job, err = store.GetLatestJob(ctx)
	} else {
		job, err = store.GetJob(ctx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("report source job: %w", err)
	}

	stats, err := store.GetFileStatistics(ctx, job.JobID)
	if err != nil {
		return nil, fmt.Errorf("report statistics: %w", err)
	}

	typeCounts, err := store.EntityTypeCounts(ctx, job.JobID)
	if err != nil {
		return nil, fmt.Errorf("report entity counts: %w", err)
	}

	filesWithPII, err := store.CountFilesWithEntities(ctx, job.JobID)
	if err != nil {
		return nil, fmt.Errorf("report PII file count: %w", err)
	}

	highRisk, err := store.HighRiskFiles(ctx, job.JobID, models.HighRiskEntityTypes, highRiskLimit)
	if err != nil {
		return nil, fmt.Errorf("report high-risk files: %w", err)
	}

	findings, err := store.FilesWithFindings(ctx, job.JobID, findingsLimit+1)
	if err != nil {
		return nil, fmt.Errorf("report findings: %w", err)
	}

	summary := &models.ReportSummary{
		JobID:       job.JobID,
		Directory:   job.Directory,
		JobStatus:   job.Status,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Executive: models.ExecutiveSummary{
			FilesScanned:  stats.Completed + stats.Error,
			FilesWithPII:  filesWithPII,
			TotalEntities: totalEntities(typeCounts),
			HighRiskCount: int64(len(highRisk)),
			ErrorFiles:    stats.Error,
		},
		EntityStats: entityStats(typeCounts),
		HighRisk:    highRisk,
	}

	if len(findings) > findingsLimit {
		summary.Findings = findings[:findingsLimit]
		summary.FindingsNote = fmt.Sprintf(
			"Showing first %d files with findings. Export the full results as JSON for the complete list.",
			findingsLimit)
	} else {
		summary.Findings = findings
	}

	s.logger.Info().
		Int64("job_id", job.JobID).
		Int64("files_with_pii", filesWithPII).
		Int("entity_types", len(summary.EntityStats)).
		Msg("Report summary assembled")

	return summary, nil
}

// EntityChart renders the per-type detection counts as a PNG bar chart
// for jobID. A jobID of 0 selects the most recent job.
func (s *Service) EntityChart(ctx context.Context, jobID int64) ([]byte, error) {
	store := s.stores()

	if jobID == 0 {
		job, err := store.GetLatestJob(ctx)
		if err != nil {
			return nil, fmt.Errorf("chart source job: %w", err)
		}
		jobID = job.JobID
	}

	counts, err := store.EntityTypeCounts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("chart entity counts: %w", err)
	}

	return RenderEntityChart(counts)
}

func totalEntities(counts []models.EntityTypeCount) int64 {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return total
}

// entityStats decorates the aggregate counts with display names and the
// high-risk flag. The store already orders by count descending.
func entityStats(counts []models.EntityTypeCount) []models.EntityTypeStat {
	stats := make([]models.EntityTypeStat, len(counts))
	for i, c := range counts {
		stats[i] = models.EntityTypeStat{
			EntityType:  c.EntityType,
			DisplayName: models.EntityDisplayName(c.EntityType),
			Count:       c.Count,
			MaxScore:    c.MaxScore,
			HighRisk:    models.IsHighRisk(c.EntityType),
		}
	}
	return stats
}
