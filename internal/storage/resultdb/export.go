package resultdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmcrae/piiscan/internal/models"
)

// exportSnapshot is the JSON document returned by ExportToJSON.
type exportSnapshot struct {
	Job        *models.Job           `json:"job"`
	Statistics models.FileStatistics `json:"statistics"`
	Files      []exportFile          `json:"files"`
	ExportedAt time.Time             `json:"exported_at"`
}

type exportFile struct {
	models.FileRecord
	Entities []models.Entity `json:"entities"`
}

// ExportToJSON renders a read-only snapshot of the job, its file rows and
// their entities. Reads are not wrapped in a transaction; counters may
// advance between queries but each row is internally consistent.
func (s *Store) ExportToJSON(ctx context.Context, jobID int64) ([]byte, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	stats, err := s.GetFileStatistics(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var files []models.FileRecord
	if err := s.db.SelectContext(ctx, &files,
		`SELECT * FROM files WHERE job_id = ? ORDER BY file_id ASC`, jobID); err != nil {
		return nil, fmt.Errorf("failed to read files for export of job %d: %w", jobID, err)
	}

	var entities []models.Entity
	if err := s.db.SelectContext(ctx, &entities,
		`SELECT e.* FROM entities e JOIN files f ON f.file_id = e.file_id
		 WHERE f.job_id = ? ORDER BY e.entity_id ASC`, jobID); err != nil {
		return nil, fmt.Errorf("failed to read entities for export of job %d: %w", jobID, err)
	}

	byFile := make(map[int64][]models.Entity, len(files))
	for _, e := range entities {
		byFile[e.FileID] = append(byFile[e.FileID], e)
	}

	snapshot := exportSnapshot{
		Job:        job,
		Statistics: stats,
		Files:      make([]exportFile, 0, len(files)),
		ExportedAt: time.Now().UTC(),
	}
	for _, f := range files {
		ents := byFile[f.FileID]
		if ents == nil {
			ents = []models.Entity{}
		}
		snapshot.Files = append(snapshot.Files, exportFile{FileRecord: f, Entities: ents})
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export of job %d: %w", jobID, err)
	}
	return data, nil
}

func (s *Store) GetFileEntities(ctx context.Context, fileID int64) ([]models.Entity, error) {
	var entities []models.Entity
	err := s.db.SelectContext(ctx, &entities,
		`SELECT * FROM entities WHERE file_id = ? ORDER BY entity_id ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities for file %d: %w", fileID, err)
	}
	return entities, nil
}

// --- Report aggregates ---

func (s *Store) EntityTypeCounts(ctx context.Context, jobID int64) ([]models.EntityTypeCount, error) {
	var counts []models.EntityTypeCount
	err := s.db.SelectContext(ctx, &counts,
		`SELECT e.entity_type, COUNT(*) AS count, MAX(e.score) AS max_score
		 FROM entities e JOIN files f ON f.file_id = e.file_id
		 WHERE f.job_id = ?
		 GROUP BY e.entity_type
		 ORDER BY count DESC, e.entity_type ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entity types for job %d: %w", jobID, err)
	}
	return counts, nil
}

func (s *Store) HighRiskFiles(ctx context.Context, jobID int64, types []string, limit int) ([]models.HighRiskFile, error) {
	if len(types) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT f.file_id, f.file_path, COUNT(*) AS entity_count,
		        GROUP_CONCAT(DISTINCT e.entity_type) AS type_list
		 FROM files f JOIN entities e ON e.file_id = f.file_id
		 WHERE f.job_id = ? AND e.entity_type IN (?)
		 GROUP BY f.file_id, f.file_path
		 ORDER BY entity_count DESC, f.file_id ASC
		 LIMIT ?`, jobID, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build high-risk query: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query high-risk files for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var out []models.HighRiskFile
	for rows.Next() {
		var f models.HighRiskFile
		var typeList string
		if err := rows.Scan(&f.FileID, &f.FilePath, &f.EntityCount, &typeList); err != nil {
			return nil, fmt.Errorf("failed to scan high-risk row: %w", err)
		}
		if typeList != "" {
			f.EntityTypes = strings.Split(typeList, ",")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read high-risk rows: %w", err)
	}
	return out, nil
}

func (s *Store) CountFilesWithEntities(ctx context.Context, jobID int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(DISTINCT e.file_id) FROM entities e JOIN files f ON f.file_id = e.file_id WHERE f.job_id = ?`,
		jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to count files with entities for job %d: %w", jobID, err)
	}
	return n, nil
}

func (s *Store) FilesWithFindings(ctx context.Context, jobID int64, limit int) ([]models.FileFindings, error) {
	var files []models.PendingFile
	err := s.db.SelectContext(ctx, &files,
		`SELECT DISTINCT f.file_id, f.file_path
		 FROM files f JOIN entities e ON e.file_id = f.file_id
		 WHERE f.job_id = ?
		 ORDER BY f.file_id ASC
		 LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list files with findings for job %d: %w", jobID, err)
	}

	out := make([]models.FileFindings, 0, len(files))
	for _, f := range files {
		entities, err := s.GetFileEntities(ctx, f.FileID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.FileFindings{FilePath: f.FilePath, Entities: entities})
	}
	return out, nil
}
