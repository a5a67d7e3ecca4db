package report

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
	"github.com/jmcrae/piiscan/internal/storage/resultdb"
)

// seedCompletedJob builds a finished job: fileCount files, every odd file
// carrying one SSN and one email, even files clean, the last file errored.
func seedCompletedJob(t *testing.T, fileCount int) (*resultdb.Store, int64) {
	t.Helper()
	store, err := resultdb.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	jobID, err := store.CreateJob(ctx, "/data")
	require.NoError(t, err)

	files := make([]models.FileInfo, fileCount)
	for i := range files {
		files[i] = models.FileInfo{Path: fmt.Sprintf("/data/doc-%03d.txt", i), Type: ".txt", Size: 100}
	}
	_, err = store.RegisterFiles(ctx, jobID, files)
	require.NoError(t, err)

	pending, err := store.GetPendingFiles(ctx, jobID, fileCount)
	require.NoError(t, err)
	require.Len(t, pending, fileCount)

	for i, pf := range pending {
		claimed, err := store.MarkFileProcessing(ctx, pf.FileID)
		require.NoError(t, err)
		require.True(t, claimed)

		if i == fileCount-1 {
			require.NoError(t, store.MarkFileError(ctx, pf.FileID, jobID, "extraction failed"))
			continue
		}

		var entities []models.DetectedEntity
		if i%2 == 1 {
			entities = []models.DetectedEntity{
				{EntityType: models.EntityTypeSSN, Text: "123-45-6789", Score: 0.99, StartPos: 0, EndPos: 11},
				{EntityType: models.EntityTypeEmail, Text: "a@b.com", Score: 0.95, StartPos: 20, EndPos: 27},
			}
		}
		require.NoError(t, store.StoreFileResults(ctx, pf.FileID, 0.01, entities, nil))
		require.NoError(t, store.MarkFileCompleted(ctx, pf.FileID, jobID))
	}

	require.NoError(t, store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted))
	return store, jobID
}

func provider(store *resultdb.Store) StoreProvider {
	return func() interfaces.ResultStore { return store }
}

func TestSummary(t *testing.T) {
	store, jobID := seedCompletedJob(t, 10)
	svc := NewService(provider(store), common.NewSilentLogger())

	summary, err := svc.Summary(context.Background(), jobID)
	require.NoError(t, err)

	assert.Equal(t, jobID, summary.JobID)
	assert.Equal(t, "/data", summary.Directory)
	assert.Equal(t, models.JobStatusCompleted, summary.JobStatus)
	assert.NotEmpty(t, summary.GeneratedAt)

	// 9 resolved via completion, 1 via error; files 1,3,5,7 carry PII.
	assert.Equal(t, int64(10), summary.Executive.FilesScanned)
	assert.Equal(t, int64(4), summary.Executive.FilesWithPII)
	assert.Equal(t, int64(8), summary.Executive.TotalEntities)
	assert.Equal(t, int64(4), summary.Executive.HighRiskCount)
	assert.Equal(t, int64(1), summary.Executive.ErrorFiles)

	require.Len(t, summary.EntityStats, 2)
	for _, stat := range summary.EntityStats {
		assert.Equal(t, int64(4), stat.Count)
		switch stat.EntityType {
		case models.EntityTypeSSN:
			assert.True(t, stat.HighRisk)
			assert.Equal(t, "Social Security Number (SSN)", stat.DisplayName)
		case models.EntityTypeEmail:
			assert.False(t, stat.HighRisk)
			assert.Equal(t, "Email Address", stat.DisplayName)
		default:
			t.Errorf("unexpected entity type %s", stat.EntityType)
		}
	}

	// High-risk section lists only SSN carriers.
	assert.Len(t, summary.HighRisk, 4)
	for _, f := range summary.HighRisk {
		assert.Contains(t, f.EntityTypes, models.EntityTypeSSN)
	}

	assert.Len(t, summary.Findings, 4)
	assert.Empty(t, summary.FindingsNote)
}

func TestSummary_LatestJobWhenZero(t *testing.T) {
	store, jobID := seedCompletedJob(t, 4)
	svc := NewService(provider(store), common.NewSilentLogger())

	summary, err := svc.Summary(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, jobID, summary.JobID)
}

func TestSummary_NoJobs(t *testing.T) {
	store, err := resultdb.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := NewService(provider(store), common.NewSilentLogger())
	_, err = svc.Summary(context.Background(), 0)
	assert.ErrorIs(t, err, resultdb.ErrNotFound)
}

func TestSummary_FindingsCapped(t *testing.T) {
	// 120 files, every odd one with findings: 59 carriers exceeds the cap.
	store, jobID := seedCompletedJob(t, 120)
	svc := NewService(provider(store), common.NewSilentLogger())

	summary, err := svc.Summary(context.Background(), jobID)
	require.NoError(t, err)
	assert.Len(t, summary.Findings, findingsLimit)
	assert.NotEmpty(t, summary.FindingsNote)
}

func TestRenderEntityChart(t *testing.T) {
	counts := []models.EntityTypeCount{
		{EntityType: models.EntityTypeSSN, Count: 12, MaxScore: 0.99},
		{EntityType: models.EntityTypeEmail, Count: 40, MaxScore: 0.95},
		{EntityType: models.EntityTypePhone, Count: 7, MaxScore: 0.75},
	}

	png, err := RenderEntityChart(counts)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderEntityChart_Empty(t *testing.T) {
	_, err := RenderEntityChart(nil)
	assert.Error(t, err)
}

func TestEntityChart_FromStore(t *testing.T) {
	store, _ := seedCompletedJob(t, 6)
	svc := NewService(provider(store), common.NewSilentLogger())

	png, err := svc.EntityChart(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
