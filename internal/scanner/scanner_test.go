package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
	"github.com/jmcrae/piiscan/internal/storage/resultdb"
)

func newStore(t *testing.T) *resultdb.Store {
	t.Helper()
	store, err := resultdb.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestScan_RegistersWhitelistedFiles(t *testing.T) {
	store := newStore(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.txt"), "hello")
	touch(t, filepath.Join(root, "sub", "b.pdf"), "%PDF-1.4")
	touch(t, filepath.Join(root, "sub", "deep", "c.CSV"), "x,y") // extension matching is case-insensitive
	touch(t, filepath.Join(root, "ignored.exe"), "binary")
	touch(t, filepath.Join(root, "noext"), "data")

	ctx := context.Background()
	jobID, err := store.CreateJob(ctx, root)
	require.NoError(t, err)

	s := NewScanner(0, common.NewSilentLogger())
	added, err := s.Scan(ctx, store, jobID, root, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), added)

	stats, err := store.GetFileStatistics(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.Pending)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), job.TotalFiles)
}

func TestScan_EmptyTree(t *testing.T) {
	store := newStore(t)
	root := t.TempDir()

	ctx := context.Background()
	jobID, err := store.CreateJob(ctx, root)
	require.NoError(t, err)

	s := NewScanner(0, common.NewSilentLogger())
	added, err := s.Scan(ctx, store, jobID, root, nil)
	require.NoError(t, err)
	assert.Zero(t, added)

	stats, err := store.GetFileStatistics(ctx, jobID)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestScan_SizeFilter(t *testing.T) {
	store := newStore(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, "small.txt"), "ok")
	touch(t, filepath.Join(root, "large.txt"), "this one exceeds the tiny limit used by the test")

	ctx := context.Background()
	jobID, err := store.CreateJob(ctx, root)
	require.NoError(t, err)

	s := NewScanner(10, common.NewSilentLogger())
	added, err := s.Scan(ctx, store, jobID, root, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	pending, err := store.GetPendingFiles(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].FilePath, "small.txt")
}

func TestScan_RescanSkipsDuplicates(t *testing.T) {
	store := newStore(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.txt"), "x")

	ctx := context.Background()
	jobID, err := store.CreateJob(ctx, root)
	require.NoError(t, err)

	s := NewScanner(0, common.NewSilentLogger())
	added, err := s.Scan(ctx, store, jobID, root, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	added, err = s.Scan(ctx, store, jobID, root, nil)
	require.NoError(t, err)
	assert.Zero(t, added, "second pass over the same tree must add nothing")

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), job.TotalFiles)
}

func TestScan_ProgressEvents(t *testing.T) {
	store := newStore(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.txt"), "x")

	ctx := context.Background()
	jobID, err := store.CreateJob(ctx, root)
	require.NoError(t, err)

	var events []models.ProgressEvent
	s := NewScanner(0, common.NewSilentLogger())
	_, err = s.Scan(ctx, store, jobID, root, func(e models.ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventProgress, events[0].Type)
	assert.Equal(t, int64(1), events[0].FilesScanned)
}

func TestScan_StopAbortsWalk(t *testing.T) {
	store := newStore(t)
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		touch(t, filepath.Join(root, "f", string(rune('a'+i))+".txt"), "x")
	}

	jobID, err := store.CreateJob(context.Background(), root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner(0, common.NewSilentLogger())
	_, err = s.Scan(ctx, store, jobID, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
