package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcrae/piiscan/internal/analyzer"
	"github.com/jmcrae/piiscan/internal/app"
	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
	"github.com/jmcrae/piiscan/internal/scanner"
	"github.com/jmcrae/piiscan/internal/services/analysis"
	"github.com/jmcrae/piiscan/internal/services/progress"
	"github.com/jmcrae/piiscan/internal/services/report"
	"github.com/jmcrae/piiscan/internal/storage/resultdb"
	"github.com/jmcrae/piiscan/internal/sysload"
)

// throttledAnalyzer wraps the in-process analyzer with a fixed delay so
// tests can observe a run in flight.
type throttledAnalyzer struct {
	inner interfaces.Analyzer
	delay time.Duration
}

func (a throttledAnalyzer) AnalyzeFile(ctx context.Context, path string, settings models.Settings) (*models.AnalysisResult, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return a.inner.AnalyzeFile(ctx, path, settings)
}

// newTestApp assembles an App around a temp database, the in-process
// analyzer and a data directory holding count small documents.
func newTestApp(t *testing.T, count int) *app.App {
	return newTestAppWithAnalyzer(t, count, nil)
}

func newTestAppWithAnalyzer(t *testing.T, count int, az interfaces.Analyzer) *app.App {
	t.Helper()
	logger := common.NewSilentLogger()

	dataPath := t.TempDir()
	for i := 0; i < count; i++ {
		path := filepath.Join(dataPath, fmt.Sprintf("doc-%03d.txt", i))
		content := "reach me at person@example.com or 555-867-5309"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg := common.NewDefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "results.db")
	cfg.Analysis.DataPath = dataPath

	reopen := func() (interfaces.ResultStore, error) {
		return resultdb.NewStore(logger, cfg.Storage.DBPath)
	}
	store, err := reopen()
	require.NoError(t, err)

	hub := progress.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	if az == nil {
		az = analyzer.NewLocal(logger)
	}

	analysisService := analysis.NewService(
		store,
		reopen,
		az,
		scanner.NewScanner(0, logger),
		sysload.NewSampler(logger),
		hub,
		logger,
		analysis.Config{
			DataPath:  dataPath,
			Workers:   2,
			BatchSize: 10,
			Settings:  models.Settings{Threshold: 0.5},
		},
	)
	t.Cleanup(func() { analysisService.Store().Close() })

	return &app.App{
		Config:      cfg,
		Logger:      logger,
		Hub:         hub,
		Analysis:    analysisService,
		Report:      report.NewService(analysisService.Store, logger),
		StartupTime: time.Now(),
	}
}

func newTestServer(t *testing.T, count int) (*httptest.Server, *app.App) {
	t.Helper()
	a := newTestApp(t, count)
	srv := httptest.NewServer(NewServer(a).Handler())
	t.Cleanup(srv.Close)
	return srv, a
}

func postJSON(t *testing.T, url string) (*http.Response, models.OpResult) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res models.OpResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp, res
}

func waitForTerminal(t *testing.T, a *app.App) string {
	t.Helper()
	var state string
	require.Eventually(t, func() bool {
		state = a.Analysis.State()
		return state == models.StateCompleted || state == models.StateIdle || state == models.StateError
	}, 15*time.Second, 20*time.Millisecond, "run did not finish")
	return state
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, models.StateIdle, health["state"])

	resp, err = http.Get(srv.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	var version map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&version))
	assert.NotEmpty(t, version["version"])
}

func TestStart_FullRunThroughAPI(t *testing.T) {
	srv, a := newTestServer(t, 8)

	resp, res := postJSON(t, srv.URL+"/start")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, res.Success)
	assert.Equal(t, models.StateScanning, res.State)

	assert.Equal(t, models.StateCompleted, waitForTerminal(t, a))

	statusResp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()

	var status models.ServiceStatus
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, models.StateCompleted, status.State)
	assert.False(t, status.IsRunning)
	require.NotNil(t, status.Files)
	assert.Equal(t, int64(8), status.Files.Completed)
}

func TestStart_ConflictWhileRunning(t *testing.T) {
	a := newTestAppWithAnalyzer(t, 50, throttledAnalyzer{
		inner: analyzer.NewLocal(common.NewSilentLogger()),
		delay: 50 * time.Millisecond,
	})
	srv := httptest.NewServer(NewServer(a).Handler())
	t.Cleanup(srv.Close)

	_, res := postJSON(t, srv.URL+"/start")
	require.True(t, res.Success)

	resp, res := postJSON(t, srv.URL+"/start")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, res.Success)

	postJSON(t, srv.URL+"/stop")
	waitForTerminal(t, a)
}

func TestStop_WithoutRun(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, res := postJSON(t, srv.URL+"/stop")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "No analysis is running")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + "/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))

	postResp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer postResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, postResp.StatusCode)
}

func TestExport(t *testing.T) {
	srv, a := newTestServer(t, 3)

	// Nothing stored yet.
	resp, err := http.Get(srv.URL + "/export")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	postJSON(t, srv.URL+"/start")
	waitForTerminal(t, a)

	resp, err = http.Get(srv.URL + "/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "pii_results_job_")

	var snapshot map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Contains(t, snapshot, "job")
	assert.Contains(t, snapshot, "files")
}

func TestEstimate_NoJobs(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + "/estimate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEstimate_AfterRun(t *testing.T) {
	srv, a := newTestServer(t, 5)

	postJSON(t, srv.URL+"/start")
	waitForTerminal(t, a)

	resp, err := http.Get(srv.URL + "/estimate")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var est models.Estimate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&est))
	assert.Equal(t, int64(5), est.TotalFiles)
	assert.Zero(t, est.RemainingFiles)
}

func TestReportSummaryAndChart(t *testing.T) {
	srv, a := newTestServer(t, 4)

	postJSON(t, srv.URL+"/start")
	waitForTerminal(t, a)

	resp, err := http.Get(srv.URL + "/report/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary models.ReportSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, int64(4), summary.Executive.FilesScanned)
	assert.Equal(t, int64(4), summary.Executive.FilesWithPII, "every document carries an email address")
	assert.NotEmpty(t, summary.EntityStats)

	chartResp, err := http.Get(srv.URL + "/report/chart")
	require.NoError(t, err)
	defer chartResp.Body.Close()
	require.Equal(t, http.StatusOK, chartResp.StatusCode)
	assert.Equal(t, "image/png", chartResp.Header.Get("Content-Type"))
}

func TestReportSummary_BadJobID(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + "/report/summary?job_id=banana")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearAndRecoverThroughAPI(t *testing.T) {
	srv, a := newTestServer(t, 3)

	postJSON(t, srv.URL+"/start")
	waitForTerminal(t, a)

	resp, res := postJSON(t, srv.URL+"/clear")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, res.Success)

	// Nothing left to recover after the wipe.
	resp, res = postJSON(t, srv.URL+"/recover")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, res.Success)
}

func TestProgressWebSocket(t *testing.T) {
	srv, a := newTestServer(t, 5)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return a.Hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	postJSON(t, srv.URL+"/start")

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.ProgressEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.NotEmpty(t, event.Type)

	waitForTerminal(t, a)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCorrelationIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc123", resp.Header.Get("X-Correlation-ID"))
}
