package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
)

// Subprocess runs each analysis in a separate OS process by invoking the
// piiscan-worker binary. Extraction crashes and leaks stay inside the
// child; the parent only parses a one-line JSON result from stdout.
type Subprocess struct {
	workerBin string
	logger    *common.Logger
}

// NewSubprocess creates a subprocess analyzer. workerBin is the path to
// the piiscan-worker binary; empty means re-exec the current executable,
// which works when server and worker are built into one binary directory.
func NewSubprocess(workerBin string, logger *common.Logger) (*Subprocess, error) {
	if workerBin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable for worker re-exec: %w", err)
		}
		workerBin = exe
	}
	return &Subprocess{workerBin: workerBin, logger: logger}, nil
}

// AnalyzeFile invokes the worker binary for path. The child gets twice the
// caller's remaining deadline before it is killed, so a worker that
// overruns its slot can still finish in the background while the
// scheduler has already recorded the timeout.
func (a *Subprocess) AnalyzeFile(ctx context.Context, path string, settings models.Settings) (*models.AnalysisResult, error) {
	start := time.Now()

	childCtx := context.Background()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		childCtx, cancel = context.WithDeadline(childCtx, time.Now().Add(2*time.Until(deadline)))
		defer cancel()
	}

	args := []string{
		"--worker",
		"--file", path,
		"--threshold", strconv.FormatFloat(settings.Threshold, 'f', -1, 64),
		"--size-limit", strconv.FormatInt(settings.FileSizeLimit, 10),
	}
	if settings.WorkerID != "" {
		args = append(args, "--worker-id", settings.WorkerID)
	}

	cmd := exec.CommandContext(childCtx, a.workerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker for %s: %w", path, err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// The scheduler's deadline fired. The child keeps its doubled
		// context and is reclaimed by CommandContext when that expires.
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			msg := stderr.String()
			if msg == "" {
				msg = err.Error()
			}
			return failed(start, fmt.Sprintf("Worker process failed: %s", truncate(msg, 500))), nil
		}
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return failed(start, fmt.Sprintf("Worker returned malformed output: %v", err)), nil
	}
	if result.ProcessingTime == 0 {
		result.ProcessingTime = time.Since(start).Seconds()
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
