// Package analyzer detects PII entities in single files. The Local
// analyzer runs extraction and detection in-process; the Subprocess
// analyzer shells each file out to the piiscan-worker binary for crash
// isolation.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
)

// Local analyzes files in-process. It backs the worker binary and the
// test suite; the scheduler's production path wraps it in a subprocess.
type Local struct {
	logger *common.Logger
}

// NewLocal creates an in-process analyzer.
func NewLocal(logger *common.Logger) *Local {
	return &Local{logger: logger}
}

// AnalyzeFile extracts text from the file at path and detects PII
// entities at or above settings.Threshold. Analysis failures (missing
// file, oversize, unreadable) are reported through the result, not the
// error return; the error return is reserved for calling-machinery
// failures such as a canceled context.
func (a *Local) AnalyzeFile(ctx context.Context, path string, settings models.Settings) (*models.AnalysisResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return failed(start, fmt.Sprintf("File not accessible: %v", err)), nil
	}
	if info.IsDir() {
		return failed(start, "Path is a directory"), nil
	}
	if settings.FileSizeLimit > 0 && info.Size() > settings.FileSizeLimit {
		return failed(start, fmt.Sprintf("File exceeds size limit (%d > %d bytes)", info.Size(), settings.FileSizeLimit)), nil
	}

	text, err := ExtractText(path)
	if err != nil {
		return failed(start, fmt.Sprintf("Text extraction failed: %v", err)), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entities := DetectEntities(text, settings.Threshold)

	result := &models.AnalysisResult{
		Success:        true,
		Entities:       entities,
		ProcessingTime: time.Since(start).Seconds(),
		Metadata: map[string]any{
			"file_type":    strings.ToLower(filepath.Ext(path)),
			"size_bytes":   info.Size(),
			"text_length":  len(text),
			"entity_count": len(entities),
			"threshold":    settings.Threshold,
		},
	}
	if settings.WorkerID != "" {
		result.Metadata["worker_id"] = settings.WorkerID
	}

	a.logger.Debug().
		Str("file", filepath.Base(path)).
		Int("entities", len(entities)).
		Float64("seconds", result.ProcessingTime).
		Msg("File analyzed")

	return result, nil
}

func failed(start time.Time, msg string) *models.AnalysisResult {
	return &models.AnalysisResult{
		Success:        false,
		ErrorMessage:   msg,
		ProcessingTime: time.Since(start).Seconds(),
	}
}
