// Package interfaces defines service contracts for piiscan
package interfaces

import (
	"context"

	"github.com/jmcrae/piiscan/internal/models"
)

// Analyzer inspects one file for PII. Implementations must honor the
// context deadline and must not panic across the call boundary; a failed
// analysis is reported through the result, not an error, unless the
// failure is in the calling machinery itself.
type Analyzer interface {
	// AnalyzeFile extracts text from the file at path and detects PII
	// entities above the settings threshold.
	AnalyzeFile(ctx context.Context, path string, settings models.Settings) (*models.AnalysisResult, error)
}

// LoadSampler reports system utilization for adaptive scaling decisions.
type LoadSampler interface {
	// Snapshot blocks for the CPU sampling window (0.5s) and returns a
	// consistent utilization reading.
	Snapshot(ctx context.Context) (models.LoadSnapshot, error)

	// CPUCount returns the logical CPU count.
	CPUCount() int

	// TotalMemoryGB returns total physical memory in gigabytes.
	TotalMemoryGB() float64
}

// DirectoryScanner enumerates candidate files under a root and registers
// them with the store in batches. The store is passed per call because
// clearing results replaces the store instance.
type DirectoryScanner interface {
	// Scan walks root, filters by the extension whitelist, registers files
	// for jobID and reports progress through cb. It honors stop between
	// files and returns the number of files added.
	Scan(ctx context.Context, store ResultStore, jobID int64, root string, cb ProgressFunc) (int64, error)
}

// ProgressFunc receives progress events during scanning and processing.
type ProgressFunc func(event models.ProgressEvent)

// ProgressSink fans progress events out to operator channels.
type ProgressSink interface {
	// Publish delivers one event. Must not block the caller.
	Publish(event models.ProgressEvent)
}
