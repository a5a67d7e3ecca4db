// Package scanner discovers candidate documents under a directory tree
// and registers them with the result store in batches.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
)

// DefaultExtensions is the accepted document whitelist, lowercased.
var DefaultExtensions = map[string]bool{
	".txt": true, ".pdf": true, ".docx": true, ".doc": true, ".rtf": true,
	".xlsx": true, ".xls": true, ".csv": true, ".tsv": true,
	".pptx": true, ".ppt": true,
	".json": true, ".xml": true, ".html": true, ".htm": true,
	".md": true, ".log": true, ".eml": true, ".msg": true,
}

// registerBatchSize is how many discovered files are buffered before a
// bulk RegisterFiles call.
const registerBatchSize = 500

// Scanner walks a tree and registers matching files for a job.
type Scanner struct {
	extensions map[string]bool
	sizeLimit  int64 // bytes; 0 disables the size filter
	logger     *common.Logger

	// progressLimiter keeps large trees from flooding the event sink.
	progressLimiter *rate.Limiter
}

// NewScanner creates a scanner over the default extension whitelist.
// sizeLimit of 0 disables size filtering during discovery.
func NewScanner(sizeLimit int64, logger *common.Logger) *Scanner {
	return &Scanner{
		extensions:      DefaultExtensions,
		sizeLimit:       sizeLimit,
		logger:          logger,
		progressLimiter: rate.NewLimiter(rate.Limit(10), 1),
	}
}

// Scan walks root, filters by extension, registers files for jobID in
// batches and reports progress through cb. The context acts as the stop
// signal: a raised stop aborts the walk between files, after flushing the
// files discovered so far.
func (s *Scanner) Scan(ctx context.Context, store interfaces.ResultStore, jobID int64, root string, cb interfaces.ProgressFunc) (int64, error) {
	start := time.Now()
	var scanned, added int64
	batch := make([]models.FileInfo, 0, registerBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := store.RegisterFiles(ctx, jobID, batch)
		if err != nil {
			return err
		}
		added += n
		batch = batch[:0]
		return nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are logged and skipped, not fatal.
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !s.extensions[ext] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping file without stat info")
			return nil
		}
		if s.sizeLimit > 0 && info.Size() > s.sizeLimit {
			s.logger.Debug().Str("path", path).Int64("size", info.Size()).Msg("Skipping oversize file at discovery")
			return nil
		}

		batch = append(batch, models.FileInfo{Path: path, Type: ext, Size: info.Size()})
		scanned++

		if len(batch) >= registerBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}

		if cb != nil && s.progressLimiter.Allow() {
			cb(models.ProgressEvent{
				Type:         models.EventProgress,
				Timestamp:    time.Now(),
				JobID:        jobID,
				FilesScanned: scanned,
			})
		}
		return nil
	})

	// Flush what was found even when the walk was stopped, so a stopped
	// scan leaves a registered prefix rather than nothing.
	if err := flush(); err != nil {
		return added, fmt.Errorf("failed to register discovered files: %w", err)
	}

	if walkErr != nil && !isContextErr(walkErr) {
		return added, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}

	s.logger.Info().
		Int64("scanned", scanned).
		Int64("added", added).
		Dur("elapsed", time.Since(start)).
		Bool("stopped", isContextErr(walkErr)).
		Msg("Directory scan finished")

	if isContextErr(walkErr) {
		return added, walkErr
	}
	return added, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
