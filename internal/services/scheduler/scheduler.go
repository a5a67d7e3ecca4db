// Package scheduler drives one job's analysis run: it claims pending
// files from the result store in bounded batches, fans them out to a
// worker pool under per-item deadlines, persists every outcome, and
// adapts concurrency and batch size to observed system load.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
)

const (
	// WorkerTimeout is the hard per-file deadline.
	WorkerTimeout = 180 * time.Second

	// ScalingInterval is how often the control law re-reads system load.
	ScalingInterval = 30 * time.Second

	// MaxConsecutiveErrors trips the circuit breaker.
	MaxConsecutiveErrors = 50
)

// Outcome is the terminal state of a scheduler run.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"   // no pending files remain
	OutcomeStopped     Outcome = "stopped"     // stop signal honored at a batch boundary
	OutcomeInterrupted Outcome = "interrupted" // circuit breaker tripped
)

// Result summarizes one run.
type Result struct {
	Outcome   Outcome
	Processed int64
	Errors    int64
	Elapsed   time.Duration
}

// Config carries the per-run construction parameters.
type Config struct {
	JobID     int64
	Workers   int // 0 = auto-size from system resources
	BatchSize int // 0 = MaxBatch
	Settings  models.Settings

	// Stop is the cooperative stop signal. A closed channel stops the
	// scheduler at the next batch boundary; in-flight work drains.
	Stop <-chan struct{}

	// Timeout and Interval override the per-file deadline and adaptation
	// cadence. Zero means the production constants. Tests shrink these.
	Timeout  time.Duration
	Interval time.Duration

	// AdaptImmediately makes the first batch run the control law instead
	// of waiting out one full interval.
	AdaptImmediately bool
}

// Scheduler executes one job. Not reusable across jobs; construct per run.
type Scheduler struct {
	store    interfaces.ResultStore
	analyzer interfaces.Analyzer
	sampler  interfaces.LoadSampler
	sink     interfaces.ProgressSink
	logger   *common.Logger

	jobID    int64
	settings models.Settings
	stop     <-chan struct{}
	timeout  time.Duration
	interval time.Duration

	workers           int
	batchSize         int
	consecutiveErrors int
	lastAdaptation    time.Time

	processed int64
	errors    int64
}

// NewScheduler builds a scheduler for one job. sink may be nil.
func NewScheduler(
	store interfaces.ResultStore,
	analyzer interfaces.Analyzer,
	sampler interfaces.LoadSampler,
	sink interfaces.ProgressSink,
	logger *common.Logger,
	cfg Config,
) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = InitialWorkers(sampler)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = MaxBatch
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = WorkerTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = ScalingInterval
	}
	stop := cfg.Stop
	if stop == nil {
		stop = make(chan struct{})
	}

	lastAdaptation := time.Now()
	if cfg.AdaptImmediately {
		lastAdaptation = time.Time{}
	}

	return &Scheduler{
		store:          store,
		analyzer:       analyzer,
		sampler:        sampler,
		sink:           sink,
		logger:         logger,
		jobID:          cfg.JobID,
		settings:       cfg.Settings,
		stop:           stop,
		timeout:        timeout,
		interval:       interval,
		workers:        workers,
		batchSize:      batchSize,
		lastAdaptation: lastAdaptation,
	}
}

// Workers returns the current concurrency target. Adjustments apply at
// batch boundaries only.
func (s *Scheduler) Workers() int { return s.workers }

// BatchSize returns the current batch size target.
func (s *Scheduler) BatchSize() int { return s.batchSize }

// Run executes batches until the job drains, the stop signal is raised,
// or the circuit breaker trips. A non-nil error means a store failure;
// the run is abandoned and in-flight rows stay in processing for a later
// recovery pass.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	s.logger.Info().
		Int64("job_id", s.jobID).
		Int("workers", s.workers).
		Int("batch_size", s.batchSize).
		Msg("Scheduler starting")

	outcome := OutcomeCompleted
	for {
		if s.stopped() {
			outcome = OutcomeStopped
			break
		}

		s.maybeAdapt(ctx)

		pending, err := s.store.GetPendingFiles(ctx, s.jobID, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read pending batch: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		tripped, err := s.runBatch(ctx, pending)
		if err != nil {
			return nil, err
		}
		if tripped {
			outcome = OutcomeInterrupted
			break
		}
		if s.stopped() {
			outcome = OutcomeStopped
			break
		}
	}

	elapsed := time.Since(start)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(s.processed) / elapsed.Seconds()
	}
	s.logger.Info().
		Int64("job_id", s.jobID).
		Str("outcome", string(outcome)).
		Int64("processed", s.processed).
		Int64("errors", s.errors).
		Float64("rate", rate).
		Dur("elapsed", elapsed).
		Msg("Scheduler finished")

	return &Result{
		Outcome:   outcome,
		Processed: s.processed,
		Errors:    s.errors,
		Elapsed:   elapsed,
	}, nil
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// maybeAdapt runs the control law once per interval. The new targets take
// effect for the batch about to be claimed; work already in flight is
// never rebalanced.
func (s *Scheduler) maybeAdapt(ctx context.Context) {
	if time.Since(s.lastAdaptation) < s.interval {
		return
	}
	s.lastAdaptation = time.Now()

	snap, err := s.sampler.Snapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Load snapshot failed, keeping current targets")
		return
	}

	adj := nextTargets(s.workers, s.batchSize, snap)
	if adj.Workers == s.workers && adj.BatchSize == s.batchSize {
		s.logger.Debug().
			Float64("cpu", snap.CPUPercent).
			Float64("load_factor", snap.LoadFactor).
			Int("workers", s.workers).
			Msg("Utilization in range, targets unchanged")
		return
	}

	s.logger.Info().
		Str("rule", adj.Rule).
		Float64("cpu", snap.CPUPercent).
		Float64("memory", snap.MemoryPercent).
		Float64("load_factor", snap.LoadFactor).
		Int("old_workers", s.workers).
		Int("new_workers", adj.Workers).
		Int("old_batch", s.batchSize).
		Int("new_batch", adj.BatchSize).
		Msg("Adjusting targets for next batch")

	s.publish(models.ProgressEvent{
		Type:       models.EventScaling,
		Timestamp:  time.Now(),
		JobID:      s.jobID,
		OldWorkers: s.workers,
		Workers:    adj.Workers,
		BatchSize:  adj.BatchSize,
	})

	s.workers = adj.Workers
	s.batchSize = adj.BatchSize
}

// fileOutcome carries one worker's result back to the control goroutine.
type fileOutcome struct {
	fileID   int64
	filePath string
	result   *models.AnalysisResult
	err      error
	timedOut bool
	elapsed  time.Duration
}

// runBatch claims, submits and drains one batch. Returns true when the
// circuit breaker tripped. Store failures abort the run.
func (s *Scheduler) runBatch(ctx context.Context, pending []models.PendingFile) (bool, error) {
	batchStart := time.Now()
	results := make(chan fileOutcome, len(pending))
	sem := make(chan struct{}, s.workers)

	submitted := 0
	for i, file := range pending {
		claimed, err := s.store.MarkFileProcessing(ctx, file.FileID)
		if err != nil {
			return false, fmt.Errorf("failed to claim file %d: %w", file.FileID, err)
		}
		if !claimed {
			// Lost the race to another claimant; skip.
			continue
		}
		submitted++
		go s.analyzeOne(ctx, file, strconv.Itoa(i), sem, results)
	}

	var succeeded, failed int
	for done := 0; done < submitted; done++ {
		out := <-results
		if err := s.persistOutcome(ctx, out); err != nil {
			return false, err
		}
		if out.result != nil && out.result.Success && out.err == nil && !out.timedOut {
			succeeded++
		} else {
			failed++
		}

		if s.consecutiveErrors >= MaxConsecutiveErrors {
			s.logger.Error().
				Int("consecutive_errors", s.consecutiveErrors).
				Msg("Too many consecutive errors, stopping run")
			// The breaker ends the run, but in-flight work still drains
			// and every outcome is persisted.
			for done++; done < submitted; done++ {
				if err := s.persistOutcome(ctx, <-results); err != nil {
					return false, err
				}
			}
			return true, nil
		}
	}

	s.logger.Info().
		Int("submitted", submitted).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Dur("elapsed", time.Since(batchStart)).
		Msg("Batch completed")
	return false, nil
}

// analyzeOne runs in a worker goroutine: bounded by the semaphore,
// deadline-boxed, panic-isolated. It communicates with the scheduler only
// through the results channel.
func (s *Scheduler) analyzeOne(ctx context.Context, file models.PendingFile, workerID string, sem chan struct{}, results chan<- fileOutcome) {
	sem <- struct{}{}
	defer func() { <-sem }()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("file", file.FilePath).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in analysis worker")
			results <- fileOutcome{
				fileID:   file.FileID,
				filePath: file.FilePath,
				err:      fmt.Errorf("worker panic: %v", r),
				elapsed:  time.Since(start),
			}
		}
	}()

	settings := s.settings
	settings.WorkerID = workerID

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type ret struct {
		result *models.AnalysisResult
		err    error
	}
	done := make(chan ret, 1)
	go func() {
		r, err := s.analyzer.AnalyzeFile(actx, file.FilePath, settings)
		done <- ret{r, err}
	}()

	select {
	case <-actx.Done():
		// The analyzer overran its slot. Its goroutine finishes in the
		// background; a subprocess analyzer reclaims the child after one
		// additional deadline.
		results <- fileOutcome{
			fileID:   file.FileID,
			filePath: file.FilePath,
			timedOut: true,
			elapsed:  time.Since(start),
		}
	case r := <-done:
		timedOut := r.err != nil && actx.Err() != nil
		results <- fileOutcome{
			fileID:   file.FileID,
			filePath: file.FilePath,
			result:   r.result,
			err:      r.err,
			timedOut: timedOut,
			elapsed:  time.Since(start),
		}
	}
}

// persistOutcome writes one file's terminal state and emits the progress
// event, strictly in that order. Store failures propagate up and abort
// the run.
func (s *Scheduler) persistOutcome(ctx context.Context, out fileOutcome) error {
	switch {
	case out.timedOut:
		msg := fmt.Sprintf("Processing timeout (%ds)", int(s.timeout.Seconds()))
		if err := s.store.MarkFileError(ctx, out.fileID, s.jobID, msg); err != nil {
			return fmt.Errorf("failed to record timeout for file %d: %w", out.fileID, err)
		}
		s.errors++
		s.consecutiveErrors++
		s.logger.Warn().Str("file", filepath.Base(out.filePath)).Dur("elapsed", out.elapsed).Msg("Worker timed out")
		s.publishFileEvent(models.EventFileError, out, msg)

	case out.err != nil:
		msg := out.err.Error()
		if err := s.store.MarkFileError(ctx, out.fileID, s.jobID, msg); err != nil {
			return fmt.Errorf("failed to record worker failure for file %d: %w", out.fileID, err)
		}
		s.errors++
		s.consecutiveErrors++
		s.logger.Warn().Str("file", filepath.Base(out.filePath)).Str("error", msg).Msg("Worker failed")
		s.publishFileEvent(models.EventFileError, out, msg)

	case !out.result.Success:
		msg := out.result.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		if err := s.store.MarkFileError(ctx, out.fileID, s.jobID, msg); err != nil {
			return fmt.Errorf("failed to record analysis failure for file %d: %w", out.fileID, err)
		}
		s.errors++
		s.consecutiveErrors++
		s.logger.Warn().Str("file", filepath.Base(out.filePath)).Str("error", msg).Msg("Analysis failed")
		s.publishFileEvent(models.EventFileError, out, msg)

	default:
		processingTime := out.result.ProcessingTime
		if processingTime == 0 {
			processingTime = out.elapsed.Seconds()
		}
		if err := s.store.StoreFileResults(ctx, out.fileID, processingTime, out.result.Entities, out.result.Metadata); err != nil {
			return fmt.Errorf("failed to store results for file %d: %w", out.fileID, err)
		}
		if err := s.store.MarkFileCompleted(ctx, out.fileID, s.jobID); err != nil {
			// The row left processing underneath us, typically a recovery
			// reset racing the completion. Never silently succeed.
			s.errors++
			s.consecutiveErrors++
			s.logger.Error().Err(err).Str("file", out.filePath).Msg("Completion transition rejected")
			s.publishFileEvent(models.EventFileError, out, err.Error())
			return nil
		}
		s.processed++
		s.consecutiveErrors = 0
		s.logger.Debug().
			Str("file", filepath.Base(out.filePath)).
			Int("entities", len(out.result.Entities)).
			Dur("elapsed", out.elapsed).
			Msg("File completed")
		s.publishFileEvent(models.EventFileCompleted, out, "")
	}
	return nil
}

func (s *Scheduler) publishFileEvent(eventType string, out fileOutcome, errMsg string) {
	s.publish(models.ProgressEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		JobID:     s.jobID,
		FileID:    out.fileID,
		FilePath:  out.filePath,
		Error:     errMsg,
	})
}

func (s *Scheduler) publish(event models.ProgressEvent) {
	if s.sink == nil || s.stopped() {
		return
	}
	s.sink.Publish(event)
}
