// Package analysis implements the lifecycle controller for PII analysis
// runs. One Service instance exists per process; it owns the coarse state
// machine (idle -> scanning -> processing -> completed/idle, stopping
// transient, error terminal) and coordinates the discovery pass with the
// adaptive scheduler.
package analysis

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
	"github.com/jmcrae/piiscan/internal/services/scheduler"
)

// StoreFactory reopens the result store after Clear removed its database.
type StoreFactory func() (interfaces.ResultStore, error)

// Config carries the run parameters the service hands to each scheduler.
type Config struct {
	DataPath  string
	Workers   int // 0 = auto-sized
	BatchSize int
	Settings  models.Settings

	// Timeout and Interval override scheduler constants in tests.
	Timeout  time.Duration
	Interval time.Duration
}

// Service is the process-wide lifecycle controller. All state is guarded
// by one mutex; Status readers see a consistent snapshot.
type Service struct {
	mu           sync.Mutex
	state        string
	currentJobID int64
	stopCh       chan struct{}
	errorMessage string
	startTime    *time.Time
	endTime      *time.Time
	filesScanned int64

	store    interfaces.ResultStore
	reopen   StoreFactory
	analyzer interfaces.Analyzer
	scanner  interfaces.DirectoryScanner
	sampler  interfaces.LoadSampler
	sink     interfaces.ProgressSink
	logger   *common.Logger
	cfg      Config
}

// NewService builds the controller and recovers orphans: jobs left in
// running by a crashed process are marked interrupted and their stalled
// processing rows reset to pending.
func NewService(
	store interfaces.ResultStore,
	reopen StoreFactory,
	analyzer interfaces.Analyzer,
	scan interfaces.DirectoryScanner,
	sampler interfaces.LoadSampler,
	sink interfaces.ProgressSink,
	logger *common.Logger,
	cfg Config,
) *Service {
	s := &Service{
		state:    models.StateIdle,
		stopCh:   make(chan struct{}),
		store:    store,
		reopen:   reopen,
		analyzer: analyzer,
		scanner:  scan,
		sampler:  sampler,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
	}
	s.recoverOrphans()
	return s
}

func (s *Service) recoverOrphans() {
	ctx := context.Background()
	jobs, err := s.store.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Orphan recovery scan failed")
		return
	}
	for _, job := range jobs {
		n, err := s.store.ResetStalledFiles(ctx, job.JobID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("job_id", job.JobID).Msg("Failed to reset stalled files for orphaned job")
			continue
		}
		if err := s.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusInterrupted); err != nil {
			s.logger.Warn().Err(err).Int64("job_id", job.JobID).Msg("Failed to mark orphaned job interrupted")
			continue
		}
		s.logger.Info().Int64("job_id", job.JobID).Int64("reset", n).Msg("Recovered orphaned running job")
	}
}

// Store returns the current result store. The pointer changes after
// Clear; callers must not cache it across operations.
func (s *Service) Store() interfaces.ResultStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// State returns the current lifecycle state.
func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) isRunningLocked() bool {
	return s.state == models.StateScanning || s.state == models.StateProcessing || s.state == models.StateStopping
}

func (s *Service) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Publish(models.ProgressEvent{
			Type:      models.EventStateChanged,
			Timestamp: time.Now(),
			State:     state,
		})
	}
}

// Start begins a new analysis run in the background. Guarded: refused
// while a run is active or when the data path is not a directory.
func (s *Service) Start() models.OpResult {
	s.mu.Lock()
	if s.isRunningLocked() {
		state := s.state
		s.mu.Unlock()
		return models.OpResult{Success: false, Error: "Analysis is already running", State: state}
	}

	info, err := os.Stat(s.cfg.DataPath)
	if err != nil || !info.IsDir() {
		state := s.state
		s.mu.Unlock()
		return models.OpResult{Success: false, Error: fmt.Sprintf("Data path does not exist: %s", s.cfg.DataPath), State: state}
	}

	s.stopCh = make(chan struct{})
	s.errorMessage = ""
	s.filesScanned = 0
	now := time.Now()
	s.startTime = &now
	s.endTime = nil
	s.currentJobID = 0
	s.state = models.StateScanning
	state := s.state
	s.mu.Unlock()

	go s.safeRun()

	s.logger.Info().Str("data_path", s.cfg.DataPath).Msg("Analysis started")
	return models.OpResult{Success: true, Message: "Analysis started", State: state}
}

// Stop raises the cooperative stop signal. In-flight work drains; the
// stop takes effect at the next batch boundary.
func (s *Service) Stop() models.OpResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunningLocked() {
		return models.OpResult{Success: false, Error: "No analysis is running", State: s.state}
	}

	s.state = models.StateStopping
	select {
	case <-s.stopCh:
		// already raised
	default:
		close(s.stopCh)
	}

	s.logger.Info().Msg("Stop requested for analysis")
	return models.OpResult{
		Success: true,
		Message: "Stop requested. Analysis will stop after current batch completes.",
		State:   s.state,
	}
}

// Clear removes the result database and resets the service to idle.
// Refused while a run is active.
func (s *Service) Clear() models.OpResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunningLocked() {
		return models.OpResult{Success: false, Error: "Cannot clear results while analysis is running", State: s.state}
	}

	dbPath := s.store.Path()
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close store before clear")
	}

	// WAL sidecars go with the main file.
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return models.OpResult{Success: false, Error: fmt.Sprintf("Failed to remove %s: %v", path, err), State: s.state}
		}
	}

	store, err := s.reopen()
	if err != nil {
		s.state = models.StateError
		s.errorMessage = err.Error()
		return models.OpResult{Success: false, Error: fmt.Sprintf("Failed to reopen store: %v", err), State: s.state}
	}
	s.store = store

	s.state = models.StateIdle
	s.currentJobID = 0
	s.errorMessage = ""
	s.startTime = nil
	s.endTime = nil
	s.filesScanned = 0

	s.logger.Info().Str("db_path", dbPath).Msg("Results cleared")
	return models.OpResult{Success: true, Message: "Results cleared successfully", State: s.state}
}

// Status returns the operator-facing snapshot, including a file-count
// breakdown when a job exists.
func (s *Service) Status(ctx context.Context) models.ServiceStatus {
	s.mu.Lock()
	status := models.ServiceStatus{
		State:        s.state,
		JobID:        s.currentJobID,
		FilesScanned: s.filesScanned,
		IsRunning:    s.isRunningLocked(),
		CanStart:     !s.isRunningLocked(),
		CanStop:      s.isRunningLocked(),
		StartTime:    s.startTime,
		EndTime:      s.endTime,
		Error:        s.errorMessage,
	}
	store := s.store
	jobID := s.currentJobID
	s.mu.Unlock()

	if status.StartTime != nil {
		end := time.Now()
		if status.EndTime != nil {
			end = *status.EndTime
		}
		status.ElapsedSeconds = end.Sub(*status.StartTime).Seconds()
	}

	if jobID != 0 {
		if stats, err := store.GetFileStatistics(ctx, jobID); err == nil {
			status.Files = &models.FileBreakdown{
				Total:           stats.Total,
				Pending:         stats.Pending,
				Processing:      stats.Processing,
				Completed:       stats.Completed,
				Error:           stats.Error,
				ProgressPercent: stats.ProgressPercent(),
			}
		} else {
			s.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to read file statistics for status")
		}
	}

	return status
}

// ExportJSON returns the store snapshot of the most recent job.
func (s *Service) ExportJSON(ctx context.Context) ([]byte, int64, error) {
	store := s.Store()
	job, err := store.GetLatestJob(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("no results to export: %w", err)
	}
	data, err := store.ExportToJSON(ctx, job.JobID)
	if err != nil {
		return nil, 0, err
	}
	return data, job.JobID, nil
}

// Estimate projects remaining run time from the rate observed so far.
// Rate is computed over resolved files only; a run with nothing resolved
// yet has no basis for a projection.
func (s *Service) Estimate(ctx context.Context) (models.Estimate, error) {
	s.mu.Lock()
	store := s.store
	jobID := s.currentJobID
	startTime := s.startTime
	endTime := s.endTime
	s.mu.Unlock()

	if jobID == 0 {
		job, err := store.GetLatestJob(ctx)
		if err != nil {
			return models.Estimate{}, fmt.Errorf("no jobs found: %w", err)
		}
		jobID = job.JobID
		startTime = &job.StartTime
		endTime = &job.LastUpdated
	}

	stats, err := store.GetFileStatistics(ctx, jobID)
	if err != nil {
		return models.Estimate{}, err
	}

	est := models.Estimate{
		Status:          s.State(),
		TotalFiles:      stats.Total,
		ProcessedFiles:  stats.Completed,
		ErrorFiles:      stats.Error,
		RemainingFiles:  stats.Pending + stats.Processing,
		PercentComplete: stats.ProgressPercent(),
	}

	resolved := stats.Completed + stats.Error
	if resolved == 0 || startTime == nil {
		est.Message = "Insufficient data to estimate completion time"
		return est, nil
	}

	end := time.Now()
	if endTime != nil && est.RemainingFiles == 0 {
		end = *endTime
	}
	elapsed := end.Sub(*startTime).Seconds()
	if elapsed <= 0 {
		est.Message = "Insufficient data to estimate completion time"
		return est, nil
	}

	est.ElapsedSeconds = elapsed
	est.ProcessingRate = float64(resolved) / elapsed
	if est.RemainingFiles > 0 && est.ProcessingRate > 0 {
		est.EstimatedSeconds = float64(est.RemainingFiles) / est.ProcessingRate
		est.EstimatedRemaining = humanizeDuration(time.Duration(est.EstimatedSeconds * float64(time.Second)))
	}
	return est, nil
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes %d seconds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// RecoverStalled resets processing rows of the most recent job back to
// pending and marks a still-running job interrupted. Refused mid-run.
func (s *Service) RecoverStalled(ctx context.Context) (int64, models.OpResult) {
	s.mu.Lock()
	if s.isRunningLocked() {
		state := s.state
		s.mu.Unlock()
		return 0, models.OpResult{Success: false, Error: "Cannot recover while analysis is running", State: state}
	}
	store := s.store
	state := s.state
	s.mu.Unlock()

	job, err := store.GetLatestJob(ctx)
	if err != nil {
		return 0, models.OpResult{Success: false, Error: "No jobs found", State: state}
	}

	if job.Status == models.JobStatusRunning {
		if err := store.UpdateJobStatus(ctx, job.JobID, models.JobStatusInterrupted); err != nil {
			return 0, models.OpResult{Success: false, Error: err.Error(), State: state}
		}
	}

	n, err := store.ResetStalledFiles(ctx, job.JobID)
	if err != nil {
		return 0, models.OpResult{Success: false, Error: err.Error(), State: state}
	}

	return n, models.OpResult{
		Success: true,
		Message: fmt.Sprintf("Reset %d stalled files to pending", n),
		State:   state,
		JobID:   job.JobID,
	}
}

// safeRun wraps the run routine so a panic lands in the error state
// instead of crashing the daemon.
func (s *Service) safeRun() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in analysis run")
			s.failRun(fmt.Errorf("run panic: %v", r))
		}
	}()

	if err := s.run(); err != nil {
		s.logger.Error().Err(err).Msg("Analysis run failed")
		s.failRun(err)
	}
}

func (s *Service) failRun(err error) {
	s.mu.Lock()
	s.state = models.StateError
	s.errorMessage = err.Error()
	now := time.Now()
	s.endTime = &now
	jobID := s.currentJobID
	store := s.store
	s.mu.Unlock()

	if jobID != 0 {
		if uerr := store.UpdateJobStatus(context.Background(), jobID, models.JobStatusError); uerr != nil {
			s.logger.Warn().Err(uerr).Int64("job_id", jobID).Msg("Failed to mark job errored")
		}
	}
}

func (s *Service) stopped() bool {
	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (s *Service) finish(state string) {
	s.mu.Lock()
	s.state = state
	now := time.Now()
	s.endTime = &now
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Publish(models.ProgressEvent{
			Type:      models.EventStateChanged,
			Timestamp: time.Now(),
			State:     state,
		})
	}
}

// run is the background routine driving one analysis: discovery, then
// scheduling, then terminal bookkeeping.
func (s *Service) run() error {
	ctx := context.Background()

	s.mu.Lock()
	store := s.store
	stop := s.stopCh
	s.mu.Unlock()

	jobID, err := store.CreateJob(ctx, s.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	s.mu.Lock()
	s.currentJobID = jobID
	s.mu.Unlock()
	s.logger.Info().Int64("job_id", jobID).Str("data_path", s.cfg.DataPath).Msg("Scanning directory")

	// The scan observes the stop signal through context cancellation.
	scanCtx, cancelScan := context.WithCancel(ctx)
	go func() {
		select {
		case <-stop:
			cancelScan()
		case <-scanCtx.Done():
		}
	}()

	added, scanErr := s.scanner.Scan(scanCtx, store, jobID, s.cfg.DataPath, s.onScanProgress)
	cancelScan()
	if scanErr != nil && !s.stopped() {
		return fmt.Errorf("directory scan failed: %w", scanErr)
	}

	if s.stopped() {
		s.logger.Info().Msg("Analysis stopped during scanning")
		if err := store.UpdateJobStatus(ctx, jobID, models.JobStatusInterrupted); err != nil {
			return err
		}
		s.finish(models.StateIdle)
		return nil
	}

	s.logger.Info().Int64("added", added).Msg("Scan complete")

	stats, err := store.GetFileStatistics(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read statistics after scan: %w", err)
	}
	if stats.Pending == 0 {
		s.logger.Info().Msg("No files to process")
		if err := store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted); err != nil {
			return err
		}
		s.finish(models.StateCompleted)
		return nil
	}

	s.setState(models.StateProcessing)
	if err := store.UpdateJobStatus(ctx, jobID, models.JobStatusRunning); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(store, s.analyzer, s.sampler, s.sink, s.logger, scheduler.Config{
		JobID:     jobID,
		Workers:   s.cfg.Workers,
		BatchSize: s.cfg.BatchSize,
		Settings:  s.cfg.Settings,
		Stop:      stop,
		Timeout:   s.cfg.Timeout,
		Interval:  s.cfg.Interval,
	})

	result, err := sched.Run(ctx)
	if err != nil {
		return fmt.Errorf("scheduler failed: %w", err)
	}

	switch result.Outcome {
	case scheduler.OutcomeStopped:
		if err := store.UpdateJobStatus(ctx, jobID, models.JobStatusInterrupted); err != nil {
			return err
		}
		s.finish(models.StateIdle)
		s.logger.Info().Msg("Analysis stopped by user")

	case scheduler.OutcomeCompleted:
		if err := store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted); err != nil {
			return err
		}
		s.finish(models.StateCompleted)
		s.logger.Info().Msg("Analysis completed successfully")

	default: // circuit break
		if err := store.UpdateJobStatus(ctx, jobID, models.JobStatusInterrupted); err != nil {
			return err
		}
		s.mu.Lock()
		s.errorMessage = fmt.Sprintf("Interrupted after %d consecutive errors", scheduler.MaxConsecutiveErrors)
		s.mu.Unlock()
		s.finish(models.StateIdle)
		s.logger.Warn().Msg("Analysis interrupted by circuit breaker")
	}

	return nil
}

func (s *Service) onScanProgress(event models.ProgressEvent) {
	if s.stopped() {
		return
	}
	s.mu.Lock()
	s.filesScanned = event.FilesScanned
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Publish(event)
	}
}
