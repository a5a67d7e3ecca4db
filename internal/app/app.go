// Package app wires configuration, storage, analysis and reporting into
// the shared core used by cmd/piiscan-server.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcrae/piiscan/internal/analyzer"
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

// App holds all initialized services and shared infrastructure.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Hub         *progress.Hub
	Analysis    *analysis.Service
	Report      *report.Service
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, the result store and all services.
// configPath may be empty, in which case the default resolution logic is
// used: PII_CONFIG, then piiscan.toml next to the binary, then the
// development fallback.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("PII_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "piiscan.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/piiscan.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve a relative database path to the binary directory so the
	// server is self-contained wherever it is installed.
	if config.Storage.DBPath != "" && !filepath.IsAbs(config.Storage.DBPath) {
		config.Storage.DBPath = filepath.Join(binDir, config.Storage.DBPath)
	}

	logger := common.NewLogger(config.Logging.Level)

	reopen := func() (interfaces.ResultStore, error) {
		return resultdb.NewStore(logger.Component("resultdb"), config.Storage.DBPath)
	}
	store, err := reopen()
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	hub := progress.NewHub(logger.Component("progress"))
	go hub.Run()

	sampler := sysload.NewSampler(logger.Component("sysload"))

	worker, err := analyzer.NewSubprocess(config.Analysis.WorkerBin, logger.Component("analyzer"))
	if err != nil {
		store.Close()
		hub.Stop()
		return nil, fmt.Errorf("failed to resolve worker binary: %w", err)
	}

	settings := models.Settings{
		Threshold:     config.Analysis.Threshold,
		FileSizeLimit: config.Analysis.FileSizeLimitBytes(),
	}
	if err := settings.Validate(); err != nil {
		store.Close()
		hub.Stop()
		return nil, fmt.Errorf("invalid analysis settings: %w", err)
	}

	analysisService := analysis.NewService(
		store,
		reopen,
		worker,
		scanner.NewScanner(config.Analysis.FileSizeLimitBytes(), logger.Component("scanner")),
		sampler,
		hub,
		logger.Component("analysis"),
		analysis.Config{
			DataPath:  config.Analysis.DataPath,
			Workers:   config.Analysis.Workers,
			BatchSize: config.Analysis.BatchSize,
			Settings:  settings,
		},
	)

	reportService := report.NewService(analysisService.Store, logger.Component("report"))

	logger.Info().
		Str("db_path", config.Storage.DBPath).
		Str("data_path", config.Analysis.DataPath).
		Dur("startup", time.Since(startupStart)).
		Msg("Application initialized")

	return &App{
		Config:      config,
		Logger:      logger,
		Hub:         hub,
		Analysis:    analysisService,
		Report:      reportService,
		StartupTime: time.Now(),
	}, nil
}

// Close releases the hub and the result store.
func (a *App) Close() {
	a.Hub.Stop()
	if err := a.Analysis.Store().Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close result store")
	}
}
