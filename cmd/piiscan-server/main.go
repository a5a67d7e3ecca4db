package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmcrae/piiscan/internal/analyzer"
	"github.com/jmcrae/piiscan/internal/app"
	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/server"
)

func main() {
	// The default analyzer re-execs this binary with --worker; detect that
	// mode before any server machinery spins up.
	if len(os.Args) > 1 && os.Args[1] == "--worker" {
		os.Exit(analyzer.RunWorker(os.Args[1:], os.Stdout, os.Stderr))
	}

	configPath := os.Getenv("PII_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	srv := server.NewServer(a)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)).
		Msg("Server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")

	// A running analysis is stopped cooperatively; it drains the in-flight
	// batch and marks the job interrupted before the store closes.
	if res := a.Analysis.Stop(); res.Success {
		a.Logger.Info().Msg("Waiting for analysis to drain")
		deadline := time.Now().Add(30 * time.Second)
		for a.Analysis.Status(context.Background()).IsRunning && time.Now().Before(deadline) {
			time.Sleep(200 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	common.PrintShutdownBanner(a.Logger)
}
