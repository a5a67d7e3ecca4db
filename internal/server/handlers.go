package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/storage/resultdb"
)

// handleStart begins a new analysis run.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	res := s.app.Analysis.Start()
	if !res.Success {
		WriteJSON(w, http.StatusConflict, res)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleStop raises the cooperative stop signal.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	res := s.app.Analysis.Stop()
	if !res.Success {
		WriteJSON(w, http.StatusConflict, res)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleClear removes all stored results.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	res := s.app.Analysis.Clear()
	if !res.Success {
		WriteJSON(w, http.StatusConflict, res)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleRecover resets stalled rows of the most recent job.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	_, res := s.app.Analysis.RecoverStalled(r.Context())
	if !res.Success {
		WriteJSON(w, http.StatusConflict, res)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleStatus returns the service status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Analysis.Status(r.Context()))
}

// handleExport streams the JSON snapshot of the most recent job.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	data, jobID, err := s.app.Analysis.ExportJSON(r.Context())
	if err != nil {
		if errors.Is(err, resultdb.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No results to export")
			return
		}
		s.logger.Error().Err(err).Msg("Export failed")
		WriteError(w, http.StatusInternalServerError, "Export failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="pii_results_job_%d_%s.json"`, jobID, time.Now().Format("20060102_150405")))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleEstimate returns the completion-time projection.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	est, err := s.app.Analysis.Estimate(r.Context())
	if err != nil {
		WriteError(w, http.StatusNotFound, "No jobs found")
		return
	}
	WriteJSON(w, http.StatusOK, est)
}

// jobIDParam reads the optional job_id query parameter; 0 means latest.
func jobIDParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("job_id")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job_id %q", raw)
	}
	return id, nil
}

// handleReportSummary returns the aggregated findings report.
func (s *Server) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID, err := jobIDParam(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.app.Report.Summary(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, resultdb.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No jobs found")
			return
		}
		s.logger.Error().Err(err).Msg("Report summary failed")
		WriteError(w, http.StatusInternalServerError, "Report generation failed")
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// handleReportChart renders the entity-type bar chart as PNG.
func (s *Server) handleReportChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID, err := jobIDParam(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	png, err := s.app.Report.EntityChart(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, resultdb.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No jobs found")
			return
		}
		WriteError(w, http.StatusNotFound, "No detections to chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"state":          s.app.Analysis.State(),
		"uptime_seconds": time.Since(s.app.StartupTime).Seconds(),
	})
}

// handleVersion reports build information.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
