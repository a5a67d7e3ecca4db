package server

import "net/http"

// registerRoutes wires the control API surface onto the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Lifecycle
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/recover", s.handleRecover)

	// Inspection
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/estimate", s.handleEstimate)

	// Reporting
	mux.HandleFunc("/report/summary", s.handleReportSummary)
	mux.HandleFunc("/report/chart", s.handleReportChart)

	// Progress stream
	mux.HandleFunc("/ws/progress", s.app.Hub.ServeWS)

	// Operability
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
}
