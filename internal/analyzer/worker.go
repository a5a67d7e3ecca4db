package analyzer

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
)

// RunWorker executes one analysis in worker mode: parse flags, analyze the
// file in-process, write the result as a single JSON document to stdout.
// Diagnostics go to stderr only; stdout must stay parseable. Returns the
// process exit code.
//
// Both piiscan-worker and the server's --worker re-exec path land here.
func RunWorker(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		_         = fs.Bool("worker", false, "run in worker mode (accepted for re-exec compatibility)")
		file      = fs.String("file", "", "file to analyze")
		threshold = fs.Float64("threshold", 0.7, "confidence floor, [0,1]")
		sizeLimit = fs.Int64("size-limit", 0, "per-file size limit in bytes, 0 = unlimited")
		workerID  = fs.String("worker-id", "", "diagnostic worker tag")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "worker: --file is required")
		return 2
	}

	settings := models.Settings{
		Threshold:     *threshold,
		FileSizeLimit: *sizeLimit,
		WorkerID:      *workerID,
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(stderr, "worker: invalid settings: %v\n", err)
		return 2
	}

	// The parent enforces the deadline and kills the process; no timeout
	// is layered on here.
	local := NewLocal(common.NewSilentLogger())
	result, err := local.AnalyzeFile(context.Background(), *file, settings)
	if err != nil {
		fmt.Fprintf(stderr, "worker: analysis failed: %v\n", err)
		return 1
	}

	if err := json.NewEncoder(stdout).Encode(result); err != nil {
		fmt.Fprintf(stderr, "worker: failed to encode result: %v\n", err)
		return 1
	}
	return 0
}
