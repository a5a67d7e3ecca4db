// piiscan-worker analyzes one file and prints the result as JSON. The
// server runs one worker process per file so extraction crashes and
// memory leaks never take down the scheduler.
package main

import (
	"os"

	"github.com/jmcrae/piiscan/internal/analyzer"
)

func main() {
	os.Exit(analyzer.RunWorker(os.Args[1:], os.Stdout, os.Stderr))
}
