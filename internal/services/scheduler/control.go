package scheduler

import (
	"github.com/jmcrae/piiscan/internal/interfaces"
	"github.com/jmcrae/piiscan/internal/models"
)

// Control-law constants. Tuned for document extraction workloads where
// each worker alternates storage reads with CPU-bound analysis.
const (
	TargetCPU          = 70.0
	MinCPU             = 60.0
	MaxCPU             = 80.0
	MaxLoadFactor      = 1.5
	CriticalLoadFactor = 2.0

	WorkerStep      = 10
	WorkerEmergency = 20
	BatchStep       = 10
	MinBatch        = 20
	MaxBatch        = 50
	MinWorkers      = 8

	// FallbackWorkers is used when the sampler cannot read the system.
	FallbackWorkers = 16
)

// adjustment describes one control-law decision for logging and the
// operator scaling event.
type adjustment struct {
	Workers   int
	BatchSize int
	Rule      string
}

// nextTargets applies the priority-ordered control law to one load
// snapshot. First matching rule wins; targets apply from the next batch.
func nextTargets(workers, batchSize int, snap models.LoadSnapshot) adjustment {
	switch {
	case snap.LoadFactor > CriticalLoadFactor:
		reduction := WorkerEmergency
		if workers/3 > reduction {
			reduction = workers / 3
		}
		return adjustment{
			Workers:   maxInt(MinWorkers, workers-reduction),
			BatchSize: MinBatch,
			Rule:      "critical_load",
		}

	case snap.LoadFactor > MaxLoadFactor:
		reduction := 2 * WorkerStep
		if workers/5 > reduction {
			reduction = workers / 5
		}
		return adjustment{
			Workers:   maxInt(MinWorkers, workers-reduction),
			BatchSize: batchSize,
			Rule:      "high_load",
		}

	case snap.CPUPercent < MinCPU && snap.MemoryPercent < 80 && snap.LoadFactor < 0.8:
		return adjustment{
			Workers:   workers + WorkerStep,
			BatchSize: minInt(MaxBatch, batchSize+BatchStep),
			Rule:      "underutilized",
		}

	case snap.CPUPercent > MaxCPU || snap.MemoryPercent > 90:
		return adjustment{
			Workers:   maxInt(MinWorkers, workers-WorkerStep),
			BatchSize: maxInt(MinBatch, batchSize-BatchStep),
			Rule:      "pressure",
		}

	default:
		return adjustment{Workers: workers, BatchSize: batchSize, Rule: "steady"}
	}
}

// InitialWorkers derives a starting worker count from system resources.
// Falls back to a fixed count when the sampler cannot read the host.
func InitialWorkers(sampler interfaces.LoadSampler) int {
	cpuCount := sampler.CPUCount()
	memGB := sampler.TotalMemoryGB()
	if cpuCount <= 0 || memGB <= 0 {
		return FallbackWorkers
	}
	return sizeWorkers(cpuCount, memGB)
}

// sizeWorkers implements the tiered sizing table. Assumes roughly 1 GB of
// memory per worker once extraction models are loaded.
func sizeWorkers(cpuCount int, memGB float64) int {
	var n int
	switch {
	case cpuCount >= 96:
		n = minInt(cpuCount/2, minInt(int(memGB*0.7), 64))
	case cpuCount >= 32:
		n = minInt(24, minInt(int(float64(cpuCount)*0.75), int(memGB*0.6)))
	case cpuCount >= 8:
		n = minInt(maxInt(4, int(float64(cpuCount)*0.8)), int(memGB*0.6))
	default:
		n = minInt(maxInt(2, int(float64(cpuCount)*0.9)), int(memGB*0.6))
	}
	if n < 1 {
		n = 1
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
