// Package sysload reads system utilization for adaptive scaling decisions.
package sysload

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmcrae/piiscan/internal/common"
	"github.com/jmcrae/piiscan/internal/models"
)

// cpuSampleInterval is the blocking window for the CPU percent reading.
const cpuSampleInterval = 500 * time.Millisecond

// Sampler implements interfaces.LoadSampler on gopsutil.
type Sampler struct {
	logger *common.Logger
}

// NewSampler creates a load sampler.
func NewSampler(logger *common.Logger) *Sampler {
	return &Sampler{logger: logger}
}

// Snapshot blocks for the CPU sampling window and returns a consistent
// utilization reading. LoadFactor is the 1-minute load average divided by
// logical CPU count; on platforms without a load average it degrades to
// CPUPercent/100 and sets Degraded.
func (s *Sampler) Snapshot(ctx context.Context) (models.LoadSnapshot, error) {
	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil || len(percents) == 0 {
		return models.LoadSnapshot{}, fmt.Errorf("failed to sample cpu: %w", err)
	}
	cpuPercent := percents[0]

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.LoadSnapshot{}, fmt.Errorf("failed to sample memory: %w", err)
	}

	cpuCount := s.CPUCount()

	snapshot := models.LoadSnapshot{
		CPUPercent:    cpuPercent,
		MemoryPercent: vm.UsedPercent,
		CPUCount:      cpuCount,
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		// No load average on this platform. Best effort: treat CPU
		// saturation as the load factor.
		snapshot.LoadFactor = cpuPercent / 100
		snapshot.Degraded = true
		s.logger.Debug().Err(err).Msg("Load average unavailable, using CPU percent fallback")
		return snapshot, nil
	}

	snapshot.LoadAvg1Min = avg.Load1
	if cpuCount > 0 {
		snapshot.LoadFactor = avg.Load1 / float64(cpuCount)
	}
	return snapshot, nil
}

// CPUCount returns the logical CPU count.
func (s *Sampler) CPUCount() int {
	count, err := cpu.Counts(true)
	if err != nil || count <= 0 {
		return runtime.NumCPU()
	}
	return count
}

// TotalMemoryGB returns total physical memory in gigabytes.
func (s *Sampler) TotalMemoryGB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read total memory")
		return 0
	}
	return float64(vm.Total) / (1024 * 1024 * 1024)
}
