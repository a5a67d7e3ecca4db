package scheduler

import (
	"testing"

	"github.com/jmcrae/piiscan/internal/models"
)

func TestNextTargets_CriticalLoad(t *testing.T) {
	snap := models.LoadSnapshot{LoadFactor: 2.5, CPUPercent: 50}

	adj := nextTargets(64, 50, snap)
	if adj.Rule != "critical_load" {
		t.Fatalf("rule = %s", adj.Rule)
	}
	// 64/3 = 21 > 20, so the larger reduction applies.
	if adj.Workers != 43 {
		t.Errorf("workers = %d, want 43", adj.Workers)
	}
	if adj.BatchSize != MinBatch {
		t.Errorf("batch = %d, want %d", adj.BatchSize, MinBatch)
	}

	// Never below the floor.
	adj = nextTargets(10, 50, snap)
	if adj.Workers != MinWorkers {
		t.Errorf("workers = %d, want floor %d", adj.Workers, MinWorkers)
	}
}

func TestNextTargets_HighLoad(t *testing.T) {
	snap := models.LoadSnapshot{LoadFactor: 1.6, CPUPercent: 50}

	adj := nextTargets(40, 50, snap)
	if adj.Rule != "high_load" {
		t.Fatalf("rule = %s", adj.Rule)
	}
	// max(2*10, 40/5) = 20.
	if adj.Workers != 20 {
		t.Errorf("workers = %d, want 20", adj.Workers)
	}
	if adj.BatchSize != 50 {
		t.Errorf("batch must be unchanged by high_load, got %d", adj.BatchSize)
	}

	// 200/5 = 40 > 20, proportional reduction wins.
	adj = nextTargets(200, 50, snap)
	if adj.Workers != 160 {
		t.Errorf("workers = %d, want 160", adj.Workers)
	}
}

func TestNextTargets_Underutilized(t *testing.T) {
	snap := models.LoadSnapshot{LoadFactor: 0.3, CPUPercent: 40, MemoryPercent: 50}

	adj := nextTargets(16, 30, snap)
	if adj.Rule != "underutilized" {
		t.Fatalf("rule = %s", adj.Rule)
	}
	if adj.Workers != 26 {
		t.Errorf("workers = %d, want 26", adj.Workers)
	}
	if adj.BatchSize != 40 {
		t.Errorf("batch = %d, want 40", adj.BatchSize)
	}

	// Batch is capped at MaxBatch.
	adj = nextTargets(16, 50, snap)
	if adj.BatchSize != MaxBatch {
		t.Errorf("batch = %d, want cap %d", adj.BatchSize, MaxBatch)
	}
}

func TestNextTargets_UnderutilizedNeedsAllThreeConditions(t *testing.T) {
	// CPU low but load factor too high for growth.
	snap := models.LoadSnapshot{LoadFactor: 1.0, CPUPercent: 40, MemoryPercent: 50}
	if adj := nextTargets(16, 30, snap); adj.Rule != "steady" {
		t.Errorf("rule = %s, want steady", adj.Rule)
	}

	// CPU low but memory pressured.
	snap = models.LoadSnapshot{LoadFactor: 0.3, CPUPercent: 40, MemoryPercent: 85}
	if adj := nextTargets(16, 30, snap); adj.Rule != "steady" {
		t.Errorf("rule = %s, want steady", adj.Rule)
	}
}

func TestNextTargets_Pressure(t *testing.T) {
	for _, snap := range []models.LoadSnapshot{
		{LoadFactor: 1.0, CPUPercent: 85, MemoryPercent: 50},
		{LoadFactor: 1.0, CPUPercent: 65, MemoryPercent: 95},
	} {
		adj := nextTargets(30, 40, snap)
		if adj.Rule != "pressure" {
			t.Fatalf("rule = %s for %+v", adj.Rule, snap)
		}
		if adj.Workers != 20 {
			t.Errorf("workers = %d, want 20", adj.Workers)
		}
		if adj.BatchSize != 30 {
			t.Errorf("batch = %d, want 30", adj.BatchSize)
		}
	}

	// Both floors hold.
	adj := nextTargets(MinWorkers, MinBatch, models.LoadSnapshot{CPUPercent: 99, MemoryPercent: 99})
	if adj.Workers != MinWorkers || adj.BatchSize != MinBatch {
		t.Errorf("floors violated: %+v", adj)
	}
}

func TestNextTargets_Steady(t *testing.T) {
	snap := models.LoadSnapshot{LoadFactor: 1.0, CPUPercent: 70, MemoryPercent: 60}
	adj := nextTargets(24, 40, snap)
	if adj.Rule != "steady" || adj.Workers != 24 || adj.BatchSize != 40 {
		t.Errorf("steady state changed targets: %+v", adj)
	}
}

func TestNextTargets_CriticalWinsOverEverything(t *testing.T) {
	// Low CPU would suggest growth, but critical load takes priority.
	snap := models.LoadSnapshot{LoadFactor: 2.1, CPUPercent: 10, MemoryPercent: 10}
	if adj := nextTargets(64, 50, snap); adj.Rule != "critical_load" {
		t.Errorf("rule = %s, want critical_load", adj.Rule)
	}
}

func TestSizeWorkers(t *testing.T) {
	tests := []struct {
		name     string
		cpuCount int
		memGB    float64
		want     int
	}{
		{"high-end capped at 64", 128, 512, 64},
		{"high-end memory bound", 96, 40, 28},
		{"32-core server", 32, 64, 24},
		{"32-core low memory", 32, 16, 9},
		{"mid-range", 16, 32, 12},
		{"mid-range floor", 8, 64, 6},
		{"small", 4, 16, 3},
		{"tiny never below 1", 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sizeWorkers(tt.cpuCount, tt.memGB); got != tt.want {
				t.Errorf("sizeWorkers(%d, %.0f) = %d, want %d", tt.cpuCount, tt.memGB, got, tt.want)
			}
		})
	}
}

func TestInitialWorkers_FallbackOnSamplerFailure(t *testing.T) {
	if got := InitialWorkers(brokenSampler{}); got != FallbackWorkers {
		t.Errorf("InitialWorkers = %d, want fallback %d", got, FallbackWorkers)
	}
}
