package models

// LoadSnapshot is one utilization reading from the load sampler.
// LoadFactor is the 1-minute load average divided by logical CPU count.
// Degraded is set when the platform has no load average and LoadFactor
// falls back to CPUPercent/100.
type LoadSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadAvg1Min   float64 `json:"load_avg_1min"`
	CPUCount      int     `json:"cpu_count"`
	LoadFactor    float64 `json:"load_factor"`
	Degraded      bool    `json:"degraded,omitempty"`
}
