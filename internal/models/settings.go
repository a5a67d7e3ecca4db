package models

import "fmt"

// Settings are the per-run options handed to the analyzer.
// WorkerID is a transient diagnostic tag, never persisted.
type Settings struct {
	Threshold     float64 `json:"threshold"`
	FileSizeLimit int64   `json:"file_size_limit"` // bytes
	WorkerID      string  `json:"worker_id,omitempty"`
}

// Settings option keys. Only these are recognized.
const (
	SettingThreshold     = "threshold"
	SettingFileSizeLimit = "file_size_limit"
	SettingWorkerID      = "worker_id"
)

// SettingsFromMap builds Settings from an option map, rejecting unknown keys.
func SettingsFromMap(opts map[string]any) (Settings, error) {
	s := Settings{}
	for key, val := range opts {
		switch key {
		case SettingThreshold:
			f, ok := toFloat(val)
			if !ok {
				return Settings{}, fmt.Errorf("setting %q: expected number, got %T", key, val)
			}
			s.Threshold = f
		case SettingFileSizeLimit:
			f, ok := toFloat(val)
			if !ok {
				return Settings{}, fmt.Errorf("setting %q: expected number, got %T", key, val)
			}
			s.FileSizeLimit = int64(f)
		case SettingWorkerID:
			str, ok := val.(string)
			if !ok {
				return Settings{}, fmt.Errorf("setting %q: expected string, got %T", key, val)
			}
			s.WorkerID = str
		default:
			return Settings{}, fmt.Errorf("unknown setting %q", key)
		}
	}
	return s, s.Validate()
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold %v outside [0,1]", s.Threshold)
	}
	if s.FileSizeLimit < 0 {
		return fmt.Errorf("file_size_limit %d negative", s.FileSizeLimit)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
