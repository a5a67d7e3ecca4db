package models

import "testing"

func TestSettingsFromMap(t *testing.T) {
	s, err := SettingsFromMap(map[string]any{
		"threshold":       0.8,
		"file_size_limit": 1024,
		"worker_id":       "7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Threshold != 0.8 || s.FileSizeLimit != 1024 || s.WorkerID != "7" {
		t.Errorf("settings = %+v", s)
	}
}

func TestSettingsFromMap_UnknownKey(t *testing.T) {
	if _, err := SettingsFromMap(map[string]any{"batch": 10}); err == nil {
		t.Error("unknown key must be rejected")
	}
}

func TestSettingsFromMap_WrongType(t *testing.T) {
	if _, err := SettingsFromMap(map[string]any{"threshold": "high"}); err == nil {
		t.Error("non-numeric threshold must be rejected")
	}
}

func TestSettingsValidate(t *testing.T) {
	for _, s := range []Settings{
		{Threshold: -0.1},
		{Threshold: 1.1},
		{Threshold: 0.5, FileSizeLimit: -1},
	} {
		if err := s.Validate(); err == nil {
			t.Errorf("expected validation failure for %+v", s)
		}
	}
	if err := (Settings{Threshold: 0.7, FileSizeLimit: 1 << 20}).Validate(); err != nil {
		t.Errorf("valid settings rejected: %v", err)
	}
}

func TestProgressPercent(t *testing.T) {
	if got := (FileStatistics{}).ProgressPercent(); got != 0 {
		t.Errorf("empty statistics percent = %v", got)
	}
	stats := FileStatistics{Total: 200, Completed: 90, Error: 10, Pending: 100}
	if got := stats.ProgressPercent(); got != 50 {
		t.Errorf("percent = %v, want 50", got)
	}
}

func TestEntityDisplayName(t *testing.T) {
	if got := EntityDisplayName(EntityTypeSSN); got != "Social Security Number (SSN)" {
		t.Errorf("display name = %q", got)
	}
	if got := EntityDisplayName("CUSTOM_TAG"); got != "CUSTOM_TAG" {
		t.Errorf("unknown tag must pass through, got %q", got)
	}
}

func TestIsHighRisk(t *testing.T) {
	if !IsHighRisk(EntityTypeCreditCard) {
		t.Error("credit card must be high risk")
	}
	if IsHighRisk(EntityTypeEmail) {
		t.Error("email must not be high risk")
	}
}
