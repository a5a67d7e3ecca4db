package analyzer

import (
	"strings"
	"testing"

	"github.com/jmcrae/piiscan/internal/models"
)

func findType(entities []models.DetectedEntity, entityType string) []models.DetectedEntity {
	var out []models.DetectedEntity
	for _, e := range entities {
		if e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out
}

func TestDetectEntities_SSN(t *testing.T) {
	text := "Employee SSN: 123-45-6789 on record."
	entities := DetectEntities(text, 0.7)

	ssns := findType(entities, models.EntityTypeSSN)
	if len(ssns) != 1 {
		t.Fatalf("expected 1 SSN, got %d (%v)", len(ssns), entities)
	}
	if ssns[0].Text != "123-45-6789" {
		t.Errorf("SSN text = %q", ssns[0].Text)
	}
	start, end := ssns[0].StartPos, ssns[0].EndPos
	if text[start:end] != ssns[0].Text {
		t.Errorf("offsets [%d,%d) do not cover match: %q", start, end, text[start:end])
	}
}

func TestDetectEntities_SSN_RejectsInvalidAreas(t *testing.T) {
	for _, bad := range []string{"000-45-6789", "666-45-6789", "987-65-4320", "123-00-6789", "123-45-0000"} {
		entities := DetectEntities("ssn "+bad+" end", 0.7)
		if ssns := findType(entities, models.EntityTypeSSN); len(ssns) != 0 {
			t.Errorf("invalid SSN %s was detected", bad)
		}
	}
}

func TestDetectEntities_CreditCard_LuhnChecked(t *testing.T) {
	// 4532015112830366 passes Luhn; 4532015112830367 does not.
	valid := DetectEntities("card 4532015112830366 ok", 0.7)
	if cards := findType(valid, models.EntityTypeCreditCard); len(cards) != 1 {
		t.Fatalf("Luhn-valid card not detected: %v", valid)
	}

	invalid := DetectEntities("card 4532015112830367 bad", 0.7)
	if cards := findType(invalid, models.EntityTypeCreditCard); len(cards) != 0 {
		t.Errorf("Luhn-invalid card was detected")
	}
}

func TestDetectEntities_Email(t *testing.T) {
	entities := DetectEntities("contact alice@example.com please", 0.7)
	emails := findType(entities, models.EntityTypeEmail)
	if len(emails) != 1 || emails[0].Text != "alice@example.com" {
		t.Fatalf("email detection failed: %v", entities)
	}
}

func TestDetectEntities_Phone(t *testing.T) {
	entities := DetectEntities("call (555) 123-4567 today", 0.7)
	if phones := findType(entities, models.EntityTypePhone); len(phones) != 1 {
		t.Fatalf("phone detection failed: %v", entities)
	}
}

func TestDetectEntities_IPAddress(t *testing.T) {
	entities := DetectEntities("server at 192.168.1.100 responded", 0.7)
	ips := findType(entities, models.EntityTypeIPAddress)
	if len(ips) != 1 || ips[0].Text != "192.168.1.100" {
		t.Fatalf("ip detection failed: %v", entities)
	}

	entities = DetectEntities("version 999.999.999.999 is not an address", 0.7)
	if ips := findType(entities, models.EntityTypeIPAddress); len(ips) != 0 {
		t.Errorf("out-of-range octets detected as IP")
	}
}

func TestDetectEntities_ThresholdFilters(t *testing.T) {
	// Passport score 0.6 is below a 0.9 threshold; SSN at 0.99 is not.
	text := "passport C12345678 and ssn 123-45-6789"
	entities := DetectEntities(text, 0.9)

	if pp := findType(entities, models.EntityTypePassport); len(pp) != 0 {
		t.Errorf("passport should be dropped at threshold 0.9")
	}
	if ssn := findType(entities, models.EntityTypeSSN); len(ssn) != 1 {
		t.Errorf("SSN should survive threshold 0.9")
	}
}

func TestDetectEntities_NoOverlappingClaims(t *testing.T) {
	// The SSN digits must not additionally surface as a bank number.
	entities := DetectEntities("id 123-45-6789 end", 0.3)
	for _, e := range entities {
		if e.EntityType == models.EntityTypeBankNumber && strings.Contains("123-45-6789", e.Text) {
			t.Errorf("SSN span double-claimed as bank number: %v", e)
		}
	}
}

func TestDetectEntities_Deterministic(t *testing.T) {
	text := "a@b.co 123-45-6789 10.0.0.1 4532015112830366"
	first := DetectEntities(text, 0.5)
	for i := 0; i < 5; i++ {
		again := DetectEntities(text, 0.5)
		if len(again) != len(first) {
			t.Fatalf("non-deterministic result count: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("non-deterministic entity at %d: %v vs %v", j, first[j], again[j])
			}
		}
	}
}

func TestDetectEntities_OrderedByStart(t *testing.T) {
	entities := DetectEntities("b@c.de then 123-45-6789 then 10.1.2.3", 0.5)
	for i := 1; i < len(entities); i++ {
		if entities[i].StartPos < entities[i-1].StartPos {
			t.Fatalf("entities not ordered by start: %v", entities)
		}
	}
}
