package analyzer

import (
	"regexp"
	"strings"

	"github.com/jmcrae/piiscan/internal/models"
)

// detector matches one entity type in extracted text. Validate may reject
// a regex hit (checksum failure, reserved range); score is the confidence
// assigned to surviving matches.
type detector struct {
	entityType string
	pattern    *regexp.Regexp
	score      float64
	validate   func(match string) bool
}

var detectors = []detector{
	{
		entityType: models.EntityTypeSSN,
		pattern:    regexp.MustCompile(`\b(\d{3})-(\d{2})-(\d{4})\b`),
		score:      0.99,
		validate:   validSSN,
	},
	{
		entityType: models.EntityTypeCreditCard,
		pattern:    regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
		score:      0.95,
		validate:   luhnValid,
	},
	{
		entityType: models.EntityTypeEmail,
		pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		score:      0.95,
	},
	{
		entityType: models.EntityTypePhone,
		pattern:    regexp.MustCompile(`\b(?:\+?1[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`),
		score:      0.75,
		validate:   validPhone,
	},
	{
		entityType: models.EntityTypeIPAddress,
		pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		score:      0.85,
		validate:   validIPv4,
	},
	{
		entityType: models.EntityTypePassport,
		pattern:    regexp.MustCompile(`\b[A-Z]\d{8}\b`),
		score:      0.6,
	},
	{
		entityType: models.EntityTypeBankNumber,
		pattern:    regexp.MustCompile(`\b\d{8,17}\b`),
		score:      0.5,
		validate:   notAllSameDigit,
	},
	{
		entityType: models.EntityTypeDriverLicense,
		pattern:    regexp.MustCompile(`\b[A-Z]\d{7}\b`),
		score:      0.55,
	},
}

// DetectEntities runs every detector over the text and returns matches at
// or above threshold, ordered by start offset. Offsets are byte positions
// in the extracted text.
func DetectEntities(text string, threshold float64) []models.DetectedEntity {
	var found []models.DetectedEntity
	claimed := make([][2]int, 0, 16)

	for _, d := range detectors {
		if d.score < threshold {
			continue
		}
		for _, loc := range d.pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if d.validate != nil && !d.validate(match) {
				continue
			}
			if overlapsClaimed(claimed, loc[0], loc[1]) {
				continue
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			found = append(found, models.DetectedEntity{
				EntityType: d.entityType,
				Text:       match,
				Score:      d.score,
				StartPos:   int64(loc[0]),
				EndPos:     int64(loc[1]),
			})
		}
	}

	sortByStart(found)
	return found
}

// overlapsClaimed reports whether [start,end) intersects a span already
// taken by a higher-priority detector. Detectors run in priority order, so
// an SSN is never double-reported as a bank account number.
func overlapsClaimed(claimed [][2]int, start, end int) bool {
	for _, span := range claimed {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func sortByStart(entities []models.DetectedEntity) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0 && entities[j].StartPos < entities[j-1].StartPos; j-- {
			entities[j], entities[j-1] = entities[j-1], entities[j]
		}
	}
}

// validSSN rejects SSNs the SSA never issues: area 000, 666 or 900+,
// group 00, serial 0000.
func validSSN(match string) bool {
	parts := strings.SplitN(match, "-", 3)
	if len(parts) != 3 {
		return false
	}
	area, group, serial := parts[0], parts[1], parts[2]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// luhnValid runs the Luhn checksum over the digits of a candidate card
// number, ignoring separators.
func luhnValid(match string) bool {
	var digits []int
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 16 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validPhone(match string) bool {
	digits := 0
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits == 10 || digits == 11
}

func validIPv4(match string) bool {
	for _, part := range strings.Split(match, ".") {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n := 0
		for _, r := range part {
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// notAllSameDigit rejects filler values like 00000000 or 111111111.
func notAllSameDigit(match string) bool {
	for i := 1; i < len(match); i++ {
		if match[i] != match[0] {
			return true
		}
	}
	return false
}
