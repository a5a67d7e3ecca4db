package models

// Entity is a persisted PII detection tied to a completed file.
type Entity struct {
	EntityID   int64   `json:"entity_id" db:"entity_id"`
	FileID     int64   `json:"file_id" db:"file_id"`
	EntityType string  `json:"entity_type" db:"entity_type"`
	Text       string  `json:"text" db:"text"`
	Score      float64 `json:"score" db:"score"`
	StartPos   int64   `json:"start_pos" db:"start_pos"`
	EndPos     int64   `json:"end_pos" db:"end_pos"`
}

// DetectedEntity is an analyzer finding before persistence.
type DetectedEntity struct {
	EntityType string  `json:"entity_type"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	StartPos   int64   `json:"start_pos"`
	EndPos     int64   `json:"end_pos"`
}

// Entity type constants
const (
	EntityTypeSSN           = "US_SSN"
	EntityTypeCreditCard    = "CREDIT_CARD"
	EntityTypeEmail         = "EMAIL_ADDRESS"
	EntityTypePhone         = "PHONE_NUMBER"
	EntityTypeIPAddress     = "IP_ADDRESS"
	EntityTypePassport      = "US_PASSPORT"
	EntityTypeBankNumber    = "US_BANK_NUMBER"
	EntityTypeDriverLicense = "US_DRIVER_LICENSE"
)

// HighRiskEntityTypes are the types that put a file on the high-risk report.
var HighRiskEntityTypes = []string{
	EntityTypeSSN,
	EntityTypeCreditCard,
	EntityTypeDriverLicense,
	EntityTypePassport,
	EntityTypeBankNumber,
}

var entityDisplayNames = map[string]string{
	EntityTypeSSN:           "Social Security Number (SSN)",
	EntityTypeCreditCard:    "Credit Card Number",
	EntityTypeEmail:         "Email Address",
	EntityTypePhone:         "Phone Number",
	EntityTypeIPAddress:     "IP Address",
	EntityTypePassport:      "US Passport Number",
	EntityTypeBankNumber:    "Bank Account Number",
	EntityTypeDriverLicense: "Driver License Number",
}

// EntityDisplayName returns a human-readable name for an entity type tag.
// Unknown tags are returned unchanged.
func EntityDisplayName(entityType string) string {
	if name, ok := entityDisplayNames[entityType]; ok {
		return name
	}
	return entityType
}

// IsHighRisk reports whether the entity type is on the high-risk list.
func IsHighRisk(entityType string) bool {
	for _, t := range HighRiskEntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}
