package triage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is returned when an intake document is missing a field or
// carries an out-of-range value.
var ErrValidation = errors.New("invalid triage answers")

// Urgency is the clinical priority bucket that drives queue ordering.
type Urgency string

const (
	UrgencyHigh   Urgency = "High"
	UrgencyMedium Urgency = "Medium"
	UrgencyLow    Urgency = "Low"
)

// Rank orders urgencies for the queue: High=0, Medium=1, Low=2. Values
// outside the enum (for example "Unknown" in a legacy snapshot) rank as Low.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 0
	case UrgencyMedium:
		return 1
	default:
		return 2
	}
}

// Valid reports whether u is one of High, Medium or Low.
func (u Urgency) Valid() bool {
	return u == UrgencyHigh || u == UrgencyMedium || u == UrgencyLow
}

// ParseUrgencyLevel parses a level name case-insensitively.
func ParseUrgencyLevel(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return UrgencyHigh, nil
	case "medium":
		return UrgencyMedium, nil
	case "low":
		return UrgencyLow, nil
	default:
		return "", fmt.Errorf("invalid urgency %q (valid: high, medium, low)", s)
	}
}

// EmergencyContact is the person to reach on the patient's behalf.
type EmergencyContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Answers is the immutable intake record collected at admission.
type Answers struct {
	Age              int              `json:"age"`
	Temperature      *float64         `json:"temperature,omitempty"` // Fahrenheit
	BloodPressure    string           `json:"blood_pressure,omitempty"`
	Symptoms         []string         `json:"symptoms"`
	OtherSymptom     string           `json:"other_symptom,omitempty"`
	PainLevel        int              `json:"pain_level"`
	Duration         string           `json:"duration"`
	PreviousVisits   bool             `json:"previous_visits"`
	Medications      []string         `json:"medications,omitempty"`
	Allergies        []string         `json:"allergies,omitempty"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
}

const (
	minAge         = 0
	maxAge         = 120
	minPain        = 0
	maxPain        = 10
	minTemperature = 80.0
	maxTemperature = 115.0
)

// Validate checks the intake ranges. The returned error wraps ErrValidation.
func (a *Answers) Validate() error {
	if a.Age < minAge || a.Age > maxAge {
		return fmt.Errorf("%w: age must be between %d and %d, got %d", ErrValidation, minAge, maxAge, a.Age)
	}
	if a.PainLevel < minPain || a.PainLevel > maxPain {
		return fmt.Errorf("%w: pain_level must be between %d and %d, got %d", ErrValidation, minPain, maxPain, a.PainLevel)
	}
	if a.Temperature != nil && (*a.Temperature < minTemperature || *a.Temperature > maxTemperature) {
		return fmt.Errorf("%w: temperature must be between %.0f and %.0f F, got %.1f", ErrValidation, minTemperature, maxTemperature, *a.Temperature)
	}
	if len(a.symptomList()) == 0 {
		return fmt.Errorf("%w: at least one symptom is required", ErrValidation)
	}
	if strings.TrimSpace(a.Duration) == "" {
		return fmt.Errorf("%w: duration is required", ErrValidation)
	}
	return nil
}

// symptomList returns the non-blank symptoms including the free-text one.
func (a *Answers) symptomList() []string {
	out := make([]string, 0, len(a.Symptoms)+1)
	for _, s := range a.Symptoms {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	if strings.TrimSpace(a.OtherSymptom) != "" {
		out = append(out, a.OtherSymptom)
	}
	return out
}

// Clone returns a deep copy so stored records never alias caller slices.
func (a Answers) Clone() Answers {
	c := a
	if a.Temperature != nil {
		t := *a.Temperature
		c.Temperature = &t
	}
	c.Symptoms = append([]string(nil), a.Symptoms...)
	c.Medications = append([]string(nil), a.Medications...)
	c.Allergies = append([]string(nil), a.Allergies...)
	return c
}
