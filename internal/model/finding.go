package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Severity classifies how serious a risk finding is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Weight returns the scoring weight for the severity. Heavier severities
// dominate both absolute and relative scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 6
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps an analyzer-emitted severity string to a Severity.
// Unknown values are an error so that malformed analyzer output surfaces
// as an invalid_response failure instead of a silently weightless finding.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(raw))) {
	case SeverityCritical:
		return SeverityCritical, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityLow:
		return SeverityLow, nil
	default:
		return "", eris.Errorf("unknown severity %q", raw)
	}
}

// Finding is one structured risk item returned by an analyzer variant.
// The harness treats it as opaque except for severity, confidence and title.
type Finding struct {
	Severity    Severity `json:"severity"`
	Confidence  int      `json:"confidence"` // 0-100
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Domains     []string `json:"domains,omitempty"`
}

// ClampConfidence forces confidence into the 0-100 range.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
