// Package alerting evaluates detection rules per branch, applies per-type
// cooldowns and creates alert records.
package alerting

import (
	"context"

	"github.com/careflock/careflock-go/internal/datastore"
)

// Type identifies an alert category.
type Type string

const (
	TypeChurnRisk              Type = "churn-risk"
	TypeAttendanceAnomaly      Type = "attendance-anomaly"
	TypeLifecycleChange        Type = "lifecycle-change"
	TypeCriticalItem           Type = "critical-item"
	TypeClusterHealth          Type = "cluster-health"
	TypeHouseholdDisengagement Type = "household-disengagement"
	TypeVisitorFollowup        Type = "visitor-followup"
	TypeForecastWarning        Type = "forecast-warning"
)

// AllTypes lists every known alert type in evaluation order.
func AllTypes() []Type {
	return []Type{
		TypeCriticalItem,
		TypeChurnRisk,
		TypeAttendanceAnomaly,
		TypeLifecycleChange,
		TypeClusterHealth,
		TypeHouseholdDisengagement,
		TypeVisitorFollowup,
		TypeForecastWarning,
	}
}

// ValidType reports whether t names a known alert type.
func ValidType(t Type) bool {
	for _, known := range AllTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// Severity levels for created alerts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, higher meaning more severe. Unknown ranks lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// RequiresImmediateAttention reports whether alerts of this severity go
// through the immediate dispatch path rather than waiting for the digest.
func RequiresImmediateAttention(s Severity) bool {
	return s == SeverityCritical || s == SeverityHigh
}

// severityTable maps each type to its base severity. Candidates may override
// upward, e.g. a critical cluster raises cluster-health to critical.
var severityTable = map[Type]Severity{
	TypeCriticalItem:           SeverityCritical,
	TypeChurnRisk:              SeverityHigh,
	TypeAttendanceAnomaly:      SeverityHigh,
	TypeClusterHealth:          SeverityHigh,
	TypeLifecycleChange:        SeverityMedium,
	TypeHouseholdDisengagement: SeverityMedium,
	TypeForecastWarning:        SeverityMedium,
	TypeVisitorFollowup:        SeverityLow,
}

// SeverityFor resolves the severity of a candidate of the given type.
func SeverityFor(t Type, c Candidate) Severity {
	base, ok := severityTable[t]
	if !ok {
		base = SeverityMedium
	}
	if c.Severity != "" && c.Severity.Rank() > base.Rank() {
		return c.Severity
	}
	return base
}

// Candidate is a detection hit that may become an alert if the type's
// settings, threshold and cooldown allow.
type Candidate struct {
	EntityKind datastore.EntityKind
	EntityID   uint
	Title      string
	Message    string

	// Score is compared against the configured threshold when Thresholded is
	// set. Scores are risk-oriented: higher is worse.
	Score       float64
	Thresholded bool

	// Severity optionally raises the type's base severity.
	Severity Severity

	Payload map[string]any
}

// CheckFunc evaluates one alert type for a branch and returns its candidates.
// Checks only detect; gating and alert creation belong to the engine.
type CheckFunc func(ctx context.Context, branchID uint) ([]Candidate, error)
