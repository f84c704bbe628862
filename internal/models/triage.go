package models

import (
	"strings"
	"time"
)

// TriageResult is the classification attached to a case.
type TriageResult struct {
	ID                int64     `json:"id"`
	CaseID            string    `json:"case_id"`
	Labels            []string  `json:"labels"`
	Summary           string    `json:"summary"`
	RecommendedAction string    `json:"recommended_action"`
	RiskScore         *float64  `json:"risk_score"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const emergencyMarker = "emergency"

// HasEmergencyLabel reports whether any label contains "emergency", ignoring case.
func HasEmergencyLabel(labels []string) bool {
	for _, l := range labels {
		if strings.Contains(strings.ToLower(l), emergencyMarker) {
			return true
		}
	}
	return false
}
