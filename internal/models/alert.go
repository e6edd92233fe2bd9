package models

import "time"

// AlertSeverity orders operational alerts by urgency.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Valid reports whether the severity is one of the known levels.
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// AlertType classifies the source of an operational alert.
type AlertType string

const (
	AlertTrade       AlertType = "trade"
	AlertRisk        AlertType = "risk"
	AlertHealth      AlertType = "health"
	AlertSync        AlertType = "sync"
	AlertSystem      AlertType = "system"
	AlertEmergency   AlertType = "emergency"
)

// ExecutionAlert is an operational alert. Retained in a capped
// insertion-ordered buffer; only the Acknowledged flag is ever mutated.
type ExecutionAlert struct {
	ID           string                 `json:"id"`
	Type         AlertType              `json:"type"`
	Severity     AlertSeverity          `json:"severity"`
	Message      string                 `json:"message"`
	PositionID   string                 `json:"position_id,omitempty"`
	Symbol       string                 `json:"symbol,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
	Timestamp    time.Time              `json:"timestamp"`
}
