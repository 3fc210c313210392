package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventStatus represents the lifecycle state of a correlated event.
type EventStatus string

const (
	EventStatusOpen     EventStatus = "open"
	EventStatusClosed   EventStatus = "closed"
	EventStatusResolved EventStatus = "resolved"
)

// Event is a correlated security incident: a group of related alerts matched
// by one correlation rule within its time window. Events are found-or-created
// by correlation key, so repeated runs converge instead of duplicating.
type Event struct {
	ID             uuid.UUID `json:"id"`
	CorrelationKey string    `json:"correlation_key"`
	RuleID         string    `json:"rule_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	EventType      string    `json:"event_type,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	AlertCount int         `json:"alert_count"`
	AlertIDs   []uuid.UUID `json:"alert_ids"`

	// Aggregated across member alerts.
	AttackerIPs []string `json:"attacker_ips,omitempty"`
	VictimIPs   []string `json:"victim_ips,omitempty"`
	Domains     []string `json:"domains,omitempty"`

	Severity   string  `json:"severity,omitempty"`
	Priority   int     `json:"priority,omitempty"`
	RiskScore  float64 `json:"risk_score"`
	Confidence float64 `json:"confidence"`

	Status    EventStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// severityRank orders severities for max aggregation.
var severityRank = map[string]int{
	"LOW":      1,
	"MEDIUM":   2,
	"HIGH":     3,
	"CRITICAL": 4,
}

// MaxSeverity returns the higher of two severity labels. Unknown labels rank
// lowest.
func MaxSeverity(a, b string) string {
	if severityRank[strings.ToUpper(b)] > severityRank[strings.ToUpper(a)] {
		return b
	}
	return a
}
