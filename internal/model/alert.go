// Package model defines the canonical data model for the alert processing
// pipeline. All ingested records are normalized to an Alert before any rule
// evaluation, extraction, storage, or correlation happens.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the processing state of an alert.
type AlertStatus string

const (
	AlertStatusNew        AlertStatus = "NEW"
	AlertStatusFiltered   AlertStatus = "FILTERED"
	AlertStatusCorrelated AlertStatus = "CORRELATED"
)

// IsValid checks if the status is a valid value.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusFiltered, AlertStatusCorrelated:
		return true
	}
	return false
}

// Alert represents one normalized security-event occurrence derived from a
// raw source record.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	AlertType int       `json:"alert_type"`
	Subtype   string    `json:"subtype,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Raw is the original payload as received from the source.
	Raw string `json:"raw,omitempty"`

	// Fields holds the schema-normalized field map. Every schema field that
	// resolved against the payload lands here with its coerced value; nothing
	// besides the canonical timestamp and subtype is promoted to a column.
	Fields map[string]any `json:"fields"`

	// Well-known attributes, populated when the source record carries them.
	SourceIP    string `json:"source_ip,omitempty"`
	DestIP      string `json:"dest_ip,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Priority    int    `json:"priority,omitempty"`

	// Filter outcome.
	IsFiltered   bool   `json:"is_filtered"`
	FilterRuleID string `json:"filter_rule_id,omitempty"`
	FilterReason string `json:"filter_reason,omitempty"`

	// Tags accumulated from all matching tagging rules.
	Tags []string `json:"tags,omitempty"`

	// Correlation linkage.
	EventID        *uuid.UUID `json:"event_id,omitempty"`
	CorrelationKey string     `json:"correlation_key,omitempty"`

	Status AlertStatus `json:"status"`

	// Provenance of the source record, kept for redelivery diagnostics.
	SourceID   string `json:"source_id,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Partition  int    `json:"partition,omitempty"`
	Offset     int64  `json:"offset,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Field resolves a named field against the normalized field map first, then
// falls back to the well-known top-level attributes. Returns nil when the
// field is unknown or unset.
func (a *Alert) Field(name string) any {
	if a.Fields != nil {
		if v, ok := a.Fields[name]; ok {
			return v
		}
	}

	switch strings.ToLower(name) {
	case "source_ip", "src_ip":
		if a.SourceIP != "" {
			return a.SourceIP
		}
	case "dest_ip", "destination_ip", "dst_ip":
		if a.DestIP != "" {
			return a.DestIP
		}
	case "severity":
		if a.Severity != "" {
			return a.Severity
		}
	case "priority":
		if a.Priority != 0 {
			return a.Priority
		}
	case "title":
		if a.Title != "" {
			return a.Title
		}
	case "description":
		if a.Description != "" {
			return a.Description
		}
	case "subtype":
		if a.Subtype != "" {
			return a.Subtype
		}
	}
	return nil
}

// FieldString resolves a field and renders it as a string. Returns "" when
// the field is unset.
func (a *Alert) FieldString(name string) string {
	v := a.Field(name)
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Linked reports whether the alert is already attached to an event.
func (a *Alert) Linked() bool {
	return a.EventID != nil
}

// RiskScore maps the alert severity to a per-alert risk contribution.
func (a *Alert) RiskScore() float64 {
	switch strings.ToUpper(a.Severity) {
	case "CRITICAL":
		return 1.0
	case "HIGH":
		return 0.8
	case "MEDIUM":
		return 0.5
	case "LOW":
		return 0.3
	default:
		return 0.5
	}
}
