package model

import "time"

// MatchType is how a rule predicate compares a field value.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// IsValid checks if the match type is a known value.
func (m MatchType) IsValid() bool {
	switch m {
	case MatchExact, MatchContains, MatchRegex:
		return true
	}
	return false
}

// MatchableRule is the common predicate shared by filter and tagging rules.
// A single generic matcher consumes it; kind-specific behavior (short-circuit
// vs. accumulate) lives in the caller.
type MatchableRule interface {
	RuleID() string
	RuleName() string
	Predicate() (field string, matchType MatchType, value string)
	AppliesTo(alertType int, subtype string) bool
}

// RuleScope is the type/subtype applicability shared by all rule kinds. A
// zero AlertType or empty Subtype means "any".
type RuleScope struct {
	AlertType int    `json:"alert_type,omitempty"`
	Subtype   string `json:"subtype,omitempty"`
}

// Matches reports whether the scope covers the given type/subtype.
func (s RuleScope) Matches(alertType int, subtype string) bool {
	if s.AlertType != 0 && s.AlertType != alertType {
		return false
	}
	if s.Subtype != "" && s.Subtype != subtype {
		return false
	}
	return true
}

// FilterRule drops matching alerts from the pipeline. The first matching rule
// by descending priority wins and is recorded as the filter reason.
type FilterRule struct {
	ID         string    `json:"id" validate:"required"`
	Name       string    `json:"name" validate:"required,max=256"`
	Scope      RuleScope `json:"scope"`
	MatchField string    `json:"match_field" validate:"required"`
	MatchType  MatchType `json:"match_type" validate:"required,oneof=exact contains regex"`
	MatchValue string    `json:"match_value" validate:"required"`
	Priority   int       `json:"priority"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

func (r *FilterRule) RuleID() string   { return r.ID }
func (r *FilterRule) RuleName() string { return r.Name }

func (r *FilterRule) Predicate() (string, MatchType, string) {
	return r.MatchField, r.MatchType, r.MatchValue
}

func (r *FilterRule) AppliesTo(alertType int, subtype string) bool {
	return r.Enabled && r.Scope.Matches(alertType, subtype)
}

// TaggingRule attaches its tags to matching alerts. All matching rules
// contribute; an alert can carry tags from multiple rules.
type TaggingRule struct {
	ID         string    `json:"id" validate:"required"`
	Name       string    `json:"name" validate:"required,max=256"`
	Scope      RuleScope `json:"scope"`
	MatchField string    `json:"match_field" validate:"required"`
	MatchType  MatchType `json:"match_type" validate:"required,oneof=exact contains regex"`
	MatchValue string    `json:"match_value" validate:"required"`
	Tags       []string  `json:"tags" validate:"required,min=1"`
	Priority   int       `json:"priority"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

func (r *TaggingRule) RuleID() string   { return r.ID }
func (r *TaggingRule) RuleName() string { return r.Name }

func (r *TaggingRule) Predicate() (string, MatchType, string) {
	return r.MatchField, r.MatchType, r.MatchValue
}

func (r *TaggingRule) AppliesTo(alertType int, subtype string) bool {
	return r.Enabled && r.Scope.Matches(alertType, subtype)
}

// CorrelationScope selects which alerts a correlation rule considers.
type CorrelationScope string

const (
	ScopeSubtype   CorrelationScope = "SUBTYPE"
	ScopeType      CorrelationScope = "TYPE"
	ScopeCrossType CorrelationScope = "CROSS_TYPE"
)

// IsValid checks if the scope is a known value.
func (s CorrelationScope) IsValid() bool {
	switch s {
	case ScopeSubtype, ScopeType, ScopeCrossType:
		return true
	}
	return false
}

// CorrelationRule groups related alerts into events within a sliding time
// window. CorrelationFields are OR-matched: two alerts correlate when ANY
// listed field is equal. GroupingFields build the idempotent correlation key.
type CorrelationRule struct {
	ID                string           `json:"id" validate:"required"`
	Name              string           `json:"name" validate:"required,max=256"`
	Scope             CorrelationScope `json:"scope" validate:"required,oneof=SUBTYPE TYPE CROSS_TYPE"`
	AlertType         int              `json:"alert_type,omitempty"`
	Subtype           string           `json:"subtype,omitempty"`
	Window            time.Duration    `json:"window" validate:"required,min=1s"`
	MinAlertCount     int              `json:"min_alert_count" validate:"required,min=1"`
	CorrelationFields []string         `json:"correlation_fields"`
	GroupingFields    []string         `json:"grouping_fields"`
	Priority          int              `json:"priority"`
	Enabled           bool             `json:"enabled"`

	// Execution bookkeeping, maintained by the correlation engine through
	// the rule provider.
	ExecutionCount int       `json:"execution_count,omitempty"`
	SuccessCount   int       `json:"success_count,omitempty"`
	LastExecutedAt time.Time `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// AppliesTo reports whether the rule's own type/subtype filters, if set,
// cover the alert.
func (r *CorrelationRule) AppliesTo(alertType int, subtype string) bool {
	if !r.Enabled {
		return false
	}
	if r.AlertType != 0 && r.AlertType != alertType {
		return false
	}
	if r.Subtype != "" && r.Subtype != subtype {
		return false
	}
	return true
}
