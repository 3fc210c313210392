// Package correlation groups related alerts into events within sliding time
// windows. Events are found-or-created by a deterministic correlation key so
// repeated runs over the same alerts converge instead of duplicating.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"alertflow/internal/model"

	"github.com/google/uuid"
)

// AlertRepository queries and updates stored alerts. alertType 0 means all
// types; an empty subtype means all subtypes.
type AlertRepository interface {
	FindUnfiltered(ctx context.Context, alertType int, subtype string, from, to time.Time) ([]*model.Alert, error)
	Save(ctx context.Context, alert *model.Alert) error
}

// EventRepository looks up and persists correlated events. FindByCorrelationKey
// returns nil with no error when the key has no event yet.
type EventRepository interface {
	FindByCorrelationKey(ctx context.Context, key string) (*model.Event, error)
	Save(ctx context.Context, event *model.Event) error
}

// RuleSource supplies correlation rules and receives counter updates.
type RuleSource interface {
	ListCorrelationRules(ctx context.Context) ([]*model.CorrelationRule, error)
	IncrementRuleCounters(ctx context.Context, ruleID string, success bool) error
}

// ObservableLookup answers which observables an alert mapped to; the
// cross-type fallback narrows candidates to alerts sharing at least one.
type ObservableLookup interface {
	ObservableIDs(ctx context.Context, alertID uuid.UUID) ([]uuid.UUID, error)
}

// Delegate offloads cross-type correlation to an external compute cluster.
type Delegate interface {
	IsAvailable(ctx context.Context) bool
	CorrelateCrossType(ctx context.Context, alert *model.Alert, rule *model.CorrelationRule) error
}

// DomainsFunc extracts the domains present in an alert's parsed payload for
// event aggregation.
type DomainsFunc func(*model.Alert) []string

// Engine evaluates correlation rules against incoming alerts.
type Engine struct {
	alerts      AlertRepository
	events      EventRepository
	rules       RuleSource
	observables ObservableLookup
	delegate    Delegate
	domains     DomainsFunc
	keys        *keyLocks
	logger      *slog.Logger
	now         func() time.Time

	// Hooks for engine outcome accounting, optional.
	OnEventCreated     func(*model.Event)
	OnEventUpdated     func(*model.Event)
	OnDelegateFallback func()
}

// NewEngine creates a correlation engine. delegate and domains may be nil.
func NewEngine(alerts AlertRepository, events EventRepository, rules RuleSource, observables ObservableLookup, delegate Delegate, domains DomainsFunc, logger *slog.Logger) *Engine {
	if domains == nil {
		domains = func(*model.Alert) []string { return nil }
	}
	return &Engine{
		alerts:      alerts,
		events:      events,
		rules:       rules,
		observables: observables,
		delegate:    delegate,
		domains:     domains,
		keys:        newKeyLocks(),
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock fixes the engine clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Correlate runs every applicable enabled rule against the alert. A failure
// in one (alert, rule) pair is logged and isolated; it never prevents the
// remaining rules from running and never marks the alert as failed.
func (e *Engine) Correlate(ctx context.Context, alert *model.Alert) {
	if alert.IsFiltered {
		return
	}

	rules, err := e.rules.ListCorrelationRules(ctx)
	if err != nil {
		e.logger.Error("failed to list correlation rules", "error", err)
		return
	}

	for _, rule := range rules {
		if !rule.AppliesTo(alert.AlertType, alert.Subtype) {
			continue
		}

		success, err := e.correlateRule(ctx, alert, rule)
		if err != nil {
			e.logger.Error("correlation rule failed",
				"rule_id", rule.ID,
				"alert_id", alert.ID,
				"error", err,
			)
		}

		if err := e.rules.IncrementRuleCounters(ctx, rule.ID, success); err != nil {
			e.logger.Warn("failed to update rule counters", "rule_id", rule.ID, "error", err)
		}
	}
}

// correlateRule evaluates one rule for one triggering alert. Returns whether
// the rule produced or updated an event.
func (e *Engine) correlateRule(ctx context.Context, alert *model.Alert, rule *model.CorrelationRule) (bool, error) {
	now := e.now().UTC()
	from := now.Add(-rule.Window)

	var candidates []*model.Alert
	var err error

	switch rule.Scope {
	case model.ScopeSubtype:
		candidates, err = e.alerts.FindUnfiltered(ctx, alert.AlertType, alert.Subtype, from, now)
	case model.ScopeType:
		candidates, err = e.alerts.FindUnfiltered(ctx, alert.AlertType, "", from, now)
	case model.ScopeCrossType:
		if e.delegate != nil && e.delegate.IsAvailable(ctx) {
			// Fire-and-forget: the delegate owns the whole cross-type run.
			if err := e.delegate.CorrelateCrossType(ctx, alert, rule); err == nil {
				return true, nil
			}
			e.logger.Debug("delegate cross-type correlation failed, falling back",
				"rule_id", rule.ID,
			)
			if e.OnDelegateFallback != nil {
				e.OnDelegateFallback()
			}
		}
		candidates, err = e.alerts.FindUnfiltered(ctx, 0, "", from, now)
	default:
		return false, fmt.Errorf("unknown correlation scope %q", rule.Scope)
	}
	if err != nil {
		return false, fmt.Errorf("window query: %w", err)
	}

	matched := e.narrow(alert, candidates, rule)
	if rule.Scope == model.ScopeCrossType {
		matched, err = e.narrowByObservables(ctx, alert, matched)
		if err != nil {
			return false, fmt.Errorf("observable narrowing: %w", err)
		}
	}

	if len(matched) < rule.MinAlertCount {
		return false, nil
	}

	key := CorrelationKey(rule, matched, now)

	// Serialize all updates to the same event.
	unlock := e.keys.lock(key)
	defer unlock()

	event, err := e.events.FindByCorrelationKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("event lookup: %w", err)
	}

	if event == nil {
		return true, e.createEvent(ctx, rule, key, matched, now)
	}
	return true, e.updateEvent(ctx, event, matched, now)
}

// narrow keeps the candidates that share a value with the triggering alert
// on ANY of the rule's correlation fields. The triggering alert always
// belongs to the set; with no correlation fields configured no narrowing
// happens.
func (e *Engine) narrow(alert *model.Alert, candidates []*model.Alert, rule *model.CorrelationRule) []*model.Alert {
	out := []*model.Alert{alert}
	seen := map[uuid.UUID]bool{alert.ID: true}

	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		if len(rule.CorrelationFields) > 0 && !anyFieldEqual(alert, c, rule.CorrelationFields) {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func anyFieldEqual(a, b *model.Alert, fields []string) bool {
	for _, f := range fields {
		av := a.FieldString(f)
		if av == "" {
			continue
		}
		if strings.EqualFold(av, b.FieldString(f)) {
			return true
		}
	}
	return false
}

// narrowByObservables keeps alerts sharing at least one mapped observable
// with the triggering alert. The triggering alert itself always stays.
func (e *Engine) narrowByObservables(ctx context.Context, alert *model.Alert, candidates []*model.Alert) ([]*model.Alert, error) {
	triggering, err := e.observables.ObservableIDs(ctx, alert.ID)
	if err != nil {
		return nil, err
	}
	if len(triggering) == 0 {
		return []*model.Alert{alert}, nil
	}
	set := make(map[uuid.UUID]bool, len(triggering))
	for _, id := range triggering {
		set[id] = true
	}

	out := make([]*model.Alert, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == alert.ID {
			out = append(out, c)
			continue
		}
		ids, err := e.observables.ObservableIDs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if set[id] {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// CorrelationKey derives the deterministic event key: the rule id plus the
// sorted, comma-joined distinct values of each grouping field across the
// matched set. Without grouping fields the key embeds the current timestamp,
// so ungrouped rules always create a fresh event.
func CorrelationKey(rule *model.CorrelationRule, matched []*model.Alert, now time.Time) string {
	if len(rule.GroupingFields) == 0 {
		return fmt.Sprintf("%s:%d", rule.ID, now.UnixNano())
	}

	parts := make([]string, 0, len(rule.GroupingFields)+1)
	parts = append(parts, rule.ID)
	for _, field := range rule.GroupingFields {
		distinct := make(map[string]bool)
		for _, a := range matched {
			if v := a.FieldString(field); v != "" {
				distinct[v] = true
			}
		}
		values := make([]string, 0, len(distinct))
		for v := range distinct {
			values = append(values, v)
		}
		sort.Strings(values)
		parts = append(parts, field+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, "|")
}
