// Package rules evaluates filter and tagging rules against alerts. One
// generic matcher serves both kinds; short-circuit versus accumulate lives in
// the kind-specific entry points.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"alertflow/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// regexCacheSize bounds the compiled-pattern cache.
const regexCacheSize = 512

// FilterVerdict is the outcome of filter evaluation.
type FilterVerdict struct {
	Filtered bool
	RuleID   string
	RuleName string
}

// Delegate offloads rule evaluation to an external compute cluster. Any
// error from a delegate call means "unavailable" and triggers local fallback.
type Delegate interface {
	IsAvailable(ctx context.Context) bool
	EvaluateFilter(ctx context.Context, alert *model.Alert, rules []*model.FilterRule) (FilterVerdict, error)
	EvaluateTags(ctx context.Context, alert *model.Alert, rules []*model.TaggingRule) ([]string, error)
}

// Evaluator matches alerts against filter and tagging rules.
type Evaluator struct {
	regexes  *lru.Cache[string, *regexp.Regexp]
	delegate Delegate
	logger   *slog.Logger

	// OnFallback is called when a delegate error forces local evaluation,
	// optional.
	OnFallback func()
}

// NewEvaluator creates an Evaluator. delegate may be nil for local-only
// evaluation.
func NewEvaluator(delegate Delegate, logger *slog.Logger) *Evaluator {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Evaluator{
		regexes:  cache,
		delegate: delegate,
		logger:   logger,
	}
}

// Matches checks one rule predicate against the alert. The field name
// resolves against the normalized field map first, then the well-known
// top-level attributes. A missing field never matches; a bad regex is
// treated as a non-match.
func (e *Evaluator) Matches(alert *model.Alert, rule model.MatchableRule) bool {
	field, matchType, value := rule.Predicate()

	fieldValue := alert.Field(field)
	if fieldValue == nil {
		return false
	}
	text := fmt.Sprintf("%v", fieldValue)

	switch matchType {
	case model.MatchExact:
		return strings.EqualFold(text, value)
	case model.MatchContains:
		return strings.Contains(strings.ToLower(text), strings.ToLower(value))
	case model.MatchRegex:
		re, err := e.compile(value)
		if err != nil {
			e.logger.Warn("invalid rule regex",
				"rule_id", rule.RuleID(),
				"pattern", value,
				"error", err,
			)
			return false
		}
		return re.MatchString(text)
	}
	return false
}

// compile returns a case-insensitive partial-match pattern, cached.
func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexes.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	e.regexes.Add(pattern, re)
	return re, nil
}

// EvaluateFilter applies filter rules in the given (priority-descending)
// order. The first match wins and is recorded on the alert as the filter
// reason. When a reachable delegate exists the whole candidate set is
// delegated and its verdict is authoritative; delegate failure falls back to
// local evaluation silently.
func (e *Evaluator) EvaluateFilter(ctx context.Context, alert *model.Alert, candidates []*model.FilterRule) FilterVerdict {
	if e.delegate != nil && e.delegate.IsAvailable(ctx) {
		if verdict, err := e.delegate.EvaluateFilter(ctx, alert, candidates); err == nil {
			applyVerdict(alert, verdict)
			return verdict
		}
		e.logger.Debug("delegate filter evaluation failed, evaluating locally",
			"alert_id", alert.ID,
		)
		if e.OnFallback != nil {
			e.OnFallback()
		}
	}

	for _, rule := range candidates {
		if !rule.AppliesTo(alert.AlertType, alert.Subtype) {
			continue
		}
		if e.Matches(alert, rule) {
			verdict := FilterVerdict{Filtered: true, RuleID: rule.ID, RuleName: rule.Name}
			applyVerdict(alert, verdict)
			return verdict
		}
	}
	return FilterVerdict{}
}

func applyVerdict(alert *model.Alert, v FilterVerdict) {
	if !v.Filtered {
		return
	}
	alert.IsFiltered = true
	alert.FilterRuleID = v.RuleID
	alert.FilterReason = v.RuleName
	alert.Status = model.AlertStatusFiltered
}

// EvaluateTags applies tagging rules without short-circuiting: every
// matching rule contributes its tag list. Duplicate tags collapse.
func (e *Evaluator) EvaluateTags(ctx context.Context, alert *model.Alert, candidates []*model.TaggingRule) []string {
	if e.delegate != nil && e.delegate.IsAvailable(ctx) {
		if tags, err := e.delegate.EvaluateTags(ctx, alert, candidates); err == nil {
			alert.Tags = appendUnique(alert.Tags, tags...)
			return alert.Tags
		}
		e.logger.Debug("delegate tag evaluation failed, evaluating locally",
			"alert_id", alert.ID,
		)
		if e.OnFallback != nil {
			e.OnFallback()
		}
	}

	for _, rule := range candidates {
		if !rule.AppliesTo(alert.AlertType, alert.Subtype) {
			continue
		}
		if e.Matches(alert, rule) {
			alert.Tags = appendUnique(alert.Tags, rule.Tags...)
		}
	}
	return alert.Tags
}

func appendUnique(existing []string, tags ...string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			existing = append(existing, t)
			seen[t] = true
		}
	}
	return existing
}
