package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"alertflow/internal/model"
)

// MemoryProvider is an in-process provider used in tests and for development
// without Redis. Objects are registered directly.
type MemoryProvider struct {
	mu               sync.RWMutex
	sources          []*model.SourceConfig
	schemas          map[int][]model.FieldDef
	filterRules      []*model.FilterRule
	taggingRules     []*model.TaggingRule
	correlationRules []*model.CorrelationRule
	statuses         map[string]model.ConnectionStatus
	executions       map[string]int
	successes        map[string]int
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		schemas:    make(map[int][]model.FieldDef),
		statuses:   make(map[string]model.ConnectionStatus),
		executions: make(map[string]int),
		successes:  make(map[string]int),
	}
}

// SetSources replaces the source config set.
func (p *MemoryProvider) SetSources(sources ...*model.SourceConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = sources
}

// SetSchema registers the schema for an alert type.
func (p *MemoryProvider) SetSchema(alertType int, fields []model.FieldDef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[alertType] = fields
}

// AddFilterRules appends filter rules.
func (p *MemoryProvider) AddFilterRules(rules ...*model.FilterRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterRules = append(p.filterRules, rules...)
}

// AddTaggingRules appends tagging rules.
func (p *MemoryProvider) AddTaggingRules(rules ...*model.TaggingRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taggingRules = append(p.taggingRules, rules...)
}

// AddCorrelationRules appends correlation rules.
func (p *MemoryProvider) AddCorrelationRules(rules ...*model.CorrelationRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.correlationRules = append(p.correlationRules, rules...)
}

// ListEnabledSources returns the enabled source configs.
func (p *MemoryProvider) ListEnabledSources(_ context.Context) ([]*model.SourceConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.SourceConfig, 0, len(p.sources))
	for _, s := range p.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

// UpdateSourceStatus records the status in memory.
func (p *MemoryProvider) UpdateSourceStatus(_ context.Context, id string, status model.ConnectionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = status
	return nil
}

// SourceStatus returns the recorded status for a source, for tests.
func (p *MemoryProvider) SourceStatus(id string) model.ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statuses[id]
}

// GetSchema returns the registered schema ordered by display order.
func (p *MemoryProvider) GetSchema(_ context.Context, alertType int) ([]model.FieldDef, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fields := append([]model.FieldDef(nil), p.schemas[alertType]...)
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].DisplayOrder < fields[j].DisplayOrder
	})
	return fields, nil
}

// ListFilterRules returns enabled filter rules in evaluation order.
func (p *MemoryProvider) ListFilterRules(_ context.Context) ([]*model.FilterRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.FilterRule, 0, len(p.filterRules))
	for _, r := range p.filterRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sortByPriority(out, func(r *model.FilterRule) (int, time.Time) { return r.Priority, r.CreatedAt })
	return out, nil
}

// ListTaggingRules returns enabled tagging rules in evaluation order.
func (p *MemoryProvider) ListTaggingRules(_ context.Context) ([]*model.TaggingRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.TaggingRule, 0, len(p.taggingRules))
	for _, r := range p.taggingRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sortByPriority(out, func(r *model.TaggingRule) (int, time.Time) { return r.Priority, r.CreatedAt })
	return out, nil
}

// ListCorrelationRules returns enabled correlation rules in evaluation order.
func (p *MemoryProvider) ListCorrelationRules(_ context.Context) ([]*model.CorrelationRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.CorrelationRule, 0, len(p.correlationRules))
	for _, r := range p.correlationRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sortByPriority(out, func(r *model.CorrelationRule) (int, time.Time) { return r.Priority, r.CreatedAt })
	return out, nil
}

// IncrementRuleCounters bumps the in-memory counters.
func (p *MemoryProvider) IncrementRuleCounters(_ context.Context, ruleID string, success bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executions[ruleID]++
	if success {
		p.successes[ruleID]++
	}
	return nil
}

// RuleCounters returns the recorded counters for a rule, for tests.
func (p *MemoryProvider) RuleCounters(ruleID string) (executions, successes int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.executions[ruleID], p.successes[ruleID]
}

func sortByPriority[T any](rules []T, key func(T) (int, time.Time)) {
	sort.SliceStable(rules, func(i, j int) bool {
		pi, ci := key(rules[i])
		pj, cj := key(rules[j])
		if pi != pj {
			return pi > pj
		}
		return ci.Before(cj)
	})
}
