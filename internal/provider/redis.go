// Package provider supplies the externally managed configuration objects the
// pipeline consumes: source configs, alert-type schemas, and filter, tagging
// and correlation rules. The core only ever reads snapshots; rules and
// sources are created and edited elsewhere.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"alertflow/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

const (
	sourcesKey          = "alertflow:sources"
	schemaKeyPrefix     = "alertflow:schema:"
	filterRulesKey      = "alertflow:rules:filter"
	taggingRulesKey     = "alertflow:rules:tagging"
	correlationRulesKey = "alertflow:rules:correlation"
	ruleStatsPrefix     = "alertflow:rulestats:"
)

// RedisProvider reads rule and source config snapshots from Redis with a
// short cache TTL, so the core polls rather than live-subscribes.
type RedisProvider struct {
	client   *redis.Client
	validate *validator.Validate
	logger   *slog.Logger
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

// NewRedisProvider creates a provider on an existing client. ttl bounds how
// stale a snapshot may be; 0 disables caching.
func NewRedisProvider(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisProvider {
	return &RedisProvider{
		client:   client,
		validate: validator.New(),
		logger:   logger,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
	}
}

func (p *RedisProvider) cached(key string) (any, bool) {
	if p.ttl <= 0 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[key]
	if !ok || time.Since(entry.fetchedAt) > p.ttl {
		return nil, false
	}
	return entry.value, true
}

func (p *RedisProvider) store(key string, value any) {
	if p.ttl <= 0 {
		return
	}
	p.mu.Lock()
	p.cache[key] = cacheEntry{value: value, fetchedAt: time.Now()}
	p.mu.Unlock()
}

// ListEnabledSources returns every enabled source config.
func (p *RedisProvider) ListEnabledSources(ctx context.Context) ([]*model.SourceConfig, error) {
	if v, ok := p.cached(sourcesKey); ok {
		return v.([]*model.SourceConfig), nil
	}

	raw, err := p.client.HGetAll(ctx, sourcesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("provider: list sources: %w", err)
	}

	out := make([]*model.SourceConfig, 0, len(raw))
	for id, blob := range raw {
		var cfg model.SourceConfig
		if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
			p.logger.Warn("skipping corrupt source config", "id", id, "error", err)
			continue
		}
		if err := p.validate.Struct(&cfg); err != nil {
			p.logger.Warn("skipping invalid source config", "id", id, "error", err)
			continue
		}
		if cfg.Enabled {
			out = append(out, &cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	p.store(sourcesKey, out)
	return out, nil
}

// UpdateSourceStatus records a source's last-known connection status.
func (p *RedisProvider) UpdateSourceStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	blob, err := p.client.HGet(ctx, sourcesKey, id).Result()
	if err == redis.Nil {
		return nil // source deleted since the consumer started
	}
	if err != nil {
		return fmt.Errorf("provider: read source %s: %w", id, err)
	}

	var cfg model.SourceConfig
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return fmt.Errorf("provider: corrupt source %s: %w", id, err)
	}
	cfg.Status = status
	cfg.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(&cfg)
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, sourcesKey, id, updated).Err()
}

// GetSchema returns the field schema for an alert type, ordered by display
// order.
func (p *RedisProvider) GetSchema(ctx context.Context, alertType int) ([]model.FieldDef, error) {
	key := fmt.Sprintf("%s%d", schemaKeyPrefix, alertType)
	if v, ok := p.cached(key); ok {
		return v.([]model.FieldDef), nil
	}

	blob, err := p.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("provider: get schema %d: %w", alertType, err)
	}

	var fields []model.FieldDef
	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return nil, fmt.Errorf("provider: corrupt schema %d: %w", alertType, err)
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].DisplayOrder < fields[j].DisplayOrder
	})

	p.store(key, fields)
	return fields, nil
}

// ListFilterRules returns enabled filter rules in evaluation order:
// descending priority, ties broken by creation order.
func (p *RedisProvider) ListFilterRules(ctx context.Context) ([]*model.FilterRule, error) {
	if v, ok := p.cached(filterRulesKey); ok {
		return v.([]*model.FilterRule), nil
	}

	raw, err := p.client.HGetAll(ctx, filterRulesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("provider: list filter rules: %w", err)
	}

	out := make([]*model.FilterRule, 0, len(raw))
	for id, blob := range raw {
		var rule model.FilterRule
		if err := json.Unmarshal([]byte(blob), &rule); err != nil {
			p.logger.Warn("skipping corrupt filter rule", "id", id, "error", err)
			continue
		}
		if err := p.validate.Struct(&rule); err != nil {
			p.logger.Warn("skipping invalid filter rule", "id", id, "error", err)
			continue
		}
		if rule.Enabled {
			out = append(out, &rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	p.store(filterRulesKey, out)
	return out, nil
}

// ListTaggingRules returns enabled tagging rules in evaluation order.
func (p *RedisProvider) ListTaggingRules(ctx context.Context) ([]*model.TaggingRule, error) {
	if v, ok := p.cached(taggingRulesKey); ok {
		return v.([]*model.TaggingRule), nil
	}

	raw, err := p.client.HGetAll(ctx, taggingRulesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("provider: list tagging rules: %w", err)
	}

	out := make([]*model.TaggingRule, 0, len(raw))
	for id, blob := range raw {
		var rule model.TaggingRule
		if err := json.Unmarshal([]byte(blob), &rule); err != nil {
			p.logger.Warn("skipping corrupt tagging rule", "id", id, "error", err)
			continue
		}
		if err := p.validate.Struct(&rule); err != nil {
			p.logger.Warn("skipping invalid tagging rule", "id", id, "error", err)
			continue
		}
		if rule.Enabled {
			out = append(out, &rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	p.store(taggingRulesKey, out)
	return out, nil
}

// ListCorrelationRules returns enabled correlation rules by descending
// priority.
func (p *RedisProvider) ListCorrelationRules(ctx context.Context) ([]*model.CorrelationRule, error) {
	if v, ok := p.cached(correlationRulesKey); ok {
		return v.([]*model.CorrelationRule), nil
	}

	raw, err := p.client.HGetAll(ctx, correlationRulesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("provider: list correlation rules: %w", err)
	}

	out := make([]*model.CorrelationRule, 0, len(raw))
	for id, blob := range raw {
		var rule model.CorrelationRule
		if err := json.Unmarshal([]byte(blob), &rule); err != nil {
			p.logger.Warn("skipping corrupt correlation rule", "id", id, "error", err)
			continue
		}
		if err := p.validate.Struct(&rule); err != nil {
			p.logger.Warn("skipping invalid correlation rule", "id", id, "error", err)
			continue
		}
		if rule.Enabled {
			out = append(out, &rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	p.store(correlationRulesKey, out)
	return out, nil
}

// IncrementRuleCounters bumps a rule's execution counter, and its success
// counter when success is true. Counters live beside the rule so the rule
// objects themselves stay read-only to the core.
func (p *RedisProvider) IncrementRuleCounters(ctx context.Context, ruleID string, success bool) error {
	key := ruleStatsPrefix + ruleID
	pipe := p.client.Pipeline()
	pipe.HIncrBy(ctx, key, "execution_count", 1)
	if success {
		pipe.HIncrBy(ctx, key, "success_count", 1)
	}
	pipe.HSet(ctx, key, "last_executed_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("provider: increment counters for %s: %w", ruleID, err)
	}
	return nil
}
