package observable

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"alertflow/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	obsKeyPrefix     = "alertflow:obs:"
	mappingKeyPrefix = "alertflow:obsmap:"
)

// RedisStore persists observables in Redis. HSETNX gives atomic
// find-or-create per (type, value); SADD gives idempotent mapping creation
// per (alert, observable) pair.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func obsKey(t model.ObservableType, value string) string {
	return obsKeyPrefix + string(t) + ":" + value
}

// FindOrCreate implements Store. The id field is claimed with HSETNX so
// concurrent extractors never create two records for the same pair.
func (s *RedisStore) FindOrCreate(ctx context.Context, t model.ObservableType, value string) (*model.Observable, bool, error) {
	key := obsKey(t, value)
	now := time.Now().UTC()

	created, err := s.client.HSetNX(ctx, key, "id", uuid.NewString()).Result()
	if err != nil {
		return nil, false, fmt.Errorf("observable: claim id: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSetNX(ctx, key, "first_seen", now.Format(time.RFC3339Nano))
	idCmd := pipe.HGet(ctx, key, "id")
	firstCmd := pipe.HGet(ctx, key, "first_seen")
	countCmd := pipe.HGet(ctx, key, "count")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("observable: update %s: %w", key, err)
	}

	id, err := uuid.Parse(idCmd.Val())
	if err != nil {
		return nil, false, fmt.Errorf("observable: corrupt id for %s: %w", key, err)
	}
	firstSeen, _ := time.Parse(time.RFC3339Nano, firstCmd.Val())
	count, _ := strconv.ParseInt(countCmd.Val(), 10, 64)

	return &model.Observable{
		ID:        id,
		Type:      t,
		Value:     value,
		Count:     count,
		FirstSeen: firstSeen,
		LastSeen:  now,
	}, created, nil
}

// RecordSighting implements Store. HINCRBY never loses updates under
// concurrent extraction.
func (s *RedisStore) RecordSighting(ctx context.Context, t model.ObservableType, value string) error {
	key := obsKey(t, value)
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_seen", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("observable: record sighting %s: %w", key, err)
	}
	return nil
}

// SaveMapping implements Store. The membership set answers "already mapped"
// atomically; the detail hash is only written by the first caller.
func (s *RedisStore) SaveMapping(ctx context.Context, m model.AlertObservableMapping) (bool, error) {
	setKey := mappingKeyPrefix + m.AlertID.String()

	added, err := s.client.SAdd(ctx, setKey, m.ObservableID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("observable: add mapping: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	detailKey := setKey + ":" + m.ObservableID.String()
	fields := map[string]any{
		"source_path": m.SourcePath,
		"role":        string(m.Role),
		"created_at":  m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, detailKey, fields).Err(); err != nil {
		return true, fmt.Errorf("observable: write mapping detail: %w", err)
	}
	return true, nil
}

// ObservableIDs implements Store.
func (s *RedisStore) ObservableIDs(ctx context.Context, alertID uuid.UUID) ([]uuid.UUID, error) {
	members, err := s.client.SMembers(ctx, mappingKeyPrefix+alertID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("observable: list mappings: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if id, err := uuid.Parse(m); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Count returns the occurrence count for an observable, 0 when unknown.
func (s *RedisStore) Count(ctx context.Context, t model.ObservableType, value string) (int64, error) {
	v, err := s.client.HGet(ctx, obsKey(t, value), "count").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
