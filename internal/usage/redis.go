package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcwell-foundry/aria/internal/governor"
	"github.com/arcwell-foundry/aria/pkg/errors"
)

// Hash fields of a Redis usage bucket
const (
	fieldInput         = "input_tokens"
	fieldOutput        = "output_tokens"
	fieldThinking      = "thinking_tokens"
	fieldCacheRead     = "cache_read_tokens"
	fieldCacheCreation = "cache_creation_tokens"
	fieldCost          = "estimated_cost"
	fieldRequests      = "requests"
)

// DefaultRedisTTL outlives one UTC day so late readers still see yesterday
const DefaultRedisTTL = 48 * time.Hour

// RedisStore keeps each tenant-day aggregate in one Redis hash
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ governor.UsageStore = (*RedisStore)(nil)

// RedisStoreOption customizes a RedisStore
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the "aria:usage" key prefix
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL overrides the bucket expiry
func WithTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithClock overrides the clock used to pick the day bucket
func WithClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore creates a store over an existing client
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "aria:usage",
		ttl:    DefaultRedisTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the hash key for a tenant on the given day
func (s *RedisStore) Key(tenantID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, tenantID, Day(at))
}

// ReadTodayUsage loads the tenant's hash for the current UTC day. A missing
// key reads as zero usage.
func (s *RedisStore) ReadTodayUsage(ctx context.Context, tenantID string) (governor.DailyUsage, error) {
	values, err := s.client.HGetAll(ctx, s.Key(tenantID, s.now())).Result()
	if err != nil {
		return governor.DailyUsage{}, errors.NewExternalError("redis", "failed to read usage").WithCause(err)
	}
	return decodeUsage(values)
}

// IncrementUsage applies delta with HINCRBY in a single MULTI/EXEC so
// concurrent writers never lose updates.
func (s *RedisStore) IncrementUsage(ctx context.Context, tenantID string, delta governor.UsageDelta) error {
	key := s.Key(tenantID, s.now())

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldInput, delta.InputTokens)
		pipe.HIncrBy(ctx, key, fieldOutput, delta.OutputTokens)
		pipe.HIncrBy(ctx, key, fieldThinking, delta.ThinkingTokens)
		pipe.HIncrBy(ctx, key, fieldCacheRead, delta.CacheReadTokens)
		pipe.HIncrBy(ctx, key, fieldCacheCreation, delta.CacheCreationTokens)
		pipe.HIncrByFloat(ctx, key, fieldCost, delta.EstimatedCost)
		pipe.HIncrBy(ctx, key, fieldRequests, 1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return errors.NewExternalError("redis", "failed to increment usage").WithCause(err)
	}
	return nil
}

func decodeUsage(values map[string]string) (governor.DailyUsage, error) {
	var usage governor.DailyUsage

	ints := map[string]*int64{
		fieldInput:         &usage.InputTokens,
		fieldOutput:        &usage.OutputTokens,
		fieldThinking:      &usage.ThinkingTokens,
		fieldCacheRead:     &usage.CacheReadTokens,
		fieldCacheCreation: &usage.CacheCreationTokens,
		fieldRequests:      &usage.Requests,
	}
	for field, dst := range ints {
		raw, ok := values[field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return governor.DailyUsage{}, errors.NewInternalError("corrupt usage field " + field).WithCause(err)
		}
		*dst = n
	}

	if raw, ok := values[fieldCost]; ok {
		cost, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return governor.DailyUsage{}, errors.NewInternalError("corrupt usage field " + fieldCost).WithCause(err)
		}
		usage.EstimatedCost = cost
	}

	return usage, nil
}
