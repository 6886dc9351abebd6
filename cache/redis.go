package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"LnSPoll/model"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKey        = "survey:session:%s" // String: SurveySession JSON
	activeSessionsKey = "survey:sessions"   // Sorted Set: session id -> expiry unix time
)

// RedisSessionStore keeps sessions in Redis so several server instances can share them.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore 创建 Redis 会话存储
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (c *RedisSessionStore) Get(ctx context.Context, id string) (*model.SurveySession, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf(sessionKey, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var s model.SurveySession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

// Put writes the session and refreshes its TTL.
func (c *RedisSessionStore) Put(ctx context.Context, s *model.SurveySession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	expires := time.Now().Add(c.ttl).Unix()
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(sessionKey, s.ID), data, c.ttl)
	pipe.ZAdd(ctx, activeSessionsKey, redis.Z{Score: float64(expires), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.ID, err)
	}
	return nil
}

func (c *RedisSessionStore) Delete(ctx context.Context, id string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(sessionKey, id))
	pipe.ZRem(ctx, activeSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Active trims expired members from the index before counting.
func (c *RedisSessionStore) Active(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := c.client.ZRemRangeByScore(ctx, activeSessionsKey, "-inf", "("+now).Err(); err != nil {
		return 0, fmt.Errorf("failed to trim session index: %w", err)
	}
	n, err := c.client.ZCard(ctx, activeSessionsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}
