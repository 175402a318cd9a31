package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
)

const redisKeyPrefix = "evacsim:session:"

// RedisStore keeps each session as a Redis list whose key expires ttl after
// the last append.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore parses a redis:// URL and creates the client.
func NewRedisStore(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl, logger: logger}, nil
}

func sessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// WaitForConnection retries Ping until Redis answers or ctx ends.
func (r *RedisStore) WaitForConnection(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.Ping(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("Redis not ready yet", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("redis did not become available: %w", err)
	}
	r.logger.Info("Redis connection established")
	return nil
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Append pushes the message and refreshes the session expiry atomically.
func (r *RedisStore) Append(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := sessionKey(msg.SessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message to %s: %w", msg.SessionID, err)
	}
	return nil
}

// Tail reads the last n entries; a missing key is an empty session.
func (r *RedisStore) Tail(ctx context.Context, sessionID string, n int) ([]chat.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := r.client.LRange(ctx, sessionKey(sessionID), int64(-n), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	messages := make([]chat.Message, 0, len(raw))
	for _, item := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			r.logger.Warn("skipping corrupt session entry", "session_id", sessionID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete removes the session key.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
