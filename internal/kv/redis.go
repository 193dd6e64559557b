package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/pkg/logger"
)

const redisBackendName = "redis"

type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend builds a client from a redis:// or rediss:// connection
// string. It does not dial; the first command opens the connection.
func NewRedisBackend(connString string, timeout time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	// Retries are owned by Client.
	opts.MaxRetries = -1

	logger.Info("Redis backend configured", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

func (b *RedisBackend) Name() string {
	return redisBackendName
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, classifyRedisError(err))
	}
	return data, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, classifyRedisError(err))
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, classifyRedisError(err))
	}
	return nil
}

func (b *RedisBackend) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	swapped := false

	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		if !matches(current, exists, old) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		logger.Debug("Redis transaction lost race", zap.String("key", key))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, classifyRedisError(err))
	}
	return swapped, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", classifyRedisError(err))
	}
	return nil
}

func matches(current []byte, exists bool, old []byte) bool {
	if old == nil {
		return !exists
	}
	return exists && bytes.Equal(current, old)
}

// classifyRedisError maps server replies onto the kv taxonomy. Network
// errors are left as-is; IsTransient recognises them.
func classifyRedisError(err error) error {
	var replyErr redis.Error
	if !errors.As(err, &replyErr) {
		return err
	}

	msg := replyErr.Error()
	switch {
	case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"), strings.HasPrefix(msg, "NOPERM"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.HasPrefix(msg, "LOADING"), strings.HasPrefix(msg, "TRYAGAIN"),
		strings.HasPrefix(msg, "CLUSTERDOWN"), strings.HasPrefix(msg, "BUSY"):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
