package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultShareLinkRedisTimeout = 2 * time.Second

// RedisShareLinkConfig configures the Redis-backed share-link store.
type RedisShareLinkConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
	PoolSize  int
}

// RedisShareLinkStore persists share links in Redis so multiple API replicas
// resolve the same tokens. Token reassignment is last-writer-wins across
// replicas; readers see either the old or the new token, never a torn
// record.
type RedisShareLinkStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisShareLinkStore opens a Redis-backed store using the provided
// configuration. The caller is responsible for ensuring the Redis instance
// is reachable.
func NewRedisShareLinkStore(cfg RedisShareLinkConfig) (*RedisShareLinkStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required for share-link store")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultShareLinkRedisTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     cfg.PoolSize,
	})
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "cirrusdrive"
	}
	return &RedisShareLinkStore{client: client, prefix: prefix, timeout: timeout}, nil
}

// Ping verifies the Redis connection.
func (s *RedisShareLinkStore) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client resources.
func (s *RedisShareLinkStore) Close() error {
	return s.client.Close()
}

type redisShareLinkRecord struct {
	FileID    string    `json:"fileId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *RedisShareLinkStore) tokenKey(token string) string {
	return s.prefix + ":sharelink:token:" + token
}

func (s *RedisShareLinkStore) fileKey(fileID string) string {
	return s.prefix + ":sharelink:file:" + fileID
}

// Assign records the token for the file and drops the previously active
// token in a single pipeline.
func (s *RedisShareLinkStore) Assign(fileID, token string, createdAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	previous, err := s.client.Get(ctx, s.fileKey(fileID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lookup prior share link: %w", err)
	}

	payload, err := json.Marshal(redisShareLinkRecord{FileID: fileID, CreatedAt: createdAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode share link: %w", err)
	}

	pipe := s.client.TxPipeline()
	if previous != "" && previous != token {
		pipe.Del(ctx, s.tokenKey(previous))
	}
	pipe.Set(ctx, s.tokenKey(token), payload, 0)
	pipe.Set(ctx, s.fileKey(fileID), token, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("assign share link: %w", err)
	}
	return nil
}

// Resolve retrieves the record for the provided token.
func (s *RedisShareLinkStore) Resolve(token string) (ShareLinkRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ShareLinkRecord{}, false, nil
	}
	if err != nil {
		return ShareLinkRecord{}, false, fmt.Errorf("resolve share link: %w", err)
	}
	var record redisShareLinkRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return ShareLinkRecord{}, false, fmt.Errorf("decode share link: %w", err)
	}
	return ShareLinkRecord{FileID: record.FileID, Token: token, CreatedAt: record.CreatedAt}, true, nil
}

// TokenFor retrieves the active token for the provided file.
func (s *RedisShareLinkStore) TokenFor(fileID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	token, err := s.client.Get(ctx, s.fileKey(fileID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup share link: %w", err)
	}
	return token, true, nil
}

// Remove deletes the active token for the provided file.
func (s *RedisShareLinkStore) Remove(fileID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	token, err := s.client.Get(ctx, s.fileKey(fileID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup share link: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(token))
	pipe.Del(ctx, s.fileKey(fileID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove share link: %w", err)
	}
	return nil
}
