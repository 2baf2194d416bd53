package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisHistoryCap bounds the per-instance history index kept in Redis.
const redisHistoryCap = 256

// RedisStore is a Store backed by Redis: a plain key for the latest
// checkpoint (keyed overwrite, no read-modify-write) plus a sorted set
// indexing superseded snapshots by write time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "scoutflow:"
	}
	return &RedisStore{client: client, keyPrefix: prefix + "checkpoint:"}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "scoutflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "checkpoint:"}
}

func (s *RedisStore) latestKey(instanceID string) string {
	return s.keyPrefix + "latest:" + instanceID
}

func (s *RedisStore) historyKey(instanceID string) string {
	return s.keyPrefix + "history:" + instanceID
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	stored := *cp
	if stored.WrittenAt.IsZero() {
		stored.WrittenAt = time.Now()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.latestKey(cp.InstanceID), data, 0)
	pipe.ZAdd(ctx, s.historyKey(cp.InstanceID), redis.Z{
		Score:  float64(stored.WrittenAt.UnixNano()),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, s.historyKey(cp.InstanceID), 0, -redisHistoryCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, instanceID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.latestKey(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, instanceID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 || limit > redisHistoryCap {
		limit = redisHistoryCap
	}
	members, err := s.client.ZRevRange(ctx, s.historyKey(instanceID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint history: %w", err)
	}
	out := make([]*Checkpoint, 0, len(members))
	for _, m := range members {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(m), &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint history entry: %w", err)
		}
		out = append(out, &cp)
	}
	return out, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
