package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/rheo/config"
	"github.com/BaSui01/rheo/internal/tlsutil"
	"github.com/BaSui01/rheo/workflow"
)

const defaultRedisPrefix = "rheo:checkpoint:"

// RedisStore 基于 Redis 的检查点存储。
//
// 每个线程一个 hash（data, timestamp），线程 id 另存一个 set 作为索引。
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore 连接 Redis 并验证可用
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client. The store closes it.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (r *RedisStore) threadKey(id string) string { return r.keyPrefix + "thread:" + id }

func (r *RedisStore) indexKey() string { return r.keyPrefix + "threads" }

// Save implements workflow.Checkpointer.
func (r *RedisStore) Save(ctx context.Context, s *workflow.State) error {
	rec, err := NewRecord(s, r.now())
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.threadKey(rec.ThreadID), "data", string(rec.Data), "timestamp", rec.Timestamp)
		pipe.SAdd(ctx, r.indexKey(), rec.ThreadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, threadID string) (*workflow.State, error) {
	rec, err := r.Record(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return Decode(rec.Data)
}

// Record reads the raw hash of threadID.
func (r *RedisStore) Record(ctx context.Context, threadID string) (*Record, error) {
	fields, err := r.client.HGetAll(ctx, r.threadKey(threadID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	data, ok := fields["data"]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{ThreadID: threadID, Data: []byte(data), Timestamp: fields["timestamp"]}, nil
}

func (r *RedisStore) ListThreads(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *RedisStore) Delete(ctx context.Context, threadID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.threadKey(threadID))
		pipe.SRem(ctx, r.indexKey(), threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }
