package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "SendPilot/internal/errors"
)

const redisKeyPrefix = "sendpilot:session:"

// RedisStore 将会话状态序列化为 JSON 存入 Redis，
// 依赖 Redis 原生 TTL 完成过期,适合多副本部署共享会话。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig Redis 会话存储配置。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore 建立 Redis 连接并验证可达性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Get 实现 Store 接口。
func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取会话失败")
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析会话数据失败")
	}
	return &state, nil
}

// Put 实现 Store 接口，写入同时刷新 TTL。
func (s *RedisStore) Put(ctx context.Context, state *State) error {
	if state == nil || state.ID == "" {
		return ErrSessionNotFound
	}
	state.UpdatedAt = time.Now()
	raw, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "序列化会话失败")
	}
	if err := s.client.Set(ctx, redisKeyPrefix+state.ID, raw, s.ttl).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Delete 实现 Store 接口。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Close 实现 Store 接口。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
