package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sessionhub-core/internal/core/dispose"
	coreerrors "sessionhub-core/internal/core/errors"
	corelog "sessionhub-core/internal/core/log"

	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis 存储配置
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
}

// RedisStore 基于 Redis 的会话主存储
// 值为 JSON 序列化的 Context，TTL 对齐 ExpiresAt
type RedisStore struct {
	client *redis.Client
	dispose.Dispose
}

// NewRedisStore 创建 Redis 会话存储
func NewRedisStore(parentCtx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(parentCtx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{client: client}
	store.SetCtx(parentCtx, store.onClose)

	corelog.Infof("RedisStore: connected to Redis at %s, DB: %d", config.Addr, config.DB)
	return store, nil
}

// NewRedisStoreFromClient 从已有客户端创建（测试与共享连接用）
func NewRedisStoreFromClient(parentCtx context.Context, client *redis.Client) *RedisStore {
	store := &RedisStore{client: client}
	store.SetCtx(parentCtx, func() error { return nil })
	return store
}

// onClose 资源释放回调
func (r *RedisStore) onClose() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Get 获取会话上下文
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Context, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, coreerrors.ErrSessionNotFound
		}
		return nil, coreerrors.Wrapf(err, coreerrors.ErrorTypeStoreUnavailable, "redis get %s failed", sessionID)
	}

	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.ErrorTypeInternal, "unmarshal session %s failed", sessionID)
	}

	if sc.Expired(time.Now()) {
		return nil, coreerrors.ErrSessionExpired
	}
	return &sc, nil
}

// Put 写入会话上下文
// expectedVersion >= 0 时做乐观版本检查；时间戳更新的写入者总是获胜
func (r *RedisStore) Put(ctx context.Context, sc *Context, expectedVersion int64) error {
	if expectedVersion >= 0 {
		stored, err := r.Get(ctx, sc.SessionID)
		if err == nil && stored.Version != expectedVersion {
			// 版本不一致：仅当存量数据更新时拒绝写入（last-writer-wins）
			if stored.NewerThan(sc) {
				return coreerrors.Wrapf(coreerrors.ErrConflictingWrite,
					coreerrors.ErrorTypeConflictingWrite,
					"session %s: expected version %d, stored %d", sc.SessionID, expectedVersion, stored.Version)
			}
			corelog.Debugf("RedisStore: version mismatch on %s resolved by timestamp, overwriting", sc.SessionID)
		}
	}

	sc.Version++
	data, err := json.Marshal(sc)
	if err != nil {
		return coreerrors.Wrapf(err, coreerrors.ErrorTypeInternal, "marshal session %s failed", sc.SessionID)
	}

	ttl := time.Until(sc.ExpiresAt)
	if ttl <= 0 {
		return coreerrors.ErrSessionExpired
	}

	if err := r.client.Set(ctx, sessionKey(sc.SessionID), data, ttl).Err(); err != nil {
		return coreerrors.Wrapf(err, coreerrors.ErrorTypeStoreUnavailable, "redis set %s failed", sc.SessionID)
	}
	return nil
}

// Touch 更新最后活跃时间
func (r *RedisStore) Touch(ctx context.Context, sessionID string) error {
	sc, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sc.Touch()
	return r.Put(ctx, sc, VersionAny)
}

// Delete 删除会话
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return coreerrors.Wrapf(err, coreerrors.ErrorTypeStoreUnavailable, "redis del %s failed", sessionID)
	}
	return nil
}

// Close 关闭存储
func (r *RedisStore) Close() error {
	return r.Dispose.Close()
}

// Client 返回底层 Redis 客户端（broker 复用连接配置时使用）
func (r *RedisStore) Client() *redis.Client {
	return r.client
}
