package session

import (
	"context"
	"errors"
	"testing"
	"time"

	coreerrors "sessionhub-core/internal/core/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore 基于 miniredis 创建测试存储
func setupTestStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(context.Background(), client)
	t.Cleanup(func() {
		store.Close()
		client.Close()
	})
	return mr, store
}

func TestRedisStore_PutGet(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	sc := NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, VersionAny))
	assert.Equal(t, int64(2), sc.Version) // 初始 1，写入后 +1

	got, err := store.Get(ctx, sc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, sc.Version, got.Version)
	assert.NotEmpty(t, got.CSRFSessionID)
}

func TestRedisStore_GetNotFound(t *testing.T) {
	_, store := setupTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, coreerrors.ErrSessionNotFound))
}

func TestRedisStore_ExpiredSession(t *testing.T) {
	mr, store := setupTestStore(t)
	ctx := context.Background()

	sc := NewContext("user-1", time.Minute)
	require.NoError(t, store.Put(ctx, sc, VersionAny))

	// 推进 miniredis 时钟并让记录逻辑过期
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, sc.SessionID)
	assert.Error(t, err)
}

func TestRedisStore_PutAlreadyExpired(t *testing.T) {
	_, store := setupTestStore(t)

	sc := NewContext("user-1", time.Hour)
	sc.ExpiresAt = time.Now().Add(-time.Minute)

	err := store.Put(context.Background(), sc, VersionAny)
	assert.True(t, errors.Is(err, coreerrors.ErrSessionExpired))
}

// 版本不一致且存量更新时拒绝写入；时间戳更新的写入者总是获胜
func TestRedisStore_LastWriterWins(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	sc := NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, VersionAny))

	// 两个写入者各拿一份副本
	writerA, err := store.Get(ctx, sc.SessionID)
	require.NoError(t, err)
	writerB, err := store.Get(ctx, sc.SessionID)
	require.NoError(t, err)

	// A 先提交
	writerA.SwitchPlatform(42, "platform-a")
	require.NoError(t, store.Put(ctx, writerA, writerA.Version))

	// B 拿的是旧版本，但活跃时间更新，依然获胜（last-writer-wins）
	writerB.SwitchPlatform(7, "platform-b")
	require.NoError(t, store.Put(ctx, writerB, writerB.Version))

	got, err := store.Get(ctx, sc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "platform-b", got.PlatformName)

	// 存量严格更新时，过期版本的写入被拒
	stale := writerA.Clone()
	stale.Version = 1
	stale.LastActivity = time.Now().Add(-time.Hour)
	stale.PlatformName = "stale"
	err = store.Put(ctx, stale, 1)
	assert.True(t, errors.Is(err, coreerrors.ErrConflictingWrite))
}

func TestRedisStore_TouchAndDelete(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	sc := NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, VersionAny))

	before, _ := store.Get(ctx, sc.SessionID)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Touch(ctx, sc.SessionID))

	after, err := store.Get(ctx, sc.SessionID)
	require.NoError(t, err)
	assert.True(t, after.LastActivity.After(before.LastActivity))

	require.NoError(t, store.Delete(ctx, sc.SessionID))
	_, err = store.Get(ctx, sc.SessionID)
	assert.True(t, errors.Is(err, coreerrors.ErrSessionNotFound))
}
