package session

import (
	"context"
	"fmt"
)

// 会话存储键前缀
const keyPrefix = "sessionhub:session:"

// VersionAny 传给 Put 表示跳过版本检查（last-writer-wins 直接写入）
const VersionAny int64 = -1

// Store 会话存储契约
//
// Get 未命中返回 ErrSessionNotFound，命中但过期返回 ErrSessionExpired；
// Put 在 expectedVersion >= 0 且存储中版本不一致、且存量数据更新时
// 返回 ErrConflictingWrite（时间戳更新的写入者总是获胜）；
// 存储自身不可用返回 ErrStoreUnavailable，调用方按匿名会话降级。
type Store interface {
	Get(ctx context.Context, sessionID string) (*Context, error)
	Put(ctx context.Context, sc *Context, expectedVersion int64) error
	Touch(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// sessionKey 构建存储键
func sessionKey(sessionID string) string {
	return fmt.Sprintf("%s%s", keyPrefix, sessionID)
}
