package session

import (
	"time"

	"github.com/google/uuid"
)

// Context 会话上下文
//
// 每个已登录浏览器会话对应一条记录，是会话数据的唯一权威副本。
// 存储：主存储 Redis（TTL 对齐 ExpiresAt），备用存储 PostgreSQL。
// 并发更新按 last-writer-wins（Version + LastActivity）裁决，
// 绝不跨写入者按字段合并。
type Context struct {
	SessionID            string    `json:"session_id"`
	UserID               string    `json:"user_id"`
	PlatformConnectionID *int64    `json:"platform_connection_id,omitempty"`
	PlatformName         string    `json:"platform_name,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	LastActivity         time.Time `json:"last_activity"`
	ExpiresAt            time.Time `json:"expires_at"`
	CSRFSessionID        string    `json:"csrf_session_id"`
	Version              int64     `json:"version"`
}

// NewContext 创建新的会话上下文
// CSRFSessionID 在会话创建时即生成，认证前也可使用
func NewContext(userID string, ttl time.Duration) *Context {
	now := time.Now()
	return &Context{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		CreatedAt:     now,
		LastActivity:  now,
		ExpiresAt:     now.Add(ttl),
		CSRFSessionID: uuid.NewString(),
		Version:       1,
	}
}

// Touch 更新最后活跃时间
func (c *Context) Touch() {
	c.LastActivity = time.Now()
}

// Expired 判断会话是否已过期
func (c *Context) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// NewerThan 判断本上下文是否比 other 更新
// 写冲突按时间戳裁决（last-writer-wins），版本号只作同时刻的决胜
func (c *Context) NewerThan(other *Context) bool {
	if other == nil {
		return true
	}
	if !c.LastActivity.Equal(other.LastActivity) {
		return c.LastActivity.After(other.LastActivity)
	}
	return c.Version > other.Version
}

// Clone 返回深拷贝
func (c *Context) Clone() *Context {
	cp := *c
	if c.PlatformConnectionID != nil {
		id := *c.PlatformConnectionID
		cp.PlatformConnectionID = &id
	}
	return &cp
}

// SwitchPlatform 切换当前活跃平台连接
func (c *Context) SwitchPlatform(platformConnectionID int64, platformName string) {
	c.PlatformConnectionID = &platformConnectionID
	c.PlatformName = platformName
	c.Touch()
}
