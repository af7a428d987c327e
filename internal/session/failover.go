package session

import (
	"context"
	"encoding/json"
	"time"

	"sessionhub-core/internal/broker"
	"sessionhub-core/internal/core/dispose"
	coreerrors "sessionhub-core/internal/core/errors"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/core/safe"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// FailoverConfig 容错存储配置
type FailoverConfig struct {
	// StoreTimeout 单次主存储操作超时，超时视为主存储不可用
	StoreTimeout time.Duration

	// CacheSize 本地热缓存条目上限
	CacheSize int

	// CacheTTL 本地热缓存 TTL（短 TTL，跨节点一致性靠广播失效）
	CacheTTL time.Duration
}

// FallbackStore 备用存储契约：常规读写之外还支持镜像写入与过期清扫
type FallbackStore interface {
	Store
	MirrorPut(ctx context.Context, sc *Context) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// FailoverStore 主备容错会话存储
//
// 读写先走主存储（Redis），主存储不可用时降级到备用存储（PostgreSQL）；
// 两者都不可用返回 ErrStoreUnavailable，调用方按匿名会话处理而非报错。
// 主存储写入成功后异步镜像到备用存储，并向消息代理广播会话事件，
// 其它节点据此推送更新给各自持有的连接。
type FailoverStore struct {
	*dispose.ManagerBase

	primary  Store
	fallback FallbackStore // 可为 nil（未配置备用存储）
	msgBus   broker.MessageBroker
	cache    *lru.LRU[string, *Context]
	timeout  time.Duration
}

// NewFailoverStore 创建容错会话存储
// fallback 与 msgBus 均可为 nil（单存储 / 单节点部署）
func NewFailoverStore(parentCtx context.Context, primary Store, fallback FallbackStore,
	msgBus broker.MessageBroker, config *FailoverConfig) *FailoverStore {
	if config == nil {
		config = &FailoverConfig{}
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 2 * time.Second
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 4096
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Second
	}

	fs := &FailoverStore{
		ManagerBase: dispose.NewManager("FailoverStore", parentCtx),
		primary:     primary,
		fallback:    fallback,
		msgBus:      msgBus,
		cache:       lru.NewLRU[string, *Context](config.CacheSize, nil, config.CacheTTL),
		timeout:     config.StoreTimeout,
	}

	corelog.Infof("FailoverStore: initialized (fallback: %v, cache: %d entries / %v)",
		fallback != nil, config.CacheSize, config.CacheTTL)
	return fs
}

// Get 获取会话上下文
// 命中本地缓存直接返回副本；主存储不可用时降级到备用存储
func (f *FailoverStore) Get(ctx context.Context, sessionID string) (*Context, error) {
	if sc, ok := f.cache.Get(sessionID); ok {
		if !sc.Expired(time.Now()) {
			return sc.Clone(), nil
		}
		f.cache.Remove(sessionID)
	}

	opCtx, cancel := context.WithTimeout(ctx, f.timeout)
	sc, err := f.primary.Get(opCtx, sessionID)
	cancel()

	if err != nil && f.shouldFailover(err) {
		corelog.Warnf("FailoverStore: primary get %s failed (%v), trying fallback", sessionID, err)
		sc, err = f.fallbackGet(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	f.cache.Add(sessionID, sc.Clone())
	return sc, nil
}

// Put 写入会话上下文
// 主存储写入成功后：更新缓存、异步镜像到备用存储、广播 session.updated
func (f *FailoverStore) Put(ctx context.Context, sc *Context, expectedVersion int64) error {
	opCtx, cancel := context.WithTimeout(ctx, f.timeout)
	err := f.primary.Put(opCtx, sc, expectedVersion)
	cancel()

	if err != nil && f.shouldFailover(err) {
		corelog.Warnf("FailoverStore: primary put %s failed (%v), trying fallback", sc.SessionID, err)
		fbCtx, fbCancel := context.WithTimeout(ctx, f.timeout)
		fbErr := f.fallback.Put(fbCtx, sc, expectedVersion)
		fbCancel()
		if fbErr != nil {
			return fbErr
		}
		err = nil
	}
	if err != nil {
		return err
	}

	f.cache.Add(sc.SessionID, sc.Clone())
	f.mirrorAsync(sc.Clone())
	f.publishEvent(broker.TopicSessionUpdated, sc, "")
	return nil
}

// Touch 更新最后活跃时间
func (f *FailoverStore) Touch(ctx context.Context, sessionID string) error {
	opCtx, cancel := context.WithTimeout(ctx, f.timeout)
	err := f.primary.Touch(opCtx, sessionID)
	cancel()

	if err != nil && f.shouldFailover(err) {
		fbCtx, fbCancel := context.WithTimeout(ctx, f.timeout)
		err = f.fallback.Touch(fbCtx, sessionID)
		fbCancel()
	}
	if err != nil {
		return err
	}

	// 缓存条目的活跃时间已失真，直接失效
	f.cache.Remove(sessionID)
	return nil
}

// Delete 删除会话并广播 session.deleted
// 主备都尝试删除，任一成功即视为成功
func (f *FailoverStore) Delete(ctx context.Context, sessionID string) error {
	f.cache.Remove(sessionID)

	opCtx, cancel := context.WithTimeout(ctx, f.timeout)
	primaryErr := f.primary.Delete(opCtx, sessionID)
	cancel()

	var fallbackErr error
	if f.fallback != nil {
		fbCtx, fbCancel := context.WithTimeout(ctx, f.timeout)
		fallbackErr = f.fallback.Delete(fbCtx, sessionID)
		fbCancel()
	}

	if primaryErr != nil && (f.fallback == nil || fallbackErr != nil) {
		return primaryErr
	}

	f.publishEvent(broker.TopicSessionDeleted, &Context{SessionID: sessionID}, "deleted")
	return nil
}

// PublishForcedLogout 广播强制登出事件（清理循环回收过期会话时调用）
func (f *FailoverStore) PublishForcedLogout(sc *Context, reason string) {
	f.cache.Remove(sc.SessionID)
	f.publishEvent(broker.TopicForcedLogout, sc, reason)
}

// Invalidate 失效本地缓存条目（收到其它节点的会话事件时调用）
func (f *FailoverStore) Invalidate(sessionID string) {
	f.cache.Remove(sessionID)
}

// DeleteExpired 从备用存储清除过期会话（主存储靠 TTL 自动回收）
func (f *FailoverStore) DeleteExpired(ctx context.Context) (int64, error) {
	if f.fallback == nil {
		return 0, nil
	}
	fbCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.fallback.DeleteExpired(fbCtx)
}

// Close 关闭存储
func (f *FailoverStore) Close() error {
	return f.ManagerBase.Close()
}

// shouldFailover 判断是否需要降级到备用存储
func (f *FailoverStore) shouldFailover(err error) bool {
	if f.fallback == nil {
		return false
	}
	return coreerrors.IsType(err, coreerrors.ErrorTypeStoreUnavailable)
}

// fallbackGet 从备用存储读取（与主存储同样的超时上限）
func (f *FailoverStore) fallbackGet(ctx context.Context, sessionID string) (*Context, error) {
	fbCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	sc, err := f.fallback.Get(fbCtx, sessionID)
	if err != nil {
		if coreerrors.IsType(err, coreerrors.ErrorTypeStoreUnavailable) {
			return nil, coreerrors.Wrap(err, coreerrors.ErrorTypeStoreUnavailable,
				"both primary and fallback stores unavailable")
		}
		return nil, err
	}
	return sc, nil
}

// mirrorAsync 异步镜像写入备用存储（尽力而为，失败只记日志）
func (f *FailoverStore) mirrorAsync(sc *Context) {
	if f.fallback == nil {
		return
	}
	safe.Go("failover-mirror", func() {
		mirrorCtx, cancel := context.WithTimeout(f.Ctx(), 5*time.Second)
		defer cancel()
		if err := f.fallback.MirrorPut(mirrorCtx, sc); err != nil {
			corelog.Warnf("FailoverStore: mirror %s to fallback failed: %v", sc.SessionID, err)
		}
	})
}

// publishEvent 向消息代理广播会话事件（尽力而为）
func (f *FailoverStore) publishEvent(topic string, sc *Context, reason string) {
	if f.msgBus == nil {
		return
	}

	msg := &broker.SessionEventMessage{
		SessionID: sc.SessionID,
		UserID:    sc.UserID,
		Version:   sc.Version,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}
	if topic == broker.TopicSessionUpdated {
		if data, err := json.Marshal(sc); err == nil {
			msg.Context = data
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		corelog.Errorf("FailoverStore: marshal session event failed: %v", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(f.Ctx(), f.timeout)
	defer cancel()
	if err := f.msgBus.Publish(pubCtx, topic, payload); err != nil {
		corelog.Warnf("FailoverStore: publish %s for %s failed: %v", topic, sc.SessionID, err)
	}
}
