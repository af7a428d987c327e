package recovery

import (
	"context"
	"sync"
	"time"

	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/registry"

	"golang.org/x/time/rate"
)

// TransportProber 探测首选传输是否可重新建立
// 实现方做实际握手探测（锁外 I/O），协调器只负责节奏与状态裁决
type TransportProber interface {
	Probe(ctx context.Context, info *registry.ConnectionInfo) bool
}

// TransportProberFunc 函数适配器
type TransportProberFunc func(ctx context.Context, info *registry.ConnectionInfo) bool

// Probe 实现 TransportProber
func (f TransportProberFunc) Probe(ctx context.Context, info *registry.ConnectionInfo) bool {
	return f(ctx, info)
}

// FallbackCoordinator 传输降级协调器
//
// 降级是合法的稳定状态而非错误：协调器绝不会仅因传输受限而判定
// 连接失败。升级探测按连接限速（每 fallbackTimeout 至多一次），
// 避免对不稳定的首选传输造成探测风暴。
type FallbackCoordinator struct {
	mu                 sync.Mutex
	limiters           map[string]*rate.Limiter // connection_id -> 升级探测限速器
	fallbackTransports []string
	fallbackTimeout    time.Duration
	prober             TransportProber
}

// NewFallbackCoordinator 创建传输降级协调器
// prober 为 nil 时禁用升级探测，连接停留在降级传输直到客户端自行重连
func NewFallbackCoordinator(fallbackTransports []string, fallbackTimeout time.Duration, prober TransportProber) *FallbackCoordinator {
	if fallbackTimeout <= 0 {
		fallbackTimeout = 30 * time.Second
	}
	return &FallbackCoordinator{
		limiters:           make(map[string]*rate.Limiter),
		fallbackTransports: append([]string(nil), fallbackTransports...),
		fallbackTimeout:    fallbackTimeout,
		prober:             prober,
	}
}

// Restrict 进入降级时收窄连接的可用传输集合
// 在注册表锁内调用（纯字段更新）
func (f *FallbackCoordinator) Restrict(info *registry.ConnectionInfo) {
	info.CurrentTransports = append([]string(nil), f.fallbackTransports...)
	if len(f.fallbackTransports) > 0 {
		info.Transport = f.fallbackTransports[0]
	}
}

// ShouldProbe 判断当前是否允许对该连接做一次升级探测
func (f *FallbackCoordinator) ShouldProbe(connectionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	limiter, ok := f.limiters[connectionID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(f.fallbackTimeout), 1)
		f.limiters[connectionID] = limiter
	}
	return limiter.Allow()
}

// TryUpgrade 对降级中的连接做一次升级探测（锁外 I/O）
// 返回 true 表示首选传输已恢复，调用方应投递 TransportUpgradeEvent
func (f *FallbackCoordinator) TryUpgrade(ctx context.Context, info *registry.ConnectionInfo) bool {
	if f.prober == nil {
		return false
	}
	if !f.ShouldProbe(info.ConnectionID) {
		return false
	}

	restored := f.prober.Probe(ctx, info)
	if restored {
		corelog.Infof("FallbackCoordinator: preferred transport restored for %s", info.ConnectionID)
	} else {
		corelog.Debugf("FallbackCoordinator: upgrade probe failed for %s, staying on fallback", info.ConnectionID)
	}
	return restored
}

// Forget 连接注销时清理限速器
func (f *FallbackCoordinator) Forget(connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.limiters, connectionID)
}

// FallbackTimeout 返回降级裁决时限
func (f *FallbackCoordinator) FallbackTimeout() time.Duration {
	return f.fallbackTimeout
}
