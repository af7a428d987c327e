package recovery

import (
	"context"
	"time"

	"sessionhub-core/internal/config"
	"sessionhub-core/internal/core/dispose"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/core/metrics"
	"sessionhub-core/internal/core/safe"
	"sessionhub-core/internal/registry"
)

// Monitor 清理与监控循环
//
// 每 cleanup_interval 跑一轮：先做断开/超时类裁决，再做挂起扫描，
// 保证同一轮里断开信号优先于挂起推断；最后处理会话续期与指标上报。
type Monitor struct {
	*dispose.ServiceBase

	manager    *Manager
	config     *config.RecoveryConfig
	sessionTTL time.Duration
}

// NewMonitor 创建监控循环
func NewMonitor(parentCtx context.Context, manager *Manager, cfg *config.RecoveryConfig, sessionTTL time.Duration) *Monitor {
	return &Monitor{
		ServiceBase: dispose.NewService("RecoveryMonitor", parentCtx),
		manager:     manager,
		config:      cfg,
		sessionTTL:  sessionTTL,
	}
}

// Start 启动后台循环
func (m *Monitor) Start() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	m.AddCleanHandler(func() error {
		ticker.Stop()
		return nil
	})

	safe.GoLoop(m.Ctx(), "recovery-monitor", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RunCycle(ctx, time.Now())
		}
		return nil
	})

	corelog.Infof("RecoveryMonitor: started (interval: %v)", m.config.CleanupInterval)
}

// RunCycle 执行一轮扫描
// 阶段顺序即裁决优先级：僵尸清理 > 活跃超时断开 > 重连超时 > 挂起扫描 >
// 挂起裁决 > 轮询超时 > 升级探测 > 会话续期 > 指标上报
func (m *Monitor) RunCycle(ctx context.Context, now time.Time) {
	snapshot := m.manager.Registry().Snapshot()

	m.evictStale(snapshot, now)
	m.enforceActivityTimeouts(snapshot, now)
	m.failTimedOutReconnects(snapshot, now)
	m.scanSuspensions(snapshot, now)
	m.resolveSuspensions(ctx, now)
	m.expirePollingConnections(snapshot, now)
	m.probeUpgrades(ctx)
	m.renewOrExpireSessions(ctx, now)

	m.publishSnapshot()
}

// evictStale 注销超过 stale_connection_timeout 仍无活动的僵尸连接
func (m *Monitor) evictStale(snapshot []*registry.ConnectionInfo, now time.Time) {
	for _, info := range snapshot {
		if now.Sub(info.LastActivity) > m.config.StaleConnectionTimeout {
			m.manager.HandleStaleConnection(info.ConnectionID)
		}
	}
}

// enforceActivityTimeouts 活跃超时裁决：超过 activity_timeout 无活动的
// 在线连接强制断开；断开后仍留在注册表里，重连窗口照常计算，
// 直到 stale_connection_timeout 才被注销
func (m *Monitor) enforceActivityTimeouts(snapshot []*registry.ConnectionInfo, now time.Time) {
	for _, info := range snapshot {
		if !info.State.Active() {
			continue
		}
		if now.Sub(info.LastActivity) > m.config.ActivityTimeout {
			m.manager.HandleActivityTimeout(info.ConnectionID)
		}
	}
}

// failTimedOutReconnects 裁决超出重连时限的连接
func (m *Monitor) failTimedOutReconnects(snapshot []*registry.ConnectionInfo, now time.Time) {
	for _, info := range snapshot {
		if info.State != registry.Reconnecting || info.RecoveryStartTime.IsZero() {
			continue
		}
		if now.Sub(info.RecoveryStartTime) > m.config.ReconnectTimeout {
			m.manager.HandleReconnectTimeout(info.ConnectionID)
		}
	}
}

// scanSuspensions 挂起探测器：心跳间隔严格超过阈值才判挂起
// 只对扫描时仍为 Connected 的连接生效，先到的断开信号自然胜出
func (m *Monitor) scanSuspensions(snapshot []*registry.ConnectionInfo, now time.Time) {
	for _, info := range snapshot {
		if info.State != registry.Connected {
			continue
		}
		if now.Sub(info.LastActivity) > m.config.SuspensionThreshold {
			m.manager.HandleSuspension(info.ConnectionID)
		}
	}
}

// resolveSuspensions 裁决超过 fallback_timeout 仍未恢复心跳的挂起连接
// 升级探测成功回 Connected，否则降级到轮询模式
func (m *Monitor) resolveSuspensions(ctx context.Context, now time.Time) {
	for _, info := range m.manager.Registry().Snapshot() {
		if info.State != registry.Suspended || info.RecoveryStartTime.IsZero() {
			continue
		}
		if now.Sub(info.RecoveryStartTime) <= m.config.FallbackTimeout {
			continue
		}
		restored := m.manager.Coordinator().TryUpgrade(ctx, info)
		m.manager.HandleSuspensionResolved(info.ConnectionID, restored)
	}
}

// expirePollingConnections 轮询模式下长时间无拉取即视为断开
func (m *Monitor) expirePollingConnections(snapshot []*registry.ConnectionInfo, now time.Time) {
	for _, info := range snapshot {
		if info.State != registry.PollingMode {
			continue
		}
		if now.Sub(info.LastActivity) > m.config.PollingModeTimeout {
			m.manager.HandleDisconnect(info.ConnectionID, "polling mode timeout")
		}
	}
}

// probeUpgrades 对传输降级中的连接做升级探测
func (m *Monitor) probeUpgrades(ctx context.Context) {
	for _, info := range m.manager.Registry().Snapshot() {
		if info.State != registry.TransportFallback || len(info.OriginalTransports) == 0 {
			continue
		}
		if m.manager.Coordinator().TryUpgrade(ctx, info) {
			m.manager.HandleTransportUpgraded(info.ConnectionID, info.OriginalTransports[0])
		}
	}
}

// renewOrExpireSessions 会话续期与过期回收
// 临近过期（两个清理周期内）的会话：仍有活跃连接则续期，
// 否则删除并广播强制登出
func (m *Monitor) renewOrExpireSessions(ctx context.Context, now time.Time) {
	store := m.manager.Store()

	seen := make(map[string]bool)
	for _, info := range m.manager.Registry().Snapshot() {
		if info.SessionID == "" || seen[info.SessionID] {
			continue
		}
		seen[info.SessionID] = true

		sc, err := store.Get(ctx, info.SessionID)
		if err != nil {
			continue
		}
		if sc.ExpiresAt.Sub(now) > 2*m.config.CleanupInterval {
			continue
		}

		if m.sessionHasActiveConnection(sc.SessionID) {
			sc.ExpiresAt = now.Add(m.sessionTTL)
			sc.Touch()
			if err := store.Put(ctx, sc, sc.Version); err != nil {
				corelog.Warnf("RecoveryMonitor: renew session %s failed: %v", sc.SessionID, err)
			} else {
				corelog.Infof("RecoveryMonitor: session %s renewed until %v", sc.SessionID, sc.ExpiresAt)
			}
		} else {
			if err := store.Delete(ctx, sc.SessionID); err != nil {
				corelog.Warnf("RecoveryMonitor: delete expiring session %s failed: %v", sc.SessionID, err)
				continue
			}
			store.PublishForcedLogout(sc, "session expired")
			corelog.Infof("RecoveryMonitor: session %s expired, forced logout broadcast", sc.SessionID)
		}
	}

	if removed, err := store.DeleteExpired(ctx); err == nil && removed > 0 {
		corelog.Infof("RecoveryMonitor: purged %d expired sessions from fallback store", removed)
	}
}

// sessionHasActiveConnection 判断会话是否仍有可收推送的连接
func (m *Monitor) sessionHasActiveConnection(sessionID string) bool {
	for _, info := range m.manager.Registry().AllForSession(sessionID) {
		if info.State.Active() {
			return true
		}
	}
	return false
}

// publishSnapshot 每轮上报恢复指标快照
func (m *Monitor) publishSnapshot() {
	metrics.SetActiveConnections(float64(m.manager.Registry().CountActive()))
	snap := metrics.GetSnapshot()
	corelog.Debugf("RecoveryMonitor: snapshot total=%d active=%d attempts=%d success=%d failure=%d fallbacks=%d suspensions=%d",
		snap.TotalConnections, snap.ActiveConnections, snap.RecoveryAttempts,
		snap.SuccessfulRecoveries, snap.FailedRecoveries, snap.TransportFallbacks, snap.SuspensionsDetected)
}
