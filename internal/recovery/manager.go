package recovery

import (
	"context"

	"sessionhub-core/internal/config"
	"sessionhub-core/internal/core/dispose"
	coreerrors "sessionhub-core/internal/core/errors"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/core/metrics"
	"sessionhub-core/internal/registry"
	"sessionhub-core/internal/session"
)

// Manager 连接恢复管理器
//
// 所有恢复事件的唯一入口：传输层握手/断开/心跳回调与监控循环
// 都把事件投递到这里，由注册表锁内的转移函数裁决。
// 传输与挂起类错误被吸收为状态转移，绝不向调用方抛出。
type Manager struct {
	*dispose.ServiceBase

	config      *config.RecoveryConfig
	registry    *registry.Registry
	store       *session.FailoverStore
	coordinator *FallbackCoordinator
}

// NewManager 创建连接恢复管理器
func NewManager(parentCtx context.Context, cfg *config.RecoveryConfig, reg *registry.Registry,
	store *session.FailoverStore, coordinator *FallbackCoordinator) *Manager {
	m := &Manager{
		ServiceBase: dispose.NewService("RecoveryManager", parentCtx),
		config:      cfg,
		registry:    reg,
		store:       store,
		coordinator: coordinator,
	}
	corelog.Infof("RecoveryManager: initialized (max_attempts: %d, suspension_threshold: %v)",
		cfg.MaxReconnectAttempts, cfg.SuspensionThreshold)
	return m
}

// Registry 返回连接注册表
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Store 返回会话存储
func (m *Manager) Store() *session.FailoverStore {
	return m.store
}

// Coordinator 返回传输降级协调器
func (m *Manager) Coordinator() *FallbackCoordinator {
	return m.coordinator
}

// HandleConnect 握手成功，注册连接
func (m *Manager) HandleConnect(info *registry.ConnectionInfo) {
	m.registry.Register(info)
	metrics.IncrementConnectionTotal()
	metrics.SetActiveConnections(float64(m.registry.CountActive()))
	corelog.Infof("RecoveryManager: connection %s established (session: %s)", info.ConnectionID, info.SessionID)
}

// HandleDisconnect 传输层断开
func (m *Manager) HandleDisconnect(connectionID, reason string) {
	res, err := m.apply(connectionID, DisconnectEvent{Reason: reason})
	if err != nil {
		return
	}
	if res.Changed {
		metrics.SetActiveConnections(float64(m.registry.CountActive()))
		corelog.Infof("RecoveryManager: connection %s disconnected (%s -> %s, reason: %s)",
			connectionID, res.From, res.To, reason)
	}
}

// HandleHeartbeat 收到心跳：更新连接活跃时间并刷新会话活跃时间
// 心跳同时是挂起解除信号（Suspended -> Connected）
func (m *Manager) HandleHeartbeat(ctx context.Context, connectionID string) {
	res, err := m.apply(connectionID, HeartbeatEvent{})
	if err != nil {
		return
	}
	if res.Changed {
		corelog.Infof("RecoveryManager: connection %s resumed by heartbeat (%s -> %s)",
			connectionID, res.From, res.To)
		metrics.SetActiveConnections(float64(m.registry.CountActive()))
	}

	// 会话活跃时间刷新在锁外做存储 I/O，失败只记日志
	info, err := m.registry.Lookup(connectionID)
	if err != nil || info.SessionID == "" {
		return
	}
	if err := m.store.Touch(ctx, info.SessionID); err != nil {
		corelog.Debugf("RecoveryManager: touch session %s failed: %v", info.SessionID, err)
	}
}

// HandleReconnectAttempt 客户端发起重连尝试
// 返回 ErrRecoveryExhausted 表示该连接已恢复失败，客户端必须重新握手
func (m *Manager) HandleReconnectAttempt(connectionID string) error {
	res, err := m.apply(connectionID, ReconnectAttemptEvent{})
	if err != nil {
		return err
	}
	if res.Ignored {
		if res.From == registry.RecoveryFailed {
			return coreerrors.ErrRecoveryExhausted
		}
		// 已 Connected 的重复重试，幂等放行
		return nil
	}

	metrics.IncrementRecoveryAttempt()
	if res.To == registry.RecoveryFailed {
		metrics.IncrementRecoveryFailure()
		metrics.SetActiveConnections(float64(m.registry.CountActive()))
		corelog.Warnf("RecoveryManager: connection %s exhausted reconnect attempts", connectionID)
		return coreerrors.ErrRecoveryExhausted
	}
	return nil
}

// HandleReconnectSuccess 重连握手成功
func (m *Manager) HandleReconnectSuccess(connectionID, transport string) {
	res, err := m.apply(connectionID, ReconnectSuccessEvent{Transport: transport})
	if err != nil || res.Ignored {
		return
	}
	metrics.IncrementRecoverySuccess()
	metrics.SetActiveConnections(float64(m.registry.CountActive()))
	corelog.Infof("RecoveryManager: connection %s reconnected on %s", connectionID, transport)
}

// HandleSuspension 挂起探测器裁定连接挂起
func (m *Manager) HandleSuspension(connectionID string) {
	res, err := m.apply(connectionID, SuspendEvent{})
	if err != nil || res.Ignored {
		return
	}
	metrics.IncrementSuspensionDetected()
	corelog.Infof("RecoveryManager: connection %s suspended (heartbeat gap exceeded)", connectionID)
}

// HandleSuspensionResolved 挂起裁决：传输是否在时限内恢复
func (m *Manager) HandleSuspensionResolved(connectionID string, transportRestored bool) {
	res, err := m.apply(connectionID, ResumeEvent{TransportRestored: transportRestored})
	if err != nil || res.Ignored {
		return
	}
	if res.To == registry.PollingMode {
		metrics.IncrementTransportFallback()
		corelog.Infof("RecoveryManager: connection %s degraded to polling mode", connectionID)
	} else {
		corelog.Infof("RecoveryManager: connection %s resumed from suspension", connectionID)
	}
}

// HandleTransportDenied 首选传输握手持续失败，进入传输降级
func (m *Manager) HandleTransportDenied(connectionID, reason string) {
	if !m.config.EnableTransportFallback {
		corelog.Warnf("RecoveryManager: transport denied for %s but fallback disabled", connectionID)
		return
	}

	var res Result
	err := m.registry.Update(connectionID, func(info *registry.ConnectionInfo) {
		res = applyEvent(info, TransportDenyEvent{Reason: reason}, m.config.MaxReconnectAttempts)
		if res.Changed {
			m.coordinator.Restrict(info)
		}
	})
	if err != nil || res.Ignored {
		return
	}
	metrics.IncrementTransportFallback()
	corelog.Infof("RecoveryManager: connection %s fell back to restricted transports (%s)", connectionID, reason)
}

// HandleTransportUpgraded 首选传输恢复，升级回主传输
func (m *Manager) HandleTransportUpgraded(connectionID, transport string) {
	res, err := m.apply(connectionID, TransportUpgradeEvent{Transport: transport})
	if err != nil || res.Ignored {
		return
	}
	corelog.Infof("RecoveryManager: connection %s upgraded back to %s", connectionID, transport)
}

// HandleReconnectTimeout 重连序列整体超时
func (m *Manager) HandleReconnectTimeout(connectionID string) {
	res, err := m.apply(connectionID, ReconnectTimeoutEvent{})
	if err != nil || res.Ignored {
		return
	}
	metrics.IncrementRecoveryFailure()
	metrics.SetActiveConnections(float64(m.registry.CountActive()))
	corelog.Warnf("RecoveryManager: connection %s recovery timed out", connectionID)
}

// HandleActivityTimeout 活跃超时：从任一在线形态强制断开
// 连接保留在注册表里，客户端仍可发起重连序列
func (m *Manager) HandleActivityTimeout(connectionID string) {
	res, err := m.apply(connectionID, ActivityTimeoutEvent{})
	if err != nil || res.Ignored {
		return
	}
	metrics.SetActiveConnections(float64(m.registry.CountActive()))
	corelog.Infof("RecoveryManager: connection %s forced disconnect (activity timeout, %s -> %s)",
		connectionID, res.From, res.To)
}

// HandleStaleConnection 僵尸清理：长期无活动的连接直接注销
func (m *Manager) HandleStaleConnection(connectionID string) {
	if err := m.registry.Unregister(connectionID); err != nil {
		return
	}
	m.coordinator.Forget(connectionID)
	metrics.IncrementRecoveryFailure()
	metrics.SetActiveConnections(float64(m.registry.CountActive()))
	corelog.Infof("RecoveryManager: connection %s evicted (stale)", connectionID)
}

// Unregister 客户端主动关闭时注销连接
func (m *Manager) Unregister(connectionID string) {
	if err := m.registry.Unregister(connectionID); err == nil {
		m.coordinator.Forget(connectionID)
		metrics.SetActiveConnections(float64(m.registry.CountActive()))
	}
}

// apply 在注册表锁内裁决一个事件
func (m *Manager) apply(connectionID string, ev Event) (Result, error) {
	var res Result
	err := m.registry.Update(connectionID, func(info *registry.ConnectionInfo) {
		res = applyEvent(info, ev, m.config.MaxReconnectAttempts)
	})
	if err != nil {
		corelog.Debugf("RecoveryManager: event %s for unknown connection %s", ev.eventName(), connectionID)
		return Result{}, err
	}
	if res.Ignored {
		corelog.Debugf("RecoveryManager: event %s ignored for %s in state %s", ev.eventName(), connectionID, res.From)
	}
	return res, nil
}
