package recovery

import (
	"time"

	"sessionhub-core/internal/registry"
)

// Result 一次事件裁决的结果
type Result struct {
	From    registry.ConnState
	To      registry.ConnState
	Changed bool // 状态是否发生转移（字段更新不算）
	Ignored bool // 事件被忽略（幂等去重或非法转移）
}

// applyEvent 唯一的状态转移函数
//
// 在注册表锁内对连接记录裁决一个事件并更新字段，必须保持 O(1)、
// 无 I/O。转移规则：
//
//	disconnect           Connected/Suspended/TransportFallback/PollingMode -> Disconnected
//	reconnect_attempt    Disconnected -> Reconnecting（计数）；Reconnecting 继续计数；
//	                     超过 maxAttempts -> RecoveryFailed；Connected 下幂等忽略
//	reconnect_success    Reconnecting -> Connected（清零计数与错误计数）
//	suspend              Connected -> Suspended
//	resume               Suspended -> Connected（传输恢复）或 PollingMode（超时未恢复）
//	transport_deny       非 Reconnecting/RecoveryFailed -> TransportFallback
//	transport_upgrade    TransportFallback -> Connected
//	heartbeat            Suspended -> Connected；其余状态仅更新活跃时间
//	activity_timeout     任一在线形态 -> Disconnected（强制断开）
//
// Reconnecting 只能经 reconnect_success 或重试耗尽离开，其它事件一律忽略。
func applyEvent(info *registry.ConnectionInfo, ev Event, maxAttempts int) Result {
	res := Result{From: info.State, To: info.State}

	switch e := ev.(type) {
	case ConnectEvent:
		info.State = registry.Connected
		info.ConnectedAt = time.Now()
		info.Touch()

	case DisconnectEvent:
		switch info.State {
		case registry.Connected, registry.Suspended, registry.TransportFallback, registry.PollingMode:
			info.State = registry.Disconnected
			info.DisconnectedAt = time.Now()
			if e.Reason != "" {
				info.RecordError(e.Reason)
			}
		default:
			res.Ignored = true
		}

	case HeartbeatEvent:
		switch info.State {
		case registry.Suspended:
			// 心跳即证明连接未死，挂起解除
			info.State = registry.Connected
			info.RecoveryStartTime = time.Time{}
			info.Touch()
		case registry.Connected, registry.PollingMode, registry.TransportFallback:
			info.Touch()
		default:
			res.Ignored = true
		}

	case ReconnectAttemptEvent:
		switch info.State {
		case registry.Disconnected:
			info.State = registry.Reconnecting
			info.ReconnectAttempts++
			info.LastReconnectTime = time.Now()
			if info.RecoveryStartTime.IsZero() {
				info.RecoveryStartTime = time.Now()
			}
		case registry.Reconnecting:
			info.ReconnectAttempts++
			info.LastReconnectTime = time.Now()
			if info.ReconnectAttempts > maxAttempts {
				info.State = registry.RecoveryFailed
				info.RecordError("reconnect attempts exceeded")
			}
		case registry.Connected:
			// 客户端重试风暴下的重复尝试，幂等忽略
			res.Ignored = true
		default:
			res.Ignored = true
		}

	case ReconnectSuccessEvent:
		if info.State != registry.Reconnecting {
			res.Ignored = true
			break
		}
		info.State = registry.Connected
		info.ReconnectAttempts = 0
		info.ErrorCount = 0
		info.RecoveryStartTime = time.Time{}
		info.DisconnectedAt = time.Time{}
		if e.Transport != "" {
			info.Transport = e.Transport
		}
		info.Touch()

	case SuspendEvent:
		if info.State != registry.Connected {
			res.Ignored = true
			break
		}
		info.State = registry.Suspended
		info.RecoveryStartTime = time.Now()

	case ResumeEvent:
		if info.State != registry.Suspended {
			res.Ignored = true
			break
		}
		if e.TransportRestored {
			info.State = registry.Connected
		} else {
			info.State = registry.PollingMode
			info.Transport = "polling"
		}
		info.RecoveryStartTime = time.Time{}
		info.Touch()

	case TransportDenyEvent:
		switch info.State {
		case registry.Reconnecting, registry.RecoveryFailed, registry.TransportFallback:
			res.Ignored = true
		default:
			info.State = registry.TransportFallback
			info.TransportFallbackActive = true
			if e.Reason != "" {
				info.RecordError(e.Reason)
			}
		}

	case TransportUpgradeEvent:
		if info.State != registry.TransportFallback {
			res.Ignored = true
			break
		}
		info.State = registry.Connected
		info.TransportFallbackActive = false
		info.CurrentTransports = append([]string(nil), info.OriginalTransports...)
		if e.Transport != "" {
			info.Transport = e.Transport
		}
		info.Touch()

	case ReconnectTimeoutEvent:
		// 重连序列整体超时，与重试耗尽同等对待
		if info.State != registry.Reconnecting {
			res.Ignored = true
			break
		}
		info.State = registry.RecoveryFailed
		info.RecordError("reconnect timeout exceeded")

	case ActivityTimeoutEvent:
		// 活跃超时是强制断开信号，不判恢复失败：客户端仍可走重连序列
		switch info.State {
		case registry.Connected, registry.Suspended, registry.TransportFallback, registry.PollingMode:
			info.State = registry.Disconnected
			info.DisconnectedAt = time.Now()
			info.RecordError("activity timeout exceeded")
		default:
			res.Ignored = true
		}

	default:
		res.Ignored = true
	}

	res.To = info.State
	res.Changed = res.From != res.To
	return res
}
