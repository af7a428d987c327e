// Package recovery 实现连接恢复状态机与监控循环
package recovery

// Event 连接恢复事件（封闭集合）
// 所有状态转移都由显式事件驱动，经由唯一的转移函数裁决
type Event interface {
	eventName() string
}

// ConnectEvent 握手成功，连接建立
type ConnectEvent struct{}

// DisconnectEvent 传输层断开
type DisconnectEvent struct {
	Reason string
}

// HeartbeatEvent 收到客户端心跳（任何方向的流量都算）
type HeartbeatEvent struct{}

// ReconnectAttemptEvent 客户端发起一次重连尝试
type ReconnectAttemptEvent struct{}

// ReconnectSuccessEvent 重连握手成功
type ReconnectSuccessEvent struct {
	Transport string
}

// SuspendEvent 心跳间隔超过挂起阈值（挂起探测器触发）
type SuspendEvent struct{}

// ResumeEvent 挂起解除裁决：双向传输在时限内恢复则回到 Connected，
// 否则降级到 PollingMode
type ResumeEvent struct {
	TransportRestored bool
}

// TransportDenyEvent 首选传输握手持续失败，进入传输降级
type TransportDenyEvent struct {
	Reason string
}

// TransportUpgradeEvent 首选传输恢复成功，升级回主传输
type TransportUpgradeEvent struct {
	Transport string
}

// ReconnectTimeoutEvent 重连序列超出时限（监控循环触发）
type ReconnectTimeoutEvent struct{}

// ActivityTimeoutEvent 活跃超时（监控循环触发，连接将被注销）
type ActivityTimeoutEvent struct{}

func (ConnectEvent) eventName() string          { return "connect" }
func (DisconnectEvent) eventName() string       { return "disconnect" }
func (HeartbeatEvent) eventName() string        { return "heartbeat" }
func (ReconnectAttemptEvent) eventName() string { return "reconnect_attempt" }
func (ReconnectSuccessEvent) eventName() string { return "reconnect_success" }
func (SuspendEvent) eventName() string          { return "suspend" }
func (ResumeEvent) eventName() string           { return "resume" }
func (TransportDenyEvent) eventName() string    { return "transport_deny" }
func (TransportUpgradeEvent) eventName() string { return "transport_upgrade" }
func (ReconnectTimeoutEvent) eventName() string { return "reconnect_timeout" }
func (ActivityTimeoutEvent) eventName() string  { return "activity_timeout" }
