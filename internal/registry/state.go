// Package registry 维护本节点所有实时连接的权威状态
package registry

// ConnState 连接恢复状态机的状态
type ConnState int

const (
	// Connected 连接活跃，心跳正常
	Connected ConnState = iota
	// Disconnected 连接断开，等待客户端重连
	Disconnected
	// Reconnecting 客户端正在重连（重试计数只在此状态累加）
	Reconnecting
	// Suspended 连接疑似挂起（页面后台、设备休眠），等待心跳恢复
	Suspended
	// PollingMode 已降级到轮询模式
	PollingMode
	// TransportFallback 主传输被拒，运行在备用传输上
	TransportFallback
	// RecoveryFailed 恢复失败（重试耗尽或超时），等待清理回收
	RecoveryFailed
)

var stateNames = map[ConnState]string{
	Connected:         "CONNECTED",
	Disconnected:      "DISCONNECTED",
	Reconnecting:      "RECONNECTING",
	Suspended:         "SUSPENDED",
	PollingMode:       "POLLING_MODE",
	TransportFallback: "TRANSPORT_FALLBACK",
	RecoveryFailed:    "RECOVERY_FAILED",
}

// String 返回状态名
func (s ConnState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Active 判断连接是否仍可收到推送（任一在线形态）
func (s ConnState) Active() bool {
	switch s {
	case Connected, Suspended, PollingMode, TransportFallback:
		return true
	}
	return false
}

// Recoverable 判断状态是否还在恢复流程中（未终结）
func (s ConnState) Recoverable() bool {
	return s != RecoveryFailed
}
