package registry

import "time"

// errorHistorySize 错误历史环形缓冲区容量
const errorHistorySize = 10

// ErrorRecord 一次连接错误记录
type ErrorRecord struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ConnectionInfo 单个实时连接的簿记信息
//
// 同一 SessionID 可被多条连接引用（多标签页）；SessionID 只是弱引用，
// 会话数据的权威副本始终在会话存储，注册表只负责连接簿记。
type ConnectionInfo struct {
	ConnectionID string `json:"connection_id"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Namespace    string `json:"namespace"`

	State                   ConnState `json:"state"`
	Transport               string    `json:"transport"`
	CurrentTransports       []string  `json:"current_transports"`
	OriginalTransports      []string  `json:"original_transports"`
	TransportFallbackActive bool      `json:"transport_fallback_active"`

	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	DisconnectedAt time.Time `json:"disconnected_at,omitempty"`

	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastReconnectTime time.Time `json:"last_reconnect_time,omitempty"`
	RecoveryStartTime time.Time `json:"recovery_start_time,omitempty"`

	ErrorCount   int           `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
	ErrorHistory []ErrorRecord `json:"error_history,omitempty"`
}

// NewConnectionInfo 创建连接簿记信息（握手成功后调用，初始状态 Connected）
func NewConnectionInfo(connectionID, sessionID, userID, namespace, transport string, transports []string) *ConnectionInfo {
	now := time.Now()
	return &ConnectionInfo{
		ConnectionID:       connectionID,
		SessionID:          sessionID,
		UserID:             userID,
		Namespace:          namespace,
		State:              Connected,
		Transport:          transport,
		CurrentTransports:  append([]string(nil), transports...),
		OriginalTransports: append([]string(nil), transports...),
		ConnectedAt:        now,
		LastActivity:       now,
	}
}

// Touch 更新最后活跃时间
func (c *ConnectionInfo) Touch() {
	c.LastActivity = time.Now()
}

// RecordError 记录一次错误，历史保留最近 errorHistorySize 条
func (c *ConnectionInfo) RecordError(message string) {
	c.ErrorCount++
	c.LastError = message
	c.ErrorHistory = append(c.ErrorHistory, ErrorRecord{Message: message, Time: time.Now()})
	if len(c.ErrorHistory) > errorHistorySize {
		c.ErrorHistory = c.ErrorHistory[len(c.ErrorHistory)-errorHistorySize:]
	}
}

// Clone 返回深拷贝（注册表对外只暴露副本）
func (c *ConnectionInfo) Clone() *ConnectionInfo {
	cp := *c
	cp.CurrentTransports = append([]string(nil), c.CurrentTransports...)
	cp.OriginalTransports = append([]string(nil), c.OriginalTransports...)
	cp.ErrorHistory = append([]ErrorRecord(nil), c.ErrorHistory...)
	return &cp
}
