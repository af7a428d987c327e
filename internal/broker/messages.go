package broker

import "encoding/json"

// SessionEventMessage 会话事件消息
// Context 为 JSON 编码的会话上下文快照（删除/登出事件可为空）
type SessionEventMessage struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Version   int64           `json:"version"`
	Reason    string          `json:"reason,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
