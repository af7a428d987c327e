package errors

// Sentinel errors - 预定义的错误实例
// 调用方用 errors.Is 匹配（TypedError.Is 按错误类型比较）
var (
	// ErrStoreUnavailable 主备存储均不可用，调用方需按匿名会话降级处理
	ErrStoreUnavailable = New(ErrorTypeStoreUnavailable, "session store unavailable")
	// ErrSessionExpired 会话过期，重新登录可恢复
	ErrSessionExpired = New(ErrorTypeSessionExpired, "session expired")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = New(ErrorTypeSessionNotFound, "session not found")
	// ErrConnectionNotFound 连接未注册
	ErrConnectionNotFound = New(ErrorTypeConnectionNotFound, "connection not found")
	// ErrRecoveryExhausted 重连次数耗尽，客户端必须全新握手
	ErrRecoveryExhausted = New(ErrorTypeRecoveryExhausted, "reconnect attempts exhausted")
	// ErrTransportUnavailable 首选传输握手失败，可通过降级恢复
	ErrTransportUnavailable = New(ErrorTypeTransportUnavailable, "preferred transport unavailable")
	// ErrConflictingWrite 并发写冲突，按时间戳裁决后记录，不向用户暴露
	ErrConflictingWrite = New(ErrorTypeConflictingWrite, "conflicting session write")
)
