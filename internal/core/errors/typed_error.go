package errors

import (
	"errors"
	"fmt"
)

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeStoreUnavailable     ErrorType = "store_unavailable"     // 主备存储均不可用（可重试）
	ErrorTypeSessionExpired       ErrorType = "session_expired"       // 会话过期（重新登录可恢复）
	ErrorTypeSessionNotFound      ErrorType = "session_not_found"     // 会话不存在
	ErrorTypeConnectionNotFound   ErrorType = "connection_not_found"  // 连接不存在
	ErrorTypeRecoveryExhausted    ErrorType = "recovery_exhausted"    // 重连次数耗尽（需全新握手）
	ErrorTypeTransportUnavailable ErrorType = "transport_unavailable" // 首选传输握手失败（可降级）
	ErrorTypeConflictingWrite     ErrorType = "conflicting_write"     // 并发写冲突（按时间戳裁决，仅记录）
	ErrorTypeInternal             ErrorType = "internal"              // 内部错误
)

// TypedError 带类型的错误
type TypedError struct {
	Type      ErrorType
	Message   string
	Err       error
	Retryable bool
	Alertable bool
}

// Error 实现 error 接口
func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap 返回原始错误
func (e *TypedError) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is 按错误类型匹配
func (e *TypedError) Is(target error) bool {
	t, ok := target.(*TypedError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// isRetryable 判断错误类型是否可重试
func isRetryable(errType ErrorType) bool {
	switch errType {
	case ErrorTypeStoreUnavailable, ErrorTypeTransportUnavailable:
		return true
	default:
		return false
	}
}

// isAlertable 判断错误类型是否需要告警
func isAlertable(errType ErrorType) bool {
	switch errType {
	case ErrorTypeStoreUnavailable, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

// New 创建新的 TypedError
func New(errType ErrorType, message string) *TypedError {
	return &TypedError{
		Type:      errType,
		Message:   message,
		Retryable: isRetryable(errType),
		Alertable: isAlertable(errType),
	}
}

// Newf 格式化创建新的 TypedError
func Newf(errType ErrorType, format string, args ...interface{}) *TypedError {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, errType ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return &TypedError{
		Type:      errType,
		Message:   message,
		Err:       err,
		Retryable: isRetryable(errType),
		Alertable: isAlertable(errType),
	}
}

// Wrapf 格式化包装错误
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// GetErrorType 获取错误类型
func GetErrorType(err error) ErrorType {
	var typed *TypedError
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeInternal
}

// IsRetryable 判断是否可重试
func IsRetryable(err error) bool {
	var typed *TypedError
	if errors.As(err, &typed) {
		return typed.Retryable
	}
	return false
}

// IsType 判断错误是否为指定类型
func IsType(err error, errType ErrorType) bool {
	var typed *TypedError
	if errors.As(err, &typed) {
		return typed.Type == errType
	}
	return false
}
