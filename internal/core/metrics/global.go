package metrics

import (
	"errors"
	"sync"
)

var (
	globalMetrics Metrics
	globalMu      sync.RWMutex

	// ErrNilMetrics 当传入 nil Metrics 时返回
	ErrNilMetrics = errors.New("metrics: SetGlobalMetrics called with nil")
)

// SetGlobalMetrics 设置全局 Metrics 实例
func SetGlobalMetrics(m Metrics) error {
	if m == nil {
		return ErrNilMetrics
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
	return nil
}

// GetGlobalMetrics 获取全局 Metrics 实例（可能为 nil）
func GetGlobalMetrics() Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}
