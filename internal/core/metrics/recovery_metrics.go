package metrics

// 连接恢复相关指标辅助函数
// 全局 Metrics 未初始化时静默跳过（nil 安全）

// Snapshot 恢复指标快照
// 计数器只增不减，仅运维显式 Reset 可清零
type Snapshot struct {
	TotalConnections     int64 `json:"total_connections"`
	ActiveConnections    int64 `json:"active_connections"`
	RecoveryAttempts     int64 `json:"recovery_attempts"`
	SuccessfulRecoveries int64 `json:"successful_recoveries"`
	FailedRecoveries     int64 `json:"failed_recoveries"`
	TransportFallbacks   int64 `json:"transport_fallbacks"`
	SuspensionsDetected  int64 `json:"suspensions_detected"`
}

// IncrementConnectionTotal 增加累计连接数
func IncrementConnectionTotal() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.IncrementCounter("connection_total", nil)
}

// SetActiveConnections 设置活跃连接数（Gauge）
func SetActiveConnections(count float64) error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.SetGauge("connection_active", count, nil)
}

// IncrementRecoveryAttempt 增加重连尝试数
func IncrementRecoveryAttempt() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.IncrementCounter("recovery_attempts", nil)
}

// IncrementRecoverySuccess 增加重连成功数
func IncrementRecoverySuccess() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.IncrementCounter("recovery_success", nil)
}

// IncrementRecoveryFailure 增加重连失败数（重连耗尽）
func IncrementRecoveryFailure() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.IncrementCounter("recovery_failure", nil)
}

// IncrementTransportFallback 增加传输降级数
func IncrementTransportFallback() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.IncrementCounter("transport_fallback", nil)
}

// IncrementSuspensionDetected 增加挂起检测数
func IncrementSuspensionDetected() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.IncrementCounter("suspension_detected", nil)
}

// GetSnapshot 读取当前恢复指标快照
func GetSnapshot() Snapshot {
	m := GetGlobalMetrics()
	if m == nil {
		return Snapshot{}
	}

	get := func(name string) int64 {
		v, err := m.GetCounter(name, nil)
		if err != nil {
			return 0
		}
		return int64(v)
	}

	active, _ := m.GetGauge("connection_active", nil)

	return Snapshot{
		TotalConnections:     get("connection_total"),
		ActiveConnections:    int64(active),
		RecoveryAttempts:     get("recovery_attempts"),
		SuccessfulRecoveries: get("recovery_success"),
		FailedRecoveries:     get("recovery_failure"),
		TransportFallbacks:   get("transport_fallback"),
		SuspensionsDetected:  get("suspension_detected"),
	}
}

// ResetSnapshot 清零恢复指标（仅限运维显式操作）
func ResetSnapshot() error {
	m := GetGlobalMetrics()
	if m == nil {
		return nil
	}
	return m.Reset()
}
