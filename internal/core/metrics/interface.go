package metrics

// Metrics 指标收集接口
// 设计目标：单机运行使用内存实现，后续可无缝迁移到 Prometheus
type Metrics interface {
	// Counter 操作
	IncrementCounter(name string, labels map[string]string) error
	AddCounter(name string, value float64, labels map[string]string) error
	GetCounter(name string, labels map[string]string) (float64, error)

	// Gauge 操作
	SetGauge(name string, value float64, labels map[string]string) error
	GetGauge(name string, labels map[string]string) (float64, error)

	// Reset 清零所有计数器（仅限运维显式操作）
	Reset() error

	// 关闭指标收集器
	Close() error
}
