package metrics

// Config 指标系统的配置
//
// 典型配置（YAML）：
//
//	metrics:
//	  enabled: true
//	  service_name: "scribesnap"
//	  version: "v0.3.0"
//	  runtime: true
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter，所有操作都是空操作
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 OpenTelemetry Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 OpenTelemetry Resource 的 service.version
	Version string `mapstructure:"version"`

	// Runtime 是否采集 Go runtime 指标（GC、goroutine、内存）
	Runtime bool `mapstructure:"runtime"`
}

// NewDevDefaultConfig 开发环境默认配置
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
	}
}
