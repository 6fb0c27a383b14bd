package trace

import "github.com/ceyewan/scribesnap/xerrors"

// 批处理方式
const (
	BatcherBatch  = "batch"
	BatcherSimple = "simple"
)

// Config 链路追踪配置
type Config struct {
	// Enabled 为 false 时只在进程内生成 TraceID，不导出
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// Version 写入 service.version 资源属性
	Version string `mapstructure:"version"`
	// Endpoint OTLP gRPC 地址，如 "tempo:4317"
	Endpoint string `mapstructure:"endpoint"`
	// Sampler 根 span 采样率 [0, 1]
	Sampler float64 `mapstructure:"sampler"`
	// Batcher batch | simple，simple 同步导出，只适合调试
	Batcher  string `mapstructure:"batcher"`
	Insecure bool   `mapstructure:"insecure"`
}

func (c *Config) setDefaults() {
	if c.Batcher == "" {
		c.Batcher = BatcherBatch
	}
}

func (c *Config) validate() error {
	switch {
	case c.ServiceName == "":
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: service_name is required")
	case c.Endpoint == "":
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: endpoint is required")
	case c.Sampler < 0 || c.Sampler > 1:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: sampler must be between 0 and 1, got %v", c.Sampler)
	case c.Batcher != BatcherBatch && c.Batcher != BatcherSimple:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: batcher must be %q or %q, got %q", BatcherBatch, BatcherSimple, c.Batcher)
	}
	return nil
}
