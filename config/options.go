package config

import "github.com/ceyewan/scribesnap/clog"

// Option 加载器选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	defaults map[string]any
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
	}
}

// WithLogger 设置 Logger，自动添加 "config" namespace
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("config")
		}
	}
}

// WithDefaults 注册默认值，key 使用 "." 分隔的完整路径
//
// 注册过默认值的 key 即使没有配置文件也能被环境变量覆盖。
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) {
		if o.defaults == nil {
			o.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}
