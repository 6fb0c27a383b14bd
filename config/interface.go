// Package config 为 scribesnap 提供统一的配置加载能力，基于 Viper 实现。
//
// 特性：
//   - 多源配置加载：YAML/JSON 文件、环境变量、.env 文件
//   - 配置优先级：环境变量 > .env > 环境特定配置 > 基础配置 > 默认值
//   - 热更新：监听配置文件变化，按 key 通知订阅者
//
// 环境变量由前缀和 key 组成，"." 替换为 "_"，
// 例如 server.addr 对应 SCRIBESNAP_SERVER_ADDR。
// 只有注册过默认值或出现在配置文件中的 key 才能被环境变量覆盖，
// 所以调用方应当通过 WithDefaults 为每个 key 注册默认值。
//
// 基本使用：
//
//	loader := config.MustLoad(&config.Config{
//		Name:  "scribesnap",
//		Paths: []string{".", "./config"},
//	}, config.WithDefaults(defaults), config.WithLogger(logger))
//
//	var cfg AppConfig
//	if err := loader.Unmarshal(&cfg); err != nil {
//		panic(err)
//	}
//
//	// 监听配置变化
//	ch, _ := loader.Watch(ctx, "log.level")
//	for event := range ch {
//		logger.Info("config changed", clog.String("key", event.Key), clog.Any("value", event.Value))
//	}
package config

import (
	"context"
	"time"
)

// Loader 定义配置加载器的核心行为
type Loader interface {
	// Load 加载配置并开始监听文件变化
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error

	// ConfigFileUsed 返回实际加载的基础配置文件路径，未找到时为空
	ConfigFileUsed() string
}

// Event 配置变更事件
type Event struct {
	Key       string // 配置 key
	Value     any    // 新值
	OldValue  any    // 旧值
	Source    string // 目前只有 "file"
	Timestamp time.Time
}
