// Package extraction 调用外部视觉模型，从手写笔记图片中提取文字。
//
// Client 只负责单次调用：失败被分为 Transient 和 Permanent 两类，
// 重试和熔断由调用方组合 retry 与 breaker 完成。
// 出站请求经过令牌桶限速，避免触发上游的每分钟配额。
package extraction

import (
	"context"
	"time"

	"github.com/ceyewan/scribesnap/internal/blob"
)

// Client 文字提取客户端
type Client interface {
	// Extract 提取图片中的文字，失败时返回的错误链中包含 *Error
	Extract(ctx context.Context, obj blob.Object) (string, error)
}

// ClientFunc 将函数适配为 Client
type ClientFunc func(ctx context.Context, obj blob.Object) (string, error)

func (f ClientFunc) Extract(ctx context.Context, obj blob.Object) (string, error) {
	return f(ctx, obj)
}

const ProviderGemini = "gemini"

// Config 提取服务配置
type Config struct {
	// Provider 目前只支持 gemini
	Provider string `mapstructure:"provider"`

	APIKey string `mapstructure:"api_key"`

	// Model 默认 gemini-1.5-flash
	Model string `mapstructure:"model"`

	// BaseURL 默认 https://generativelanguage.googleapis.com
	BaseURL string `mapstructure:"base_url"`

	// Timeout 单次 HTTP 请求的上限，调用方 ctx 更短时以 ctx 为准，默认 60s
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestsPerMinute 出站速率，默认 15，负数表示不限速
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// MaxOutputTokens 生成文本的上限，默认 4096
	MaxOutputTokens int `mapstructure:"max_output_tokens"`
}

func (c *Config) setDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderGemini
	}
	if c.Model == "" {
		c.Model = "gemini-1.5-flash"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 15
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 4096
	}
}

func (c *Config) validate() error {
	if c.Provider != ProviderGemini {
		return ErrUnknownDriver
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// New 根据配置创建提取客户端
func New(cfg *Config, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return newGemini(&c, opts...), nil
}
