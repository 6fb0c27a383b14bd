package config

import (
	"context"
	"strings"
)

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "scribesnap"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型 (yaml, json, etc.)，默认 yaml
	EnvPrefix string   // 环境变量前缀，默认 "SCRIBESNAP"
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "scribesnap"
	}
	if len(c.Paths) == 0 {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "SCRIBESNAP"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

func (c *Config) validate() error {
	switch c.FileType {
	case "yaml", "yml", "json", "toml":
		return nil
	default:
		return WrapValidationError(ErrUnsupportedType)
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置。
func New(cfg *Config, opts ...Option) (Loader, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return newLoader(&c, opts...), nil
}

// MustLoad 创建并加载配置，失败时 panic。仅用于进程启动阶段。
func MustLoad(cfg *Config, opts ...Option) Loader {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	if err := l.Load(context.Background()); err != nil {
		panic(err)
	}
	return l
}
