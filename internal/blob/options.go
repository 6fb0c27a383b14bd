package blob

import (
	"time"

	"github.com/spf13/afero"

	"github.com/ceyewan/scribesnap/clog"
)

// Option blob 存储选项
type Option func(*options)

type options struct {
	fs     afero.Fs
	now    func() time.Time
	logger clog.Logger
}

// WithLogger 设置 Logger，自动添加 "blob" namespace
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("blob")
		}
	}
}

// WithFs 使用指定的文件系统，设置后忽略 Config.Root
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		if fs != nil {
			o.fs = fs
		}
	}
}

// WithClock 设置时钟，用于决定日期目录
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
