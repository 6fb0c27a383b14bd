package clog

import "context"

// discard 丢弃所有日志，组件未注入 Logger 时的默认值
type discard struct{}

var discardLogger Logger = discard{}

// Discard 返回静默 Logger，所有调用共享同一个实例
func Discard() Logger { return discardLogger }

func (discard) Debug(string, ...Field)                         {}
func (discard) Info(string, ...Field)                          {}
func (discard) Warn(string, ...Field)                          {}
func (discard) Error(string, ...Field)                         {}
func (discard) Fatal(string, ...Field)                         {}
func (discard) DebugContext(context.Context, string, ...Field) {}
func (discard) InfoContext(context.Context, string, ...Field)  {}
func (discard) WarnContext(context.Context, string, ...Field)  {}
func (discard) ErrorContext(context.Context, string, ...Field) {}
func (discard) FatalContext(context.Context, string, ...Field) {}

func (d discard) With(...Field) Logger           { return d }
func (d discard) WithNamespace(...string) Logger { return d }
func (discard) SetLevel(Level) error             { return nil }
func (discard) Flush()                           {}
