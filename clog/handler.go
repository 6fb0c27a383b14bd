package clog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// clogHandler 封装 slog.Handler，提供动态级别和 Flush 能力
type clogHandler struct {
	slog.Handler
	levelVar *slog.LevelVar
	file     *os.File
}

// newHandler 按 writer -> handler options -> json/text/tint 的顺序构造 handler
func newHandler(config *Config, o *options) (*clogHandler, error) {
	w, file, err := resolveWriter(config, o)
	if err != nil {
		return nil, err
	}

	level, _ := ParseLevel(config.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.slogLevel())

	var handler slog.Handler
	switch {
	case strings.EqualFold(config.Format, "json"):
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource:   config.AddSource,
			Level:       levelVar,
			ReplaceAttr: newReplaceAttr(config),
		})
	case config.EnableColor:
		handler = tint.NewHandler(w, &tint.Options{
			AddSource:  config.AddSource,
			Level:      levelVar,
			TimeFormat: "15:04:05.000",
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			AddSource:   config.AddSource,
			Level:       levelVar,
			ReplaceAttr: newReplaceAttr(config),
		})
	}

	return &clogHandler{Handler: handler, levelVar: levelVar, file: file}, nil
}

func resolveWriter(config *Config, o *options) (io.Writer, *os.File, error) {
	if o.writer != nil {
		return o.writer, nil, nil
	}
	switch strings.ToLower(config.Output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if dir := filepath.Dir(config.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

// newReplaceAttr 统一 Level/Time/Source 字段的输出格式
func newReplaceAttr(config *Config) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.LevelKey:
			if level, ok := a.Value.Any().(slog.Level); ok && level > slog.LevelError {
				a.Value = slog.StringValue("FATAL")
			}
		case slog.TimeKey:
			if a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().Format(TimeFormat))
			}
		case slog.SourceKey:
			if source, ok := a.Value.Any().(*slog.Source); ok {
				return slog.String("caller", fmt.Sprintf("%s:%d", trimSourcePath(source.File, config.SourceRoot), source.Line))
			}
		}
		return a
	}
}

func trimSourcePath(fileName, sourceRoot string) string {
	if sourceRoot != "" {
		if rel, err := filepath.Rel(sourceRoot, fileName); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	if idx := strings.Index(fileName, "scribesnap/"); idx != -1 {
		return fileName[idx+len("scribesnap/"):]
	}
	return filepath.Base(fileName)
}

func (h *clogHandler) setLevel(level Level) {
	h.levelVar.Set(level.slogLevel())
}

func (h *clogHandler) flush() {
	if h.file != nil {
		_ = h.file.Sync()
	}
}
