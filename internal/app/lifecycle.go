package app

import (
	"context"
	"fmt"

	"github.com/ceyewan/scribesnap/xerrors"
)

// 资源按阶段注册，关闭时整体逆序执行
const (
	PhaseObservability = 0
	PhaseConnector     = 10
	PhaseComponent     = 20
	PhaseService       = 30
)

type closer struct {
	name  string
	phase int
	fn    func(ctx context.Context) error
}

// lifecycle 记录已经打开的资源，保证部分初始化失败时也能释放
type lifecycle struct {
	items []closer
}

func (l *lifecycle) register(name string, phase int, fn func(ctx context.Context) error) {
	l.items = append(l.items, closer{name: name, phase: phase, fn: fn})
}

// closeAll 按注册的逆序关闭，返回所有失败
func (l *lifecycle) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(l.items) - 1; i >= 0; i-- {
		item := l.items[i]
		if err := item.fn(ctx); err != nil {
			errs = append(errs, &CloseError{Phase: item.phase, Name: item.name, Cause: err})
		}
	}
	l.items = nil
	return xerrors.Combine(errs...)
}

// CloseError 单个资源关闭失败
type CloseError struct {
	Phase int
	Name  string
	Cause error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %s (phase %d): %v", e.Name, e.Phase, e.Cause)
}

func (e *CloseError) Unwrap() error {
	return e.Cause
}
