package store

import "github.com/ceyewan/scribesnap/xerrors"

// 错误定义
var (
	// ErrNotFound 记录不存在
	ErrNotFound = xerrors.Wrap(xerrors.ErrNotFound, "store: work item not found")

	// ErrNotProcessing 记录已经处于终态，不能再迁移
	ErrNotProcessing = xerrors.New("store: work item is not processing")

	// ErrInvalidCursor 分页游标无法解析
	ErrInvalidCursor = xerrors.Wrap(xerrors.ErrInvalidInput, "store: invalid cursor")

	// ErrInvalidQuery 过滤或排序参数非法
	ErrInvalidQuery = xerrors.Wrap(xerrors.ErrInvalidInput, "store: invalid query")

	// ErrDBNil 缺少数据库组件
	ErrDBNil = xerrors.New("store: db is nil")
)
