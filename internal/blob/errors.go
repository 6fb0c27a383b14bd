package blob

import "github.com/ceyewan/scribesnap/xerrors"

var (
	ErrConfigNil  = xerrors.New("blob: config is nil")
	ErrNotFound   = xerrors.Wrap(xerrors.ErrNotFound, "blob: not found")
	ErrInvalidRef = xerrors.Wrap(xerrors.ErrInvalidInput, "blob: invalid ref")
)
