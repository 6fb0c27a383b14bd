package xerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	require.Error(t, wrapped)
	assert.Equal(t, "context: base error", wrapped.Error())
	assert.ErrorIs(t, wrapped, base)
}

func TestWrapf(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "note %d", 123))

	wrapped := Wrapf(errors.New("not found"), "note %d", 123)
	assert.Equal(t, "note 123: not found", wrapped.Error())
}

func TestWithCode(t *testing.T) {
	assert.NoError(t, WithCode(nil, "CODE"))

	coded := WithCode(errors.New("blob missing"), "BLOB_MISSING")
	assert.Equal(t, "[BLOB_MISSING] blob missing", coded.Error())
	assert.Equal(t, "BLOB_MISSING", GetCode(coded))

	// 包装后的带码错误依然可以取到 code
	assert.Equal(t, "BLOB_MISSING", GetCode(Wrap(coded, "upload failed")))
	assert.Empty(t, GetCode(errors.New("plain")))
}

func TestIsAny(t *testing.T) {
	err := Wrap(ErrNotFound, "note lookup")
	assert.True(t, IsAny(err, ErrInvalidInput, ErrNotFound))
	assert.False(t, IsAny(err, ErrInvalidInput, ErrUnavailable))
	assert.False(t, IsAny(err))
}

func TestMust(t *testing.T) {
	assert.Equal(t, 42, Must(42, nil))
	assert.Panics(t, func() { Must(0, errors.New("boom")) })
}

func TestCollector(t *testing.T) {
	var c Collector
	assert.NoError(t, c.Err())

	c.Collect(nil)
	assert.NoError(t, c.Err())

	err1 := errors.New("error 1")
	c.Collect(err1)
	c.Collect(errors.New("error 2"))
	assert.Same(t, err1, c.Err())
}

func TestCombine(t *testing.T) {
	assert.NoError(t, Combine())
	assert.NoError(t, Combine(nil, nil))

	err1 := errors.New("error 1")
	assert.Same(t, err1, Combine(nil, err1, nil))

	err2 := errors.New("error 2")
	combined := Combine(err1, err2)
	var multi *MultiError
	require.ErrorAs(t, combined, &multi)
	assert.Len(t, multi.Errors, 2)
	assert.ErrorIs(t, combined, err1)
	assert.ErrorIs(t, combined, err2)
	assert.Equal(t, "error 1 (and 1 more errors)", combined.Error())
}

func TestSentinelErrors(t *testing.T) {
	err := Wrap(ErrNotFound, "note lookup")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
