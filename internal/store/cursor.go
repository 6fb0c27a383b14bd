package store

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/ceyewan/scribesnap/xerrors"
)

// cursor 键集分页位置：上一页最后一条记录的 (created_at, id)
type cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c cursor) encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, xerrors.Wrap(ErrInvalidCursor, "not base64url")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return cursor{}, xerrors.Wrap(ErrInvalidCursor, "malformed")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return cursor{}, xerrors.Wrap(ErrInvalidCursor, "bad timestamp")
	}
	return cursor{CreatedAt: t.UTC(), ID: id}, nil
}
