package events

import "github.com/ceyewan/scribesnap/xerrors"

var (
	ErrConnectorNil = xerrors.Wrap(xerrors.ErrInvalidInput, "events: nats connector is nil")
	ErrNotConnected = xerrors.Wrap(xerrors.ErrUnavailable, "events: nats not connected")
)
