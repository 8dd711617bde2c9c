package exception

import "errors"

var (
	ErrEventMalformedUnion = errors.New("event: union must carry exactly one payload")
	ErrEventMissingID      = errors.New("event: missing event id")
	ErrEventQueueFull      = errors.New("event: queue full")
	ErrEventQueueClosed    = errors.New("event: queue closed")
)
