package exception

import "errors"

var (
	ErrRequestDuplicateConflict = errors.New("request: id resubmitted with different parameters")
	ErrRequestEmptyID           = errors.New("request: empty request id")
	ErrRequestTimeout           = errors.New("request: timed out, safe to retry with the same id")
	ErrRequestShuttingDown      = errors.New("request: adapter shutting down, safe to retry")
)
