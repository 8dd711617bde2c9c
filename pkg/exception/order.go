package exception

import "errors"

var (
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderDuplicate         = errors.New("order: already exists")
	ErrOrderAlreadyTerminal   = errors.New("order: already terminal")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderInvalidFill       = errors.New("order: invalid fill quantity")
	ErrOrderOverfill          = errors.New("order: fill exceeds ordered quantity")
	ErrOrderModifyState       = errors.New("order: modify not allowed in current state")
	ErrOrderVersionMismatch   = errors.New("order: version mismatch")
)
