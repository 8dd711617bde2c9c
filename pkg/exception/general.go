package exception

import "errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal error")

	ErrEmptyPathUDS     = errors.New("uds: empty socket path")
	ErrNilClientUDS     = errors.New("uds: nil client")
	ErrNilServerUDS     = errors.New("uds: nil server")
	ErrListeningUDS     = errors.New("uds: already listening")
	ErrNotListeningUDS  = errors.New("uds: not listening")
	ErrPathNotSocketUDS = errors.New("uds: path exists and is not a socket")
)
