package exception

import "errors"

var (
	ErrVenueUnknownOrder  = errors.New("venue: unknown order")
	ErrVenueNoMarketPrice = errors.New("venue: no market price")
	ErrVenueClosed        = errors.New("venue: closed")
)
