package exception

import "errors"

var (
	ErrLedgerUnknownPosition = errors.New("ledger: position not found")
	ErrLedgerUnknownTrade    = errors.New("ledger: trade not found")
	ErrLedgerTradeClosed     = errors.New("ledger: trade already closed")
	ErrLedgerZeroQuantity    = errors.New("ledger: trade quantity must be positive")
	ErrLedgerModeMismatch    = errors.New("ledger: operation not supported in this accounting mode")
)
