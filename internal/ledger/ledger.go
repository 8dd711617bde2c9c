// Package ledger aggregates trades into positions. Two accounting modes
// exist behind one interface: netting collapses trades into one signed
// position per symbol, hedging keeps every trade independently
// addressable and derives the position as an aggregate view.
package ledger

import (
	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/fixed"
)

// Trade is an immutable execution record. Quantity is always positive;
// direction lives in Side.
type Trade struct {
	ID         string
	OrderID    string
	Account    string
	Symbol     string
	Side       schema.OrderSide
	Quantity   fixed.Value
	Price      fixed.Value
	TsMicros   int64
	StopLoss   fixed.Value
	TakeProfit fixed.Value

	// Closing marks the fill of a ClosePosition-generated order; in
	// hedging mode it offsets open entries instead of opening a new
	// one. ClosesTradeIDs names the entries, empty means FIFO. The
	// netting ledger ignores both.
	Closing        bool
	ClosesTradeIDs []string
}

// PositionDelta describes the effect of one applied trade.
type PositionDelta struct {
	Position       schema.PositionView
	RealizedPnL    fixed.Value
	ClosedTradeIDs []string
	PositionClosed bool
}

// CloseIntent is the opposite-side order the adapter must place to
// flatten (part of) a position.
type CloseIntent struct {
	Side     schema.OrderSide
	Quantity fixed.Value
	TradeIDs []string
}

// Ledger is the per-account position accounting capability.
type Ledger interface {
	Mode() schema.AccountMode

	// ApplyTrade books the trade and returns the resulting delta.
	ApplyTrade(t Trade) (PositionDelta, error)

	// CloseIntent computes the closing order for a symbol. TradeIDs
	// selects hedging-mode trades; quantity zero means the full position.
	CloseIntent(symbol string, tradeIDs []string, quantity fixed.Value) (CloseIntent, error)

	// ModifyProtection rewrites stop-loss/take-profit levels on a
	// position (netting) or a single trade (hedging). It never trades.
	ModifyProtection(symbol, tradeID string, stopLoss, takeProfit fixed.Value) error

	// SetMarkPrice updates the valuation price used for unrealized P&L.
	SetMarkPrice(symbol string, price fixed.Value)

	Position(symbol string) (schema.PositionView, bool)
	Positions() []schema.PositionView
	Trades() []schema.TradeView
	RealizedPnL() fixed.Value
	UnrealizedPnL() fixed.Value
}

// New selects the implementation for the account mode.
func New(account string, mode schema.AccountMode) (Ledger, error) {
	switch mode {
	case schema.AccountModeNetting:
		return newNetting(account), nil
	case schema.AccountModeHedging:
		return newHedging(account), nil
	default:
		return nil, exception.ErrLedgerModeMismatch
	}
}

// signedQty maps (side, positive quantity) to a signed quantity.
func signedQty(side schema.OrderSide, qty fixed.Value) (fixed.Value, error) {
	if !qty.IsPositive() {
		return fixed.Value{}, exception.ErrLedgerZeroQuantity
	}
	if side == schema.OrderSideSell {
		return qty.Neg(), nil
	}
	if side != schema.OrderSideBuy {
		return fixed.Value{}, exception.ErrInvalidArgument
	}
	return qty, nil
}

// weightedAvg recomputes the average entry price when size is added on
// the same side: (|q0|*p0 + |q1|*p1) / (|q0|+|q1|), at the price scale.
func weightedAvg(q0, p0, q1, p1 fixed.Value) (fixed.Value, error) {
	c0, err := fixed.Mul(q0.Abs().Normalize(), p0.Normalize())
	if err != nil {
		return fixed.Value{}, err
	}
	c1, err := fixed.Mul(q1.Abs().Normalize(), p1.Normalize())
	if err != nil {
		return fixed.Value{}, err
	}
	cost, err := fixed.Add(c0, c1)
	if err != nil {
		return fixed.Value{}, err
	}
	qty, err := fixed.Add(q0.Abs(), q1.Abs())
	if err != nil {
		return fixed.Value{}, err
	}
	scale := p0.Scale
	if p1.Scale > scale {
		scale = p1.Scale
	}
	return fixed.Div(cost, qty, scale)
}

// realized books P&L for the closed portion: (exit-entry)*qty, signed by
// the closed position's direction.
func realized(entry, exit, closedQty fixed.Value, longPosition bool) (fixed.Value, error) {
	diff, err := fixed.Sub(exit, entry)
	if err != nil {
		return fixed.Value{}, err
	}
	if !longPosition {
		diff = diff.Neg()
	}
	return fixed.Mul(diff.Normalize(), closedQty.Abs().Normalize())
}

// unrealizedFor values an open quantity against a mark price.
func unrealizedFor(entry, mark, qty fixed.Value) fixed.Value {
	if mark.IsZero() || qty.IsZero() {
		return fixed.Zero()
	}
	pnl, err := realized(entry, mark, qty, qty.Sign() > 0)
	if err != nil {
		return fixed.Zero()
	}
	return pnl
}
