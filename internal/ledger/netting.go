package ledger

import (
	"sort"

	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/fixed"
)

// position is the netting ledger's single authoritative entry per symbol.
type position struct {
	symbol     string
	qty        fixed.Value
	avgPrice   fixed.Value
	realized   fixed.Value
	stopLoss   fixed.Value
	takeProfit fixed.Value
}

type netting struct {
	account   string
	positions map[string]*position
	marks     map[string]fixed.Value
	realized  fixed.Value
	trades    []schema.TradeView
}

func newNetting(account string) *netting {
	return &netting{
		account:   account,
		positions: make(map[string]*position),
		marks:     make(map[string]fixed.Value),
	}
}

func (l *netting) Mode() schema.AccountMode {
	return schema.AccountModeNetting
}

// ApplyTrade nets the signed trade quantity into the symbol position,
// recomputing weighted-average cost when adding and booking realized
// P&L for the closed portion when reducing or crossing zero.
func (l *netting) ApplyTrade(t Trade) (PositionDelta, error) {
	signed, err := signedQty(t.Side, t.Quantity)
	if err != nil {
		return PositionDelta{}, err
	}

	p, ok := l.positions[t.Symbol]
	if !ok {
		p = &position{symbol: t.Symbol}
		l.positions[t.Symbol] = p
	}

	delta := PositionDelta{}
	switch {
	case p.qty.IsZero() || p.qty.Sign() == signed.Sign():
		// Opening or adding: weighted-average entry.
		avg, err := weightedAvg(p.qty, p.avgPrice, signed, t.Price)
		if err != nil {
			return PositionDelta{}, err
		}
		next, err := fixed.Add(p.qty, signed)
		if err != nil {
			return PositionDelta{}, err
		}
		p.qty = next
		p.avgPrice = avg

	default:
		// Reducing, closing or crossing zero.
		next, err := fixed.Add(p.qty, signed)
		if err != nil {
			return PositionDelta{}, err
		}
		closed := signed.Abs()
		crossed := !next.IsZero() && next.Sign() != p.qty.Sign()
		if crossed {
			closed = p.qty.Abs()
		}
		pnl, err := realized(p.avgPrice, t.Price, closed, p.qty.Sign() > 0)
		if err != nil {
			return PositionDelta{}, err
		}
		p.realized, err = fixed.Add(p.realized, pnl)
		if err != nil {
			return PositionDelta{}, err
		}
		l.realized, err = fixed.Add(l.realized, pnl)
		if err != nil {
			return PositionDelta{}, err
		}
		delta.RealizedPnL = pnl

		p.qty = next
		switch {
		case next.IsZero():
			p.avgPrice = fixed.Zero()
			delta.PositionClosed = true
		case crossed:
			// Remainder reopens at the trade price.
			p.avgPrice = t.Price
		}
	}

	l.trades = append(l.trades, schema.TradeView{
		TradeID:  t.ID,
		OrderID:  t.OrderID,
		Account:  l.account,
		Symbol:   t.Symbol,
		Side:     t.Side,
		Quantity: t.Quantity,
		Price:    t.Price,
		TsMicros: t.TsMicros,
	})

	delta.Position = l.view(p)
	return delta, nil
}

func (l *netting) CloseIntent(symbol string, tradeIDs []string, quantity fixed.Value) (CloseIntent, error) {
	if len(tradeIDs) > 0 {
		return CloseIntent{}, exception.ErrLedgerModeMismatch
	}
	p, ok := l.positions[symbol]
	if !ok || p.qty.IsZero() {
		return CloseIntent{}, exception.ErrLedgerUnknownPosition
	}
	qty := p.qty.Abs()
	if !quantity.IsZero() {
		cmp, err := fixed.Cmp(quantity, qty)
		if err != nil || quantity.Sign() <= 0 || cmp > 0 {
			return CloseIntent{}, exception.ErrInvalidArgument
		}
		qty = quantity
	}
	side := schema.OrderSideSell
	if p.qty.Sign() < 0 {
		side = schema.OrderSideBuy
	}
	return CloseIntent{Side: side, Quantity: qty}, nil
}

func (l *netting) ModifyProtection(symbol, tradeID string, stopLoss, takeProfit fixed.Value) error {
	if tradeID != "" {
		return exception.ErrLedgerModeMismatch
	}
	p, ok := l.positions[symbol]
	if !ok || p.qty.IsZero() {
		return exception.ErrLedgerUnknownPosition
	}
	if !stopLoss.IsZero() {
		p.stopLoss = stopLoss
	}
	if !takeProfit.IsZero() {
		p.takeProfit = takeProfit
	}
	return nil
}

func (l *netting) SetMarkPrice(symbol string, price fixed.Value) {
	l.marks[symbol] = price
}

func (l *netting) Position(symbol string) (schema.PositionView, bool) {
	p, ok := l.positions[symbol]
	if !ok || p.qty.IsZero() {
		return schema.PositionView{}, false
	}
	return l.view(p), true
}

func (l *netting) Positions() []schema.PositionView {
	out := make([]schema.PositionView, 0, len(l.positions))
	for _, p := range l.positions {
		if p.qty.IsZero() {
			continue
		}
		out = append(out, l.view(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *netting) Trades() []schema.TradeView {
	out := make([]schema.TradeView, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *netting) RealizedPnL() fixed.Value {
	return l.realized
}

func (l *netting) UnrealizedPnL() fixed.Value {
	total := fixed.Zero()
	for _, p := range l.positions {
		pnl := unrealizedFor(p.avgPrice, l.marks[p.symbol], p.qty)
		if sum, err := fixed.Add(total, pnl); err == nil {
			total = sum
		}
	}
	return total
}

func (l *netting) view(p *position) schema.PositionView {
	return schema.PositionView{
		Account:       l.account,
		Symbol:        p.symbol,
		Quantity:      p.qty,
		AvgEntryPrice: p.avgPrice,
		RealizedPnL:   p.realized,
		UnrealizedPnL: unrealizedFor(p.avgPrice, l.marks[p.symbol], p.qty),
	}
}
