package ledger

import (
	"sort"

	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/fixed"
)

// hedgeTrade is an independently addressable entry. Offsetting trades do
// not collapse it; only a closing trade that targets it reduces remaining.
type hedgeTrade struct {
	id         string
	orderID    string
	symbol     string
	side       schema.OrderSide
	quantity   fixed.Value
	remaining  fixed.Value
	price      fixed.Value
	tsMicros   int64
	stopLoss   fixed.Value
	takeProfit fixed.Value
}

func (t *hedgeTrade) closed() bool {
	return t.remaining.IsZero()
}

type hedging struct {
	account  string
	trades   []*hedgeTrade
	byID     map[string]*hedgeTrade
	marks    map[string]fixed.Value
	realized fixed.Value
}

func newHedging(account string) *hedging {
	return &hedging{
		account: account,
		byID:    make(map[string]*hedgeTrade),
		marks:   make(map[string]fixed.Value),
	}
}

func (l *hedging) Mode() schema.AccountMode {
	return schema.AccountModeHedging
}

// ApplyTrade books a new independent entry. A trade carrying close
// targets offsets those entries (FIFO when none are named) and books
// realized P&L per consumed entry instead of opening a new one.
func (l *hedging) ApplyTrade(t Trade) (PositionDelta, error) {
	if _, err := signedQty(t.Side, t.Quantity); err != nil {
		return PositionDelta{}, err
	}
	if len(t.ClosesTradeIDs) > 0 || t.Closing {
		return l.applyClose(t)
	}

	entry := &hedgeTrade{
		id:         t.ID,
		orderID:    t.OrderID,
		symbol:     t.Symbol,
		side:       t.Side,
		quantity:   t.Quantity,
		remaining:  t.Quantity,
		price:      t.Price,
		tsMicros:   t.TsMicros,
		stopLoss:   t.StopLoss,
		takeProfit: t.TakeProfit,
	}
	l.trades = append(l.trades, entry)
	l.byID[t.ID] = entry

	view, _ := l.Position(t.Symbol)
	return PositionDelta{Position: view}, nil
}

func (l *hedging) applyClose(t Trade) (PositionDelta, error) {
	targets, err := l.closeTargets(t.Symbol, t.ClosesTradeIDs, opposite(t.Side))
	if err != nil {
		return PositionDelta{}, err
	}

	// The consumable total is established up front so an oversized close
	// fails before any entry or realized figure is touched.
	consumable := fixed.Zero()
	for _, target := range targets {
		sum, err := fixed.Add(consumable, target.remaining)
		if err != nil {
			return PositionDelta{}, err
		}
		consumable = sum
	}
	if cmp, err := fixed.Cmp(t.Quantity, consumable); err != nil {
		return PositionDelta{}, err
	} else if cmp > 0 {
		return PositionDelta{}, exception.ErrLedgerTradeClosed
	}

	remaining := t.Quantity
	delta := PositionDelta{}
	for _, target := range targets {
		if remaining.IsZero() {
			break
		}
		consumed := target.remaining
		if cmp, err := fixed.Cmp(remaining, consumed); err != nil {
			return PositionDelta{}, err
		} else if cmp < 0 {
			consumed = remaining
		}

		pnl, err := realized(target.price, t.Price, consumed, target.side == schema.OrderSideBuy)
		if err != nil {
			return PositionDelta{}, err
		}
		l.realized, err = fixed.Add(l.realized, pnl)
		if err != nil {
			return PositionDelta{}, err
		}
		delta.RealizedPnL, err = fixed.Add(delta.RealizedPnL, pnl)
		if err != nil {
			return PositionDelta{}, err
		}

		target.remaining, err = fixed.Sub(target.remaining, consumed)
		if err != nil {
			return PositionDelta{}, err
		}
		remaining, err = fixed.Sub(remaining, consumed)
		if err != nil {
			return PositionDelta{}, err
		}
		if target.closed() {
			delta.ClosedTradeIDs = append(delta.ClosedTradeIDs, target.id)
		}
	}

	view, ok := l.Position(t.Symbol)
	delta.Position = view
	delta.PositionClosed = !ok
	if !ok {
		delta.Position = schema.PositionView{Account: l.account, Symbol: t.Symbol}
	}
	return delta, nil
}

// closeTargets resolves the entries a close consumes: the named ids in
// the given order, or every open entry on the closing side in FIFO order.
func (l *hedging) closeTargets(symbol string, ids []string, side schema.OrderSide) ([]*hedgeTrade, error) {
	if len(ids) == 0 {
		var out []*hedgeTrade
		for _, t := range l.trades {
			if t.symbol == symbol && t.side == side && !t.closed() {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, exception.ErrLedgerUnknownPosition
		}
		return out, nil
	}

	out := make([]*hedgeTrade, 0, len(ids))
	for _, id := range ids {
		t, ok := l.byID[id]
		if !ok {
			return nil, exception.ErrLedgerUnknownTrade
		}
		if t.closed() {
			return nil, exception.ErrLedgerTradeClosed
		}
		if t.symbol != symbol || t.side != side {
			return nil, exception.ErrLedgerModeMismatch
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *hedging) CloseIntent(symbol string, tradeIDs []string, quantity fixed.Value) (CloseIntent, error) {
	var side schema.OrderSide
	var total fixed.Value

	if len(tradeIDs) > 0 {
		for _, id := range tradeIDs {
			t, ok := l.byID[id]
			if !ok {
				return CloseIntent{}, exception.ErrLedgerUnknownTrade
			}
			if t.closed() {
				return CloseIntent{}, exception.ErrLedgerTradeClosed
			}
			if side == schema.OrderSideUnknown {
				side = t.side
			} else if t.side != side {
				return CloseIntent{}, exception.ErrInvalidArgument
			}
			sum, err := fixed.Add(total, t.remaining)
			if err != nil {
				return CloseIntent{}, err
			}
			total = sum
		}
	} else {
		view, ok := l.Position(symbol)
		if !ok {
			return CloseIntent{}, exception.ErrLedgerUnknownPosition
		}
		total = view.Quantity.Abs()
		side = schema.OrderSideBuy
		if view.Quantity.Sign() > 0 {
			side = schema.OrderSideSell
		}
		// FIFO default: the close fill consumes oldest entries first.
		return CloseIntent{Side: side, Quantity: clampQty(total, quantity)}, nil
	}

	return CloseIntent{
		Side:     opposite(side),
		Quantity: clampQty(total, quantity),
		TradeIDs: tradeIDs,
	}, nil
}

func clampQty(total, requested fixed.Value) fixed.Value {
	if requested.IsZero() {
		return total
	}
	if cmp, err := fixed.Cmp(requested, total); err == nil && cmp < 0 && requested.IsPositive() {
		return requested
	}
	return total
}

func (l *hedging) ModifyProtection(symbol, tradeID string, stopLoss, takeProfit fixed.Value) error {
	if tradeID == "" {
		return exception.ErrLedgerModeMismatch
	}
	t, ok := l.byID[tradeID]
	if !ok {
		return exception.ErrLedgerUnknownTrade
	}
	if t.closed() {
		return exception.ErrLedgerTradeClosed
	}
	if !stopLoss.IsZero() {
		t.stopLoss = stopLoss
	}
	if !takeProfit.IsZero() {
		t.takeProfit = takeProfit
	}
	return nil
}

func (l *hedging) SetMarkPrice(symbol string, price fixed.Value) {
	l.marks[symbol] = price
}

// Position derives the aggregate view: net signed quantity plus the
// weighted-average entry of the open entries on the net side. It is not
// authoritative state in hedging mode.
func (l *hedging) Position(symbol string) (schema.PositionView, bool) {
	net := fixed.Zero()
	for _, t := range l.trades {
		if t.symbol != symbol || t.closed() {
			continue
		}
		signed, err := signedQty(t.side, t.remaining)
		if err != nil {
			continue
		}
		if sum, err := fixed.Add(net, signed); err == nil {
			net = sum
		}
	}
	if net.IsZero() {
		return schema.PositionView{}, false
	}

	netSide := schema.OrderSideBuy
	if net.Sign() < 0 {
		netSide = schema.OrderSideSell
	}
	avg := fixed.Zero()
	acc := fixed.Zero()
	for _, t := range l.trades {
		if t.symbol != symbol || t.closed() || t.side != netSide {
			continue
		}
		next, err := weightedAvg(acc, avg, t.remaining, t.price)
		if err != nil {
			continue
		}
		avg = next
		if sum, err := fixed.Add(acc, t.remaining); err == nil {
			acc = sum
		}
	}

	return schema.PositionView{
		Account:       l.account,
		Symbol:        symbol,
		Quantity:      net,
		AvgEntryPrice: avg,
		RealizedPnL:   l.realized,
		UnrealizedPnL: unrealizedFor(avg, l.marks[symbol], net),
	}, true
}

func (l *hedging) Positions() []schema.PositionView {
	seen := map[string]bool{}
	var out []schema.PositionView
	for _, t := range l.trades {
		if seen[t.symbol] {
			continue
		}
		seen[t.symbol] = true
		if view, ok := l.Position(t.symbol); ok {
			out = append(out, view)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *hedging) Trades() []schema.TradeView {
	out := make([]schema.TradeView, 0, len(l.trades))
	for _, t := range l.trades {
		out = append(out, schema.TradeView{
			TradeID:    t.id,
			OrderID:    t.orderID,
			Account:    l.account,
			Symbol:     t.symbol,
			Side:       t.side,
			Quantity:   t.quantity,
			Price:      t.price,
			TsMicros:   t.tsMicros,
			StopLoss:   t.stopLoss,
			TakeProfit: t.takeProfit,
			Closed:     t.closed(),
		})
	}
	return out
}

func (l *hedging) RealizedPnL() fixed.Value {
	return l.realized
}

func (l *hedging) UnrealizedPnL() fixed.Value {
	total := fixed.Zero()
	for _, t := range l.trades {
		if t.closed() {
			continue
		}
		signed, err := signedQty(t.side, t.remaining)
		if err != nil {
			continue
		}
		pnl := unrealizedFor(t.price, l.marks[t.symbol], signed)
		if sum, err := fixed.Add(total, pnl); err == nil {
			total = sum
		}
	}
	return total
}

func opposite(side schema.OrderSide) schema.OrderSide {
	switch side {
	case schema.OrderSideBuy:
		return schema.OrderSideSell
	case schema.OrderSideSell:
		return schema.OrderSideBuy
	default:
		return schema.OrderSideUnknown
	}
}
