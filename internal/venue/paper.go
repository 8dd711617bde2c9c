package venue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/fixed"
)

// ReportFunc receives execution reports from the venue. The paper
// venue calls it synchronously under its own lock, so handlers must
// not call back into the venue.
type ReportFunc func(schema.ExecutionReport)

// Venue is the broker-side surface the adapter routes orders to.
type Venue interface {
	Submit(ctx context.Context, order schema.OrderView) error
	Cancel(ctx context.Context, account, orderID string) error
	Amend(ctx context.Context, order schema.OrderView) error
}

type restingOrder struct {
	view schema.OrderView
}

// Paper simulates a broker against marked prices. Market orders fill
// at the mark, limit orders rest until the mark crosses the limit,
// stop orders rest until triggered. Fills are whole-order; partial
// fills come only from amended quantities.
type Paper struct {
	mu      sync.Mutex
	marks   map[string]fixed.Value
	resting map[string]*restingOrder
	report  ReportFunc
	now     func() time.Time
	closed  bool
}

// NewPaper builds a paper venue delivering reports to the given func.
func NewPaper(report ReportFunc) *Paper {
	return &Paper{
		marks:   make(map[string]fixed.Value),
		resting: make(map[string]*restingOrder),
		report:  report,
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source.
func (p *Paper) WithClock(now func() time.Time) *Paper {
	p.now = now
	return p
}

// SetMark publishes a mark price and triggers any resting orders the
// new price crosses.
func (p *Paper) SetMark(symbol string, price fixed.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
	p.sweepLocked(symbol, price)
}

// Submit acks the order and fills or rests it depending on type.
func (p *Paper) Submit(_ context.Context, order schema.OrderView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return exception.ErrVenueClosed
	}

	ts := p.now().UnixMicro()
	p.emitLocked(schema.ExecutionReport{
		Kind:     schema.ExecutionReportAck,
		Account:  order.Account,
		OrderID:  order.OrderID,
		TsMicros: ts,
	})

	mark, hasMark := p.marks[order.Symbol]
	switch order.Type {
	case schema.OrderTypeMarket:
		if !hasMark {
			p.emitLocked(schema.ExecutionReport{
				Kind:     schema.ExecutionReportReject,
				Account:  order.Account,
				OrderID:  order.OrderID,
				Reason:   exception.ErrVenueNoMarketPrice.Error(),
				TsMicros: ts,
			})
			return nil
		}
		p.fillLocked(order, mark, ts)
		return nil
	default:
		p.resting[order.OrderID] = &restingOrder{view: order}
		if hasMark {
			p.sweepLocked(order.Symbol, mark)
		}
		return nil
	}
}

// Cancel removes a resting order. Already filled orders are gone from
// the book; the caller resolves the race from the fill report.
func (p *Paper) Cancel(_ context.Context, account, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return exception.ErrVenueClosed
	}

	r, ok := p.resting[orderID]
	if !ok {
		return exception.ErrVenueUnknownOrder
	}
	delete(p.resting, orderID)
	p.emitLocked(schema.ExecutionReport{
		Kind:     schema.ExecutionReportCancel,
		Account:  account,
		OrderID:  r.view.OrderID,
		TsMicros: p.now().UnixMicro(),
	})
	return nil
}

// Amend replaces the resting parameters and re-evaluates the order
// against the current mark.
func (p *Paper) Amend(_ context.Context, order schema.OrderView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return exception.ErrVenueClosed
	}

	r, ok := p.resting[order.OrderID]
	if !ok {
		return exception.ErrVenueUnknownOrder
	}
	r.view = order
	if mark, hasMark := p.marks[order.Symbol]; hasMark {
		p.sweepLocked(order.Symbol, mark)
	}
	return nil
}

// Close stops the venue. Resting orders are expired.
func (p *Paper) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	ts := p.now().UnixMicro()
	for id, r := range p.resting {
		delete(p.resting, id)
		p.emitLocked(schema.ExecutionReport{
			Kind:     schema.ExecutionReportExpire,
			Account:  r.view.Account,
			OrderID:  r.view.OrderID,
			TsMicros: ts,
		})
	}
}

// sweepLocked fills every resting order the mark crosses.
func (p *Paper) sweepLocked(symbol string, mark fixed.Value) {
	ts := p.now().UnixMicro()
	for id, r := range p.resting {
		if r.view.Symbol != symbol {
			continue
		}
		price, fills := crossPrice(r.view, mark)
		if !fills {
			continue
		}
		delete(p.resting, id)
		p.fillLocked(r.view, price, ts)
	}
}

func (p *Paper) fillLocked(order schema.OrderView, price fixed.Value, ts int64) {
	remaining, err := fixed.Sub(order.Quantity, order.FilledQuantity)
	if err != nil || !remaining.IsPositive() {
		return
	}
	p.emitLocked(schema.ExecutionReport{
		Kind:     schema.ExecutionReportFill,
		Account:  order.Account,
		OrderID:  order.OrderID,
		TradeID:  uuid.New().String(),
		Quantity: remaining,
		Price:    price,
		TsMicros: ts,
	})
}

func (p *Paper) emitLocked(r schema.ExecutionReport) {
	if p.report == nil {
		return
	}
	p.report(r)
}

// crossPrice decides whether the mark triggers the order and at what
// price it executes.
func crossPrice(order schema.OrderView, mark fixed.Value) (fixed.Value, bool) {
	cmp := func(a, b fixed.Value) int {
		c, err := fixed.Cmp(a, b)
		if err != nil {
			logs.Errorf("paper venue compare %s vs %s, err: %+v", a.String(), b.String(), err)
			return 0
		}
		return c
	}

	switch order.Type {
	case schema.OrderTypeLimit:
		// BUY fills when mark <= limit, SELL when mark >= limit.
		if order.Side == schema.OrderSideBuy && cmp(mark, order.LimitPrice) <= 0 {
			return order.LimitPrice, true
		}
		if order.Side == schema.OrderSideSell && cmp(mark, order.LimitPrice) >= 0 {
			return order.LimitPrice, true
		}
	case schema.OrderTypeStop:
		// BUY stop triggers when mark >= stop, SELL stop when mark <= stop.
		if order.Side == schema.OrderSideBuy && cmp(mark, order.StopPrice) >= 0 {
			return mark, true
		}
		if order.Side == schema.OrderSideSell && cmp(mark, order.StopPrice) <= 0 {
			return mark, true
		}
	case schema.OrderTypeStopLimit:
		triggered := (order.Side == schema.OrderSideBuy && cmp(mark, order.StopPrice) >= 0) ||
			(order.Side == schema.OrderSideSell && cmp(mark, order.StopPrice) <= 0)
		if !triggered {
			return fixed.Zero(), false
		}
		if order.Side == schema.OrderSideBuy && cmp(mark, order.LimitPrice) <= 0 {
			return order.LimitPrice, true
		}
		if order.Side == schema.OrderSideSell && cmp(mark, order.LimitPrice) >= 0 {
			return order.LimitPrice, true
		}
	}
	return fixed.Zero(), false
}
