// Package og tracks per-order lifecycle state. Transitions are driven by
// validation results on the synchronous path and execution reports on the
// asynchronous path; terminal orders are retained for query and accept no
// further transitions.
package og

import (
	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/fixed"
)

// Order holds the adapter's view of an order. It is mutated only through
// the state machine.
type Order struct {
	ID              string
	ClientRequestID string
	Account         string
	Symbol          string
	Side            schema.OrderSide
	Type            schema.OrderType
	TimeInForce     schema.TimeInForce
	Status          schema.OrderStatus
	Quantity        fixed.Value
	FilledQuantity  fixed.Value
	LimitPrice      fixed.Value
	StopPrice       fixed.Value
	StopLoss        fixed.Value
	TakeProfit      fixed.Value
	Version         uint64
	CreatedMicros   int64
	UpdatedMicros   int64
}

// View returns the read-only projection of the order.
func (o *Order) View() schema.OrderView {
	return schema.OrderView{
		OrderID:         o.ID,
		ClientRequestID: o.ClientRequestID,
		Account:         o.Account,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Type:            o.Type,
		Status:          o.Status,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		LimitPrice:      o.LimitPrice,
		StopPrice:       o.StopPrice,
		StopLoss:        o.StopLoss,
		TakeProfit:      o.TakeProfit,
		Version:         o.Version,
		CreatedMicros:   o.CreatedMicros,
		UpdatedMicros:   o.UpdatedMicros,
	}
}

// ModifyParams are the mutable order parameters. Zero values leave the
// corresponding parameter unchanged.
type ModifyParams struct {
	Quantity   fixed.Value
	LimitPrice fixed.Value
	StopLoss   fixed.Value
	TakeProfit fixed.Value
}

// StateMachine owns order state for one account.
type StateMachine struct {
	orders map[string]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*Order)}
}

// Order returns the current order state.
func (m *StateMachine) Order(id string) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Orders returns all tracked orders, terminal ones included.
func (m *StateMachine) Orders() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// OpenOrders returns orders in a non-terminal state.
func (m *StateMachine) OpenOrders() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// Create records a new order in PENDING_VALIDATION.
func (m *StateMachine) Create(o Order) (*Order, error) {
	if o.ID == "" {
		return nil, exception.ErrOrderUnknown
	}
	if _, ok := m.orders[o.ID]; ok {
		return nil, exception.ErrOrderDuplicate
	}
	o.Status = schema.OrderStatusPendingValidation
	o.Version = 1
	o.UpdatedMicros = o.CreatedMicros
	stored := o
	m.orders[o.ID] = &stored
	return &stored, nil
}

// Accept moves PENDING_VALIDATION to ACCEPTED.
func (m *StateMachine) Accept(id string, tsMicros int64) (*Order, error) {
	return m.transition(id, tsMicros, schema.OrderStatusAccepted,
		schema.OrderStatusPendingValidation)
}

// MarkWorking moves ACCEPTED to WORKING once the venue confirms.
func (m *StateMachine) MarkWorking(id string, tsMicros int64) (*Order, error) {
	return m.transition(id, tsMicros, schema.OrderStatusWorking,
		schema.OrderStatusAccepted, schema.OrderStatusPartiallyFilled)
}

// Reject terminates the order from any non-terminal state.
func (m *StateMachine) Reject(id string, tsMicros int64) (*Order, error) {
	return m.terminate(id, tsMicros, schema.OrderStatusRejected)
}

// Cancel terminates the order from any non-terminal state. A cancel that
// loses the race against a fill fails with ErrOrderAlreadyTerminal; it
// never rolls the fill back.
func (m *StateMachine) Cancel(id string, tsMicros int64) (*Order, error) {
	return m.terminate(id, tsMicros, schema.OrderStatusCanceled)
}

// Expire terminates the order from any non-terminal state.
func (m *StateMachine) Expire(id string, tsMicros int64) (*Order, error) {
	return m.terminate(id, tsMicros, schema.OrderStatusExpired)
}

// ApplyFill accumulates filled quantity monotonically. The order becomes
// FILLED exactly when the filled quantity equals the ordered quantity
// after scale alignment.
func (m *StateMachine) ApplyFill(id string, qty fixed.Value, tsMicros int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, exception.ErrOrderUnknown
	}
	if o.Status.IsTerminal() {
		return o, exception.ErrOrderAlreadyTerminal
	}
	if !qty.IsPositive() {
		return o, exception.ErrOrderInvalidFill
	}

	filled, err := fixed.Add(o.FilledQuantity, qty)
	if err != nil {
		return o, exception.ErrOrderInvalidFill
	}
	cmp, err := fixed.Cmp(filled, o.Quantity)
	if err != nil || cmp > 0 {
		return o, exception.ErrOrderOverfill
	}

	o.FilledQuantity = filled
	if cmp == 0 {
		o.Status = schema.OrderStatusFilled
	} else {
		o.Status = schema.OrderStatusPartiallyFilled
	}
	o.UpdatedMicros = tsMicros
	return o, nil
}

// Modify mutates order parameters without changing state. Legal only
// from ACCEPTED, WORKING or PARTIALLY_FILLED; a non-zero expected
// version must match the current one.
func (m *StateMachine) Modify(id string, expectVersion uint64, params ModifyParams, tsMicros int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, exception.ErrOrderUnknown
	}
	if o.Status.IsTerminal() {
		return o, exception.ErrOrderAlreadyTerminal
	}
	switch o.Status {
	case schema.OrderStatusAccepted, schema.OrderStatusWorking, schema.OrderStatusPartiallyFilled:
	default:
		return o, exception.ErrOrderModifyState
	}
	if expectVersion != 0 && expectVersion != o.Version {
		return o, exception.ErrOrderVersionMismatch
	}

	if !params.Quantity.IsZero() {
		// Shrinking below the already-filled quantity is not a modify,
		// it is a cancel of the remainder.
		cmp, err := fixed.Cmp(params.Quantity, o.FilledQuantity)
		if err != nil || cmp < 0 {
			return o, exception.ErrOrderInvalidFill
		}
		o.Quantity = params.Quantity
	}
	if !params.LimitPrice.IsZero() {
		o.LimitPrice = params.LimitPrice
	}
	if !params.StopLoss.IsZero() {
		o.StopLoss = params.StopLoss
	}
	if !params.TakeProfit.IsZero() {
		o.TakeProfit = params.TakeProfit
	}
	o.Version++
	o.UpdatedMicros = tsMicros
	return o, nil
}

func (m *StateMachine) transition(id string, tsMicros int64, next schema.OrderStatus, from ...schema.OrderStatus) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, exception.ErrOrderUnknown
	}
	if o.Status.IsTerminal() {
		return o, exception.ErrOrderAlreadyTerminal
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = next
			o.UpdatedMicros = tsMicros
			return o, nil
		}
	}
	return o, exception.ErrOrderInvalidTransition
}

func (m *StateMachine) terminate(id string, tsMicros int64, next schema.OrderStatus) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, exception.ErrOrderUnknown
	}
	if o.Status.IsTerminal() {
		return o, exception.ErrOrderAlreadyTerminal
	}
	o.Status = next
	o.UpdatedMicros = tsMicros
	return o, nil
}
