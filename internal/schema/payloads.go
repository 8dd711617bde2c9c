package schema

import (
	"main/pkg/fixed"
)

// PlaceOrderRequest is the synchronous order submission payload.
// ClientRequestID is the caller-assigned idempotency key.
type PlaceOrderRequest struct {
	ClientRequestID string
	Account         string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	TimeInForce     TimeInForce
	Quantity        fixed.Value
	LimitPrice      fixed.Value
	StopPrice       fixed.Value
	StopLoss        fixed.Value
	TakeProfit      fixed.Value
}

// PlaceOrderResponse reports the definitive synchronous outcome.
type PlaceOrderResponse struct {
	Accepted   bool
	OrderID    string
	RejectCode RejectCode
	RiskCheck  RiskCheckResult
}

// CancelOrderRequest asks for a best-effort cancel of a working order.
type CancelOrderRequest struct {
	Account string
	OrderID string
}

// CancelOrderResponse carries the final status after the cancel attempt.
type CancelOrderResponse struct {
	Confirmed   bool
	FinalStatus OrderStatus
	RejectCode  RejectCode
}

// ModifyOrderRequest mutates order parameters while non-terminal.
// Zero values leave the corresponding parameter unchanged.
type ModifyOrderRequest struct {
	Account    string
	OrderID    string
	Version    uint64
	Quantity   fixed.Value
	LimitPrice fixed.Value
	StopLoss   fixed.Value
	TakeProfit fixed.Value
}

// ModifyOrderResponse reports the modify outcome.
type ModifyOrderResponse struct {
	Accepted   bool
	RejectCode RejectCode
}

// ValidateOrderRequest runs the risk pipeline without placing an order.
type ValidateOrderRequest struct {
	Account    string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   fixed.Value
	LimitPrice fixed.Value
	StopPrice  fixed.Value
}

// ValidateOrderResponse carries only the risk check, never an order id.
type ValidateOrderResponse struct {
	RiskCheck RiskCheckResult
}

// ClosePositionRequest flattens a position, fully or partially.
// TradeIDs selects individual trades in hedging mode; empty means FIFO.
type ClosePositionRequest struct {
	ClientRequestID string
	Account         string
	Symbol          string
	TradeIDs        []string
	Quantity        fixed.Value
}

// ClosePositionResponse lists the closing order(s) that were generated.
type ClosePositionResponse struct {
	Accepted   bool
	OrderIDs   []string
	RejectCode RejectCode
}

// ModifyTradeProtectionRequest rewrites protective levels on a position
// or an individual hedging-mode trade. It never executes a trade.
type ModifyTradeProtectionRequest struct {
	Account    string
	Symbol     string
	TradeID    string
	StopLoss   fixed.Value
	TakeProfit fixed.Value
}

// ModifyTradeProtectionResponse reports the protection update outcome.
type ModifyTradeProtectionResponse struct {
	Accepted   bool
	RejectCode RejectCode
}

// GetStateRequest selects which projections to include in the snapshot.
type GetStateRequest struct {
	Account          string
	IncludePositions bool
	IncludeOrders    bool
	IncludeTrades    bool
	IncludeAccount   bool
}

// StateSnapshot is the read-only projection returned by GetState.
type StateSnapshot struct {
	Account   string
	TsMicros  int64
	Positions []PositionView
	Orders    []OrderView
	Trades    []TradeView
	Summary   *AccountView
}

// RiskCheckResult is advisory data echoing the applied limits. It is
// never persisted as its own entity.
type RiskCheckResult struct {
	Passed     bool
	RejectCode RejectCode
	Warnings   map[string]string

	// Echo of the limits that were applied, for audit replay.
	MaxPositionPerSymbol fixed.Value
	MaxOrderNotional     fixed.Value
	MaxOrdersPerMinute   int
	MaxOrdersPerDay      int
	DailyLossLimit       fixed.Value
}

// OrderView is the read-only order projection.
type OrderView struct {
	OrderID         string
	ClientRequestID string
	Account         string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Status          OrderStatus
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

// TradeView is an immutable execution record projection.
type TradeView struct {
	TradeID    string
	OrderID    string
	Account    string
	Symbol     string
	Side       OrderSide
	Quantity   fixed.Value
	Price      fixed.Value
	TsMicros   int64
	StopLoss   fixed.Value
	TakeProfit fixed.Value
	Closed     bool
}

// PositionView is the aggregate position projection. Quantity is signed:
// positive long, negative short.
type PositionView struct {
	Account       string
	Symbol        string
	Quantity      fixed.Value
	AvgEntryPrice fixed.Value
	RealizedPnL   fixed.Value
	UnrealizedPnL fixed.Value
}

// AccountView summarizes account-level state.
type AccountView struct {
	Account       string
	Mode          AccountMode
	RealizedPnL   fixed.Value
	UnrealizedPnL fixed.Value
	OpenOrders    int
	OpenPositions int
}

// ExecutionReportKind tags asynchronous reports from the venue side.
type ExecutionReportKind uint16

const (
	ExecutionReportUnknown ExecutionReportKind = iota
	ExecutionReportAck
	ExecutionReportFill
	ExecutionReportCancel
	ExecutionReportExpire
	ExecutionReportReject
)

// ExecutionReport is what the broker/venue side feeds back into the
// adapter to advance order state and the ledger.
type ExecutionReport struct {
	Kind     ExecutionReportKind
	Account  string
	OrderID  string
	TradeID  string
	Quantity fixed.Value
	Price    fixed.Value
	Reason   string
	TsMicros int64
}
