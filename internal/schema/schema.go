package schema

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPendingValidation
	OrderStatusAccepted
	OrderStatusWorking
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPendingValidation:
		return "PENDING_VALIDATION"
	case OrderStatusAccepted:
		return "ACCEPTED"
	case OrderStatusWorking:
		return "WORKING"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// AccountMode selects the position accounting rule for an account.
type AccountMode uint16

const (
	AccountModeUnknown AccountMode = iota
	AccountModeNetting
	AccountModeHedging
)

func (m AccountMode) String() string {
	switch m {
	case AccountModeNetting:
		return "NETTING"
	case AccountModeHedging:
		return "HEDGING"
	default:
		return "UNKNOWN"
	}
}

// AssetClass groups instruments by their maximum decimal scale.
type AssetClass uint16

const (
	AssetClassUnknown AssetClass = iota
	AssetClassForex
	AssetClassCrypto
	AssetClassEquity
	AssetClassCommodity
)

// MaxScale returns the largest decimal scale a price or quantity of this
// asset class may carry.
func (c AssetClass) MaxScale() int32 {
	switch c {
	case AssetClassForex:
		return 6
	case AssetClassCrypto:
		return 12
	case AssetClassEquity:
		return 4
	case AssetClassCommodity:
		return 6
	default:
		return 0
	}
}

// RejectCode is the closed enumeration of synchronous reject reasons.
// Zero is reserved.
type RejectCode uint16

const (
	RejectUnspecified RejectCode = iota
	RejectInvalidQuantity
	RejectInvalidPrice
	RejectInvalidScale
	RejectUnknownSymbol
	RejectRestrictedSymbol
	RejectLongOnlySymbol
	RejectRiskCheckFailed
	RejectRateLimitExceeded
	RejectDailyLossLimit
	RejectOrderAlreadyTerminal
	RejectUnknownOrder
	RejectDuplicateRequestConflict
	RejectUnsupportedModify
	RejectVersionMismatch
	RejectUnknownPosition
	RejectUnknownTrade
	RejectProtocolViolation
)

func (c RejectCode) String() string {
	switch c {
	case RejectInvalidQuantity:
		return "INVALID_QUANTITY"
	case RejectInvalidPrice:
		return "INVALID_PRICE"
	case RejectInvalidScale:
		return "INVALID_SCALE"
	case RejectUnknownSymbol:
		return "UNKNOWN_SYMBOL"
	case RejectRestrictedSymbol:
		return "RESTRICTED_SYMBOL"
	case RejectLongOnlySymbol:
		return "LONG_ONLY_SYMBOL"
	case RejectRiskCheckFailed:
		return "RISK_CHECK_FAILED"
	case RejectRateLimitExceeded:
		return "RATE_LIMIT_EXCEEDED"
	case RejectDailyLossLimit:
		return "DAILY_LOSS_LIMIT"
	case RejectOrderAlreadyTerminal:
		return "ORDER_ALREADY_TERMINAL"
	case RejectUnknownOrder:
		return "UNKNOWN_ORDER"
	case RejectDuplicateRequestConflict:
		return "DUPLICATE_REQUEST_CONFLICT"
	case RejectUnsupportedModify:
		return "UNSUPPORTED_MODIFY"
	case RejectVersionMismatch:
		return "VERSION_MISMATCH"
	case RejectUnknownPosition:
		return "UNKNOWN_POSITION"
	case RejectUnknownTrade:
		return "UNKNOWN_TRADE"
	case RejectProtocolViolation:
		return "PROTOCOL_VIOLATION"
	default:
		return "UNSPECIFIED"
	}
}
