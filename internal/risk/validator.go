// Package risk implements the pre-trade validation pipeline. Validate is
// a pure function over a limits snapshot and a ledger snapshot so every
// decision can be replayed identically for audit.
package risk

import (
	"main/internal/schema"
	"main/pkg/fixed"
)

const (
	microsPerMinute = int64(60) * 1000 * 1000
	microsPerDay    = int64(24) * 60 * 60 * 1000 * 1000

	// Soft-warning threshold in percent of a hard limit.
	utilizationWarnPct = 80
)

// Limits is the risk configuration applied to an account. A zero limit
// disables the corresponding check.
type Limits struct {
	Version              uint16
	KillSwitch           bool
	RestrictedSymbols    []string
	LongOnlySymbols      []string
	MaxPositionPerSymbol fixed.Value
	MaxOrderNotional     fixed.Value
	MaxOrdersPerMinute   int
	MaxOrdersPerDay      int
	DailyLossLimit       fixed.Value
}

// Restricted reports whether the symbol is on the restricted list.
func (l Limits) Restricted(symbol string) bool {
	for _, s := range l.RestrictedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// LongOnly reports whether the symbol is on the long-only list.
func (l Limits) LongOnly(symbol string) bool {
	for _, s := range l.LongOnlySymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Proposal is the order shape the validator evaluates.
type Proposal struct {
	Symbol     string
	Class      schema.AssetClass
	Side       schema.OrderSide
	Type       schema.OrderType
	Quantity   fixed.Value
	LimitPrice fixed.Value
	StopPrice  fixed.Value
}

// Snapshot is the ledger and clock state the checks read. Everything the
// validator needs is carried here; it never touches shared state or the
// wall clock.
type Snapshot struct {
	Position          fixed.Value
	OpenOrderNotional fixed.Value
	RealizedPnL       fixed.Value
	UnrealizedPnL     fixed.Value
	ReferencePrice    fixed.Value
	OrderMicros       []int64
	NowMicros         int64
}

// Validate applies the checks in a fixed order. The first hard failure
// short-circuits with a reject code; soft issues accumulate as warnings
// with Passed=true.
func Validate(p Proposal, limits Limits, snap Snapshot) schema.RiskCheckResult {
	result := schema.RiskCheckResult{
		Passed:               true,
		Warnings:             map[string]string{},
		MaxPositionPerSymbol: limits.MaxPositionPerSymbol,
		MaxOrderNotional:     limits.MaxOrderNotional,
		MaxOrdersPerMinute:   limits.MaxOrdersPerMinute,
		MaxOrdersPerDay:      limits.MaxOrdersPerDay,
		DailyLossLimit:       limits.DailyLossLimit,
	}

	fail := func(code schema.RejectCode) schema.RiskCheckResult {
		result.Passed = false
		result.RejectCode = code
		return result
	}

	if limits.KillSwitch {
		return fail(schema.RejectRiskCheckFailed)
	}

	// 1. Quantity/price sanity.
	if code, ok := checkSanity(p); !ok {
		return fail(code)
	}

	// 2. Restricted / long-only lists.
	if limits.Restricted(p.Symbol) {
		return fail(schema.RejectRestrictedSymbol)
	}
	projected, err := projectPosition(snap.Position, p.Side, p.Quantity)
	if err != nil {
		return fail(schema.RejectInvalidScale)
	}
	if limits.LongOnly(p.Symbol) && projected.Sign() < 0 {
		return fail(schema.RejectLongOnlySymbol)
	}

	// 3. Projected position size vs per-symbol limit.
	if !limits.MaxPositionPerSymbol.IsZero() {
		cmp, err := fixed.Cmp(projected.Abs(), limits.MaxPositionPerSymbol)
		if err != nil || cmp > 0 {
			return fail(schema.RejectRiskCheckFailed)
		}
		warnUtilization(result.Warnings, "position_utilization", projected.Abs(), limits.MaxPositionPerSymbol)
	}

	// 4. Projected open-order notional vs account order-value limit.
	notional, haveNotional := orderNotional(p, snap)
	if !haveNotional {
		result.Warnings["no_reference_price"] = "market order notional not checked: no reference price"
	}
	if haveNotional && !limits.MaxOrderNotional.IsZero() {
		total, err := fixed.Add(snap.OpenOrderNotional, notional)
		if err != nil {
			return fail(schema.RejectRiskCheckFailed)
		}
		cmp, err := fixed.Cmp(total, limits.MaxOrderNotional)
		if err != nil || cmp > 0 {
			return fail(schema.RejectRiskCheckFailed)
		}
		warnUtilization(result.Warnings, "order_value_utilization", total, limits.MaxOrderNotional)
	}

	// 5. Rate limits over sliding windows keyed by account.
	if limits.MaxOrdersPerMinute > 0 &&
		countSince(snap.OrderMicros, snap.NowMicros-microsPerMinute) >= limits.MaxOrdersPerMinute {
		return fail(schema.RejectRateLimitExceeded)
	}
	if limits.MaxOrdersPerDay > 0 &&
		countSince(snap.OrderMicros, snap.NowMicros-microsPerDay) >= limits.MaxOrdersPerDay {
		return fail(schema.RejectRateLimitExceeded)
	}

	// 6. Daily-loss limit vs realized+unrealized P&L.
	if !limits.DailyLossLimit.IsZero() {
		pnl, err := fixed.Add(snap.RealizedPnL, snap.UnrealizedPnL)
		if err != nil {
			return fail(schema.RejectDailyLossLimit)
		}
		cmp, err := fixed.Cmp(pnl, limits.DailyLossLimit.Abs().Neg())
		if err != nil || cmp <= 0 {
			return fail(schema.RejectDailyLossLimit)
		}
	}

	return result
}

func checkSanity(p Proposal) (schema.RejectCode, bool) {
	// An unset side or type enum is never a valid order; it is rejected
	// here so nothing downstream has to interpret it.
	switch p.Side {
	case schema.OrderSideBuy, schema.OrderSideSell:
	default:
		return schema.RejectProtocolViolation, false
	}
	switch p.Type {
	case schema.OrderTypeMarket, schema.OrderTypeLimit, schema.OrderTypeStop, schema.OrderTypeStopLimit:
	default:
		return schema.RejectProtocolViolation, false
	}
	if p.Class == schema.AssetClassUnknown {
		return schema.RejectUnknownSymbol, false
	}
	if !p.Quantity.IsPositive() {
		return schema.RejectInvalidQuantity, false
	}
	maxScale := p.Class.MaxScale()
	if p.Quantity.Normalize().Scale > maxScale {
		return schema.RejectInvalidScale, false
	}
	switch p.Type {
	case schema.OrderTypeLimit, schema.OrderTypeStopLimit:
		if !p.LimitPrice.IsPositive() {
			return schema.RejectInvalidPrice, false
		}
	}
	switch p.Type {
	case schema.OrderTypeStop, schema.OrderTypeStopLimit:
		if !p.StopPrice.IsPositive() {
			return schema.RejectInvalidPrice, false
		}
	}
	for _, price := range []fixed.Value{p.LimitPrice, p.StopPrice} {
		if price.Sign() < 0 {
			return schema.RejectInvalidPrice, false
		}
		if price.Normalize().Scale > maxScale {
			return schema.RejectInvalidScale, false
		}
	}
	return schema.RejectUnspecified, true
}

func projectPosition(current fixed.Value, side schema.OrderSide, qty fixed.Value) (fixed.Value, error) {
	switch side {
	case schema.OrderSideBuy:
		return fixed.Add(current, qty)
	case schema.OrderSideSell:
		return fixed.Sub(current, qty)
	default:
		return current, nil
	}
}

// orderNotional estimates price*qty; market orders fall back to the
// reference price from the snapshot.
func orderNotional(p Proposal, snap Snapshot) (fixed.Value, bool) {
	price := p.LimitPrice
	if p.Type == schema.OrderTypeMarket || price.IsZero() {
		price = snap.ReferencePrice
	}
	if price.IsZero() {
		return fixed.Zero(), false
	}
	notional, err := fixed.Mul(price.Normalize(), p.Quantity.Normalize())
	if err != nil {
		// Treat an unrepresentable notional as unbounded; check 4 fails it.
		return fixed.New(int64(^uint64(0)>>1), 0), true
	}
	return notional, true
}

func countSince(micros []int64, cutoff int64) int {
	n := 0
	for _, ts := range micros {
		if ts > cutoff {
			n++
		}
	}
	return n
}

func warnUtilization(warnings map[string]string, key string, used, limit fixed.Value) {
	if limit.IsZero() {
		return
	}
	hundred, err := fixed.Mul(used.Abs(), fixed.New(100, 0))
	if err != nil {
		return
	}
	pct, err := fixed.Div(hundred, limit.Abs(), 0)
	if err != nil {
		return
	}
	if pct.Unscaled >= utilizationWarnPct {
		warnings[key] = pct.String() + "% of limit"
	}
}
