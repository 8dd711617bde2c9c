package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/dispatch"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/venue"
	"main/pkg/exception"
	"main/pkg/fixed"
)

func testLimits() risk.Limits {
	return risk.Limits{
		Version:              1,
		MaxPositionPerSymbol: fixed.MustParse("100"),
		MaxOrderNotional:     fixed.MustParse("10000"),
		MaxOrdersPerMinute:   100,
		MaxOrdersPerDay:      1000,
	}
}

type harness struct {
	adapter *Adapter
	paper   *venue.Paper
	queue   *dispatch.Queue
}

// setMark publishes a valuation price to the ledgers first, then to
// the venue so triggered fills see the fresh reference.
func (h *harness) setMark(symbol string, price fixed.Value) {
	h.adapter.SetMark(symbol, price)
	h.paper.SetMark(symbol, price)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reg := schema.NewRegistry()
	vid, err := reg.AddVenue("SIM")
	require.NoError(t, err)
	_, err = reg.AddSymbol("EURUSD", vid, schema.AssetClassForex)
	require.NoError(t, err)
	_, err = reg.AddSymbol("GBPUSD", vid, schema.AssetClassForex)
	require.NoError(t, err)

	queue := dispatch.NewQueue(1024)

	var ad *Adapter
	paper := venue.NewPaper(func(r schema.ExecutionReport) {
		ad.OnExecutionReport(r)
	})

	ad, err = New(Config{
		Registry: reg,
		Accounts: []AccountConfig{
			{Name: "net", Mode: schema.AccountModeNetting, Limits: testLimits()},
			{Name: "hedge", Mode: schema.AccountModeHedging, Limits: testLimits()},
		},
	},
		WithVenue(paper),
		WithDispatcher(dispatch.NewDispatcher(queue)),
	)
	require.NoError(t, err)

	return &harness{adapter: ad, paper: paper, queue: queue}
}

func TestPlaceOrderMarketFillUpdatesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("5"),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.NotEmpty(t, resp.OrderID)
	require.True(t, resp.RiskCheck.Passed)

	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{
		Account:          "net",
		IncludePositions: true,
		IncludeOrders:    true,
		IncludeTrades:    true,
	})
	require.NoError(t, err)

	require.Len(t, snap.Orders, 1)
	assert.Equal(t, schema.OrderStatusFilled, snap.Orders[0].Status)
	require.Len(t, snap.Positions, 1)
	assert.True(t, fixed.Equal(snap.Positions[0].Quantity, fixed.MustParse("5")))
	assert.True(t, fixed.Equal(snap.Positions[0].AvgEntryPrice, fixed.MustParse("100.00")))
	require.Len(t, snap.Trades, 1)
}

func TestPlaceOrderRiskRejectIsDefinitive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	req := schema.PlaceOrderRequest{
		ClientRequestID: "req-big",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeLimit,
		Quantity:        fixed.MustParse("1000"),
		LimitPrice:      fixed.MustParse("50"),
	}
	resp, err := h.adapter.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, schema.RejectRiskCheckFailed, resp.RejectCode)
	assert.False(t, resp.RiskCheck.Passed)

	// The rejected order is retained for audit.
	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{Account: "net", IncludeOrders: true})
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, schema.OrderStatusRejected, snap.Orders[0].Status)

	// A retry with the same request id replays the reject verbatim.
	again, err := h.adapter.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, resp, again)
	snap, err = h.adapter.GetState(ctx, schema.GetStateRequest{Account: "net", IncludeOrders: true})
	require.NoError(t, err)
	assert.Len(t, snap.Orders, 1, "retry must not create a second order")
}

func TestPlaceOrderNotionalCountedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	// 6000 notional against a 10000 limit on an empty book. The order
	// under validation must not be counted against itself as already
	// open, which would double it to 12000 and reject.
	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeLimit,
		Quantity:        fixed.MustParse("60"),
		LimitPrice:      fixed.MustParse("100.00"),
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted, "got %s", resp.RejectCode.String())
	assert.True(t, resp.RiskCheck.Passed)
}

func TestPlaceOrderUnsetSideRejectedWithoutState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("5"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, schema.RejectProtocolViolation, resp.RejectCode)
	assert.Empty(t, resp.OrderID)

	// Nothing may have been written: no order, no position, no trade.
	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{
		Account:          "net",
		IncludeOrders:    true,
		IncludePositions: true,
		IncludeTrades:    true,
	})
	require.NoError(t, err)
	assert.Empty(t, snap.Orders)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Trades)
}

func TestPlaceOrderIdempotentRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.1000"))

	req := schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("5"),
	}
	first, err := h.adapter.PlaceOrder(ctx, req)
	require.NoError(t, err)
	second, err := h.adapter.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	// Same id with different parameters is a protocol violation.
	conflicting := req
	conflicting.Quantity = fixed.MustParse("7")
	_, err = h.adapter.PlaceOrder(ctx, conflicting)
	assert.ErrorIs(t, err, exception.ErrRequestDuplicateConflict)
}

func TestPlaceOrderUnknownSymbol(t *testing.T) {
	h := newHarness(t)

	resp, err := h.adapter.PlaceOrder(context.Background(), schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "XAUUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("1"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, schema.RejectUnknownSymbol, resp.RejectCode)
	assert.Empty(t, resp.OrderID)
}

func TestPlaceOrderExpiredContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("1"),
	})
	assert.ErrorIs(t, err, exception.ErrRequestTimeout)
}

func TestCancelRestingOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.2000"))

	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeLimit,
		Quantity:        fixed.MustParse("3"),
		LimitPrice:      fixed.MustParse("1.1000"),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	cancelResp, err := h.adapter.CancelOrder(ctx, schema.CancelOrderRequest{
		Account: "net",
		OrderID: resp.OrderID,
	})
	require.NoError(t, err)
	assert.True(t, cancelResp.Confirmed)
	assert.Equal(t, schema.OrderStatusCanceled, cancelResp.FinalStatus)

	// Cancel of a terminal order is refused with the final state.
	cancelResp, err = h.adapter.CancelOrder(ctx, schema.CancelOrderRequest{
		Account: "net",
		OrderID: resp.OrderID,
	})
	require.NoError(t, err)
	assert.False(t, cancelResp.Confirmed)
	assert.Equal(t, schema.RejectOrderAlreadyTerminal, cancelResp.RejectCode)
}

func TestCancelAfterFillReportsFinalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.1000"))

	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("2"),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	cancelResp, err := h.adapter.CancelOrder(ctx, schema.CancelOrderRequest{
		Account: "net",
		OrderID: resp.OrderID,
	})
	require.NoError(t, err)
	assert.False(t, cancelResp.Confirmed)
	assert.Equal(t, schema.OrderStatusFilled, cancelResp.FinalStatus)
	assert.Equal(t, schema.RejectOrderAlreadyTerminal, cancelResp.RejectCode)
}

func TestCancelFillRaceOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.2000"))

	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeLimit,
		Quantity:        fixed.MustParse("3"),
		LimitPrice:      fixed.MustParse("1.1000"),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	var cancelResp schema.CancelOrderResponse
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.setMark("EURUSD", fixed.MustParse("1.0900"))
	}()
	go func() {
		defer wg.Done()
		cancelResp, err = h.adapter.CancelOrder(ctx, schema.CancelOrderRequest{
			Account: "net",
			OrderID: resp.OrderID,
		})
	}()
	wg.Wait()
	require.NoError(t, err)

	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{
		Account:          "net",
		IncludeOrders:    true,
		IncludePositions: true,
	})
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	final := snap.Orders[0].Status

	require.True(t, final.IsTerminal())
	if cancelResp.Confirmed {
		assert.Equal(t, schema.OrderStatusCanceled, final)
		assert.Empty(t, snap.Positions, "a confirmed cancel leaves no position")
	} else {
		assert.Equal(t, schema.OrderStatusFilled, final)
		assert.Equal(t, schema.RejectOrderAlreadyTerminal, cancelResp.RejectCode)
		require.Len(t, snap.Positions, 1, "the fill that won must be booked")
	}
}

func TestModifyOrderVersioning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.2000"))

	resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeLimit,
		Quantity:        fixed.MustParse("3"),
		LimitPrice:      fixed.MustParse("1.1000"),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	modResp, err := h.adapter.ModifyOrder(ctx, schema.ModifyOrderRequest{
		Account:    "net",
		OrderID:    resp.OrderID,
		Version:    1,
		LimitPrice: fixed.MustParse("1.1200"),
	})
	require.NoError(t, err)
	assert.True(t, modResp.Accepted)

	// The first modify bumped the version; a stale retry loses.
	modResp, err = h.adapter.ModifyOrder(ctx, schema.ModifyOrderRequest{
		Account:    "net",
		OrderID:    resp.OrderID,
		Version:    1,
		LimitPrice: fixed.MustParse("1.1300"),
	})
	require.NoError(t, err)
	assert.False(t, modResp.Accepted)
	assert.Equal(t, schema.RejectVersionMismatch, modResp.RejectCode)

	modResp, err = h.adapter.ModifyOrder(ctx, schema.ModifyOrderRequest{
		Account: "net",
		OrderID: "no-such-order",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RejectUnknownOrder, modResp.RejectCode)
}

func TestValidateOrderHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	resp, err := h.adapter.ValidateOrder(ctx, schema.ValidateOrderRequest{
		Account:  "net",
		Symbol:   "EURUSD",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: fixed.MustParse("5"),
	})
	require.NoError(t, err)
	assert.True(t, resp.RiskCheck.Passed)

	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{Account: "net", IncludeOrders: true})
	require.NoError(t, err)
	assert.Empty(t, snap.Orders)
}

func TestClosePositionNetting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	_, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-open",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("5"),
	})
	require.NoError(t, err)

	h.setMark("EURUSD", fixed.MustParse("104.00"))
	resp, err := h.adapter.ClosePosition(ctx, schema.ClosePositionRequest{
		ClientRequestID: "req-close",
		Account:         "net",
		Symbol:          "EURUSD",
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.Len(t, resp.OrderIDs, 1)

	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{
		Account:          "net",
		IncludePositions: true,
		IncludeAccount:   true,
	})
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	require.NotNil(t, snap.Summary)
	assert.True(t, fixed.Equal(snap.Summary.RealizedPnL, fixed.MustParse("20.00")),
		"closed 5 with 4.00 gain each, got %s", snap.Summary.RealizedPnL.String())

	// Retrying the close must not generate a second closing order.
	again, err := h.adapter.ClosePosition(ctx, schema.ClosePositionRequest{
		ClientRequestID: "req-close",
		Account:         "net",
		Symbol:          "EURUSD",
	})
	require.NoError(t, err)
	assert.Equal(t, resp.OrderIDs, again.OrderIDs)
}

func TestClosePositionUnknownSymbol(t *testing.T) {
	h := newHarness(t)

	resp, err := h.adapter.ClosePosition(context.Background(), schema.ClosePositionRequest{
		ClientRequestID: "req-close",
		Account:         "net",
		Symbol:          "EURUSD",
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, schema.RejectUnknownPosition, resp.RejectCode)
}

func TestClosePositionHedgingByTradeID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	for i, qty := range []string{"4", "6"} {
		_, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
			ClientRequestID: "req-" + string(rune('a'+i)),
			Account:         "hedge",
			Symbol:          "EURUSD",
			Side:            schema.OrderSideBuy,
			Type:            schema.OrderTypeMarket,
			Quantity:        fixed.MustParse(qty),
		})
		require.NoError(t, err)
	}

	snap, err := h.adapter.GetState(ctx, schema.GetStateRequest{Account: "hedge", IncludeTrades: true})
	require.NoError(t, err)
	require.Len(t, snap.Trades, 2)

	var target schema.TradeView
	for _, tr := range snap.Trades {
		if fixed.Equal(tr.Quantity, fixed.MustParse("4")) {
			target = tr
		}
	}
	require.NotEmpty(t, target.TradeID)

	h.setMark("EURUSD", fixed.MustParse("103.00"))
	resp, err := h.adapter.ClosePosition(ctx, schema.ClosePositionRequest{
		ClientRequestID: "req-close",
		Account:         "hedge",
		Symbol:          "EURUSD",
		TradeIDs:        []string{target.TradeID},
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	snap, err = h.adapter.GetState(ctx, schema.GetStateRequest{
		Account:          "hedge",
		IncludePositions: true,
		IncludeAccount:   true,
	})
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.True(t, fixed.Equal(snap.Positions[0].Quantity, fixed.MustParse("6")),
		"only the named trade closes, got %s", snap.Positions[0].Quantity.String())
	require.NotNil(t, snap.Summary)
	assert.True(t, fixed.Equal(snap.Summary.RealizedPnL, fixed.MustParse("12.00")),
		"closed 4 with 3.00 gain each, got %s", snap.Summary.RealizedPnL.String())
}

func TestModifyTradeProtection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("100.00"))

	_, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("5"),
	})
	require.NoError(t, err)

	resp, err := h.adapter.ModifyTradeProtection(ctx, schema.ModifyTradeProtectionRequest{
		Account:  "net",
		Symbol:   "EURUSD",
		StopLoss: fixed.MustParse("95.00"),
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	resp, err = h.adapter.ModifyTradeProtection(ctx, schema.ModifyTradeProtectionRequest{
		Account:  "net",
		Symbol:   "GBPUSD",
		StopLoss: fixed.MustParse("1.00"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, schema.RejectUnknownPosition, resp.RejectCode)
}

func TestRateLimitRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.1000"))

	limits := testLimits()
	limits.MaxOrdersPerMinute = 2
	require.NoError(t, h.adapter.SetLimits("net", limits))

	place := func(id string) schema.PlaceOrderResponse {
		resp, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
			ClientRequestID: id,
			Account:         "net",
			Symbol:          "EURUSD",
			Side:            schema.OrderSideBuy,
			Type:            schema.OrderTypeMarket,
			Quantity:        fixed.MustParse("1"),
		})
		require.NoError(t, err)
		return resp
	}

	assert.True(t, place("req-1").Accepted)
	assert.True(t, place("req-2").Accepted)
	third := place("req-3")
	assert.False(t, third.Accepted)
	assert.Equal(t, schema.RejectRateLimitExceeded, third.RejectCode)
}

func TestMetricsObserveCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMark("EURUSD", fixed.MustParse("1.1000"))

	_, err := h.adapter.PlaceOrder(ctx, schema.PlaceOrderRequest{
		ClientRequestID: "req-1",
		Account:         "net",
		Symbol:          "EURUSD",
		Side:            schema.OrderSideBuy,
		Type:            schema.OrderTypeMarket,
		Quantity:        fixed.MustParse("1"),
	})
	require.NoError(t, err)

	// No metrics container attached: snapshot stays empty but nothing
	// panics along the way.
	snap := h.adapter.Metrics()
	assert.Zero(t, snap.Fills)
}
