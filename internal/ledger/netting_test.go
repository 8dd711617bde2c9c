package ledger

import (
	"fmt"
	"testing"

	"main/internal/schema"
	"main/pkg/fixed"
)

func trade(id string, side schema.OrderSide, qty, price fixed.Value) Trade {
	return Trade{
		ID:       id,
		OrderID:  "ord-" + id,
		Account:  "acc-1",
		Symbol:   "BTCUSDT",
		Side:     side,
		Quantity: qty,
		Price:    price,
		TsMicros: 1,
	}
}

func TestNettingQuantityInvariant(t *testing.T) {
	// position.quantity == sum of signed trade quantities after every
	// application, for an arbitrary sequence.
	l := newNetting("acc-1")
	seq := []struct {
		side schema.OrderSide
		qty  fixed.Value
	}{
		{schema.OrderSideBuy, fixed.New(5, 0)},
		{schema.OrderSideBuy, fixed.New(250, 2)}, // 2.50
		{schema.OrderSideSell, fixed.New(3, 0)},
		{schema.OrderSideSell, fixed.New(6, 0)}, // crosses zero
		{schema.OrderSideBuy, fixed.New(150, 2)},
	}

	expected := fixed.Zero()
	for i, s := range seq {
		price := fixed.New(10000, 2)
		delta, err := l.ApplyTrade(trade(fmt.Sprintf("t-%d", i), s.side, s.qty, price))
		if err != nil {
			t.Fatalf("ApplyTrade %d err: %v", i, err)
		}
		signed := s.qty
		if s.side == schema.OrderSideSell {
			signed = signed.Neg()
		}
		expected, err = fixed.Add(expected, signed)
		if err != nil {
			t.Fatalf("sum err: %v", err)
		}
		if !fixed.Equal(delta.Position.Quantity, expected) {
			t.Fatalf("after trade %d: position %s, want %s", i, delta.Position.Quantity, expected)
		}
	}
}

func TestNettingOpenPosition(t *testing.T) {
	// BUY 5 @ 100.00 on an empty account.
	l := newNetting("acc-1")
	delta, err := l.ApplyTrade(trade("t-1", schema.OrderSideBuy, fixed.New(5, 0), fixed.New(10000, 2)))
	if err != nil {
		t.Fatalf("ApplyTrade err: %v", err)
	}
	if !fixed.Equal(delta.Position.Quantity, fixed.New(5, 0)) {
		t.Fatalf("quantity = %s, want 5", delta.Position.Quantity)
	}
	if !fixed.Equal(delta.Position.AvgEntryPrice, fixed.New(10000, 2)) {
		t.Fatalf("avg price = %s, want 100.00", delta.Position.AvgEntryPrice)
	}
}

func TestNettingWeightedAverage(t *testing.T) {
	l := newNetting("acc-1")
	l.ApplyTrade(trade("t-1", schema.OrderSideBuy, fixed.New(4, 0), fixed.New(10000, 2))) // 4 @ 100
	delta, err := l.ApplyTrade(trade("t-2", schema.OrderSideBuy, fixed.New(6, 0), fixed.New(11000, 2))) // 6 @ 110
	if err != nil {
		t.Fatalf("ApplyTrade err: %v", err)
	}
	// (4*100 + 6*110) / 10 = 106.00
	if !fixed.Equal(delta.Position.AvgEntryPrice, fixed.New(10600, 2)) {
		t.Fatalf("avg price = %s, want 106.00", delta.Position.AvgEntryPrice)
	}
}

func TestNettingRealizedOnReduce(t *testing.T) {
	l := newNetting("acc-1")
	l.ApplyTrade(trade("t-1", schema.OrderSideBuy, fixed.New(10, 0), fixed.New(10000, 2)))
	delta, err := l.ApplyTrade(trade("t-2", schema.OrderSideSell, fixed.New(4, 0), fixed.New(10500, 2)))
	if err != nil {
		t.Fatalf("ApplyTrade err: %v", err)
	}
	// Closed 4 at +5.00 each.
	if !fixed.Equal(delta.RealizedPnL, fixed.New(20, 0)) {
		t.Fatalf("realized = %s, want 20", delta.RealizedPnL)
	}
	// Average entry unchanged on reduce.
	if !fixed.Equal(delta.Position.AvgEntryPrice, fixed.New(10000, 2)) {
		t.Fatalf("avg price = %s, want 100.00", delta.Position.AvgEntryPrice)
	}
}

func TestNettingCrossZeroReopens(t *testing.T) {
	l := newNetting("acc-1")
	l.ApplyTrade(trade("t-1", schema.OrderSideBuy, fixed.New(3, 0), fixed.New(10000, 2)))
	delta, err := l.ApplyTrade(trade("t-2", schema.OrderSideSell, fixed.New(8, 0), fixed.New(9000, 2)))
	if err != nil {
		t.Fatalf("ApplyTrade err: %v", err)
	}
	// Closed the long 3 at -10.00 each; short 5 reopens at 90.00.
	if !fixed.Equal(delta.RealizedPnL, fixed.New(-30, 0)) {
		t.Fatalf("realized = %s, want -30", delta.RealizedPnL)
	}
	if !fixed.Equal(delta.Position.Quantity, fixed.New(-5, 0)) {
		t.Fatalf("quantity = %s, want -5", delta.Position.Quantity)
	}
	if !fixed.Equal(delta.Position.AvgEntryPrice, fixed.New(9000, 2)) {
		t.Fatalf("avg price = %s, want 90.00", delta.Position.AvgEntryPrice)
	}
}

func TestNettingFullCloseRemovesPosition(t *testing.T) {
	l := newNetting("acc-1")
	l.ApplyTrade(trade("t-1", schema.OrderSideBuy, fixed.New(5, 0), fixed.New(10000, 2)))
	delta, err := l.ApplyTrade(trade("t-2", schema.OrderSideSell, fixed.New(5, 0), fixed.New(10100, 2)))
	if err != nil {
		t.Fatalf("ApplyTrade err: %v", err)
	}
	if !delta.PositionClosed {
		t.Fatalf("expected PositionClosed")
	}
	if _, ok := l.Position("BTCUSDT"); ok {
		t.Fatalf("closed position still visible")
	}
	if !fixed.Equal(l.RealizedPnL(), fixed.New(5, 0)) {
		t.Fatalf("account realized = %s, want 5", l.RealizedPnL())
	}
}

func TestNettingCloseIntent(t *testing.T) {
	l := newNetting("acc-1")
	l.ApplyTrade(trade("t-1", schema.OrderSideSell, fixed.New(7, 0), fixed.New(10000, 2)))

	intent, err := l.CloseIntent("BTCUSDT", nil, fixed.Zero())
	if err != nil {
		t.Fatalf("CloseIntent err: %v", err)
	}
	if intent.Side != schema.OrderSideBuy || !fixed.Equal(intent.Quantity, fixed.New(7, 0)) {
		t.Fatalf("intent = %+v", intent)
	}

	partial, err := l.CloseIntent("BTCUSDT", nil, fixed.New(3, 0))
	if err != nil {
		t.Fatalf("partial CloseIntent err: %v", err)
	}
	if !fixed.Equal(partial.Quantity, fixed.New(3, 0)) {
		t.Fatalf("partial quantity = %s", partial.Quantity)
	}

	// Trade ids are a hedging-mode concept.
	if _, err := l.CloseIntent("BTCUSDT", []string{"t-1"}, fixed.Zero()); err == nil {
		t.Fatalf("netting CloseIntent with trade ids should fail")
	}
}

func TestNettingUnrealized(t *testing.T) {
	l := newNetting("acc-1")
	l.ApplyTrade(trade("t-1", schema.OrderSideBuy, fixed.New(2, 0), fixed.New(10000, 2)))
	l.SetMarkPrice("BTCUSDT", fixed.New(10300, 2))
	if !fixed.Equal(l.UnrealizedPnL(), fixed.New(6, 0)) {
		t.Fatalf("unrealized = %s, want 6", l.UnrealizedPnL())
	}
}
