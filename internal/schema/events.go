package schema

import "main/pkg/exception"

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of a push event.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventOrderUpdate
	EventTradeUpdate
	EventPositionUpdate
	EventAccountUpdate
	EventMarketData
	EventSystemNotice
)

// EventHeader is the common metadata attached to every event.
// EventID is globally unique so strategies can deduplicate; Seq is the
// per-entity sequence number.
type EventHeader struct {
	EventID  string    `json:"eventId"`
	Type     EventType `json:"type"`
	Version  uint16    `json:"version"`
	Seq      uint64    `json:"seq"`
	TsMicros int64     `json:"tsMicros"`
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, eventID string, seq uint64, tsMicros int64) EventHeader {
	return EventHeader{
		EventID:  eventID,
		Type:     eventType,
		Version:  SchemaVersion,
		Seq:      seq,
		TsMicros: tsMicros,
	}
}

// OrderUpdate notifies an order state or parameter change.
type OrderUpdate struct {
	Order OrderView `json:"order"`
}

// TradeUpdate notifies a hedging-mode trade mutation.
type TradeUpdate struct {
	Trade TradeView `json:"trade"`
}

// PositionUpdate notifies a ledger mutation.
type PositionUpdate struct {
	Position PositionView `json:"position"`
}

// AccountUpdate notifies account-level changes.
type AccountUpdate struct {
	Account AccountView `json:"account"`
}

// MarketDataUpdate is carried for feed completeness; the adapter itself
// never produces it.
type MarketDataUpdate struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	TsMicros int64  `json:"tsMicros"`
}

// SystemNotice carries out-of-band adapter notifications.
type SystemNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a tagged union: exactly one payload pointer is non-nil and it
// must match the header type. An unset union is a protocol violation,
// never a valid event.
type Event struct {
	Header   EventHeader       `json:"header"`
	Order    *OrderUpdate      `json:"order,omitempty"`
	Trade    *TradeUpdate      `json:"trade,omitempty"`
	Position *PositionUpdate   `json:"position,omitempty"`
	Account  *AccountUpdate    `json:"account,omitempty"`
	Market   *MarketDataUpdate `json:"market,omitempty"`
	System   *SystemNotice     `json:"system,omitempty"`
}

// Validate checks the oneof invariant.
func (e Event) Validate() error {
	set := 0
	var tagged EventType
	if e.Order != nil {
		set++
		tagged = EventOrderUpdate
	}
	if e.Trade != nil {
		set++
		tagged = EventTradeUpdate
	}
	if e.Position != nil {
		set++
		tagged = EventPositionUpdate
	}
	if e.Account != nil {
		set++
		tagged = EventAccountUpdate
	}
	if e.Market != nil {
		set++
		tagged = EventMarketData
	}
	if e.System != nil {
		set++
		tagged = EventSystemNotice
	}
	if set != 1 || tagged != e.Header.Type {
		return exception.ErrEventMalformedUnion
	}
	if e.Header.EventID == "" {
		return exception.ErrEventMissingID
	}
	return nil
}

// EntityKey returns the per-entity ordering key for the event.
func (e Event) EntityKey() string {
	switch {
	case e.Order != nil:
		return "order/" + e.Order.Order.OrderID
	case e.Trade != nil:
		return "trade/" + e.Trade.Trade.TradeID
	case e.Position != nil:
		return "position/" + e.Position.Position.Account + "/" + e.Position.Position.Symbol
	case e.Account != nil:
		return "account/" + e.Account.Account.Account
	case e.Market != nil:
		return "market/" + e.Market.Symbol
	case e.System != nil:
		return "system"
	default:
		return ""
	}
}
