package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Dispatcher fans adapter events out to the queue. Every event gets a
// globally unique id and a per-entity sequence number; delivery is
// at-least-once, so consumers deduplicate on the id. Publishing never
// blocks: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	queue *Queue
	now   func() time.Time

	mu   sync.Mutex
	seqs map[string]uint64

	published uint64
	dropped   uint64
}

// NewDispatcher wires a dispatcher over the given queue.
func NewDispatcher(queue *Queue) *Dispatcher {
	return &Dispatcher{
		queue: queue,
		now:   time.Now,
		seqs:  make(map[string]uint64),
	}
}

// WithClock overrides the timestamp source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// PublishOrder emits an order update.
func (d *Dispatcher) PublishOrder(view schema.OrderView) {
	d.publish(schema.EventOrderUpdate, schema.Event{
		Order: &schema.OrderUpdate{Order: view},
	})
}

// PublishTrade emits a trade update.
func (d *Dispatcher) PublishTrade(view schema.TradeView) {
	d.publish(schema.EventTradeUpdate, schema.Event{
		Trade: &schema.TradeUpdate{Trade: view},
	})
}

// PublishPosition emits a position update.
func (d *Dispatcher) PublishPosition(view schema.PositionView) {
	d.publish(schema.EventPositionUpdate, schema.Event{
		Position: &schema.PositionUpdate{Position: view},
	})
}

// PublishAccount emits an account update.
func (d *Dispatcher) PublishAccount(view schema.AccountView) {
	d.publish(schema.EventAccountUpdate, schema.Event{
		Account: &schema.AccountUpdate{Account: view},
	})
}

// PublishSystem emits an out-of-band notice.
func (d *Dispatcher) PublishSystem(code, message string) {
	d.publish(schema.EventSystemNotice, schema.Event{
		System: &schema.SystemNotice{Code: code, Message: message},
	})
}

func (d *Dispatcher) publish(eventType schema.EventType, e schema.Event) {
	if d == nil {
		return
	}
	e.Header = schema.EventHeader{
		EventID:  uuid.New().String(),
		Type:     eventType,
		Version:  schema.SchemaVersion,
		TsMicros: d.now().UnixMicro(),
	}
	e.Header.Seq = d.nextSeq(e.EntityKey())

	if err := e.Validate(); err != nil {
		logs.Errorf("dispatch malformed event %s, err: %+v", e.Header.EventID, err)
		return
	}

	if err := d.queue.TryPublish(e); err != nil {
		atomic.AddUint64(&d.dropped, 1)
		logs.Errorf("drop event %s seq %d for %s, err: %+v",
			e.Header.EventID, e.Header.Seq, e.EntityKey(), err)
		return
	}
	atomic.AddUint64(&d.published, 1)
}

func (d *Dispatcher) nextSeq(key string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs[key]++
	return d.seqs[key]
}

// Published reports the number of events accepted by the queue.
func (d *Dispatcher) Published() uint64 {
	if d == nil {
		return 0
	}
	return atomic.LoadUint64(&d.published)
}

// Dropped reports the number of events rejected by a full or closed
// queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return atomic.LoadUint64(&d.dropped)
}
