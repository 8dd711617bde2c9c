package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

// Call identifies a synchronous adapter operation.
type Call uint16

const (
	CallUnknown Call = iota
	CallPlaceOrder
	CallCancelOrder
	CallModifyOrder
	CallValidateOrder
	CallClosePosition
	CallModifyProtection
	CallGetState
)

func (c Call) String() string {
	switch c {
	case CallPlaceOrder:
		return "place_order"
	case CallCancelOrder:
		return "cancel_order"
	case CallModifyOrder:
		return "modify_order"
	case CallValidateOrder:
		return "validate_order"
	case CallClosePosition:
		return "close_position"
	case CallModifyProtection:
		return "modify_protection"
	case CallGetState:
		return "get_state"
	default:
		return "unknown"
	}
}

const (
	maxCall       = int(CallGetState)
	maxRejectCode = int(schema.RejectProtocolViolation)
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	callCounts   [maxCall + 1]uint64
	rejectCounts [maxRejectCode + 1]uint64
	duplicates   uint64
	fills        uint64

	callLatency     LatencyStats
	riskEvalLatency LatencyStats
	venueLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	CallCounts      map[Call]uint64
	RejectCounts    map[schema.RejectCode]uint64
	Duplicates      uint64
	QueueDrops      uint64
	Fills           uint64
	CallLatency     LatencySnapshot
	RiskEvalLatency LatencySnapshot
	VenueLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveCall counts one synchronous call and its latency.
func (m *Metrics) ObserveCall(call Call, d time.Duration) {
	if m == nil {
		return
	}
	idx := int(call)
	if idx >= 0 && idx < len(m.callCounts) {
		atomic.AddUint64(&m.callCounts[idx], 1)
	}
	m.callLatency.Observe(d)
}

// IncReject increments the reject-code counter.
func (m *Metrics) IncReject(code schema.RejectCode) {
	if m == nil {
		return
	}
	idx := int(code)
	if idx >= 0 && idx < len(m.rejectCounts) {
		atomic.AddUint64(&m.rejectCounts[idx], 1)
	}
}

// IncDuplicate records a request served from the correlation cache.
func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicates, 1)
}

// IncFill records one applied execution.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveVenue measures the venue round trip.
func (m *Metrics) ObserveVenue(d time.Duration) {
	if m == nil {
		return
	}
	m.venueLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	callCounts := make(map[Call]uint64)
	for i := range m.callCounts {
		if v := atomic.LoadUint64(&m.callCounts[i]); v > 0 {
			callCounts[Call(i)] = v
		}
	}
	rejectCounts := make(map[schema.RejectCode]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejectCounts[schema.RejectCode(i)] = v
		}
	}
	return Snapshot{
		CallCounts:      callCounts,
		RejectCounts:    rejectCounts,
		Duplicates:      atomic.LoadUint64(&m.duplicates),
		Fills:           atomic.LoadUint64(&m.fills),
		CallLatency:     m.callLatency.Snapshot(),
		RiskEvalLatency: m.riskEvalLatency.Snapshot(),
		VenueLatency:    m.venueLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
