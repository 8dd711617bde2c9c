// Package adapter exposes the synchronous order-management surface.
// Every call resolves to a definitive outcome before returning; the
// only asynchronous artifacts are push events and venue execution
// reports. All state for one account is serialized behind a single
// mutex so risk reads and state writes are one atomic step.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/correlate"
	"main/internal/dispatch"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/venue"
	"main/pkg/exception"
	"main/pkg/fixed"
)

const defaultRetention = 24 * time.Hour

// AccountConfig declares one trading account.
type AccountConfig struct {
	Name   string
	Mode   schema.AccountMode
	Limits risk.Limits
}

// Config wires the adapter.
type Config struct {
	Registry  *schema.Registry
	Accounts  []AccountConfig
	Retention time.Duration
}

// Option configures optional collaborators.
type Option func(*Adapter)

// WithVenue routes accepted orders to a venue.
func WithVenue(v venue.Venue) Option {
	return func(a *Adapter) { a.venue = v }
}

// WithDispatcher attaches the push-event dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(a *Adapter) { a.dispatcher = d }
}

// WithJournal attaches the durable order/trade journal.
func WithJournal(j *journal.Journal) Option {
	return func(a *Adapter) { a.journal = j }
}

// WithMetrics attaches the metrics container.
func WithMetrics(m *obs.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithStore backs request correlation with a durable store.
func WithStore(s *correlate.Store) Option {
	return func(a *Adapter) { a.store = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// accountState is everything owned by one account. mu serializes the
// risk read, the state-machine write and the ledger write of a call.
type accountState struct {
	mu          sync.Mutex
	name        string
	machine     *og.StateMachine
	ledger      ledger.Ledger
	limits      risk.Limits
	orderMicros []int64
	closing     map[string]ledger.CloseIntent
	marks       map[string]fixed.Value
}

// Adapter is the provider-neutral order-management facade.
type Adapter struct {
	registry   *schema.Registry
	correlator *correlate.Correlator
	dispatcher *dispatch.Dispatcher
	journal    *journal.Journal
	metrics    *obs.Metrics
	venue      venue.Venue
	store      *correlate.Store
	orderIDs   *obs.IDGenerator
	now        func() time.Time

	mu       sync.RWMutex
	accounts map[string]*accountState
}

// New builds an adapter over the configured accounts.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Registry == nil {
		return nil, errors.New("adapter: registry is required")
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	a := &Adapter{
		registry: cfg.Registry,
		orderIDs: obs.NewIDGenerator("ord-", 0),
		now:      time.Now,
		accounts: make(map[string]*accountState),
	}
	for _, opt := range opts {
		opt(a)
	}

	correlatorOpts := []correlate.Option{correlate.WithClock(func() time.Time { return a.now() })}
	if a.store != nil {
		correlatorOpts = append(correlatorOpts, correlate.WithStore(a.store))
	}
	a.correlator = correlate.New(retention, correlatorOpts...)

	for _, acct := range cfg.Accounts {
		if err := a.AddAccount(acct); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddAccount registers a trading account.
func (a *Adapter) AddAccount(cfg AccountConfig) error {
	if cfg.Name == "" {
		return errors.New("adapter: account name is empty")
	}
	led, err := ledger.New(cfg.Name, cfg.Mode)
	if err != nil {
		return errors.Wrapf(err, "account %s", cfg.Name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.accounts[cfg.Name]; ok {
		return errors.Errorf("adapter: account already exists: %s", cfg.Name)
	}
	a.accounts[cfg.Name] = &accountState{
		name:    cfg.Name,
		machine: og.NewStateMachine(),
		ledger:  led,
		limits:  cfg.Limits,
		closing: make(map[string]ledger.CloseIntent),
		marks:   make(map[string]fixed.Value),
	}
	return nil
}

// SetLimits replaces the risk limits for an account. Calls already in
// flight finish against the limits they snapshotted.
func (a *Adapter) SetLimits(account string, limits risk.Limits) error {
	acct, err := a.account(account)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	acct.limits = limits
	acct.mu.Unlock()
	logs.Infof("risk limits v%d applied to account %s", limits.Version, account)
	return nil
}

// SetMark publishes a valuation price to every account ledger.
func (a *Adapter) SetMark(symbol string, price fixed.Value) {
	a.mu.RLock()
	accounts := make([]*accountState, 0, len(a.accounts))
	for _, acct := range a.accounts {
		accounts = append(accounts, acct)
	}
	a.mu.RUnlock()

	for _, acct := range accounts {
		acct.mu.Lock()
		acct.marks[symbol] = price
		acct.ledger.SetMarkPrice(symbol, price)
		acct.mu.Unlock()
	}
}

func (a *Adapter) account(name string) (*accountState, error) {
	a.mu.RLock()
	acct, ok := a.accounts[name]
	a.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("adapter: unknown account: %s", name)
	}
	return acct, nil
}

// callErr maps context failures to the retry-safe sentinels the caller
// acts on.
func callErr(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return exception.ErrRequestTimeout
	case context.Canceled:
		return exception.ErrRequestShuttingDown
	default:
		return nil
	}
}

// fingerprint canonicalizes a request for duplicate detection. The
// request id itself is excluded so a retry with identical parameters
// matches.
func fingerprint(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// PlaceOrder validates, books and routes a new order. The response is
// definitive: accepted with an order id, or rejected with a code.
// Retries with the same ClientRequestID return the original response.
func (a *Adapter) PlaceOrder(ctx context.Context, req schema.PlaceOrderRequest) (schema.PlaceOrderResponse, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallPlaceOrder, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.PlaceOrderResponse{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.PlaceOrderResponse{}, err
	}

	fp := req
	fp.ClientRequestID = ""
	payload, duplicate, err := a.correlator.Submit(ctx, req.ClientRequestID, fingerprint(fp), func() ([]byte, error) {
		resp, err := a.placeOrder(ctx, acct, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		if ctxErr := callErr(ctx); ctxErr != nil {
			return schema.PlaceOrderResponse{}, ctxErr
		}
		return schema.PlaceOrderResponse{}, err
	}
	if duplicate {
		a.metrics.IncDuplicate()
	}

	var resp schema.PlaceOrderResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return schema.PlaceOrderResponse{}, errors.Wrap(err, "decode cached place response")
	}
	return resp, nil
}

func (a *Adapter) placeOrder(ctx context.Context, acct *accountState, req schema.PlaceOrderRequest) (schema.PlaceOrderResponse, error) {
	acct.mu.Lock()

	sym, ok := a.registry.SymbolByName(req.Symbol)
	if !ok {
		acct.mu.Unlock()
		a.metrics.IncReject(schema.RejectUnknownSymbol)
		return schema.PlaceOrderResponse{
			RejectCode: schema.RejectUnknownSymbol,
			RiskCheck:  schema.RiskCheckResult{RejectCode: schema.RejectUnknownSymbol},
		}, nil
	}

	// The snapshot is taken before the order enters the state machine so
	// the open-order notional scan cannot count the order under
	// validation against itself.
	ts := a.now().UnixMicro()
	riskStart := a.now()
	result := risk.Validate(risk.Proposal{
		Symbol:     req.Symbol,
		Class:      sym.Class,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	}, acct.limits, a.riskSnapshotLocked(acct, req.Symbol, ts))
	a.metrics.ObserveRiskEval(a.now().Sub(riskStart))

	// A protocol violation fails the call before any state is written;
	// there is no order to retain for audit.
	if !result.Passed && result.RejectCode == schema.RejectProtocolViolation {
		acct.mu.Unlock()
		a.metrics.IncReject(result.RejectCode)
		return schema.PlaceOrderResponse{
			RejectCode: result.RejectCode,
			RiskCheck:  result,
		}, nil
	}

	order, err := acct.machine.Create(og.Order{
		ID:              a.orderIDs.Next(),
		ClientRequestID: req.ClientRequestID,
		Account:         req.Account,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		TimeInForce:     req.TimeInForce,
		Quantity:        req.Quantity,
		LimitPrice:      req.LimitPrice,
		StopPrice:       req.StopPrice,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		CreatedMicros:   ts,
	})
	if err != nil {
		acct.mu.Unlock()
		return schema.PlaceOrderResponse{}, errors.Wrapf(err, "create order for %s", req.Account)
	}

	if !result.Passed {
		rejected, _ := acct.machine.Reject(order.ID, ts)
		view := rejected.View()
		acct.mu.Unlock()

		a.metrics.IncReject(result.RejectCode)
		a.recordOrder(view, ts)
		a.dispatcher.PublishOrder(view)
		return schema.PlaceOrderResponse{
			OrderID:    order.ID,
			RejectCode: result.RejectCode,
			RiskCheck:  result,
		}, nil
	}

	accepted, err := acct.machine.Accept(order.ID, ts)
	if err != nil {
		acct.mu.Unlock()
		return schema.PlaceOrderResponse{}, errors.Wrapf(err, "accept order %s", order.ID)
	}
	acct.orderMicros = appendWindow(acct.orderMicros, ts)
	view := accepted.View()
	acct.mu.Unlock()

	a.recordOrder(view, ts)
	a.dispatcher.PublishOrder(view)

	if err := a.submitToVenue(ctx, acct, view); err != nil {
		return schema.PlaceOrderResponse{}, err
	}
	return schema.PlaceOrderResponse{
		Accepted:  true,
		OrderID:   order.ID,
		RiskCheck: result,
	}, nil
}

// submitToVenue routes the accepted order. A routing failure rejects
// the order so the caller can safely retry under a new request id.
func (a *Adapter) submitToVenue(ctx context.Context, acct *accountState, view schema.OrderView) error {
	if a.venue == nil {
		return nil
	}
	venueStart := a.now()
	err := a.venue.Submit(ctx, view)
	a.metrics.ObserveVenue(a.now().Sub(venueStart))
	if err == nil {
		return nil
	}

	ts := a.now().UnixMicro()
	acct.mu.Lock()
	rejected, rejectErr := acct.machine.Reject(view.OrderID, ts)
	delete(acct.closing, view.OrderID)
	acct.mu.Unlock()
	if rejectErr == nil {
		a.recordOrder(rejected.View(), ts)
		a.dispatcher.PublishOrder(rejected.View())
	}
	return errors.Wrapf(err, "route order %s", view.OrderID)
}

// CancelOrder requests a best-effort cancel. When a fill already made
// the order terminal the cancel is refused and the final state
// reported; the fill is never rolled back.
func (a *Adapter) CancelOrder(ctx context.Context, req schema.CancelOrderRequest) (schema.CancelOrderResponse, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallCancelOrder, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.CancelOrderResponse{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.CancelOrderResponse{}, err
	}

	acct.mu.Lock()
	order, ok := acct.machine.Order(req.OrderID)
	if !ok {
		acct.mu.Unlock()
		a.metrics.IncReject(schema.RejectUnknownOrder)
		return schema.CancelOrderResponse{RejectCode: schema.RejectUnknownOrder}, nil
	}
	if order.Status.IsTerminal() {
		status := order.Status
		acct.mu.Unlock()
		a.metrics.IncReject(schema.RejectOrderAlreadyTerminal)
		return schema.CancelOrderResponse{
			FinalStatus: status,
			RejectCode:  schema.RejectOrderAlreadyTerminal,
		}, nil
	}
	acct.mu.Unlock()

	if a.venue != nil {
		venueStart := a.now()
		err := a.venue.Cancel(ctx, req.Account, req.OrderID)
		a.metrics.ObserveVenue(a.now().Sub(venueStart))
		switch {
		case err == nil:
			// The venue's cancel report already drove the transition.
		case errors.Is(err, exception.ErrVenueUnknownOrder):
			// Fell off the venue book: either filled in the meantime or
			// never resting. Resolve from local state below.
		default:
			return schema.CancelOrderResponse{}, errors.Wrapf(err, "cancel order %s", req.OrderID)
		}
	}

	ts := a.now().UnixMicro()
	acct.mu.Lock()
	order, _ = acct.machine.Order(req.OrderID)
	if !order.Status.IsTerminal() {
		canceled, cancelErr := acct.machine.Cancel(req.OrderID, ts)
		if cancelErr == nil {
			view := canceled.View()
			delete(acct.closing, req.OrderID)
			acct.mu.Unlock()
			a.recordOrder(view, ts)
			a.dispatcher.PublishOrder(view)
			return schema.CancelOrderResponse{Confirmed: true, FinalStatus: view.Status}, nil
		}
	}
	status := order.Status
	acct.mu.Unlock()

	if status == schema.OrderStatusCanceled || status == schema.OrderStatusExpired {
		return schema.CancelOrderResponse{Confirmed: true, FinalStatus: status}, nil
	}
	a.metrics.IncReject(schema.RejectOrderAlreadyTerminal)
	return schema.CancelOrderResponse{
		FinalStatus: status,
		RejectCode:  schema.RejectOrderAlreadyTerminal,
	}, nil
}

// ModifyOrder mutates mutable order parameters in place, guarded by
// optimistic versioning.
func (a *Adapter) ModifyOrder(ctx context.Context, req schema.ModifyOrderRequest) (schema.ModifyOrderResponse, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallModifyOrder, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.ModifyOrderResponse{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.ModifyOrderResponse{}, err
	}

	ts := a.now().UnixMicro()
	acct.mu.Lock()
	modified, err := acct.machine.Modify(req.OrderID, req.Version, og.ModifyParams{
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}, ts)
	if err != nil {
		acct.mu.Unlock()
		code := modifyRejectCode(err)
		a.metrics.IncReject(code)
		return schema.ModifyOrderResponse{RejectCode: code}, nil
	}
	view := modified.View()
	acct.mu.Unlock()

	a.recordOrder(view, ts)
	a.dispatcher.PublishOrder(view)

	if a.venue != nil {
		if err := a.venue.Amend(ctx, view); err != nil && !errors.Is(err, exception.ErrVenueUnknownOrder) {
			return schema.ModifyOrderResponse{}, errors.Wrapf(err, "amend order %s", req.OrderID)
		}
	}
	return schema.ModifyOrderResponse{Accepted: true}, nil
}

func modifyRejectCode(err error) schema.RejectCode {
	switch {
	case errors.Is(err, exception.ErrOrderUnknown):
		return schema.RejectUnknownOrder
	case errors.Is(err, exception.ErrOrderAlreadyTerminal):
		return schema.RejectOrderAlreadyTerminal
	case errors.Is(err, exception.ErrOrderVersionMismatch):
		return schema.RejectVersionMismatch
	case errors.Is(err, exception.ErrOrderModifyState), errors.Is(err, exception.ErrOrderInvalidFill):
		return schema.RejectUnsupportedModify
	default:
		return schema.RejectProtocolViolation
	}
}

// ValidateOrder runs the risk pipeline without creating an order. It
// consumes no rate-limit budget.
func (a *Adapter) ValidateOrder(ctx context.Context, req schema.ValidateOrderRequest) (schema.ValidateOrderResponse, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallValidateOrder, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.ValidateOrderResponse{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.ValidateOrderResponse{}, err
	}

	sym, ok := a.registry.SymbolByName(req.Symbol)
	if !ok {
		return schema.ValidateOrderResponse{
			RiskCheck: schema.RiskCheckResult{RejectCode: schema.RejectUnknownSymbol},
		}, nil
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	riskStart := a.now()
	result := risk.Validate(risk.Proposal{
		Symbol:     req.Symbol,
		Class:      sym.Class,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	}, acct.limits, a.riskSnapshotLocked(acct, req.Symbol, a.now().UnixMicro()))
	a.metrics.ObserveRiskEval(a.now().Sub(riskStart))
	return schema.ValidateOrderResponse{RiskCheck: result}, nil
}

// ClosePosition flattens a position by generating the opposite-side
// market order. In hedging mode individual trades can be named; empty
// means oldest first. Idempotent under ClientRequestID like PlaceOrder.
func (a *Adapter) ClosePosition(ctx context.Context, req schema.ClosePositionRequest) (schema.ClosePositionResponse, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallClosePosition, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.ClosePositionResponse{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.ClosePositionResponse{}, err
	}

	fp := req
	fp.ClientRequestID = ""
	payload, duplicate, err := a.correlator.Submit(ctx, req.ClientRequestID, fingerprint(fp), func() ([]byte, error) {
		resp, err := a.closePosition(ctx, acct, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		if ctxErr := callErr(ctx); ctxErr != nil {
			return schema.ClosePositionResponse{}, ctxErr
		}
		return schema.ClosePositionResponse{}, err
	}
	if duplicate {
		a.metrics.IncDuplicate()
	}

	var resp schema.ClosePositionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return schema.ClosePositionResponse{}, errors.Wrap(err, "decode cached close response")
	}
	return resp, nil
}

func (a *Adapter) closePosition(ctx context.Context, acct *accountState, req schema.ClosePositionRequest) (schema.ClosePositionResponse, error) {
	acct.mu.Lock()

	intent, err := acct.ledger.CloseIntent(req.Symbol, req.TradeIDs, req.Quantity)
	if err != nil {
		acct.mu.Unlock()
		code := ledgerRejectCode(err)
		a.metrics.IncReject(code)
		return schema.ClosePositionResponse{RejectCode: code}, nil
	}

	// Close orders reduce exposure, so they bypass the pre-trade limit
	// checks and the rate-limit budget.
	ts := a.now().UnixMicro()
	order, err := acct.machine.Create(og.Order{
		ID:            a.orderIDs.Next(),
		Account:       req.Account,
		Symbol:        req.Symbol,
		Side:          intent.Side,
		Type:          schema.OrderTypeMarket,
		Quantity:      intent.Quantity,
		CreatedMicros: ts,
	})
	if err != nil {
		acct.mu.Unlock()
		return schema.ClosePositionResponse{}, errors.Wrapf(err, "create close order for %s", req.Symbol)
	}
	accepted, err := acct.machine.Accept(order.ID, ts)
	if err != nil {
		acct.mu.Unlock()
		return schema.ClosePositionResponse{}, errors.Wrapf(err, "accept close order %s", order.ID)
	}
	acct.closing[order.ID] = intent
	view := accepted.View()
	acct.mu.Unlock()

	a.recordOrder(view, ts)
	a.dispatcher.PublishOrder(view)

	if err := a.submitToVenue(ctx, acct, view); err != nil {
		return schema.ClosePositionResponse{}, err
	}
	return schema.ClosePositionResponse{Accepted: true, OrderIDs: []string{order.ID}}, nil
}

func ledgerRejectCode(err error) schema.RejectCode {
	switch {
	case errors.Is(err, exception.ErrLedgerUnknownPosition):
		return schema.RejectUnknownPosition
	case errors.Is(err, exception.ErrLedgerUnknownTrade):
		return schema.RejectUnknownTrade
	case errors.Is(err, exception.ErrLedgerTradeClosed):
		return schema.RejectUnknownTrade
	case errors.Is(err, exception.ErrLedgerModeMismatch):
		return schema.RejectUnsupportedModify
	case errors.Is(err, exception.ErrLedgerZeroQuantity):
		return schema.RejectInvalidQuantity
	default:
		return schema.RejectProtocolViolation
	}
}

// ModifyTradeProtection rewrites protective stop-loss/take-profit
// levels without executing anything.
func (a *Adapter) ModifyTradeProtection(ctx context.Context, req schema.ModifyTradeProtectionRequest) (schema.ModifyTradeProtectionResponse, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallModifyProtection, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.ModifyTradeProtectionResponse{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.ModifyTradeProtectionResponse{}, err
	}

	acct.mu.Lock()
	err = acct.ledger.ModifyProtection(req.Symbol, req.TradeID, req.StopLoss, req.TakeProfit)
	var position schema.PositionView
	var havePosition bool
	if err == nil {
		position, havePosition = acct.ledger.Position(req.Symbol)
	}
	acct.mu.Unlock()

	if err != nil {
		code := ledgerRejectCode(err)
		a.metrics.IncReject(code)
		return schema.ModifyTradeProtectionResponse{RejectCode: code}, nil
	}
	if havePosition {
		a.dispatcher.PublishPosition(position)
	}
	return schema.ModifyTradeProtectionResponse{Accepted: true}, nil
}

// GetState returns a consistent point-in-time projection of the
// account.
func (a *Adapter) GetState(ctx context.Context, req schema.GetStateRequest) (schema.StateSnapshot, error) {
	start := a.now()
	defer func() { a.metrics.ObserveCall(obs.CallGetState, a.now().Sub(start)) }()

	if err := callErr(ctx); err != nil {
		return schema.StateSnapshot{}, err
	}
	acct, err := a.account(req.Account)
	if err != nil {
		return schema.StateSnapshot{}, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	snap := schema.StateSnapshot{
		Account:  req.Account,
		TsMicros: a.now().UnixMicro(),
	}
	if req.IncludePositions {
		snap.Positions = acct.ledger.Positions()
	}
	if req.IncludeOrders {
		orders := acct.machine.Orders()
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
		snap.Orders = make([]schema.OrderView, 0, len(orders))
		for _, o := range orders {
			snap.Orders = append(snap.Orders, o.View())
		}
	}
	if req.IncludeTrades {
		snap.Trades = acct.ledger.Trades()
	}
	if req.IncludeAccount {
		summary := a.accountViewLocked(acct)
		snap.Summary = &summary
	}
	return snap, nil
}

// OnExecutionReport ingests an asynchronous venue report and advances
// order and ledger state. The first durable transition wins: a fill
// arriving after a cancel, or a cancel after a fill, is refused by the
// state machine and dropped here.
func (a *Adapter) OnExecutionReport(r schema.ExecutionReport) {
	acct, err := a.account(r.Account)
	if err != nil {
		logs.Errorf("execution report for unknown account %s, order %s", r.Account, r.OrderID)
		return
	}

	switch r.Kind {
	case schema.ExecutionReportAck:
		a.applyAck(acct, r)
	case schema.ExecutionReportFill:
		a.applyFill(acct, r)
	case schema.ExecutionReportCancel:
		a.applyTerminal(acct, r, acct.machine.Cancel)
	case schema.ExecutionReportExpire:
		a.applyTerminal(acct, r, acct.machine.Expire)
	case schema.ExecutionReportReject:
		a.applyTerminal(acct, r, acct.machine.Reject)
	default:
		logs.Errorf("execution report with unknown kind %d for order %s", r.Kind, r.OrderID)
	}
}

func (a *Adapter) applyAck(acct *accountState, r schema.ExecutionReport) {
	acct.mu.Lock()
	order, err := acct.machine.MarkWorking(r.OrderID, r.TsMicros)
	if err != nil {
		acct.mu.Unlock()
		if !errors.Is(err, exception.ErrOrderAlreadyTerminal) && !errors.Is(err, exception.ErrOrderInvalidTransition) {
			logs.Errorf("ack for order %s, err: %+v", r.OrderID, err)
		}
		return
	}
	view := order.View()
	acct.mu.Unlock()

	a.recordOrder(view, r.TsMicros)
	a.dispatcher.PublishOrder(view)
}

func (a *Adapter) applyFill(acct *accountState, r schema.ExecutionReport) {
	acct.mu.Lock()
	order, err := acct.machine.ApplyFill(r.OrderID, r.Quantity, r.TsMicros)
	if err != nil {
		acct.mu.Unlock()
		logs.Errorf("fill for order %s dropped, err: %+v", r.OrderID, err)
		return
	}

	trade := ledger.Trade{
		ID:         r.TradeID,
		OrderID:    r.OrderID,
		Account:    r.Account,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   r.Quantity,
		Price:      r.Price,
		TsMicros:   r.TsMicros,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
	}
	if intent, ok := acct.closing[r.OrderID]; ok {
		trade.Closing = true
		trade.ClosesTradeIDs = intent.TradeIDs
	}

	delta, err := acct.ledger.ApplyTrade(trade)
	if err != nil {
		logs.Errorf("trade %s for order %s not booked, err: %+v", trade.ID, r.OrderID, err)
	}
	if order.Status.IsTerminal() {
		delete(acct.closing, r.OrderID)
	}
	orderView := order.View()
	summary := a.accountViewLocked(acct)
	acct.mu.Unlock()

	a.metrics.IncFill()
	a.recordOrder(orderView, r.TsMicros)
	a.recordTrade(trade)
	a.dispatcher.PublishOrder(orderView)
	a.dispatcher.PublishTrade(schema.TradeView{
		TradeID:    trade.ID,
		OrderID:    trade.OrderID,
		Account:    trade.Account,
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		TsMicros:   trade.TsMicros,
		StopLoss:   trade.StopLoss,
		TakeProfit: trade.TakeProfit,
	})
	if err == nil {
		a.dispatcher.PublishPosition(delta.Position)
	}
	a.dispatcher.PublishAccount(summary)
}

func (a *Adapter) applyTerminal(acct *accountState, r schema.ExecutionReport, transition func(string, int64) (*og.Order, error)) {
	acct.mu.Lock()
	order, err := transition(r.OrderID, r.TsMicros)
	if err != nil {
		acct.mu.Unlock()
		if !errors.Is(err, exception.ErrOrderAlreadyTerminal) {
			logs.Errorf("terminal report for order %s, err: %+v", r.OrderID, err)
		}
		return
	}
	delete(acct.closing, r.OrderID)
	view := order.View()
	acct.mu.Unlock()

	a.recordOrder(view, r.TsMicros)
	a.dispatcher.PublishOrder(view)
}

// riskSnapshotLocked assembles the deterministic inputs for one risk
// evaluation. Caller holds acct.mu.
func (a *Adapter) riskSnapshotLocked(acct *accountState, symbol string, nowMicros int64) risk.Snapshot {
	var position fixed.Value
	if p, ok := acct.ledger.Position(symbol); ok {
		position = p.Quantity
	}

	openNotional := fixed.Zero()
	for _, o := range acct.machine.OpenOrders() {
		remaining, err := fixed.Sub(o.Quantity, o.FilledQuantity)
		if err != nil || !remaining.IsPositive() {
			continue
		}
		price := o.LimitPrice
		if price.IsZero() {
			price = acct.marks[o.Symbol]
		}
		if price.IsZero() {
			continue
		}
		notional, err := fixed.Mul(price.Normalize(), remaining.Normalize())
		if err != nil {
			continue
		}
		if openNotional, err = fixed.Add(openNotional, notional); err != nil {
			openNotional = fixed.Zero()
		}
	}

	return risk.Snapshot{
		Position:          position,
		OpenOrderNotional: openNotional,
		RealizedPnL:       acct.ledger.RealizedPnL(),
		UnrealizedPnL:     acct.ledger.UnrealizedPnL(),
		ReferencePrice:    acct.marks[symbol],
		OrderMicros:       acct.orderMicros,
		NowMicros:         nowMicros,
	}
}

// accountViewLocked summarizes the account. Caller holds acct.mu.
func (a *Adapter) accountViewLocked(acct *accountState) schema.AccountView {
	return schema.AccountView{
		Account:       acct.name,
		Mode:          acct.ledger.Mode(),
		RealizedPnL:   acct.ledger.RealizedPnL(),
		UnrealizedPnL: acct.ledger.UnrealizedPnL(),
		OpenOrders:    len(acct.machine.OpenOrders()),
		OpenPositions: len(acct.ledger.Positions()),
	}
}

func (a *Adapter) recordOrder(view schema.OrderView, tsMicros int64) {
	if err := a.journal.RecordOrder(view, tsMicros); err != nil {
		logs.Errorf("journal order %s, err: %+v", view.OrderID, err)
	}
}

func (a *Adapter) recordTrade(t ledger.Trade) {
	view := schema.TradeView{
		TradeID:  t.ID,
		OrderID:  t.OrderID,
		Account:  t.Account,
		Symbol:   t.Symbol,
		Side:     t.Side,
		Quantity: t.Quantity,
		Price:    t.Price,
		TsMicros: t.TsMicros,
	}
	if err := a.journal.RecordTrade(view, t.Closing); err != nil {
		logs.Errorf("journal trade %s, err: %+v", t.ID, err)
	}
}

// appendWindow keeps only the trailing day of order timestamps.
func appendWindow(micros []int64, ts int64) []int64 {
	cutoff := ts - int64(24*time.Hour/time.Microsecond)
	out := micros[:0]
	for _, m := range micros {
		if m > cutoff {
			out = append(out, m)
		}
	}
	return append(out, ts)
}

// Metrics exposes the metrics snapshot for the ops surface. Queue
// drops are counted by the dispatcher and merged here.
func (a *Adapter) Metrics() obs.Snapshot {
	snap := a.metrics.Snapshot()
	snap.QueueDrops = a.dispatcher.Dropped()
	return snap
}

// WriteSnapshots persists one position snapshot per account under dir,
// for recovery verification after a restart.
func (a *Adapter) WriteSnapshots(dir string) error {
	a.mu.RLock()
	accounts := make([]*accountState, 0, len(a.accounts))
	for _, acct := range a.accounts {
		accounts = append(accounts, acct)
	}
	a.mu.RUnlock()

	for _, acct := range accounts {
		acct.mu.Lock()
		snap := ledger.TakeSnapshot(acct.ledger, acct.name)
		acct.mu.Unlock()
		path := filepath.Join(dir, acct.name+".json")
		if err := ledger.WriteSnapshot(path, snap); err != nil {
			return errors.Wrapf(err, "snapshot account %s", acct.name)
		}
	}
	return nil
}
