package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/logging"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/money"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/stream"
	"tinkoff-trader/internal/trade"
	"tinkoff-trader/internal/wire"
)

// GatewayConfig holds gateway configuration.
type GatewayConfig struct {
	// Account receives execution reports for every order the gateway posts.
	Account string
	// CallTimeout bounds each unary call made by the loop.
	CallTimeout time.Duration
	// SettleInterval is how often fully executed orders that still lack a
	// final state are re-queried.
	SettleInterval time.Duration
	// StopPollInterval is how often the venue is asked about posted stop
	// orders. An execution report for an unknown order also triggers a poll.
	StopPollInterval time.Duration
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig(account string) GatewayConfig {
	return GatewayConfig{
		Account:        account,
		CallTimeout:      10 * time.Second,
		SettleInterval:   2 * time.Second,
		StopPollInterval: 10 * time.Second,
	}
}

// tracked is a live order known to the gateway.
type tracked struct {
	order      order.Order
	account    string
	instrument models.Instrument
	owner      string
	tradeID    string
	// seen holds venue trade ids already applied.
	seen map[string]struct{}
	// settling is set once every lot has executed but the venue has not yet
	// reported the order as filled.
	settling bool
}

// Gateway is the single owner of the broker stream. Commands are queued by
// Submit and executed by the Run loop, which also applies every stream
// message and publishes the resulting events on the bus. A command queued
// before a message is handled always takes effect before that message's
// event is published.
type Gateway struct {
	client Client
	bus    *stream.Bus
	book   *trade.Book
	config GatewayConfig
	log    zerolog.Logger
	now    func() time.Time

	queue   *mailbox[queued]
	closed  atomic.Bool
	running atomic.Bool

	connMu sync.Mutex
	conn   Stream

	// Owned by the loop goroutine.
	orders       map[string]*tracked
	stops        map[string]*tracked
	lastStopPoll time.Time
	subs         map[string]Subscription
	instruments  map[string]models.Instrument
}

// NewGateway creates a gateway. conn is moved into the gateway; it may be
// nil when Serve will dial the first stream.
func NewGateway(client Client, conn Stream, bus *stream.Bus, book *trade.Book, config GatewayConfig, log zerolog.Logger) *Gateway {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}
	if config.SettleInterval <= 0 {
		config.SettleInterval = 2 * time.Second
	}
	if config.StopPollInterval <= 0 {
		config.StopPollInterval = 10 * time.Second
	}
	return &Gateway{
		client:      client,
		bus:         bus,
		book:        book,
		config:      config,
		log:         logging.WithComponent(log, "gateway"),
		now:         time.Now,
		queue:       newMailbox[queued](),
		conn:        conn,
		orders:      make(map[string]*tracked),
		stops:       make(map[string]*tracked),
		subs:        make(map[string]Subscription),
		instruments: make(map[string]models.Instrument),
	}
}

// Submit queues cmd and returns immediately.
func (g *Gateway) Submit(cmd Command) *Pending {
	p := newPending()
	if !g.queue.push(queued{cmd: cmd, pending: p}) {
		p.resolve(nil, errors.ErrGatewayClosed)
	}
	return p
}

// Post submits a post command and waits for its outcome.
func (g *Gateway) Post(ctx context.Context, cmd PostCommand) (order.Order, error) {
	return g.Submit(cmd).Wait(ctx)
}

// Cancel submits a cancel command and waits for its outcome.
func (g *Gateway) Cancel(ctx context.Context, cmd CancelCommand) (order.Order, error) {
	return g.Submit(cmd).Wait(ctx)
}

// Attach moves a fresh stream into the gateway. The next Run uses it.
func (g *Gateway) Attach(conn Stream) {
	g.connMu.Lock()
	old := g.conn
	g.conn = conn
	g.connMu.Unlock()
	if old != nil && old != conn {
		_ = old.Close()
	}
}

func (g *Gateway) takeConn() Stream {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	conn := g.conn
	g.conn = nil
	return conn
}

// Close stops accepting commands and fails every queued one with
// ErrGatewayClosed. A running loop exits when its context is cancelled.
func (g *Gateway) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	for _, q := range g.queue.close() {
		q.pending.resolve(nil, errors.ErrGatewayClosed)
	}
	if conn := g.takeConn(); conn != nil {
		_ = conn.Close()
	}
}

// Run executes commands and applies stream messages until ctx is done or
// the stream fails. A stream failure is returned as a *errors.TransportError.
// Run closes the stream before returning.
func (g *Gateway) Run(ctx context.Context) error {
	if g.closed.Load() {
		return errors.ErrGatewayClosed
	}
	conn := g.takeConn()
	if conn == nil {
		return errors.NewTransportError("run", errors.Wrap(errors.ErrConnectionFailed, "no stream attached"))
	}
	if !g.running.CompareAndSwap(false, true) {
		_ = conn.Close()
		return errors.New("gateway already running")
	}
	defer g.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	msgs := make(chan wire.MarketDataResponse)
	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := g.resubscribe(ctx, conn); err != nil {
		return err
	}
	g.log.Info().Int("subscriptions", len(g.subs)).Int("orders", len(g.orders)).Msg("Gateway running")

	settle := time.NewTicker(g.config.SettleInterval)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-recvErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.NewTransportError("recv", err)

		case <-g.queue.ready():
			if err := g.drain(ctx, conn); err != nil {
				return err
			}

		case msg := <-msgs:
			if err := g.drain(ctx, conn); err != nil {
				return err
			}
			g.handle(ctx, msg)

		case <-settle.C:
			g.settle(ctx)
		}
	}
}

// drain executes every queued command in order. Only a stream write
// failure is fatal.
func (g *Gateway) drain(ctx context.Context, conn Stream) error {
	for {
		q, ok := g.queue.pop()
		if !ok {
			return nil
		}
		g.log.Debug().Str("command", q.cmd.String()).Msg("Executing command")

		var (
			o   order.Order
			err error
		)
		switch c := q.cmd.(type) {
		case PostCommand:
			o, err = g.post(ctx, c)
		case CancelCommand:
			o, err = g.cancel(ctx, c)
		case SubscribeCommand:
			err = g.subscribe(ctx, conn, c.Subscriptions, wire.SubscriptionActionSubscribe)
		case UnsubscribeCommand:
			err = g.subscribe(ctx, conn, c.Subscriptions, wire.SubscriptionActionUnsubscribe)
		default:
			err = errors.Wrapf(errors.ErrNotImplemented, "command %T", q.cmd)
		}
		q.pending.resolve(o, err)

		if errors.Is(err, errors.ErrTransport) {
			return err
		}
		if err != nil {
			g.log.Warn().Err(err).Str("command", q.cmd.String()).Msg("Command failed")
		}
	}
}

func (g *Gateway) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.config.CallTimeout)
}

// remoteError makes sure a failed unary call carries a *errors.BrokerError.
func remoteError(action, orderID, figi string, err error) error {
	var be *errors.BrokerError
	if !errors.As(err, &be) {
		err = errors.NewBrokerError("UNAVAILABLE", err.Error(), err)
	}
	return errors.NewOrderError(orderID, figi, action, "remote call failed", err)
}

func (g *Gateway) remember(inst models.Instrument) {
	if inst.FIGI != "" {
		g.instruments[inst.FIGI] = inst
	}
}

func (g *Gateway) post(ctx context.Context, c PostCommand) (order.Order, error) {
	g.remember(c.Instrument)
	account := c.Account
	if account == "" {
		account = g.config.Account
	}

	switch o := c.Order.(type) {
	case order.NewMarketOrder:
		return g.postOrder(ctx, c, account, o, wire.OrderTypeMarket, nil)
	case order.NewLimitOrder:
		price, err := money.FromDecimal(o.Price())
		if err != nil {
			return nil, err
		}
		return g.postOrder(ctx, c, account, o, wire.OrderTypeLimit, &price)
	case order.NewStopOrder:
		return g.postStop(ctx, c, account, o)
	case nil:
		return nil, errors.NewTransitionError("order", "nil", "post")
	}
	return nil, errors.NewTransitionError(string(c.Order.Kind())+" order", string(c.Order.Status()), "post")
}

func (g *Gateway) postOrder(ctx context.Context, c PostCommand, account string, o order.Order, typ wire.OrderType, price *money.Quotation) (order.Order, error) {
	req := wire.PostOrderRequest{
		InstrumentID: c.Instrument.FIGI,
		Quantity:     o.Lots(),
		Price:        price,
		Direction:    directionToWire(o.Direction()),
		AccountID:    account,
		OrderType:    typ,
		OrderID:      uuid.NewString(),
	}

	callCtx, cancel := g.call(ctx)
	resp, err := g.client.PostOrder(callCtx, req)
	cancel()
	if err != nil {
		return nil, remoteError("post", req.OrderID, c.Instrument.FIGI, err)
	}

	t := &tracked{
		account:    account,
		instrument: c.Instrument,
		owner:      c.Owner,
		tradeID:    c.TradeID,
		seen:       make(map[string]struct{}),
	}

	if resp.ExecutionReportStatus == wire.ExecutionReportStatusRejected {
		reason := resp.Message
		if reason == "" {
			reason = "rejected by venue"
		}
		rejected, err := order.Reject(o, reason)
		if err != nil {
			return nil, err
		}
		t.order = rejected
		g.publishOrder(t)
		return rejected, nil
	}

	posted, err := order.Post(o, resp.OrderID)
	if err != nil {
		return nil, err
	}
	t.order = posted
	g.orders[resp.OrderID] = t
	g.publishOrder(t)

	if typ == wire.OrderTypeMarket ||
		resp.ExecutionReportStatus == wire.ExecutionReportStatusFill ||
		resp.ExecutionReportStatus == wire.ExecutionReportStatusPartiallyFill {
		g.refresh(ctx, t)
	}
	return t.order, nil
}

func (g *Gateway) postStop(ctx context.Context, c PostCommand, account string, o order.NewStopOrder) (order.Order, error) {
	typ, err := stopTypeToWire(o)
	if err != nil {
		return nil, err
	}
	stopPrice, err := money.FromDecimal(o.StopPrice())
	if err != nil {
		return nil, err
	}
	req := wire.PostStopOrderRequest{
		InstrumentID:   c.Instrument.FIGI,
		Quantity:       o.Lots(),
		StopPrice:      stopPrice,
		Direction:      stopDirectionToWire(o.Direction()),
		AccountID:      account,
		ExpirationType: wire.StopOrderExpirationGoodTillCancel,
		StopOrderType:  typ,
	}
	if exec, ok := o.ExecPrice(); ok {
		price, err := money.FromDecimal(exec)
		if err != nil {
			return nil, err
		}
		req.Price = &price
	}

	callCtx, cancel := g.call(ctx)
	resp, err := g.client.PostStopOrder(callCtx, req)
	cancel()
	if err != nil {
		return nil, remoteError("post stop", "", c.Instrument.FIGI, err)
	}

	posted, err := o.Post(resp.StopOrderID)
	if err != nil {
		return nil, err
	}
	t := &tracked{order: posted, account: account, instrument: c.Instrument, owner: c.Owner, tradeID: c.TradeID}
	g.stops[resp.StopOrderID] = t
	g.publishOrder(t)

	if c.TradeID != "" {
		if err := g.book.Protect(c.TradeID, posted); err != nil {
			g.log.Warn().Err(err).Str("trade_id", c.TradeID).Msg("Stop order not attached to trade")
		} else if tr, ok := g.book.Get(c.TradeID); ok {
			g.bus.Publish(stream.TradeEvent{ID: c.TradeID, At: g.now(), Trade: tr})
		}
	}
	return posted, nil
}

func (g *Gateway) cancel(ctx context.Context, c CancelCommand) (order.Order, error) {
	if c.Order == nil {
		return nil, errors.NewTransitionError("order", "nil", "cancel")
	}
	id := order.BrokerID(c.Order)

	t, ok := g.orders[id]
	if !ok {
		t, ok = g.stops[id]
	}
	if !ok {
		account := c.Account
		if account == "" {
			account = g.config.Account
		}
		t = &tracked{order: c.Order, account: account, instrument: c.Instrument, owner: c.Owner, seen: make(map[string]struct{})}
	}
	if !order.CanCancel(t.order) {
		return nil, errors.NewTransitionError(string(t.order.Kind())+" order", string(t.order.Status()), "cancel")
	}

	callCtx, cancel := g.call(ctx)
	defer cancel()

	if t.order.Kind() == order.KindStop {
		resp, err := g.client.CancelStopOrder(callCtx, wire.CancelStopOrderRequest{AccountID: t.account, StopOrderID: id})
		if err != nil {
			return nil, remoteError("cancel stop", id, t.instrument.FIGI, err)
		}
		if resp.Time.IsZero() {
			return nil, errors.NewOrderError(id, t.instrument.FIGI, "cancel stop", "no cancel time",
				errors.NewBrokerError("CANCEL_FAILED", "stop order was not cancelled", nil))
		}
		canceled, err := order.Cancel(t.order)
		if err != nil {
			return nil, err
		}
		delete(g.stops, id)
		t.order = canceled
		g.publishOrder(t)
		return canceled, nil
	}

	resp, err := g.client.CancelOrder(callCtx, wire.CancelOrderRequest{AccountID: t.account, OrderID: id})
	if err != nil {
		return nil, remoteError("cancel", id, t.instrument.FIGI, err)
	}
	if resp.Time.IsZero() {
		return nil, errors.NewOrderError(id, t.instrument.FIGI, "cancel", "no cancel time",
			errors.NewBrokerError("CANCEL_FAILED", "order was not cancelled", nil))
	}

	// Fills that raced with the cancel are applied before the order is
	// marked canceled.
	st, err := g.client.GetOrderState(callCtx, wire.GetOrderStateRequest{AccountID: t.account, OrderID: id})
	if err == nil {
		g.applyState(ctx, t, st)
	} else {
		g.log.Warn().Err(err).Str("order_id", id).Msg("Order state unavailable after cancel")
	}
	if order.CanCancel(t.order) {
		canceled, err := order.Cancel(t.order)
		if err != nil {
			return nil, err
		}
		g.advance(ctx, t, canceled)
	}
	return t.order, nil
}

func subscriptionKey(s Subscription) string {
	return s.String()
}

func (g *Gateway) subscribe(ctx context.Context, conn Stream, subs []Subscription, action wire.SubscriptionAction) error {
	for _, s := range subs {
		req, err := subscriptionRequest(s, action)
		if err != nil {
			return err
		}
		g.remember(s.Instrument)
		if action == wire.SubscriptionActionSubscribe {
			g.subs[subscriptionKey(s)] = s
		} else {
			delete(g.subs, subscriptionKey(s))
		}
		if err := conn.Send(ctx, req); err != nil {
			return errors.NewTransportError("send", err)
		}
		g.log.Info().Str("subscription", s.String()).Str("action", string(action)).Msg("Subscription sent")
	}
	return nil
}

// resubscribe restores the execution report feed and every recorded
// subscription on a fresh stream.
func (g *Gateway) resubscribe(ctx context.Context, conn Stream) error {
	if g.config.Account != "" {
		req := wire.MarketDataRequest{SubscribeOrderTrades: &wire.TradesStreamRequest{Accounts: []string{g.config.Account}}}
		if err := conn.Send(ctx, req); err != nil {
			return errors.NewTransportError("send", err)
		}
	}
	for _, s := range g.subs {
		req, err := subscriptionRequest(s, wire.SubscriptionActionSubscribe)
		if err != nil {
			g.log.Warn().Err(err).Str("subscription", s.String()).Msg("Dropping subscription")
			continue
		}
		if err := conn.Send(ctx, req); err != nil {
			return errors.NewTransportError("send", err)
		}
	}
	return nil
}

func subscriptionRequest(s Subscription, action wire.SubscriptionAction) (wire.MarketDataRequest, error) {
	figi := s.Instrument.FIGI
	switch s.Data {
	case DataBars:
		interval, err := subscriptionIntervalToWire(s.TimeFrame)
		if err != nil {
			return wire.MarketDataRequest{}, err
		}
		return wire.MarketDataRequest{SubscribeCandlesRequest: &wire.SubscribeCandlesRequest{
			SubscriptionAction: action,
			Instruments:        []wire.CandleInstrument{{InstrumentID: figi, Interval: interval}},
		}}, nil
	case DataTics:
		return wire.MarketDataRequest{SubscribeTradesRequest: &wire.SubscribeTradesRequest{
			SubscriptionAction: action,
			Instruments:        []wire.TradeInstrument{{InstrumentID: figi}},
		}}, nil
	case DataStatus:
		return wire.MarketDataRequest{SubscribeInfoRequest: &wire.SubscribeInfoRequest{
			SubscriptionAction: action,
			Instruments:        []wire.InfoInstrument{{InstrumentID: figi}},
		}}, nil
	}
	return wire.MarketDataRequest{}, errors.Unmapped("market data", s.Data)
}

// handle applies one stream message. Messages that cannot be decoded are
// logged and dropped.
func (g *Gateway) handle(ctx context.Context, msg wire.MarketDataResponse) {
	switch msg.Kind() {
	case wire.PayloadCandle:
		e, err := barEventFromCandle(msg.Candle)
		if err != nil {
			g.drop(msg, err)
			return
		}
		g.bus.Publish(e)

	case wire.PayloadTrade:
		lot := int64(1)
		if inst, ok := g.instruments[msg.Trade.Figi]; ok {
			lot = inst.LotSize()
		} else {
			g.log.Warn().Str("figi", msg.Trade.Figi).Msg("Unknown instrument lot, assuming 1")
		}
		tic, err := ticFromTrade(msg.Trade, lot)
		if err != nil {
			g.drop(msg, err)
			return
		}
		g.bus.Publish(stream.TicEvent{Instrument: msg.Trade.Figi, Tic: tic})

	case wire.PayloadTradingStatus:
		g.bus.Publish(stream.StatusEvent{Status: statusFromWire(msg.TradingStatus)})

	case wire.PayloadPing:
		g.log.Debug().Time("time", msg.Ping.Time).Msg("Ping")

	case wire.PayloadSubscription:
		for _, item := range msg.Subscription().Items() {
			if item.SubscriptionStatus != wire.SubscriptionStatusSuccess {
				g.log.Warn().Str("figi", item.Figi).Str("instrument", item.InstrumentID).
					Str("status", string(item.SubscriptionStatus)).Msg("Subscription failed")
			}
		}

	case wire.PayloadOrderTrades:
		g.reconcile(ctx, msg.OrderTrades)

	case wire.PayloadOrderBook, wire.PayloadLastPrice:
		g.log.Debug().Err(errors.ErrNotImplemented).Str("payload", string(msg.Kind())).Msg("Ignoring payload")

	default:
		g.drop(msg, errors.Unmapped("payload", msg.Kind()))
	}
}

func (g *Gateway) drop(msg wire.MarketDataResponse, err error) {
	g.log.Warn().Err(err).Str("payload", string(msg.Kind())).Msg("Dropping message")
}

// reconcile applies an execution report from the trades feed.
func (g *Gateway) reconcile(ctx context.Context, report *wire.OrderTrades) {
	t, ok := g.orders[report.OrderID]
	if !ok && len(g.stops) > 0 {
		// The order may have been placed by one of our stops.
		g.pollStops(ctx)
		t, ok = g.orders[report.OrderID]
	}
	if !ok {
		g.log.Debug().Str("order_id", report.OrderID).Msg("Execution report for untracked order")
		return
	}
	fills, err := fillsFromTrades(report.Trades)
	if err != nil {
		g.log.Warn().Err(err).Str("order_id", report.OrderID).Msg("Dropping execution report")
		return
	}
	if g.applyFills(t, fills) {
		g.publishOrder(t)
	}
	g.settleOne(ctx, t)
}

// applyFills adds fills not seen before. It reports whether the order
// changed.
func (g *Gateway) applyFills(t *tracked, fills []fill) bool {
	changed := false
	anonymous := make(map[string]int)
	for _, f := range fills {
		key := f.tradeID
		if key == "" {
			// Without a venue id a fill is identified by what it executed.
			// Identical fills within one report are told apart by position.
			base := fmt.Sprintf("%s|%s|%d", f.tx.Timestamp.UTC().Format(time.RFC3339Nano), f.tx.Price, f.tx.Quantity)
			key = fmt.Sprintf("%s#%d", base, anonymous[base])
			anonymous[base]++
		}
		if _, dup := t.seen[key]; dup {
			continue
		}
		next, err := order.AddTransaction(t.order, f.tx)
		if err != nil {
			g.log.Warn().Err(err).Str("order_id", order.BrokerID(t.order)).Str("trade", key).Msg("Fill rejected")
			continue
		}
		t.seen[key] = struct{}{}
		t.order = next
		changed = true
	}
	if e, ok := t.order.(order.Executable); ok && e.Executed() == t.order.Lots() {
		t.settling = true
	}
	return changed
}

// applyState reconciles t with the venue's view of the order.
func (g *Gateway) applyState(ctx context.Context, t *tracked, st wire.OrderState) {
	fills, err := fillsFromStages(st.Stages, st.OrderDate)
	if err != nil {
		g.log.Warn().Err(err).Str("order_id", st.OrderID).Msg("Dropping order state")
		return
	}
	if g.applyFills(t, fills) {
		g.publishOrder(t)
	}

	switch st.ExecutionReportStatus {
	case wire.ExecutionReportStatusFill:
		commission, err := commissionFromWire(st.ExecutedCommission)
		if err != nil {
			g.log.Warn().Err(err).Str("order_id", st.OrderID).Msg("Bad commission")
			return
		}
		filled, err := order.Fill(t.order, commission)
		if err != nil {
			g.log.Warn().Err(err).Str("order_id", st.OrderID).Msg("Order reported filled before all fills arrived")
			return
		}
		g.advance(ctx, t, filled)

	case wire.ExecutionReportStatusCancelled, wire.ExecutionReportStatusRejected:
		canceled, err := order.Cancel(t.order)
		if err != nil {
			return
		}
		g.advance(ctx, t, canceled)
	}
}

// refresh queries the venue for the order's state.
func (g *Gateway) refresh(ctx context.Context, t *tracked) {
	id := order.BrokerID(t.order)
	callCtx, cancel := g.call(ctx)
	st, err := g.client.GetOrderState(callCtx, wire.GetOrderStateRequest{AccountID: t.account, OrderID: id})
	cancel()
	if err != nil {
		g.log.Warn().Err(err).Str("order_id", id).Msg("Order state unavailable")
		t.settling = true
		return
	}
	g.applyState(ctx, t, st)
}

func (g *Gateway) settleOne(ctx context.Context, t *tracked) {
	if t.settling && !order.IsTerminal(t.order) {
		g.refresh(ctx, t)
	}
}

// settle retries orders whose final state is still unknown and, at
// StopPollInterval, checks on posted stops.
func (g *Gateway) settle(ctx context.Context) {
	for _, t := range g.orders {
		g.settleOne(ctx, t)
	}
	if len(g.stops) > 0 && g.now().Sub(g.lastStopPoll) >= g.config.StopPollInterval {
		g.pollStops(ctx)
	}
}

// pollStops asks the venue about every posted stop. An executed stop is
// triggered and its execution order is tracked under the stop's trade, so
// the execution's fills reach the book. Stops the venue canceled or
// expired are marked canceled.
func (g *Gateway) pollStops(ctx context.Context) {
	g.lastStopPoll = g.now()

	accounts := make(map[string]struct{})
	for _, t := range g.stops {
		accounts[t.account] = struct{}{}
	}
	for account := range accounts {
		callCtx, cancel := g.call(ctx)
		resp, err := g.client.GetStopOrders(callCtx, wire.GetStopOrdersRequest{AccountID: account, Status: wire.StopOrderStatusAll})
		cancel()
		if err != nil {
			g.log.Warn().Err(err).Str("account", account).Msg("Stop orders unavailable")
			continue
		}
		for _, so := range resp.StopOrders {
			if t, ok := g.stops[so.StopOrderID]; ok && t.account == account {
				g.applyStopState(ctx, t, so)
			}
		}
	}
}

func (g *Gateway) applyStopState(ctx context.Context, t *tracked, so wire.StopOrder) {
	switch so.Status {
	case wire.StopOrderStatusExecuted:
		if so.ExchangeOrderID == "" {
			return
		}
		delete(g.stops, so.StopOrderID)
		posted, ok := t.order.(order.PostedStopOrder)
		if !ok {
			return
		}
		triggered, err := posted.Trigger(so.ExchangeOrderID)
		if err != nil {
			g.log.Warn().Err(err).Str("stop_order_id", so.StopOrderID).Msg("Stop trigger not applied")
			return
		}
		t.order = triggered
		g.publishOrder(t)

		exec := &tracked{
			order:      triggered.Execution(),
			account:    t.account,
			instrument: t.instrument,
			owner:      t.owner,
			tradeID:    t.tradeID,
			seen:       make(map[string]struct{}),
		}
		g.orders[so.ExchangeOrderID] = exec
		g.publishOrder(exec)
		g.refresh(ctx, exec)

	case wire.StopOrderStatusCanceled, wire.StopOrderStatusExpired:
		delete(g.stops, so.StopOrderID)
		canceled, err := order.Cancel(t.order)
		if err != nil {
			return
		}
		t.order = canceled
		g.publishOrder(t)
	}
}

// cancelTradeStops withdraws the stops still protecting a closed trade.
func (g *Gateway) cancelTradeStops(ctx context.Context, tradeID string) {
	for id, s := range g.stops {
		if s.tradeID != tradeID {
			continue
		}
		callCtx, cancel := g.call(ctx)
		resp, err := g.client.CancelStopOrder(callCtx, wire.CancelStopOrderRequest{AccountID: s.account, StopOrderID: id})
		cancel()
		if err != nil || resp.Time.IsZero() {
			// The next poll settles it.
			g.log.Warn().Err(err).Str("stop_order_id", id).Str("trade_id", tradeID).Msg("Stop of closed trade not cancelled")
			continue
		}
		delete(g.stops, id)
		canceled, err := order.Cancel(s.order)
		if err != nil {
			continue
		}
		s.order = canceled
		g.publishOrder(s)
	}
}

// advance records a new order state and publishes it. A filled order is
// applied to its trade, and a trade it closes has its remaining stops
// cancelled.
func (g *Gateway) advance(ctx context.Context, t *tracked, next order.Order) {
	t.order = next
	g.publishOrder(t)

	if !order.IsTerminal(next) {
		return
	}
	delete(g.orders, order.BrokerID(next))

	if next.Status() != order.StatusFilled || t.tradeID == "" {
		return
	}
	tr, err := g.book.Apply(t.tradeID, next)
	if err != nil {
		g.log.Warn().Err(err).Str("trade_id", t.tradeID).Msg("Fill not applied to trade")
		return
	}
	logging.LogTrade(g.log, t.tradeID, t.instrument.FIGI, string(tr.Status()), tradeQuantity(tr))
	g.bus.Publish(stream.TradeEvent{ID: t.tradeID, At: g.now(), Trade: tr})

	if tr.Status() == trade.StatusClosed {
		g.cancelTradeStops(ctx, t.tradeID)
	}
}

func tradeQuantity(t trade.Trade) int64 {
	if q, ok := t.(interface{ Quantity() int64 }); ok {
		return q.Quantity()
	}
	return 0
}

func (g *Gateway) publishOrder(t *tracked) {
	logging.LogOrder(g.log, order.BrokerID(t.order), t.instrument.FIGI, string(t.order.Kind()), string(t.order.Status()))
	g.bus.Publish(stream.OrderEvent{
		Account:    t.account,
		Instrument: t.instrument.FIGI,
		Owner:      t.owner,
		TradeID:    t.tradeID,
		At:         g.now(),
		Order:      t.order,
	})
}
