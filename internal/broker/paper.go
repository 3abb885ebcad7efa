package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/money"
	"tinkoff-trader/internal/wire"
)

// PaperConfig holds configuration for the paper broker.
type PaperConfig struct {
	Account        string
	Currency       string
	InitialCash    decimal.Decimal
	CommissionRate decimal.Decimal
	// Data, when set, serves candles, shares and live market data. Orders
	// never reach it.
	Data Client
}

// DefaultPaperConfig returns the default paper broker configuration.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		Account:        "paper",
		Currency:       "rub",
		InitialCash:    decimal.NewFromInt(1_000_000),
		CommissionRate: decimal.RequireFromString("0.0005"),
	}
}

type paperStop struct {
	id      string
	req     wire.PostStopOrderRequest
	account string
	status  wire.StopOrderStatus
	created time.Time
	fired   *time.Time
	orderID string
}

// PaperClient simulates the remote service in process. Market orders fill
// at the last known price, limit orders fill once the price crosses them and
// stop orders trigger on SetPrice. Fills are reported on every open stream
// subscribed to the order's account.
type PaperClient struct {
	config PaperConfig
	now    func() time.Time

	mu          sync.Mutex
	orders      map[string]*wire.OrderState
	accounts    map[string]string
	stops       map[string]*paperStop
	prices      map[string]decimal.Decimal
	positions   map[string]int64
	instruments map[string]models.Instrument
	cash        decimal.Decimal
	counter     int
	trades      int
	streams     map[*paperStream]struct{}
}

// NewPaperClient creates a paper broker.
func NewPaperClient(config PaperConfig) *PaperClient {
	if config.Account == "" {
		config.Account = "paper"
	}
	if config.Currency == "" {
		config.Currency = "rub"
	}
	return &PaperClient{
		config:      config,
		now:         time.Now,
		orders:      make(map[string]*wire.OrderState),
		accounts:    make(map[string]string),
		stops:       make(map[string]*paperStop),
		prices:      make(map[string]decimal.Decimal),
		positions:   make(map[string]int64),
		instruments: make(map[string]models.Instrument),
		cash:        config.InitialCash,
		streams:     make(map[*paperStream]struct{}),
	}
}

// AddInstrument makes inst known to the paper broker.
func (p *PaperClient) AddInstrument(inst models.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments[inst.FIGI] = inst
}

// SetPrice records the last price of figi, fills resting limit orders the
// price has crossed and triggers stop orders.
func (p *PaperClient) SetPrice(figi string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[figi] = price

	for _, s := range p.stops {
		if s.status != wire.StopOrderStatusActive || s.req.InstrumentID != figi || !stopTriggered(s.req, price) {
			continue
		}
		p.triggerLocked(s)
	}

	for id, st := range p.orders {
		if st.Figi != figi || st.ExecutionReportStatus != wire.ExecutionReportStatusNew {
			continue
		}
		limit, _ := money.MoneyToDecimal(*st.InitialSecurityPrice)
		if crosses(st.Direction, limit, price) {
			p.fillLocked(st, p.accounts[id], limit)
		}
	}
}

// Emit delivers msg to every open stream.
func (p *PaperClient) Emit(msg wire.MarketDataResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.streams {
		s.box.push(msg)
	}
}

func (p *PaperClient) lot(figi string) int64 {
	if inst, ok := p.instruments[figi]; ok {
		return inst.LotSize()
	}
	return 1
}

func crosses(dir wire.OrderDirection, limit, price decimal.Decimal) bool {
	if dir == wire.OrderDirectionBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func stopTriggered(req wire.PostStopOrderRequest, price decimal.Decimal) bool {
	stop, err := money.ToDecimal(req.StopPrice)
	if err != nil {
		return false
	}
	sell := req.Direction == wire.StopOrderDirectionSell
	switch req.StopOrderType {
	case wire.StopOrderTypeTakeProfit:
		if sell {
			return price.GreaterThanOrEqual(stop)
		}
		return price.LessThanOrEqual(stop)
	default:
		if sell {
			return price.LessThanOrEqual(stop)
		}
		return price.GreaterThanOrEqual(stop)
	}
}

func (p *PaperClient) nextID(prefix string) string {
	p.counter++
	return fmt.Sprintf("%s-%d", prefix, p.counter)
}

// PostOrder places a simulated order.
func (p *PaperClient) PostOrder(ctx context.Context, req wire.PostOrderRequest) (wire.PostOrderResponse, error) {
	if req.Quantity <= 0 {
		return wire.PostOrderResponse{}, errors.NewBrokerError("INVALID_ARGUMENT", "quantity must be positive", errors.ErrInvalidOrder)
	}
	if req.OrderType == wire.OrderTypeLimit && req.Price == nil {
		return wire.PostOrderResponse{}, errors.NewBrokerError("INVALID_ARGUMENT", "limit order without price", errors.ErrInvalidOrder)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postLocked(req)
}

func (p *PaperClient) postLocked(req wire.PostOrderRequest) (wire.PostOrderResponse, error) {
	account := req.AccountID
	if account == "" {
		account = p.config.Account
	}
	st := &wire.OrderState{
		OrderID:               p.nextID("PAPER"),
		ExecutionReportStatus: wire.ExecutionReportStatusNew,
		LotsRequested:         req.Quantity,
		Figi:                  req.InstrumentID,
		Direction:             req.Direction,
		OrderType:             req.OrderType,
		OrderDate:             p.now(),
		Currency:              p.config.Currency,
		OrderRequestID:        req.OrderID,
	}

	last, known := p.prices[req.InstrumentID]
	var exec decimal.Decimal
	fillable := false

	switch req.OrderType {
	case wire.OrderTypeLimit:
		limit, err := money.ToDecimal(*req.Price)
		if err != nil {
			return wire.PostOrderResponse{}, errors.NewBrokerError("INVALID_ARGUMENT", err.Error(), err)
		}
		mv, _ := money.MoneyFromDecimal(limit, p.config.Currency)
		st.InitialSecurityPrice = &mv
		exec = limit
		fillable = known && crosses(req.Direction, limit, last)
	default:
		if !known {
			return p.rejectLocked(st, "no market price"), nil
		}
		exec = last
		fillable = true
	}

	if fillable && req.Direction == wire.OrderDirectionBuy {
		cost := exec.Mul(decimal.NewFromInt(req.Quantity * p.lot(req.InstrumentID)))
		if p.cash.LessThan(cost) {
			return p.rejectLocked(st, fmt.Sprintf("insufficient funds: need %s, have %s", cost, p.cash)), nil
		}
	}

	p.orders[st.OrderID] = st
	p.accounts[st.OrderID] = account
	if fillable {
		p.fillLocked(st, account, exec)
	}
	return postResponse(st), nil
}

func (p *PaperClient) rejectLocked(st *wire.OrderState, reason string) wire.PostOrderResponse {
	st.ExecutionReportStatus = wire.ExecutionReportStatusRejected
	resp := postResponse(st)
	resp.Message = reason
	return resp
}

func postResponse(st *wire.OrderState) wire.PostOrderResponse {
	return wire.PostOrderResponse{
		OrderID:               st.OrderID,
		ExecutionReportStatus: st.ExecutionReportStatus,
		LotsRequested:         st.LotsRequested,
		LotsExecuted:          st.LotsExecuted,
		InitialOrderPrice:     st.InitialSecurityPrice,
		ExecutedOrderPrice:    st.ExecutedOrderPrice,
		ExecutedCommission:    st.ExecutedCommission,
		Figi:                  st.Figi,
		Direction:             st.Direction,
		OrderType:             st.OrderType,
		OrderRequestID:        st.OrderRequestID,
	}
}

// fillLocked executes the remaining lots of st at price and reports the
// execution to subscribed streams.
func (p *PaperClient) fillLocked(st *wire.OrderState, account string, price decimal.Decimal) {
	lots := st.LotsRequested - st.LotsExecuted
	shares := lots * p.lot(st.Figi)
	value := price.Mul(decimal.NewFromInt(shares))
	commission := value.Mul(p.config.CommissionRate).Round(2)

	p.trades++
	tradeID := fmt.Sprintf("PAPER-TRADE-%d", p.trades)
	at := p.now()

	mv, _ := money.MoneyFromDecimal(price, p.config.Currency)
	fee, _ := money.MoneyFromDecimal(commission, p.config.Currency)
	st.Stages = append(st.Stages, wire.OrderStage{Price: mv, Quantity: lots, TradeID: tradeID})
	st.LotsExecuted = st.LotsRequested
	st.ExecutedOrderPrice = &mv
	st.ExecutedCommission = &fee
	st.ExecutionReportStatus = wire.ExecutionReportStatusFill

	if st.Direction == wire.OrderDirectionBuy {
		p.positions[st.Figi] += shares
		p.cash = p.cash.Sub(value)
	} else {
		p.positions[st.Figi] -= shares
		p.cash = p.cash.Add(value)
	}
	p.cash = p.cash.Sub(commission)

	q, _ := money.FromDecimal(price)
	report := &wire.OrderTrades{
		OrderID:   st.OrderID,
		CreatedAt: at,
		Direction: st.Direction,
		Figi:      st.Figi,
		AccountID: account,
		Trades:    []wire.OrderTrade{{DateTime: at, Price: q, Quantity: lots, TradeID: tradeID}},
	}
	for s := range p.streams {
		if s.wants(account) {
			s.box.push(wire.MarketDataResponse{OrderTrades: report})
		}
	}
}

// triggerLocked turns a triggered stop into a market or limit order and
// records that order on the stop.
func (p *PaperClient) triggerLocked(s *paperStop) {
	dir := wire.OrderDirectionBuy
	if s.req.Direction == wire.StopOrderDirectionSell {
		dir = wire.OrderDirectionSell
	}
	req := wire.PostOrderRequest{
		InstrumentID: s.req.InstrumentID,
		Quantity:     s.req.Quantity,
		Direction:    dir,
		AccountID:    s.req.AccountID,
		OrderType:    wire.OrderTypeMarket,
		OrderID:      s.id,
	}
	if s.req.Price != nil {
		req.OrderType = wire.OrderTypeLimit
		req.Price = s.req.Price
	}
	at := p.now()
	s.status = wire.StopOrderStatusExecuted
	s.fired = &at
	if resp, err := p.postLocked(req); err == nil {
		s.orderID = resp.OrderID
	}
}

// CancelOrder cancels a resting order.
func (p *PaperClient) CancelOrder(ctx context.Context, req wire.CancelOrderRequest) (wire.CancelOrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.orders[req.OrderID]
	if !ok {
		return wire.CancelOrderResponse{}, errors.NewBrokerError("NOT_FOUND", "order not found: "+req.OrderID, errors.ErrDataNotFound)
	}
	switch st.ExecutionReportStatus {
	case wire.ExecutionReportStatusNew, wire.ExecutionReportStatusPartiallyFill:
	default:
		return wire.CancelOrderResponse{}, errors.NewBrokerError("FAILED_PRECONDITION",
			fmt.Sprintf("cannot cancel order with status %s", st.ExecutionReportStatus), errors.ErrInvalidOrder)
	}
	st.ExecutionReportStatus = wire.ExecutionReportStatusCancelled
	return wire.CancelOrderResponse{Time: p.now()}, nil
}

// GetOrderState returns a copy of the order's state.
func (p *PaperClient) GetOrderState(ctx context.Context, req wire.GetOrderStateRequest) (wire.OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.orders[req.OrderID]
	if !ok {
		return wire.OrderState{}, errors.NewBrokerError("NOT_FOUND", "order not found: "+req.OrderID, errors.ErrDataNotFound)
	}
	out := *st
	out.Stages = append([]wire.OrderStage(nil), st.Stages...)
	return out, nil
}

// PostStopOrder registers a stop order.
func (p *PaperClient) PostStopOrder(ctx context.Context, req wire.PostStopOrderRequest) (wire.PostStopOrderResponse, error) {
	if req.Quantity <= 0 {
		return wire.PostStopOrderResponse{}, errors.NewBrokerError("INVALID_ARGUMENT", "quantity must be positive", errors.ErrInvalidOrder)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	account := req.AccountID
	if account == "" {
		account = p.config.Account
	}
	id := p.nextID("PAPER-STOP")
	p.stops[id] = &paperStop{id: id, req: req, account: account, status: wire.StopOrderStatusActive, created: p.now()}
	return wire.PostStopOrderResponse{StopOrderID: id}, nil
}

// CancelStopOrder removes an untriggered stop order.
func (p *PaperClient) CancelStopOrder(ctx context.Context, req wire.CancelStopOrderRequest) (wire.CancelStopOrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stops[req.StopOrderID]
	if !ok {
		return wire.CancelStopOrderResponse{}, errors.NewBrokerError("NOT_FOUND", "stop order not found: "+req.StopOrderID, errors.ErrDataNotFound)
	}
	if s.status != wire.StopOrderStatusActive {
		return wire.CancelStopOrderResponse{}, errors.NewBrokerError("FAILED_PRECONDITION",
			fmt.Sprintf("cannot cancel stop order with status %s", s.status), errors.ErrInvalidOrder)
	}
	s.status = wire.StopOrderStatusCanceled
	return wire.CancelStopOrderResponse{Time: p.now()}, nil
}

// GetStopOrders lists the account's stop orders. An unspecified status
// lists active ones only.
func (p *PaperClient) GetStopOrders(ctx context.Context, req wire.GetStopOrdersRequest) (wire.GetStopOrdersResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account := req.AccountID
	if account == "" {
		account = p.config.Account
	}
	want := req.Status
	if want == "" || want == wire.StopOrderStatusUnspecified {
		want = wire.StopOrderStatusActive
	}

	var out wire.GetStopOrdersResponse
	for _, s := range p.stops {
		if s.account != account || (want != wire.StopOrderStatusAll && s.status != want) {
			continue
		}
		so := wire.StopOrder{
			StopOrderID:     s.id,
			LotsRequested:   s.req.Quantity,
			Figi:            s.req.InstrumentID,
			Direction:       s.req.Direction,
			Currency:        p.config.Currency,
			OrderType:       s.req.StopOrderType,
			CreateDate:      s.created,
			ExecutedAt:      s.fired,
			Status:          s.status,
			ExchangeOrderID: s.orderID,
		}
		if stop, err := money.ToDecimal(s.req.StopPrice); err == nil {
			mv, _ := money.MoneyFromDecimal(stop, p.config.Currency)
			so.StopPrice = &mv
		}
		out.StopOrders = append(out.StopOrders, so)
	}
	sort.Slice(out.StopOrders, func(i, j int) bool {
		return out.StopOrders[i].CreateDate.Before(out.StopOrders[j].CreateDate)
	})
	return out, nil
}

// GetCandles is served by the data client.
func (p *PaperClient) GetCandles(ctx context.Context, req wire.GetCandlesRequest) (wire.GetCandlesResponse, error) {
	if p.config.Data != nil {
		return p.config.Data.GetCandles(ctx, req)
	}
	return wire.GetCandlesResponse{}, errors.NewDataError("candles", req.InstrumentID, "no data client configured", errors.ErrDataNotFound)
}

// GetLastPrices returns prices set with SetPrice, falling back to the data
// client for unknown instruments.
func (p *PaperClient) GetLastPrices(ctx context.Context, req wire.GetLastPricesRequest) (wire.GetLastPricesResponse, error) {
	p.mu.Lock()
	var out wire.GetLastPricesResponse
	var missing []string
	for _, id := range req.InstrumentID {
		price, ok := p.prices[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		q, err := money.FromDecimal(price)
		if err != nil {
			p.mu.Unlock()
			return wire.GetLastPricesResponse{}, err
		}
		out.LastPrices = append(out.LastPrices, wire.LastPrice{Figi: id, Price: q, Time: p.now()})
	}
	p.mu.Unlock()

	if len(missing) > 0 && p.config.Data != nil {
		more, err := p.config.Data.GetLastPrices(ctx, wire.GetLastPricesRequest{InstrumentID: missing})
		if err != nil {
			return wire.GetLastPricesResponse{}, err
		}
		out.LastPrices = append(out.LastPrices, more.LastPrices...)
	}
	return out, nil
}

// GetAccounts returns the single paper account.
func (p *PaperClient) GetAccounts(ctx context.Context) (wire.GetAccountsResponse, error) {
	return wire.GetAccountsResponse{Accounts: []wire.Account{{
		ID:     p.config.Account,
		Type:   "ACCOUNT_TYPE_PAPER",
		Name:   "Paper trading",
		Status: "ACCOUNT_STATUS_OPEN",
	}}}, nil
}

// GetPositions returns the simulated cash and security balances.
func (p *PaperClient) GetPositions(ctx context.Context, req wire.PositionsRequest) (wire.PositionsResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cash, err := money.MoneyFromDecimal(p.cash, p.config.Currency)
	if err != nil {
		return wire.PositionsResponse{}, err
	}
	resp := wire.PositionsResponse{Money: []money.MoneyValue{cash}}
	for figi, balance := range p.positions {
		if balance != 0 {
			resp.Securities = append(resp.Securities, wire.PositionsSecurities{Figi: figi, Balance: balance})
		}
	}
	return resp, nil
}

// Shares lists the instruments added with AddInstrument, or those of the
// data client when one is configured.
func (p *PaperClient) Shares(ctx context.Context, req wire.InstrumentsRequest) (wire.SharesResponse, error) {
	if p.config.Data != nil {
		return p.config.Data.Shares(ctx, req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var resp wire.SharesResponse
	for _, inst := range p.instruments {
		share := wire.Share{
			Figi:      inst.FIGI,
			UID:       inst.UID,
			Ticker:    inst.Ticker,
			ClassCode: inst.ClassCode,
			Name:      inst.Name,
			Exchange:  inst.Exchange,
			Currency:  inst.Currency,
			Lot:       int32(inst.LotSize()),
		}
		if !inst.MinPriceIncrement.IsZero() {
			if q, err := money.FromDecimal(inst.MinPriceIncrement); err == nil {
				share.MinPriceIncrement = &q
			}
		}
		resp.Instruments = append(resp.Instruments, share)
	}
	return resp, nil
}

// OpenStream opens a simulated stream. With a data client the stream also
// carries that client's market data.
func (p *PaperClient) OpenStream(ctx context.Context) (Stream, error) {
	s := &paperStream{
		paper:    p,
		box:      newMailbox[wire.MarketDataResponse](),
		accounts: make(map[string]bool),
		done:     make(chan struct{}),
	}
	if p.config.Data != nil {
		up, err := p.config.Data.OpenStream(ctx)
		if err != nil {
			return nil, err
		}
		s.upstream = up
		go s.forward()
	}

	p.mu.Lock()
	p.streams[s] = struct{}{}
	p.mu.Unlock()
	return s, nil
}

type paperStream struct {
	paper    *PaperClient
	box      *mailbox[wire.MarketDataResponse]
	upstream Stream

	mu       sync.Mutex
	accounts map[string]bool

	once sync.Once
	done chan struct{}
}

func (s *paperStream) wants(account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[account]
}

func (s *paperStream) forward() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()
	for {
		msg, err := s.upstream.Recv(ctx)
		if err != nil {
			return
		}
		s.box.push(msg)
	}
}

// Send records order-trades subscriptions and acknowledges market data
// subscriptions, or forwards them to the data client's stream.
func (s *paperStream) Send(ctx context.Context, req wire.MarketDataRequest) error {
	select {
	case <-s.done:
		return errors.NewTransportError("send", errors.ErrConnectionFailed)
	default:
	}

	if req.SubscribeOrderTrades != nil {
		s.mu.Lock()
		for _, a := range req.SubscribeOrderTrades.Accounts {
			s.accounts[a] = true
		}
		s.mu.Unlock()
		return nil
	}
	if s.upstream != nil {
		return s.upstream.Send(ctx, req)
	}

	ack := func(ids []string) []wire.SubscriptionItem {
		items := make([]wire.SubscriptionItem, 0, len(ids))
		for _, id := range ids {
			items = append(items, wire.SubscriptionItem{InstrumentID: id, Figi: id, SubscriptionStatus: wire.SubscriptionStatusSuccess})
		}
		return items
	}
	switch {
	case req.SubscribeCandlesRequest != nil:
		ids := make([]string, 0, len(req.SubscribeCandlesRequest.Instruments))
		for _, i := range req.SubscribeCandlesRequest.Instruments {
			ids = append(ids, i.InstrumentID)
		}
		s.box.push(wire.MarketDataResponse{SubscribeCandlesResponse: &wire.SubscriptionResponse{Candles: ack(ids)}})
	case req.SubscribeTradesRequest != nil:
		ids := make([]string, 0, len(req.SubscribeTradesRequest.Instruments))
		for _, i := range req.SubscribeTradesRequest.Instruments {
			ids = append(ids, i.InstrumentID)
		}
		s.box.push(wire.MarketDataResponse{SubscribeTradesResponse: &wire.SubscriptionResponse{Trades: ack(ids)}})
	case req.SubscribeInfoRequest != nil:
		ids := make([]string, 0, len(req.SubscribeInfoRequest.Instruments))
		for _, i := range req.SubscribeInfoRequest.Instruments {
			ids = append(ids, i.InstrumentID)
		}
		s.box.push(wire.MarketDataResponse{SubscribeInfoResponse: &wire.SubscriptionResponse{Info: ack(ids)}})
	case req.Ping != nil:
		s.box.push(wire.MarketDataResponse{Ping: &wire.Ping{Time: req.Ping.Time}})
	}
	return nil
}

// Recv returns the next message in arrival order.
func (s *paperStream) Recv(ctx context.Context) (wire.MarketDataResponse, error) {
	for {
		if msg, ok := s.box.pop(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return wire.MarketDataResponse{}, ctx.Err()
		case <-s.done:
			return wire.MarketDataResponse{}, errors.NewTransportError("recv", errors.ErrConnectionFailed)
		case <-s.box.ready():
		}
	}
}

// Close detaches the stream from the paper broker.
func (s *paperStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.paper.mu.Lock()
		delete(s.paper.streams, s)
		s.paper.mu.Unlock()
		if s.upstream != nil {
			_ = s.upstream.Close()
		}
	})
	return nil
}

var _ Client = (*PaperClient)(nil)
