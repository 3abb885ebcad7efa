package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/money"
	"tinkoff-trader/internal/resilience"
	"tinkoff-trader/internal/wire"
	"tinkoff-trader/pkg/utils"
)

func testRetry() utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
}

func newTestTinkoff(t *testing.T, handler http.HandlerFunc) *TinkoffClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewTinkoffClient(TinkoffConfig{
		Token:     "t.secret",
		RESTURL:   srv.URL + "/rest",
		StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		AppName:   "tinkoff-trader",
		Retry:     testRetry(),
	})
	require.NoError(t, err)
	return c
}

func TestNewTinkoffClientRequiresToken(t *testing.T) {
	_, err := NewTinkoffClient(TinkoffConfig{})
	assert.ErrorIs(t, err, errors.ErrNotAuthenticated)
}

func TestTinkoffPostOrderRequest(t *testing.T) {
	var got wire.PostOrderRequest
	c := newTestTinkoff(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/tinkoff.public.invest.api.contract.v1.OrdersService/PostOrder", r.URL.Path)
		assert.Equal(t, "Bearer t.secret", r.Header.Get("Authorization"))
		assert.Equal(t, "tinkoff-trader", r.Header.Get("x-app-name"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"orderId":"R1","executionReportStatus":"EXECUTION_REPORT_STATUS_NEW","lotsRequested":"3","lotsExecuted":"0","figi":"BBG004730N88","direction":"ORDER_DIRECTION_BUY","orderType":"ORDER_TYPE_LIMIT"}`))
	})

	price := money.Quotation{Units: 290, Nano: 500_000_000}
	resp, err := c.PostOrder(context.Background(), wire.PostOrderRequest{
		InstrumentID: sber.FIGI,
		Quantity:     3,
		Price:        &price,
		Direction:    wire.OrderDirectionBuy,
		AccountID:    "2000",
		OrderType:    wire.OrderTypeLimit,
		OrderID:      "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "R1", resp.OrderID)
	assert.Equal(t, int64(3), resp.LotsRequested)
	assert.Equal(t, wire.ExecutionReportStatusNew, resp.ExecutionReportStatus)

	assert.Equal(t, int64(3), got.Quantity)
	require.NotNil(t, got.Price)
	assert.Equal(t, price, *got.Price)
	assert.Equal(t, "idem-1", got.OrderID)
}

func TestTinkoffGetStopOrders(t *testing.T) {
	var got wire.GetStopOrdersRequest
	c := newTestTinkoff(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/tinkoff.public.invest.api.contract.v1.StopOrdersService/GetStopOrders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"stopOrders":[{"stopOrderId":"S1","lotsRequested":"1","figi":"BBG004730N88",` +
			`"direction":"STOP_ORDER_DIRECTION_SELL","currency":"rub","orderType":"STOP_ORDER_TYPE_STOP_LOSS",` +
			`"createDate":"2025-03-03T10:00:00Z","activationDateTime":"2025-03-03T11:00:00Z",` +
			`"status":"STOP_ORDER_STATUS_EXECUTED","exchangeOrderId":"R7"}]}`))
	})

	resp, err := c.GetStopOrders(context.Background(), wire.GetStopOrdersRequest{AccountID: "2000", Status: wire.StopOrderStatusAll})
	require.NoError(t, err)
	assert.Equal(t, "2000", got.AccountID)
	assert.Equal(t, wire.StopOrderStatusAll, got.Status)

	require.Len(t, resp.StopOrders, 1)
	so := resp.StopOrders[0]
	assert.Equal(t, wire.StopOrderStatusExecuted, so.Status)
	assert.Equal(t, "R7", so.ExchangeOrderID)
	assert.Equal(t, int64(1), so.LotsRequested)
	require.NotNil(t, so.ExecutedAt)
	assert.Equal(t, 11, so.ExecutedAt.Hour())
}

func TestTinkoffErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		sentinel error
		calls    int32
	}{
		{"unauthenticated", http.StatusUnauthorized, errors.ErrNotAuthenticated, 1},
		{"not found", http.StatusNotFound, errors.ErrDataNotFound, 1},
		{"rate limited", http.StatusTooManyRequests, errors.ErrRateLimited, 3},
		{"server error", http.StatusInternalServerError, nil, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestTinkoff(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"code":3,"message":"30052","description":"instrument forbidden"}`))
			})

			_, err := c.GetOrderState(context.Background(), wire.GetOrderStateRequest{AccountID: "2000", OrderID: "R1"})
			var be *errors.BrokerError
			require.True(t, errors.As(err, &be), "got %v", err)
			assert.Equal(t, "30052: instrument forbidden", be.Message)
			if tc.sentinel != nil {
				assert.ErrorIs(t, err, tc.sentinel)
			}
			assert.Equal(t, tc.calls, calls.Load())
		})
	}
}

func TestTinkoffRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	c := newTestTinkoff(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"accounts":[{"id":"2000","type":"ACCOUNT_TYPE_TINKOFF","name":"Broker","status":"ACCOUNT_STATUS_OPEN"}]}`))
	})

	api := NewAPI(c, "2000", zerolog.Nop())
	accounts, err := api.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, models.Account{ID: "2000", Name: "Broker", Type: "ACCOUNT_TYPE_TINKOFF", Status: "ACCOUNT_STATUS_OPEN"}, accounts[0])
	assert.Equal(t, int32(2), calls.Load())
}

func TestTinkoffBreakerStopsCallingFailingVenue(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c, err := NewTinkoffClient(TinkoffConfig{
		Token:   "t.secret",
		RESTURL: srv.URL,
		Retry:   testRetry(),
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour},
	})
	require.NoError(t, err)

	_, err = c.GetAccounts(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	_, err = c.GetAccounts(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load(), "open circuit must not reach the venue")
	assert.Equal(t, resilience.CircuitOpen, c.BreakerStats().State)
}

func TestTinkoffStreamMergesBothSockets(t *testing.T) {
	var subscribed atomic.Bool
	c := newTestTinkoff(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"json"}})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		ctx := r.Context()

		switch r.URL.Path {
		case "/ws/" + marketDataPath:
			var req wire.MarketDataRequest
			if wsjson.Read(ctx, conn, &req) != nil || req.SubscribeCandlesRequest == nil {
				return
			}
			subscribed.Store(true)
			_ = wsjson.Write(ctx, conn, wire.MarketDataResponse{Candle: &wire.Candle{
				Figi:     sber.FIGI,
				Interval: wire.SubscriptionIntervalOneMinute,
				Close:    money.Quotation{Units: 301},
				Volume:   7,
				Time:     time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
			}})
		case "/ws/" + tradesPath:
			var req wire.TradesStreamRequest
			if wsjson.Read(ctx, conn, &req) != nil || len(req.Accounts) != 1 {
				return
			}
			_ = wsjson.Write(ctx, conn, wire.TradesStreamResponse{OrderTrades: &wire.OrderTrades{
				OrderID:   "R1",
				AccountID: req.Accounts[0],
				Trades:    []wire.OrderTrade{{Price: money.Quotation{Units: 290}, Quantity: 3, TradeID: "X1"}},
			}})
		default:
			return
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := c.OpenStream(ctx)
	require.NoError(t, err)
	defer conn.Close()

	req, err := subscriptionRequest(Subscription{Instrument: sber, Data: DataBars, TimeFrame: models.TF1M}, wire.SubscriptionActionSubscribe)
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, req))

	msg, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.PayloadCandle, msg.Kind())
	assert.Equal(t, int64(301), msg.Candle.Close.Units)
	assert.True(t, subscribed.Load())

	require.NoError(t, conn.Send(ctx, wire.MarketDataRequest{SubscribeOrderTrades: &wire.TradesStreamRequest{Accounts: []string{"2000"}}}))
	msg, err = conn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.PayloadOrderTrades, msg.Kind())
	assert.Equal(t, "R1", msg.OrderTrades.OrderID)
	assert.Equal(t, "2000", msg.OrderTrades.AccountID)

	_ = conn.Close()
	_, err = conn.Recv(ctx)
	assert.ErrorIs(t, err, errors.ErrTransport)
}
