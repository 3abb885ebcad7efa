package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinkoff-trader/internal/money"
	"tinkoff-trader/internal/wire"
)

func quote(s string) *money.Quotation {
	q, err := money.FromDecimal(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return &q
}

func TestPaperMarketOrderFillsAtLastPrice(t *testing.T) {
	ctx := context.Background()
	p := newPaper("0.0005")
	p.SetPrice(sber.FIGI, decimal.NewFromInt(300))

	resp, err := p.PostOrder(ctx, wire.PostOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 2, Direction: wire.OrderDirectionBuy, OrderType: wire.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusFill, resp.ExecutionReportStatus)
	assert.Equal(t, int64(2), resp.LotsExecuted)

	st, err := p.GetOrderState(ctx, wire.GetOrderStateRequest{OrderID: resp.OrderID})
	require.NoError(t, err)
	require.Len(t, st.Stages, 1)
	assert.Equal(t, int64(2), st.Stages[0].Quantity)
	// 2 lots * 10 shares * 300 * 0.0005
	fee, err := money.MoneyToDecimal(*st.ExecutedCommission)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(3)), "commission %s", fee)

	pos, err := p.GetPositions(ctx, wire.PositionsRequest{})
	require.NoError(t, err)
	require.Len(t, pos.Securities, 1)
	assert.Equal(t, int64(20), pos.Securities[0].Balance)
	cash, err := money.MoneyToDecimal(pos.Money[0])
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(1_000_000-6000-3)), "cash %s", cash)
}

func TestPaperRejections(t *testing.T) {
	ctx := context.Background()
	p := newPaper("0")

	resp, err := p.PostOrder(ctx, wire.PostOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 1, Direction: wire.OrderDirectionBuy, OrderType: wire.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusRejected, resp.ExecutionReportStatus)
	assert.Equal(t, "no market price", resp.Message)

	p.SetPrice(sber.FIGI, decimal.NewFromInt(300))
	resp, err = p.PostOrder(ctx, wire.PostOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 1000, Direction: wire.OrderDirectionBuy, OrderType: wire.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusRejected, resp.ExecutionReportStatus)
	assert.Contains(t, resp.Message, "insufficient funds")

	_, err = p.PostOrder(ctx, wire.PostOrderRequest{InstrumentID: sber.FIGI, Quantity: 0, OrderType: wire.OrderTypeMarket})
	assert.Error(t, err)
}

func TestPaperLimitOrderRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	p := newPaper("0")
	p.SetPrice(sber.FIGI, decimal.NewFromInt(300))

	resp, err := p.PostOrder(ctx, wire.PostOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 1, Price: quote("305.5"), Direction: wire.OrderDirectionSell, OrderType: wire.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusNew, resp.ExecutionReportStatus)

	p.SetPrice(sber.FIGI, decimal.NewFromInt(305))
	st, err := p.GetOrderState(ctx, wire.GetOrderStateRequest{OrderID: resp.OrderID})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusNew, st.ExecutionReportStatus)

	p.SetPrice(sber.FIGI, decimal.NewFromInt(306))
	st, err = p.GetOrderState(ctx, wire.GetOrderStateRequest{OrderID: resp.OrderID})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusFill, st.ExecutionReportStatus)
	// Resting limits fill at their own price.
	price, err := money.MoneyToDecimal(st.Stages[0].Price)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("305.5")), "price %s", price)

	_, err = p.CancelOrder(ctx, wire.CancelOrderRequest{OrderID: resp.OrderID})
	assert.Error(t, err, "a filled order cannot be cancelled")
}

func TestPaperStopTriggersMarketOrder(t *testing.T) {
	ctx := context.Background()
	p := newPaper("0")
	p.SetPrice(sber.FIGI, decimal.NewFromInt(300))

	stop, err := p.PostStopOrder(ctx, wire.PostStopOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 1, StopPrice: *quote("295"),
		Direction: wire.StopOrderDirectionSell, StopOrderType: wire.StopOrderTypeStopLoss,
	})
	require.NoError(t, err)

	p.SetPrice(sber.FIGI, decimal.NewFromInt(296))
	_, err = p.CancelStopOrder(ctx, wire.CancelStopOrderRequest{StopOrderID: "missing"})
	assert.Error(t, err)

	p.SetPrice(sber.FIGI, decimal.NewFromInt(294))
	_, err = p.CancelStopOrder(ctx, wire.CancelStopOrderRequest{StopOrderID: stop.StopOrderID})
	assert.Error(t, err, "a triggered stop cannot be cancelled")

	pos, err := p.GetPositions(ctx, wire.PositionsRequest{})
	require.NoError(t, err)
	require.Len(t, pos.Securities, 1)
	assert.Equal(t, int64(-10), pos.Securities[0].Balance)

	active, err := p.GetStopOrders(ctx, wire.GetStopOrdersRequest{})
	require.NoError(t, err)
	assert.Empty(t, active.StopOrders)

	all, err := p.GetStopOrders(ctx, wire.GetStopOrdersRequest{Status: wire.StopOrderStatusAll})
	require.NoError(t, err)
	require.Len(t, all.StopOrders, 1)
	executed := all.StopOrders[0]
	assert.Equal(t, stop.StopOrderID, executed.StopOrderID)
	assert.Equal(t, wire.StopOrderStatusExecuted, executed.Status)
	require.NotEmpty(t, executed.ExchangeOrderID)
	require.NotNil(t, executed.ExecutedAt)

	st, err := p.GetOrderState(ctx, wire.GetOrderStateRequest{OrderID: executed.ExchangeOrderID})
	require.NoError(t, err)
	assert.Equal(t, wire.ExecutionReportStatusFill, st.ExecutionReportStatus)
	assert.Equal(t, stop.StopOrderID, st.OrderRequestID)
}

func TestPaperStopCancel(t *testing.T) {
	ctx := context.Background()
	p := newPaper("0")

	stop, err := p.PostStopOrder(ctx, wire.PostStopOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 1, StopPrice: *quote("310"),
		Direction: wire.StopOrderDirectionBuy, StopOrderType: wire.StopOrderTypeStopLoss,
	})
	require.NoError(t, err)

	active, err := p.GetStopOrders(ctx, wire.GetStopOrdersRequest{AccountID: "paper"})
	require.NoError(t, err)
	require.Len(t, active.StopOrders, 1)

	_, err = p.CancelStopOrder(ctx, wire.CancelStopOrderRequest{StopOrderID: stop.StopOrderID})
	require.NoError(t, err)

	canceled, err := p.GetStopOrders(ctx, wire.GetStopOrdersRequest{Status: wire.StopOrderStatusCanceled})
	require.NoError(t, err)
	require.Len(t, canceled.StopOrders, 1)

	p.SetPrice(sber.FIGI, decimal.NewFromInt(320))
	pos, err := p.GetPositions(ctx, wire.PositionsRequest{})
	require.NoError(t, err)
	assert.Empty(t, pos.Securities, "a canceled stop never fires")
}

func TestPaperStreamReportsOnlySubscribedAccounts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p := newPaper("0")
	p.SetPrice(sber.FIGI, decimal.NewFromInt(300))

	mine, err := p.OpenStream(ctx)
	require.NoError(t, err)
	defer mine.Close()
	other, err := p.OpenStream(ctx)
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, mine.Send(ctx, wire.MarketDataRequest{SubscribeOrderTrades: &wire.TradesStreamRequest{Accounts: []string{"paper"}}}))
	require.NoError(t, other.Send(ctx, wire.MarketDataRequest{SubscribeOrderTrades: &wire.TradesStreamRequest{Accounts: []string{"someone-else"}}}))

	resp, err := p.PostOrder(ctx, wire.PostOrderRequest{
		InstrumentID: sber.FIGI, Quantity: 1, Direction: wire.OrderDirectionBuy, OrderType: wire.OrderTypeMarket, AccountID: "paper",
	})
	require.NoError(t, err)

	msg, err := mine.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.PayloadOrderTrades, msg.Kind())
	assert.Equal(t, resp.OrderID, msg.OrderTrades.OrderID)
	require.Len(t, msg.OrderTrades.Trades, 1)
	assert.Equal(t, "PAPER-TRADE-1", msg.OrderTrades.Trades[0].TradeID)

	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err = other.Recv(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPaperStreamAcksSubscriptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p := newPaper("0")
	s, err := p.OpenStream(ctx)
	require.NoError(t, err)

	req, err := subscriptionRequest(Subscription{Instrument: sber, Data: DataStatus}, wire.SubscriptionActionSubscribe)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, req))

	msg, err := s.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.PayloadSubscription, msg.Kind())
	items := msg.Subscription().Items()
	require.Len(t, items, 1)
	assert.Equal(t, wire.SubscriptionStatusSuccess, items[0].SubscriptionStatus)

	require.NoError(t, s.Close())
	assert.Error(t, s.Send(ctx, req))
	_, err = s.Recv(ctx)
	assert.Error(t, err)
}
