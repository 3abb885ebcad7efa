package trade

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
)

var (
	dt0  = time.Date(2023, 8, 1, 10, 0, 0, 0, time.UTC)
	sber = models.Instrument{FIGI: "BBG004730N88", Ticker: "SBER", ClassCode: "TQBR", Lot: 10, Currency: "rub"}
)

func filled(t testing.TB, dir models.Direction, lots int64, price string, at time.Time, commission string) order.Order {
	t.Helper()
	o, err := order.NewMarket(dir, lots)
	require.NoError(t, err)
	p, err := o.Post("id-" + price)
	require.NoError(t, err)
	p, err = p.AddTransaction(models.NewTransaction(at, lots, decimal.RequireFromString(price)))
	require.NoError(t, err)
	f, err := p.Fill(decimal.RequireFromString(commission))
	require.NoError(t, err)
	return f
}

func TestClosedTradeScenario(t *testing.T) {
	tr := New(dt0, "T3", Long, sber)
	assert.Equal(t, StatusNew, tr.Status())

	buy := filled(t, models.Buy, 10, "301", dt0.Add(7*time.Minute), "3")
	opened, err := tr.Open(buy)
	require.NoError(t, err)
	assert.Equal(t, StatusOpened, opened.Status())
	assert.Equal(t, int64(10), opened.Quantity())

	sell := filled(t, models.Sell, 10, "311", dt0.Add(24*time.Hour+7*time.Minute), "3")
	opened, err = opened.AddOrder(sell)
	require.NoError(t, err)

	closed, err := opened.Close()
	require.NoError(t, err)

	assert.Equal(t, int64(0), closed.Quantity())
	assert.Equal(t, int64(10), closed.BuyQuantity())
	assert.Equal(t, int64(10), closed.SellQuantity())
	assert.True(t, closed.BuyValue().Equal(decimal.NewFromInt(30100)), "buy value %s", closed.BuyValue())
	assert.True(t, closed.SellValue().Equal(decimal.NewFromInt(31100)), "sell value %s", closed.SellValue())
	assert.True(t, closed.Commission().Equal(decimal.NewFromInt(6)), "commission %s", closed.Commission())
	assert.True(t, closed.Result().Equal(decimal.NewFromInt(994)), "result %s", closed.Result())
	assert.True(t, closed.ResultPercent().GreaterThan(decimal.RequireFromString("3.3")))
	assert.True(t, closed.BuyAverage().Equal(decimal.NewFromInt(301)))
	assert.True(t, closed.SellAverage().Equal(decimal.NewFromInt(311)))
	assert.Equal(t, 86400.0, closed.Duration().Seconds())
	assert.True(t, closed.Speed().Equal(decimal.NewFromInt(994)), "speed %s", closed.Speed())
	assert.True(t, closed.SpeedPercent().Equal(closed.ResultPercent()))
	assert.True(t, closed.IsWin())
	assert.False(t, closed.IsLoss())
}

func TestOpenCloseTimesIgnoreOrderListOrder(t *testing.T) {
	late := filled(t, models.Buy, 1, "10", dt0.Add(3*time.Hour), "0")
	early := filled(t, models.Buy, 1, "10", dt0.Add(time.Hour), "0")
	exit := filled(t, models.Sell, 2, "11", dt0.Add(2*time.Hour), "0")

	opened, err := New(dt0, "s", Long, sber).Open(late)
	require.NoError(t, err)
	opened, err = opened.AddOrder(early)
	require.NoError(t, err)
	opened, err = opened.AddOrder(exit)
	require.NoError(t, err)

	closed, err := opened.Close()
	require.NoError(t, err)
	assert.Equal(t, dt0.Add(time.Hour), closed.OpenTime())
	assert.Equal(t, dt0.Add(3*time.Hour), closed.CloseTime())
	assert.Equal(t, 2*time.Hour, closed.Duration())
}

func TestOpenRequiresFilledOrder(t *testing.T) {
	m, _ := order.NewMarket(models.Buy, 1)
	p, _ := m.Post("x")

	_, err := New(dt0, "s", Long, sber).Open(p)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	opened, err := New(dt0, "s", Long, sber).Open(filled(t, models.Buy, 1, "1", dt0, "0"))
	require.NoError(t, err)
	_, err = opened.AddOrder(m)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Len(t, opened.Orders(), 1)
}

func TestStopAndTakeNotCounted(t *testing.T) {
	opened, err := New(dt0, "s", Long, sber).Open(filled(t, models.Buy, 4, "100", dt0, "0"))
	require.NoError(t, err)

	sl, _ := order.NewStop(order.StopLoss, models.Sell, 4, decimal.NewFromInt(95), nil)
	postedSL, _ := sl.Post("sl")
	tp, _ := order.NewStop(order.TakeProfit, models.Sell, 4, decimal.NewFromInt(110), nil)
	postedTP, _ := tp.Post("tp")

	protected := opened.SetStop(postedSL).SetTake(postedTP)
	assert.Equal(t, int64(4), protected.Quantity())

	got, ok := protected.StopLoss()
	require.True(t, ok)
	assert.Equal(t, "sl", got.BrokerID())
	_, ok = opened.StopLoss()
	assert.False(t, ok, "SetStop must not modify the receiver")
}

// Property: Close succeeds exactly when buys and sells cancel out, and the
// resulting trade has zero quantity.
func TestProperty_CloseRequiresFlatPosition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("close succeeds iff quantity == 0", prop.ForAll(
		func(buyLots, sellLots int64, forceFlat bool) bool {
			if forceFlat {
				sellLots = buyLots
			}
			opened, err := New(dt0, "p", Long, sber).Open(filled(t, models.Buy, buyLots, "100", dt0, "1"))
			if err != nil {
				return false
			}
			opened, err = opened.AddOrder(filled(t, models.Sell, sellLots, "101", dt0.Add(time.Hour), "1"))
			if err != nil {
				return false
			}

			closed, err := opened.Close()
			if buyLots == sellLots {
				return err == nil && closed.Quantity() == 0
			}
			return errors.Is(err, errors.ErrTradeNotFlat) && errors.Is(err, errors.ErrInvalidTransition)
		},
		gen.Int64Range(1, 100),
		gen.Int64Range(1, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestBookApply(t *testing.T) {
	book := NewBook()
	id := book.Add(New(dt0, "T3", Short, sber).WithInfo("signal", "breakdown"))
	require.NotEmpty(t, id)

	got, err := book.Apply(id, filled(t, models.Sell, 2, "300", dt0, "1"))
	require.NoError(t, err)
	assert.Equal(t, StatusOpened, got.Status())

	stop, _ := order.NewStop(order.StopLoss, models.Buy, 2, decimal.NewFromInt(305), nil)
	postedStop, _ := stop.Post("S")
	require.NoError(t, book.Protect(id, postedStop))

	got, err = book.Apply(id, filled(t, models.Buy, 1, "290", dt0.Add(time.Minute), "1"))
	require.NoError(t, err)
	assert.Equal(t, StatusOpened, got.Status())
	assert.Equal(t, 1, book.Len())

	got, err = book.Apply(id, filled(t, models.Buy, 1, "290", dt0.Add(2*time.Minute), "1"))
	require.NoError(t, err)
	closed, ok := got.(ClosedTrade)
	require.True(t, ok)
	assert.True(t, closed.Result().Equal(decimal.NewFromInt(197)), "result %s", closed.Result())
	_, hasStop := closed.StopLoss()
	assert.True(t, hasStop)
	assert.Equal(t, "breakdown", closed.Info()["signal"])
	assert.Equal(t, 0, book.Len())

	_, err = book.Apply(id, filled(t, models.Buy, 1, "290", dt0, "0"))
	assert.ErrorIs(t, err, errors.ErrDataNotFound)
}

func TestSummary(t *testing.T) {
	s := SummarizeResults("demo", []float64{10, 11, -1})

	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.Equal(t, 21.0, s.GrossProfit)
	assert.Equal(t, -1.0, s.GrossLoss)
	assert.Equal(t, 20.0, s.Profit)
	assert.Equal(t, 21.0, s.Ratio)
	assert.InDelta(t, 66.6666, s.PercentProfitable, 1e-3)
	assert.Equal(t, 11.0, s.LargestWin)
	assert.Equal(t, -1.0, s.LargestLoss)
	assert.Equal(t, 10.5, s.AverageWin)
	assert.Equal(t, -1.0, s.AverageLoss)
	assert.InDelta(t, 20.0/3.0, s.AverageTrade, 1e-9)
	assert.Equal(t, 2, s.MaxWinSeries)
	assert.Equal(t, 1, s.MaxLossSeries)

	empty := SummarizeResults("empty", nil)
	assert.Equal(t, 0, empty.TotalTrades)
	assert.Equal(t, 0.0, empty.Ratio)
}

func TestListSummary(t *testing.T) {
	win, err := New(dt0, "a", Long, sber).Open(filled(t, models.Buy, 1, "100", dt0, "0"))
	require.NoError(t, err)
	win, err = win.AddOrder(filled(t, models.Sell, 1, "101", dt0.Add(time.Hour), "0"))
	require.NoError(t, err)
	closedWin, err := win.Close()
	require.NoError(t, err)

	list := NewList("all", closedWin)
	assert.Equal(t, 1, list.Len())

	s := list.Summary()
	assert.Equal(t, "all", s.Name)
	assert.Equal(t, 10.0, s.Profit)
	assert.Equal(t, noLossRatio, s.Ratio)

	losers := list.Filter("losers", ClosedTrade.IsLoss)
	assert.Equal(t, 0, losers.Len())
}
