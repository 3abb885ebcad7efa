package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/trade"
)

var (
	sber = models.Instrument{
		FIGI: "BBG004730N88", UID: "e6123145-9665-43e0-8413-cd61b8aa9b13", Ticker: "SBER", ClassCode: "TQBR",
		Name: "Сбер Банк", Exchange: "MOEX", Currency: "rub", Lot: 10, MinPriceIncrement: decimal.RequireFromString("0.01"),
	}
	gazp = models.Instrument{
		FIGI: "BBG004730RP0", Ticker: "GAZP", ClassCode: "TQBR", Name: "Газпром",
		Exchange: "MOEX", Currency: "rub", Lot: 10, MinPriceIncrement: decimal.RequireFromString("0.01"),
	}
	aapl = models.Instrument{
		FIGI: "BBG000B9XRY4", Ticker: "AAPL", ClassCode: "SPBXM", Name: "Apple",
		Exchange: "SPB", Currency: "usd", Lot: 1, MinPriceIncrement: decimal.RequireFromString("0.01"),
	}
)

func TestInstrumentsLookupByFIGIOrTicker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveInstruments(ctx, []models.Instrument{sber, gazp, aapl}))

	byFIGI, err := s.GetInstrument(ctx, sber.FIGI)
	require.NoError(t, err)
	assert.Equal(t, "SBER", byFIGI.Ticker)
	assert.Equal(t, int64(10), byFIGI.Lot)
	assert.True(t, byFIGI.MinPriceIncrement.Equal(sber.MinPriceIncrement))

	byTicker, err := s.GetInstrument(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, aapl.FIGI, byTicker.FIGI)

	_, err = s.GetInstrument(ctx, "YNDX")
	assert.ErrorIs(t, err, errors.ErrSymbolNotFound)

	// Upsert replaces the row.
	renamed := sber
	renamed.Name = "Sberbank"
	require.NoError(t, s.SaveInstruments(ctx, []models.Instrument{renamed}))
	got, err := s.GetInstrument(ctx, sber.FIGI)
	require.NoError(t, err)
	assert.Equal(t, "Sberbank", got.Name)
}

func TestListInstrumentsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveInstruments(ctx, []models.Instrument{sber, gazp, aapl}))

	all, err := s.ListInstruments(ctx, InstrumentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"AAPL", "GAZP", "SBER"}, []string{all[0].Ticker, all[1].Ticker, all[2].Ticker})

	rub, err := s.ListInstruments(ctx, InstrumentFilter{Currency: "rub"})
	require.NoError(t, err)
	assert.Len(t, rub, 2)

	prefix, err := s.ListInstruments(ctx, InstrumentFilter{Ticker: "SB"})
	require.NoError(t, err)
	require.Len(t, prefix, 1)
	assert.Equal(t, sber.FIGI, prefix[0].FIGI)

	limited, err := s.ListInstruments(ctx, InstrumentFilter{ClassCode: "TQBR", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCandlesFreshnessIgnoresIncompleteBars(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	latest, err := s.GetCandlesFreshness(ctx, sber.FIGI, models.TF1M)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	bars := generateTestBars(3, decimal.NewFromInt(250), 100, models.TF1M)
	bars[2].Complete = false
	require.NoError(t, s.SaveCandles(ctx, sber.FIGI, models.TF1M, bars))

	latest, err = s.GetCandlesFreshness(ctx, sber.FIGI, models.TF1M)
	require.NoError(t, err)
	assert.True(t, latest.Equal(bars[1].Timestamp), "latest %s", latest)
}

func closedTrade(t *testing.T, strategy string, buy, sell string, at time.Time) trade.ClosedTrade {
	t.Helper()
	fill := func(dir models.Direction, price string, ts time.Time) order.Order {
		o, err := order.NewMarket(dir, 10)
		require.NoError(t, err)
		p, err := o.Post(fmt.Sprintf("%s-%s", dir, price))
		require.NoError(t, err)
		p, err = p.AddTransaction(models.NewTransaction(ts, 10, decimal.RequireFromString(price)))
		require.NoError(t, err)
		f, err := p.Fill(decimal.NewFromInt(3))
		require.NoError(t, err)
		return f
	}

	opened, err := trade.New(at, strategy, trade.Long, sber).Open(fill(models.Buy, buy, at))
	require.NoError(t, err)
	opened, err = opened.AddOrder(fill(models.Sell, sell, at.Add(time.Hour)))
	require.NoError(t, err)
	closed, err := opened.Close()
	require.NoError(t, err)
	return closed
}

func TestTradeJournal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	day := time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC)

	win := closedTrade(t, "T3", "301", "311", day)
	loss := closedTrade(t, "T3", "311", "305", day.Add(24*time.Hour))
	other := closedTrade(t, "T1", "300", "302", day.Add(48*time.Hour))

	require.NoError(t, s.LogTrade(ctx, "a", win))
	require.NoError(t, s.LogTrade(ctx, "b", loss))
	require.NoError(t, s.LogTrade(ctx, "c", other))

	records, err := s.GetTrades(ctx, TradeFilter{Strategy: "T3"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, trade.Long, records[0].Kind)
	assert.True(t, records[0].Result.Equal(decimal.NewFromInt(994)), "result %s", records[0].Result)
	assert.True(t, records[1].Result.Equal(decimal.NewFromInt(-606)), "result %s", records[1].Result)

	ranged, err := s.GetTrades(ctx, TradeFilter{StartDate: day.Add(12 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	summary := Summarize("T3", records)
	assert.Equal(t, 2, summary.TotalTrades)
	assert.Equal(t, 1, summary.WinningTrades)
	assert.Equal(t, 1, summary.LosingTrades)
	assert.InDelta(t, 388.0, summary.Profit, 1e-9)
}

func TestOpenTradesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trader.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	at := time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC)
	limit, err := order.NewLimit(models.Buy, 2, decimal.RequireFromString("300.5"))
	require.NoError(t, err)
	entry, err := order.Post(limit, "L-1")
	require.NoError(t, err)
	entry, err = order.AddTransaction(entry, models.NewTransaction(at, 1, decimal.RequireFromString("300.5")))
	require.NoError(t, err)
	entry, err = order.AddTransaction(entry, models.NewTransaction(at.Add(time.Minute), 1, decimal.RequireFromString("300.1")))
	require.NoError(t, err)
	entry, err = order.Fill(entry, decimal.RequireFromString("0.6"))
	require.NoError(t, err)

	opened, err := trade.New(at, "T3", trade.Long, sber).WithInfo("signal", "breakout").Open(entry)
	require.NoError(t, err)
	require.NoError(t, s.SaveOpenTrade(ctx, "ot-1", opened))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	list, err := s.ListOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].Quantity)
	assert.Equal(t, "SBER", list[0].Ticker)

	r, err := s.GetOpenTrade(ctx, "ot-1")
	require.NoError(t, err)
	restored, err := r.Restore(sber)
	require.NoError(t, err)
	assert.Equal(t, int64(2), restored.Quantity())
	assert.Equal(t, "breakout", restored.Info()["signal"])
	orders := restored.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, order.KindLimit, orders[0].Kind())
	op, ok := order.OperationOf(orders[0])
	require.True(t, ok)
	assert.True(t, op.Commission.Equal(decimal.RequireFromString("0.6")), "commission %s", op.Commission)
	assert.Len(t, order.TransactionsOf(orders[0]), 2)

	_, err = r.Restore(gazp)
	assert.Error(t, err)

	require.NoError(t, s.DeleteOpenTrade(ctx, "ot-1"))
	_, err = s.GetOpenTrade(ctx, "ot-1")
	assert.ErrorIs(t, err, errors.ErrDataNotFound)
}

type fakeSource struct {
	instruments []models.Instrument
	bars        []models.Bar
	err         error
	barCalls    int
}

func (f *fakeSource) Instruments(ctx context.Context) ([]models.Instrument, error) {
	return f.instruments, f.err
}

func (f *fakeSource) Bars(ctx context.Context, figi string, tf models.TimeFrame, from, to time.Time) ([]models.Bar, error) {
	f.barCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Bar
	for _, b := range f.bars {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestSyncManagerInstrumentMissTriggersSync(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	src := &fakeSource{instruments: []models.Instrument{sber, gazp}}
	sm := NewSyncManager(s, src, DefaultSyncConfig(), zerolog.Nop())

	assert.False(t, sm.GetDataFreshness(SyncTypeInstruments).IsFresh)

	inst, err := sm.Instrument(ctx, "GAZP")
	require.NoError(t, err)
	assert.Equal(t, gazp.FIGI, inst.FIGI)
	assert.True(t, sm.GetDataFreshness(SyncTypeInstruments).IsFresh)

	// A fresh cache does not resync on a miss.
	src.instruments = append(src.instruments, aapl)
	_, err = sm.Instrument(ctx, "AAPL")
	assert.ErrorIs(t, err, errors.ErrSymbolNotFound)
}

func TestSyncManagerBarsFetchesOnlyNewBars(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bars := generateTestBars(10, decimal.NewFromInt(250), 100, models.TF1M)
	src := &fakeSource{bars: bars}
	sm := NewSyncManager(s, src, DefaultSyncConfig(), zerolog.Nop())

	from, to := bars[0].Timestamp, bars[9].Timestamp
	got, err := sm.Bars(ctx, sber.FIGI, models.TF1M, from, to)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, 1, src.barCalls)

	// The remote is down but everything requested is cached.
	src.err = fmt.Errorf("remote: %w", errors.ErrConnectionFailed)
	got, err = sm.Bars(ctx, sber.FIGI, models.TF1M, from, to.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, 2, src.barCalls)

	_, err = sm.Bars(ctx, gazp.FIGI, models.TF1M, from, to)
	assert.ErrorIs(t, err, errors.ErrConnectionFailed)
}
