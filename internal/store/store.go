// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/trade"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Instruments
	SaveInstruments(ctx context.Context, instruments []models.Instrument) error
	GetInstrument(ctx context.Context, key string) (models.Instrument, error)
	ListInstruments(ctx context.Context, filter InstrumentFilter) ([]models.Instrument, error)

	// Candles
	SaveCandles(ctx context.Context, figi string, tf models.TimeFrame, bars []models.Bar) error
	GetCandles(ctx context.Context, figi string, tf models.TimeFrame, from, to time.Time) ([]models.Bar, error)
	GetCandlesFreshness(ctx context.Context, figi string, tf models.TimeFrame) (time.Time, error)

	// Trade journal
	LogTrade(ctx context.Context, id string, t trade.ClosedTrade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]TradeRecord, error)

	// Open trades, kept until they close
	SaveOpenTrade(ctx context.Context, id string, t trade.OpenedTrade) error
	GetOpenTrade(ctx context.Context, id string) (OpenTradeRecord, error)
	ListOpenTrades(ctx context.Context) ([]OpenTradeRecord, error)
	DeleteOpenTrade(ctx context.Context, id string) error

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// InstrumentFilter represents filters for listing instruments.
type InstrumentFilter struct {
	Ticker    string
	ClassCode string
	Currency  string
	Limit     int
}

// TradeFilter represents filters for querying the trade journal.
type TradeFilter struct {
	FIGI      string
	Strategy  string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// TradeRecord is a closed trade as kept in the journal.
type TradeRecord struct {
	ID            string
	Strategy      string
	FIGI          string
	Ticker        string
	Kind          trade.Kind
	OpenTime      time.Time
	CloseTime     time.Time
	BuyQuantity   int64
	BuyValue      decimal.Decimal
	SellValue     decimal.Decimal
	Commission    decimal.Decimal
	Result        decimal.Decimal
	ResultPercent decimal.Decimal
}

// NewTradeRecord flattens a closed trade for the journal.
func NewTradeRecord(id string, t trade.ClosedTrade) TradeRecord {
	inst := t.Instrument()
	return TradeRecord{
		ID:            id,
		Strategy:      t.Strategy(),
		FIGI:          inst.FIGI,
		Ticker:        inst.Ticker,
		Kind:          t.Kind(),
		OpenTime:      t.OpenTime(),
		CloseTime:     t.CloseTime(),
		BuyQuantity:   t.BuyQuantity(),
		BuyValue:      t.BuyValue(),
		SellValue:     t.SellValue(),
		Commission:    t.Commission(),
		Result:        t.Result(),
		ResultPercent: t.ResultPercent(),
	}
}

// Summarize computes trade list metrics over journal records in order.
func Summarize(name string, records []TradeRecord) trade.Summary {
	results := make([]float64, len(records))
	for i, r := range records {
		results[i] = r.Result.InexactFloat64()
	}
	return trade.SummarizeResults(name, results)
}

// OpenTradeRecord is an opened trade with enough detail to rebuild it.
type OpenTradeRecord struct {
	ID        string
	Strategy  string
	FIGI      string
	Ticker    string
	Kind      trade.Kind
	Timestamp time.Time
	Quantity  int64
	Info      map[string]string
	Orders    []FilledOrderRecord
}

// FilledOrderRecord is one filled order of an open trade.
type FilledOrderRecord struct {
	ID           string               `json:"id"`
	Kind         order.Kind           `json:"kind"`
	Direction    models.Direction     `json:"direction"`
	Lots         int64                `json:"lots"`
	Price        *decimal.Decimal     `json:"price,omitempty"`
	Commission   decimal.Decimal      `json:"commission"`
	Transactions []models.Transaction `json:"transactions"`
}

// NewOpenTradeRecord flattens an opened trade. Attached stops are not
// kept; the venue holds them.
func NewOpenTradeRecord(id string, t trade.OpenedTrade) OpenTradeRecord {
	inst := t.Instrument()
	r := OpenTradeRecord{
		ID:        id,
		Strategy:  t.Strategy(),
		FIGI:      inst.FIGI,
		Ticker:    inst.Ticker,
		Kind:      t.Kind(),
		Timestamp: t.Timestamp(),
		Quantity:  t.Quantity(),
		Info:      t.Info(),
	}
	for _, o := range t.Orders() {
		fo := FilledOrderRecord{
			ID:           order.BrokerID(o),
			Kind:         o.Kind(),
			Direction:    o.Direction(),
			Lots:         o.Lots(),
			Transactions: order.TransactionsOf(o),
		}
		if op, ok := order.OperationOf(o); ok {
			fo.Commission = op.Commission
		}
		if p, ok := o.(interface{ Price() decimal.Decimal }); ok {
			price := p.Price()
			fo.Price = &price
		}
		r.Orders = append(r.Orders, fo)
	}
	return r
}

// Restore rebuilds the opened trade on inst, which must be the record's
// instrument.
func (r OpenTradeRecord) Restore(inst models.Instrument) (trade.OpenedTrade, error) {
	if inst.FIGI != r.FIGI {
		return trade.OpenedTrade{}, errors.NewValidationError("instrument", inst.FIGI,
			fmt.Sprintf("trade %s is on %s", r.ID, r.FIGI))
	}
	if len(r.Orders) == 0 {
		return trade.OpenedTrade{}, fmt.Errorf("trade %s has no orders: %w", r.ID, errors.ErrDataNotFound)
	}

	nt := trade.New(r.Timestamp, r.Strategy, r.Kind, inst)
	for k, v := range r.Info {
		nt = nt.WithInfo(k, v)
	}

	var opened trade.OpenedTrade
	for i, fo := range r.Orders {
		filled, err := fo.restore()
		if err != nil {
			return trade.OpenedTrade{}, fmt.Errorf("trade %s order %s: %w", r.ID, fo.ID, err)
		}
		if i == 0 {
			opened, err = nt.Open(filled)
		} else {
			opened, err = opened.AddOrder(filled)
		}
		if err != nil {
			return trade.OpenedTrade{}, err
		}
	}
	return opened, nil
}

func (fo FilledOrderRecord) restore() (order.Order, error) {
	var (
		o   order.Order
		err error
	)
	if fo.Kind == order.KindLimit && fo.Price != nil {
		o, err = order.NewLimit(fo.Direction, fo.Lots, *fo.Price)
	} else {
		o, err = order.NewMarket(fo.Direction, fo.Lots)
	}
	if err != nil {
		return nil, err
	}
	if o, err = order.Post(o, fo.ID); err != nil {
		return nil, err
	}
	for _, tx := range fo.Transactions {
		if o, err = order.AddTransaction(o, tx); err != nil {
			return nil, err
		}
	}
	return order.Fill(o, fo.Commission)
}
