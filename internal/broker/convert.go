package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/money"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/stream"
	"tinkoff-trader/internal/wire"
)

// All wire <-> domain mapping lives in this file. Enum values without a
// domain counterpart map to errors.ErrUnmapped.

func directionToWire(d models.Direction) wire.OrderDirection {
	if d == models.Sell {
		return wire.OrderDirectionSell
	}
	return wire.OrderDirectionBuy
}

func directionFromWire(d wire.OrderDirection) (models.Direction, error) {
	switch d {
	case wire.OrderDirectionBuy:
		return models.Buy, nil
	case wire.OrderDirectionSell:
		return models.Sell, nil
	}
	return "", errors.Unmapped("order direction", d)
}

func stopDirectionToWire(d models.Direction) wire.StopOrderDirection {
	if d == models.Sell {
		return wire.StopOrderDirectionSell
	}
	return wire.StopOrderDirectionBuy
}

func tradeDirectionFromWire(d wire.TradeDirection) (models.Direction, error) {
	switch d {
	case wire.TradeDirectionBuy:
		return models.Buy, nil
	case wire.TradeDirectionSell:
		return models.Sell, nil
	}
	return "", errors.Unmapped("trade direction", d)
}

// stopTypeToWire maps a stop order to the venue's stop order type. A stop
// loss with an exec price is a stop-limit order. The venue has no
// take-profit-limit type.
func stopTypeToWire(o order.NewStopOrder) (wire.StopOrderType, error) {
	_, hasExec := o.ExecPrice()
	switch {
	case o.StopKind() == order.StopLoss && !hasExec:
		return wire.StopOrderTypeStopLoss, nil
	case o.StopKind() == order.StopLoss && hasExec:
		return wire.StopOrderTypeStopLimit, nil
	case o.StopKind() == order.TakeProfit && !hasExec:
		return wire.StopOrderTypeTakeProfit, nil
	}
	return "", errors.Wrapf(errors.ErrNotImplemented, "stop order %s with exec price", o.StopKind())
}

func candleIntervalToWire(tf models.TimeFrame) (wire.CandleInterval, error) {
	switch tf {
	case models.TF1M:
		return wire.CandleInterval1Min, nil
	case models.TF5M:
		return wire.CandleInterval5Min, nil
	case models.TF10M:
		return wire.CandleInterval10Min, nil
	case models.TF1H:
		return wire.CandleIntervalHour, nil
	case models.TFDay:
		return wire.CandleIntervalDay, nil
	case models.TFWeek:
		return wire.CandleIntervalWeek, nil
	case models.TFMonth:
		return wire.CandleIntervalMonth, nil
	}
	return "", errors.Unmapped("timeframe", tf)
}

func subscriptionIntervalToWire(tf models.TimeFrame) (wire.SubscriptionInterval, error) {
	switch tf {
	case models.TF1M:
		return wire.SubscriptionIntervalOneMinute, nil
	case models.TF5M:
		return wire.SubscriptionIntervalFiveMinutes, nil
	case models.TF10M:
		return wire.SubscriptionInterval10Min, nil
	case models.TF1H:
		return wire.SubscriptionIntervalOneHour, nil
	case models.TFDay:
		return wire.SubscriptionIntervalOneDay, nil
	case models.TFWeek:
		return wire.SubscriptionIntervalWeek, nil
	case models.TFMonth:
		return wire.SubscriptionIntervalMonth, nil
	}
	return "", errors.Unmapped("timeframe", tf)
}

func timeFrameFromWire(i wire.SubscriptionInterval) (models.TimeFrame, error) {
	switch i {
	case wire.SubscriptionIntervalOneMinute:
		return models.TF1M, nil
	case wire.SubscriptionIntervalFiveMinutes:
		return models.TF5M, nil
	case wire.SubscriptionInterval10Min:
		return models.TF10M, nil
	case wire.SubscriptionIntervalOneHour:
		return models.TF1H, nil
	case wire.SubscriptionIntervalOneDay:
		return models.TFDay, nil
	case wire.SubscriptionIntervalWeek:
		return models.TFWeek, nil
	case wire.SubscriptionIntervalMonth:
		return models.TFMonth, nil
	}
	return "", errors.Unmapped("subscription interval", i)
}

func decodeOHLC(open, high, low, close money.Quotation) (o, h, l, c decimal.Decimal, err error) {
	if o, err = money.ToDecimal(open); err != nil {
		return
	}
	if h, err = money.ToDecimal(high); err != nil {
		return
	}
	if l, err = money.ToDecimal(low); err != nil {
		return
	}
	c, err = money.ToDecimal(close)
	return
}

func barFromHistoric(c wire.HistoricCandle) (models.Bar, error) {
	o, h, l, cl, err := decodeOHLC(c.Open, c.High, c.Low, c.Close)
	if err != nil {
		return models.Bar{}, err
	}
	return models.Bar{
		Timestamp: c.Time,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     cl,
		Volume:    c.Volume,
		Complete:  c.IsComplete,
	}, nil
}

func barEventFromCandle(c *wire.Candle) (stream.BarEvent, error) {
	tf, err := timeFrameFromWire(c.Interval)
	if err != nil {
		return stream.BarEvent{}, err
	}
	o, h, l, cl, err := decodeOHLC(c.Open, c.High, c.Low, c.Close)
	if err != nil {
		return stream.BarEvent{}, err
	}
	return stream.BarEvent{
		Instrument: c.Figi,
		TimeFrame:  tf,
		Bar: models.Bar{
			Timestamp: c.Time,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     cl,
			Volume:    c.Volume,
		},
	}, nil
}

// ticFromTrade converts an exchange trade. Value is lots * price * lot size.
func ticFromTrade(t *wire.Trade, lot int64) (models.Tic, error) {
	dir, err := tradeDirectionFromWire(t.Direction)
	if err != nil {
		return models.Tic{}, err
	}
	price, err := money.ToDecimal(t.Price)
	if err != nil {
		return models.Tic{}, err
	}
	return models.Tic{
		Timestamp: t.Time,
		Direction: dir,
		Lots:      t.Quantity,
		Price:     price,
		Value:     price.Mul(decimal.NewFromInt(t.Quantity * lot)),
	}, nil
}

func statusFromWire(s *wire.TradingStatus) models.TradingStatus {
	return models.TradingStatus{
		FIGI:                  s.Figi,
		Status:                s.TradingStatus,
		Time:                  s.Time,
		LimitOrdersAvailable:  s.LimitOrderAvailableFlag,
		MarketOrdersAvailable: s.MarketOrderAvailableFlag,
	}
}

func instrumentFromShare(s wire.Share) (models.Instrument, error) {
	inst := models.Instrument{
		FIGI:      s.Figi,
		UID:       s.UID,
		Ticker:    s.Ticker,
		ClassCode: s.ClassCode,
		Name:      s.Name,
		Exchange:  s.Exchange,
		Currency:  s.Currency,
		Lot:       int64(s.Lot),
	}
	if s.MinPriceIncrement != nil {
		step, err := money.ToDecimal(*s.MinPriceIncrement)
		if err != nil {
			return models.Instrument{}, err
		}
		inst.MinPriceIncrement = step
	}
	return inst, nil
}

func accountFromWire(a wire.Account) models.Account {
	return models.Account{ID: a.ID, Name: a.Name, Type: a.Type, Status: a.Status}
}

func positionsFromWire(p wire.PositionsResponse) (models.Positions, error) {
	out := models.Positions{Money: make(map[string]decimal.Decimal, len(p.Money))}
	for _, m := range p.Money {
		v, err := money.MoneyToDecimal(m)
		if err != nil {
			return models.Positions{}, err
		}
		out.Money[m.Currency] = out.Money[m.Currency].Add(v)
	}
	for _, s := range p.Securities {
		out.Securities = append(out.Securities, models.Position{FIGI: s.Figi, Balance: s.Balance, Blocked: s.Blocked})
	}
	return out, nil
}

func lastPriceFromWire(p wire.LastPrice) (models.LastPrice, error) {
	price, err := money.ToDecimal(p.Price)
	if err != nil {
		return models.LastPrice{}, err
	}
	return models.LastPrice{FIGI: p.Figi, Price: price, Time: p.Time}, nil
}

// fill is one execution report keyed by the venue's trade id.
type fill struct {
	tradeID string
	tx      models.Transaction
}

func fillsFromStages(stages []wire.OrderStage, at time.Time) ([]fill, error) {
	out := make([]fill, 0, len(stages))
	for _, s := range stages {
		price, err := money.MoneyToDecimal(s.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, fill{tradeID: s.TradeID, tx: models.NewTransaction(at, s.Quantity, price)})
	}
	return out, nil
}

func fillsFromTrades(trades []wire.OrderTrade) ([]fill, error) {
	out := make([]fill, 0, len(trades))
	for _, t := range trades {
		price, err := money.ToDecimal(t.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, fill{tradeID: t.TradeID, tx: models.NewTransaction(t.DateTime, t.Quantity, price)})
	}
	return out, nil
}

func commissionFromWire(m *money.MoneyValue) (decimal.Decimal, error) {
	if m == nil {
		return decimal.Zero, nil
	}
	return money.MoneyToDecimal(*m)
}

// orderFromState rebuilds an order reported by the venue by replaying the
// state machine from New.
func orderFromState(st wire.OrderState) (order.Order, error) {
	dir, err := directionFromWire(st.Direction)
	if err != nil {
		return nil, err
	}

	var o order.Order
	switch st.OrderType {
	case wire.OrderTypeMarket, wire.OrderTypeBestPrice:
		o, err = order.NewMarket(dir, st.LotsRequested)
	case wire.OrderTypeLimit:
		if st.InitialSecurityPrice == nil {
			return nil, errors.NewDataError("order", st.Figi, "limit order without price", nil)
		}
		var price decimal.Decimal
		if price, err = money.MoneyToDecimal(*st.InitialSecurityPrice); err != nil {
			return nil, err
		}
		o, err = order.NewLimit(dir, st.LotsRequested, price)
	default:
		return nil, errors.Unmapped("order type", st.OrderType)
	}
	if err != nil {
		return nil, err
	}

	if st.ExecutionReportStatus == wire.ExecutionReportStatusRejected {
		return order.Reject(o, "rejected by venue")
	}
	if o, err = order.Post(o, st.OrderID); err != nil {
		return nil, err
	}

	fills, err := fillsFromStages(st.Stages, st.OrderDate)
	if err != nil {
		return nil, err
	}
	for _, f := range fills {
		if o, err = order.AddTransaction(o, f.tx); err != nil {
			return nil, err
		}
	}

	switch st.ExecutionReportStatus {
	case wire.ExecutionReportStatusNew, wire.ExecutionReportStatusPartiallyFill:
		return o, nil
	case wire.ExecutionReportStatusFill:
		commission, err := commissionFromWire(st.ExecutedCommission)
		if err != nil {
			return nil, err
		}
		return order.Fill(o, commission)
	case wire.ExecutionReportStatusCancelled:
		return order.Cancel(o)
	}
	return nil, errors.Unmapped("execution report status", st.ExecutionReportStatus)
}
