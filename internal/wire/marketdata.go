package wire

import (
	"time"

	"tinkoff-trader/internal/money"
)

type HistoricCandle struct {
	Open       money.Quotation `json:"open"`
	High       money.Quotation `json:"high"`
	Low        money.Quotation `json:"low"`
	Close      money.Quotation `json:"close"`
	Volume     int64           `json:"volume,string"`
	Time       time.Time       `json:"time"`
	IsComplete bool            `json:"isComplete"`
}

type GetCandlesRequest struct {
	InstrumentID string         `json:"instrumentId"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Interval     CandleInterval `json:"interval"`
}

type GetCandlesResponse struct {
	Candles []HistoricCandle `json:"candles"`
}

type LastPrice struct {
	Figi  string          `json:"figi"`
	Price money.Quotation `json:"price"`
	Time  time.Time       `json:"time"`
}

type GetLastPricesRequest struct {
	InstrumentID []string `json:"instrumentId"`
}

type GetLastPricesResponse struct {
	LastPrices []LastPrice `json:"lastPrices"`
}

// Stream messages.

type CandleInstrument struct {
	InstrumentID string               `json:"instrumentId"`
	Interval     SubscriptionInterval `json:"interval"`
}

type SubscribeCandlesRequest struct {
	SubscriptionAction SubscriptionAction `json:"subscriptionAction"`
	Instruments        []CandleInstrument `json:"instruments"`
	WaitingClose       bool               `json:"waitingClose"`
}

type TradeInstrument struct {
	InstrumentID string `json:"instrumentId"`
}

type SubscribeTradesRequest struct {
	SubscriptionAction SubscriptionAction `json:"subscriptionAction"`
	Instruments        []TradeInstrument  `json:"instruments"`
}

type InfoInstrument struct {
	InstrumentID string `json:"instrumentId"`
}

type SubscribeInfoRequest struct {
	SubscriptionAction SubscriptionAction `json:"subscriptionAction"`
	Instruments        []InfoInstrument   `json:"instruments"`
}

type PingRequest struct {
	Time time.Time `json:"time"`
}

// MarketDataRequest is sent on the stream. Exactly one field is set.
type MarketDataRequest struct {
	SubscribeCandlesRequest *SubscribeCandlesRequest `json:"subscribeCandlesRequest,omitempty"`
	SubscribeTradesRequest  *SubscribeTradesRequest  `json:"subscribeTradesRequest,omitempty"`
	SubscribeInfoRequest    *SubscribeInfoRequest    `json:"subscribeInfoRequest,omitempty"`
	// SubscribeOrderTrades opens the execution report feed for accounts.
	SubscribeOrderTrades *TradesStreamRequest `json:"subscribeOrderTrades,omitempty"`
	Ping                 *PingRequest         `json:"ping,omitempty"`
}

type SubscriptionItem struct {
	InstrumentID       string             `json:"instrumentId,omitempty"`
	Figi               string             `json:"figi,omitempty"`
	Interval           string             `json:"interval,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
}

// SubscriptionResponse acknowledges a subscribe or unsubscribe request.
type SubscriptionResponse struct {
	TrackingID string             `json:"trackingId"`
	Candles    []SubscriptionItem `json:"candlesSubscriptions,omitempty"`
	Trades     []SubscriptionItem `json:"tradeSubscriptions,omitempty"`
	Info       []SubscriptionItem `json:"infoSubscriptions,omitempty"`
}

// Items returns every acknowledged subscription.
func (r SubscriptionResponse) Items() []SubscriptionItem {
	out := make([]SubscriptionItem, 0, len(r.Candles)+len(r.Trades)+len(r.Info))
	out = append(out, r.Candles...)
	out = append(out, r.Trades...)
	return append(out, r.Info...)
}

type Candle struct {
	Figi         string               `json:"figi"`
	InstrumentID string               `json:"instrumentUid,omitempty"`
	Interval     SubscriptionInterval `json:"interval"`
	Open         money.Quotation      `json:"open"`
	High         money.Quotation      `json:"high"`
	Low          money.Quotation      `json:"low"`
	Close        money.Quotation      `json:"close"`
	Volume       int64                `json:"volume,string"`
	Time         time.Time            `json:"time"`
	LastTradeTS  time.Time            `json:"lastTradeTs"`
}

type Trade struct {
	Figi      string          `json:"figi"`
	Direction TradeDirection  `json:"direction"`
	Price     money.Quotation `json:"price"`
	Quantity  int64           `json:"quantity,string"`
	Time      time.Time       `json:"time"`
}

type TradingStatus struct {
	Figi                     string    `json:"figi"`
	TradingStatus            string    `json:"tradingStatus"`
	Time                     time.Time `json:"time"`
	LimitOrderAvailableFlag  bool      `json:"limitOrderAvailableFlag"`
	MarketOrderAvailableFlag bool      `json:"marketOrderAvailableFlag"`
}

type Ping struct {
	Time time.Time `json:"time"`
}

type OrderBookLevel struct {
	Price    money.Quotation `json:"price"`
	Quantity int64           `json:"quantity,string"`
}

type OrderBook struct {
	Figi  string           `json:"figi"`
	Depth int32            `json:"depth"`
	Bids  []OrderBookLevel `json:"bids"`
	Asks  []OrderBookLevel `json:"asks"`
	Time  time.Time        `json:"time"`
}

// MarketDataResponse is received on the stream. Exactly one field is set.
type MarketDataResponse struct {
	SubscribeCandlesResponse *SubscriptionResponse `json:"subscribeCandlesResponse,omitempty"`
	SubscribeTradesResponse  *SubscriptionResponse `json:"subscribeTradesResponse,omitempty"`
	SubscribeInfoResponse    *SubscriptionResponse `json:"subscribeInfoResponse,omitempty"`
	Candle                   *Candle               `json:"candle,omitempty"`
	Trade                    *Trade                `json:"trade,omitempty"`
	TradingStatus            *TradingStatus        `json:"tradingStatus,omitempty"`
	Ping                     *Ping                 `json:"ping,omitempty"`
	Orderbook                *OrderBook            `json:"orderbook,omitempty"`
	LastPrice                *LastPrice            `json:"lastPrice,omitempty"`
	OrderTrades              *OrderTrades          `json:"orderTrades,omitempty"`
}

// PayloadKind identifies which field of a MarketDataResponse is set.
type PayloadKind string

const (
	PayloadUnknown       PayloadKind = "unknown"
	PayloadSubscription  PayloadKind = "subscription"
	PayloadCandle        PayloadKind = "candle"
	PayloadTrade         PayloadKind = "trade"
	PayloadTradingStatus PayloadKind = "trading_status"
	PayloadPing          PayloadKind = "ping"
	PayloadOrderBook     PayloadKind = "orderbook"
	PayloadLastPrice     PayloadKind = "last_price"
	PayloadOrderTrades   PayloadKind = "order_trades"
)

// Kind returns the payload variant carried by r.
func (r MarketDataResponse) Kind() PayloadKind {
	switch {
	case r.SubscribeCandlesResponse != nil, r.SubscribeTradesResponse != nil, r.SubscribeInfoResponse != nil:
		return PayloadSubscription
	case r.Candle != nil:
		return PayloadCandle
	case r.Trade != nil:
		return PayloadTrade
	case r.TradingStatus != nil:
		return PayloadTradingStatus
	case r.Ping != nil:
		return PayloadPing
	case r.Orderbook != nil:
		return PayloadOrderBook
	case r.LastPrice != nil:
		return PayloadLastPrice
	case r.OrderTrades != nil:
		return PayloadOrderTrades
	default:
		return PayloadUnknown
	}
}

// Subscription returns whichever subscription acknowledgement is set.
func (r MarketDataResponse) Subscription() *SubscriptionResponse {
	switch {
	case r.SubscribeCandlesResponse != nil:
		return r.SubscribeCandlesResponse
	case r.SubscribeTradesResponse != nil:
		return r.SubscribeTradesResponse
	default:
		return r.SubscribeInfoResponse
	}
}
