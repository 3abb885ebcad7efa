package wire

import (
	"time"

	"tinkoff-trader/internal/money"
)

type PostOrderRequest struct {
	InstrumentID string           `json:"instrumentId"`
	Quantity     int64            `json:"quantity,string"`
	Price        *money.Quotation `json:"price,omitempty"`
	Direction    OrderDirection   `json:"direction"`
	AccountID    string           `json:"accountId"`
	OrderType    OrderType        `json:"orderType"`
	// OrderID is the client idempotency key.
	OrderID string `json:"orderId"`
}

type PostOrderResponse struct {
	OrderID               string                `json:"orderId"`
	ExecutionReportStatus ExecutionReportStatus `json:"executionReportStatus"`
	LotsRequested         int64                 `json:"lotsRequested,string"`
	LotsExecuted          int64                 `json:"lotsExecuted,string"`
	InitialOrderPrice     *money.MoneyValue     `json:"initialOrderPrice,omitempty"`
	ExecutedOrderPrice    *money.MoneyValue     `json:"executedOrderPrice,omitempty"`
	TotalOrderAmount      *money.MoneyValue     `json:"totalOrderAmount,omitempty"`
	InitialCommission     *money.MoneyValue     `json:"initialCommission,omitempty"`
	ExecutedCommission    *money.MoneyValue     `json:"executedCommission,omitempty"`
	Figi                  string                `json:"figi"`
	Direction             OrderDirection        `json:"direction"`
	OrderType             OrderType             `json:"orderType"`
	Message               string                `json:"message,omitempty"`
	OrderRequestID        string                `json:"orderRequestId,omitempty"`
}

type CancelOrderRequest struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"orderId"`
}

type CancelOrderResponse struct {
	Time time.Time `json:"time"`
}

type GetOrderStateRequest struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"orderId"`
}

type OrderStage struct {
	Price    money.MoneyValue `json:"price"`
	Quantity int64            `json:"quantity,string"`
	TradeID  string           `json:"tradeId"`
}

type OrderState struct {
	OrderID               string                `json:"orderId"`
	ExecutionReportStatus ExecutionReportStatus `json:"executionReportStatus"`
	LotsRequested         int64                 `json:"lotsRequested,string"`
	LotsExecuted          int64                 `json:"lotsExecuted,string"`
	InitialSecurityPrice  *money.MoneyValue     `json:"initialSecurityPrice,omitempty"`
	ExecutedOrderPrice    *money.MoneyValue     `json:"executedOrderPrice,omitempty"`
	ExecutedCommission    *money.MoneyValue     `json:"executedCommission,omitempty"`
	Figi                  string                `json:"figi"`
	Direction             OrderDirection        `json:"direction"`
	OrderType             OrderType             `json:"orderType"`
	Stages                []OrderStage          `json:"stages"`
	OrderDate             time.Time             `json:"orderDate"`
	Currency              string                `json:"currency"`
	OrderRequestID        string                `json:"orderRequestId,omitempty"`
}

type PostStopOrderRequest struct {
	InstrumentID   string                  `json:"instrumentId"`
	Quantity       int64                   `json:"quantity,string"`
	Price          *money.Quotation        `json:"price,omitempty"`
	StopPrice      money.Quotation         `json:"stopPrice"`
	Direction      StopOrderDirection      `json:"direction"`
	AccountID      string                  `json:"accountId"`
	ExpirationType StopOrderExpirationType `json:"expirationType"`
	StopOrderType  StopOrderType           `json:"stopOrderType"`
	ExpireDate     *time.Time              `json:"expireDate,omitempty"`
}

type PostStopOrderResponse struct {
	StopOrderID string `json:"stopOrderId"`
}

type CancelStopOrderRequest struct {
	AccountID   string `json:"accountId"`
	StopOrderID string `json:"stopOrderId"`
}

type CancelStopOrderResponse struct {
	Time time.Time `json:"time"`
}

type GetStopOrdersRequest struct {
	AccountID string          `json:"accountId"`
	Status    StopOrderStatus `json:"status,omitempty"`
	From      *time.Time      `json:"from,omitempty"`
	To        *time.Time      `json:"to,omitempty"`
}

// StopOrder is the venue's view of a stop order. ExchangeOrderID names the
// order placed when the stop executed.
type StopOrder struct {
	StopOrderID     string             `json:"stopOrderId"`
	LotsRequested   int64              `json:"lotsRequested,string"`
	Figi            string             `json:"figi"`
	Direction       StopOrderDirection `json:"direction"`
	Currency        string             `json:"currency"`
	OrderType       StopOrderType      `json:"orderType"`
	CreateDate      time.Time          `json:"createDate"`
	ExecutedAt      *time.Time         `json:"activationDateTime,omitempty"`
	Price           *money.MoneyValue  `json:"price,omitempty"`
	StopPrice       *money.MoneyValue  `json:"stopPrice,omitempty"`
	Status          StopOrderStatus    `json:"status"`
	ExchangeOrderID string             `json:"exchangeOrderId,omitempty"`
}

type GetStopOrdersResponse struct {
	StopOrders []StopOrder `json:"stopOrders"`
}

// OrderTrade is one execution of an order.
type OrderTrade struct {
	DateTime time.Time       `json:"dateTime"`
	Price    money.Quotation `json:"price"`
	Quantity int64           `json:"quantity,string"`
	TradeID  string          `json:"tradeId"`
}

// OrderTrades is an execution report delivered on the trades stream.
type OrderTrades struct {
	OrderID   string         `json:"orderId"`
	CreatedAt time.Time      `json:"createdAt"`
	Direction OrderDirection `json:"direction"`
	Figi      string         `json:"figi"`
	Trades    []OrderTrade   `json:"trades"`
	AccountID string         `json:"accountId"`
}

type TradesStreamRequest struct {
	Accounts []string `json:"accounts"`
}

type TradesStreamResponse struct {
	OrderTrades *OrderTrades `json:"orderTrades,omitempty"`
	Ping        *Ping        `json:"ping,omitempty"`
}
