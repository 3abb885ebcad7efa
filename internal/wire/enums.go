// Package wire defines the JSON messages of the broker's REST and websocket
// gateway. Names and enum values follow the public API contract; int64
// fields travel as JSON strings.
package wire

type OrderDirection string

const (
	OrderDirectionUnspecified OrderDirection = "ORDER_DIRECTION_UNSPECIFIED"
	OrderDirectionBuy         OrderDirection = "ORDER_DIRECTION_BUY"
	OrderDirectionSell        OrderDirection = "ORDER_DIRECTION_SELL"
)

type OrderType string

const (
	OrderTypeUnspecified OrderType = "ORDER_TYPE_UNSPECIFIED"
	OrderTypeLimit       OrderType = "ORDER_TYPE_LIMIT"
	OrderTypeMarket      OrderType = "ORDER_TYPE_MARKET"
	OrderTypeBestPrice   OrderType = "ORDER_TYPE_BESTPRICE"
)

type ExecutionReportStatus string

const (
	ExecutionReportStatusUnspecified   ExecutionReportStatus = "EXECUTION_REPORT_STATUS_UNSPECIFIED"
	ExecutionReportStatusFill          ExecutionReportStatus = "EXECUTION_REPORT_STATUS_FILL"
	ExecutionReportStatusRejected      ExecutionReportStatus = "EXECUTION_REPORT_STATUS_REJECTED"
	ExecutionReportStatusCancelled     ExecutionReportStatus = "EXECUTION_REPORT_STATUS_CANCELLED"
	ExecutionReportStatusNew           ExecutionReportStatus = "EXECUTION_REPORT_STATUS_NEW"
	ExecutionReportStatusPartiallyFill ExecutionReportStatus = "EXECUTION_REPORT_STATUS_PARTIALLYFILL"
)

type StopOrderDirection string

const (
	StopOrderDirectionUnspecified StopOrderDirection = "STOP_ORDER_DIRECTION_UNSPECIFIED"
	StopOrderDirectionBuy         StopOrderDirection = "STOP_ORDER_DIRECTION_BUY"
	StopOrderDirectionSell        StopOrderDirection = "STOP_ORDER_DIRECTION_SELL"
)

type StopOrderType string

const (
	StopOrderTypeUnspecified StopOrderType = "STOP_ORDER_TYPE_UNSPECIFIED"
	StopOrderTypeTakeProfit  StopOrderType = "STOP_ORDER_TYPE_TAKE_PROFIT"
	StopOrderTypeStopLoss    StopOrderType = "STOP_ORDER_TYPE_STOP_LOSS"
	StopOrderTypeStopLimit   StopOrderType = "STOP_ORDER_TYPE_STOP_LIMIT"
)

type StopOrderExpirationType string

const (
	StopOrderExpirationGoodTillCancel StopOrderExpirationType = "STOP_ORDER_EXPIRATION_TYPE_GOOD_TILL_CANCEL"
	StopOrderExpirationGoodTillDate   StopOrderExpirationType = "STOP_ORDER_EXPIRATION_TYPE_GOOD_TILL_DATE"
)

type StopOrderStatus string

const (
	StopOrderStatusUnspecified StopOrderStatus = "STOP_ORDER_STATUS_UNSPECIFIED"
	StopOrderStatusAll         StopOrderStatus = "STOP_ORDER_STATUS_ALL"
	StopOrderStatusActive      StopOrderStatus = "STOP_ORDER_STATUS_ACTIVE"
	StopOrderStatusExecuted    StopOrderStatus = "STOP_ORDER_STATUS_EXECUTED"
	StopOrderStatusCanceled    StopOrderStatus = "STOP_ORDER_STATUS_CANCELED"
	StopOrderStatusExpired     StopOrderStatus = "STOP_ORDER_STATUS_EXPIRED"
)

type CandleInterval string

const (
	CandleIntervalUnspecified CandleInterval = "CANDLE_INTERVAL_UNSPECIFIED"
	CandleInterval1Min        CandleInterval = "CANDLE_INTERVAL_1_MIN"
	CandleInterval5Min        CandleInterval = "CANDLE_INTERVAL_5_MIN"
	CandleInterval10Min       CandleInterval = "CANDLE_INTERVAL_10_MIN"
	CandleIntervalHour        CandleInterval = "CANDLE_INTERVAL_HOUR"
	CandleIntervalDay         CandleInterval = "CANDLE_INTERVAL_DAY"
	CandleIntervalWeek        CandleInterval = "CANDLE_INTERVAL_WEEK"
	CandleIntervalMonth       CandleInterval = "CANDLE_INTERVAL_MONTH"
)

type SubscriptionInterval string

const (
	SubscriptionIntervalUnspecified SubscriptionInterval = "SUBSCRIPTION_INTERVAL_UNSPECIFIED"
	SubscriptionIntervalOneMinute   SubscriptionInterval = "SUBSCRIPTION_INTERVAL_ONE_MINUTE"
	SubscriptionIntervalFiveMinutes SubscriptionInterval = "SUBSCRIPTION_INTERVAL_FIVE_MINUTES"
	SubscriptionInterval10Min       SubscriptionInterval = "SUBSCRIPTION_INTERVAL_10_MIN"
	SubscriptionIntervalOneHour     SubscriptionInterval = "SUBSCRIPTION_INTERVAL_ONE_HOUR"
	SubscriptionIntervalOneDay      SubscriptionInterval = "SUBSCRIPTION_INTERVAL_ONE_DAY"
	SubscriptionIntervalWeek        SubscriptionInterval = "SUBSCRIPTION_INTERVAL_WEEK"
	SubscriptionIntervalMonth       SubscriptionInterval = "SUBSCRIPTION_INTERVAL_MONTH"
)

type SubscriptionAction string

const (
	SubscriptionActionSubscribe   SubscriptionAction = "SUBSCRIPTION_ACTION_SUBSCRIBE"
	SubscriptionActionUnsubscribe SubscriptionAction = "SUBSCRIPTION_ACTION_UNSUBSCRIBE"
)

type SubscriptionStatus string

const (
	SubscriptionStatusSuccess SubscriptionStatus = "SUBSCRIPTION_STATUS_SUCCESS"
)

type TradeDirection string

const (
	TradeDirectionUnspecified TradeDirection = "TRADE_DIRECTION_UNSPECIFIED"
	TradeDirectionBuy         TradeDirection = "TRADE_DIRECTION_BUY"
	TradeDirectionSell        TradeDirection = "TRADE_DIRECTION_SELL"
)

type InstrumentStatus string

const (
	InstrumentStatusBase InstrumentStatus = "INSTRUMENT_STATUS_BASE"
	InstrumentStatusAll  InstrumentStatus = "INSTRUMENT_STATUS_ALL"
)
