package wire

import (
	"time"

	"tinkoff-trader/internal/money"
)

type Account struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	OpenedDate  time.Time `json:"openedDate"`
	AccessLevel string    `json:"accessLevel"`
}

type GetAccountsRequest struct{}

type GetAccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type PositionsRequest struct {
	AccountID string `json:"accountId"`
}

type PositionsSecurities struct {
	Figi    string `json:"figi"`
	Blocked int64  `json:"blocked,string"`
	Balance int64  `json:"balance,string"`
}

type PositionsResponse struct {
	Money      []money.MoneyValue    `json:"money"`
	Blocked    []money.MoneyValue    `json:"blocked"`
	Securities []PositionsSecurities `json:"securities"`
}

type InstrumentsRequest struct {
	InstrumentStatus InstrumentStatus `json:"instrumentStatus"`
}

type Share struct {
	Figi              string           `json:"figi"`
	Ticker            string           `json:"ticker"`
	ClassCode         string           `json:"classCode"`
	Isin              string           `json:"isin"`
	Lot               int32            `json:"lot"`
	Currency          string           `json:"currency"`
	Name              string           `json:"name"`
	Exchange          string           `json:"exchange"`
	MinPriceIncrement *money.Quotation `json:"minPriceIncrement,omitempty"`
	UID               string           `json:"uid"`
}

type SharesResponse struct {
	Instruments []Share `json:"instruments"`
}

// ErrorResponse is the body of a failed REST call.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}
