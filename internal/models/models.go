// Package models provides domain models for the trading application.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of an order or a tic.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign returns +1 for Buy and -1 for Sell.
func (d Direction) Sign() int64 {
	if d == Sell {
		return -1
	}
	return 1
}

// Valid reports whether d is Buy or Sell.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// Opposite returns the closing side.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// ParseDirection parses "buy"/"sell" in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// Instrument is a tradable security as reported by the broker.
type Instrument struct {
	FIGI              string
	UID               string
	Ticker            string
	ClassCode         string
	Name              string
	Exchange          string
	Currency          string
	Lot               int64
	MinPriceIncrement decimal.Decimal
	UpdatedAt         time.Time
}

// LotSize returns the number of securities in one lot, at least one.
func (i Instrument) LotSize() int64 {
	if i.Lot <= 0 {
		return 1
	}
	return i.Lot
}

func (i Instrument) String() string {
	if i.Ticker == "" {
		return i.FIGI
	}
	return fmt.Sprintf("%s-%s", i.ClassCode, i.Ticker)
}

// TimeFrame is a bar interval.
type TimeFrame string

const (
	TF1M    TimeFrame = "1M"
	TF5M    TimeFrame = "5M"
	TF10M   TimeFrame = "10M"
	TF1H    TimeFrame = "1H"
	TFDay   TimeFrame = "D"
	TFWeek  TimeFrame = "W"
	TFMonth TimeFrame = "M"
)

// TimeFrames lists every supported timeframe from shortest to longest.
var TimeFrames = []TimeFrame{TF1M, TF5M, TF10M, TF1H, TFDay, TFWeek, TFMonth}

// ParseTimeFrame parses a timeframe name such as "1M", "1h" or "D".
func ParseTimeFrame(s string) (TimeFrame, error) {
	tf := TimeFrame(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range TimeFrames {
		if tf == known {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the nominal length of one bar.
func (tf TimeFrame) Duration() time.Duration {
	switch tf {
	case TF1M:
		return time.Minute
	case TF5M:
		return 5 * time.Minute
	case TF10M:
		return 10 * time.Minute
	case TF1H:
		return time.Hour
	case TFDay:
		return 24 * time.Hour
	case TFWeek:
		return 7 * 24 * time.Hour
	case TFMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Bar represents OHLCV data for a time period.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Complete  bool
}

// Tic is a single anonymous trade on the exchange.
type Tic struct {
	Timestamp time.Time
	Direction Direction
	Lots      int64
	Price     decimal.Decimal
	// Value is Lots * Price * instrument lot size.
	Value decimal.Decimal
}

// TradingStatus describes whether an instrument can currently be traded.
type TradingStatus struct {
	FIGI                  string
	Status                string
	Time                  time.Time
	LimitOrdersAvailable  bool
	MarketOrdersAvailable bool
}

// Account is a brokerage account.
type Account struct {
	ID     string
	Name   string
	Type   string
	Status string
}

// Position is a security balance in lots-independent units.
type Position struct {
	FIGI    string
	Balance int64
	Blocked int64
}

// Positions is a snapshot of an account.
type Positions struct {
	Money      map[string]decimal.Decimal
	Securities []Position
}

// LastPrice is the latest trade price of an instrument.
type LastPrice struct {
	FIGI  string
	Price decimal.Decimal
	Time  time.Time
}
