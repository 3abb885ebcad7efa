package utils

import (
	"time"
)

// MoscowLocation is the timezone of the Moscow Exchange.
var MoscowLocation *time.Location

func init() {
	var err error
	MoscowLocation, err = time.LoadLocation("Europe/Moscow")
	if err != nil {
		MoscowLocation = time.FixedZone("MSK", 3*60*60)
	}
}

// Session is a phase of the MOEX equities trading day.
type Session string

const (
	SessionClosed  Session = "CLOSED"
	SessionOpening Session = "OPENING_AUCTION"
	SessionMain    Session = "MAIN"
	SessionClosing Session = "CLOSING_AUCTION"
	SessionEvening Session = "EVENING"
)

// minutes since midnight, Moscow time
const (
	openingAuction = 9*60 + 50
	mainOpen       = 10 * 60
	mainClose      = 18*60 + 40
	closingEnd     = 18*60 + 50
	eveningOpen    = 19*60 + 5
	eveningClose   = 23*60 + 50
)

// SessionAt returns the trading session in progress at t. Exchange holidays
// are not known and look like regular weekdays.
func SessionAt(t time.Time) Session {
	now := t.In(MoscowLocation)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return SessionClosed
	}

	m := now.Hour()*60 + now.Minute()
	switch {
	case m >= openingAuction && m < mainOpen:
		return SessionOpening
	case m >= mainOpen && m < mainClose:
		return SessionMain
	case m >= mainClose && m < closingEnd:
		return SessionClosing
	case m >= eveningOpen && m < eveningClose:
		return SessionEvening
	}
	return SessionClosed
}

// IsTradingAt reports whether continuous trading is running at t.
func IsTradingAt(t time.Time) bool {
	s := SessionAt(t)
	return s == SessionMain || s == SessionEvening
}

// NextMainOpen returns the start of the next main session after t.
func NextMainOpen(t time.Time) time.Time {
	now := t.In(MoscowLocation)
	next := time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, MoscowLocation)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
