// Package money converts the broker's fixed-point wire numbers to and from
// decimal values used in domain arithmetic.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
)

// NanoScale is the number of nano units in one whole unit.
const NanoScale = 1_000_000_000

var (
	nanoScale = decimal.NewFromInt(NanoScale)
	maxUnits  = decimal.NewFromInt(math.MaxInt64)
	minUnits  = decimal.NewFromInt(math.MinInt64)
)

// Quotation is a unit-less fixed-point decimal: Units + Nano/1e9.
type Quotation struct {
	Units int64 `json:"units,string"`
	Nano  int32 `json:"nano"`
}

// MoneyValue is a currency-tagged fixed-point decimal.
type MoneyValue struct {
	Currency string `json:"currency"`
	Units    int64  `json:"units,string"`
	Nano     int32  `json:"nano"`
}

// Decimal returns the exact decimal value of q.
func (q Quotation) Decimal() decimal.Decimal {
	return decimal.New(q.Units, 0).Add(decimal.New(int64(q.Nano), -9))
}

// Validate checks the nano range and sign agreement between Units and Nano.
func (q Quotation) Validate() error {
	return validate(q.Units, q.Nano)
}

// IsZero reports whether q encodes zero.
func (q Quotation) IsZero() bool {
	return q.Units == 0 && q.Nano == 0
}

func (q Quotation) String() string {
	return q.Decimal().String()
}

// Decimal returns the exact decimal value of m, ignoring its currency.
func (m MoneyValue) Decimal() decimal.Decimal {
	return m.Quotation().Decimal()
}

// Quotation drops the currency.
func (m MoneyValue) Quotation() Quotation {
	return Quotation{Units: m.Units, Nano: m.Nano}
}

// Validate checks the nano range and sign agreement between Units and Nano.
func (m MoneyValue) Validate() error {
	return validate(m.Units, m.Nano)
}

func (m MoneyValue) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().String(), m.Currency)
}

// ToDecimal validates q and returns its decimal value.
func ToDecimal(q Quotation) (decimal.Decimal, error) {
	if err := q.Validate(); err != nil {
		return decimal.Zero, err
	}
	return q.Decimal(), nil
}

// MoneyToDecimal validates m and returns its decimal value.
func MoneyToDecimal(m MoneyValue) (decimal.Decimal, error) {
	if err := m.Validate(); err != nil {
		return decimal.Zero, err
	}
	return m.Decimal(), nil
}

// FromDecimal encodes d as a Quotation. Units take the integer part of d and
// Nano the fractional part rounded half away from zero, so both share the
// sign of d. A fraction that rounds to a whole unit is carried into Units.
func FromDecimal(d decimal.Decimal) (Quotation, error) {
	whole := d.Truncate(0)
	nano := d.Sub(whole).Mul(nanoScale).Round(0)

	if nano.Abs().GreaterThanOrEqual(nanoScale) {
		whole = whole.Add(decimal.NewFromInt(int64(nano.Sign())))
		nano = decimal.Zero
	}

	if whole.GreaterThan(maxUnits) || whole.LessThan(minUnits) {
		return Quotation{}, errors.NewEncodingError(d.String(), "units out of int64 range")
	}

	return Quotation{Units: whole.IntPart(), Nano: int32(nano.IntPart())}, nil
}

// MoneyFromDecimal encodes d as a MoneyValue in the given currency.
func MoneyFromDecimal(d decimal.Decimal, currency string) (MoneyValue, error) {
	q, err := FromDecimal(d)
	if err != nil {
		return MoneyValue{}, err
	}
	return MoneyValue{Currency: currency, Units: q.Units, Nano: q.Nano}, nil
}

func validate(units int64, nano int32) error {
	if nano <= -NanoScale || nano >= NanoScale {
		return errors.NewEncodingError(fmt.Sprintf("units=%d nano=%d", units, nano), "nano out of range")
	}
	if (units > 0 && nano < 0) || (units < 0 && nano > 0) {
		return errors.NewEncodingError(fmt.Sprintf("units=%d nano=%d", units, nano), "units and nano differ in sign")
	}
	return nil
}
