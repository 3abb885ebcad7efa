package money

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
)

func signed(units int64, nano int32) Quotation {
	if nano < 0 {
		nano = -nano
	}
	if units < 0 {
		nano = -nano
	}
	return Quotation{Units: units, Nano: nano}
}

// Property: encoding the decimal value of any valid Quotation yields the same
// Quotation.
func TestProperty_QuotationRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("FromDecimal(ToDecimal(v)) == v", prop.ForAll(
		func(units int64, nano int32) bool {
			q := signed(units, nano)
			d, err := ToDecimal(q)
			if err != nil {
				return false
			}
			back, err := FromDecimal(d)
			if err != nil {
				return false
			}
			return back == q
		},
		gen.Int64Range(-1_000_000_000_000, 1_000_000_000_000),
		gen.Int32Range(-NanoScale+1, NanoScale-1),
	))

	properties.TestingRun(t)
}

// Property: decoding an encoded decimal recovers it to within one nano.
func TestProperty_DecimalPrecision(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)
	tolerance := decimal.New(1, -9)

	properties.Property("|ToDecimal(FromDecimal(x)) - x| <= 1e-9", prop.ForAll(
		func(x float64) bool {
			d := decimal.NewFromFloat(x)
			q, err := FromDecimal(d)
			if err != nil {
				return false
			}
			if q.Validate() != nil {
				return false
			}
			return q.Decimal().Sub(d).Abs().LessThanOrEqual(tolerance)
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

func TestFromDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want Quotation
	}{
		{"0", Quotation{}},
		{"301.5", Quotation{Units: 301, Nano: 500_000_000}},
		{"-1.5", Quotation{Units: -1, Nano: -500_000_000}},
		{"-0.25", Quotation{Units: 0, Nano: -250_000_000}},
		{"0.0000000005", Quotation{Units: 0, Nano: 1}},
		{"-0.0000000005", Quotation{Units: 0, Nano: -1}},
		{"0.00000000049", Quotation{Units: 0, Nano: 0}},
		{"0.9999999996", Quotation{Units: 1, Nano: 0}},
		{"-7.9999999999", Quotation{Units: -8, Nano: 0}},
	}

	for _, tt := range tests {
		got, err := FromDecimal(decimal.RequireFromString(tt.in))
		if err != nil {
			t.Fatalf("FromDecimal(%s) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("FromDecimal(%s) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFromDecimal_OutOfRange(t *testing.T) {
	_, err := FromDecimal(decimal.RequireFromString("1e20"))
	if !errors.Is(err, errors.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}

	var encErr *errors.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected *EncodingError, got %T", err)
	}
}

func TestValidate(t *testing.T) {
	bad := []Quotation{
		{Units: 1, Nano: -1},
		{Units: -1, Nano: 1},
		{Units: 0, Nano: NanoScale},
		{Units: 0, Nano: -NanoScale},
	}
	for _, q := range bad {
		if _, err := ToDecimal(q); !errors.Is(err, errors.ErrEncoding) {
			t.Fatalf("ToDecimal(%+v) expected encoding error, got %v", q, err)
		}
	}

	good := []Quotation{{}, {Units: 0, Nano: -5}, {Units: 3, Nano: 999_999_999}}
	for _, q := range good {
		if err := q.Validate(); err != nil {
			t.Fatalf("Validate(%+v) unexpected error: %v", q, err)
		}
	}
}

// -0.5 and 0.-5 must not read alike in the error.
func TestValidateNamesUnitsAndNano(t *testing.T) {
	err := Quotation{Units: 0, Nano: -NanoScale}.Validate()
	var enc *errors.EncodingError
	if !errors.As(err, &enc) {
		t.Fatalf("expected *EncodingError, got %v", err)
	}
	if enc.Value != "units=0 nano=-1000000000" {
		t.Fatalf("value %q", enc.Value)
	}

	err = Quotation{Units: -1, Nano: 5}.Validate()
	if !errors.As(err, &enc) || enc.Value != "units=-1 nano=5" {
		t.Fatalf("got %v", err)
	}
}

func TestMoneyValueJSON(t *testing.T) {
	var m MoneyValue
	if err := json.Unmarshal([]byte(`{"currency":"rub","units":"114","nano":250000000}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	d, err := MoneyToDecimal(m)
	if err != nil {
		t.Fatalf("MoneyToDecimal: %v", err)
	}
	if !d.Equal(decimal.RequireFromString("114.25")) {
		t.Fatalf("got %s, want 114.25", d)
	}
	if m.Currency != "rub" {
		t.Fatalf("currency = %q", m.Currency)
	}

	back, err := MoneyFromDecimal(d, "rub")
	if err != nil {
		t.Fatalf("MoneyFromDecimal: %v", err)
	}
	if back != m {
		t.Fatalf("got %+v, want %+v", back, m)
	}
}
