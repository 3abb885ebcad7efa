package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
)

// Transaction is one fill belonging to an order. Quantity is in lots.
type Transaction struct {
	Timestamp time.Time
	Quantity  int64
	Price     decimal.Decimal
}

// NewTransaction creates a transaction.
func NewTransaction(ts time.Time, quantity int64, price decimal.Decimal) Transaction {
	return Transaction{Timestamp: ts, Quantity: quantity, Price: price}
}

// Value returns Price * Quantity.
func (t Transaction) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

func (t Transaction) String() string {
	return fmt.Sprintf("Transaction=%s %d*%s", t.Timestamp.Format(time.RFC3339), t.Quantity, t.Price)
}

// Operation aggregates the transactions and commission of a filled order.
type Operation struct {
	Timestamp  time.Time
	Quantity   int64
	Value      decimal.Decimal
	Commission decimal.Decimal
}

// NewOperation sums txs. The operation timestamp is the latest fill.
func NewOperation(txs []Transaction, commission decimal.Decimal) (Operation, error) {
	if len(txs) == 0 {
		return Operation{}, errors.NewInvariantError("operation", "no transactions")
	}

	op := Operation{Value: decimal.Zero, Commission: commission}
	for _, t := range txs {
		op.Quantity += t.Quantity
		op.Value = op.Value.Add(t.Value())
		if t.Timestamp.After(op.Timestamp) {
			op.Timestamp = t.Timestamp
		}
	}

	return op, nil
}

// AveragePrice returns Value / Quantity.
func (o Operation) AveragePrice() decimal.Decimal {
	if o.Quantity == 0 {
		return decimal.Zero
	}
	return o.Value.Div(decimal.NewFromInt(o.Quantity))
}

func (o Operation) String() string {
	return fmt.Sprintf("Operation=%s %d lots value=%s commission=%s",
		o.Timestamp.Format(time.RFC3339), o.Quantity, o.Value, o.Commission)
}
