package order

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
)

var t0 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func tx(minutes int, qty int64, price string) models.Transaction {
	return models.NewTransaction(t0.Add(time.Duration(minutes)*time.Minute), qty, decimal.RequireFromString(price))
}

func filledMarket(t *testing.T, dir models.Direction, lots int64, price string) FilledMarketOrder {
	t.Helper()
	o, err := NewMarket(dir, lots)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	p, err := o.Post("broker-1")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	p, err = p.AddTransaction(tx(0, lots, price))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	f, err := p.Fill(decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	return f
}

func TestMarketOrderLifecycle(t *testing.T) {
	o, err := NewMarket(models.Buy, 10)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	if o.Status() != StatusNew || o.Kind() != KindMarket {
		t.Fatalf("unexpected state %s", o)
	}

	p, err := o.Post("abc")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if p.BrokerID() != "abc" || p.Executed() != 0 {
		t.Fatalf("unexpected posted order %s", p)
	}

	p, err = p.AddTransaction(tx(1, 4, "100.5"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	p, err = p.AddTransaction(tx(2, 6, "101"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	f, err := p.Fill(decimal.RequireFromString("0.5"))
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	op := f.Operation()
	if op.Quantity != 10 {
		t.Fatalf("operation quantity = %d, want 10", op.Quantity)
	}
	if !op.Value.Equal(decimal.RequireFromString("1008")) {
		t.Fatalf("operation value = %s, want 1008", op.Value)
	}
	if !op.Timestamp.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("operation timestamp = %s", op.Timestamp)
	}
	if len(f.Transactions()) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(f.Transactions()))
	}
}

func TestNewOrderValidation(t *testing.T) {
	if _, err := NewMarket(models.Buy, 0); err == nil {
		t.Fatal("expected error for zero lots")
	}
	if _, err := NewMarket("HOLD", 1); err == nil {
		t.Fatal("expected error for unknown direction")
	}
	if _, err := NewLimit(models.Sell, 1, decimal.Zero); err == nil {
		t.Fatal("expected error for zero limit price")
	}
	if _, err := NewStop("TRAILING", models.Sell, 1, decimal.NewFromInt(1), nil); err == nil {
		t.Fatal("expected error for unknown stop kind")
	}
	if _, err := (NewMarketOrder{intent: intent{direction: models.Buy, lots: 1}}).Post(""); err == nil {
		t.Fatal("expected error for empty broker id")
	}
}

func TestAddTransaction_ExceedsRequested(t *testing.T) {
	o, _ := NewLimit(models.Buy, 5, decimal.NewFromInt(300))
	p, _ := o.Post("L-1")
	p, err := p.AddTransaction(tx(0, 3, "300"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	_, err = p.AddTransaction(tx(1, 3, "300"))
	if !errors.Is(err, errors.ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if p.Executed() != 3 {
		t.Fatalf("failed transition changed order: executed=%d", p.Executed())
	}

	if _, err := p.AddTransaction(tx(1, 0, "300")); !errors.Is(err, errors.ErrInvariant) {
		t.Fatalf("expected invariant error for zero quantity, got %v", err)
	}
}

func TestFill_RequiresFullExecution(t *testing.T) {
	o, _ := NewMarket(models.Sell, 2)
	p, _ := o.Post("M-1")

	if _, err := p.Fill(decimal.Zero); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition with no transactions, got %v", err)
	}

	p, _ = p.AddTransaction(tx(0, 1, "10"))
	if _, err := p.Fill(decimal.Zero); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for partial fill, got %v", err)
	}
}

func TestTransitionsDoNotAliasTransactions(t *testing.T) {
	o, _ := NewMarket(models.Buy, 3)
	p, _ := o.Post("M-2")
	p1, _ := p.AddTransaction(tx(0, 1, "10"))
	a, _ := p1.AddTransaction(tx(1, 1, "11"))
	b, _ := p1.AddTransaction(tx(2, 2, "12"))

	if p1.Executed() != 1 {
		t.Fatalf("prior state changed: executed=%d", p1.Executed())
	}
	if got := a.Transactions()[1].Price; !got.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("branch a price = %s, want 11", got)
	}
	if got := b.Transactions()[1].Price; !got.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("branch b price = %s, want 12", got)
	}

	txs := a.Transactions()
	txs[0].Quantity = 99
	if a.Executed() != 2 {
		t.Fatal("Transactions returned an alias of internal state")
	}
}

// Property: cancelling a Filled order always fails with an invalid transition.
func TestProperty_CancelFilledFails(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("Cancel(filled) returns ErrInvalidTransition", prop.ForAll(
		func(lots int64, buy bool, limit bool) bool {
			dir := models.Sell
			if buy {
				dir = models.Buy
			}

			var o Order
			var err error
			if limit {
				o, err = NewLimit(dir, lots, decimal.NewFromInt(100))
			} else {
				o, err = NewMarket(dir, lots)
			}
			if err != nil {
				return false
			}
			if o, err = Post(o, "id"); err != nil {
				return false
			}
			if o, err = AddTransaction(o, tx(0, lots, "100")); err != nil {
				return false
			}
			if o, err = Fill(o, decimal.NewFromInt(1)); err != nil {
				return false
			}

			_, err = Cancel(o)
			var te *errors.TransitionError
			return errors.Is(err, errors.ErrInvalidTransition) && errors.As(err, &te)
		},
		gen.Int64Range(1, 1000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: cancelling a Posted order always succeeds and keeps prior fills.
func TestProperty_CancelPostedPreservesTransactions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("Cancel(posted) keeps transactions", prop.ForAll(
		func(lots int64, partial int64) bool {
			if partial > lots {
				partial = lots
			}
			o, err := NewLimit(models.Buy, lots, decimal.NewFromInt(50))
			if err != nil {
				return false
			}
			p, err := o.Post("L")
			if err != nil {
				return false
			}
			if partial > 0 {
				if p, err = p.AddTransaction(tx(0, partial, "50")); err != nil {
					return false
				}
			}

			c, err := Cancel(p)
			if err != nil {
				return false
			}
			canceled, ok := c.(CanceledLimitOrder)
			if !ok {
				return false
			}
			return canceled.Executed() == partial &&
				len(canceled.Transactions()) == len(p.Transactions()) &&
				canceled.BrokerID() == "L"
		},
		gen.Int64Range(1, 500),
		gen.Int64Range(0, 500),
	))

	properties.TestingRun(t)
}

func TestDynamicTransitions_InvalidStates(t *testing.T) {
	m, _ := NewMarket(models.Buy, 1)
	rejected := m.Reject("not enough money")

	if _, err := Cancel(m); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("cancel New: expected invalid transition, got %v", err)
	}
	if _, err := Cancel(rejected); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("cancel Rejected: expected invalid transition, got %v", err)
	}
	if _, err := Reject(filledMarket(t, models.Buy, 1, "1"), "x"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("reject Filled: expected invalid transition, got %v", err)
	}
	if _, err := Post(rejected, "id"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("post Rejected: expected invalid transition, got %v", err)
	}

	p, _ := m.Post("M")
	c := p.Cancel()
	if _, err := Cancel(c); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("cancel Canceled: expected invalid transition, got %v", err)
	}
	if !IsTerminal(c) || IsTerminal(p) {
		t.Fatal("IsTerminal mismatch")
	}
	if rejected.Reason() != "not enough money" {
		t.Fatalf("reason = %q", rejected.Reason())
	}
}

func TestStopOrderTrigger(t *testing.T) {
	exec := decimal.NewFromInt(295)
	limitStop, err := NewStop(StopLoss, models.Sell, 10, decimal.NewFromInt(296), &exec)
	if err != nil {
		t.Fatalf("NewStop: %v", err)
	}
	posted, err := limitStop.Post("S-1")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	triggered, err := posted.Trigger("O-1")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	lim, ok := triggered.Execution().(PostedLimitOrder)
	if !ok {
		t.Fatalf("expected PostedLimitOrder, got %T", triggered.Execution())
	}
	if !lim.Price().Equal(exec) || lim.BrokerID() != "O-1" || lim.Lots() != 10 || lim.Direction() != models.Sell {
		t.Fatalf("unexpected execution order %s", lim)
	}

	marketStop, _ := NewStop(TakeProfit, models.Sell, 3, decimal.NewFromInt(320), nil)
	postedTP, _ := marketStop.Post("S-2")
	triggered, err = postedTP.Trigger("O-2")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if _, ok := triggered.Execution().(PostedMarketOrder); !ok {
		t.Fatalf("expected PostedMarketOrder, got %T", triggered.Execution())
	}
	if !IsTerminal(triggered) {
		t.Fatal("triggered stop should be terminal")
	}

	if _, err := postedTP.Trigger(""); err == nil {
		t.Fatal("expected error for empty execution broker id")
	}
}

func TestAccessors(t *testing.T) {
	f := filledMarket(t, models.Sell, 2, "5")
	if BrokerID(f) != "broker-1" {
		t.Fatalf("BrokerID = %q", BrokerID(f))
	}
	if len(TransactionsOf(f)) != 1 {
		t.Fatal("expected one transaction")
	}
	if op, ok := OperationOf(f); !ok || op.Quantity != 2 {
		t.Fatalf("OperationOf = %+v, %v", op, ok)
	}

	n, _ := NewMarket(models.Buy, 1)
	if BrokerID(n) != "" || TransactionsOf(n) != nil {
		t.Fatal("new order should have no broker id or transactions")
	}
	if _, ok := OperationOf(n); ok {
		t.Fatal("new order has no operation")
	}
}
