package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tinkoff-trader/internal/broker"
	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/stream"
	"tinkoff-trader/internal/trade"
	"tinkoff-trader/internal/wire"
)

// addOrderCommands adds order placement and inspection commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place and manage orders",
		Long: `Place, cancel and inspect orders.

Orders go through the same gateway the 'run' command uses, so execution
reports are reconciled before the command returns.`,
	}

	cmd.AddCommand(newOrderPostCmd(app))
	cmd.AddCommand(newOrderCancelCmd(app))
	cmd.AddCommand(newOrderStatusCmd(app))

	rootCmd.AddCommand(cmd)
}

// session is a short-lived gateway with its bus and trade book.
type session struct {
	gw   *broker.Gateway
	bus  *stream.Bus
	book *trade.Book
}

// withGateway runs fn against a gateway that owns a freshly opened stream.
// The gateway is stopped and closed when fn returns.
func withGateway(ctx context.Context, app *App, fn func(ctx context.Context, s session) error) error {
	if app.Client == nil {
		return errors.Wrap(errors.ErrNotAuthenticated, "no broker client configured")
	}
	conn, err := app.Client.OpenStream(ctx)
	if err != nil {
		return err
	}

	bus := stream.NewBusWithConfig(app.Config.BusConfig())
	defer bus.Close()
	book := trade.NewBook()
	gw := broker.NewGateway(app.Client, conn, bus, book, app.Config.GatewayConfig(), app.Logger)

	// The journal is fed here rather than through RegisterConsumer so every
	// trade event is written before the session returns.
	journaled := make(chan struct{})
	if app.Store != nil {
		journal := NewJournalConsumer(app.Store, app.Logger)
		sub := bus.Subscribe()
		go func() {
			defer close(journaled)
			for e := range sub.Events() {
				journal.OnEvent(e)
			}
		}()
	} else {
		close(journaled)
	}

	runCtx, stop := context.WithCancel(ctx)
	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = gw.Run(runCtx)
	}()

	err = fn(ctx, session{gw: gw, bus: bus, book: book})
	stop()
	wg.Wait()
	gw.Close()
	bus.Close()
	<-journaled

	if err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// seedPaperPrice gives the simulator a market price for figi. An explicit
// price wins over the quote source.
func seedPaperPrice(ctx context.Context, app *App, figi string, explicit decimal.Decimal) error {
	if app.Paper == nil {
		return nil
	}
	if explicit.IsPositive() {
		app.Paper.SetPrice(figi, explicit)
		return nil
	}
	prices, err := app.API.LastPrices(ctx, figi)
	if err != nil {
		return err
	}
	for _, p := range prices {
		if p.FIGI == figi && p.Price.IsPositive() {
			app.Paper.SetPrice(figi, p.Price)
		}
	}
	return nil
}

func decimalFlag(cmd *cobra.Command, name string) (*decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.NewValidationError(name, raw, "not a decimal number")
	}
	if !d.IsPositive() {
		return nil, errors.NewValidationError(name, raw, "must be positive")
	}
	return &d, nil
}

func newOrderPostCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <ticker|figi>",
		Short: "Place an order",
		Long: `Place a market or limit order.

With --stop-loss or --take-profit the protective stop orders are placed in
the opposite direction once the entry order has filled.

Every order belongs to a trade. Without --trade a new trade is started and
its id printed; with --trade the order scales into or out of that open
trade, and a fill that flattens it moves the trade to the journal.`,
		Example: `  trader order post SBER --side buy --lots 1
  trader order post SBER --side sell --lots 2 --limit 305.5
  trader order post SBER --side buy --lots 1 --stop-loss 290 --take-profit 320
  trader order post SBER --side sell --lots 1 --trade 0c3f9e2a-6d0b-4c1e-9a55-7f1d2b3c4d5e`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			side, _ := cmd.Flags().GetString("side")
			lots, _ := cmd.Flags().GetInt64("lots")
			owner, _ := cmd.Flags().GetString("owner")
			wait, _ := cmd.Flags().GetDuration("wait")
			resume, _ := cmd.Flags().GetString("trade")

			dir, err := models.ParseDirection(side)
			if err != nil {
				return err
			}
			limit, err := decimalFlag(cmd, "limit")
			if err != nil {
				return err
			}
			stopLoss, err := decimalFlag(cmd, "stop-loss")
			if err != nil {
				return err
			}
			exec, err := decimalFlag(cmd, "exec")
			if err != nil {
				return err
			}
			takeProfit, err := decimalFlag(cmd, "take-profit")
			if err != nil {
				return err
			}
			paperPrice, err := decimalFlag(cmd, "price")
			if err != nil {
				return err
			}
			if exec != nil && stopLoss == nil {
				return errors.NewValidationError("exec", exec.String(), "requires --stop-loss")
			}

			var entry order.Order
			if limit != nil {
				entry, err = order.NewLimit(dir, lots, *limit)
			} else {
				entry, err = order.NewMarket(dir, lots)
			}
			if err != nil {
				return err
			}

			inst, err := app.Instrument(ctx, strings.ToUpper(args[0]))
			if err != nil {
				output.Error("Unknown instrument %s: %v", args[0], err)
				return err
			}
			seed := decimal.Zero
			if paperPrice != nil {
				seed = *paperPrice
			}
			if err := seedPaperPrice(ctx, app, inst.FIGI, seed); err != nil {
				return err
			}

			kind := trade.Long
			if dir == models.Sell {
				kind = trade.Short
			}
			var resumed *trade.OpenedTrade
			if resume != "" {
				if err := requireStore(app); err != nil {
					return err
				}
				rec, err := app.Store.GetOpenTrade(ctx, resume)
				if err != nil {
					output.Error("No open trade %s: %v", resume, err)
					return err
				}
				opened, err := rec.Restore(inst)
				if err != nil {
					return err
				}
				if (stopLoss != nil || takeProfit != nil) && dir != opened.Kind().Entry() {
					return errors.NewValidationError("trade", resume, "stops can only follow an order that adds to the trade")
				}
				resumed = &opened
			}

			return withGateway(ctx, app, func(ctx context.Context, s session) error {
				// Subscribed before posting so no fill report is missed.
				sub := s.bus.Subscribe(inst.FIGI)
				defer sub.Close()

				tradeID := resume
				if resumed != nil {
					s.book.Resume(tradeID, *resumed)
				} else {
					tradeID = s.book.Add(trade.New(time.Now(), owner, kind, inst))
				}
				result, err := s.gw.Post(ctx, broker.PostCommand{
					Account:    app.Config.Account(),
					Instrument: inst,
					Owner:      owner,
					TradeID:    tradeID,
					Order:      entry,
				})
				if err != nil {
					output.Error("Order failed: %v", err)
					return err
				}

				if result.Status() == order.StatusPosted && wait > 0 {
					result = awaitOrder(ctx, sub, result, wait)
				}

				var stops []order.Order
				if stopLoss != nil || takeProfit != nil {
					if result.Status() != order.StatusFilled {
						output.Warning("Entry order is %s; protective stops not placed", result.Status())
					} else {
						stops, err = postStops(ctx, s.gw, app, inst, owner, tradeID, dir, result, stopLoss, exec, takeProfit)
						if err != nil {
							output.Error("Stop order failed: %v", err)
							return err
						}
					}
				}

				// A trade that left the book was closed by this order.
				status := trade.StatusClosed
				if tr, ok := s.book.Get(tradeID); ok {
					status = tr.Status()
				}

				if output.IsJSON() {
					return output.JSON(map[string]interface{}{
						"instrument":   inst.FIGI,
						"trade_id":     tradeID,
						"trade_status": status,
						"order":        orderView(result),
						"stops":        orderViews(stops),
					})
				}
				showOrder(output, inst.Ticker, result)
				for _, stop := range stops {
					showOrder(output, inst.Ticker, stop)
				}
				output.Info("Trade %s is %s", tradeID, status)
				return nil
			})
		},
	}

	cmd.Flags().String("side", "", "order side (buy or sell)")
	cmd.Flags().Int64("lots", 1, "quantity in lots")
	cmd.Flags().String("limit", "", "limit price; omit for a market order")
	cmd.Flags().String("stop-loss", "", "protective stop price")
	cmd.Flags().String("exec", "", "execution price turning the stop-loss into a stop-limit")
	cmd.Flags().String("take-profit", "", "profit target price")
	cmd.Flags().String("price", "", "paper mode: market price to fill against")
	cmd.Flags().String("owner", "cli", "strategy name recorded with the order")
	cmd.Flags().Duration("wait", 0, "wait this long for a resting order to fill")
	cmd.Flags().String("trade", "", "id of an open trade the order belongs to")
	_ = cmd.MarkFlagRequired("side")

	return cmd
}

// awaitOrder watches the bus for execution of a resting order.
func awaitOrder(ctx context.Context, sub *stream.Subscriber, posted order.Order, wait time.Duration) order.Order {
	id := order.BrokerID(posted)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	current := posted
	for {
		select {
		case <-ctx.Done():
			return current
		case <-timer.C:
			return current
		case e, ok := <-sub.Events():
			if !ok {
				return current
			}
			oe, isOrder := e.(stream.OrderEvent)
			if !isOrder || order.BrokerID(oe.Order) != id {
				continue
			}
			current = oe.Order
			if order.IsTerminal(current) {
				return current
			}
		}
	}
}

func postStops(ctx context.Context, gw *broker.Gateway, app *App, inst models.Instrument, owner, tradeID string,
	entry models.Direction, filled order.Order, stopLoss, exec, takeProfit *decimal.Decimal) ([]order.Order, error) {
	exit := entry.Opposite()
	var out []order.Order

	post := func(kind order.StopKind, price decimal.Decimal, execPrice *decimal.Decimal) error {
		stop, err := order.NewStop(kind, exit, filled.Lots(), price, execPrice)
		if err != nil {
			return err
		}
		posted, err := gw.Post(ctx, broker.PostCommand{
			Account:    app.Config.Account(),
			Instrument: inst,
			Owner:      owner,
			TradeID:    tradeID,
			Order:      stop,
		})
		if err != nil {
			return err
		}
		out = append(out, posted)
		return nil
	}

	if stopLoss != nil {
		if err := post(order.StopLoss, *stopLoss, exec); err != nil {
			return out, err
		}
	}
	if takeProfit != nil {
		if err := post(order.TakeProfit, *takeProfit, nil); err != nil {
			return out, err
		}
	}
	return out, nil
}

func newOrderCancelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order",
		Example: `  trader order cancel 34712998761
  trader order cancel 2c1e4f0b --stop`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			id := args[0]

			isStop, _ := cmd.Flags().GetBool("stop")
			if isStop {
				// Stop orders have no state query; the venue only confirms the
				// cancel time.
				resp, err := app.Client.CancelStopOrder(ctx, wire.CancelStopOrderRequest{
					AccountID:   app.Config.Account(),
					StopOrderID: id,
				})
				if err != nil {
					output.Error("Cancel failed: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"stop_order_id": id, "time": resp.Time})
				}
				output.Success("Stop order %s cancelled at %s", id, FormatDateTime(resp.Time))
				return nil
			}

			figi, current, err := app.API.Order(ctx, id)
			if err != nil {
				output.Error("Order %s not found: %v", id, err)
				return err
			}
			if !order.CanCancel(current) {
				output.Warning("Order %s is %s and cannot be cancelled", id, current.Status())
				return errors.NewTransitionError(string(current.Kind())+" order", string(current.Status()), "cancel")
			}
			inst, err := app.Instrument(ctx, figi)
			if err != nil {
				inst = models.Instrument{FIGI: figi}
			}

			return withGateway(ctx, app, func(ctx context.Context, s session) error {
				result, err := s.gw.Cancel(ctx, broker.CancelCommand{
					Account:    app.Config.Account(),
					Instrument: inst,
					Owner:      "cli",
					Order:      current,
				})
				if err != nil {
					output.Error("Cancel failed: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"instrument": figi, "order": orderView(result)})
				}
				showOrder(output, inst.Ticker, result)
				return nil
			})
		},
	}
	cmd.Flags().Bool("stop", false, "the id is a stop order id")
	return cmd
}

func newOrderStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id>",
		Short: "Show the state of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			figi, o, err := app.API.Order(ctx, args[0])
			if err != nil {
				output.Error("Order %s not found: %v", args[0], err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"instrument": figi, "order": orderView(o)})
			}

			label := figi
			if app.Store != nil {
				if inst, err := app.Store.GetInstrument(ctx, figi); err == nil {
					label = inst.Ticker
				}
			}
			showOrder(output, label, o)
			return nil
		},
	}
}

// orderJSON is the machine-readable form of an order state.
type orderJSON struct {
	ID         string          `json:"id,omitempty"`
	Kind       order.Kind      `json:"kind"`
	Status     order.Status    `json:"status"`
	Direction  string          `json:"direction"`
	Lots       int64           `json:"lots"`
	Executed   int64           `json:"executed"`
	Price      string          `json:"price"`
	Average    decimal.Decimal `json:"average_price,omitempty"`
	Commission decimal.Decimal `json:"commission,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func orderView(o order.Order) orderJSON {
	v := orderJSON{
		ID:        order.BrokerID(o),
		Kind:      o.Kind(),
		Status:    o.Status(),
		Direction: string(o.Direction()),
		Lots:      o.Lots(),
		Price:     FormatOrderPrice(o),
	}
	if e, ok := o.(order.Executable); ok {
		v.Executed = e.Executed()
	}
	if op, ok := order.OperationOf(o); ok {
		v.Average = op.AveragePrice()
		v.Commission = op.Commission
	}
	if r, ok := o.(interface{ Reason() string }); ok {
		v.Reason = r.Reason()
	}
	return v
}

func orderViews(orders []order.Order) []orderJSON {
	out := make([]orderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	return out
}

func showOrder(output *Output, label string, o order.Order) {
	v := orderView(o)
	lines := []string{
		fmt.Sprintf("Status:     %s", output.OrderStatus(string(v.Status))),
		fmt.Sprintf("Kind:       %s", v.Kind),
		fmt.Sprintf("Direction:  %s", v.Direction),
		fmt.Sprintf("Lots:       %d (executed %d)", v.Lots, v.Executed),
		fmt.Sprintf("Price:      %s", v.Price),
	}
	if v.ID != "" {
		lines = append(lines, fmt.Sprintf("Broker ID:  %s", v.ID))
	}
	if _, ok := order.OperationOf(o); ok {
		lines = append(lines,
			fmt.Sprintf("Avg price:  %s", FormatPrice(v.Average)),
			fmt.Sprintf("Commission: %s", FormatPrice(v.Commission)),
		)
	}
	if v.Reason != "" {
		lines = append(lines, fmt.Sprintf("Reason:     %s", output.Red(v.Reason)))
	}
	output.Box(fmt.Sprintf("%s order", label), lines)
}
