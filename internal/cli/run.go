package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tinkoff-trader/internal/broker"
	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/scheduler"
	"tinkoff-trader/internal/stream"
	"tinkoff-trader/internal/trade"
	"tinkoff-trader/pkg/utils"
)

// addRunCommand adds the long-running runtime command.
func addRunCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading runtime",
		Long: `Run the gateway against the broker stream until interrupted.

Market data for the given instruments is printed as it arrives. Closed
trades are written to the journal, and the instrument cache is refreshed on
the configured schedule. The stream is re-dialled after every failure.`,
		Example: `  trader run -i SBER -i GAZP
  trader run -i SBER --timeframe 5M --tics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Client == nil {
				return errors.Wrap(errors.ErrNotAuthenticated, "no broker client configured")
			}

			keys, _ := cmd.Flags().GetStringSlice("instrument")
			tfName, _ := cmd.Flags().GetString("timeframe")
			tics, _ := cmd.Flags().GetBool("tics")
			status, _ := cmd.Flags().GetBool("status")
			noSync, _ := cmd.Flags().GetBool("no-sync")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var tf models.TimeFrame
			if tfName != "" {
				parsed, err := models.ParseTimeFrame(tfName)
				if err != nil {
					return err
				}
				tf = parsed
			}

			instruments := make([]models.Instrument, 0, len(keys))
			for _, key := range keys {
				resolveCtx, cancel := context.WithTimeout(ctx, time.Minute)
				inst, err := app.Instrument(resolveCtx, strings.ToUpper(key))
				cancel()
				if err != nil {
					output.Error("Unknown instrument %s: %v", key, err)
					return err
				}
				instruments = append(instruments, inst)
			}
			subs := subscriptions(instruments, tf, tics, status)

			bus := stream.NewBusWithConfig(app.Config.BusConfig())
			defer bus.Close()
			book := trade.NewBook()
			if app.Store != nil {
				resumeCtx, cancel := context.WithTimeout(ctx, time.Minute)
				n := resumeOpenTrades(resumeCtx, app, book)
				cancel()
				if n > 0 {
					output.Info("Resumed %d open trades", n)
				}
			}
			gw := broker.NewGateway(app.Client, nil, bus, book, app.Config.GatewayConfig(), app.Logger)
			defer gw.Close()

			if len(subs) > 0 {
				gw.Submit(broker.SubscribeCommand{Subscriptions: subs})
			}
			if app.Store != nil {
				bus.RegisterConsumer(ctx, NewJournalConsumer(app.Store, app.Logger))
			}
			if app.Paper != nil {
				bus.RegisterConsumer(ctx, NewPaperFeed(app.Paper))
			}
			printer := bus.Subscribe()

			app.Logger.Info().
				Str("mode", app.Config.Broker.Mode).
				Str("account", app.Config.Account()).
				Int("subscriptions", len(subs)).
				Str("moex_session", string(utils.SessionAt(time.Now()))).
				Msg("Runtime starting")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return gw.Serve(gctx, app.Client.OpenStream, app.Config.ReconnectPolicy())
			})
			if !noSync && app.Sync != nil && app.Config.Schedule.InstrumentSync != "" {
				sched := scheduler.New(app.Logger)
				job := scheduler.NewInstrumentSyncJob(app.Sync, 5*time.Minute, app.Logger)
				if err := sched.AddJob(app.Config.Schedule.InstrumentSync, job); err != nil {
					return errors.Wrapf(err, "schedule %q", app.Config.Schedule.InstrumentSync)
				}
				g.Go(func() error {
					return sched.Run(gctx)
				})
			}
			g.Go(func() error {
				defer printer.Close()
				for {
					select {
					case <-gctx.Done():
						return nil
					case e, ok := <-printer.Events():
						if !ok {
							return nil
						}
						printEvent(output, e)
					}
				}
			})

			err := g.Wait()
			if lagged := printer.Lagged(); lagged > 0 {
				app.Logger.Warn().Uint64("dropped", lagged).Msg("Printer fell behind")
			}
			if errors.Is(err, context.Canceled) {
				output.Info("Stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringSliceP("instrument", "i", nil, "instrument ticker or FIGI (repeatable)")
	cmd.Flags().StringP("timeframe", "t", "1M", "bar timeframe; empty disables bars")
	cmd.Flags().Bool("tics", false, "subscribe to anonymous trades")
	cmd.Flags().Bool("status", false, "subscribe to trading status changes")
	cmd.Flags().Bool("no-sync", false, "do not refresh the instrument cache on schedule")

	return cmd
}

// subscriptions builds the market data feeds for instruments.
func subscriptions(instruments []models.Instrument, tf models.TimeFrame, tics, status bool) []broker.Subscription {
	var subs []broker.Subscription
	for _, inst := range instruments {
		if tf != "" {
			subs = append(subs, broker.Subscription{Instrument: inst, Data: broker.DataBars, TimeFrame: tf})
		}
		if tics {
			subs = append(subs, broker.Subscription{Instrument: inst, Data: broker.DataTics})
		}
		if status {
			subs = append(subs, broker.Subscription{Instrument: inst, Data: broker.DataStatus})
		}
	}
	return subs
}

// NewPaperFeed keeps the simulator's market prices at the streamed bar
// close or trade price.
func NewPaperFeed(paper *broker.PaperClient) stream.Consumer {
	return stream.NewConsumerFunc(nil, func(e stream.Event) {
		switch ev := e.(type) {
		case stream.BarEvent:
			paper.SetPrice(ev.Instrument, ev.Bar.Close)
		case stream.TicEvent:
			paper.SetPrice(ev.Instrument, ev.Tic.Price)
		}
	})
}

func printEvent(output *Output, e stream.Event) {
	if output.IsJSON() {
		_ = output.JSON(map[string]interface{}{"kind": e.Kind(), "figi": e.FIGI(), "time": e.Time(), "event": e})
		return
	}

	ts := output.DimText(FormatTime(e.Time()))
	switch ev := e.(type) {
	case stream.BarEvent:
		output.Printf("%s %-6s %s %s V=%s\n", ts, ev.TimeFrame, ev.Instrument, FormatOHLC(ev.Bar), FormatVolume(ev.Bar.Volume))
	case stream.TicEvent:
		side := output.Green(string(ev.Tic.Direction))
		if ev.Tic.Direction == models.Sell {
			side = output.Red(string(ev.Tic.Direction))
		}
		output.Printf("%s TIC    %s %s %d @ %s\n", ts, ev.Instrument, side, ev.Tic.Lots, FormatPrice(ev.Tic.Price))
	case stream.StatusEvent:
		output.Printf("%s STATUS %s %s\n", ts, ev.Status.FIGI, output.Yellow(ev.Status.Status))
	case stream.OrderEvent:
		output.Printf("%s ORDER  %s %s %s %s\n", ts, ev.Instrument, output.OrderStatus(string(ev.Order.Status())),
			ev.Order.Direction(), FormatOrderPrice(ev.Order))
	case stream.TradeEvent:
		line := string(ev.Trade.Status())
		if closed, ok := ev.Trade.(trade.ClosedTrade); ok {
			line += " " + output.FormatPnL(closed.Result(), ev.Trade.Instrument().Currency)
		}
		output.Printf("%s TRADE  %s %s %s\n", ts, ev.ID, ev.Trade.Instrument().Ticker, line)
	default:
		output.Println(e.String())
	}
}
