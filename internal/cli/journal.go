package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tinkoff-trader/internal/logging"
	"tinkoff-trader/internal/store"
	"tinkoff-trader/internal/stream"
	"tinkoff-trader/internal/trade"
)

// addJournalCommands adds trade journal commands.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newTradesCmd(app))
}

// NewJournalConsumer keeps the store in step with trades seen on the bus:
// an opened trade is saved so a later session can resume it, and a closed
// one moves to the journal.
func NewJournalConsumer(s store.DataStore, log zerolog.Logger) stream.Consumer {
	log = logging.WithComponent(log, "journal")
	return stream.NewConsumerFunc(nil, func(e stream.Event) {
		ev, ok := e.(stream.TradeEvent)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		switch t := ev.Trade.(type) {
		case trade.OpenedTrade:
			if err := s.SaveOpenTrade(ctx, ev.ID, t); err != nil {
				log.Error().Err(err).Str("trade_id", ev.ID).Msg("Failed to save open trade")
			}

		case trade.ClosedTrade:
			if err := s.LogTrade(ctx, ev.ID, t); err != nil {
				log.Error().Err(err).Str("trade_id", ev.ID).Msg("Failed to journal trade")
				return
			}
			if err := s.DeleteOpenTrade(ctx, ev.ID); err != nil {
				log.Warn().Err(err).Str("trade_id", ev.ID).Msg("Journaled trade still listed as open")
			}
			log.Info().
				Str("trade_id", ev.ID).
				Str("strategy", t.Strategy()).
				Str("figi", t.Instrument().FIGI).
				Str("result", t.Result().String()).
				Msg("Trade journaled")
		}
	})
}

// resumeOpenTrades loads the saved open trades into book and returns how
// many were restored. A trade that cannot be rebuilt stays in the store.
func resumeOpenTrades(ctx context.Context, app *App, book *trade.Book) int {
	log := logging.WithComponent(app.Logger, "journal")
	records, err := app.Store.ListOpenTrades(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Open trades unavailable")
		return 0
	}
	n := 0
	for _, r := range records {
		inst, err := app.Instrument(ctx, r.FIGI)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", r.ID).Msg("Open trade instrument unknown")
			continue
		}
		opened, err := r.Restore(inst)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", r.ID).Msg("Open trade not restored")
			continue
		}
		book.Resume(r.ID, opened)
		n++
	}
	return n
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the trade journal",
		Long:  "List closed trades from the journal with a performance summary, or the trades still open.",
		Example: `  trader trades --days 7
  trader trades --strategy breakout --figi BBG004730N88
  trader trades --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireStore(app); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			strategy, _ := cmd.Flags().GetString("strategy")
			figi, _ := cmd.Flags().GetString("figi")
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")
			if open, _ := cmd.Flags().GetBool("open"); open {
				return showOpenTrades(ctx, output, app)
			}

			filter := store.TradeFilter{
				Strategy: strategy,
				FIGI:     strings.ToUpper(figi),
				Limit:    limit,
			}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}

			records, err := app.Store.GetTrades(ctx, filter)
			if err != nil {
				output.Error("Failed to read journal: %v", err)
				return err
			}
			name := strategy
			if name == "" {
				name = "all"
			}
			summary := store.Summarize(name, records)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"trades":  records,
					"summary": summary,
				})
			}
			if len(records) == 0 {
				output.Info("No trades in the journal")
				return nil
			}

			table := NewTable(output, "CLOSED", "STRATEGY", "TICKER", "KIND", "LOTS", "HELD", "RESULT", "%", "FEE")
			for _, r := range records {
				ticker := r.Ticker
				if ticker == "" {
					ticker = r.FIGI
				}
				table.AddRow(
					FormatDateTime(r.CloseTime),
					r.Strategy,
					ticker,
					string(r.Kind),
					fmt.Sprintf("%d", r.BuyQuantity),
					FormatDuration(r.CloseTime.Sub(r.OpenTime)),
					output.FormatPnL(r.Result, ""),
					output.FormatPercent(r.ResultPercent),
					FormatPrice(r.Commission),
				)
			}
			table.Render()
			output.Println()
			showSummary(output, summary)
			return nil
		},
	}

	cmd.Flags().String("strategy", "", "only trades of this strategy")
	cmd.Flags().String("figi", "", "only trades of this instrument")
	cmd.Flags().Int("days", 0, "only trades opened in the last N days")
	cmd.Flags().Int("limit", 100, "maximum rows")
	cmd.Flags().Bool("open", false, "list open trades instead of the journal")

	return cmd
}

func showOpenTrades(ctx context.Context, output *Output, app *App) error {
	records, err := app.Store.ListOpenTrades(ctx)
	if err != nil {
		output.Error("Failed to read open trades: %v", err)
		return err
	}
	if output.IsJSON() {
		return output.JSON(map[string]interface{}{"open_trades": records})
	}
	if len(records) == 0 {
		output.Info("No open trades")
		return nil
	}

	table := NewTable(output, "ID", "STARTED", "STRATEGY", "TICKER", "KIND", "LOTS", "ORDERS")
	for _, r := range records {
		ticker := r.Ticker
		if ticker == "" {
			ticker = r.FIGI
		}
		table.AddRow(
			r.ID,
			FormatDateTime(r.Timestamp),
			r.Strategy,
			ticker,
			string(r.Kind),
			fmt.Sprintf("%d", r.Quantity),
			fmt.Sprintf("%d", len(r.Orders)),
		)
	}
	table.Render()
	return nil
}

func showSummary(output *Output, s trade.Summary) {
	output.Box(fmt.Sprintf("Summary: %s", s.Name), []string{
		fmt.Sprintf("Trades:       %d (%d won, %d lost)", s.TotalTrades, s.WinningTrades, s.LosingTrades),
		fmt.Sprintf("Profitable:   %.1f%%", s.PercentProfitable),
		fmt.Sprintf("Net profit:   %.2f", s.Profit),
		fmt.Sprintf("Gross:        %.2f / %.2f (ratio %.2f)", s.GrossProfit, s.GrossLoss, s.Ratio),
		fmt.Sprintf("Average:      %.2f (win %.2f, loss %.2f)", s.AverageTrade, s.AverageWin, s.AverageLoss),
		fmt.Sprintf("Largest:      %.2f / %.2f", s.LargestWin, s.LargestLoss),
		fmt.Sprintf("Series:       %d wins, %d losses", s.MaxWinSeries, s.MaxLossSeries),
		fmt.Sprintf("Std dev:      %.2f", s.StdDev),
	})
}
