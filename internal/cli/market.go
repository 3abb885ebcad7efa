package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/store"
	"tinkoff-trader/pkg/utils"
)

// addMarketDataCommands adds instrument, candle and account commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newInstrumentsCmd(app))
	rootCmd.AddCommand(newCandlesCmd(app))
	rootCmd.AddCommand(newPricesCmd(app))
	rootCmd.AddCommand(newAccountsCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
}

func requireStore(app *App) error {
	if app.Store == nil || app.Sync == nil {
		return errors.Wrap(errors.ErrDatabaseError, "local store unavailable")
	}
	return nil
}

func newInstrumentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Instrument catalogue",
		Long:  "Sync and browse the locally cached instrument catalogue.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Refresh the instrument cache from the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireStore(app); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			n, err := app.Sync.SyncInstruments(ctx)
			if err != nil {
				output.Error("Instrument sync failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"instruments": n})
			}
			output.Success("Synced %d instruments", n)
			return nil
		},
	})

	list := &cobra.Command{
		Use:   "list",
		Short: "List cached instruments",
		Example: `  trader instruments list --ticker SBER
  trader instruments list --class TQBR --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireStore(app); err != nil {
				return err
			}
			ticker, _ := cmd.Flags().GetString("ticker")
			class, _ := cmd.Flags().GetString("class")
			currency, _ := cmd.Flags().GetString("currency")
			limit, _ := cmd.Flags().GetInt("limit")

			instruments, err := app.Store.ListInstruments(cmd.Context(), store.InstrumentFilter{
				Ticker:    strings.ToUpper(ticker),
				ClassCode: strings.ToUpper(class),
				Currency:  strings.ToLower(currency),
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(instruments)
			}
			if len(instruments) == 0 {
				freshness := app.Sync.GetDataFreshness(store.SyncTypeInstruments)
				if freshness.LastUpdated.IsZero() {
					output.Warning("Instrument cache is empty. Run 'trader instruments sync' first.")
				} else {
					output.Info("No instruments match")
				}
				return nil
			}

			table := NewTable(output, "TICKER", "FIGI", "CLASS", "LOT", "STEP", "CUR", "NAME")
			for _, inst := range instruments {
				table.AddRow(
					inst.Ticker,
					inst.FIGI,
					inst.ClassCode,
					fmt.Sprintf("%d", inst.LotSize()),
					inst.MinPriceIncrement.String(),
					inst.Currency,
					TruncateString(inst.Name, 32),
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().String("ticker", "", "ticker prefix")
	list.Flags().String("class", "", "class code (e.g. TQBR)")
	list.Flags().String("currency", "", "trading currency")
	list.Flags().Int("limit", 50, "maximum rows")
	cmd.AddCommand(list)

	return cmd
}

func newCandlesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candles <ticker|figi>",
		Short: "Get historical candles",
		Long: `Fetch historical candles for an instrument.

Candles are cached locally; only bars newer than the cache are requested.`,
		Example: `  trader candles SBER
  trader candles SBER --timeframe 1H --days 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireStore(app); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			tfName, _ := cmd.Flags().GetString("timeframe")
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")

			tf, err := models.ParseTimeFrame(tfName)
			if err != nil {
				return err
			}
			inst, err := app.Instrument(ctx, strings.ToUpper(args[0]))
			if err != nil {
				output.Error("Unknown instrument %s: %v", args[0], err)
				return err
			}

			to := time.Now().UTC()
			from := to.AddDate(0, 0, -days)
			bars, err := app.Sync.Bars(ctx, inst.FIGI, tf, from, to)
			if err != nil {
				output.Error("Failed to get candles: %v", err)
				return err
			}
			if limit > 0 && len(bars) > limit {
				bars = bars[len(bars)-limit:]
			}

			if output.IsJSON() {
				return output.JSON(bars)
			}

			output.Bold("%s %s (%d bars)", inst.Ticker, tf, len(bars))
			table := NewTable(output, "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
			for _, b := range bars {
				closePrice := FormatPrice(b.Close)
				if b.Close.GreaterThan(b.Open) {
					closePrice = output.Green(closePrice)
				} else if b.Close.LessThan(b.Open) {
					closePrice = output.Red(closePrice)
				}
				table.AddRow(
					FormatDateTime(b.Timestamp),
					FormatPrice(b.Open),
					FormatPrice(b.High),
					FormatPrice(b.Low),
					closePrice,
					FormatVolume(b.Volume),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "D", "timeframe (1M, 5M, 10M, 1H, D, W, M)")
	cmd.Flags().Int("days", 30, "days of history")
	cmd.Flags().Int("limit", 0, "show only the last N bars")

	return cmd
}

func newPricesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prices <ticker|figi>...",
		Short: "Get last trade prices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			byFIGI := make(map[string]models.Instrument, len(args))
			figis := make([]string, 0, len(args))
			for _, key := range args {
				inst, err := app.Instrument(ctx, strings.ToUpper(key))
				if err != nil {
					return err
				}
				byFIGI[inst.FIGI] = inst
				figis = append(figis, inst.FIGI)
			}

			prices, err := app.API.LastPrices(ctx, figis...)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(prices)
			}

			table := NewTable(output, "TICKER", "PRICE", "TIME")
			for _, p := range prices {
				table.AddRow(byFIGI[p.FIGI].Ticker, FormatPrice(p.Price), FormatDateTime(p.Time))
			}
			table.Render()
			output.Dim("MOEX session: %s", output.Session(utils.SessionAt(time.Now())))
			return nil
		},
	}
}

func newAccountsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List brokerage accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			accounts, err := app.API.Accounts(ctx)
			if err != nil {
				output.Error("Failed to list accounts: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(accounts)
			}

			table := NewTable(output, "ID", "NAME", "TYPE", "STATUS")
			for _, a := range accounts {
				id := a.ID
				if id == app.Config.Account() {
					id = output.BoldText(id + " *")
				}
				table.AddRow(id, a.Name, a.Type, a.Status)
			}
			table.Render()
			return nil
		},
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show account balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pos, err := app.API.Positions(ctx)
			if err != nil {
				output.Error("Failed to get positions: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(pos)
			}

			output.Bold("Cash")
			currencies := make([]string, 0, len(pos.Money))
			for cur := range pos.Money {
				currencies = append(currencies, cur)
			}
			sort.Strings(currencies)
			for _, cur := range currencies {
				output.Printf("  %s\n", utils.FormatMoney(pos.Money[cur], cur))
			}
			output.Println()

			if len(pos.Securities) == 0 {
				output.Dim("No open positions")
				return nil
			}
			output.Bold("Securities")
			table := NewTable(output, "TICKER", "FIGI", "BALANCE", "BLOCKED")
			for _, s := range pos.Securities {
				ticker := s.FIGI
				if app.Store != nil {
					if inst, err := app.Store.GetInstrument(ctx, s.FIGI); err == nil {
						ticker = inst.Ticker
					}
				}
				table.AddRow(ticker, s.FIGI, utils.FormatQuantity(s.Balance), utils.FormatQuantity(s.Blocked))
			}
			table.Render()
			return nil
		},
	}
}
