// Package cli provides the command-line interface for the trading application.
package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tinkoff-trader/internal/broker"
	"tinkoff-trader/internal/config"
	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/logging"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-03-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Client broker.Client
	// Paper is the simulated broker behind Client in paper mode.
	Paper *broker.PaperClient
	API   *broker.API
	Store store.DataStore
	Sync  *store.SyncManager
}

// NewApp wires the broker client and the local cache from cfg.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var live broker.Client
	if cfg.Credentials.Tinkoff.Token != "" {
		c, err := broker.NewTinkoffClient(cfg.TinkoffConfig(), broker.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		live = c
		logger.Debug().Str("rest_url", cfg.Broker.RESTURL).Msg("Tinkoff client initialized")
	}

	if cfg.IsPaperMode() {
		pc := cfg.PaperConfig()
		if cfg.Paper.LiveData && live != nil {
			pc.Data = live
		}
		app.Paper = broker.NewPaperClient(pc)
		app.Client = app.Paper
		logger.Debug().Bool("live_data", pc.Data != nil).Msg("Paper broker initialized")
	} else {
		app.Client = live
	}
	app.API = broker.NewAPI(app.Client, cfg.Account(), logger)

	dataStore, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		app.Sync = store.NewSyncManager(dataStore, app.API, store.SyncConfig{
			StaleThresholds: map[store.SyncDataType]time.Duration{
				store.SyncTypeInstruments: cfg.Store.InstrumentMaxAge,
				store.SyncTypeCandles:     cfg.Store.CandleMaxAge,
			},
		}, logger)
		logger.Debug().Str("path", cfg.StorePath()).Msg("SQLite store initialized")
	}

	return app, nil
}

// Close releases the local cache.
func (app *App) Close() error {
	if app.Store != nil {
		return app.Store.Close()
	}
	return nil
}

// Instrument resolves a FIGI or ticker through the cache, syncing it from
// the venue on a miss. The paper broker learns the instrument's lot size.
func (app *App) Instrument(ctx context.Context, key string) (models.Instrument, error) {
	var (
		inst models.Instrument
		err  error
	)
	if app.Sync != nil {
		inst, err = app.Sync.Instrument(ctx, key)
	} else {
		inst, err = app.scanInstruments(ctx, key)
	}
	if err != nil {
		return models.Instrument{}, err
	}
	if app.Paper != nil {
		app.Paper.AddInstrument(inst)
	}
	return inst, nil
}

func (app *App) scanInstruments(ctx context.Context, key string) (models.Instrument, error) {
	all, err := app.API.Instruments(ctx)
	if err != nil {
		return models.Instrument{}, err
	}
	for _, inst := range all {
		if inst.FIGI == key || inst.Ticker == key {
			return inst, nil
		}
	}
	return models.Instrument{}, errors.Wrap(errors.ErrSymbolNotFound, key)
}

// NewRootCmd creates the root command for the CLI. A nil or unwired app is
// built from the --config directory before any command runs.
func NewRootCmd(app *App) *cobra.Command {
	if app == nil {
		app = &App{}
	}
	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Tinkoff Trader - trading runtime for the Tinkoff Invest API",
		Long: `Tinkoff Trader connects to the Tinkoff Invest API, streams market data and
execution reports, and places orders through a single gateway.

In paper mode orders are filled by an in-process simulator.

Use 'trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				built, err := NewApp(cfg, logging.NewLoggerWithConfig(cfg.LogConfig()))
				if err != nil {
					return err
				}
				*app = *built
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tinkoff-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addRunCommand(rootCmd, app)
	addJournalCommands(rootCmd, app)

	return rootCmd
}

func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Tinkoff Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				redacted := *app.Config
				redacted.Credentials = config.Credentials{}
				return output.JSON(redacted)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.Config.Dir, "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"dir": app.Config.Dir, "config": path})
			}
			output.Println(path)
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Broker")
	output.Printf("  Mode:            %s\n", cfg.Broker.Mode)
	output.Printf("  Account:         %s\n", cfg.Account())
	output.Printf("  REST URL:        %s\n", cfg.Broker.RESTURL)
	output.Printf("  Stream URL:      %s\n", cfg.Broker.StreamURL)
	output.Printf("  Token:           %s\n", redact(cfg.Credentials.Tinkoff.Token))
	output.Printf("  Timeout:         %s\n", cfg.Broker.Timeout)
	output.Println()

	output.Bold("Gateway")
	output.Printf("  Bus capacity:    %d\n", cfg.Gateway.BusCapacity)
	output.Printf("  Call timeout:    %s\n", cfg.Gateway.CallTimeout)
	output.Printf("  Reconnect:       %s .. %s x%.1f\n",
		cfg.Gateway.Reconnect.InitialDelay, cfg.Gateway.Reconnect.MaxDelay, cfg.Gateway.Reconnect.BackoffFactor)
	output.Println()

	if cfg.IsPaperMode() {
		output.Bold("Paper")
		output.Printf("  Initial cash:    %s %s\n", cfg.Paper.InitialCash, cfg.Paper.Currency)
		output.Printf("  Commission:      %s\n", cfg.Paper.CommissionRate)
		output.Printf("  Live data:       %v\n", cfg.Paper.LiveData)
		output.Println()
	}

	output.Bold("Store")
	output.Printf("  Path:            %s\n", cfg.StorePath())
	output.Printf("  Instrument sync: %s\n", cfg.Schedule.InstrumentSync)

	return nil
}

func redact(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 6 {
		return "******"
	}
	return secret[:4] + "******"
}
