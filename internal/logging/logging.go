// Package logging builds the runtime's zerolog loggers and the structured
// events shared by the gateway, the REST client and the journal.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

var levelLabels = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

// NewLoggerWithConfig creates a logger writing to the console, a rotated
// file, or both. Console output goes to stderr so JSON command output on
// stdout stays parseable.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				ll, _ := i.(string)
				if label, ok := levelLabels[ll]; ok {
					return label
				}
				return strings.ToUpper(ll)
			},
		})
	}

	if cfg.File && cfg.FilePath != "" {
		// An unwritable log directory silently falls back to the console.
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent tags every event from logger with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogOrder records an order status change.
func LogOrder(logger zerolog.Logger, orderID, figi, kind, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("figi", figi).
		Str("kind", kind).
		Str("status", status).
		Msg("Order update")
}

// LogTrade records a trade status change. quantity is the signed lot count
// currently held by the trade.
func LogTrade(logger zerolog.Logger, tradeID, figi, status string, quantity int64) {
	logger.Info().
		Str("event", "trade").
		Str("trade_id", tradeID).
		Str("figi", figi).
		Str("status", status).
		Int64("quantity", quantity).
		Msg("Trade update")
}

// LogAPICall records one REST round trip at debug level, or at warn level
// when it failed.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	if err != nil {
		logger.Warn().
			Str("event", "api_call").
			Str("method", method).
			Str("endpoint", endpoint).
			Dur("duration", duration).
			Err(err).
			Msg("API call failed")
		return
	}
	logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration).
		Msg("API call completed")
}
