package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Tinkoff Trader Configuration

[broker]
# Broker mode: "live" or "paper"
mode = "paper"
rest_url = "https://invest-public-api.tinkoff.ru/rest"
stream_url = "wss://invest-public-api.tinkoff.ru/ws"
# Brokerage account for live orders (see: trader accounts)
account_id = ""
app_name = "tinkoff-trader"
# Timeout for unary API calls
timeout = "30s"
# Attempts per unary call on rate limiting and server errors
retries = 3
# Consecutive failed calls before the venue is skipped for breaker_cooldown, 0 = off
breaker_threshold = 5
breaker_cooldown = "30s"

[gateway]
# Events each bus subscriber can hold before the oldest is dropped
bus_capacity = 1024
call_timeout = "10s"
# How often fully executed orders are re-queried for their final state
settle_interval = "2s"
# How often posted stop orders are checked for execution
stop_poll_interval = "10s"

[gateway.reconnect]
initial_delay = "500ms"
max_delay = "30s"
backoff_factor = 2.0
# Consecutive failed dials before giving up, 0 = never
max_attempts = 0

[paper]
account_id = "paper"
currency = "rub"
initial_cash = "1000000"
# Fraction of traded value charged per fill
commission_rate = "0.0005"
# Use live market data when a token is configured
live_data = false

[store]
# SQLite cache, relative to this directory
path = "trader.db"
instrument_max_age = "24h"
candle_max_age = "1h"

[schedule]
# Cron with seconds field
instrument_sync = "0 0 6 * * MON-FRI"

[logging]
level = "info"
console = true
file = true
file_path = "logs/trader.log"
max_size = 100
max_backups = 7
max_age = 30

[ui]
date_format = "02.01.2006"
time_format = "15:04:05"
`

const credentialsTemplate = `# Tinkoff Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[tinkoff]
token = ""
`

func writeTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
