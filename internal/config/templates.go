package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# THS Trader Configuration

[decision]
# Model score thresholds per recommendation tier (0-100 scale)
strong_sell_score = 30.0
sell_score = 40.0
hold_score = 60.0
buy_score = 80.0
# Stop-loss ratio: forced sell when unrealized loss reaches this level
stop_loss_ratio = -0.10
# Emergency stop ratio: deepest loss band
emergency_stop_ratio = -0.15
# Stop-profit ratio: forced sell when unrealized gain reaches this level
stop_profit_ratio = 0.20
# Target notional for new buy signals (rounded down to 100-share lots)
buy_amount = 10000.0
# Instrument codes excluded from all signals
blacklist = []

[risk]
# Maximum trades per day
max_daily_trades = 20
# Daily loss limit as a ratio of portfolio value; trips the circuit breaker
daily_loss_limit = -0.05
# Per-trade notional limits
max_single_trade_amount = 12000.0
min_trade_amount = 4000.0
# Per-instrument market value / portfolio value cap
max_position_ratio = 0.30
# Minimum interval between trades on the same instrument
min_trade_interval = "15s"
# Position ratio cap for ST/*ST restricted instruments
restricted_max_ratio = 0.10
# Allow closing orders after the daily trade count cap is reached
allow_close_when_limited = true
# Reject orders outside trading windows
enforce_trading_time = true

[executor]
# Bounded queue capacity; submissions past capacity fail
queue_capacity = 100
# Per-task execution timeout
task_timeout = "300s"
# Minimum gap between consecutive executions
order_interval = "2s"

[cache]
# TTL for intra-session quote/score entries
quote_ttl = "60s"
# TTL for last-trading-day snapshot entries
snapshot_ttl = "24h"

[session]
timezone = "Asia/Shanghai"
# Exchange holidays (weekday closures), e.g. ["2026-10-01"]
holidays = []

[backend]
# Execution strategy: "coordinate", "image" or "dryrun"
mode = "dryrun"
# External automation bridge command (required for coordinate/image modes)
bridge_command = ""
# Delay before confirming an order in the trading terminal
confirm_delay = "500ms"

[logging]
level = "info"
console = true
file = true
max_size_mb = 50
max_backups = 7
max_age_days = 30
`

// createTemplateConfig writes a commented config.toml template so a first
// run leaves an editable file behind.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
