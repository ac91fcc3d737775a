package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# NIFTY Options Engine Configuration

[engine]
# Mode: AUTO (classify NORMAL/BIG_RALLY), NORMAL, BIG_RALLY, EXPIRY
mode = "AUTO"
# Exit style: TRAILING or TARGET
exit_style = "TRAILING"
# Target percentage for TARGET style (clamped 20-100)
target_pct = 30.0
# Order quantity (one NIFTY lot is 75)
quantity = 75
# Product type: MIS or NRML
product = "MIS"
exchange = "NFO"
max_trades_per_day = 3
# Manual direction override: AUTO, BULL, BEAR
direction = "AUTO"
# Live entries require arming; keep false and arm from the console
armed = false
# Closed trades kept in memory
history_limit = 50

[bias]
window = "60s"
strike_width = 4
min_score = 3.0

[trading]
# "paper" simulates fills in memory, "live" routes orders to the broker
mode = "paper"
# Order client for live mode: "zerodha" or "paper"
broker = "paper"
# Wait between entry acknowledgment and tradebook lookup
fill_confirm_delay = "2s"

[feed]
# Snapshot JSON-lines file; empty reads stdin
input = ""
# Snapshot history kept for lookbacks
retention = "20m"

[store]
enabled = true
archive_snapshots = true

[broker.resilience]
failure_threshold = 5
open_timeout = "30s"
read_attempts = 3
orders_per_second = 10

[logging]
level = "info"
console = true
file = true

[audit]
enabled = true

[metrics]
enabled = false
addr = ":9108"

[tracing]
enabled = false
# Span output file; empty writes to stderr
output = ""
pretty = false

[ui]
color_enabled = true
notify = true
`

const credentialsTemplate = `# API Credentials
# WARNING: Keep this file secure (0600)

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
`

// createTemplate writes a template file if it is missing.
func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
