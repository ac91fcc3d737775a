package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per trade, rewritten as the trade moves through its lifecycle
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		mode TEXT NOT NULL,
		strike REAL NOT NULL,
		opt_type TEXT NOT NULL,
		trading_symbol TEXT,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		entry_time INTEGER NOT NULL,
		peak_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		exit_price REAL,
		exit_time INTEGER,
		exit_reason TEXT,
		exit_note TEXT,
		pnl REAL,
		breakout_level REAL,
		entry_order_id TEXT,
		exit_order_id TEXT,
		fill_confirmed INTEGER DEFAULT 0,
		is_live INTEGER DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Append-only decision log, one row per tick or forced operation
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		mode TEXT NOT NULL,
		action TEXT NOT NULL,
		trade_id TEXT,
		reasons TEXT NOT NULL,
		raw TEXT,
		bias TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Archived snapshots, msgpack payload keyed by tick time
	CREATE TABLE IF NOT EXISTS snapshots (
		ts INTEGER PRIMARY KEY,
		id TEXT,
		payload BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_time);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveTrade inserts or replaces a trade by id.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	var exitTime sql.NullInt64
	if trade.ExitTimestamp != nil {
		exitTime = sql.NullInt64{Int64: trade.ExitTimestamp.UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (id, status, mode, strike, opt_type, trading_symbol, quantity, entry_price, entry_time, peak_price, stop_loss, exit_price, exit_time, exit_reason, exit_note, pnl, breakout_level, entry_order_id, exit_order_id, fill_confirmed, is_live, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, trade.ID, trade.Status, trade.Mode, trade.Strike, trade.OptType, trade.TradingSymbol, trade.Quantity,
		trade.EntryPrice, trade.EntryTimestamp.UnixNano(), trade.PeakPrice, trade.StopLossPrice,
		nullFloat(trade.ExitPrice), exitTime, trade.ExitReason, trade.ExitNote, nullFloat(trade.PnL),
		nullFloat(trade.BreakoutLevel), trade.EntryOrderID, trade.ExitOrderID, boolInt(trade.FillConfirmed), boolInt(trade.Live))
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

const tradeColumns = "id, status, mode, strike, opt_type, COALESCE(trading_symbol, ''), quantity, entry_price, entry_time, peak_price, stop_loss, exit_price, exit_time, COALESCE(exit_reason, ''), COALESCE(exit_note, ''), pnl, breakout_level, COALESCE(entry_order_id, ''), COALESCE(exit_order_id, ''), fill_confirmed, is_live"

// GetTrades retrieves trades, newest entry first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate.UnixNano())
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.EndDate.UnixNano())
	}
	if filter.Live != nil {
		query += " AND is_live = ?"
		args = append(args, boolInt(*filter.Live))
	}

	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}

	return trades, rows.Err()
}

// GetTrade retrieves one trade by id.
func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = ?", id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("trade", id, "trade not found", apperrors.ErrDataNotFound)
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(r rowScanner) (*models.Trade, error) {
	var (
		t                        models.Trade
		entryNs                  int64
		exitNs                   sql.NullInt64
		exitPrice, pnl, breakout sql.NullFloat64
		fillConfirmed, isLive    int
	)
	err := r.Scan(&t.ID, &t.Status, &t.Mode, &t.Strike, &t.OptType, &t.TradingSymbol, &t.Quantity,
		&t.EntryPrice, &entryNs, &t.PeakPrice, &t.StopLossPrice, &exitPrice, &exitNs, &t.ExitReason,
		&t.ExitNote, &pnl, &breakout, &t.EntryOrderID, &t.ExitOrderID, &fillConfirmed, &isLive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}

	t.EntryTimestamp = time.Unix(0, entryNs).UTC()
	if exitNs.Valid {
		ts := time.Unix(0, exitNs.Int64).UTC()
		t.ExitTimestamp = &ts
	}
	t.ExitPrice = floatPtr(exitPrice)
	t.PnL = floatPtr(pnl)
	t.BreakoutLevel = floatPtr(breakout)
	t.FillConfirmed = fillConfirmed == 1
	t.Live = isLive == 1
	return &t, nil
}

// SaveDecision appends a decision to the log.
func (s *SQLiteStore) SaveDecision(ctx context.Context, decision *models.Decision) error {
	reasons, _ := json.Marshal(decision.Reasons)

	var raw, bias sql.NullString
	if decision.Raw != nil {
		data, err := json.Marshal(decision.Raw)
		if err != nil {
			data, _ = json.Marshal(fmt.Sprint(decision.Raw))
		}
		raw = sql.NullString{String: string(data), Valid: true}
	}
	if decision.Bias != nil {
		data, _ := json.Marshal(decision.Bias)
		bias = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (timestamp, mode, action, trade_id, reasons, raw, bias)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, decision.Timestamp.UnixNano(), decision.Mode, decision.Action, decision.TradeID, string(reasons), raw, bias)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// GetDecisions retrieves decisions, newest first.
func (s *SQLiteStore) GetDecisions(ctx context.Context, filter DecisionFilter) ([]models.Decision, error) {
	query := "SELECT timestamp, mode, action, COALESCE(trade_id, ''), reasons, raw, bias FROM decisions WHERE 1=1"
	args := []interface{}{}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.TradeID != "" {
		query += " AND trade_id = ?"
		args = append(args, filter.TradeID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UnixNano())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UnixNano())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		var (
			d           models.Decision
			ts          int64
			reasonsJSON string
			raw, bias   sql.NullString
		)
		if err := rows.Scan(&ts, &d.Mode, &d.Action, &d.TradeID, &reasonsJSON, &raw, &bias); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		d.Timestamp = time.Unix(0, ts).UTC()
		json.Unmarshal([]byte(reasonsJSON), &d.Reasons)
		if raw.Valid {
			json.Unmarshal([]byte(raw.String), &d.Raw)
		}
		if bias.Valid {
			var b models.BiasResult
			if json.Unmarshal([]byte(bias.String), &b) == nil {
				d.Bias = &b
			}
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

// SaveSnapshot archives a snapshot. A later snapshot with the same timestamp
// replaces the earlier one.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.OptionChainSnapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (ts, id, payload) VALUES (?, ?, ?)
	`, snap.Timestamp.UnixNano(), snap.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshots returns archived snapshots in ascending timestamp order.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.OptionChainSnapshot, error) {
	query := "SELECT payload FROM snapshots WHERE 1=1"
	args := []interface{}{}

	if !filter.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		query += " AND ts <= ?"
		args = append(args, filter.To.UnixNano())
	}

	query += " ORDER BY ts ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.OptionChainSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var snap models.OptionChainSnapshot
		if err := msgpack.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return models.Float(n.Float64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
