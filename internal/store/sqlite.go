package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/trade"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
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

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes. Prices are stored as
// decimal strings.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instruments (
		figi TEXT PRIMARY KEY,
		uid TEXT,
		ticker TEXT NOT NULL,
		class_code TEXT,
		name TEXT,
		exchange TEXT,
		currency TEXT,
		lot INTEGER NOT NULL,
		min_price_increment TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		figi TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume INTEGER NOT NULL,
		complete INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(figi, timeframe, timestamp)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		strategy TEXT,
		figi TEXT NOT NULL,
		ticker TEXT,
		kind TEXT NOT NULL,
		open_time DATETIME NOT NULL,
		close_time DATETIME NOT NULL,
		buy_quantity INTEGER NOT NULL,
		buy_value TEXT NOT NULL,
		sell_value TEXT NOT NULL,
		commission TEXT NOT NULL,
		result TEXT NOT NULL,
		result_percent TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS open_trades (
		id TEXT PRIMARY KEY,
		strategy TEXT,
		figi TEXT NOT NULL,
		ticker TEXT,
		kind TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		quantity INTEGER NOT NULL,
		info TEXT,
		orders TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_instruments_ticker ON instruments(ticker);
	CREATE INDEX IF NOT EXISTS idx_candles_figi_timeframe ON candles(figi, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_figi ON trades(figi);
	CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Instruments Methods
// ============================================================================

// SaveInstruments upserts instruments.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, instruments []models.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments (figi, uid, ticker, class_code, name, exchange, currency, lot, min_price_increment, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, i := range instruments {
		updated := i.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		_, err := stmt.ExecContext(ctx, i.FIGI, i.UID, i.Ticker, i.ClassCode, i.Name, i.Exchange, i.Currency,
			i.LotSize(), i.MinPriceIncrement, updated)
		if err != nil {
			return fmt.Errorf("failed to insert instrument %s: %w", i.FIGI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const instrumentColumns = "figi, uid, ticker, class_code, name, exchange, currency, lot, min_price_increment, updated_at"

func scanInstrument(row interface{ Scan(...interface{}) error }) (models.Instrument, error) {
	var i models.Instrument
	err := row.Scan(&i.FIGI, &i.UID, &i.Ticker, &i.ClassCode, &i.Name, &i.Exchange, &i.Currency, &i.Lot, &i.MinPriceIncrement, &i.UpdatedAt)
	return i, err
}

// GetInstrument looks an instrument up by FIGI or ticker.
func (s *SQLiteStore) GetInstrument(ctx context.Context, key string) (models.Instrument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instrumentColumns+` FROM instruments
		WHERE figi = ? OR ticker = ?
		ORDER BY CASE WHEN figi = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, key, key, key)

	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return models.Instrument{}, fmt.Errorf("instrument %s: %w", key, errors.ErrSymbolNotFound)
	}
	if err != nil {
		return models.Instrument{}, fmt.Errorf("failed to get instrument: %w", err)
	}
	return inst, nil
}

// ListInstruments returns instruments ordered by ticker.
func (s *SQLiteStore) ListInstruments(ctx context.Context, filter InstrumentFilter) ([]models.Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments WHERE 1=1"
	args := []interface{}{}

	if filter.Ticker != "" {
		query += " AND ticker LIKE ?"
		args = append(args, filter.Ticker+"%")
	}
	if filter.ClassCode != "" {
		query += " AND class_code = ?"
		args = append(args, filter.ClassCode)
	}
	if filter.Currency != "" {
		query += " AND currency = ?"
		args = append(args, filter.Currency)
	}

	query += " ORDER BY ticker ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var out []models.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}
	return out, nil
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves bars to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, figi string, tf models.TimeFrame, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (figi, timeframe, timestamp, open, high, low, close, volume, complete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, figi, string(tf), b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume, b.Complete)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCandles retrieves bars in [from, to] from the database.
func (s *SQLiteStore) GetCandles(ctx context.Context, figi string, tf models.TimeFrame, from, to time.Time) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, complete
		FROM candles
		WHERE figi = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, figi, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Complete); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return bars, nil
}

// GetCandlesFreshness returns the timestamp of the most recent complete bar.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, figi string, tf models.TimeFrame) (time.Time, error) {
	var timestamp sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE figi = ? AND timeframe = ? AND complete = 1
	`, figi, string(tf)).Scan(&timestamp)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !timestamp.Valid {
		return time.Time{}, nil
	}
	return parseSQLiteTime(timestamp.String)
}

// parseSQLiteTime parses the text form go-sqlite3 uses for aggregates over
// DATETIME columns.
func parseSQLiteTime(v string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q: %w", v, errors.ErrDatabaseError)
}

// ============================================================================
// Trade Journal Methods
// ============================================================================

// LogTrade saves a closed trade to the journal.
func (s *SQLiteStore) LogTrade(ctx context.Context, id string, t trade.ClosedTrade) error {
	r := NewTradeRecord(id, t)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (id, strategy, figi, ticker, kind, open_time, close_time, buy_quantity, buy_value, sell_value, commission, result, result_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Strategy, r.FIGI, r.Ticker, string(r.Kind), r.OpenTime.UTC(), r.CloseTime.UTC(), r.BuyQuantity,
		r.BuyValue, r.SellValue, r.Commission, r.Result, r.ResultPercent)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// GetTrades retrieves journal records ordered by close time.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]TradeRecord, error) {
	query := `SELECT id, strategy, figi, ticker, kind, open_time, close_time, buy_quantity, buy_value, sell_value, commission, result, result_percent
		FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.FIGI != "" {
		query += " AND figi = ?"
		args = append(args, filter.FIGI)
	}
	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if !filter.StartDate.IsZero() {
		query += " AND close_time >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND close_time <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY close_time ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var kind string
		if err := rows.Scan(&r.ID, &r.Strategy, &r.FIGI, &r.Ticker, &kind, &r.OpenTime, &r.CloseTime, &r.BuyQuantity,
			&r.BuyValue, &r.SellValue, &r.Commission, &r.Result, &r.ResultPercent); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		r.Kind = trade.Kind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return out, nil
}

// SaveOpenTrade records the current state of an opened trade.
func (s *SQLiteStore) SaveOpenTrade(ctx context.Context, id string, t trade.OpenedTrade) error {
	r := NewOpenTradeRecord(id, t)
	info, err := json.Marshal(r.Info)
	if err != nil {
		return fmt.Errorf("failed to encode trade info: %w", err)
	}
	orders, err := json.Marshal(r.Orders)
	if err != nil {
		return fmt.Errorf("failed to encode trade orders: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO open_trades (id, strategy, figi, ticker, kind, timestamp, quantity, info, orders, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Strategy, r.FIGI, r.Ticker, string(r.Kind), r.Timestamp.UTC(), r.Quantity, string(info), string(orders), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save open trade: %w", err)
	}
	return nil
}

const openTradeColumns = `id, strategy, figi, ticker, kind, timestamp, quantity, info, orders`

func scanOpenTrade(row interface{ Scan(...interface{}) error }) (OpenTradeRecord, error) {
	var (
		r            OpenTradeRecord
		kind         string
		info, orders string
	)
	if err := row.Scan(&r.ID, &r.Strategy, &r.FIGI, &r.Ticker, &kind, &r.Timestamp, &r.Quantity, &info, &orders); err != nil {
		return OpenTradeRecord{}, err
	}
	r.Kind = trade.Kind(kind)
	if info != "" && info != "null" {
		if err := json.Unmarshal([]byte(info), &r.Info); err != nil {
			return OpenTradeRecord{}, fmt.Errorf("trade %s info: %w", r.ID, errors.ErrDatabaseError)
		}
	}
	if err := json.Unmarshal([]byte(orders), &r.Orders); err != nil {
		return OpenTradeRecord{}, fmt.Errorf("trade %s orders: %w", r.ID, errors.ErrDatabaseError)
	}
	return r, nil
}

// GetOpenTrade returns the open trade registered under id.
func (s *SQLiteStore) GetOpenTrade(ctx context.Context, id string) (OpenTradeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+openTradeColumns+` FROM open_trades WHERE id = ?`, id)
	r, err := scanOpenTrade(row)
	if err == sql.ErrNoRows {
		return OpenTradeRecord{}, fmt.Errorf("open trade %s: %w", id, errors.ErrDataNotFound)
	}
	if err != nil {
		return OpenTradeRecord{}, fmt.Errorf("failed to get open trade: %w", err)
	}
	return r, nil
}

// ListOpenTrades returns every open trade, oldest first.
func (s *SQLiteStore) ListOpenTrades(ctx context.Context) ([]OpenTradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+openTradeColumns+` FROM open_trades ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var out []OpenTradeRecord
	for rows.Next() {
		r, err := scanOpenTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open trade: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open trades: %w", err)
	}
	return out, nil
}

// DeleteOpenTrade forgets an open trade. Deleting an unknown id is not an
// error.
func (s *SQLiteStore) DeleteOpenTrade(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM open_trades WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete open trade: %w", err)
	}
	return nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

var _ DataStore = (*SQLiteStore)(nil)
