package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	_ "modernc.org/sqlite"
)

// SQLite batch constants
const (
	sqliteMaxVars   = 32000
	paramsPerRow    = 9
	sqliteBatchSize = sqliteMaxVars / paramsPerRow
)

// -----------------------------------------------------------------------------

type SQLiteDB struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
	now    func() time.Time
}

// -----------------------------------------------------------------------------

func NewSQLiteDB(cfg models.MStorageConfig, log *logger.Logger) *SQLiteDB {
	return &SQLiteDB{
		Config: cfg,
		Logger: log,
		now:    time.Now,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.DBPath)
	if err != nil {
		return &helpers.DatabaseError{StreamError: helpers.StreamError{Message: "open sqlite " + d.Config.DBPath, Cause: err}}
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return &helpers.DatabaseError{StreamError: helpers.StreamError{Message: "ping sqlite", Cause: err}}
	}
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			updated_at INTEGER,
			PRIMARY KEY (symbol, timeframe, start_time)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) SaveCandles(ctx context.Context, candles []models.MCandle) error {
	if len(candles) == 0 {
		return nil
	}

	for start := 0; start < len(candles); start += sqliteBatchSize {
		end := min(start+sqliteBatchSize, len(candles))
		if err := d.saveBatch(ctx, candles[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *SQLiteDB) saveBatch(ctx context.Context, candles []models.MCandle) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, start_time, open, high, low, close, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, start_time) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	updated := d.now().UTC().Unix()
	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.StartTime, c.Open, c.High, c.Low, c.Close, c.Volume, updated)
		if err != nil {
			return fmt.Errorf("save candle %s at %d: %w", c.Key(), c.StartTime, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) LoadCandles(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64, limit int) ([]models.MCandle, error) {
	query, args := loadQuery("candles", "?", symbol, tf, from, to, limit)
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, symbol, tf)
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) CleanupOldData(ctx context.Context) error {
	cutoff := retentionCutoff(d.now(), d.Config.RetentionDays)

	res, err := d.DB.ExecContext(ctx, "DELETE FROM candles WHERE start_time < ?", cutoff)
	if err != nil {
		return &helpers.DatabaseError{StreamError: helpers.StreamError{Message: "cleanup candles", Cause: err}}
	}
	n, _ := res.RowsAffected()
	d.Logger.Info("Cleanup completed: removed %d candles older than %d days", n, d.Config.RetentionDays)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
