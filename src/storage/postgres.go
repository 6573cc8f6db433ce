package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
	now    func() time.Time
}

// -----------------------------------------------------------------------------

// NewPostgresDB stores data in a schema named after the running executable.
func NewPostgresDB(cfg models.MStorageConfig, log *logger.Logger) (*PostgresDB, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
		now:    time.Now,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.DBConnectionString)
	if err != nil {
		return &helpers.DatabaseError{StreamError: helpers.StreamError{Message: "open postgres", Cause: err}}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return &helpers.DatabaseError{StreamError: helpers.StreamError{Message: "ping postgres", Cause: err}}
	}
	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			start_time BIGINT NOT NULL,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			updated_at TIMESTAMPTZ,
			PRIMARY KEY (symbol, timeframe, start_time)
		);
	`, d.table("candles"))
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			watchlist TEXT NOT NULL,
			symbol TEXT NOT NULL,
			ref TEXT,
			updated_at TIMESTAMPTZ,
			PRIMARY KEY (watchlist, symbol)
		);
	`, d.table("watchlist_symbols"))
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create watchlist_symbols: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveCandles(ctx context.Context, candles []models.MCandle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, timeframe, start_time, open, high, low, close, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, start_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			updated_at = EXCLUDED.updated_at
	`, d.table("candles")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	updated := d.now().UTC()
	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.StartTime, c.Open, c.High, c.Low, c.Close, c.Volume, updated)
		if err != nil {
			return fmt.Errorf("save candle %s at %d: %w", c.Key(), c.StartTime, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadCandles(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64, limit int) ([]models.MCandle, error) {
	query, args := loadQuery(d.table("candles"), "$", symbol, tf, from, to, limit)
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, symbol, tf)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData(ctx context.Context) error {
	cutoff := retentionCutoff(d.now(), d.Config.RetentionDays)

	res, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE start_time < $1`, d.table("candles")), cutoff)
	if err != nil {
		return &helpers.DatabaseError{StreamError: helpers.StreamError{Message: "cleanup candles", Cause: err}}
	}
	n, _ := res.RowsAffected()
	d.Logger.Info("Cleanup completed: removed %d candles older than %d days", n, d.Config.RetentionDays)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
