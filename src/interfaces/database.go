package interfaces

import (
	"context"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// ICandleStore defines the contract for committed candle storage.
// -----------------------------------------------------------------------------

type ICandleStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveCandles upserts a batch of committed candles.
	SaveCandles(ctx context.Context, candles []models.MCandle) error

	// -----------------------------------------------------------------------------

	// LoadCandles returns candles with from <= start_time < to, oldest first.
	// A limit <= 0 means no limit.
	LoadCandles(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64, limit int) ([]models.MCandle, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
