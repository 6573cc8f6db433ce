package storage

import (
	"context"
	"fmt"
	"time"

	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

// NewStore returns the configured candle store, not yet initialized.
func NewStore(cfg models.MStorageConfig, log *logger.Logger) (interfaces.ICandleStore, error) {
	switch cfg.DBType {
	case "", "sqlite":
		return NewSQLiteDB(cfg, log), nil
	case "postgres":
		return NewPostgresDB(cfg, log)
	}
	return nil, fmt.Errorf("unsupported db_type %q", cfg.DBType)
}

// RunRetention runs CleanupOldData once at start and then every interval.
func RunRetention(ctx context.Context, store interfaces.ICandleStore, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := store.CleanupOldData(ctx); err != nil && ctx.Err() == nil {
			log.Error("Retention cleanup failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
