package storage

import (
	"context"
	"testing"
	"time"

	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db := NewSQLiteDB(models.MStorageConfig{DBType: "sqlite", DBPath: ":memory:", RetentionDays: 30}, nil)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })
	return db
}

func candle(symbol string, start int64, close float64) models.MCandle {
	return models.MCandle{
		Symbol:     symbol,
		Timeframe:  models.TimeframeMinute,
		StartTime:  start,
		Open:       close,
		High:       close + 1,
		Low:        close - 1,
		Close:      close,
		Volume:     100,
		IsComplete: true,
	}
}

func TestSQLiteSaveAndLoad(t *testing.T) {
	db := newMemoryDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCandles(ctx, []models.MCandle{
		candle("VNM", 120, 11),
		candle("VNM", 60, 10),
		candle("HPG", 60, 30),
	}))

	bars, err := db.LoadCandles(ctx, "vnm", models.TimeframeMinute, 0, 1000, 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(60), bars[0].StartTime)
	assert.Equal(t, 12.0, bars[1].High)
	assert.True(t, bars[0].IsComplete)

	other, err := db.LoadCandles(ctx, "VNM", models.Timeframe5Minute, 0, 1000, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteUpsertAndLimit(t *testing.T) {
	db := newMemoryDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCandles(ctx, []models.MCandle{candle("VNM", 60, 10), candle("VNM", 120, 11), candle("VNM", 180, 12)}))
	require.NoError(t, db.SaveCandles(ctx, []models.MCandle{candle("VNM", 120, 15)}))

	bars, err := db.LoadCandles(ctx, "VNM", models.TimeframeMinute, 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(120), bars[0].StartTime)
	assert.Equal(t, 15.0, bars[0].Close)
	assert.Equal(t, int64(180), bars[1].StartTime)
}

func TestSQLiteCleanup(t *testing.T) {
	db := newMemoryDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return now }

	old := now.AddDate(0, 0, -31).Unix()
	recent := now.AddDate(0, 0, -1).Unix()
	require.NoError(t, db.SaveCandles(ctx, []models.MCandle{candle("VNM", old, 1), candle("VNM", recent, 2)}))

	require.NoError(t, db.CleanupOldData(ctx))

	bars, err := db.LoadCandles(ctx, "VNM", models.TimeframeMinute, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, recent, bars[0].StartTime)
}

func TestLoadQueryPlaceholders(t *testing.T) {
	q, args := loadQuery(`"svc"."candles"`, "$", "vnm", models.TimeframeDay, 10, 20, 5)
	assert.Contains(t, q, "$5")
	assert.Contains(t, q, "DESC")
	assert.Equal(t, []interface{}{"VNM", "1D", int64(10), int64(20), 5}, args)

	q, args = loadQuery("candles", "?", "VNM", models.TimeframeDay, 0, 0, 0)
	assert.NotContains(t, q, "$")
	assert.Contains(t, q, "ASC")
	assert.Len(t, args, 4)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(models.MStorageConfig{DBType: "sqlite", DBPath: ":memory:"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteDB{}, s)

	_, err = NewStore(models.MStorageConfig{DBType: "mongo"}, nil)
	assert.Error(t, err)

	assert.True(t, IsSymbolRef("public.tickers.code"))
	assert.False(t, IsSymbolRef("VNM"))
}

type countingStore struct {
	SQLiteDB
	cleanups chan struct{}
}

func (c *countingStore) CleanupOldData(ctx context.Context) error {
	c.cleanups <- struct{}{}
	return nil
}

func TestRunRetention(t *testing.T) {
	store := &countingStore{cleanups: make(chan struct{}, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunRetention(ctx, store, 10*time.Millisecond, nil)
		close(done)
	}()

	<-store.cleanups
	<-store.cleanups
	cancel()
	<-done
}
