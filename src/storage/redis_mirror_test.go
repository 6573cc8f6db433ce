package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"market-stream/src/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func TestMirrorSave(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewSnapshotMirror(db, models.MRedisConfig{TTLSeconds: 60, Namespace: "snap"}, nil)

	snap := models.MSnapshot{Ticker: "VNM", LastPrice: price(65.5), UpdatedAt: time.Unix(1700000000, 0).UTC()}
	b, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("snap:VNM", string(b), time.Minute).SetVal("OK")
	mock.ExpectSAdd("snap:index", "VNM").SetVal(1)

	require.NoError(t, m.Save(context.Background(), []models.MSnapshot{snap}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorLoadSkipsExpired(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewSnapshotMirror(db, models.MRedisConfig{}, nil)

	b, err := json.Marshal(models.MSnapshot{Ticker: "VNM", LastPrice: price(65.5)})
	require.NoError(t, err)

	mock.ExpectSMembers("snapshot:index").SetVal([]string{"VNM", "HPG", "FPT"})
	mock.ExpectGet("snapshot:VNM").SetVal(string(b))
	mock.ExpectGet("snapshot:HPG").RedisNil()
	mock.ExpectGet("snapshot:FPT").SetVal("{broken")
	mock.ExpectDel("snapshot:FPT").SetVal(1)

	snaps, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "VNM", snaps[0].Ticker)
	assert.Equal(t, 65.5, *snaps[0].LastPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorRemove(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewSnapshotMirror(db, models.MRedisConfig{}, nil)

	mock.ExpectDel("snapshot:VNM").SetVal(1)
	mock.ExpectSRem("snapshot:index", "VNM").SetVal(1)

	require.NoError(t, m.Remove(context.Background(), "vnm"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorDisabled(t *testing.T) {
	m := NewSnapshotMirror(nil, models.MRedisConfig{}, nil)
	assert.NoError(t, m.Save(context.Background(), []models.MSnapshot{{Ticker: "VNM"}}))
	snaps, err := m.Load(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, snaps)
}
