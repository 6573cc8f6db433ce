package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"market-stream/src/candles"
	"market-stream/src/models"
	"market-stream/src/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBarsObjectList(t *testing.T) {
	body := []byte(`{"data":[{"t":120,"o":2,"h":3,"l":1,"c":2.5,"v":10},{"t":60000,"o":1,"h":1,"l":1,"c":1,"v":5}]}`)
	bars, err := ParseBars(body, "VNM", models.TimeframeMinute, 1_000_000)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, int64(60), bars[0].StartTime)
	assert.Equal(t, int64(120), bars[1].StartTime)
	assert.Equal(t, 2.5, bars[1].Close)
	assert.True(t, bars[0].IsComplete)
	assert.Equal(t, "VNM", bars[0].Symbol)
}

func TestParseBarsColumnar(t *testing.T) {
	body := []byte(`{"s":"ok","t":[60,120],"o":[1,2],"h":[1,3],"l":[1,1],"c":[1,2.5],"v":[5,10]}`)
	bars, err := ParseBars(body, "HPG", models.TimeframeMinute, 1_000_000)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 3.0, bars[1].High)

	none, err := ParseBars([]byte(`{"s":"no_data"}`), "HPG", models.TimeframeMinute, 1_000_000)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ParseBars([]byte(`{"s":"error","errmsg":"unknown symbol"}`), "HPG", models.TimeframeMinute, 1_000_000)
	assert.ErrorContains(t, err, "unknown symbol")

	_, err = ParseBars([]byte(`not json`), "HPG", models.TimeframeMinute, 1_000_000)
	assert.Error(t, err)
}

func TestParseBarsLeavesFormingBarOpen(t *testing.T) {
	body := []byte(`{"s":"ok","t":[120,180],"o":[1,2],"h":[1,2],"l":[1,2],"c":[1,2],"v":[5,5]}`)
	bars, err := ParseBars(body, "VNM", models.TimeframeMinute, 200)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].IsComplete)
	assert.False(t, bars[1].IsComplete)
}

func TestLiveTickMergesIntoFetchedFormingBar(t *testing.T) {
	body := []byte(`{"s":"ok","t":[120,180],"o":[1,2],"h":[1,2],"l":[1,2],"c":[1,2],"v":[5,5]}`)
	bars, err := ParseBars(body, "VNM", models.TimeframeMinute, 200)
	require.NoError(t, err)

	hub := candles.NewHub(nil, nil)
	df := candles.NewDatafeed(hub, &stubSource{bars: bars}, "VNM", models.TimeframeMinute, 10, nil)
	defer df.Close()
	require.NoError(t, df.GetBars(context.Background(), 0, 240, func([]models.MCandle, bool) {}))

	var live []models.MCandle
	df.SubscribeBar(func(b models.MCandle) { live = append(live, b) })

	tick := models.MCandle{Symbol: "VNM", Timeframe: models.TimeframeMinute, StartTime: 180, Open: 2, High: 3, Low: 2, Close: 3, Volume: 9}
	hub.Publish(tick)

	require.Len(t, live, 1)
	assert.Equal(t, 3.0, live[0].Close)
	assert.Zero(t, df.Feed().Dropped())
}

func TestClientGetBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bars", r.URL.Path)
		assert.Equal(t, "VNM", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1D", r.URL.Query().Get("resolution"))
		_, _ = w.Write([]byte(`{"data":[{"t":0,"c":1},{"t":86400,"c":2},{"t":172800,"c":3}]}`))
	}))
	defer srv.Close()

	nm := network.NewNetworkManager(models.MNetworkConfig{RequestTimeout: 2}, nil)
	c := NewClient(srv.URL+"/", nm, nil)

	bars, err := c.GetBars(context.Background(), "vnm", models.TimeframeDay, 0, 172800)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2.0, bars[1].Close)
}

// -----------------------------------------------------------------------------

type stubStore struct {
	bars    []models.MCandle
	loadErr error
	saved   []models.MCandle
}

func (s *stubStore) Initialize() error { return nil }
func (s *stubStore) SaveCandles(ctx context.Context, c []models.MCandle) error {
	s.saved = append(s.saved, c...)
	return nil
}
func (s *stubStore) LoadCandles(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64, limit int) ([]models.MCandle, error) {
	return s.bars, s.loadErr
}
func (s *stubStore) CleanupOldData(ctx context.Context) error { return nil }
func (s *stubStore) Close() error                             { return nil }

type stubSource struct {
	bars  []models.MCandle
	err   error
	calls int
}

func (s *stubSource) GetBars(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64) ([]models.MCandle, error) {
	s.calls++
	return s.bars, s.err
}

func minuteBar(start int64) models.MCandle {
	return models.MCandle{Symbol: "VNM", Timeframe: models.TimeframeMinute, StartTime: start, Close: 1, IsComplete: true}
}

func TestServicePrefersCoveringStore(t *testing.T) {
	store := &stubStore{bars: []models.MCandle{minuteBar(60), minuteBar(120)}}
	remote := &stubSource{}
	svc := NewService(store, remote, nil)

	bars, err := svc.GetBars(context.Background(), "VNM", models.TimeframeMinute, 60, 180)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Zero(t, remote.calls)
}

func TestServiceFallsBackAndCaches(t *testing.T) {
	store := &stubStore{bars: []models.MCandle{minuteBar(600)}}
	remote := &stubSource{bars: []models.MCandle{minuteBar(60), minuteBar(120), minuteBar(600)}}
	svc := NewService(store, remote, nil)

	bars, err := svc.GetBars(context.Background(), "VNM", models.TimeframeMinute, 60, 660)
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, 1, remote.calls)
	assert.Len(t, store.saved, 3)
}

func TestServiceDoesNotStoreFormingBar(t *testing.T) {
	forming := minuteBar(660)
	forming.IsComplete = false
	store := &stubStore{}
	remote := &stubSource{bars: []models.MCandle{minuteBar(600), forming}}
	svc := NewService(store, remote, nil)

	bars, err := svc.GetBars(context.Background(), "VNM", models.TimeframeMinute, 600, 720)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(600), store.saved[0].StartTime)
}

func TestServiceServesStoredOnRemoteFailure(t *testing.T) {
	store := &stubStore{bars: []models.MCandle{minuteBar(600)}}
	svc := NewService(store, &stubSource{err: errors.New("down")}, nil)

	bars, err := svc.GetBars(context.Background(), "VNM", models.TimeframeMinute, 60, 660)
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	empty := NewService(&stubStore{loadErr: errors.New("locked")}, &stubSource{err: errors.New("down")}, nil)
	_, err = empty.GetBars(context.Background(), "VNM", models.TimeframeMinute, 60, 660)
	assert.ErrorContains(t, err, "down")
}
