package stream

import (
	"testing"

	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKey(t *testing.T) {
	tests := map[string]string{
		"LastPrice":   "lastPrice",
		"last_price":  "lastPrice",
		"LAST_PRICE":  "lastPrice",
		"lastPrice":   "lastPrice",
		"Ticker":      "ticker",
		"ID":          "id",
		"URLPath":     "urlPath",
		"ISComplete":  "isComplete",
		"BidPrice1":   "bidPrice1",
		"total-vol":   "totalVol",
		"startTime":   "startTime",
		"x":           "x",
		"TotalVolume": "totalVolume",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalKey(in), in)
	}
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"61500", 61500, true},
		{" -1.25 ", -1.25, true},
		{"1e3", 1000, true},
		{"VNM", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"0x10", 0, false},
		{"2024-01-02T03:04:05Z", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumeric(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeTickFrame(t *testing.T) {
	raw := []byte(`{"Type":"tick","Data":{"Ticker":"vnm","LastPrice":"61500","RefPrice":61000,"TOTAL_VOL":"1200","Board":"HOSE","Halted":false,"Note":null,"Ladder":{"BidPrice1":"61400"}}}`)

	frames, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, models.FrameTick, f.Kind)
	assert.Equal(t, "vnm", f.Fields["ticker"])
	assert.Equal(t, 61500.0, f.Fields["lastPrice"])
	assert.Equal(t, 61000.0, f.Fields["refPrice"])
	assert.Equal(t, 1200.0, f.Fields["totalVol"])
	assert.Equal(t, "HOSE", f.Fields["board"])
	assert.Equal(t, false, f.Fields["halted"])
	assert.Contains(t, f.Fields, "note")
	assert.Nil(t, f.Fields["note"])
	assert.NotContains(t, f.Fields, "change")
	assert.Equal(t, map[string]interface{}{"bidPrice1": 61400.0}, f.Fields["ladder"])
}

func TestNormalizeArrayPayload(t *testing.T) {
	raw := []byte(`{"target":"Candle","arguments":[[{"Ticker":"HPG","Close":"27.5"},{"Ticker":"FPT","Close":"98"}]]}`)

	frames, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "candle", frames[0].Kind)
	assert.Equal(t, "HPG", frames[0].Fields["ticker"])
	assert.Equal(t, 98.0, frames[1].Fields["close"])
}

func TestNormalizeWithoutPayload(t *testing.T) {
	frames, err := Normalize([]byte(`{"type":"result","id":4,"error":"unknown symbol"}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, models.FrameResult, frames[0].Kind)
	assert.Equal(t, 4.0, frames[0].Fields["id"])
	assert.Equal(t, "unknown symbol", frames[0].Fields["error"])
}

func TestNormalizeKeepsNumericIdentifiers(t *testing.T) {
	frames, err := Normalize([]byte(`{"type":"candle","data":{"Ticker":"7203","Timeframe":"1","StartTime":"1700000000","Close":"2500"}}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "7203", frames[0].Fields["ticker"])
	assert.Equal(t, "1", frames[0].Fields["timeframe"])
	assert.Equal(t, 1700000000.0, frames[0].Fields["startTime"])
	assert.Equal(t, 2500.0, frames[0].Fields["close"])

	frames, err = Normalize([]byte(`{"type":"tick","data":{"Symbol":"000001","LastPrice":"10.5"}}`))
	require.NoError(t, err)
	assert.Equal(t, "000001", frames[0].Fields["symbol"])
	assert.Equal(t, 10.5, frames[0].Fields["lastPrice"])
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte(`{not json`))
	assert.Error(t, err)
	_, err = Normalize([]byte(`[1,2]`))
	assert.Error(t, err)
}
