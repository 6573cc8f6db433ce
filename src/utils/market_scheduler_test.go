package utils

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMICFor(t *testing.T) {
	tests := []struct {
		symbol, def, want string
	}{
		{"AAPL", "", "xnys"},
		{"VOD.L", "xnys", "xlon"},
		{"7203.T", "xnys", "xtks"},
		{"VNM", "XLON", "xlon"},
		{"BRK.B", "xnys", "xnys"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MICFor(tt.symbol, tt.def), tt.symbol)
	}
}

func TestFallbackCalendar(t *testing.T) {
	tc := &TradingCalendar{MIC: "test", Fallback: true, Timezone: time.UTC}

	monday := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	assert.True(t, tc.IsTradingDay(monday))
	assert.True(t, tc.IsOpenOnMinute(monday))
	assert.False(t, tc.IsOpenOnMinute(monday.Add(8*time.Hour)))

	saturday := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	assert.False(t, tc.IsTradingDay(saturday))
	assert.False(t, tc.IsOpenOnMinute(saturday))
}

func TestSchedulerTracksCalendars(t *testing.T) {
	ms := NewMarketScheduler("xnys", nil)
	ms.UpdateSymbols([]string{"AAPL", "MSFT", "VOD.L"})

	mics := ms.MICs()
	sort.Strings(mics)
	assert.Equal(t, []string{"xlon", "xnys"}, mics)

	ms.UpdateSymbols(nil)
	assert.Empty(t, ms.MICs())
}

func TestSchedulerClosedOnWeekend(t *testing.T) {
	ms := NewMarketScheduler("xnys", nil)
	ms.now = func() time.Time { return time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC) }
	ms.UpdateSymbols([]string{"AAPL"})
	assert.False(t, ms.AnyMarketOpen())
}
