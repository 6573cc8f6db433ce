package storage

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"market-stream/src/models"
)

// loadQuery builds the range select shared by both dialects. placeholder is
// "?" for sqlite or "$" for postgres (numbered). With a limit the newest rows
// are selected; scanCandles restores ascending order.
func loadQuery(table, placeholder string, symbol string, tf models.MTimeframe, from, to int64, limit int) (string, []interface{}) {
	if to <= 0 {
		to = math.MaxInt64
	}
	args := []interface{}{strings.ToUpper(symbol), string(tf), from, to}
	ph := func(i int) string {
		if placeholder == "$" {
			return fmt.Sprintf("$%d", i)
		}
		return "?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT start_time, open, high, low, close, volume FROM %s
		WHERE symbol = %s AND timeframe = %s AND start_time >= %s AND start_time < %s`,
		table, ph(1), ph(2), ph(3), ph(4))
	if limit > 0 {
		fmt.Fprintf(&b, " ORDER BY start_time DESC LIMIT %s", ph(5))
		args = append(args, limit)
	} else {
		b.WriteString(" ORDER BY start_time ASC")
	}
	return b.String(), args
}

func scanCandles(rows *sql.Rows, symbol string, tf models.MTimeframe) ([]models.MCandle, error) {
	defer rows.Close()

	var out []models.MCandle
	for rows.Next() {
		c := models.MCandle{Symbol: strings.ToUpper(symbol), Timeframe: tf, IsComplete: true}
		if err := rows.Scan(&c.StartTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) > 1 && out[0].StartTime > out[len(out)-1].StartTime {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func retentionCutoff(now time.Time, days int) int64 {
	return now.UTC().AddDate(0, 0, -days).Unix()
}
