package history

import (
	"context"
	"strings"

	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Service answers history requests from the candle store first and falls
// back to the remote source, writing fetched bars back to the store.
type Service struct {
	store  interfaces.ICandleStore
	remote interfaces.IBarSource
	Logger *logger.Logger
}

func NewService(store interfaces.ICandleStore, remote interfaces.IBarSource, log *logger.Logger) *Service {
	return &Service{store: store, remote: remote, Logger: log}
}

// GetBars implements interfaces.IBarSource.
func (s *Service) GetBars(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64) (bars []models.MCandle, err error) {
	symbol = strings.ToUpper(symbol)
	ctx, span := tracing.StartSpan(ctx, "history.GetBars",
		attribute.String("symbol", symbol),
		attribute.String("timeframe", string(tf)),
	)
	defer func() { tracing.End(span, err) }()

	var stored []models.MCandle
	if s.store != nil {
		stored, err = s.store.LoadCandles(ctx, symbol, tf, from, to, 0)
		if err != nil {
			s.Logger.Warning("Store lookup failed for %s/%s: %v", symbol, tf, err)
			stored, err = nil, nil
		}
		if covers(stored, tf, from) {
			span.SetAttributes(attribute.String("source", "store"))
			return stored, nil
		}
	}

	if s.remote == nil {
		return stored, nil
	}

	span.SetAttributes(attribute.String("source", "remote"))
	fetched, err := s.remote.GetBars(ctx, symbol, tf, from, to)
	if err != nil {
		if len(stored) > 0 {
			s.Logger.Warning("Remote history failed for %s/%s, serving %d stored bars: %v", symbol, tf, len(stored), err)
			return stored, nil
		}
		return nil, err
	}

	if s.store != nil {
		if complete := completeBars(fetched); len(complete) > 0 {
			if saveErr := s.store.SaveCandles(ctx, complete); saveErr != nil {
				s.Logger.Warning("Failed to cache %d history bars for %s/%s: %v", len(complete), symbol, tf, saveErr)
			}
		}
	}
	return fetched, nil
}

// covers reports whether stored bars reach back to the first period of the
// requested range.
func covers(bars []models.MCandle, tf models.MTimeframe, from int64) bool {
	if len(bars) == 0 {
		return false
	}
	return bars[0].StartTime <= tf.PeriodStart(from)+int64(tf.Duration().Seconds())
}

// completeBars drops the forming bar; the recorder stores it once committed.
func completeBars(bars []models.MCandle) []models.MCandle {
	out := make([]models.MCandle, 0, len(bars))
	for _, b := range bars {
		if b.IsComplete {
			out = append(out, b)
		}
	}
	return out
}
