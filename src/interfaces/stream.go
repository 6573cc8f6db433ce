package interfaces

import (
	"context"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// IInvoker sends a method call over the upstream stream connection.
// -----------------------------------------------------------------------------

type IInvoker interface {
	Invoke(ctx context.Context, method string, args ...interface{}) error
}

// -----------------------------------------------------------------------------
// IConnectionState reports the upstream connection state.
// -----------------------------------------------------------------------------

type IConnectionState interface {
	State() models.MConnectionState
}

// -----------------------------------------------------------------------------
// IBarSource provides chart history.
// -----------------------------------------------------------------------------

type IBarSource interface {
	GetBars(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64) ([]models.MCandle, error)
}
