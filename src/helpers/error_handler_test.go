package helpers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayHoldsAtLast(t *testing.T) {
	schedule := []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

	got := make([]time.Duration, 0, 8)
	for i := 0; i < 8; i++ {
		got = append(got, BackoffDelay(schedule, i))
	}
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}, got)
	assert.Equal(t, time.Duration(0), BackoffDelay(nil, 3))
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("startup: %w", NewConnectionError("ws://x", cause))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connect to ws://x failed")

	nc := fmt.Errorf("registry: %w", NewNotConnectedError("subscribeToSymbols", "reconnecting"))
	assert.True(t, IsNotConnected(nc))
	assert.False(t, IsNotConnected(err))
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	res, err := RetryWithBackoff(context.Background(), nil, "fetch", 3, time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffStopsOnValidation(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), nil, "fetch", 5, time.Millisecond, func(ctx context.Context) (string, error) {
		calls++
		return "", NewValidationError("bad symbol %q", "??")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
}
