package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/models"
	"market-stream/src/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// fakes
// -----------------------------------------------------------------------------

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return 1, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) invocations(t *testing.T) []invokeFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]invokeFrame, 0, len(f.written))
	for _, raw := range f.written {
		var frame invokeFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		out = append(out, frame)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	dial  func(attempt int) (Conn, error)
	count int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	attempt := d.count
	d.count++
	d.mu.Unlock()
	return d.dial(attempt)
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.MConnectionState
}

func (r *stateRecorder) record(_, next models.MConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, next)
}

func (r *stateRecorder) get() []models.MConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MConnectionState(nil), r.states...)
}

// -----------------------------------------------------------------------------

func TestInvokeRequiresConnected(t *testing.T) {
	c := NewConnection("ws://upstream", nil, WithDialer(&fakeDialer{}))

	err := c.Invoke(context.Background(), models.MethodSubscribe, []string{"VNM"})
	var nc *helpers.NotConnectedError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, models.MethodSubscribe, nc.Method)
}

func TestConnectFailureReportsError(t *testing.T) {
	dialer := &fakeDialer{dial: func(int) (Conn, error) { return nil, errors.New("handshake refused") }}
	c := NewConnection("ws://upstream", nil, WithDialer(dialer))
	rec := &stateRecorder{}
	c.OnStateChange(rec.record)

	err := c.Connect(context.Background())

	var ce *helpers.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []models.MConnectionState{models.StateConnecting, models.StateError}, rec.get())
	assert.Equal(t, models.StateError, c.State())
}

func TestConnectInvokeAndDispatch(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{dial: func(int) (Conn, error) { return conn, nil }}
	c := NewConnection("ws://upstream", nil, WithDialer(dialer))
	t.Cleanup(c.Disconnect)

	received := make(chan models.MFrame, 4)
	unregister := c.OnMessage(func(f models.MFrame) { received <- f })

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, dialer.attempts())
	assert.Equal(t, models.StateConnected, c.State())

	require.NoError(t, c.Invoke(context.Background(), models.MethodSubscribe, []string{"VNM", "HPG"}))
	require.NoError(t, c.Invoke(context.Background(), models.MethodSubscribeAll))

	calls := conn.invocations(t)
	require.Len(t, calls, 2)
	assert.Equal(t, "invoke", calls[0].Type)
	assert.Equal(t, models.MethodSubscribe, calls[0].Method)
	assert.Equal(t, []interface{}{[]interface{}{"VNM", "HPG"}}, calls[0].Args)
	assert.Equal(t, models.MethodSubscribeAll, calls[1].Method)
	assert.Empty(t, calls[1].Args)
	assert.Less(t, calls[0].ID, calls[1].ID)

	conn.inbound <- []byte(`{"type":"tick","data":{"Ticker":"VNM","LastPrice":"61500"}}`)
	select {
	case f := <-received:
		assert.Equal(t, "tick", f.Kind)
		assert.Equal(t, 61500.0, f.Fields["lastPrice"])
	case <-time.After(time.Second):
		t.Fatal("frame not dispatched")
	}

	unregister()
	conn.inbound <- []byte(`{"type":"tick","data":{"Ticker":"VNM"}}`)
	conn.inbound <- []byte(`{"type":"result","id":1,"error":"boom"}`)
	select {
	case f := <-received:
		t.Fatalf("unexpected frame after unregister: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectBackoffAndReplay(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{dial: func(attempt int) (Conn, error) {
		switch attempt {
		case 0:
			return first, nil
		case 1, 2:
			return nil, errors.New("upstream unavailable")
		default:
			return second, nil
		}
	}}
	c := NewConnection("ws://upstream", nil, WithDialer(dialer))

	var mu sync.Mutex
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err() == nil
	}

	rec := &stateRecorder{}
	c.OnStateChange(rec.record)

	hooks := make(chan struct{}, 4)
	c.OnConnected(func(ctx context.Context) {
		assert.NoError(t, c.Invoke(ctx, models.MethodSubscribe, []string{"FPT", "HPG", "VNM"}))
		hooks <- struct{}{}
	})

	require.NoError(t, c.Connect(context.Background()))
	<-hooks

	first.Close()
	select {
	case <-hooks:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not re-established")
	}
	c.Disconnect()

	mu.Lock()
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 5 * time.Second}, delays)
	mu.Unlock()

	assert.Equal(t, []models.MConnectionState{
		models.StateConnecting,
		models.StateConnected,
		models.StateReconnecting,
		models.StateError,
		models.StateReconnecting,
		models.StateError,
		models.StateReconnecting,
		models.StateConnected,
		models.StateDisconnected,
	}, rec.get())

	replayed := second.invocations(t)
	require.Len(t, replayed, 1)
	assert.Equal(t, models.MethodSubscribe, replayed[0].Method)
	assert.Equal(t, []interface{}{[]interface{}{"FPT", "HPG", "VNM"}}, replayed[0].Args)
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	first := newFakeConn()
	dialer := &fakeDialer{dial: func(attempt int) (Conn, error) {
		if attempt == 0 {
			return first, nil
		}
		return nil, errors.New("down")
	}}
	c := NewConnection("ws://upstream", nil, WithDialer(dialer), WithBackoff([]time.Duration{time.Millisecond}))

	require.NoError(t, c.Connect(context.Background()))
	first.Close()

	require.Eventually(t, func() bool { return dialer.attempts() > 3 }, 2*time.Second, time.Millisecond)
	c.Disconnect()
	n := dialer.attempts()

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, dialer.attempts(), n+1)
	assert.Equal(t, models.StateDisconnected, c.State())
}

func TestRegistryReplaysUnionAfterDrop(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialing := make(chan struct{})
	gate := make(chan struct{})
	markDialing := sync.OnceFunc(func() { close(dialing) })
	release := sync.OnceFunc(func() { close(gate) })
	dialer := &fakeDialer{dial: func(attempt int) (Conn, error) {
		switch attempt {
		case 0:
			return first, nil
		default:
			markDialing()
			<-gate
			return second, nil
		}
	}}
	c := NewConnection("ws://upstream", nil, WithDialer(dialer))
	c.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	defer c.Disconnect()
	defer release()

	reg := subscription.NewRegistry(c, nil)
	c.OnConnected(reg.ReplayHook())
	replayed := make(chan struct{}, 4)
	c.OnConnected(func(context.Context) { replayed <- struct{}{} })

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	<-replayed
	require.NoError(t, reg.SetInterest(ctx, "grid", []string{"VNM", "HPG"}))
	require.NoError(t, reg.SetInterest(ctx, "chart", []string{"VNM"}))
	require.Len(t, first.invocations(t), 1)

	first.Close()
	<-dialing
	assert.Equal(t, models.StateReconnecting, c.State())

	// Changes while reconnecting are committed locally and only replayed.
	require.NoError(t, reg.SetInterest(ctx, "grid", []string{"HPG", "FPT"}))
	require.NoError(t, reg.SetWildcard(ctx, "heatmap", true))
	want := reg.Symbols()
	assert.Equal(t, []string{"FPT", "HPG", "VNM"}, want)

	release()
	select {
	case <-replayed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not re-established")
	}

	frames := second.invocations(t)
	require.Len(t, frames, 2)
	assert.Equal(t, models.MethodSubscribe, frames[0].Method)
	assert.Equal(t, []interface{}{[]interface{}{"FPT", "HPG", "VNM"}}, frames[0].Args)
	assert.Equal(t, models.MethodSubscribeAll, frames[1].Method)
}
