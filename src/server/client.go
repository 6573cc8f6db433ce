package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"market-stream/src/candles"
	"market-stream/src/models"
	"market-stream/src/subscription"
	"market-stream/src/tabular"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	commandTimeout = 10 * time.Second
	sendBuffer     = 256
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one dashboard connection. It is a registry consumer with its own
// reconciler and a shadow of the rows it has been sent.
type Client struct {
	hub  *Server
	conn *websocket.Conn
	id   string

	mu     sync.Mutex
	send   chan interface{}
	closed bool

	viewMu     sync.Mutex
	reconciler *tabular.Reconciler[models.MQuoteRow]
	rows       *tabular.RowStore[models.MQuoteRow]
	datafeed   *candles.Datafeed
}

func newClient(s *Server, conn *websocket.Conn, id string) *Client {
	c := &Client{
		hub:        s,
		conn:       conn,
		id:         id,
		send:       make(chan interface{}, sendBuffer),
		reconciler: tabular.NewReconciler(models.QuoteRowFromSnapshot),
		rows:       tabular.NewRowStore(quoteRowKey),
	}
	c.reconciler.SetKeyFilter([]string{})
	return c
}

func (c *Client) chartConsumer() string {
	return c.id + ":chart"
}

// trySend queues msg without blocking. It reports false when the buffer is
// full; sends after close are ignored.
func (c *Client) trySend(msg interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// sendOrDrop is used off the hub loop: a full buffer closes the connection,
// which unregisters the client through readPump.
func (c *Client) sendOrDrop(msg interface{}) {
	if !c.trySend(msg) {
		c.hub.Logger.Warning("Client %s too slow, closing", c.id)
		c.conn.Close()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// pushRows reconciles a cache batch against this client's rows.
func (c *Client) pushRows(snaps []models.MSnapshot) bool {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	tx := c.reconciler.Reconcile(c.rows, snaps)
	if tx.Empty() {
		return true
	}
	c.rows.Apply(tx)
	return c.trySend(rowsMessage(tx))
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.release()
		c.hub.Logger.Info("Client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// release withdraws every interest this client declared.
func (c *Client) release() {
	c.viewMu.Lock()
	c.closeDatafeedLocked()
	c.viewMu.Unlock()

	reg := c.hub.deps.Registry
	if reg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := reg.ClearInterest(ctx, c.id); err != nil {
		c.hub.Logger.Warning("Clear interest for %s: %v", c.id, err)
	}
	if err := reg.ClearInterest(ctx, c.chartConsumer()); err != nil {
		c.hub.Logger.Warning("Clear chart interest for %s: %v", c.id, err)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (c *Client) handleMessage(message []byte) {
	var cmd models.MClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendOrDrop(errorMessage("bad command: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch strings.ToLower(cmd.Command) {
	case "subscribe":
		c.subscribe(ctx, cmd.Symbols)
	case "subscribe_all":
		c.subscribeAll(ctx)
	case "unsubscribe":
		c.unsubscribe(ctx)
	case "chart":
		c.openChart(ctx, cmd)
	case "chart_close":
		c.closeChart(ctx)
	case "resync":
		c.resync()
	default:
		c.sendOrDrop(errorMessage("unknown command %q", cmd.Command))
	}
}

// -----------------------------------------------------------------------------

func (c *Client) subscribe(ctx context.Context, raw []string) {
	symbols := subscription.NormalizeSymbols(raw)
	reg := c.hub.deps.Registry

	err := reg.SetInterest(ctx, c.id, symbols)
	if wErr := reg.SetWildcard(ctx, c.id, false); err == nil {
		err = wErr
	}

	c.viewMu.Lock()
	c.reconciler.SetKeyFilter(append([]string{}, symbols...))
	if removed := c.rows.Retain(symbols); !removed.Empty() {
		c.sendOrDrop(rowsMessage(removed))
	}
	c.pushInitialLocked(c.hub.deps.Cache.Batch(symbols))
	c.viewMu.Unlock()

	if err != nil {
		c.sendOrDrop(errorMessage("subscribe: %v", err))
	}
}

func (c *Client) subscribeAll(ctx context.Context) {
	err := c.hub.deps.Registry.SetWildcard(ctx, c.id, true)

	c.viewMu.Lock()
	c.reconciler.SetKeyFilter(nil)
	c.pushInitialLocked(c.hub.deps.Cache.All())
	c.viewMu.Unlock()

	if err != nil {
		c.sendOrDrop(errorMessage("subscribe_all: %v", err))
	}
}

func (c *Client) unsubscribe(ctx context.Context) {
	err := c.hub.deps.Registry.ClearInterest(ctx, c.id)

	c.viewMu.Lock()
	c.reconciler.SetKeyFilter([]string{})
	if removed := c.rows.Retain(nil); !removed.Empty() {
		c.sendOrDrop(rowsMessage(removed))
	}
	c.viewMu.Unlock()

	if err != nil {
		c.sendOrDrop(errorMessage("unsubscribe: %v", err))
	}
}

// resync resends every row the client should hold, as a full grid that
// replaces whatever it has.
func (c *Client) resync() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	c.sendOrDrop(&models.MServerMessage{
		Type:      models.MessageGrid,
		Rows:      tabular.Transaction[models.MQuoteRow]{Add: c.rows.Rows()},
		Timestamp: nowMillis(),
	})
}

func (c *Client) pushInitialLocked(snaps []models.MSnapshot) {
	tx := c.reconciler.Reconcile(c.rows, snaps)
	if tx.Empty() {
		return
	}
	c.rows.Apply(tx)
	c.sendOrDrop(rowsMessage(tx))
}

// -----------------------------------------------------------------------------

func (c *Client) openChart(ctx context.Context, cmd models.MClientCommand) {
	symbol := strings.ToUpper(strings.TrimSpace(cmd.Symbol))
	if symbol == "" {
		c.sendOrDrop(errorMessage("chart: symbol is required"))
		return
	}
	tf, err := models.ParseTimeframe(cmd.Timeframe)
	if err != nil {
		c.sendOrDrop(errorMessage("chart: %v", err))
		return
	}
	if c.hub.deps.Candles == nil {
		c.sendOrDrop(errorMessage("chart: candles not available"))
		return
	}

	from, to := cmd.From, cmd.To
	if to <= 0 {
		to = time.Now().Unix()
	}
	if from <= 0 || from >= to {
		from = to - defaultChartBars*int64(tf.Duration().Seconds())
	}

	if err := c.hub.deps.Registry.SetInterest(ctx, c.chartConsumer(), []string{symbol}); err != nil {
		c.hub.Logger.Warning("Chart interest for %s: %v", c.id, err)
	}

	c.viewMu.Lock()
	c.closeDatafeedLocked()
	df := candles.NewDatafeed(c.hub.deps.Candles, c.hub.deps.History, symbol, tf, c.hub.Config.Stream.PendingBufferSize, c.hub.Logger)
	c.datafeed = df
	c.hub.charts.track(df)
	c.viewMu.Unlock()

	err = df.GetBars(ctx, from, to, func(bars []models.MCandle, noData bool) {
		c.sendOrDrop(&models.MServerMessage{
			Type:      models.MessageBars,
			Symbol:    symbol,
			Timeframe: string(tf),
			Bars:      bars,
			NoData:    noData,
			Timestamp: nowMillis(),
		})
	})
	if err != nil {
		c.sendOrDrop(errorMessage("chart history: %v", err))
	}

	df.SubscribeBar(func(bar models.MCandle) {
		b := bar
		c.sendOrDrop(&models.MServerMessage{
			Type:      models.MessageBar,
			Symbol:    symbol,
			Timeframe: string(tf),
			Bar:       &b,
			Timestamp: nowMillis(),
		})
	})
}

// closeDatafeedLocked detaches the open chart, if any. Callers hold viewMu.
func (c *Client) closeDatafeedLocked() {
	if c.datafeed == nil {
		return
	}
	c.hub.charts.untrack(c.datafeed)
	c.datafeed.Close()
	c.datafeed = nil
}

func (c *Client) closeChart(ctx context.Context) {
	c.viewMu.Lock()
	c.closeDatafeedLocked()
	c.viewMu.Unlock()

	if err := c.hub.deps.Registry.ClearInterest(ctx, c.chartConsumer()); err != nil {
		c.sendOrDrop(errorMessage("chart_close: %v", err))
	}
}
