package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type invokeFrame struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// session is one upstream client.
type session struct {
	conn *websocket.Conn
	log  *logger.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	symbols map[string]struct{}
	all     bool
}

func (s *session) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *session) active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return universe
	}
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *session) apply(frame invokeFrame) error {
	var symbols []string
	if len(frame.Args) > 0 {
		if err := json.Unmarshal(frame.Args[0], &symbols); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch frame.Method {
	case models.MethodSubscribe:
		for _, sym := range symbols {
			s.symbols[strings.ToUpper(sym)] = struct{}{}
		}
	case models.MethodUnsubscribe:
		for _, sym := range symbols {
			delete(s.symbols, strings.ToUpper(sym))
		}
	case models.MethodSubscribeAll:
		s.all = true
	case models.MethodUnsubscribeAll:
		s.all = false
	default:
		return &unknownMethodError{frame.Method}
	}
	return nil
}

type unknownMethodError struct{ method string }

func (e *unknownMethodError) Error() string { return "unknown method " + e.method }

// -----------------------------------------------------------------------------

func serveStream(c *gin.Context, m *market, interval time.Duration, log *logger.Logger) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warning("upgrade failed: %v", err)
		return
	}
	s := &session{conn: conn, log: log, symbols: make(map[string]struct{})}
	log.Info("session %s connected", conn.RemoteAddr())

	done := make(chan struct{})
	go s.emit(m, interval, done)

	defer func() {
		close(done)
		conn.Close()
		log.Info("session %s closed", conn.RemoteAddr())
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame invokeFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "invoke" {
			log.Debug("ignoring frame %s", raw)
			continue
		}
		result := map[string]interface{}{"id": frame.ID}
		if err := s.apply(frame); err != nil {
			result["error"] = err.Error()
		} else {
			result["result"] = true
			log.Info("%s %v", frame.Method, s.active())
		}
		if err := s.write(envelope{Type: models.FrameResult, Data: result}); err != nil {
			return
		}
	}
}

func (s *session) emit(m *market, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			for _, sym := range s.active() {
				tick, bar := m.step(sym, now)
				if err := s.write(envelope{Type: models.FrameTick, Data: tick}); err != nil {
					return
				}
				candle := map[string]interface{}{
					"ticker":     bar.Symbol,
					"timeframe":  string(bar.Timeframe),
					"startTime":  bar.StartTime,
					"open":       bar.Open,
					"high":       bar.High,
					"low":        bar.Low,
					"close":      bar.Close,
					"volume":     bar.Volume,
					"isComplete": false,
				}
				if err := s.write(envelope{Type: models.FrameCandle, Data: candle}); err != nil {
					return
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------

func serveBars(c *gin.Context, m *market) {
	symbol := strings.ToUpper(c.Query("symbol"))
	tf, err := models.ParseTimeframe(c.DefaultQuery("resolution", "1D"))
	if symbol == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"s": "error", "errmsg": "symbol and resolution required"})
		return
	}
	from, _ := strconv.ParseInt(c.Query("from"), 10, 64)
	to, _ := strconv.ParseInt(c.Query("to"), 10, 64)
	if to <= 0 {
		to = time.Now().Unix()
	}

	bars := m.history(symbol, tf, from, to)
	if len(bars) == 0 {
		c.JSON(http.StatusOK, gin.H{"s": "no_data"})
		return
	}
	data := make([]gin.H, len(bars))
	for i, b := range bars {
		data[i] = gin.H{"t": b.StartTime, "o": b.Open, "h": b.High, "l": b.Low, "c": b.Close, "v": b.Volume}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}
