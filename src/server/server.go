package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/candles"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/snapshot"
	"market-stream/src/subscription"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Deps are the core components the server exposes.
type Deps struct {
	Registry   *subscription.Registry
	Cache      *snapshot.Cache
	Coalescer  *snapshot.Coalescer
	Candles    *candles.Hub
	Recorder   *candles.Recorder
	History    interfaces.IBarSource
	State      interfaces.IConnectionState
	MarketOpen func() bool
}

type Server struct {
	Config *models.MConfig
	Logger *logger.Logger
	deps   Deps
	engine *gin.Engine
	http   *http.Server

	// WebSocket clients, owned by the hub loop
	clients     map[*Client]struct{}
	broadcast   chan *models.MServerMessage
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	stopOnce    sync.Once
	connections atomic.Int64
	charts      chartStats
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewServer(cfg *models.MConfig, deps Deps, log *logger.Logger) *Server {
	if strings.ToUpper(cfg.LogLevel) != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		Config:     cfg,
		Logger:     log,
		deps:       deps,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *models.MServerMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		charts:     chartStats{open: make(map[*candles.Datafeed]struct{})},
	}
	s.engine.Use(gin.Recovery())

	// CORS
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/config", s.getConfig)
	api.GET("/snapshots", s.getSnapshots)
	api.GET("/bars", s.getBars)

	s.engine.GET("/ws", s.handleWebSocket)
}

var _ interfaces.IDataExchanger = (*Server)(nil)

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub loop and serves HTTP until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.handleWebsockets()

	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// BroadcastState tells every client about an upstream connection change.
func (s *Server) BroadcastState(state models.MConnectionState) {
	msg := &models.MServerMessage{Type: models.MessageState, State: string(state), Timestamp: nowMillis()}
	select {
	case s.broadcast <- msg:
	case <-s.done:
	default:
		s.Logger.Warning("Broadcast queue full, state %s not delivered", state)
	}
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"connections": s.connections.Load(),
		"heap_mb":     helpers.HeapAllocMB(),
	}
	if s.deps.State != nil {
		body["state"] = s.deps.State.State()
	}
	if s.deps.Registry != nil {
		body["symbols"] = len(s.deps.Registry.Symbols())
		body["consumers"] = s.deps.Registry.Consumers()
		body["wildcard"] = s.deps.Registry.Wildcard()
	}
	if s.deps.Cache != nil {
		body["snapshots"] = s.deps.Cache.Len()
	}
	if s.deps.MarketOpen != nil {
		body["market_open"] = s.deps.MarketOpen()
	}
	stats := gin.H{"charts": s.charts.stats()}
	if s.deps.Recorder != nil {
		stats["recorder"] = s.deps.Recorder.Stats()
	}
	body["candles"] = stats
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timeframes": s.Config.Timeframes,
		"watchlists": s.Config.Watchlists,
	})
}

// -----------------------------------------------------------------------------

func (s *Server) getSnapshots(c *gin.Context) {
	symbols := splitSymbols(c.Query("symbols"))
	var snaps []models.MSnapshot
	if len(symbols) == 0 {
		snaps = s.deps.Cache.All()
	} else {
		snaps = s.deps.Cache.Batch(symbols)
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "timestamp": nowMillis()})
}

// -----------------------------------------------------------------------------

func (s *Server) getBars(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	tf, err := models.ParseTimeframe(c.DefaultQuery("timeframe", string(models.TimeframeDay)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, to, err := parseRange(c.Query("from"), c.Query("to"), tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bars, err := s.deps.History.GetBars(c.Request.Context(), symbol, tf, from, to)
	if err != nil {
		s.Logger.Warning("History request %s/%s failed: %v", symbol, tf, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"timeframe": tf,
		"bars":      bars,
		"noData":    len(bars) == 0,
	})
}
