package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"market-stream/src/logger"

	"github.com/gin-gonic/gin"
)

// feedsim is a local upstream for development: a websocket that honours
// subscribeToSymbols/unsubscribeFromSymbols/subscribeToAll and emits ticks
// and minute candles, plus a /bars history endpoint.
func main() {
	port := flag.Int("port", 9000, "listen port")
	interval := flag.Duration("interval", time.Second, "tick interval")
	level := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	log := logger.NewLogger(*level, "feedsim")
	gin.SetMode(gin.ReleaseMode)

	market := newMarket(time.Now().UnixNano())
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/stream", func(c *gin.Context) { serveStream(c, market, *interval, log) })
	engine.GET("/bars", func(c *gin.Context) { serveBars(c, market) })

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	log.Info("feedsim listening on ws://%s/stream", addr)
	if err := engine.Run(addr); err != nil {
		log.Error("feedsim stopped: %v", err)
		os.Exit(1)
	}
}
