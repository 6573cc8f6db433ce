package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"market-stream/src/config"
	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/stream"
	"market-stream/src/tracing"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	// A missing .env is fine; its values only seed the environment.
	_ = godotenv.Load(*envPath)

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger and tracing
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)
	if err := tracing.Init(conf.Name, conf.Tracing.Enabled); err != nil {
		appLogger.Warning("Tracing disabled: %v", err)
	}
	appLogger.Info("Memory limit %dMB", helpers.ApplyMemoryLimit(conf.MemoryMB))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup Components
	app, err := setupComponents(ctx, conf, appLogger)
	if err != nil {
		appLogger.Critical("Setup failed: %v", err)
	}
	defer app.store.Close()

	// 5. Wire the stream into the core
	app.wire(conf)

	// 6. Bootstrap (warm start, watchlists)
	app.bootstrap(ctx, conf, appLogger)

	// 7. Background workers
	var wg sync.WaitGroup
	app.startWorkers(ctx, &wg, appLogger)

	// 8. Servers
	startServers(app, conf, *configPath, appLogger)

	// 9. Connect upstream
	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	err = app.conn.Connect(connectCtx)
	connectCancel()
	if err != nil {
		appLogger.Critical("Failed to connect to %s: %v", conf.Stream.URL, err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	app.conn.Disconnect()
	app.stopServers()
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		appLogger.Warning("Tracing shutdown: %v", err)
	}
}

// -----------------------------------------------------------------------------

func logStateChanges(conn *stream.Connection, log *logger.Logger) {
	conn.OnStateChange(func(prev, next models.MConnectionState) {
		switch next {
		case models.StateError, models.StateReconnecting:
			log.Warning("Stream %s -> %s", prev, next)
		default:
			log.Info("Stream %s -> %s", prev, next)
		}
	})
}
