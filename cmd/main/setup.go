package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-stream/src/candles"
	"market-stream/src/config"
	"market-stream/src/history"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/network"
	"market-stream/src/server"
	"market-stream/src/snapshot"
	"market-stream/src/storage"
	"market-stream/src/stream"
	"market-stream/src/subscription"
	"market-stream/src/utils"

	"google.golang.org/grpc"
)

// application holds every long-lived component. It is built once here and
// passed around; nothing is global.
type application struct {
	store     interfaces.ICandleStore
	conn      *stream.Connection
	registry  *subscription.Registry
	scaler    *snapshot.PriceScaler
	cache     *snapshot.Cache
	candleHub *candles.Hub
	recorder  *candles.Recorder
	history   *history.Service
	mirror    *storage.SnapshotMirror
	scheduler *utils.MarketScheduler
	srv       *server.Server
	grpcSrv   *grpc.Server
}

// -----------------------------------------------------------------------------

// setupComponents initializes storage, the stream connection and the core
func setupComponents(ctx context.Context, conf *config.Config, appLogger *logger.Logger) (*application, error) {
	app := &application{}

	// Storage
	store, err := storage.NewStore(conf.Storage, appLogger.Named("Storage"))
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	app.store = store

	// Redis mirror (optional)
	rdb, err := storage.NewRedisClient(ctx, conf.Redis)
	if err != nil {
		appLogger.Warning("Snapshot mirror disabled: %v", err)
	}
	app.mirror = storage.NewSnapshotMirror(rdb, conf.Redis, appLogger.Named("SnapshotMirror"))

	// Stream connection
	app.conn = stream.NewConnection(conf.Stream.URL, appLogger.Named("Stream"),
		stream.WithBackoff(conf.BackoffSchedule()),
		stream.WithWriteTimeout(time.Duration(conf.Stream.WriteTimeout)*time.Second),
	)
	logStateChanges(app.conn, appLogger)

	// Core
	app.registry = subscription.NewRegistry(app.conn, appLogger.Named("Registry"))
	app.scaler = snapshot.NewPriceScaler(conf.Instrument)
	app.cache = snapshot.NewCache(app.scaler, appLogger.Named("SnapshotCache"))
	app.candleHub = candles.NewHub(app.scaler, appLogger.Named("Candles"))
	app.recorder = candles.NewRecorder(store, 4096, appLogger.Named("Recorder"))
	app.scheduler = utils.NewMarketScheduler(conf.Calendar.DefaultMIC, appLogger.Named("MarketScheduler"))

	// History: store first, REST fallback when configured
	var remote interfaces.IBarSource
	if conf.History.BaseURL != "" {
		nm := network.NewNetworkManager(conf.Network, appLogger.Named("NetworkManager"))
		remote = history.NewClient(conf.History.BaseURL, nm, appLogger.Named("HistoryClient"))
	}
	app.history = history.NewService(store, remote, appLogger.Named("History"))

	return app, nil
}

// -----------------------------------------------------------------------------

// wire connects stream frames, subscription changes and the cache.
func (app *application) wire(conf *config.Config) {
	app.cache.SetAdmission(app.registry.Admits)
	app.conn.OnMessage(app.cache.HandleFrame)
	app.conn.OnMessage(app.candleHub.HandleFrame)
	app.conn.OnConnected(app.registry.ReplayHook())

	app.candleHub.Register(app.recorder.Push)

	app.registry.OnEvict(func(symbols []string) {
		app.cache.Evict(symbols...)
		app.recorder.Forget(symbols...)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = app.mirror.Remove(ctx, symbols...)
		}()
	})
	app.registry.OnChange(func(symbols []string, wildcard bool) {
		if !wildcard {
			app.cache.Retain(symbols)
		}
		app.scheduler.UpdateSymbols(symbols)
	})
}

// -----------------------------------------------------------------------------

// startWorkers runs the recorder, the mirror and the retention loop.
func (app *application) startWorkers(ctx context.Context, wg *sync.WaitGroup, appLogger *logger.Logger) {
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			appLogger.Debug("%s stopped", name)
		}()
	}

	run("recorder", func() { app.recorder.Run(ctx) })
	run("retention", func() {
		storage.RunRetention(ctx, app.store, time.Hour, appLogger.Named("Retention"))
	})

	mirrorFeed := snapshot.NewCoalescer(app.cache)
	run("mirror", func() {
		defer mirrorFeed.Close()
		app.mirror.Run(ctx, mirrorFeed, app.cache)
	})
}

func (app *application) marketOpen() bool {
	return app.scheduler.AnyMarketOpen()
}
