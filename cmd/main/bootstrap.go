package main

import (
	"context"
	"sort"

	"market-stream/src/config"
	"market-stream/src/logger"
	"market-stream/src/models"
)

// watchlistResolver is implemented by stores that can expand table
// references in watchlists (postgres).
type watchlistResolver interface {
	ResolveWatchlist(ctx context.Context, name string, entries []string) ([]string, error)
}

// -----------------------------------------------------------------------------

// bootstrap declares configured watchlists as consumers and warms the cache
// from the snapshot mirror. Nothing here needs the stream to be connected;
// the registry replays on connect.
func (app *application) bootstrap(ctx context.Context, conf *config.Config, appLogger *logger.Logger) {
	names := make([]string, 0, len(conf.Watchlists))
	for name := range conf.Watchlists {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		symbols := conf.Watchlists[name]
		if r, ok := app.store.(watchlistResolver); ok {
			resolved, err := r.ResolveWatchlist(ctx, name, symbols)
			if err != nil {
				appLogger.Error("Watchlist %s: %v", name, err)
				continue
			}
			symbols = resolved
		}
		if err := app.registry.SetInterest(ctx, "watchlist:"+name, symbols); err != nil {
			appLogger.Warning("Watchlist %s not declared: %v", name, err)
			continue
		}
		appLogger.Info("Watchlist %s: %d symbols", name, len(symbols))
	}

	snaps, err := app.mirror.Load(ctx)
	if err != nil {
		appLogger.Warning("Snapshot mirror load failed: %v", err)
		return
	}
	var keep []models.MSnapshot
	for _, s := range snaps {
		if app.registry.Wildcard() || app.registry.Contains(s.Ticker) {
			keep = append(keep, s)
		}
	}
	if n := app.cache.Seed(keep); n > 0 {
		appLogger.Info("Warm start: %d snapshots from mirror", n)
	}
}
