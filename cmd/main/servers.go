package main

import (
	"fmt"
	"net"

	"market-stream/src/config"
	"market-stream/src/grpc_control"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/server"
	"market-stream/src/snapshot"
)

// -----------------------------------------------------------------------------

// startServers orchestrates the startup of all server components
func startServers(app *application, conf *config.Config, configPath string, appLogger *logger.Logger) {

	// 1. HTTP + websocket server
	app.srv = server.NewServer(conf.MConfig, server.Deps{
		Registry:   app.registry,
		Cache:      app.cache,
		Coalescer:  snapshot.NewCoalescer(app.cache),
		Candles:    app.candleHub,
		Recorder:   app.recorder,
		History:    app.history,
		State:      app.conn,
		MarketOpen: app.marketOpen,
	}, appLogger.Named("Server"))

	app.conn.OnStateChange(func(_, next models.MConnectionState) {
		app.srv.BroadcastState(next)
	})

	go func() {
		if err := app.srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	if conf.GrpcPort == 0 {
		return
	}
	grpcLogger := appLogger.Named("ControlService")
	controlService := grpc_control.NewControlService(conf, configPath, app.registry, app.conn, app.marketOpen, grpcLogger)
	app.grpcSrv = grpc_control.NewGRPCServer(controlService, grpcLogger)

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort))
	if err != nil {
		appLogger.Critical("failed to listen for gRPC: %v", err)
		return
	}
	go func() {
		if err := grpc_control.Serve(app.grpcSrv, lis, grpcLogger); err != nil {
			appLogger.Error("failed to serve gRPC: %v", err)
		}
	}()
}

// -----------------------------------------------------------------------------

func (app *application) stopServers() {
	if app.srv != nil {
		if err := app.srv.Stop(); err != nil {
			app.srv.Logger.Warning("Server shutdown: %v", err)
		}
	}
	if app.grpcSrv != nil {
		app.grpcSrv.GracefulStop()
	}
}
