package grpc_control

import (
	"context"
	"net"
	"time"

	"market-stream/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// NewGRPCServer builds a gRPC server with the control service and a logging
// interceptor.
func NewGRPCServer(svc *ControlService, log *logger.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
	RegisterControlServer(srv, svc)
	return srv
}

// Serve blocks until the listener fails or the server stops.
func Serve(srv *grpc.Server, lis net.Listener, log *logger.Logger) error {
	log.Info("gRPC control listening on %s", lis.Addr())
	return srv.Serve(lis)
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warning("gRPC %s failed after %v: %s", info.FullMethod, time.Since(start), status.Convert(err).Message())
		} else {
			log.Debug("gRPC %s ok in %v", info.FullMethod, time.Since(start))
		}
		return resp, err
	}
}
