// Package grpc serves the internal gRPC surface: the standard health service,
// reporting whether this instance is accepting realtime traffic.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"im-service/internal/observability"
)

// ServiceName is the health key for the realtime core.
const ServiceName = "im.Realtime"

type Server struct {
	srv    *gogrpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := gogrpc.NewServer(
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{srv: srv, health: hs, logger: logger.With("component", "grpc")}
}

// Serve blocks until ctx is done, then drains in-flight calls.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(lis)
	}()
	s.logger.Info("grpc listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.srv.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
