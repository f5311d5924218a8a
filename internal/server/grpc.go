package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer serves the standard health service.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCServer creates a gRPC server reporting SERVING for service.
func NewGRPCServer(service string) *GRPCServer {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable server reflection for debugging
	reflection.Register(srv)

	return &GRPCServer{server: srv, health: healthServer}
}

// SetServing flips the health status of every registered service.
func (g *GRPCServer) SetServing(serving bool) {
	if serving {
		g.health.Resume()
		return
	}
	g.health.Shutdown()
}

// Serve blocks serving on lis.
func (g *GRPCServer) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return g.server.Serve(lis)
}

// Listen opens a TCP listener on port.
func Listen(port string) (net.Listener, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener: %w", err)
	}
	return lis, nil
}

// Stop drains in-flight RPCs, forcing a stop when ctx ends first.
func (g *GRPCServer) Stop(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		g.server.Stop()
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	}
}
