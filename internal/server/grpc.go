// Package server assembles the HTTP router and the gRPC health server.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/server/interceptors"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// NewGRPCServer returns a gRPC server instrumented with otelgrpc that serves the
// standard health service. The caller drives the returned health server's status.
func NewGRPCServer(log logging.Logger, opts ...grpc.ServerOption) (*grpc.Server, *grpchealth.Server) {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(log, map[string]bool{healthCheckMethod: true})),
	}, opts...)
	s := grpc.NewServer(opts...)
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}
