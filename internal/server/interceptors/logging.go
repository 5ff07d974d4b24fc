// Package interceptors holds gRPC server interceptors.
package interceptors

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"tenant-auth-service/internal/logging"
)

// LoggingUnary returns a unary server interceptor that logs each RPC's method, code and
// duration. skipMethods is the set of full method names not to log (e.g. health probes).
func LoggingUnary(log logging.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		args := []any{"method", info.FullMethod, "code", code.String(), "duration_ms", time.Since(start).Milliseconds(), "client_ip", ClientIP(ctx)}
		if code == codes.OK {
			log.Debug(ctx, "grpc request", args...)
		} else {
			log.Warn(ctx, "grpc request", append(args, "error", err)...)
		}
		return resp, err
	}
}

// ClientIP returns the peer IP of the RPC, or "" when unknown.
func ClientIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
