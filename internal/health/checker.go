// Package health reports readiness of the service's backing stores over HTTP and
// the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenant-auth-service/internal/logging"
)

// Pinger is a dependency whose reachability gates readiness (e.g. Postgres, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker pings every named dependency with a per-check timeout.
type Checker struct {
	pingers map[string]Pinger
	timeout time.Duration
}

// NewChecker returns a Checker. Nil pingers are skipped. timeout <= 0 defaults to 2s.
func NewChecker(pingers map[string]Pinger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	m := make(map[string]Pinger, len(pingers))
	for name, p := range pingers {
		if p != nil {
			m[name] = p
		}
	}
	return &Checker{pingers: m, timeout: timeout}
}

// Check returns nil when every dependency answers, else the joined failures.
func (c *Checker) Check(ctx context.Context) error {
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.pingers[name].Ping(pctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Handler serves GET /healthz: 200 {"status":"ok"} or 503 with the failing dependencies.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := c.Check(ctx.Request.Context()); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Sync sets the overall gRPC serving status from one Check.
func (c *Checker) Sync(ctx context.Context, hs *grpchealth.Server, log logging.Logger) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		log.Warn(ctx, "health check failed", "error", err)
	}
	hs.SetServingStatus("", status)
}

// Watch calls Sync every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, hs *grpchealth.Server, interval time.Duration, log logging.Logger) {
	c.Sync(ctx, hs, log)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sync(ctx, hs, log)
		}
	}
}
