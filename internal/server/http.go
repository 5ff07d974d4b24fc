package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenant-auth-service/internal/health"
	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/metrics"
	"tenant-auth-service/internal/server/middleware"
)

// Routes mounts a feature's routes on the router.
type Routes interface {
	Register(r gin.IRouter)
}

// RouterConfig groups the router's dependencies. Nil fields disable the matching route.
type RouterConfig struct {
	Log     logging.Logger
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics.
	Gatherer prometheus.Gatherer
	Health   *health.Checker
	Routes   []Routes
	// TrustedProxies lists the proxies whose X-Forwarded-For is believed. Nil trusts none.
	TrustedProxies []string
}

// NewRouter returns the gin engine serving /healthz, /metrics and the feature routes.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Log == nil {
		cfg.Log = logging.Nop()
	}
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), middleware.RequestLogger(cfg.Log, cfg.Metrics))
	if cfg.Health != nil {
		r.GET("/healthz", cfg.Health.Handler())
	}
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	for _, routes := range cfg.Routes {
		routes.Register(r)
	}
	return r, nil
}
