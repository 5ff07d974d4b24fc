package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"tenant-auth-service/internal/audit"
	"tenant-auth-service/internal/config"
	"tenant-auth-service/internal/db"
	"tenant-auth-service/internal/health"
	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/metrics"
	principalrepo "tenant-auth-service/internal/principal/repository"
	refreshrepo "tenant-auth-service/internal/refreshtoken/repository"
	"tenant-auth-service/internal/security"
	"tenant-auth-service/internal/server"
	"tenant-auth-service/internal/server/middleware"
	sessionhandler "tenant-auth-service/internal/session/handler"
	"tenant-auth-service/internal/session/service"
	"tenant-auth-service/internal/telemetry/otel"
)

const serviceName = "tenant-auth-service"

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "otel shutdown", "error", err)
		}
	}()

	keys, err := security.LoadKeyProvider(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return err
	}
	tokens, err := security.NewTokenSigner(keys, []byte(cfg.RefreshTokenSecret), cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return err
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	pingers := map[string]health.Pinger{"postgres": health.PingerFunc(conn.PingContext)}
	var store refreshrepo.Store
	switch cfg.RefreshStore {
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		rs := refreshrepo.NewRedisStore(client, "", cfg.RefreshTTL())
		pingers["redis"] = rs
		store = rs
	default:
		store = refreshrepo.NewPostgresStore(conn, cfg.RefreshTTL())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	auditLogger := audit.NewLogger(providers.LoggerProvider.Logger(serviceName+"/audit"), logger, middleware.ClientIP)
	sessions := service.NewCoordinator(
		principalrepo.NewPostgresRepository(conn),
		store,
		security.NewHasher(cfg.BcryptCost),
		tokens,
		service.WithAudit(auditLogger),
		service.WithMetrics(m),
		service.WithLogger(logger.With("component", "session")),
		service.WithStoreTimeout(cfg.StoreTimeoutDuration()),
		service.WithRotationInTx(cfg.RefreshRotateInTx),
	)

	checker := health.NewChecker(pingers, 2*time.Second)
	router, err := server.NewRouter(server.RouterConfig{
		Log:            logger,
		Metrics:        m,
		Gatherer:       reg,
		Health:         checker,
		TrustedProxies: cfg.TrustedProxyList(),
		Routes: []server.Routes{sessionhandler.New(sessionhandler.Config{
			Sessions:     sessions,
			Tokens:       tokens,
			PublicKeyPEM: keys.PublicKeyPEM(),
			Cookies:      sessionhandler.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure},
			Limiter:      middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m),
			Log:          logger,
		})},
	})
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, healthSrv := server.NewGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go checker.Watch(ctx, healthSrv, 10*time.Second, logger)

	errc := make(chan error, 2)
	go func() {
		logger.Info(ctx, "gRPC health server listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Info(ctx, "HTTP server listening", "addr", cfg.HTTPAddr, "refresh_store", cfg.RefreshStore)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn(shutdownCtx, "http shutdown", "error", serr)
	}
	grpcSrv.GracefulStop()
	logger.Info(shutdownCtx, "stopped")
	return err
}
