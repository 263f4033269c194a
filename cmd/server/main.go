package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/page-tracker/internal/config"
	"github.com/iliyamo/page-tracker/internal/database"
	"github.com/iliyamo/page-tracker/internal/handler"
	"github.com/iliyamo/page-tracker/internal/logger"
	"github.com/iliyamo/page-tracker/internal/metrics"
	"github.com/iliyamo/page-tracker/internal/middleware"
	"github.com/iliyamo/page-tracker/internal/queue"
	"github.com/iliyamo/page-tracker/internal/repository"
	"github.com/iliyamo/page-tracker/internal/router"
	"github.com/iliyamo/page-tracker/internal/service"
)

func main() {
	cfg, cfgErr := config.Load()
	level := cfg.LogLevel
	if cfgErr != nil || level == "" {
		level = "info"
	}
	zl := logger.Must(logger.New(level))
	defer func() { _ = zl.Sync() }()
	if cfgErr != nil {
		zl.Fatal("invalid configuration", zap.Error(cfgErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)
	opts := repository.CounterOptions{Timeout: cfg.Counter.Timeout, Observe: met.ObserveStoreCall}

	// rdb also backs the rate limiter, so it exists for either backend when
	// rate limiting is on.
	var rdb *redis.Client
	if cfg.Backend == config.BackendRedis || cfg.RateLimit.Enabled {
		rdb = config.NewRedisClient(cfg.Redis, cfg.Counter.Timeout)
		defer func() { _ = rdb.Close() }()
	}

	var store repository.CounterStore
	var mysqlRepo *repository.MySQLCounterRepo
	switch cfg.Backend {
	case config.BackendMySQL:
		db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name, cfg.Counter.Timeout)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		mysqlRepo = repository.NewMySQLCounterRepo(db, opts)
		store = mysqlRepo
	default:
		store = repository.NewRedisCounterRepo(rdb, opts)
	}

	if err := waitForStore(ctx, store, cfg.StartupWait, zl); err != nil {
		zl.Warn("counter store not reachable yet, serving 503 until it is",
			zap.String("backend", cfg.Backend), zap.String("addr", cfg.Counter.Addr()), zap.Error(err))
	} else if mysqlRepo != nil {
		if err := mysqlRepo.EnsureSchema(ctx); err != nil {
			zl.Warn("could not create counters table", zap.Error(err))
		}
	}

	var events handler.EventPublisher
	if cfg.Events.Enabled {
		pub := service.NewPublisher(cfg.Events.RabbitURL, zl)
		defer func() { _ = pub.Close() }()
		events = pub
		if cfg.Events.RunConsumer {
			go func() {
				if err := queue.StartPageViewConsumer(ctx, cfg.Events.RabbitURL, cfg.Events.LogPath, zl); err != nil && !errors.Is(err, context.Canceled) {
					zl.Error("page-view consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	views, err := handler.NewViewHandler(store, cfg.Counter.Key, events, met, zl)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID(), middleware.RequestLogger(zl), echomw.Recover())

	var limiterClient redis.Scripter
	if rdb != nil {
		limiterClient = rdb
	}
	router.RegisterRoutes(e, views, &handler.ReadyHandler{Store: store}, middleware.NewTokenBucket(cfg.RateLimit, limiterClient, zl))
	router.RegisterMetrics(e, reg)
	if cfg.Auth.Enabled() {
		router.RegisterAdmin(e, handler.NewAuthHandler(cfg.Auth), &handler.CounterHandler{Store: store, Log: zl}, cfg.Auth.JWTSecret)
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env),
			zap.String("backend", cfg.Backend), zap.String("counter_key", cfg.Counter.Key))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	views.Wait()
	return nil
}

// waitForStore pings the store until it answers or wait elapses.
func waitForStore(ctx context.Context, store repository.CounterStore, wait time.Duration, zl *zap.Logger) error {
	if wait <= 0 {
		return store.Ping(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return retry.Do(
		func() error { return store.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			zl.Debug("waiting for counter store", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}
