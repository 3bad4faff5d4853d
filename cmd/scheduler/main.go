// Command scheduler runs a scheduler-only relay node: it claims due
// schedules and materializes jobs, but never executes one itself.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/relaysched/relay"
	"github.com/relaysched/relay/broker"
	"github.com/relaysched/relay/broker/localbroker"
	"github.com/relaysched/relay/broker/redisbroker"
	"github.com/relaysched/relay/config"
	"github.com/relaysched/relay/internal/health"
	ctxlog "github.com/relaysched/relay/internal/log"
	"github.com/relaysched/relay/internal/metrics"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/store/memstore"
	"github.com/relaysched/relay/store/pgstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	b, closeBroker, err := openBroker(cfg)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	defer closeBroker()

	logger.Info("store and broker connected", "backend", cfg.Backend, "broker_backend", cfg.BrokerBackend)

	metrics.Register()
	checker := health.NewChecker(st, logger, prometheus.DefaultRegisterer)

	s, err := relay.Configure(relay.Options{
		Store:         st,
		Broker:        b,
		NodeID:        cfg.NodeID,
		RunScheduler:  true,
		PollInterval:  cfg.PollInterval(),
		LeaseDuration: cfg.LeaseDuration(),
		BatchLimit:    cfg.BatchLimit,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("configure: %v", err)
	}

	if err := s.StartInBackground(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("scheduler shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	if err := s.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler loop shutdown", "error", err)
	}
	s.WaitUntilStopped()

	logger.Info("scheduler shut down")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := pgstore.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

func openBroker(cfg *config.Config) (broker.Broker, func(), error) {
	switch cfg.BrokerBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b, err := redisbroker.New(client, redisbroker.DefaultChannel)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return b, func() { _ = client.Close() }, nil
	default:
		return localbroker.New(), func() {}, nil
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
