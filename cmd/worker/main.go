// Command worker runs a worker-only relay node: it claims due jobs and
// executes them, but never advances a schedule itself. The teacher
// repo ran its dispatcher, worker, and reaper out of one process
// (cmd/scheduler); this binary is the split-out half of that, matching
// how a production deployment is meant to scale scheduler and worker
// capacity independently.
package main

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/relaysched/relay/internal/workerloop/httptask"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/store/memstore"
	"github.com/relaysched/relay/store/pgstore"
	"github.com/relaysched/relay/task"
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
		Store:             st,
		Broker:            b,
		NodeID:            cfg.NodeID,
		RunWorker:         true,
		PollInterval:      cfg.PollInterval(),
		LeaseDuration:     cfg.LeaseDuration(),
		BatchLimit:        cfg.BatchLimit,
		WorkerConcurrency: cfg.WorkerConcurrency,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("configure: %v", err)
	}

	registerTasks(ctx, s)

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
	logger.Info("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	if err := s.Stop(shutdownCtx); err != nil {
		logger.Error("worker loop shutdown", "error", err)
	}
	s.WaitUntilStopped()

	logger.Info("worker shut down")
}

// registerTasks wires every task this worker knows how to run. A real
// fleet would load these from a plugin registry or a shared library
// import; the IDs here match cmd/seed so a seeded store has a worker
// behind every task it references.
func registerTasks(ctx context.Context, s *relay.Scheduler) {
	get := httptask.New(http.MethodGet, "", httptask.WithTimeout(30*time.Second))
	if err := s.AddTask(ctx, task.Task{ID: "http_get", FuncReference: "httptask.get"}, get, store.ConflictReplace); err != nil {
		log.Fatalf("register http_get task: %v", err)
	}

	post := httptask.New(http.MethodPost, "", httptask.WithTimeout(30*time.Second))
	if err := s.AddTask(ctx, task.Task{ID: "http_post", FuncReference: "httptask.post"}, post, store.ConflictReplace); err != nil {
		log.Fatalf("register http_post task: %v", err)
	}

	alwaysFail := func(context.Context, []any, map[string]any) (any, error) {
		return nil, fmt.Errorf("seed: always_fail task invoked")
	}
	if err := s.AddTask(ctx, task.Task{ID: "always_fail", FuncReference: "seed.alwaysFail"}, alwaysFail, store.ConflictReplace); err != nil {
		log.Fatalf("register always_fail task: %v", err)
	}
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
