package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/config"
	"github.com/borsabridge/control-plane/internal/logging"
	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/store/backend"
	"github.com/borsabridge/control-plane/internal/worker"
)

type runner interface {
	Run(ctx context.Context, interval time.Duration) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger  = logging.New
	openStore  = backend.Open
	checkStore = backend.Check
	newWorker  = func(st backend.Backend, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) runner {
		return worker.New(st, worker.NewFixtureFetcher(cfg.WorkerFixtureDir, cfg.WorkerUploadTypes), worker.Options{
			Paths:        bridge.NewPaths(cfg.BridgeRoot),
			Target:       cfg.WorkerID,
			FetchTimeout: cfg.WorkerFetchTimeout,
			Logger:       logger,
			Metrics:      m,
		})
	}
	serveMetrics  = listenMetrics
	notifyContext = signal.NotifyContext
)

// listenMetrics serves the registry on addr until ctx is done.
func listenMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !backend.IsShared(cfg.StoreBackend) {
		return fmt.Errorf("standalone worker needs a shared store backend (redis or postgres), got %q", cfg.StoreBackend)
	}
	logger := newLogger(cfg.LogFilePath, cfg.Environment == "production").Named("worker")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(backend.Settings{
		Kind:        cfg.StoreBackend,
		RedisURL:    cfg.RedisURL,
		PostgresURL: cfg.PostgresURL,
	})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() { _ = st.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = checkStore(pingCtx, st)
	pingCancel()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(registry)
	if cfg.WorkerMetricsAddr != "" {
		go func() {
			if err := serveMetrics(ctx, cfg.WorkerMetricsAddr, registry); err != nil {
				logger.Error("metrics listener stopped", zap.String("addr", cfg.WorkerMetricsAddr), zap.Error(err))
			}
		}()
	}

	logger.Info("reference worker started",
		zap.String("store", cfg.StoreBackend),
		zap.String("target", cfg.WorkerID),
		zap.String("fixtures", cfg.WorkerFixtureDir),
		zap.String("metrics", cfg.WorkerMetricsAddr),
	)
	return newWorker(st, cfg, logger, m).Run(ctx, cfg.WorkerPollInterval)
}
