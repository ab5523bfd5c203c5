package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/config"
	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/store/backend"
)

type stubRunner struct {
	err      error
	interval time.Duration
}

func (s *stubRunner) Run(_ context.Context, interval time.Duration) error {
	s.interval = interval
	return s.err
}

func captureWorkerDeps() func() {
	origLoadConfig := loadConfig
	origNewLogger := newLogger
	origOpenStore := openStore
	origCheckStore := checkStore
	origNewWorker := newWorker
	origServeMetrics := serveMetrics
	origNotifyContext := notifyContext

	return func() {
		loadConfig = origLoadConfig
		newLogger = origNewLogger
		openStore = origOpenStore
		checkStore = origCheckStore
		newWorker = origNewWorker
		serveMetrics = origServeMetrics
		notifyContext = origNotifyContext
	}
}

func stubWorkerDeps(cfg config.Config, stub *stubRunner) {
	loadConfig = func() (config.Config, error) {
		return cfg, nil
	}
	newLogger = func(string, bool) *zap.Logger {
		return zap.NewNop()
	}
	openStore = func(backend.Settings) (backend.Backend, error) {
		return backend.Open(backend.Settings{Kind: backend.Memory})
	}
	checkStore = func(context.Context, backend.Backend) error {
		return nil
	}
	newWorker = func(backend.Backend, config.Config, *zap.Logger, *metrics.Metrics) runner {
		return stub
	}
	serveMetrics = func(context.Context, string, prometheus.Gatherer) error {
		return nil
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	r := &stubRunner{}
	stubWorkerDeps(config.Config{StoreBackend: "redis", WorkerPollInterval: 250 * time.Millisecond}, r)

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if r.interval != 250*time.Millisecond {
		t.Fatalf("interval = %v", r.interval)
	}
}

func TestRunRejectsMemoryBackend(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(config.Config{StoreBackend: "memory"}, &stubRunner{})

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunStoreFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		restore := captureWorkerDeps()
		t.Cleanup(restore)

		stubWorkerDeps(config.Config{StoreBackend: "postgres"}, &stubRunner{})
		openStore = func(backend.Settings) (backend.Backend, error) {
			return nil, errors.New("bridge_documents table not found")
		}
		if err := run(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("ping", func(t *testing.T) {
		restore := captureWorkerDeps()
		t.Cleanup(restore)

		stubWorkerDeps(config.Config{StoreBackend: "redis"}, &stubRunner{})
		checkStore = func(context.Context, backend.Backend) error {
			return errors.New("connection refused")
		}
		if err := run(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestRunWorkerError(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(config.Config{StoreBackend: "redis"}, &stubRunner{err: errors.New("boom")})
	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDefaultNewWorker(t *testing.T) {
	st, err := backend.Open(backend.Settings{Kind: backend.Memory})
	if err != nil {
		t.Fatal(err)
	}
	if w := newWorker(st, config.Config{BridgeRoot: "bridge", WorkerFixtureDir: t.TempDir()}, zap.NewNop(), nil); w == nil {
		t.Fatal("expected worker")
	}
}

func TestRunRecordsWorkerMetrics(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(config.Config{StoreBackend: "redis", WorkerMetricsAddr: ":9101"}, &stubRunner{})

	type listener struct {
		addr     string
		gatherer prometheus.Gatherer
	}
	started := make(chan listener, 1)
	serveMetrics = func(_ context.Context, addr string, g prometheus.Gatherer) error {
		started <- listener{addr: addr, gatherer: g}
		return nil
	}
	var recorded *metrics.Metrics
	newWorker = func(_ backend.Backend, _ config.Config, _ *zap.Logger, m *metrics.Metrics) runner {
		recorded = m
		return &stubRunner{}
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if recorded == nil {
		t.Fatal("expected worker metrics to be wired")
	}
	recorded.WorkerAction(string(bridge.StatusCompleted))

	var got listener
	select {
	case got = <-started:
	case <-time.After(time.Second):
		t.Fatal("metrics listener was not started")
	}
	if got.addr != ":9101" {
		t.Fatalf("metrics addr = %q", got.addr)
	}
	count, err := testutil.GatherAndCount(got.gatherer, "bridge_worker_actions_total")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("worker action series = %d, want 1", count)
	}
}

func TestRunWithoutMetricsAddrSkipsListener(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	stubWorkerDeps(config.Config{StoreBackend: "redis"}, &stubRunner{})
	serveMetrics = func(context.Context, string, prometheus.Gatherer) error {
		t.Error("metrics listener started without an address")
		return nil
	}
	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
