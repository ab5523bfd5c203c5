package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/catalog"
	"github.com/borsabridge/control-plane/internal/config"
	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/session"
	"github.com/borsabridge/control-plane/internal/store"
	"github.com/borsabridge/control-plane/internal/store/memory"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

const sampleReport = "## 1. [OLUMLU] Trend\nYukari yonlu.\n## 2. Riskler\nDusus riski.\n"

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context) []analysis.ProbeResult {
	args := m.Called(ctx)
	var result []analysis.ProbeResult
	if value := args.Get(0); value != nil {
		result = value.([]analysis.ProbeResult)
	}
	return result
}

type analyzerFunc func(ctx context.Context, req analysis.Request, onProgress func(float64)) (string, error)

func (f analyzerFunc) Run(ctx context.Context, req analysis.Request, onProgress func(float64)) (string, error) {
	return f(ctx, req, onProgress)
}

func staticAnalyzer(text string, err error) session.Analyzer {
	return analyzerFunc(func(context.Context, analysis.Request, func(float64)) (string, error) {
		return text, err
	})
}

type harness struct {
	server   *Server
	session  *session.Session
	store    *memory.MemoryStore
	paths    bridge.Paths
	registry *prometheus.Registry
}

type harnessOptions struct {
	analyzer session.Analyzer
	pinger   store.Pinger
	keys     *analysis.KeyPool
	prober   KeyProber
	cfg      config.Config
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	st := memory.New()
	registry := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(registry)
	cat := catalog.Default()
	paths := bridge.NewPaths("bridge")
	engine := bridge.New(st, bridge.Options{Paths: paths, RequiresSymbol: cat.RequiresSymbol, Metrics: m})
	sess, err := session.New(session.Options{Engine: engine, Catalog: cat, ActiveBot: "xFinans", Analyzer: opts.analyzer})
	require.NoError(t, err)

	cfg := opts.cfg
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = analysis.DefaultModel
		cfg.GeminiLiteModel = analysis.DefaultLiteModel
	}
	var pinger store.Pinger = st
	if opts.pinger != nil {
		pinger = opts.pinger
	}
	server := NewServer(Deps{
		Session:  sess,
		Store:    pinger,
		Keys:     opts.keys,
		KeyFile:  analysis.KeyFile{Path: cfg.GeminiKeyFile},
		Prober:   opts.prober,
		Gatherer: registry,
	}, cfg)
	return &harness{server: server, session: sess, store: st, paths: paths, registry: registry}
}

func newTestServer(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(h.server.Router())
	t.Cleanup(server.Close)
	return server
}

// workerWrites plays the worker side of one protocol step.
func (h *harness) workerWrites(t *testing.T, status bridge.Status, response store.Document) {
	t.Helper()
	ctx := context.Background()
	if response != nil {
		require.NoError(t, h.store.Set(ctx, h.paths.Response, response))
	}
	require.NoError(t, h.store.Update(ctx, h.paths.Request, store.Document{"status": string(status)}))
	_, err := h.session.Poll(ctx)
	require.NoError(t, err)
}
