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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/api"
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/catalog"
	"github.com/borsabridge/control-plane/internal/config"
	"github.com/borsabridge/control-plane/internal/logging"
	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/prompt"
	"github.com/borsabridge/control-plane/internal/secrets"
	"github.com/borsabridge/control-plane/internal/session"
	"github.com/borsabridge/control-plane/internal/store/backend"
	"github.com/borsabridge/control-plane/internal/worker"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger   = logging.New
	openStore   = backend.Open
	loadCatalog = catalog.Load
	loadKeyFile = func(file analysis.KeyFile) ([]string, error) {
		return file.Load()
	}
	resolvePrompt = prompt.Resolve
	newServer     = func(deps api.Deps, cfg config.Config) server {
		return api.NewServer(deps, cfg)
	}
	notifyContext = signal.NotifyContext
)

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
	logger := newLogger(cfg.LogFilePath, cfg.Environment == "production")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNewMetrics(registry)

	st, err := openStore(backend.Settings{
		Kind:        cfg.StoreBackend,
		RedisURL:    cfg.RedisURL,
		PostgresURL: cfg.PostgresURL,
	})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() { _ = st.Close() }()

	cat, err := loadCatalog(cfg.BotCatalogPath)
	if err != nil {
		return err
	}

	secret, err := secrets.ParseKey(cfg.KeyFileSecret)
	if err != nil {
		return err
	}
	keyFile := analysis.KeyFile{Path: cfg.GeminiKeyFile, Secret: secret}
	fileKeys, err := loadKeyFile(keyFile)
	if err != nil {
		logger.Warn("key file unreadable", zap.String("path", cfg.GeminiKeyFile), zap.Error(err))
	}
	keys := analysis.NewKeyPool(append(append([]string(nil), cfg.GeminiAPIKeys...), fileKeys...), cfg.KeyCooldown)
	if keys.Len() == 0 {
		logger.Warn("no Gemini API keys configured; analysis will fail until keys are added")
	}
	instruction, promptSource, err := resolvePrompt(cfg.AnalysisPromptPath, analysis.ReportInstruction)
	if err != nil {
		return err
	}
	logger.Info("analysis prompt loaded", zap.String("source", promptSource))
	gemini := analysis.NewGemini(keys, analysis.GeminiOptions{Logger: logger.Named("gemini")})
	analyzer := analysis.NewAnalyzer(gemini.Source, analysis.Config{
		Instruction:   instruction,
		MaxRetries:    cfg.StreamMaxRetries,
		RetryBackoff:  cfg.StreamRetryBackoff,
		EstimateChars: cfg.ProgressEstimateChars,
		DefaultModel:  cfg.GeminiModel,
	}, logger.Named("analysis"), m)

	paths := bridge.NewPaths(cfg.BridgeRoot)
	engine := bridge.New(st, bridge.Options{
		Paths:              paths,
		SettleDelay:        cfg.SelectionSettleDelay,
		DecodeFailureLimit: cfg.DecodeFailureLimit,
		RequiresSymbol:     cat.RequiresSymbol,
		Logger:             logger.Named("bridge"),
		Metrics:            m,
	})
	sess, err := session.New(session.Options{
		Engine:       engine,
		Catalog:      cat,
		ActiveBot:    cfg.ActiveBot,
		Analyzer:     analyzer,
		PollInterval: cfg.PollInterval,
		Logger:       logger.Named("session"),
	})
	if err != nil {
		return err
	}
	go func() { _ = sess.Run(ctx) }()

	// A memory store cannot be reached by another process, so the reference
	// worker runs in-process.
	if !backend.IsShared(cfg.StoreBackend) {
		w := worker.New(st, worker.NewFixtureFetcher(cfg.WorkerFixtureDir, cfg.WorkerUploadTypes), worker.Options{
			Paths:        paths,
			FetchTimeout: cfg.WorkerFetchTimeout,
			Logger:       logger.Named("worker"),
			Metrics:      m,
		})
		go func() { _ = w.Run(ctx, cfg.WorkerPollInterval) }()
		logger.Info("embedded reference worker started", zap.String("fixtures", cfg.WorkerFixtureDir))
	}

	srv := newServer(api.Deps{
		Session:  sess,
		Store:    st,
		Keys:     keys,
		KeyFile:  keyFile,
		Prober:   &analysis.Prober{Checker: gemini, Keys: keys, Primary: cfg.GeminiModel, Lite: cfg.GeminiLiteModel},
		Gatherer: registry,
		Logger:   logger.Named("api"),
	}, cfg)

	addr := fmt.Sprintf(":%s", cfg.ControlPlanePort)
	logger.Info("bridge control plane listening",
		zap.String("addr", addr),
		zap.String("store", cfg.StoreBackend),
		zap.String("active_bot", sess.Bot().Key),
	)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
