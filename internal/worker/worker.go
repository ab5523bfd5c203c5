package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/logging"
	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/store"
)

// Result is what a fetch produced. Exactly one of NeedsUpload, Options or
// Image is expected to be set.
type Result struct {
	Options     []string
	Image       []byte
	NeedsUpload bool
}

// Fetcher answers one request on behalf of the worker.
type Fetcher interface {
	Fetch(ctx context.Context, req bridge.Request) (Result, error)
}

type FetcherFunc func(ctx context.Context, req bridge.Request) (Result, error)

func (f FetcherFunc) Fetch(ctx context.Context, req bridge.Request) (Result, error) {
	return f(ctx, req)
}

type Action string

const (
	ActionIdle       Action = "idle"
	ActionRestarted  Action = "restarted"
	ActionOptions    Action = "waiting_user_selection"
	ActionCompleted  Action = "completed"
	ActionUpload     Action = "miniapp_waiting_upload"
	ActionTimeout    Action = "timeout"
	ActionSuperseded Action = "superseded"
)

var ErrEmptyResult = errors.New("fetch returned nothing")

type Options struct {
	Paths bridge.Paths
	// Target limits the worker to requests addressed to it. Empty serves all.
	Target       string
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Worker is the reference worker half of the bridge protocol. It acts on a
// request at most once, keyed by the request timestamp.
type Worker struct {
	store        store.Store
	fetcher      Fetcher
	paths        bridge.Paths
	target       string
	fetchTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics

	lastRequest float64
	lastCommand float64
}

func New(st store.Store, fetcher Fetcher, opts Options) *Worker {
	paths := opts.Paths
	if paths.Request == "" {
		paths = bridge.NewPaths("bridge")
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := logging.OrNop(opts.Logger)
	return &Worker{
		store:        st,
		fetcher:      fetcher,
		paths:        paths,
		target:       strings.TrimSpace(opts.Target),
		fetchTimeout: timeout,
		logger:       logger.With(zap.String("instance", uuid.NewString())),
		metrics:      opts.Metrics,
	}
}

// Tick handles a pending restart command, then at most one request.
func (w *Worker) Tick(ctx context.Context) (Action, error) {
	restarted, err := w.checkRestart(ctx)
	if err != nil {
		return ActionIdle, err
	}
	if restarted {
		w.metrics.WorkerAction(string(ActionRestarted))
		return ActionRestarted, nil
	}

	doc, err := w.store.Get(ctx, w.paths.Request)
	if err != nil {
		return ActionIdle, err
	}
	if doc == nil {
		return ActionIdle, nil
	}
	req := bridge.RequestFromDocument(doc)
	if req.Timestamp <= w.lastRequest {
		return ActionIdle, nil
	}
	if w.target != "" && req.TargetWorker != "" && req.TargetWorker != w.target {
		return ActionIdle, nil
	}
	if req.Status != bridge.StatusPending && req.Status != bridge.StatusSelectionMade {
		return ActionIdle, nil
	}
	w.lastRequest = req.Timestamp

	action, err := w.handle(ctx, req)
	if err != nil {
		return action, err
	}
	w.metrics.WorkerAction(string(action))
	return action, nil
}

func (w *Worker) checkRestart(ctx context.Context) (bool, error) {
	doc, err := w.store.Get(ctx, w.paths.SystemCommand)
	if err != nil || doc == nil {
		return false, err
	}
	command := bridge.SystemCommandFromDocument(doc)
	if command.Command != bridge.CommandRestart || command.Timestamp <= w.lastCommand {
		return false, nil
	}
	w.lastCommand = command.Timestamp
	w.lastRequest = 0
	w.logger.Info("restart command received", zap.Float64("timestamp", command.Timestamp))
	return true, nil
}

func (w *Worker) handle(ctx context.Context, req bridge.Request) (Action, error) {
	logger := w.logger.With(
		zap.String("symbol", req.Symbol),
		zap.String("type", req.Type),
		zap.String("selection", req.Selection),
	)
	if err := w.setStatus(ctx, bridge.StatusProcessing); err != nil {
		return ActionIdle, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	result, fetchErr := w.fetcher.Fetch(fetchCtx, req)
	cancel()
	if ctx.Err() != nil {
		return ActionIdle, ctx.Err()
	}

	superseded, err := w.superseded(ctx, req.Timestamp)
	if err != nil {
		return ActionIdle, err
	}
	if superseded {
		logger.Info("request replaced while fetching; dropping result")
		return ActionSuperseded, nil
	}

	if fetchErr == nil && !result.NeedsUpload && len(result.Options) == 0 && len(result.Image) == 0 {
		fetchErr = ErrEmptyResult
	}
	switch {
	case fetchErr != nil:
		logger.Warn("fetch failed", zap.Error(fetchErr))
		return ActionTimeout, w.setStatus(ctx, bridge.StatusTimeout)
	case result.NeedsUpload:
		return ActionUpload, w.setStatus(ctx, bridge.StatusMiniAppWaitingUpload)
	case len(result.Options) > 0:
		response := bridge.Response{Options: result.Options}
		if err := w.store.Set(ctx, w.paths.Response, response.Document()); err != nil {
			return ActionIdle, fmt.Errorf("write options: %w", err)
		}
		logger.Info("options offered", zap.Strings("options", result.Options))
		return ActionOptions, w.setStatus(ctx, bridge.StatusWaitingUserSelection)
	default:
		response := bridge.Response{ImageBase64: base64.StdEncoding.EncodeToString(result.Image)}
		if err := w.store.Set(ctx, w.paths.Response, response.Document()); err != nil {
			return ActionIdle, fmt.Errorf("write image: %w", err)
		}
		logger.Info("image delivered", zap.Int("bytes", len(result.Image)))
		return ActionCompleted, w.setStatus(ctx, bridge.StatusCompleted)
	}
}

func (w *Worker) superseded(ctx context.Context, timestamp float64) (bool, error) {
	doc, err := w.store.Get(ctx, w.paths.Request)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return true, nil
	}
	return bridge.RequestFromDocument(doc).Timestamp != timestamp, nil
}

func (w *Worker) setStatus(ctx context.Context, status bridge.Status) error {
	if err := w.store.Update(ctx, w.paths.Request, store.Document{"status": string(status)}); err != nil {
		return fmt.Errorf("write status %s: %w", status, err)
	}
	return nil
}

// Run ticks on a fixed cadence until ctx is done. Tick errors are logged.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("worker tick failed", zap.Error(err))
			}
		}
	}
}
