package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/metrics"
	"github.com/borsabridge/control-plane/internal/store"
)

var (
	ErrSymbolRequired    = errors.New("symbol is required for this request type")
	ErrTypeRequired      = errors.New("request type is required")
	ErrSelectionRequired = errors.New("selection is required")
	ErrInvalidTransition = errors.New("operation not allowed in current step")
)

// TransitionError reports an operation attempted from the wrong step.
type TransitionError struct {
	Op   string
	Step Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.Step)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Outcome summarizes what one Poll observed.
type Outcome string

const (
	OutcomeNoop       Outcome = "noop"
	OutcomeNotReady   Outcome = "not_ready"
	OutcomeOptions    Outcome = "options"
	OutcomeImage      Outcome = "completed"
	OutcomeUploadWait Outcome = "upload_wait"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCorrupt    Outcome = "corrupt"
)

type PollResult struct {
	Outcome Outcome
	Options []string
	Image   []byte
	// MIME is set alongside Image.
	MIME string
}

type Options struct {
	Paths              Paths
	Stamper            *Stamper
	SettleDelay        time.Duration
	DecodeFailureLimit int
	// RequiresSymbol reports whether a request type needs a ticker.
	RequiresSymbol func(requestType string) bool
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Engine is the controller half of the bridge protocol. It is not safe for
// concurrent use; callers serialize access.
type Engine struct {
	store          store.Store
	paths          Paths
	stamper        *Stamper
	settleDelay    time.Duration
	decodeLimit    int
	requiresSymbol func(string) bool
	logger         *zap.Logger
	metrics        *metrics.Metrics
	sleep          func(ctx context.Context, d time.Duration) error

	flow           Flow
	decodeFailures int
}

func New(st store.Store, opts Options) *Engine {
	paths := opts.Paths
	if paths.Request == "" {
		paths = NewPaths("bridge")
	}
	stamper := opts.Stamper
	if stamper == nil {
		stamper = NewStamper(nil)
	}
	requiresSymbol := opts.RequiresSymbol
	if requiresSymbol == nil {
		requiresSymbol = func(string) bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.DecodeFailureLimit
	if limit < 0 {
		limit = 0
	}
	return &Engine{
		store:          st,
		paths:          paths,
		stamper:        stamper,
		settleDelay:    opts.SettleDelay,
		decodeLimit:    limit,
		requiresSymbol: requiresSymbol,
		logger:         logger,
		metrics:        opts.Metrics,
		sleep:          sleepContext,
		flow:           Flow{Step: StepIdle},
	}
}

func (e *Engine) Flow() Flow {
	return e.flow.clone()
}

// Submit issues a fresh request. The response document is removed before the
// request is written so a stale response is never read as the answer.
func (e *Engine) Submit(ctx context.Context, symbol string, requestType string, targetWorker string) error {
	requestType = strings.TrimSpace(requestType)
	if requestType == "" {
		return ErrTypeRequired
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" && e.requiresSymbol(requestType) {
		return ErrSymbolRequired
	}
	e.flow = Flow{Step: StepProcessing, Symbol: symbol}
	e.decodeFailures = 0

	if err := e.store.Delete(ctx, e.paths.Response); err != nil {
		e.flow = Flow{Step: StepIdle, Symbol: symbol}
		return fmt.Errorf("clear response: %w", err)
	}
	request := Request{
		Symbol:       symbol,
		Type:         requestType,
		TargetWorker: targetWorker,
		Status:       StatusPending,
		Timestamp:    e.stamper.Next(),
	}
	if err := e.store.Set(ctx, e.paths.Request, request.Document()); err != nil {
		e.flow = Flow{Step: StepIdle, Symbol: symbol}
		return fmt.Errorf("write request: %w", err)
	}
	e.metrics.RequestIssued("submit")
	e.logger.Info("request submitted",
		zap.String("symbol", symbol),
		zap.String("type", requestType),
		zap.String("target_worker", targetWorker),
		zap.Float64("timestamp", request.Timestamp),
	)
	return nil
}

// SubmitSelection answers a disambiguation prompt, then waits the settle delay
// so the worker sees the selection before the next poll.
func (e *Engine) SubmitSelection(ctx context.Context, choice string) error {
	if e.flow.Step != StepShowButtons {
		return &TransitionError{Op: "selection", Step: e.flow.Step}
	}
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return ErrSelectionRequired
	}
	fields := store.Document{
		"status":    string(StatusSelectionMade),
		"selection": choice,
		"timestamp": e.stamper.Next(),
	}
	if err := e.store.Update(ctx, e.paths.Request, fields); err != nil {
		return fmt.Errorf("write selection: %w", err)
	}
	e.flow = Flow{Step: StepProcessing, Symbol: e.flow.Symbol}
	e.decodeFailures = 0
	e.metrics.RequestIssued("selection")
	e.logger.Info("selection submitted", zap.String("selection", choice))
	if e.settleDelay > 0 {
		if err := e.sleep(ctx, e.settleDelay); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) Cancel(ctx context.Context) error {
	return e.finishUpload(ctx, "cancel", StatusCancelled)
}

// CompleteManually marks an upload-wait request as satisfied by files the
// operator supplied directly.
func (e *Engine) CompleteManually(ctx context.Context) error {
	return e.finishUpload(ctx, "manual_complete", StatusManualCompleted)
}

func (e *Engine) finishUpload(ctx context.Context, op string, status Status) error {
	if e.flow.Step != StepUploadWait {
		return &TransitionError{Op: op, Step: e.flow.Step}
	}
	fields := store.Document{"status": string(status), "timestamp": e.stamper.Next()}
	if err := e.store.Update(ctx, e.paths.Request, fields); err != nil {
		return fmt.Errorf("write %s: %w", status, err)
	}
	e.flow = Flow{Step: StepIdle, Symbol: e.flow.Symbol}
	e.metrics.RequestIssued(op)
	e.logger.Info("upload wait finished", zap.String("status", string(status)))
	return nil
}

// RestartWorker is fire and forget; no acknowledgement is awaited.
func (e *Engine) RestartWorker(ctx context.Context) error {
	command := SystemCommand{Command: CommandRestart, Timestamp: e.stamper.Next()}
	if err := e.store.Set(ctx, e.paths.SystemCommand, command.Document()); err != nil {
		return fmt.Errorf("write system command: %w", err)
	}
	e.metrics.RequestIssued("restart")
	e.logger.Info("worker restart requested", zap.Float64("timestamp", command.Timestamp))
	return nil
}

// Poll reads the request status once and applies the matching transition.
// Store access failures are a no-op. Other failures are logged, counted and
// returned with a no-op result.
func (e *Engine) Poll(ctx context.Context) (PollResult, error) {
	if e.flow.Step != StepProcessing {
		return PollResult{Outcome: OutcomeNoop}, nil
	}
	result, err := e.poll(ctx)
	if err != nil {
		if store.IsAccessError(err) {
			e.metrics.PollStoreError()
			e.logger.Debug("poll skipped: store unavailable", zap.Error(err))
			return PollResult{Outcome: OutcomeNoop}, nil
		}
		e.metrics.PollFault()
		e.logger.Error("poll failed", zap.Error(err))
		return PollResult{Outcome: OutcomeNoop}, err
	}
	e.metrics.PollOutcome(string(result.Outcome))
	return result, nil
}

func (e *Engine) poll(ctx context.Context) (PollResult, error) {
	doc, err := e.store.Get(ctx, e.paths.Request)
	if err != nil {
		return PollResult{}, err
	}
	if doc == nil {
		return PollResult{Outcome: OutcomeNoop}, nil
	}
	raw := doc.String("status")
	status, known := ParseStatus(raw)
	if !known {
		e.logger.Debug("ignoring unknown request status", zap.String("status", raw))
		return PollResult{Outcome: OutcomeNoop}, nil
	}
	t, ok := lookupTransition(e.flow.Step, status)
	if !ok {
		return PollResult{Outcome: OutcomeNoop}, nil
	}

	switch t.action {
	case actionShowOptions:
		response, err := e.readResponse(ctx)
		if err != nil {
			return PollResult{}, err
		}
		if len(response.Options) == 0 {
			return PollResult{Outcome: OutcomeNotReady}, nil
		}
		e.flow = Flow{Step: t.next, Symbol: e.flow.Symbol, Options: response.Options}
		return PollResult{Outcome: OutcomeOptions, Options: append([]string(nil), response.Options...)}, nil
	case actionCollectImage:
		response, err := e.readResponse(ctx)
		if err != nil {
			return PollResult{}, err
		}
		image, mime, err := DecodeImage(response.ImageBase64)
		if err != nil {
			return e.imageNotReady(err), nil
		}
		e.flow = Flow{Step: t.next, Symbol: e.flow.Symbol}
		e.decodeFailures = 0
		return PollResult{Outcome: OutcomeImage, Image: image, MIME: mime}, nil
	case actionAwaitUpload:
		e.flow = Flow{Step: t.next, Symbol: e.flow.Symbol}
		return PollResult{Outcome: OutcomeUploadWait}, nil
	case actionTimeout:
		e.flow = Flow{Step: t.next, Symbol: e.flow.Symbol}
		e.logger.Warn("worker reported timeout", zap.String("symbol", e.flow.Symbol))
		return PollResult{Outcome: OutcomeTimeout}, nil
	}
	return PollResult{Outcome: OutcomeNoop}, nil
}

func (e *Engine) readResponse(ctx context.Context) (Response, error) {
	doc, err := e.store.Get(ctx, e.paths.Response)
	if err != nil {
		return Response{}, err
	}
	return ResponseFromDocument(doc), nil
}

// imageNotReady treats an unusable payload as not yet written, until the
// configured number of consecutive failures is reached.
func (e *Engine) imageNotReady(cause error) PollResult {
	e.decodeFailures++
	e.logger.Debug("image payload not ready",
		zap.Int("consecutive_failures", e.decodeFailures),
		zap.Error(cause),
	)
	if e.decodeLimit > 0 && e.decodeFailures >= e.decodeLimit {
		e.logger.Warn("giving up on image payload",
			zap.Int("consecutive_failures", e.decodeFailures),
			zap.Error(cause),
		)
		e.flow = Flow{Step: StepIdle, Symbol: e.flow.Symbol}
		e.decodeFailures = 0
		return PollResult{Outcome: OutcomeCorrupt}
	}
	return PollResult{Outcome: OutcomeNotReady}
}

var ErrNotImage = errors.New("payload is not an image")

// DecodeImage accepts standard or unpadded base64, optionally wrapped in a
// data URL, and requires the bytes to sniff as an image.
func DecodeImage(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", errors.New("empty image payload")
	}
	if strings.HasPrefix(payload, "data:") {
		if _, rest, ok := strings.Cut(payload, ","); ok {
			payload = rest
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(payload)
		if rawErr != nil {
			return nil, "", fmt.Errorf("decode image: %w", err)
		}
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, "", fmt.Errorf("%w: detected %s", ErrNotImage, detected.String())
	}
	return data, detected.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
