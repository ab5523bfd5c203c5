package analysis

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/metrics"
)

const maxStreamingProgress = 0.95

type Request struct {
	Images []Image
	Model  string
}

type Config struct {
	Instruction   string
	MaxRetries    int
	RetryBackoff  time.Duration
	EstimateChars int
	DefaultModel  string
}

// Analyzer drives one producer stream to completion, retrying the whole
// stream on transient failures.
type Analyzer struct {
	source  ProducerSource
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

func NewAnalyzer(source ProducerSource, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Analyzer {
	if cfg.Instruction == "" {
		cfg.Instruction = ReportInstruction
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.EstimateChars <= 0 {
		cfg.EstimateChars = 9000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Run returns the accumulated text alongside any error, so a caller can show
// what arrived before a failure. onProgress may be nil.
func (a *Analyzer) Run(ctx context.Context, req Request, onProgress func(float64)) (string, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	if len(req.Images) == 0 {
		return "", ErrNoImages
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.cfg.DefaultModel
	}
	producer, err := a.source(model)
	if err != nil {
		return "", &FatalError{Err: err}
	}

	started := a.now()
	var (
		text    string
		lastErr error
	)
	attempts := a.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			a.metrics.StreamRetry()
			a.logger.Warn("retrying report stream",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", a.cfg.RetryBackoff),
				zap.Error(lastErr),
			)
			if err := a.sleep(ctx, a.cfg.RetryBackoff); err != nil {
				a.finish("cancelled", started)
				return text, err
			}
			onProgress(0)
		}
		text, err = a.consume(ctx, producer, req.Images, onProgress)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				a.finish("failed", started)
				return text, &FatalError{Err: ErrEmptyReport}
			}
			onProgress(1.0)
			a.finish("completed", started)
			a.logger.Info("report completed",
				zap.String("model", model),
				zap.Int("chars", utf8.RuneCountInString(text)),
				zap.Int("attempts", attempt),
			)
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			a.finish("cancelled", started)
			return text, ctxErr
		}
		if !IsTransient(err) {
			a.finish("failed", started)
			a.logger.Error("report stream failed", zap.String("model", model), zap.Error(err))
			return text, &FatalError{Err: err}
		}
		lastErr = err
	}
	a.finish("exhausted", started)
	a.logger.Error("report stream retries exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	return text, &RetryError{Attempts: attempts, Err: lastErr}
}

func (a *Analyzer) consume(ctx context.Context, producer Producer, images []Image, onProgress func(float64)) (string, error) {
	var (
		b     strings.Builder
		chars int
	)
	estimate := float64(a.cfg.EstimateChars)
	for fragment, err := range producer.Stream(ctx, images, a.cfg.Instruction) {
		if err != nil {
			return b.String(), err
		}
		if inline, ok := fragmentError(fragment); ok {
			return b.String(), inline
		}
		b.WriteString(fragment)
		chars += utf8.RuneCountInString(fragment)
		onProgress(min(float64(chars)/estimate, maxStreamingProgress))
	}
	return b.String(), nil
}

func (a *Analyzer) finish(result string, started time.Time) {
	a.metrics.AnalysisFinished(result, a.now().Sub(started))
}

// IsFatal reports whether err ended an analysis without retry.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
