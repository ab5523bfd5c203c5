package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/catalog"
	"github.com/borsabridge/control-plane/internal/events"
	"github.com/borsabridge/control-plane/internal/logging"
	"github.com/borsabridge/control-plane/internal/report"
)

var (
	ErrAnalysisRunning = errors.New("analysis already running")
	ErrNoReport        = errors.New("no report available")
	ErrImageIndex      = errors.New("image index out of range")
	ErrNotImage        = errors.New("upload is not an image")
)

// Analyzer produces a report from images.
type Analyzer interface {
	Run(ctx context.Context, req analysis.Request, onProgress func(float64)) (string, error)
}

type Options struct {
	Engine       *bridge.Engine
	Catalog      *catalog.Catalog
	ActiveBot    string
	Analyzer     Analyzer
	Broker       *events.Broker
	Classifier   *report.Classifier
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Session is the operator's single context: flow state, collected images,
// the active bot and the last report. Every method is safe for concurrent use
// and operations on the flow are serialized.
type Session struct {
	mu           sync.Mutex
	engine       *bridge.Engine
	catalog      *catalog.Catalog
	bot          catalog.Bot
	analyzer     Analyzer
	broker       *events.Broker
	classifier   *report.Classifier
	pollInterval time.Duration
	logger       *zap.Logger

	images    []analysis.Image
	report    string
	filter    *report.Filter
	analyzing bool
}

func New(opts Options) (*Session, error) {
	if opts.Engine == nil {
		return nil, errors.New("session requires a bridge engine")
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	bot := cat.First()
	if key := strings.TrimSpace(opts.ActiveBot); key != "" {
		selected, err := cat.Bot(key)
		if err != nil {
			return nil, err
		}
		bot = selected
	}
	broker := opts.Broker
	if broker == nil {
		broker = events.NewBroker()
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = report.DefaultClassifier()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	logger := logging.OrNop(opts.Logger)
	return &Session{
		engine:       opts.Engine,
		catalog:      cat,
		bot:          bot,
		analyzer:     opts.Analyzer,
		broker:       broker,
		classifier:   classifier,
		pollInterval: interval,
		logger:       logger,
	}, nil
}

func (s *Session) Broker() *events.Broker {
	return s.broker
}

func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Session) Flow() bridge.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Flow()
}

// Submit issues a request to the active bot's worker.
func (s *Session) Submit(ctx context.Context, symbol string, requestType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Submit(ctx, symbol, requestType, s.bot.Username); err != nil {
		return err
	}
	s.publishFlow()
	s.notice("info", fmt.Sprintf("request %s sent to %s", describeRequest(s.engine.Flow().Symbol, requestType), s.bot.Username))
	return nil
}

func describeRequest(symbol, requestType string) string {
	if symbol == "" {
		return requestType
	}
	return symbol + " " + requestType
}

func (s *Session) Choose(ctx context.Context, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.SubmitSelection(ctx, option); err != nil {
		return err
	}
	s.publishFlow()
	s.notice("info", fmt.Sprintf("selected %s", strings.TrimSpace(option)))
	return nil
}

func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Cancel(ctx); err != nil {
		return err
	}
	s.publishFlow()
	s.notice("info", "upload cancelled")
	return nil
}

// CompleteManually finishes an upload wait with images the operator supplied.
// Uploads are checked before anything is written.
func (s *Session) CompleteManually(ctx context.Context, uploads [][]byte) error {
	images := make([]analysis.Image, 0, len(uploads))
	for i, data := range uploads {
		detected := mimetype.Detect(data)
		if !strings.HasPrefix(detected.String(), "image/") {
			return fmt.Errorf("%w: upload %d is %s", ErrNotImage, i, detected.String())
		}
		images = append(images, analysis.Image{Data: data, MIME: detected.String()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.CompleteManually(ctx); err != nil {
		return err
	}
	for _, image := range images {
		s.addImage(image)
	}
	s.publishFlow()
	s.notice("info", fmt.Sprintf("manual upload completed with %d image(s)", len(images)))
	return nil
}

func (s *Session) RestartWorker(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.RestartWorker(ctx); err != nil {
		return err
	}
	s.notice("info", "worker restart requested")
	return nil
}

// Poll runs one engine poll and turns its outcome into events.
func (s *Session) Poll(ctx context.Context) (bridge.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.engine.Poll(ctx)
	if err != nil {
		return result, err
	}
	switch result.Outcome {
	case bridge.OutcomeOptions:
		s.publishFlow()
		s.notice("info", fmt.Sprintf("%d options available, choose one", len(result.Options)))
	case bridge.OutcomeImage:
		s.addImage(analysis.Image{Data: result.Image, MIME: result.MIME})
		s.publishFlow()
		s.notice("success", fmt.Sprintf("image received (%d total)", len(s.images)))
	case bridge.OutcomeUploadWait:
		s.publishFlow()
		s.notice("warning", "worker is waiting for an upload")
	case bridge.OutcomeTimeout:
		s.publishFlow()
		s.notice("error", "worker timed out")
	case bridge.OutcomeCorrupt:
		s.publishFlow()
		s.notice("error", "corrupt image payload")
	}
	return result, nil
}

// Run polls on a fixed cadence until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.Flow().Step != bridge.StepProcessing {
				continue
			}
			if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug("poll tick failed", zap.Error(err))
			}
		}
	}
}

func (s *Session) addImage(image analysis.Image) {
	s.images = append(s.images, image)
	s.broker.Publish(events.Event{
		Type: events.TypeImageReceived,
		Payload: map[string]any{
			"index": len(s.images) - 1,
			"mime":  image.MIME,
			"size":  len(image.Data),
		},
	})
}

func (s *Session) Images() []analysis.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]analysis.Image(nil), s.images...)
}

func (s *Session) Image(index int) (analysis.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.images) {
		return analysis.Image{}, fmt.Errorf("%w: %d", ErrImageIndex, index)
	}
	return s.images[index], nil
}

func (s *Session) ClearImages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = nil
	s.broker.Publish(events.Event{Type: events.TypeImagesCleared})
}

func (s *Session) Bot() catalog.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bot
}

func (s *Session) SelectBot(key string) (catalog.Bot, error) {
	bot, err := s.catalog.Bot(key)
	if err != nil {
		return catalog.Bot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bot = bot
	s.broker.Publish(events.Event{
		Type:    events.TypeBotChanged,
		Payload: map[string]any{"key": bot.Key, "username": bot.Username},
	})
	return bot, nil
}

// Analyze runs the analyzer over the collected images. The stream is consumed
// outside the session lock, so polling continues while it runs.
func (s *Session) Analyze(ctx context.Context, model string) (ReportView, error) {
	s.mu.Lock()
	if s.analyzing {
		s.mu.Unlock()
		return ReportView{}, ErrAnalysisRunning
	}
	if s.analyzer == nil {
		s.mu.Unlock()
		return ReportView{}, errors.New("analysis is not configured")
	}
	if len(s.images) == 0 {
		s.mu.Unlock()
		return ReportView{}, analysis.ErrNoImages
	}
	images := append([]analysis.Image(nil), s.images...)
	s.analyzing = true
	s.mu.Unlock()

	s.broker.Publish(events.Event{
		Type:    events.TypeAnalysisStarted,
		Payload: map[string]any{"images": len(images), "model": model},
	})
	lastPercent := -1
	text, err := s.analyzer.Run(ctx, analysis.Request{Images: images, Model: model}, func(progress float64) {
		percent := int(progress * 100)
		if percent == lastPercent {
			return
		}
		lastPercent = percent
		s.broker.Publish(events.Event{
			Type:    events.TypeAnalysisProgress,
			Payload: map[string]any{"progress": progress},
		})
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzing = false
	if err != nil {
		payload := map[string]any{"error": err.Error(), "partial_chars": len(text)}
		var fatal *analysis.FatalError
		payload["fatal"] = errors.As(err, &fatal)
		s.broker.Publish(events.Event{Type: events.TypeAnalysisFailed, Payload: payload})
		s.notice("error", "analysis failed: "+err.Error())
		return ReportView{}, err
	}
	s.applyReport(text)
	view := s.reportView()
	s.broker.Publish(events.Event{
		Type: events.TypeAnalysisCompleted,
		Payload: map[string]any{
			"sections": len(view.Sections),
			"counts":   view.Counts,
		},
	})
	s.notice("success", fmt.Sprintf("analysis completed with %d sections", len(view.Sections)))
	return view, nil
}

func (s *Session) applyReport(text string) {
	s.report = text
	s.filter = report.NewFilter(report.SegmentWith(text, s.classifier))
}

func (s *Session) Analyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzing
}

func (s *Session) notice(level, message string) {
	s.broker.Publish(events.Event{
		Type:    events.TypeNotice,
		Payload: map[string]any{"level": level, "message": message},
	})
}

func (s *Session) publishFlow() {
	flow := s.engine.Flow()
	s.broker.Publish(events.Event{
		Type: events.TypeFlowChanged,
		Payload: map[string]any{
			"step":    string(flow.Step),
			"symbol":  flow.Symbol,
			"options": flow.Options,
		},
	})
}
