package analysis

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultLiteModel = "gemini-2.5-flash-lite"
	reportTemp       = float32(0.2)
)

type GeminiOptions struct {
	// BaseURL overrides the API endpoint, mainly for tests and proxies.
	BaseURL string
	Logger  *zap.Logger
}

// Gemini owns one genai client per API key and hands out per-model producers.
type Gemini struct {
	keys    *KeyPool
	baseURL string
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var newGenaiClient = func(ctx context.Context, key string, baseURL string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

func NewGemini(keys *KeyPool, opts GeminiOptions) *Gemini {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		keys:    keys,
		baseURL: opts.BaseURL,
		logger:  logger,
		clients: map[string]*genai.Client{},
	}
}

func (g *Gemini) client(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if client, ok := g.clients[key]; ok {
		return client, nil
	}
	client, err := newGenaiClient(ctx, key, g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.clients[key] = client
	return client, nil
}

// Source resolves a model name to a streaming producer.
func (g *Gemini) Source(model string) (Producer, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &GeminiProducer{gemini: g, model: model}, nil
}

type GeminiProducer struct {
	gemini *Gemini
	model  string
}

func (p *GeminiProducer) Model() string {
	return p.model
}

func (p *GeminiProducer) Stream(ctx context.Context, images []Image, instruction string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		key, ok := p.gemini.keys.Current()
		if !ok {
			yield("", ErrNoKeys)
			return
		}
		client, err := p.gemini.client(ctx, key)
		if err != nil {
			yield("", err)
			return
		}
		config := &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(instruction)}},
			Temperature:       genai.Ptr(reportTemp),
		}
		for resp, err := range client.Models.GenerateContentStream(ctx, p.model, imageContents(images), config) {
			if err != nil {
				if IsKeyFailure(err) {
					p.gemini.keys.MarkFailed(key)
					p.gemini.logger.Warn("api key put on cooldown", zap.String("key", MaskKey(key)), zap.Error(err))
				}
				yield("", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func imageContents(images []Image) []*genai.Content {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(UserPrompt))
	for _, image := range images {
		mime := image.MIME
		if mime == "" {
			mime = mimetype.Detect(image.Data).String()
		}
		parts = append(parts, genai.NewPartFromBytes(image.Data, mime))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// Check runs a one-token generation with key against model.
func (g *Gemini) Check(ctx context.Context, key string, model string) error {
	client, err := g.client(ctx, key)
	if err != nil {
		return err
	}
	_, err = client.Models.GenerateContent(ctx, model, genai.Text("ping"), &genai.GenerateContentConfig{
		MaxOutputTokens: 1,
	})
	return err
}
