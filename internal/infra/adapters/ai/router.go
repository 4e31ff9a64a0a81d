package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/config"
	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/ports/adapter"
)

// Factory builds the long-lived handle for one backend type.
type Factory func(ctx context.Context) (adapter.ProviderHandle, error)

// Router resolves logical model ids to backend handles. Handles are created
// lazily, one per backend type, and shared by every model on that backend.
type Router struct {
	models        map[string]config.ModelConfig
	maxConcurrent int
	logger        *zerolog.Logger

	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]adapter.ProviderHandle
}

func NewRouter(models map[string]config.ModelConfig, maxConcurrent int, logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{
		models:        models,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		factories:     map[string]Factory{},
		cache:         map[string]adapter.ProviderHandle{},
	}
}

// Register installs the factory for a backend type, replacing any previous one.
func (r *Router) Register(backend string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	backend = strings.ToLower(backend)
	r.factories[backend] = f
	delete(r.cache, backend)
}

// Reset drops every cached handle.
func (r *Router) Reset() {
	r.mu.Lock()
	r.cache = map[string]adapter.ProviderHandle{}
	r.mu.Unlock()
}

// Model returns the configuration registered for modelID.
func (r *Router) Model(modelID string) (config.ModelConfig, error) {
	m, ok := r.models[modelID]
	if !ok {
		return config.ModelConfig{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	return m, nil
}

func (r *Router) Resolve(ctx context.Context, modelID string) (adapter.ProviderHandle, error) {
	m, err := r.Model(modelID)
	if err != nil {
		return nil, err
	}
	return r.handle(ctx, m.Provider)
}

// ResolvePredictor returns the asynchronous predictor serving modelID
// together with the concrete model identifier to dispatch. Its calls share
// the backend's max_concurrent slots with synchronous analysis.
func (r *Router) ResolvePredictor(ctx context.Context, modelID string) (adapter.Predictor, string, error) {
	m, err := r.Model(modelID)
	if err != nil {
		return nil, "", err
	}
	h, err := r.handle(ctx, m.Provider)
	if err != nil {
		return nil, "", err
	}
	var (
		p  adapter.Predictor
		ok bool
	)
	if l, limited := h.(*limitedHandle); limited {
		p, ok = l.predictor()
	} else {
		p, ok = h.(adapter.Predictor)
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %s does not run asynchronous predictions", domain.ErrUnknownProvider, m.Provider)
	}
	return p, m.Version, nil
}

// AnalyzeWithProvider runs a synchronous analysis, using the model's default
// prompt when prompt is empty.
func (r *Router) AnalyzeWithProvider(ctx context.Context, modelID, imageURL, prompt string) (adapter.AnalysisResult, error) {
	m, err := r.Model(modelID)
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	if prompt == "" {
		prompt = m.DefaultPrompt
	}
	return r.analyze(ctx, m, imageURL, prompt)
}

// ValidateComplexityWithProvider asks the model to grade how complex the
// image is using its complexity prompt.
func (r *Router) ValidateComplexityWithProvider(ctx context.Context, modelID, imageURL string) (adapter.AnalysisResult, error) {
	m, err := r.Model(modelID)
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	prompt := m.ComplexityPrompt
	if prompt == "" {
		prompt = m.DefaultPrompt
	}
	return r.analyze(ctx, m, imageURL, prompt)
}

func (r *Router) analyze(ctx context.Context, m config.ModelConfig, imageURL, prompt string) (adapter.AnalysisResult, error) {
	h, err := r.handle(ctx, m.Provider)
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	return h.Analyze(ctx, adapter.AnalysisRequest{Model: m.Version, ImageURL: imageURL, Prompt: prompt})
}

func (r *Router) handle(ctx context.Context, backend string) (adapter.ProviderHandle, error) {
	backend = strings.ToLower(backend)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.cache[backend]; ok {
		return h, nil
	}
	f, ok := r.factories[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, backend)
	}
	h, err := f(ctx)
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", backend, err)
	}
	h = newLimitedHandle(h, r.maxConcurrent)
	r.cache[backend] = h
	r.logger.Info().Str("provider", backend).Msg("provider handle initialized")
	return h, nil
}
