package ai

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"time"

	"google.golang.org/genai"

	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/infra/metrics"
)

var _ adapter.ProviderHandle = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

func (g *GeminiAdapter) Analyze(ctx context.Context, req adapter.AnalysisRequest) (adapter.AnalysisResult, error) {
	model := modelOrDefault(req.Model, g.defaultModel)
	parts := []*genai.Part{{Text: req.Prompt}}
	if req.ImageURL != "" {
		parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: req.ImageURL, MIMEType: imageMIME(req.ImageURL)}})
	}
	var cfg *genai.GenerateContentConfig
	if g.maxOut > 0 {
		cfg = &genai.GenerateContentConfig{MaxOutputTokens: int32(g.maxOut)}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, []*genai.Content{{Role: "user", Parts: parts}}, cfg)
	metrics.ObserveProviderCall("gemini", "analyze", time.Since(start), err == nil)
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return adapter.AnalysisResult{}, errors.New("gemini: empty response")
	}
	return adapter.AnalysisResult{Provider: g.Name(), Model: model, Text: text}, nil
}

// imageMIME guesses the MIME type from the URL path, defaulting to JPEG.
func imageMIME(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if t := mime.TypeByExtension(path.Ext(p)); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/jpeg"
}
