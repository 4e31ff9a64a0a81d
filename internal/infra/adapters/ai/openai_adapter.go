package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/infra/metrics"
)

var _ adapter.ProviderHandle = (*OpenAIAdapter)(nil)

// OpenAIAdapter runs image analysis through the Chat Completions API.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIAdapter(apiKey, baseURL, defaultModel string, timeout time.Duration) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), defaultModel: defaultModel}, nil
}

func (o *OpenAIAdapter) Name() string { return "openai" }

func (o *OpenAIAdapter) Analyze(ctx context.Context, req adapter.AnalysisRequest) (adapter.AnalysisResult, error) {
	model := modelOrDefault(req.Model, o.defaultModel)
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
	if req.ImageURL != "" {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: req.ImageURL}))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	metrics.ObserveProviderCall("openai", "analyze", time.Since(start), err == nil)
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	for _, c := range resp.Choices {
		if text := strings.TrimSpace(c.Message.Content); text != "" {
			return adapter.AnalysisResult{Provider: o.Name(), Model: model, Text: text}, nil
		}
	}
	return adapter.AnalysisResult{}, errors.New("openai: no choice content")
}

func modelOrDefault(model, def string) string {
	if model == "" {
		return def
	}
	return model
}
