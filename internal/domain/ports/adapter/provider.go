package adapter

import "context"

// AnalysisRequest is a single synchronous analysis call against a provider.
type AnalysisRequest struct {
	Model    string // concrete provider model identifier
	ImageURL string
	Prompt   string
}

type AnalysisResult struct {
	Provider string
	Model    string
	Text     string
}

// ProviderHandle is a long-lived client for one backend type.
// Backends that support asynchronous predictions also implement Predictor.
type ProviderHandle interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
}
