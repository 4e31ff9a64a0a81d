package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/adapter"
)

var _ adapter.ProviderHandle = (*Client)(nil)

func (c *Client) Name() string { return providerName }

// Analyze runs a prediction without a webhook and waits for its result.
func (c *Client) Analyze(ctx context.Context, req adapter.AnalysisRequest) (adapter.AnalysisResult, error) {
	input := map[string]any{}
	if req.ImageURL != "" {
		input["image"] = req.ImageURL
	}
	if req.Prompt != "" {
		input["prompt"] = req.Prompt
	}
	p, err := c.Create(ctx, req.Model, input, "")
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	if !p.Status.IsTerminal() {
		p, err = c.Wait(ctx, p.ID, time.Second)
		if err != nil {
			return adapter.AnalysisResult{}, err
		}
	}
	if p.Status == model.JobStatusFailed {
		return adapter.AnalysisResult{}, fmt.Errorf("replicate: prediction %s failed: %s", p.ID, p.Error)
	}
	text, err := OutputText(p.Output)
	if err != nil {
		return adapter.AnalysisResult{}, err
	}
	return adapter.AnalysisResult{Provider: providerName, Model: req.Model, Text: text}, nil
}

// OutputText flattens a prediction output into text. Language models stream
// their output as an array of string chunks.
func OutputText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("replicate: empty output")
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	var chunks []string
	if json.Unmarshal(raw, &chunks) == nil {
		return strings.Join(chunks, ""), nil
	}
	return string(raw), nil
}
