package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/infra/metrics"
)

const providerName = "replicate"

var _ adapter.Predictor = (*Client)(nil)

// WebhookEvents are the callback events requested for every prediction.
var WebhookEvents = []string{"start", "completed"}

type Options struct {
	Token       string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	HTTPClient  *http.Client
}

// Client talks to a Replicate-style predictions API.
type Client struct {
	token       string
	base        string
	http        *http.Client
	maxRetries  int
	backoffBase time.Duration
	logger      *zerolog.Logger
}

func NewClient(opts Options, logger *zerolog.Logger) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("replicate: empty api token")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com/v1"
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("replicate: base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		token:       opts.Token,
		base:        base,
		http:        hc,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		logger:      logger,
	}, nil
}

type createBody struct {
	Version             string         `json:"version,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type predictionBody struct {
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	Version   string          `json:"version"`
	Status    string          `json:"status"`
	Output    json.RawMessage `json:"output"`
	Error     any             `json:"error"`
	CreatedAt time.Time       `json:"created_at"`
}

// Create starts a prediction. A pinned revision the provider rejects as
// invalid is retried once against the model's latest revision.
func (c *Client) Create(ctx context.Context, modelID string, input map[string]any, webhookURL string) (*adapter.Prediction, error) {
	ref, err := ParseModelRef(modelID)
	if err != nil {
		return nil, err
	}
	p, err := c.create(ctx, ref, input, webhookURL)
	if err != nil && ref.CanFallback() && IsVersionFallbackEligible(err) {
		c.logger.Warn().Err(err).Str("model", ref.String()).Msg("pinned version rejected; falling back to latest")
		metrics.IncVersionFallback(providerName)
		return c.create(ctx, ref.Unpinned(), input, webhookURL)
	}
	return p, err
}

func (c *Client) create(ctx context.Context, ref ModelRef, input map[string]any, webhookURL string) (*adapter.Prediction, error) {
	body := createBody{Input: input}
	if webhookURL != "" {
		body.Webhook = webhookURL
		body.WebhookEventsFilter = WebhookEvents
	}
	endpoint := c.base + "/predictions"
	if ref.Pinned() {
		body.Version = ref.Version
	} else {
		endpoint = fmt.Sprintf("%s/models/%s/%s/predictions", c.base, url.PathEscape(ref.Owner), url.PathEscape(ref.Name))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}

	var out predictionBody
	err = c.withRetry(ctx, "create", func() error {
		return c.do(ctx, http.MethodPost, endpoint, payload, &out)
	})
	if err != nil {
		return nil, err
	}
	return toPrediction(out), nil
}

// Get fetches the current state of a prediction.
func (c *Client) Get(ctx context.Context, predictionID string) (*adapter.Prediction, error) {
	if predictionID == "" {
		return nil, errors.New("replicate: empty prediction id")
	}
	endpoint := c.base + "/predictions/" + url.PathEscape(predictionID)
	var out predictionBody
	err := c.withRetry(ctx, "get", func() error {
		return c.do(ctx, http.MethodGet, endpoint, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return toPrediction(out), nil
}

// Wait polls Get at a fixed interval until the prediction is terminal or ctx ends.
func (c *Client) Wait(ctx context.Context, predictionID string, interval time.Duration) (*adapter.Prediction, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := c.Get(ctx, predictionID)
		if err != nil {
			return nil, err
		}
		if p.Status.IsTerminal() {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// withRetry runs fn under exponential backoff. Only errors accepted by
// IsRetryable are retried; the rest stop the loop immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.backoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.backoffBase << c.maxRetries,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		start := time.Now()
		err := fn()
		metrics.ObserveProviderCall(providerName, op, time.Since(start), err == nil)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.IncProviderRetry(providerName, op)
		c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("transient provider error; retrying")
	})
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &problem) == nil && (problem.Title != "" || problem.Detail != "") {
		apiErr.Title, apiErr.Detail = problem.Title, problem.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func toPrediction(b predictionBody) *adapter.Prediction {
	status, ok := MapStatus(b.Status)
	if !ok {
		status = model.JobStatusProcessing
	}
	return &adapter.Prediction{
		ID:        b.ID,
		Status:    status,
		RawStatus: b.Status,
		Model:     b.Model,
		Output:    b.Output,
		Error:     errorText(b.Error),
		CreatedAt: b.CreatedAt,
	}
}

// MapStatus translates the provider's status vocabulary onto JobStatus.
func MapStatus(raw string) (model.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "starting", "processing", "running":
		return model.JobStatusProcessing, true
	case "succeeded", "successful", "completed":
		return model.JobStatusCompleted, true
	case "failed", "canceled", "cancelled", "aborted":
		return model.JobStatusFailed, true
	case "pending", "queued":
		return model.JobStatusPending, true
	default:
		return "", false
	}
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

// ParseWebhook decodes a callback body. The payload has the same shape as a
// GET response; an unknown status or missing id is rejected.
func ParseWebhook(body []byte) (*adapter.Prediction, error) {
	var b predictionBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if b.ID == "" {
		return nil, errors.New("webhook payload has no prediction id")
	}
	if _, ok := MapStatus(b.Status); !ok {
		return nil, fmt.Errorf("webhook payload has unknown status %q", b.Status)
	}
	return toPrediction(b), nil
}
