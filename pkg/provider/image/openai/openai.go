// Package openai provides an image-generation provider backed by the OpenAI
// Images API.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	img "github.com/joffreyzhang/kurangame/pkg/provider/image"
)

// DefaultModel is the default OpenAI image model.
const DefaultModel = "dall-e-3"

// defaults for the retry loop. Image endpoints rate-limit aggressively and
// fail transiently often enough that a couple of retries pays for itself.
const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	retryBackoff      = 2 * time.Second
)

// Compile-time interface assertion.
var _ img.Provider = (*Provider)(nil)

// Provider implements image.Provider using the OpenAI Images API.
type Provider struct {
	client     oai.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-attempt deadline for a generation call.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how many times a failed generation is retried.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs an OpenAI image Provider.
// If model is empty, DefaultModel (dall-e-3) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai image: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		timeout:    cfg.timeout,
		maxRetries: cfg.maxRetries,
	}, nil
}

// Generate implements image.Provider. Each attempt runs under its own
// timeout; transient failures are retried up to the configured maximum with
// a short backoff.
func (p *Provider) Generate(ctx context.Context, req img.Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("openai image: prompt must not be empty")
	}

	params := oai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  oai.ImageModel(p.model),
	}
	if req.Size != "" {
		params.Size = oai.ImageGenerateParamsSize(req.Size)
	}
	if req.Quality != "" {
		params.Quality = oai.ImageGenerateParamsQuality(req.Quality)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryBackoff):
			}
			slog.Debug("openai image: retrying generation", "attempt", attempt)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err := p.client.Images.Generate(attemptCtx, params)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) == 0 || resp.Data[0].URL == "" {
			lastErr = fmt.Errorf("openai image: empty response data")
			continue
		}
		return resp.Data[0].URL, nil
	}

	return "", fmt.Errorf("openai image: generate after %d attempts: %w", p.maxRetries+1, lastErr)
}
