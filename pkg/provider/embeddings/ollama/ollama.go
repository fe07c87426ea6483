// Package ollama implements embeddings.Provider against a local Ollama
// server's /api/embed endpoint. It works with any embedding model the server
// has pulled (nomic-embed-text, mxbai-embed-large, all-minilm, ...).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/joffreyzhang/kurangame/pkg/provider/embeddings"
)

// DefaultBaseURL targets an Ollama instance on the local machine.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through an Ollama server. Safe for concurrent use.
//
// The vector width comes from WithDimensions when given, otherwise from a
// table of recognised model names, otherwise from a one-off probe request
// issued on the first Dimensions call.
type Provider struct {
	baseURL string
	model   string
	http    *http.Client

	dims  int
	probe sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.http.Timeout = d
		}
	}
}

// WithDimensions fixes the vector width up front, skipping both the model
// table and the probe request.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		p.dims = dims
	}
}

// New builds a Provider for the given server and model. An empty baseURL
// falls back to DefaultBaseURL; model is required.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims == 0 {
		p.dims = knownDims(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. All texts go out in one request;
// an empty input returns (nil, nil) without touching the network.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For models the table doesn't
// cover, the width is measured once against the live server and cached;
// a failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.probe.Do(func() {
		vecs, err := p.post(context.Background(), []string{"probe"})
		if err == nil && len(vecs) > 0 {
			p.dims = len(vecs[0])
		}
	})
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// post issues a single /api/embed call and returns the raw vectors.
func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{p.model, texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return out.Embeddings, nil
}

// dimsByModel lists the output widths of recognised Ollama embedding models.
// Names match as substrings so tagged variants like "nomic-embed-text:latest"
// resolve too.
var dimsByModel = []struct {
	family string
	dims   int
}{
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"all-minilm", 384},
}

func knownDims(model string) int {
	lower := strings.ToLower(model)
	for _, entry := range dimsByModel {
		if strings.Contains(lower, entry.family) {
			return entry.dims
		}
	}
	return 0
}
