// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the llm.Provider
// interface, giving one construction path for OpenAI, Anthropic, Gemini,
// Ollama, DeepSeek, Mistral, Groq, llama.cpp, and llamafile backends.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider routes llm.Provider calls through an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// backends maps provider names to their any-llm-go constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    wrapNew(anyllmoai.New),
	"anthropic": wrapNew(anthropic.New),
	"gemini":    wrapNew(gemini.New),
	"ollama":    wrapNew(ollama.New),
	"deepseek":  wrapNew(deepseek.New),
	"mistral":   wrapNew(mistral.New),
	"groq":      wrapNew(groq.New),
	"llamacpp":  wrapNew(llamacpp.New),
	"llamafile": wrapNew(llamafile.New),
}

// wrapNew adapts a backend constructor returning a concrete *P to the
// anyllmlib.Provider interface the backends map requires.
func wrapNew[P any, PP interface {
	*P
	anyllmlib.Provider
}](ctor func(...anyllmlib.Option) (PP, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return ctor(opts...)
	}
}

// New builds a Provider for the named backend ("openai", "anthropic",
// "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
// "llamafile") and model. Options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL pass straight through; without a key option the
// backend reads its usual environment variable (OPENAI_API_KEY and friends).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	factory, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q", providerName)
	}
	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// NewOpenAI is shorthand for New("openai", ...).
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewAnthropic is shorthand for New("anthropic", ...).
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewOllama is shorthand for New("ollama", ...); the backend defaults to
// http://localhost:11434 and needs no API key.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// StreamCompletion implements llm.Provider. Backend errors surface as a final
// chunk with FinishReasonError; the returned channel always closes.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.buildParams(req))

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)

		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			select {
			case out <- llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk stream drains.
		if err := <-errs; err != nil {
			select {
			case out <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// CountTokens implements llm.Provider with a character-based estimate.
// TODO: swap in tiktoken-go for exact per-model counts.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		// ~4 chars per token, plus per-message role and framing overhead.
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// capsRule describes one model family. Rules are checked in order; the first
// match wins, so more specific prefixes come before their generic family.
type capsRule struct {
	prefix    string
	substring bool
	window    int
	maxOut    int
	vision    bool
}

var capsRules = []capsRule{
	{prefix: "gpt-4o-mini", window: 128_000, maxOut: 16_384, vision: true},
	{prefix: "gpt-4o", window: 128_000, maxOut: 16_384, vision: true},
	{prefix: "gpt-4-turbo", window: 128_000, maxOut: 4_096, vision: true},
	{prefix: "gpt-4", window: 8_192, maxOut: 4_096},
	{prefix: "gpt-3.5-turbo", window: 16_385, maxOut: 4_096},
	{prefix: "o1-mini", window: 128_000, maxOut: 65_536},
	{prefix: "o1", window: 200_000, maxOut: 100_000, vision: true},
	{prefix: "o3", window: 200_000, maxOut: 100_000, vision: true},
	{prefix: "claude", window: 200_000, maxOut: 8_192, vision: true},
	{prefix: "gemini-1.5-pro", substring: true, window: 2_097_152, maxOut: 8_192, vision: true},
	{prefix: "gemini", window: 1_048_576, maxOut: 8_192, vision: true},
}

// modelCapabilities resolves capabilities from the model name, covering the
// OpenAI, Anthropic, and Gemini families. Unknown models get conservative
// defaults with streaming enabled.
func modelCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capsRules {
		matched := strings.HasPrefix(lower, r.prefix)
		if r.substring {
			matched = strings.Contains(lower, r.prefix)
		}
		if matched {
			return types.ModelCapabilities{
				SupportsStreaming: true,
				SupportsVision:    r.vision,
				ContextWindow:     r.window,
				MaxOutputTokens:   r.maxOut,
			}
		}
	}
	return types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000,
		MaxOutputTokens:   4_096,
	}
}
