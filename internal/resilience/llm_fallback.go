package resilience

import (
	"context"

	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback is an [llm.Provider] that fails over across a chain of
// backends. Every backend sits behind its own circuit breaker, so a provider
// that keeps erroring is skipped until its breaker lets probes through again.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback builds a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another provider to the end of the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete runs the request against the first healthy backend, walking the
// chain on failure.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Failover
// covers the connection attempt only; once chunks are flowing, mid-stream
// errors reach the caller directly.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's counter.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata, so no
// failover here.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.chain) > 0 {
		return f.group.chain[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
