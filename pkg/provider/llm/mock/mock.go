// Package mock is a test double for llm.Provider. It replays canned
// completions and stream chunks and records every request it receives, so
// tests can drive the session runtime without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements llm.Provider with configurable responses. The zero
// value works: unset response fields yield zero values with nil errors. Set
// the fields before handing the mock to code under test; methods are safe
// for concurrent use.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order on the channel returned by
	// StreamCompletion, which then closes.
	StreamChunks []llm.Chunk

	// StreamErr, when set, fails StreamCompletion before any channel opens.
	StreamErr error

	// CompleteResponse is returned by every Complete call.
	CompleteResponse *llm.CompletionResponse

	// CompleteResponses, when non-empty, wins over CompleteResponse: calls
	// consume entries in order and the last entry repeats once the list runs
	// out. Lets one test script several LLM calls (action reply, mission
	// generation, ...).
	CompleteResponses []*llm.CompletionResponse

	// CompleteErr, when set, fails Complete.
	CompleteErr error

	// TokenCount is returned by CountTokens; zero falls back to a
	// 4-chars-per-token estimate.
	TokenCount int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// StreamCalls and CompleteCalls record every invocation, in order.
	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall

	completeIdx int
}

// StreamCompletion records the call, then feeds StreamChunks through a fresh
// channel. Cancelling ctx stops delivery early.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	err := p.StreamErr
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if n := len(p.CompleteResponses); n > 0 {
		idx := min(p.completeIdx, n-1)
		p.completeIdx++
		return p.CompleteResponses[idx], nil
	}
	return p.CompleteResponse, nil
}

// CountTokens returns TokenCount, or an estimate when it is zero.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Reset clears the recorded calls and the scripted-response cursor.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.completeIdx = 0
}
