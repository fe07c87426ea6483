package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no backend in a [FallbackGroup] could serve
// the call, whether by failing outright or by sitting behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig carries the breaker settings applied to every backend in a
// group. The breaker name is set per backend from the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// backend pairs one provider in the chain with its dedicated breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup routes calls through an ordered chain of interchangeable
// backends. The first entry is the preferred one; later entries are consulted
// only when every earlier entry fails or has an open breaker.
//
// Assemble the chain up front; afterwards the group is safe for concurrent
// use.
type FallbackGroup[T any] struct {
	chain []backend[T]
	cfg   FallbackConfig
}

// NewFallbackGroup creates a group with primary as the head of the chain.
// Register further backends with [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a backend to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.chain = append(fg.chain, backend[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute walks the chain until a backend serves fn without error. It returns
// [ErrAllFailed] wrapping the last error when the whole chain is exhausted.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult walks the chain until a backend serves fn, returning that
// backend's result. A package-level function because a method cannot
// introduce the result type parameter.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		b := &fg.chain[i]
		var result R
		err := b.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(b.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, breaker open", "backend", b.name)
		} else {
			slog.Warn("backend failed, trying next in chain",
				"backend", b.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
