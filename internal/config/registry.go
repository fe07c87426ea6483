package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joffreyzhang/kurangame/pkg/provider/embeddings"
	"github.com/joffreyzhang/kurangame/pkg/provider/image"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a concurrency-safe name-to-constructor table for one provider
// kind.
type factories[T any] struct {
	mu     sync.RWMutex
	kind   string
	byName map[string]func(ProviderEntry) (T, error)
}

// add registers fn under name; a repeated name overwrites the earlier entry.
func (f *factories[T]) add(name string, fn func(ProviderEntry) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.byName[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return fn(entry)
}

// Registry holds the provider constructors the config layer may instantiate,
// one table per provider kind. Safe for concurrent use.
type Registry struct {
	llm        *factories[llm.Provider]
	image      *factories[image.Provider]
	embeddings *factories[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        &factories[llm.Provider]{kind: "llm", byName: map[string]func(ProviderEntry) (llm.Provider, error){}},
		image:      &factories[image.Provider]{kind: "image", byName: map[string]func(ProviderEntry) (image.Provider, error){}},
		embeddings: &factories[embeddings.Provider]{kind: "embeddings", byName: map[string]func(ProviderEntry) (embeddings.Provider, error){}},
	}
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.add(name, factory)
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, factory func(ProviderEntry) (image.Provider, error)) {
	r.image.add(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.add(name, factory)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateImage instantiates the image provider registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	return r.image.create(entry)
}

// CreateEmbeddings instantiates the embeddings provider registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}
