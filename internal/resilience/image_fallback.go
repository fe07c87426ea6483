package resilience

import (
	"context"

	"github.com/joffreyzhang/kurangame/pkg/provider/image"
)

// ImageFallback implements [image.Provider] with automatic failover across
// multiple image backends. Each backend has its own circuit breaker.
type ImageFallback struct {
	group *FallbackGroup[image.Provider]
}

// Compile-time interface assertion.
var _ image.Provider = (*ImageFallback)(nil)

// NewImageFallback creates an [ImageFallback] with primary as the preferred backend.
func NewImageFallback(primary image.Provider, primaryName string, cfg FallbackConfig) *ImageFallback {
	return &ImageFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional image provider as a fallback.
func (f *ImageFallback) AddFallback(name string, provider image.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate synthesises an image with the first healthy provider. If the
// primary fails, subsequent fallbacks are tried.
func (f *ImageFallback) Generate(ctx context.Context, req image.Request) (string, error) {
	return ExecuteWithResult(f.group, func(p image.Provider) (string, error) {
		return p.Generate(ctx, req)
	})
}
