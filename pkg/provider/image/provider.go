// Package image defines the Provider interface for image-generation backends.
//
// An image provider wraps a text-to-image API (e.g., OpenAI DALL·E / gpt-image)
// and exposes a uniform interface for the KuranGame image pipeline to request
// scene backgrounds, NPC avatars, building icons, and world/player portraits.
//
// Implementations must be safe for concurrent use; the image pipeline issues
// many requests in parallel.
package image

import "context"

// Request describes a single image-generation call.
type Request struct {
	// Prompt is the full text prompt describing the desired image.
	Prompt string

	// Size is the provider-specific output dimension string
	// (e.g., "1024x1024"). Empty selects the provider default.
	Size string

	// Quality selects the provider's quality tier (e.g., "standard", "hd").
	// Empty selects the provider default.
	Quality string
}

// Provider is the abstraction over any text-to-image backend.
//
// Generate returns a URL from which the rendered image can be downloaded.
// The URL is typically short-lived; callers should download promptly.
// Implementations handle their own per-call timeout and retry policy.
type Provider interface {
	Generate(ctx context.Context, req Request) (url string, err error)
}
