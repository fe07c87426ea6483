// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	img "github.com/joffreyzhang/kurangame/pkg/provider/image"
)

// Provider is a mock implementation of image.Provider.
// It returns URL (or URLFunc's result) for every Generate call and records
// all requests it receives.
type Provider struct {
	mu sync.Mutex

	// URL is returned from Generate when URLFunc is nil.
	URL string

	// URLFunc, when set, computes the returned URL from the request.
	URLFunc func(req img.Request) string

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Requests records every Generate invocation in order.
	Requests []img.Request
}

// Generate records the call and returns the configured URL or error.
func (p *Provider) Generate(_ context.Context, req img.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return "", p.Err
	}
	if p.URLFunc != nil {
		return p.URLFunc(req), nil
	}
	return p.URL, nil
}

var _ img.Provider = (*Provider)(nil)
