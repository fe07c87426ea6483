// Package mock provides in-memory implementations of the memory interfaces
// for unit tests and for file-only deployments without a database.
//
// The narrative index performs exact cosine-distance search over all indexed
// moments; fine for tests and small sessions, not for production scale.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/joffreyzhang/kurangame/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Catalog        = (*Catalog)(nil)
	_ memory.NarrativeIndex = (*NarrativeIndex)(nil)
)

// Catalog is an in-memory [memory.Catalog]. Set Err to inject failures.
type Catalog struct {
	mu    sync.Mutex
	files map[string]memory.FileRecord
	order []string

	// Err, if non-nil, is returned by every method.
	Err error
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{files: make(map[string]memory.FileRecord)}
}

// CreateFile implements [memory.Catalog].
func (c *Catalog) CreateFile(_ context.Context, rec memory.FileRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if _, exists := c.files[rec.FileID]; !exists {
		c.order = append(c.order, rec.FileID)
	}
	c.files[rec.FileID] = rec
	return nil
}

// GetFile implements [memory.Catalog].
func (c *Catalog) GetFile(_ context.Context, fileID string) (memory.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return memory.FileRecord{}, c.Err
	}
	rec, ok := c.files[fileID]
	if !ok {
		return memory.FileRecord{}, fmt.Errorf("mock catalog: file %s: %w", fileID, memory.ErrNotFound)
	}
	return rec, nil
}

// ListFilesByUser implements [memory.Catalog]. Insertion order, newest last
// reversed to newest first.
func (c *Catalog) ListFilesByUser(_ context.Context, userID string) ([]memory.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	out := []memory.FileRecord{}
	for i := len(c.order) - 1; i >= 0; i-- {
		if rec := c.files[c.order[i]]; rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteFile implements [memory.Catalog].
func (c *Catalog) DeleteFile(_ context.Context, fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	delete(c.files, fileID)
	for i, id := range c.order {
		if id == fileID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// NarrativeIndex is an in-memory [memory.NarrativeIndex] with exact cosine
// search.
type NarrativeIndex struct {
	mu      sync.Mutex
	moments map[string]memory.Moment

	// Err, if non-nil, is returned by every method.
	Err error
}

// NewNarrativeIndex creates an empty index.
func NewNarrativeIndex() *NarrativeIndex {
	return &NarrativeIndex{moments: make(map[string]memory.Moment)}
}

// IndexMoment implements [memory.NarrativeIndex].
func (n *NarrativeIndex) IndexMoment(_ context.Context, m memory.Moment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.moments[m.ID] = m
	return nil
}

// Len returns the number of indexed moments.
func (n *NarrativeIndex) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.moments)
}

// Search implements [memory.NarrativeIndex].
func (n *NarrativeIndex) Search(_ context.Context, embedding []float32, topK int, filter memory.MomentFilter) ([]memory.MomentResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return nil, n.Err
	}

	results := []memory.MomentResult{}
	for _, m := range n.moments {
		if filter.SessionID != "" && m.SessionID != filter.SessionID {
			continue
		}
		if filter.Speaker != "" && m.Speaker != filter.Speaker {
			continue
		}
		if !filter.After.IsZero() && !m.Timestamp.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !m.Timestamp.Before(filter.Before) {
			continue
		}
		results = append(results, memory.MomentResult{
			Moment:   m,
			Distance: cosineDistance(embedding, m.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// cosineDistance is 1 - cosine similarity. Mismatched or zero vectors are
// maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
