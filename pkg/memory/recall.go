package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joffreyzhang/kurangame/pkg/provider/embeddings"
)

// SemanticRecaller glues an embeddings provider to a NarrativeIndex: it
// embeds incoming history entries for indexing and embeds recall queries for
// similarity search. It satisfies the session runtime's Recaller contract.
type SemanticRecaller struct {
	index    NarrativeIndex
	embedder embeddings.Provider
}

// NewSemanticRecaller wires the recaller. Both dependencies are required.
func NewSemanticRecaller(index NarrativeIndex, embedder embeddings.Provider) *SemanticRecaller {
	return &SemanticRecaller{index: index, embedder: embedder}
}

// Remember embeds and indexes one narrative moment.
func (r *SemanticRecaller) Remember(ctx context.Context, sessionID, kind, speaker, text string, ts time.Time) error {
	if text == "" {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("memory: embed moment: %w", err)
	}
	return r.index.IndexMoment(ctx, Moment{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		Kind:      kind,
		Speaker:   speaker,
		Embedding: vec,
		Timestamp: ts,
	})
}

// RememberBatch embeds and indexes several moments with one embedding call.
func (r *SemanticRecaller) RememberBatch(ctx context.Context, sessionID string, kinds, speakers, texts []string, ts time.Time) error {
	if len(texts) == 0 {
		return nil
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("memory: embed batch: %w", err)
	}
	for i, text := range texts {
		m := Moment{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Text:      text,
			Embedding: vecs[i],
			Timestamp: ts,
		}
		if i < len(kinds) {
			m.Kind = kinds[i]
		}
		if i < len(speakers) {
			m.Speaker = speakers[i]
		}
		if err := r.index.IndexMoment(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Recall returns the texts of the k moments most similar to the query within
// the session.
func (r *SemanticRecaller) Recall(ctx context.Context, sessionID, query string, k int) ([]string, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	results, err := r.index.Search(ctx, vec, k, MomentFilter{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}
	texts := make([]string, 0, len(results))
	for _, res := range results {
		texts = append(texts, res.Moment.Text)
	}
	return texts, nil
}
