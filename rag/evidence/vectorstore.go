package evidence

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookrag/book"
	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/vector"
)

// VectorBackend implements Store on an embedding index. Filters are applied
// to chunk metadata after the similarity search, so the backend over-fetches
// when filters are present.
type VectorBackend struct {
	store    vector.VectorStore
	embedder vector.Embedder
	minScore float32
}

// NewVectorBackend creates a vector-search evidence store. minScore drops
// hits below a similarity floor; 0 disables the floor.
func NewVectorBackend(store vector.VectorStore, embedder vector.Embedder, minScore float32) *VectorBackend {
	return &VectorBackend{
		store:    store,
		embedder: embedder,
		minScore: minScore,
	}
}

// IndexBook embeds every paragraph of the book and adds it to the index
// with the metadata fields retrieval filters may reference.
func (b *VectorBackend) IndexBook(ctx context.Context, bk *book.Book) error {
	if bk == nil || bk.ID == "" {
		return fmt.Errorf("book must have an ID: %w", errors.ErrInvalidInput)
	}

	for _, chapter := range bk.Chapters {
		texts := make([]string, len(chapter.Paragraphs))
		for i, p := range chapter.Paragraphs {
			texts[i] = p.Text
		}
		if len(texts) == 0 {
			continue
		}

		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chapter %s: %w", chapter.ID, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d paragraphs", len(vectors), len(texts))
		}

		for i, p := range chapter.Paragraphs {
			emb := &vector.Embedding{
				ID:     fmt.Sprintf("%s/%s/%d", bk.ID, chapter.ID, p.Index),
				Vector: vectors[i],
				Text:   p.Text,
				Metadata: map[string]any{
					"book_id":         bk.ID,
					"chapter_id":      chapter.ID,
					"chapter_title":   chapter.Title,
					"section_title":   p.SectionTitle,
					"paragraph_index": p.Index,
				},
			}
			if err := b.store.AddEmbedding(ctx, emb); err != nil {
				return fmt.Errorf("failed to index paragraph %s: %w", emb.ID, err)
			}
		}
	}
	return nil
}

// Query implements Store
func (b *VectorBackend) Query(ctx context.Context, text string, filters []Filter, topK int) ([]Fragment, error) {
	queryVector, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fetch := topK
	if len(filters) > 0 {
		fetch = topK * 4
	}
	matches, err := b.store.Search(ctx, queryVector, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	fragments := make([]Fragment, 0, topK)
	for _, match := range matches {
		if b.minScore > 0 && match.Score < b.minScore {
			continue
		}
		if !matchesFilters(match.Embedding.Metadata, filters) {
			continue
		}

		metadata := map[string]any{"score": float64(match.Score)}
		for k, v := range match.Embedding.Metadata {
			metadata[k] = v
		}
		fragments = append(fragments, Fragment{
			Text:     match.Embedding.Text,
			Metadata: metadata,
		})
		if len(fragments) == topK {
			break
		}
	}
	return fragments, nil
}

func matchesFilters(metadata map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if f.Field == "" {
			continue
		}
		value, exists := metadata[f.Field]
		if !exists {
			return false
		}
		switch f.Operator {
		case "contains":
			want, ok1 := f.Value.(string)
			have, ok2 := value.(string)
			if !ok1 || !ok2 || !strings.Contains(strings.ToLower(have), strings.ToLower(want)) {
				return false
			}
		case "greater_than":
			want, ok1 := toFloat(f.Value)
			have, ok2 := toFloat(value)
			if !ok1 || !ok2 || have <= want {
				return false
			}
		default: // equals
			if fmt.Sprintf("%v", value) != fmt.Sprintf("%v", f.Value) {
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
