package evidence

import (
	"context"
	"strings"
	"testing"

	"github.com/sweetpotato0/bookrag/book"
	"github.com/sweetpotato0/bookrag/contrib/vector/inmemory"
)

// keywordEmbedder maps texts onto a fixed keyword axis so similarity is
// deterministic in tests.
type keywordEmbedder struct {
	keywords []string
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.keywords))
	lower := strings.ToLower(text)
	for i, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int { return len(e.keywords) }

func testBook() *book.Book {
	return &book.Book{
		ID:    "voyage",
		Title: "The Voyage",
		Chapters: []book.Chapter{
			{
				ID:    "c1",
				Title: "Departure",
				Paragraphs: []book.Paragraph{
					{Index: 0, Text: "The ship left the harbor at dawn."},
					{Index: 1, Text: "The crew sang as the sails filled."},
				},
			},
			{
				ID:    "c2",
				Title: "The Storm",
				Paragraphs: []book.Paragraph{
					{Index: 0, Text: "The storm broke the mainmast of the ship."},
				},
			},
		},
	}
}

func TestVectorBackendIndexAndQuery(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{keywords: []string{"ship", "storm", "crew", "harbor"}}
	backend := NewVectorBackend(inmemory.New(), embedder, 0.1)

	if err := backend.IndexBook(ctx, testBook()); err != nil {
		t.Fatalf("IndexBook error: %v", err)
	}

	fragments, err := backend.Query(ctx, "what happened to the ship in the storm", nil, 2)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(fragments) == 0 {
		t.Fatalf("expected fragments")
	}
	if !strings.Contains(fragments[0].Text, "storm") {
		t.Fatalf("expected storm paragraph first, got %q", fragments[0].Text)
	}
	if fragments[0].Score() <= 0 {
		t.Fatalf("expected positive score, got %f", fragments[0].Score())
	}
	if fragments[0].Metadata["chapter_id"] != "c2" {
		t.Fatalf("expected chapter metadata, got %+v", fragments[0].Metadata)
	}
}

func TestVectorBackendAppliesFilters(t *testing.T) {
	ctx := context.Background()
	embedder := &keywordEmbedder{keywords: []string{"ship", "storm", "crew", "harbor"}}
	backend := NewVectorBackend(inmemory.New(), embedder, 0)

	if err := backend.IndexBook(ctx, testBook()); err != nil {
		t.Fatalf("IndexBook error: %v", err)
	}

	filters := []Filter{{Field: "chapter_id", Value: "c1", Operator: "equals"}}
	fragments, err := backend.Query(ctx, "the ship", filters, 5)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	for _, f := range fragments {
		if f.Metadata["chapter_id"] != "c1" {
			t.Fatalf("filter leaked chapter %v", f.Metadata["chapter_id"])
		}
	}
	if len(fragments) == 0 {
		t.Fatalf("expected chapter-one fragments")
	}
}
