package evidence

import (
	"context"
	"errors"
	"testing"
)

type stubStore struct {
	fragments []Fragment
	err       error
	lastTopK  int
}

func (s *stubStore) Query(ctx context.Context, text string, filters []Filter, topK int) ([]Fragment, error) {
	s.lastTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.fragments, nil
}

func TestClientReturnsFragments(t *testing.T) {
	store := &stubStore{fragments: []Fragment{
		{Text: "one", Metadata: map[string]any{"score": 0.9}},
		{Text: "two", Metadata: map[string]any{"score": 0.8}},
	}}
	result := NewClient(store).Query(context.Background(), "q", nil, 5)

	if len(result.Fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(result.Fragments))
	}
	if result.Annotations != nil {
		t.Fatalf("unexpected annotations: %+v", result.Annotations)
	}
	if got := result.Fragments[0].Score(); got != 0.9 {
		t.Fatalf("unexpected score: %f", got)
	}
}

func TestClientNeverFails(t *testing.T) {
	store := &stubStore{err: errors.New("backend down")}
	result := NewClient(store).Query(context.Background(), "q", nil, 5)

	if len(result.Fragments) != 0 {
		t.Fatalf("expected empty fragments on backend failure")
	}
	if result.Annotations["error"] == nil {
		t.Fatalf("expected error annotation, got %+v", result.Annotations)
	}
}

func TestClientClampsTopK(t *testing.T) {
	store := &stubStore{}
	NewClient(store).Query(context.Background(), "q", nil, 0)
	if store.lastTopK != DefaultTopK {
		t.Fatalf("expected default topK %d, got %d", DefaultTopK, store.lastTopK)
	}
}

func TestClientTruncatesOverlongResults(t *testing.T) {
	store := &stubStore{fragments: []Fragment{{Text: "a"}, {Text: "b"}, {Text: "c"}}}
	result := NewClient(store).Query(context.Background(), "q", nil, 2)
	if len(result.Fragments) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(result.Fragments))
	}
}

func TestMatchesFilters(t *testing.T) {
	metadata := map[string]any{
		"chapter_id":      "c1",
		"chapter_title":   "The Storm at Sea",
		"paragraph_index": 7,
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equals match", Filter{Field: "chapter_id", Value: "c1", Operator: "equals"}, true},
		{"equals mismatch", Filter{Field: "chapter_id", Value: "c2", Operator: "equals"}, false},
		{"contains match", Filter{Field: "chapter_title", Value: "storm", Operator: "contains"}, true},
		{"greater_than match", Filter{Field: "paragraph_index", Value: 5, Operator: "greater_than"}, true},
		{"greater_than mismatch", Filter{Field: "paragraph_index", Value: 7, Operator: "greater_than"}, false},
		{"missing field", Filter{Field: "section_title", Value: "x", Operator: "equals"}, false},
	}
	for _, tc := range cases {
		if got := matchesFilters(metadata, []Filter{tc.filter}); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
