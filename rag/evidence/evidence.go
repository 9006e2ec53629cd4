// Package evidence defines retrieved text fragments and the store client
// the retrieval loop queries. The client is the pipeline's only touchpoint
// with the retrieval backend and it never fails: backend errors come back
// as an empty result with an error annotation, because the loop treats
// missing evidence as a planning problem, not an infrastructure one.
package evidence

import (
	"context"

	"github.com/sweetpotato0/bookrag/pkg/logging"
)

// DefaultTopK caps results per query when a plan does not say otherwise
const DefaultTopK = 5

// Filter is one metadata constraint on a retrieval query. Operator
// semantics are backend-defined; equals, contains and greater_than are the
// conventional values.
type Filter struct {
	Field    string `json:"field"`
	Value    any    `json:"value"`
	Operator string `json:"operator"`
}

// Fragment is one retrieved unit of book text. SourceQuery and QueryPurpose
// are attached by the retrieval executor, not the backend.
type Fragment struct {
	Text         string         `json:"text"`
	Metadata     map[string]any `json:"metadata"`
	SourceQuery  string         `json:"source_query,omitempty"`
	QueryPurpose string         `json:"query_purpose,omitempty"`
}

// Score returns the relevance score from metadata, 0 when absent
func (f *Fragment) Score() float64 {
	if f.Metadata == nil {
		return 0
	}
	switch v := f.Metadata["score"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Store executes a single retrieval request against a backend
type Store interface {
	// Query returns at most topK fragments for the query text, each with a
	// numeric relevance score in metadata
	Query(ctx context.Context, text string, filters []Filter, topK int) ([]Fragment, error)
}

// QueryResult is one client call's outcome. Annotations carries an "error"
// entry when the backend failed; Fragments is then empty.
type QueryResult struct {
	Fragments   []Fragment
	Annotations map[string]any
}

// Client wraps a Store with the pipeline's failure policy
type Client struct {
	store Store
}

// NewClient creates an evidence store client
func NewClient(store Store) *Client {
	return &Client{store: store}
}

// Query runs one retrieval request. It never returns an error: a backend
// failure yields an empty fragment list with the error recorded in the
// result annotations.
func (c *Client) Query(ctx context.Context, text string, filters []Filter, topK int) *QueryResult {
	if topK < 1 {
		topK = DefaultTopK
	}
	if c.store == nil {
		return &QueryResult{Annotations: map[string]any{"error": "no evidence store configured"}}
	}

	fragments, err := c.store.Query(ctx, text, filters, topK)
	if err != nil {
		logging.WithComponent("evidence").Warn("retrieval backend failed",
			"query", text,
			"error", err)
		return &QueryResult{Annotations: map[string]any{"error": err.Error()}}
	}
	if len(fragments) > topK {
		fragments = fragments[:topK]
	}
	return &QueryResult{Fragments: fragments}
}
