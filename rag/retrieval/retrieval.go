// Package retrieval executes a retrieval plan: every planned query runs
// against the evidence store in plan order and the results merge into one
// fragment collection with per-query provenance.
package retrieval

import (
	"context"

	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/planner"
)

// PerQuery summarizes one planned query's execution
type PerQuery struct {
	Query         planner.PlannedQuery `json:"query"`
	FragmentCount int                  `json:"fragment_count"`
	Annotations   map[string]any       `json:"annotations,omitempty"`
}

// Result is one plan execution's merged output. Fragments preserve query
// order, and per-query result order within each query.
type Result struct {
	Fragments []evidence.Fragment `json:"fragments"`
	PerQuery  []PerQuery          `json:"per_query"`
}

// Executor runs plans through an evidence store client
type Executor struct {
	client *evidence.Client
}

// NewExecutor creates a retrieval executor
func NewExecutor(client *evidence.Client) *Executor {
	return &Executor{client: client}
}

// Execute runs every planned query in order. Each returned fragment is
// tagged with the query text and purpose that produced it. An empty plan
// yields an empty result; the loop controller prevents that upstream.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan) *Result {
	log := logging.WithComponent("retrieval")
	result := &Result{}
	if plan == nil {
		return result
	}

	for _, q := range plan.Queries {
		topK := q.TopK
		if topK < 1 {
			topK = evidence.DefaultTopK
		}

		queryResult := e.client.Query(ctx, q.QueryText, q.MetadataFilters, topK)
		for _, fragment := range queryResult.Fragments {
			fragment.SourceQuery = q.QueryText
			fragment.QueryPurpose = q.Purpose
			result.Fragments = append(result.Fragments, fragment)
		}
		result.PerQuery = append(result.PerQuery, PerQuery{
			Query:         q,
			FragmentCount: len(queryResult.Fragments),
			Annotations:   queryResult.Annotations,
		})

		log.Debug("query executed",
			"query", q.QueryText,
			"purpose", q.Purpose,
			"fragments", len(queryResult.Fragments))
	}
	return result
}
