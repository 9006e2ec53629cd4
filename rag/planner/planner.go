// Package planner turns a question into a concrete retrieval plan through
// four chained stages: slot extraction, query rewrite, strategy selection,
// and final query generation. Every stage calls the model and falls back to
// a documented degraded result when the call or its output fails, so
// planning as a whole never hard-fails. A degraded plan beats no plan.
package planner

import (
	"context"

	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
)

// Stage names used as trace keys
const (
	StageSlotExtraction  = "slot_extraction"
	StageQueryRewrite    = "query_rewrite"
	StageStrategy        = "strategy_selection"
	StageFinalGeneration = "final_query_generation"
)

// PlannedQuery is one concrete retrieval request
type PlannedQuery struct {
	QueryText           string            `json:"query_text"`
	MetadataFilters     []evidence.Filter `json:"metadata_filters,omitempty"`
	Purpose             string            `json:"purpose"`
	TopK                int               `json:"top_k,omitempty"`
	SimilarityThreshold float64           `json:"similarity_threshold,omitempty"`
}

// StageTrace records one stage's input and output for observability.
// Nothing downstream consumes it.
type StageTrace struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Plan is one iteration's retrieval plan
type Plan struct {
	Queries       []PlannedQuery        `json:"queries"`
	ExecutionPlan string                `json:"execution_plan,omitempty"`
	Trace         map[string]StageTrace `json:"trace,omitempty"`
}

// Planner produces retrieval plans from questions
type Planner struct {
	client llm.Client
}

// New creates a planner with an injected model client
func New(client llm.Client) *Planner {
	return &Planner{client: client}
}

// Plan runs the four planning stages. feedback is the prior iteration's
// improvement suggestion, empty on the first round; it enters the pipeline
// at slot extraction only. Plan never fails, but it may return zero
// queries when even the fallbacks had nothing to work with; the loop
// controller substitutes a default query in that case.
func (p *Planner) Plan(ctx context.Context, question string, res *intent.Result, qc *ragcontext.Context, feedback string) *Plan {
	log := logging.WithComponent("planner")
	trace := make(map[string]StageTrace, 4)

	slots, slotTrace := p.extractSlots(ctx, question, qc, feedback)
	trace[StageSlotExtraction] = slotTrace

	rewrite, rewriteTrace := p.rewriteQuery(ctx, question, slots, res, qc)
	trace[StageQueryRewrite] = rewriteTrace

	strategy, strategyTrace := p.selectStrategy(ctx, rewrite.OptimizedMainQuery, res, qc)
	trace[StageStrategy] = strategyTrace

	queries, executionPlan, finalTrace := p.generateFinalQueries(ctx, rewrite, strategy)
	trace[StageFinalGeneration] = finalTrace

	// Retrieval parameters from the strategy apply to every final query
	// that did not set its own.
	for i := range queries {
		if queries[i].TopK <= 0 {
			queries[i].TopK = strategy.RetrievalParams.TopK
		}
		if queries[i].SimilarityThreshold <= 0 {
			queries[i].SimilarityThreshold = strategy.RetrievalParams.SimilarityThreshold
		}
	}

	log.Debug("plan produced",
		"question", question,
		"queries", len(queries),
		"scope", strategy.RetrievalScope)

	return &Plan{
		Queries:       queries,
		ExecutionPlan: executionPlan,
		Trace:         trace,
	}
}
