package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
)

const (
	defaultTopK      = 5
	defaultThreshold = 0.7

	scopeSelectedText = "selected_text"
	scopeChapter      = "current_chapter"
	scopeWholeBook    = "whole_book"
)

type slotResult struct {
	QuestionType        string   `json:"question_type"`
	KeyEntities         []string `json:"key_entities"`
	QuestionFocus       string   `json:"question_focus"`
	TemporalSpatialInfo string   `json:"temporal_spatial_info"`
	ImplicitIntent      string   `json:"implicit_intent"`
}

type rewriteResult struct {
	OptimizedMainQuery   string   `json:"optimized_main_query"`
	SupplementaryQueries []string `json:"supplementary_queries"`
	RewriteExplanation   string   `json:"rewrite_explanation"`
}

type retrievalParams struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

type strategyResult struct {
	RetrievalScope          string            `json:"retrieval_scope"`
	DecomposeIntoSubqueries bool              `json:"decompose_into_subqueries"`
	Subqueries              []string          `json:"subqueries"`
	MetadataFilters         []evidence.Filter `json:"metadata_filters"`
	RetrievalParams         retrievalParams   `json:"retrieval_params"`
	SpecialHandling         string            `json:"special_handling"`
}

type finalResult struct {
	FinalQueries  []PlannedQuery `json:"final_queries"`
	ExecutionPlan string         `json:"execution_plan"`
}

const slotSystemPrompt = `You analyze a reader's question about a book and extract its retrieval slots.
Respond with a JSON object:
{
  "question_type": "factual|interpretive|comparative|other",
  "key_entities": ["..."],
  "question_focus": "what the question is really after",
  "temporal_spatial_info": "any time or place constraints, or empty",
  "implicit_intent": "what the reader implicitly wants, or empty"
}`

func (p *Planner) extractSlots(ctx context.Context, question string, qc *ragcontext.Context, feedback string) (*slotResult, StageTrace) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	if qc.HasSelectedText() {
		fmt.Fprintf(&sb, "Selected passage: %s\n", qc.Selected.SelectedText)
	}
	if summary := qc.ConversationSummary(); summary != "" {
		fmt.Fprintf(&sb, "Conversation so far:\n%s\n", summary)
	}
	if feedback != "" {
		fmt.Fprintf(&sb, "A previous retrieval attempt was judged insufficient. Reviewer feedback: %s\n", feedback)
	}
	prompt := sb.String()

	raw, err := llm.Complete(ctx, p.client, slotSystemPrompt, prompt)
	if err == nil {
		if parsed, perr := llm.DecodeBlock[slotResult](raw); perr == nil {
			return parsed, StageTrace{Input: trimForLog(prompt), Output: trimForLog(raw)}
		}
	}
	// Degraded slots keep the pipeline moving with the raw question only
	return &slotResult{}, StageTrace{Input: trimForLog(prompt), Output: "fallback: empty slots", Fallback: true}
}

const rewriteSystemPrompt = `You rewrite a reader's question into retrieval queries against a book index.
Produce one optimized main query and up to two supplementary queries.
Respond with a JSON object:
{
  "optimized_main_query": "...",
  "supplementary_queries": ["..."],
  "rewrite_explanation": "one sentence"
}`

func (p *Planner) rewriteQuery(ctx context.Context, question string, slots *slotResult, res *intent.Result, qc *ragcontext.Context) (*rewriteResult, StageTrace) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	if res != nil {
		fmt.Fprintf(&sb, "Intent: %s\n", res.Intent)
	}
	if len(slots.KeyEntities) > 0 {
		fmt.Fprintf(&sb, "Key entities: %s\n", strings.Join(slots.KeyEntities, ", "))
	}
	if slots.QuestionFocus != "" {
		fmt.Fprintf(&sb, "Question focus: %s\n", slots.QuestionFocus)
	}
	if slots.ImplicitIntent != "" {
		fmt.Fprintf(&sb, "Implicit intent: %s\n", slots.ImplicitIntent)
	}
	if qc.HasSelectedText() {
		fmt.Fprintf(&sb, "Selected passage: %s\n", qc.Selected.SelectedText)
	}
	prompt := sb.String()

	raw, err := llm.Complete(ctx, p.client, rewriteSystemPrompt, prompt)
	if err == nil {
		if parsed, perr := llm.DecodeBlock[rewriteResult](raw); perr == nil {
			if strings.TrimSpace(parsed.OptimizedMainQuery) == "" {
				parsed.OptimizedMainQuery = question
			}
			if len(parsed.SupplementaryQueries) > 2 {
				parsed.SupplementaryQueries = parsed.SupplementaryQueries[:2]
			}
			return parsed, StageTrace{Input: trimForLog(prompt), Output: trimForLog(raw)}
		}
	}
	return &rewriteResult{OptimizedMainQuery: question},
		StageTrace{Input: trimForLog(prompt), Output: "fallback: verbatim question", Fallback: true}
}

const strategySystemPrompt = `You choose a retrieval strategy for a query against a book index.
Decide the scope (selected_text, current_chapter, or whole_book), whether to
decompose into subqueries, metadata filters over the given fields, and
retrieval parameters.
Respond with a JSON object:
{
  "retrieval_scope": "selected_text|current_chapter|whole_book",
  "decompose_into_subqueries": false,
  "subqueries": [],
  "metadata_filters": [{"field": "...", "value": "...", "operator": "equals|contains|greater_than"}],
  "retrieval_params": {"top_k": 5, "similarity_threshold": 0.7},
  "special_handling": ""
}`

func (p *Planner) selectStrategy(ctx context.Context, optimizedQuery string, res *intent.Result, qc *ragcontext.Context) (*strategyResult, StageTrace) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n", optimizedQuery)
	if res != nil {
		fmt.Fprintf(&sb, "Intent: %s\n", res.Intent)
	}
	fmt.Fprintf(&sb, "Selected text present: %v\n", qc.HasSelectedText())
	fmt.Fprintf(&sb, "Filterable metadata fields: %s\n", strings.Join(qc.MetadataSchema(), ", "))
	prompt := sb.String()

	raw, err := llm.Complete(ctx, p.client, strategySystemPrompt, prompt)
	if err == nil {
		if parsed, perr := llm.DecodeBlock[strategyResult](raw); perr == nil {
			if parsed.RetrievalParams.TopK <= 0 {
				parsed.RetrievalParams.TopK = defaultTopK
			}
			if parsed.RetrievalParams.SimilarityThreshold <= 0 {
				parsed.RetrievalParams.SimilarityThreshold = defaultThreshold
			}
			return parsed, StageTrace{Input: trimForLog(prompt), Output: trimForLog(raw)}
		}
	}
	return fallbackStrategy(qc), StageTrace{Input: trimForLog(prompt), Output: "fallback: scope heuristic", Fallback: true}
}

// fallbackStrategy is the scope heuristic used when the model gives no
// usable strategy: stay in the chapter when the reader selected text, else
// search the whole book.
func fallbackStrategy(qc *ragcontext.Context) *strategyResult {
	scope := scopeWholeBook
	if qc.HasSelectedText() {
		scope = scopeChapter
	}
	return &strategyResult{
		RetrievalScope: scope,
		RetrievalParams: retrievalParams{
			TopK:                defaultTopK,
			SimilarityThreshold: defaultThreshold,
		},
	}
}

const finalSystemPrompt = `You emit the final retrieval queries for a plan.
Given the optimized query and the chosen strategy, produce one entry per
subquery when decomposition was chosen, otherwise a single entry.
Respond with a JSON object:
{
  "final_queries": [
    {"query_text": "...", "metadata_filters": [...], "purpose": "..."}
  ],
  "execution_plan": "one sentence describing execution order"
}`

func (p *Planner) generateFinalQueries(ctx context.Context, rewrite *rewriteResult, strategy *strategyResult) ([]PlannedQuery, string, StageTrace) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Optimized query: %s\n", rewrite.OptimizedMainQuery)
	if len(rewrite.SupplementaryQueries) > 0 {
		fmt.Fprintf(&sb, "Supplementary queries: %s\n", strings.Join(rewrite.SupplementaryQueries, "; "))
	}
	fmt.Fprintf(&sb, "Retrieval scope: %s\n", strategy.RetrievalScope)
	fmt.Fprintf(&sb, "Decompose: %v\n", strategy.DecomposeIntoSubqueries)
	if len(strategy.Subqueries) > 0 {
		fmt.Fprintf(&sb, "Subqueries: %s\n", strings.Join(strategy.Subqueries, "; "))
	}
	if len(strategy.MetadataFilters) > 0 {
		fmt.Fprintf(&sb, "Metadata filters: %v\n", strategy.MetadataFilters)
	}
	prompt := sb.String()

	raw, err := llm.Complete(ctx, p.client, finalSystemPrompt, prompt)
	if err == nil {
		if parsed, perr := llm.DecodeBlock[finalResult](raw); perr == nil {
			queries := make([]PlannedQuery, 0, len(parsed.FinalQueries))
			for _, q := range parsed.FinalQueries {
				if strings.TrimSpace(q.QueryText) == "" {
					continue
				}
				if q.Purpose == "" {
					q.Purpose = "main query"
				}
				queries = append(queries, q)
			}
			if len(queries) > 0 {
				return queries, parsed.ExecutionPlan,
					StageTrace{Input: trimForLog(prompt), Output: trimForLog(raw)}
			}
		}
	}

	if strings.TrimSpace(rewrite.OptimizedMainQuery) == "" {
		return nil, "", StageTrace{Input: trimForLog(prompt), Output: "fallback: no usable query", Fallback: true}
	}
	fallback := []PlannedQuery{{
		QueryText:       rewrite.OptimizedMainQuery,
		MetadataFilters: strategy.MetadataFilters,
		Purpose:         "main query",
	}}
	return fallback, "single query, direct execution",
		StageTrace{Input: trimForLog(prompt), Output: "fallback: single main query", Fallback: true}
}

func trimForLog(s string) string {
	const max = 400
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
