// Package reflection judges whether a round's retrieved evidence suffices
// to answer the question. Two short-circuits guarantee the loop terminates
// regardless of model behavior: the iteration budget forces acceptance, and
// empty evidence is rejected without a model call. Evaluation failures
// accept the evidence rather than risk endless replanning; the verdict's
// SkipReason distinguishes these accepted-by-default outcomes from genuine
// satisfaction.
package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
)

// SkipReason values for verdicts produced without a real evaluation
const (
	SkipMaxIterations = "max_iterations_reached"
	SkipNoEvidence    = "no_evidence"
	SkipEvalError     = "evaluation_error"
)

// DefaultMaxIterations bounds the loop when the caller does not
const DefaultMaxIterations = 3

// scoreThreshold is the overall score a verdict must reach when the model
// omits its own satisfaction boolean, on the 1-5 scale the prompt requests
const scoreThreshold = 3.0

// broadenSuggestion is the fixed feedback for rounds that found nothing
const broadenSuggestion = "No evidence was retrieved. Broaden the retrieval scope and use more general search terms."

// maxEvaluatedFragments caps how many fragments enter the evaluation
// prompt, taken in arrival order
const maxEvaluatedFragments = 5

// Verdict is one iteration's satisfaction judgment. Suggestions is
// non-empty exactly when Satisfied is false.
type Verdict struct {
	RelevanceScore    float64 `json:"relevance_score"`
	CompletenessScore float64 `json:"completeness_score"`
	AccuracyScore     float64 `json:"accuracy_score"`
	ContextMatchScore float64 `json:"context_match_score"`
	OverallScore      float64 `json:"overall_score"`
	Satisfied         bool    `json:"satisfied"`
	Suggestions       string  `json:"improvement_suggestions,omitempty"`
	SkipReason        string  `json:"skip_reason,omitempty"`
}

const systemPrompt = `You evaluate whether retrieved book passages suffice to answer a reader's question.
Score each dimension from 1 (useless) to 5 (excellent) and judge overall sufficiency.
Respond with a JSON object:
{
  "relevance_score": 1-5,
  "completeness_score": 1-5,
  "accuracy_score": 1-5,
  "context_match_score": 1-5,
  "overall_satisfaction": 1-5,
  "is_satisfactory": true|false,
  "improvement_suggestions": "how to retrieve better evidence, empty if satisfactory"
}`

type wireVerdict struct {
	RelevanceScore         float64 `json:"relevance_score"`
	CompletenessScore      float64 `json:"completeness_score"`
	AccuracyScore          float64 `json:"accuracy_score"`
	ContextMatchScore      float64 `json:"context_match_score"`
	OverallSatisfaction    float64 `json:"overall_satisfaction"`
	IsSatisfactory         *bool   `json:"is_satisfactory"`
	ImprovementSuggestions string  `json:"improvement_suggestions"`
}

// Evaluator produces verdicts over retrieved evidence
type Evaluator struct {
	client        llm.Client
	maxIterations int
}

// NewEvaluator creates an evaluator. maxIterations below 1 falls back to
// the default budget.
func NewEvaluator(client llm.Client, maxIterations int) *Evaluator {
	if maxIterations < 1 {
		maxIterations = DefaultMaxIterations
	}
	return &Evaluator{client: client, maxIterations: maxIterations}
}

// Evaluate judges one round's evidence. iteration is zero-based.
func (e *Evaluator) Evaluate(ctx context.Context, question string, res *intent.Result, fragments []evidence.Fragment, qc *ragcontext.Context, iteration int) *Verdict {
	log := logging.WithComponent("reflection")

	if iteration >= e.maxIterations {
		log.Debug("iteration budget exhausted, accepting evidence", "iteration", iteration)
		return &Verdict{Satisfied: true, SkipReason: SkipMaxIterations}
	}

	if len(fragments) == 0 {
		return &Verdict{
			Satisfied:   false,
			Suggestions: broadenSuggestion,
			SkipReason:  SkipNoEvidence,
		}
	}

	raw, err := llm.Complete(ctx, e.client, systemPrompt, e.userPrompt(question, res, fragments, qc))
	if err != nil {
		log.Warn("evaluation call failed, accepting evidence", "error", err)
		return &Verdict{Satisfied: true, SkipReason: SkipEvalError}
	}
	parsed, err := llm.DecodeBlock[wireVerdict](raw)
	if err != nil {
		log.Warn("evaluation output unparseable, accepting evidence", "error", err)
		return &Verdict{Satisfied: true, SkipReason: SkipEvalError}
	}

	satisfied := parsed.OverallSatisfaction >= scoreThreshold
	if parsed.IsSatisfactory != nil {
		satisfied = *parsed.IsSatisfactory
	}

	verdict := &Verdict{
		RelevanceScore:    parsed.RelevanceScore,
		CompletenessScore: parsed.CompletenessScore,
		AccuracyScore:     parsed.AccuracyScore,
		ContextMatchScore: parsed.ContextMatchScore,
		OverallScore:      parsed.OverallSatisfaction,
		Satisfied:         satisfied,
	}
	if !satisfied {
		verdict.Suggestions = strings.TrimSpace(parsed.ImprovementSuggestions)
		if verdict.Suggestions == "" {
			verdict.Suggestions = broadenSuggestion
		}
	}
	return verdict
}

func (e *Evaluator) userPrompt(question string, res *intent.Result, fragments []evidence.Fragment, qc *ragcontext.Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	if res != nil {
		fmt.Fprintf(&sb, "Intent: %s\n", res.Intent)
	}
	if qc.HasSelectedText() {
		fmt.Fprintf(&sb, "The reader selected: %s\n", qc.Selected.SelectedText)
	}

	limit := len(fragments)
	if limit > maxEvaluatedFragments {
		limit = maxEvaluatedFragments
	}
	fmt.Fprintf(&sb, "Retrieved passages (%d of %d):\n", limit, len(fragments))
	for i := 0; i < limit; i++ {
		f := fragments[i]
		fmt.Fprintf(&sb, "[%d] (score %.2f, from query %q, purpose %q)\n%s\n",
			i+1, f.Score(), f.SourceQuery, f.QueryPurpose, f.Text)
	}
	return sb.String()
}
