// Package loop runs the bounded plan-retrieve-reflect iteration. Each round
// plans queries, executes them, and judges the evidence; an unsatisfied
// verdict feeds its improvement suggestion back into the next round's
// planning. The round that satisfies the evaluator, or the last allowed
// round, supplies the evidence the answer stage consumes.
package loop

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/graph"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/planner"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
	"github.com/sweetpotato0/bookrag/rag/reflection"
	"github.com/sweetpotato0/bookrag/rag/retrieval"
)

const stateKey = "__bookrag_loop_state"

// IterationRecord logs one round for observability
type IterationRecord struct {
	Iteration     int           `json:"iteration"`
	Plan          *planner.Plan `json:"plan"`
	FragmentCount int           `json:"fragment_count"`
	Satisfied     bool          `json:"satisfied"`
}

// Summary is the loop's observable trace
type Summary struct {
	Iterations     []IterationRecord `json:"iterations"`
	FinalIteration int               `json:"final_iteration"` // 1-based
}

// Result is the loop's terminal output: the final round's evidence and
// verdict plus the full iteration trace
type Result struct {
	Fragments []evidence.Fragment
	Verdict   *reflection.Verdict
	Summary   *Summary
}

// Controller orchestrates the iteration
type Controller struct {
	planner       *planner.Planner
	executor      *retrieval.Executor
	evaluator     *reflection.Evaluator
	maxIterations int
}

// NewController creates a loop controller. maxIterations below 1 falls back
// to the reflection default.
func NewController(p *planner.Planner, executor *retrieval.Executor, evaluator *reflection.Evaluator, maxIterations int) *Controller {
	if maxIterations < 1 {
		maxIterations = reflection.DefaultMaxIterations
	}
	return &Controller{
		planner:       p,
		executor:      executor,
		evaluator:     evaluator,
		maxIterations: maxIterations,
	}
}

type loopState struct {
	question string
	res      *intent.Result
	qc       *ragcontext.Context

	iteration int
	feedback  string

	plan      *planner.Plan
	retrieved *retrieval.Result
	verdict   *reflection.Verdict

	records []IterationRecord
}

func getState(state graph.State) (*loopState, error) {
	ls, ok := state[stateKey].(*loopState)
	if !ok {
		return nil, fmt.Errorf("loop state missing: %w", errors.ErrInternal)
	}
	return ls, nil
}

// Run executes the loop for one question. The context is checked between
// stages only; a cancellation never interrupts a stage mid-flight.
func (c *Controller) Run(ctx context.Context, question string, res *intent.Result, qc *ragcontext.Context) (*Result, error) {
	log := logging.WithComponent("loop")

	g := graph.NewBuilder().
		AddNode("start", graph.NodeTypeStart, func(ctx context.Context, state graph.State) (graph.State, error) {
			return state, nil
		}).
		AddNode("plan", graph.NodeTypeLLM, c.planNode).
		AddNode("retrieve", graph.NodeTypeTool, c.retrieveNode).
		AddNode("reflect", graph.NodeTypeLLM, c.reflectNode).
		AddConditionNode("gate", c.gateCondition, map[string]string{
			"replan": "plan",
			"done":   "end",
		}).
		AddNode("end", graph.NodeTypeEnd, func(ctx context.Context, state graph.State) (graph.State, error) {
			return state, nil
		}).
		AddEdge("start", "plan").
		AddEdge("plan", "retrieve").
		AddEdge("retrieve", "reflect").
		AddEdge("reflect", "gate").
		SetStart("start").
		SetEnd("end").
		SetMaxVisits(c.maxIterations + 1).
		Build()

	ls := &loopState{question: question, res: res, qc: qc}
	if _, err := g.Execute(ctx, graph.State{stateKey: ls}); err != nil {
		return nil, err
	}

	log.Info("loop finished",
		"iterations", len(ls.records),
		"fragments", len(ls.retrieved.Fragments),
		"satisfied", ls.verdict.Satisfied)

	return &Result{
		Fragments: ls.retrieved.Fragments,
		Verdict:   ls.verdict,
		Summary: &Summary{
			Iterations:     ls.records,
			FinalIteration: ls.iteration + 1,
		},
	}, nil
}

func (c *Controller) planNode(ctx context.Context, state graph.State) (graph.State, error) {
	ls, err := getState(state)
	if err != nil {
		return nil, err
	}

	plan := c.planner.Plan(ctx, ls.question, ls.res, ls.qc, ls.feedback)
	if len(plan.Queries) == 0 {
		// An empty plan never proceeds; the raw question stands in
		plan.Queries = []planner.PlannedQuery{{
			QueryText: ls.question,
			Purpose:   "default query",
		}}
	}
	ls.plan = plan
	return state, nil
}

func (c *Controller) retrieveNode(ctx context.Context, state graph.State) (graph.State, error) {
	ls, err := getState(state)
	if err != nil {
		return nil, err
	}
	ls.retrieved = c.executor.Execute(ctx, ls.plan)
	return state, nil
}

func (c *Controller) reflectNode(ctx context.Context, state graph.State) (graph.State, error) {
	ls, err := getState(state)
	if err != nil {
		return nil, err
	}

	ls.verdict = c.evaluator.Evaluate(ctx, ls.question, ls.res, ls.retrieved.Fragments, ls.qc, ls.iteration)
	ls.records = append(ls.records, IterationRecord{
		Iteration:     ls.iteration,
		Plan:          ls.plan,
		FragmentCount: len(ls.retrieved.Fragments),
		Satisfied:     ls.verdict.Satisfied,
	})

	trace.SpanFromContext(ctx).AddEvent("retrieval_iteration", trace.WithAttributes(
		attribute.Int("iteration", ls.iteration),
		attribute.Int("queries", len(ls.plan.Queries)),
		attribute.Int("fragments", len(ls.retrieved.Fragments)),
		attribute.Bool("satisfied", ls.verdict.Satisfied),
	))
	logging.WithComponent("loop").Debug("iteration evaluated",
		"iteration", ls.iteration,
		"fragments", len(ls.retrieved.Fragments),
		"satisfied", ls.verdict.Satisfied)
	return state, nil
}

func (c *Controller) gateCondition(ctx context.Context, state graph.State) (string, error) {
	ls, err := getState(state)
	if err != nil {
		return "", err
	}

	if ls.verdict.Satisfied || ls.iteration == c.maxIterations-1 {
		return "done", nil
	}
	ls.feedback = ls.verdict.Suggestions
	ls.iteration++
	return "replan", nil
}
