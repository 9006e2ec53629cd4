package loop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/message"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/input"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/planner"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
	"github.com/sweetpotato0/bookrag/rag/reflection"
	"github.com/sweetpotato0/bookrag/rag/retrieval"
)

// failingLLM errors on every call, pushing the planner onto its fallbacks.
// It records user prompts so tests can observe feedback threading.
type failingLLM struct {
	prompts []string
}

func (s *failingLLM) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	}
	return nil, errors.New("model unavailable")
}

func (s *failingLLM) SetTemperature(temp float64) {}
func (s *failingLLM) SetMaxTokens(max int64)      {}
func (s *failingLLM) SetModel(model string)       {}

// cannedLLM returns the same response on every call
type cannedLLM struct {
	response string
}

func (s *cannedLLM) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	return message.NewMessage(message.RoleAssistant, s.response), nil
}

func (s *cannedLLM) SetTemperature(temp float64) {}
func (s *cannedLLM) SetMaxTokens(max int64)      {}
func (s *cannedLLM) SetModel(model string)       {}

// countingStore serves fixed fragments and counts queries
type countingStore struct {
	fragments []evidence.Fragment
	queries   int
}

func (s *countingStore) Query(ctx context.Context, text string, filters []evidence.Filter, topK int) ([]evidence.Fragment, error) {
	s.queries++
	return s.fragments, nil
}

func questionContext(t *testing.T, selected string) *ragcontext.Context {
	t.Helper()
	req := &input.Request{Query: "What does machine learning study?"}
	if selected != "" {
		req.SelectedText = &input.SelectedText{Text: selected}
	}
	in, err := input.Normalize(req)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	return ragcontext.NewManager(nil).Build(context.Background(), in, nil)
}

func newController(planLLM, evalLLM llm.Client, store evidence.Store, maxIterations int) *Controller {
	return NewController(
		planner.New(planLLM),
		retrieval.NewExecutor(evidence.NewClient(store)),
		reflection.NewEvaluator(evalLLM, maxIterations),
		maxIterations,
	)
}

func TestLoopSatisfiedFirstIteration(t *testing.T) {
	store := &countingStore{fragments: []evidence.Fragment{
		{Text: "ml studies algorithms", Metadata: map[string]any{"score": 0.95}},
		{Text: "ml studies data", Metadata: map[string]any{"score": 0.85}},
		{Text: "ml studies models", Metadata: map[string]any{"score": 0.75}},
	}}
	evalLLM := &cannedLLM{response: `{"overall_satisfaction": 4, "is_satisfactory": true}`}

	c := newController(&failingLLM{}, evalLLM, store, 3)
	result, err := c.Run(context.Background(), "What does machine learning study?",
		&intent.Result{Intent: intent.RAGSpecificText}, questionContext(t, "some passage"))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(result.Summary.Iterations) != 1 || result.Summary.FinalIteration != 1 {
		t.Fatalf("expected exactly one iteration, got %+v", result.Summary)
	}
	if len(result.Fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(result.Fragments))
	}
	for _, f := range result.Fragments {
		if f.SourceQuery == "" || f.QueryPurpose == "" {
			t.Fatalf("fragment missing provenance: %+v", f)
		}
	}
	if !result.Verdict.Satisfied {
		t.Fatalf("expected satisfied verdict")
	}
	if store.queries != 1 {
		t.Fatalf("expected a single retrieval, got %d", store.queries)
	}
}

func TestLoopEmptyEvidenceRunsFullBudget(t *testing.T) {
	store := &countingStore{} // always empty
	evalLLM := &cannedLLM{response: "should never be called"}

	c := newController(&failingLLM{}, evalLLM, store, 3)
	result, err := c.Run(context.Background(), "What does machine learning study?",
		&intent.Result{Intent: intent.RAGBookGeneral}, questionContext(t, ""))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(result.Summary.Iterations) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(result.Summary.Iterations))
	}
	if result.Summary.FinalIteration != 3 {
		t.Fatalf("expected final_iteration 3, got %d", result.Summary.FinalIteration)
	}
	if store.queries != 3 {
		t.Fatalf("expected 3 planning rounds hence 3 retrievals, got %d", store.queries)
	}
	if result.Verdict.Satisfied {
		t.Fatalf("empty evidence cannot end satisfied")
	}
	if result.Verdict.SkipReason != reflection.SkipNoEvidence {
		t.Fatalf("unexpected skip reason: %q", result.Verdict.SkipReason)
	}
	if len(result.Fragments) != 0 {
		t.Fatalf("expected no fragments, got %d", len(result.Fragments))
	}
}

func TestLoopNeverSatisfiedTerminatesAtBudget(t *testing.T) {
	store := &countingStore{fragments: []evidence.Fragment{
		{Text: "weak evidence", Metadata: map[string]any{"score": 0.2}},
	}}
	evalLLM := &cannedLLM{response: `{"overall_satisfaction": 1, "is_satisfactory": false, "improvement_suggestions": "try synonyms for the key terms"}`}

	planLLM := &failingLLM{}
	c := newController(planLLM, evalLLM, store, 4)
	result, err := c.Run(context.Background(), "What does machine learning study?",
		&intent.Result{Intent: intent.RAGBookGeneral}, questionContext(t, ""))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if got := len(result.Summary.Iterations); got != 4 {
		t.Fatalf("expected 4 iterations, got %d", got)
	}
	if result.Summary.FinalIteration != 4 {
		t.Fatalf("expected final_iteration 4, got %d", result.Summary.FinalIteration)
	}
	for i, record := range result.Summary.Iterations {
		if record.Iteration != i {
			t.Fatalf("iteration records out of order: %+v", record)
		}
		if record.Satisfied {
			t.Fatalf("no iteration should be satisfied")
		}
	}

	// Verdict feedback must reach replanning prompts
	var feedbackSeen bool
	for _, prompt := range planLLM.prompts {
		if strings.Contains(prompt, "try synonyms for the key terms") {
			feedbackSeen = true
			break
		}
	}
	if !feedbackSeen {
		t.Fatalf("reflection feedback never reached the planner")
	}
}

func TestLoopRepairsEmptyPlan(t *testing.T) {
	// A blank question defeats every planner fallback, so the controller
	// must substitute the default query.
	store := &countingStore{fragments: []evidence.Fragment{
		{Text: "something", Metadata: map[string]any{"score": 0.9}},
	}}
	evalLLM := &cannedLLM{response: `{"overall_satisfaction": 4, "is_satisfactory": true}`}

	c := newController(&failingLLM{}, evalLLM, store, 2)
	result, err := c.Run(context.Background(), "", &intent.Result{Intent: intent.RAGBookGeneral}, questionContext(t, ""))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	record := result.Summary.Iterations[0]
	if len(record.Plan.Queries) != 1 {
		t.Fatalf("expected a single substituted query, got %+v", record.Plan.Queries)
	}
	if record.Plan.Queries[0].Purpose != "default query" {
		t.Fatalf("expected default query substitution, got %+v", record.Plan.Queries[0])
	}
}

func TestLoopHonorsSingleIterationBudget(t *testing.T) {
	store := &countingStore{}
	evalLLM := &cannedLLM{response: "never called"}

	c := newController(&failingLLM{}, evalLLM, store, 1)
	result, err := c.Run(context.Background(), "q?", &intent.Result{Intent: intent.RAGBookGeneral}, questionContext(t, ""))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(result.Summary.Iterations) != 1 || result.Summary.FinalIteration != 1 {
		t.Fatalf("budget of 1 must yield exactly one iteration: %+v", result.Summary)
	}
}
