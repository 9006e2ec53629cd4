package app

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/sweetpotato0/bookrag/contrib/session/inmemory"
	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/message"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/input"
	"github.com/sweetpotato0/bookrag/rag/intent"
)

type cannedLLM struct {
	response string
	err      error
	calls    int
}

func (s *cannedLLM) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return message.NewMessage(message.RoleAssistant, s.response), nil
}

func (s *cannedLLM) SetTemperature(temp float64) {}
func (s *cannedLLM) SetMaxTokens(max int64)      {}
func (s *cannedLLM) SetModel(model string)       {}

type fixedStore struct {
	fragments []evidence.Fragment
	queries   int
}

func (s *fixedStore) Query(ctx context.Context, text string, filters []evidence.Filter, topK int) ([]evidence.Fragment, error) {
	s.queries++
	return s.fragments, nil
}

func ragClients(intentResp, reflectResp, answer string) Clients {
	return Clients{
		Intent:     &cannedLLM{response: intentResp},
		Planner:    &cannedLLM{err: stderrors.New("planner model down")},
		Reflection: &cannedLLM{response: reflectResp},
		Writer:     &cannedLLM{response: answer},
	}
}

func TestAskSelectedTextSatisfiedFirstIteration(t *testing.T) {
	store := &fixedStore{fragments: []evidence.Fragment{
		{Text: "ml studies algorithms", Metadata: map[string]any{"score": 0.95}},
		{Text: "ml learns from data", Metadata: map[string]any{"score": 0.85}},
		{Text: "ml builds models", Metadata: map[string]any{"score": 0.75}},
	}}
	clients := ragClients(
		`{"intent": "RAG_SPECIFIC_TEXT", "confidence": "high"}`,
		`{"overall_satisfaction": 4, "is_satisfactory": true}`,
		"Machine learning studies algorithms that learn from data.",
	)

	a, err := New(clients, store)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := a.Ask(context.Background(), &input.Request{
		Query:        "What does machine learning study?",
		SelectedText: &input.SelectedText{Text: "Machine learning is a field of study."},
	})
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}

	if resp.Intent != intent.RAGSpecificText {
		t.Fatalf("unexpected intent: %s", resp.Intent)
	}
	if !resp.ProcessInfo.RAGUsed {
		t.Fatalf("expected retrieval to run")
	}
	info := resp.ProcessInfo.PlanningInfo
	if info == nil || info.FinalIteration != 1 || len(info.Iterations) != 1 {
		t.Fatalf("expected one iteration, got %+v", info)
	}
	if info.Iterations[0].FragmentCount != 3 {
		t.Fatalf("expected 3 fragments, got %d", info.Iterations[0].FragmentCount)
	}
	if resp.ProcessInfo.Reflection == nil || !resp.ProcessInfo.Reflection.Satisfied {
		t.Fatalf("expected satisfied verdict, got %+v", resp.ProcessInfo.Reflection)
	}
	if store.queries != 1 {
		t.Fatalf("expected one retrieval, got %d", store.queries)
	}
}

func TestAskEmptyEvidenceExhaustsBudget(t *testing.T) {
	store := &fixedStore{} // never returns evidence
	clients := ragClients(
		`{"intent": "RAG_BOOK_GENERAL", "confidence": "medium"}`,
		"never called",
		"I could not find relevant passages for that.",
	)

	a, err := New(clients, store)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := a.Ask(context.Background(), &input.Request{
		Query:         "What does machine learning study?",
		MaxIterations: 3,
	})
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}

	info := resp.ProcessInfo.PlanningInfo
	if info == nil || info.FinalIteration != 3 || len(info.Iterations) != 3 {
		t.Fatalf("expected 3 iterations with final_iteration 3, got %+v", info)
	}
	if store.queries != 3 {
		t.Fatalf("expected 3 retrieval rounds, got %d", store.queries)
	}
	if resp.ProcessInfo.Reflection.Satisfied {
		t.Fatalf("empty evidence cannot end satisfied")
	}
	if resp.Response == "" {
		t.Fatalf("an answer must always be produced")
	}
}

func TestAskChitChatSkipsRetrieval(t *testing.T) {
	store := &fixedStore{}
	clients := ragClients(
		`{"intent": "CHIT_CHAT", "confidence": "high"}`,
		"never called",
		"Doing great, thanks for asking!",
	)

	a, err := New(clients, store)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	resp, err := a.Ask(context.Background(), &input.Request{Query: "how are you today?"})
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}

	if resp.ProcessInfo.RAGUsed {
		t.Fatalf("chit-chat must not use retrieval")
	}
	if resp.ProcessInfo.PlanningInfo != nil {
		t.Fatalf("chit-chat must not carry planning info")
	}
	if store.queries != 0 {
		t.Fatalf("store should never be queried, got %d", store.queries)
	}
	if resp.Response != "Doing great, thanks for asking!" {
		t.Fatalf("unexpected answer: %q", resp.Response)
	}
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	a, err := New(Clients{Default: &cannedLLM{response: "x"}}, &fixedStore{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := a.Ask(context.Background(), &input.Request{Query: "   "}); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewRequiresAModelClient(t *testing.T) {
	if _, err := New(Clients{}, &fixedStore{}); !stderrors.Is(err, errors.ErrNoModelClient) {
		t.Fatalf("expected ErrNoModelClient, got %v", err)
	}
}

func TestAskPersistsSessionHistory(t *testing.T) {
	sessions := inmemory.New()
	clients := ragClients(
		`{"intent": "CHIT_CHAT", "confidence": "high"}`,
		"never called",
		"hello there",
	)

	a, err := New(clients, &fixedStore{}, WithSessionStore(sessions))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Ask(ctx, &input.Request{Query: "hi", SessionID: "s1"}); err != nil {
			t.Fatalf("Ask error: %v", err)
		}
	}

	record, err := sessions.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(record.Turns) != 4 {
		t.Fatalf("expected 4 persisted turns after two exchanges, got %d", len(record.Turns))
	}
	question, answer := record.LastExchange()
	if question != "hi" || answer != "hello there" {
		t.Fatalf("unexpected last exchange: %q / %q", question, answer)
	}
}
