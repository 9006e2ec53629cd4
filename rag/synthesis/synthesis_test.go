package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/bookrag/message"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/input"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
)

type stubLLM struct {
	response string
	err      error
	lastUser string
}

func (s *stubLLM) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	if len(messages) > 0 {
		s.lastUser = messages[len(messages)-1].Content
	}
	if s.err != nil {
		return nil, s.err
	}
	return message.NewMessage(message.RoleAssistant, s.response), nil
}

func (s *stubLLM) SetTemperature(temp float64) {}
func (s *stubLLM) SetMaxTokens(max int64)      {}
func (s *stubLLM) SetModel(model string)       {}

// wordTokenizer counts whitespace-separated words
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func plainContext(t *testing.T) *ragcontext.Context {
	t.Helper()
	in, err := input.Normalize(&input.Request{Query: "q"})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	return ragcontext.NewManager(nil).Build(context.Background(), in, nil)
}

func TestSynthesizeOrdersFragmentsByScore(t *testing.T) {
	stub := &stubLLM{response: "the answer"}
	fragments := []evidence.Fragment{
		{Text: "low scoring passage", Metadata: map[string]any{"score": 0.2}},
		{Text: "high scoring passage", Metadata: map[string]any{"score": 0.9}},
	}

	answer := NewSynthesizer(stub, nil, 0).Synthesize(context.Background(), "q",
		&intent.Result{Intent: intent.RAGBookGeneral}, fragments, plainContext(t))

	if answer != "the answer" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	high := strings.Index(stub.lastUser, "high scoring passage")
	low := strings.Index(stub.lastUser, "low scoring passage")
	if high < 0 || low < 0 || high > low {
		t.Fatalf("fragments not score-ordered in prompt:\n%s", stub.lastUser)
	}
}

func TestSynthesizeRespectsTokenBudget(t *testing.T) {
	stub := &stubLLM{response: "ok"}
	fragments := []evidence.Fragment{
		{Text: "first passage kept", Metadata: map[string]any{"score": 0.9}},
		{Text: strings.Repeat("word ", 50), Metadata: map[string]any{"score": 0.8}},
	}

	NewSynthesizer(stub, wordTokenizer{}, 10).Synthesize(context.Background(), "q",
		nil, fragments, plainContext(t))

	if !strings.Contains(stub.lastUser, "first passage kept") {
		t.Fatalf("highest-scoring fragment missing from prompt")
	}
	if strings.Contains(stub.lastUser, strings.Repeat("word ", 50)) {
		t.Fatalf("budget-exceeding fragment should have been dropped")
	}
}

func TestSynthesizeFailsOpenToApology(t *testing.T) {
	stub := &stubLLM{err: errors.New("model down")}
	answer := NewSynthesizer(stub, nil, 0).Synthesize(context.Background(), "q", nil, nil, plainContext(t))
	if answer != apologyAnswer {
		t.Fatalf("expected apology answer, got %q", answer)
	}
}

func TestSystemPromptConditionsOnIntent(t *testing.T) {
	s := NewSynthesizer(&stubLLM{}, nil, 0)

	definition := s.systemPrompt(&intent.Result{Intent: intent.ToolRequestDefinition})
	if !strings.Contains(definition, "definition") {
		t.Fatalf("definition intent not reflected: %q", definition)
	}
	selected := s.systemPrompt(&intent.Result{Intent: intent.RAGSpecificText})
	if !strings.Contains(selected, "selected") {
		t.Fatalf("selected-text intent not reflected: %q", selected)
	}
}

func TestChitChatUsesConversation(t *testing.T) {
	stub := &stubLLM{response: "hello!"}
	in, _ := input.Normalize(&input.Request{
		Query: "hi",
		ConversationHistory: []input.HistoryTurn{
			{Role: "user", Content: "good morning"},
			{Role: "assistant", Content: "morning!"},
		},
	})
	qc := ragcontext.NewManager(nil).Build(context.Background(), in, nil)

	answer := NewSynthesizer(stub, nil, 0).ChitChat(context.Background(), "hi", qc)
	if answer != "hello!" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if !strings.Contains(stub.lastUser, "good morning") {
		t.Fatalf("conversation summary missing from prompt")
	}
}
