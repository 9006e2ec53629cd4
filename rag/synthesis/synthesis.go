// Package synthesis turns retrieved evidence into the final answer. The
// highest-scoring fragments go into the prompt first, under a token budget,
// with an instruction conditioned on the question's intent. Model failures
// produce an apology answer, never an error.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
)

// DefaultMaxContextTokens bounds how much evidence enters the prompt
const DefaultMaxContextTokens = 3000

const apologyAnswer = "I'm sorry, I wasn't able to produce an answer this time. Please try asking again."

// Tokenizer counts prompt tokens for context budgeting
type Tokenizer interface {
	CountTokens(text string) int
}

// Synthesizer writes answers from evidence
type Synthesizer struct {
	client    llm.Client
	tokenizer Tokenizer
	maxTokens int
}

// NewSynthesizer creates a synthesizer. tokenizer may be nil; a character
// estimate then stands in for real token counts.
func NewSynthesizer(client llm.Client, tokenizer Tokenizer, maxContextTokens int) *Synthesizer {
	if maxContextTokens <= 0 {
		maxContextTokens = DefaultMaxContextTokens
	}
	return &Synthesizer{
		client:    client,
		tokenizer: tokenizer,
		maxTokens: maxContextTokens,
	}
}

// Synthesize writes the answer for a retrieval-backed question. It never
// fails; a model error yields an apology answer.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, res *intent.Result, fragments []evidence.Fragment, qc *ragcontext.Context) string {
	answer, err := llm.Complete(ctx, s.client, s.systemPrompt(res), s.userPrompt(question, fragments, qc))
	if err != nil {
		logging.WithComponent("synthesis").Warn("answer generation failed", "error", err)
		return apologyAnswer
	}
	if answer == "" {
		return apologyAnswer
	}
	return answer
}

// ChitChat answers casual questions without evidence
func (s *Synthesizer) ChitChat(ctx context.Context, question string, qc *ragcontext.Context) string {
	system := "You are a friendly reading companion. Reply briefly and naturally."
	var sb strings.Builder
	if summary := qc.ConversationSummary(); summary != "" {
		fmt.Fprintf(&sb, "Conversation so far:\n%s\n", summary)
	}
	fmt.Fprintf(&sb, "Reader: %s", question)

	answer, err := llm.Complete(ctx, s.client, system, sb.String())
	if err != nil || answer == "" {
		if err != nil {
			logging.WithComponent("synthesis").Warn("chit-chat generation failed", "error", err)
		}
		return apologyAnswer
	}
	return answer
}

func (s *Synthesizer) systemPrompt(res *intent.Result) string {
	base := "You answer a reader's question about a book using only the provided passages. Cite nothing the passages do not support; say so when they are insufficient."
	if res == nil {
		return base
	}
	switch res.Intent {
	case intent.RAGSpecificText:
		return base + " The question is about the passage the reader selected; anchor the answer there."
	case intent.ToolRequestDefinition:
		return base + " Answer as a concise definition."
	case intent.ToolRequestSummary:
		return base + " Answer as a structured summary."
	case intent.FollowUp:
		return base + " The question continues the prior conversation; keep that thread."
	}
	return base
}

func (s *Synthesizer) userPrompt(question string, fragments []evidence.Fragment, qc *ragcontext.Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	if qc.HasSelectedText() {
		fmt.Fprintf(&sb, "Selected passage: %s\n", qc.Selected.SelectedText)
	}
	if qc.Book != nil && qc.Book.BookTitle != "" {
		fmt.Fprintf(&sb, "Book: %s\n", qc.Book.BookTitle)
	}

	sorted := make([]evidence.Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score() > sorted[j].Score()
	})

	sb.WriteString("Passages:\n")
	budget := s.maxTokens
	for i, f := range sorted {
		block := fmt.Sprintf("[%d] %s\n", i+1, f.Text)
		cost := s.countTokens(block)
		if cost > budget {
			break
		}
		budget -= cost
		sb.WriteString(block)
	}
	return sb.String()
}

func (s *Synthesizer) countTokens(text string) int {
	if s.tokenizer != nil {
		return s.tokenizer.CountTokens(text)
	}
	// Rough character estimate when no tokenizer is configured
	return len(text)/4 + 1
}
