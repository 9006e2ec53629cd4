// Package intent classifies what a reader's question is asking for. The
// classification only steers downstream policy (whether retrieval runs and
// how the answer is framed); a wrong label degrades quality, never crashes,
// so classification falls back to casual chat on any failure.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/input"
)

// Type enumerates question intents
type Type string

const (
	RAGSpecificText       Type = "RAG_SPECIFIC_TEXT"
	RAGBookGeneral        Type = "RAG_BOOK_GENERAL"
	ChitChat              Type = "CHIT_CHAT"
	ToolRequestDefinition Type = "TOOL_REQUEST_DEFINITION"
	ToolRequestSummary    Type = "TOOL_REQUEST_SUMMARY"
	FollowUp              Type = "FOLLOW_UP"
)

// Confidence is the classifier's self-reported certainty
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var knownTypes = map[Type]bool{
	RAGSpecificText:       true,
	RAGBookGeneral:        true,
	ChitChat:              true,
	ToolRequestDefinition: true,
	ToolRequestSummary:    true,
	FollowUp:              true,
}

// Result is one classification outcome
type Result struct {
	Intent      Type
	Confidence  Confidence
	Explanation string
}

// NeedsRetrieval reports whether the question should go through the
// retrieval pipeline. Only casual chat bypasses it.
func (r *Result) NeedsRetrieval() bool {
	return r.Intent != ChitChat
}

const systemPrompt = `You classify questions from a reader of a book into exactly one intent:
- RAG_SPECIFIC_TEXT: asks about a passage the reader selected
- RAG_BOOK_GENERAL: asks about the book's content in general
- CHIT_CHAT: casual conversation unrelated to the book's content
- TOOL_REQUEST_DEFINITION: asks for the definition of a term
- TOOL_REQUEST_SUMMARY: asks for a summary of a chapter or the book
- FOLLOW_UP: continues the previous question in the conversation

Respond with a JSON object:
{"intent": "<one of the labels above>", "confidence": "high|medium|low", "explanation": "<one sentence>"}`

type wireResult struct {
	Intent      string `json:"intent"`
	Confidence  string `json:"confidence"`
	Explanation string `json:"explanation"`
}

// Classifier labels questions using an injected model client
type Classifier struct {
	client llm.Client
}

// NewClassifier creates an intent classifier
func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{client: client}
}

// Classify labels the question. It always returns a usable result; on any
// model or parse failure the label is CHIT_CHAT with low confidence.
func (c *Classifier) Classify(ctx context.Context, in *input.Input) *Result {
	log := logging.WithComponent("intent")

	raw, err := llm.Complete(ctx, c.client, systemPrompt, c.userPrompt(in))
	if err != nil {
		log.Warn("classification call failed, falling back to chit-chat", "error", err)
		return fallbackResult("classification call failed")
	}

	parsed, err := llm.DecodeBlock[wireResult](raw)
	if err != nil {
		log.Warn("classification output unparseable, falling back to chit-chat", "error", err)
		return fallbackResult("classification output unparseable")
	}

	intentType := Type(strings.ToUpper(strings.TrimSpace(parsed.Intent)))
	if !knownTypes[intentType] {
		log.Warn("classifier returned unknown intent", "intent", parsed.Intent)
		return fallbackResult(fmt.Sprintf("unknown intent label %q", parsed.Intent))
	}

	confidence := Confidence(strings.ToLower(strings.TrimSpace(parsed.Confidence)))
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		confidence = ConfidenceLow
	}

	return &Result{
		Intent:      intentType,
		Confidence:  confidence,
		Explanation: parsed.Explanation,
	}
}

func (c *Classifier) userPrompt(in *input.Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", in.Query)
	if in.HasSelectedText() {
		fmt.Fprintf(&sb, "The reader selected this passage before asking:\n%s\n", in.Selected.Text)
	} else {
		sb.WriteString("No passage is selected.\n")
	}
	if len(in.History) > 0 {
		sb.WriteString("Recent conversation:\n")
		start := len(in.History) - 4
		if start < 0 {
			start = 0
		}
		for _, turn := range in.History[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
	}
	return sb.String()
}

func fallbackResult(reason string) *Result {
	return &Result{
		Intent:      ChitChat,
		Confidence:  ConfidenceLow,
		Explanation: reason,
	}
}
