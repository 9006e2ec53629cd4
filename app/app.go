// Package app wires the question-answering pipeline end to end: intent
// classification, context aggregation, the bounded plan-retrieve-reflect
// loop, and answer synthesis. Ask is the single entry point.
package app

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/llm"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/pkg/telemetry"
	"github.com/sweetpotato0/bookrag/rag/evidence"
	"github.com/sweetpotato0/bookrag/rag/input"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/rag/loop"
	"github.com/sweetpotato0/bookrag/rag/planner"
	"github.com/sweetpotato0/bookrag/rag/ragcontext"
	"github.com/sweetpotato0/bookrag/rag/reflection"
	"github.com/sweetpotato0/bookrag/rag/retrieval"
	"github.com/sweetpotato0/bookrag/rag/synthesis"
	"github.com/sweetpotato0/bookrag/session"
)

// Clients carries the model clients per pipeline role. Default backs any
// role left nil; at least one of the five must be set.
type Clients struct {
	Default    llm.Client
	Intent     llm.Client
	Planner    llm.Client
	Reflection llm.Client
	Writer     llm.Client
}

func (c *Clients) fill() {
	if c.Default == nil {
		for _, candidate := range []llm.Client{c.Intent, c.Planner, c.Reflection, c.Writer} {
			if candidate != nil {
				c.Default = candidate
				break
			}
		}
	}
	if c.Intent == nil {
		c.Intent = c.Default
	}
	if c.Planner == nil {
		c.Planner = c.Default
	}
	if c.Reflection == nil {
		c.Reflection = c.Default
	}
	if c.Writer == nil {
		c.Writer = c.Default
	}
}

// ProcessInfo reports how a response was produced
type ProcessInfo struct {
	RAGUsed          bool                `json:"rag_used"`
	IntentConfidence intent.Confidence   `json:"intent_confidence"`
	PlanningInfo     *loop.Summary       `json:"planning_info,omitempty"`
	Reflection       *reflection.Verdict `json:"rag_reflection,omitempty"`
}

// Response is the caller-visible answer
type Response struct {
	Response    string      `json:"response"`
	Intent      intent.Type `json:"intent"`
	ProcessInfo ProcessInfo `json:"process_info"`
}

// App is the assembled pipeline
type App struct {
	cfg        *config
	clients    Clients
	classifier *intent.Classifier
	contexts   *ragcontext.Manager
	planner    *planner.Planner
	executor   *retrieval.Executor
	writer     *synthesis.Synthesizer
}

// New assembles the pipeline. store is the retrieval backend; a nil store
// is accepted and simply never yields evidence. Returns ErrNoModelClient
// when no model client is configured at all.
func New(clients Clients, store evidence.Store, opts ...Option) (*App, error) {
	clients.fill()
	if clients.Default == nil {
		return nil, errors.ErrNoModelClient
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &App{
		cfg:        cfg,
		clients:    clients,
		classifier: intent.NewClassifier(clients.Intent),
		contexts:   ragcontext.NewManager(cfg.provider),
		planner:    planner.New(clients.Planner),
		executor:   retrieval.NewExecutor(evidence.NewClient(store)),
		writer:     synthesis.NewSynthesizer(clients.Writer, cfg.tokenizer, cfg.maxContextTokens),
	}, nil
}

// Ask answers one question. The only errors it returns are ErrInvalidInput
// for an unusable request; every downstream failure degrades into the
// answer itself per the pipeline's fail-open stages.
func (a *App) Ask(ctx context.Context, req *input.Request) (*Response, error) {
	ctx, span := otel.Tracer("bookrag/app").Start(ctx, "app.Ask")
	var askErr error
	defer func() { telemetry.End(span, askErr) }()

	log := logging.WithComponent("app")

	in, err := input.Normalize(req)
	if err != nil {
		askErr = err
		return nil, err
	}
	a.mergeSessionHistory(ctx, in)

	result := a.classifier.Classify(ctx, in)
	span.SetAttributes(
		attribute.String("intent", string(result.Intent)),
		attribute.String("confidence", string(result.Confidence)),
	)
	log.Info("intent classified",
		"intent", result.Intent,
		"confidence", result.Confidence)

	qc := a.contexts.Build(ctx, in, result)

	var resp *Response
	if !result.NeedsRetrieval() {
		resp = &Response{
			Response: a.writer.ChitChat(ctx, in.Query, qc),
			Intent:   result.Intent,
			ProcessInfo: ProcessInfo{
				RAGUsed:          false,
				IntentConfidence: result.Confidence,
			},
		}
	} else {
		resp = a.answerWithRetrieval(ctx, in, result, qc)
	}

	a.recordExchange(ctx, in, resp.Response)
	return resp, nil
}

func (a *App) answerWithRetrieval(ctx context.Context, in *input.Input, result *intent.Result, qc *ragcontext.Context) *Response {
	maxIterations := a.cfg.maxIterations
	if in.MaxIterations > 0 {
		maxIterations = in.MaxIterations
	}

	controller := loop.NewController(
		a.planner,
		a.executor,
		reflection.NewEvaluator(a.clients.Reflection, maxIterations),
		maxIterations,
	)

	loopResult, err := controller.Run(ctx, in.Query, result, qc)
	if err != nil {
		// Only cancellation between stages lands here; answer with what
		// exists rather than surfacing it.
		logging.WithComponent("app").Warn("retrieval loop aborted", "error", err)
		return &Response{
			Response: a.writer.Synthesize(ctx, in.Query, result, nil, qc),
			Intent:   result.Intent,
			ProcessInfo: ProcessInfo{
				RAGUsed:          true,
				IntentConfidence: result.Confidence,
			},
		}
	}

	answer := a.writer.Synthesize(ctx, in.Query, result, loopResult.Fragments, qc)
	return &Response{
		Response: answer,
		Intent:   result.Intent,
		ProcessInfo: ProcessInfo{
			RAGUsed:          true,
			IntentConfidence: result.Confidence,
			PlanningInfo:     loopResult.Summary,
			Reflection:       loopResult.Verdict,
		},
	}
}

// mergeSessionHistory prepends stored turns when the request names a
// session but carries no history of its own.
func (a *App) mergeSessionHistory(ctx context.Context, in *input.Input) {
	if a.cfg.sessions == nil || in.SessionID == "" || len(in.History) > 0 {
		return
	}
	record, err := a.cfg.sessions.Load(ctx, in.SessionID)
	if err != nil {
		return
	}
	in.History = record.Turns
}

// recordExchange appends the turn pair to the session, best effort.
func (a *App) recordExchange(ctx context.Context, in *input.Input, answer string) {
	if a.cfg.sessions == nil || in.SessionID == "" {
		return
	}

	record, err := a.cfg.sessions.Load(ctx, in.SessionID)
	if err != nil {
		record = session.NewRecord(in.SessionID, in.Book.BookID)
	}
	record.Append("user", in.Query)
	record.Append("assistant", answer)
	if err := a.cfg.sessions.Save(ctx, record); err != nil {
		logging.WithComponent("app").Warn("failed to persist session", "session_id", in.SessionID, "error", err)
	}
}
