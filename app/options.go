package app

import (
	"github.com/sweetpotato0/bookrag/book"
	"github.com/sweetpotato0/bookrag/rag/reflection"
	"github.com/sweetpotato0/bookrag/rag/synthesis"
	"github.com/sweetpotato0/bookrag/session"
)

type config struct {
	maxIterations    int
	maxContextTokens int
	sessions         session.Store
	provider         book.ContentProvider
	tokenizer        synthesis.Tokenizer
}

func defaultConfig() *config {
	return &config{
		maxIterations:    reflection.DefaultMaxIterations,
		maxContextTokens: synthesis.DefaultMaxContextTokens,
	}
}

// Option configures an App
type Option func(*config)

// WithMaxIterations sets the default retrieval loop budget. Requests may
// still override it per call.
func WithMaxIterations(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithMaxContextTokens sets the evidence token budget for answer prompts
func WithMaxContextTokens(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxContextTokens = n
		}
	}
}

// WithSessionStore persists conversation history across requests
func WithSessionStore(store session.Store) Option {
	return func(c *config) {
		c.sessions = store
	}
}

// WithContentProvider enables surrounding-paragraph lookups for selected
// text
func WithContentProvider(provider book.ContentProvider) Option {
	return func(c *config) {
		c.provider = provider
	}
}

// WithTokenizer counts prompt tokens exactly instead of estimating
func WithTokenizer(tokenizer synthesis.Tokenizer) Option {
	return func(c *config) {
		c.tokenizer = tokenizer
	}
}
