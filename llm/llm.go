// Package llm defines the text-completion contract every pipeline stage
// depends on. Components never construct a default client on their own;
// the caller injects one per constructor.
package llm

import (
	"context"
	"strings"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/message"
)

// Client is the interface for LLM providers.
type Client interface {
	// Generate generates a response from the LLM
	Generate(ctx context.Context, messages []*message.Message) (*message.Message, error)

	// SetTemperature updates the temperature setting for generation
	SetTemperature(temp float64)

	// SetMaxTokens updates the maximum tokens limit for generation
	SetMaxTokens(max int64)

	// SetModel updates the model to use for generation
	SetModel(model string)
}

// Complete issues a system+user exchange and returns the assistant text.
// It is the common shape of every call the pipeline makes.
func Complete(ctx context.Context, client Client, system, user string) (string, error) {
	if client == nil {
		return "", errors.ErrNoModelClient
	}
	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, system),
		message.NewMessage(message.RoleUser, user),
	}
	resp, err := client.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.ErrInternal
	}
	return strings.TrimSpace(resp.Text()), nil
}
