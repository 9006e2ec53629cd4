// Package gemini adapts the Google generative AI SDK to the llm.Client interface.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/bookrag/message"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

// Provider implements the llm.Client interface for Google Gemini
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a new Gemini provider using the official SDK
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Provider{
		config: config,
		client: client,
	}, nil
}

// Generate implements llm.Client
func (p *Provider) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	model := p.client.GenerativeModel(p.config.Model)
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}

	// System messages map to the system instruction, the rest become history
	// with the final user message as the prompt.
	var parts []genai.Part
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(msg.Content)},
			}
		default:
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no user content to send to Gemini")
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned from Gemini")
	}

	var responseText string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText += string(text)
		}
	}

	return message.NewMessage(message.RoleAssistant, responseText), nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = float32(temp)
}

// SetMaxTokens updates the max tokens setting
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = int32(max)
}

// SetModel updates the model
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}

// Close releases the underlying client
func (p *Provider) Close() error {
	return p.client.Close()
}
