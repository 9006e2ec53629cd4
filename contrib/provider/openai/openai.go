// Package openai adapts the official OpenAI SDK to the llm.Client interface.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/bookrag/message"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		APIKey:      "",
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

// Provider implements the llm.Client interface for OpenAI
type Provider struct {
	config *Config
	client openai.Client
}

// New creates a new OpenAI provider using the official SDK
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements llm.Client
func (p *Provider) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	openAIMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			openAIMessages = append(openAIMessages, openai.SystemMessage(msg.Text()))
		case message.RoleUser:
			openAIMessages = append(openAIMessages, openai.UserMessage(msg.Text()))
		case message.RoleAssistant:
			openAIMessages = append(openAIMessages, openai.AssistantMessage(msg.Text()))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: openAIMessages,
		Model:    openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	return message.NewMessage(message.RoleAssistant, completion.Choices[0].Message.Content), nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetMaxTokens updates the max tokens setting
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = max
}

// SetModel updates the model
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}
