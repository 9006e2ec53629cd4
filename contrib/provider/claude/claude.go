// Package claude adapts the official Anthropic SDK to the llm.Client interface.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/bookrag/message"
)

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// Provider implements the llm.Client interface for Claude
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using the official SDK
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("", "")
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate implements llm.Client
func (p *Provider) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	// The API takes the system prompt out of band
	var systemPrompts []string
	conversationMessages := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			conversationMessages = append(conversationMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversationMessages = append(conversationMessages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversationMessages,
		MaxTokens: p.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var responseText string
	for _, content := range apiMessage.Content {
		if content.Type == "text" {
			responseText += content.Text
		}
	}

	return message.NewMessage(message.RoleAssistant, responseText), nil
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
