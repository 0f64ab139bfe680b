// Package anthropic provides an Anthropic Messages API provider implementation.
package anthropic

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/recallhq/recall/pkg/llm"
	"github.com/recallhq/recall/pkg/types"
)

const defaultMaxTokens = 4096

// Provider implements the LLM provider interface for the Anthropic API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	modelInfo *types.ModelInfo
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxTokens sets the maximum number of output tokens per completion.
func WithMaxTokens(n int64) ProviderOption {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// NewProvider creates a new Anthropic provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the ANTHROPIC_API_KEY
// environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (provide via parameter or ANTHROPIC_API_KEY environment variable)")
	}

	p := &Provider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     string(anthropic.ModelClaudeSonnet4_0),
		maxTokens: defaultMaxTokens,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.modelInfo = &types.ModelInfo{
		Metadata:          make(map[string]interface{}),
		Provider:          "anthropic",
		Name:              p.model,
		SupportsStreaming: true,
		MaxTokens:         int(p.maxTokens),
	}

	return p, nil
}

// buildParams converts the message list into MessageNewParams. System messages
// are lifted into the params' System field; the Anthropic API does not accept
// them in the message list.
func (p *Provider) buildParams(messages []*types.Message) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case types.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return params
}

// StreamCompletion sends messages to the Anthropic API and streams back
// response chunks.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(messages))

	chunks := make(chan *llm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer stream.Close()

		first := true
		for stream.Next() {
			event := stream.Current()

			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				chunk := &llm.StreamChunk{Content: variant.Delta.Text}
				if first {
					chunk.Role = string(types.RoleAssistant)
					first = false
				}
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					chunks <- &llm.StreamChunk{Error: ctx.Err()}
					return
				}
			case anthropic.MessageStopEvent:
				chunks <- &llm.StreamChunk{Finished: true}
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- &llm.StreamChunk{Error: fmt.Errorf("anthropic stream error: %w", err)}
		}
	}()

	return chunks, nil
}

// Complete sends messages to the Anthropic API and returns the full response.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	resp, err := p.client.Messages.New(ctx, p.buildParams(messages))
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &types.Message{
		Role:    types.RoleAssistant,
		Content: content,
	}, nil
}

// GetModelInfo returns information about the Anthropic model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}
