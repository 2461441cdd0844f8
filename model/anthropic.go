package model

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used by
// AnthropicClient, so tests can substitute a fake without a live API key.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
}

// AnthropicOptions configures AnthropicClient.
type AnthropicOptions struct {
	DefaultModel string
	MaxTokens    int64
}

// NewAnthropicClient builds an Anthropic-backed Client.
func NewAnthropicClient(msg MessagesClient, opts AnthropicOptions) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("model: anthropic client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("model: anthropic default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	content := req.Prompt
	if req.Context != "" {
		content = content + "\n\n" + req.Context
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(content)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return Response{}, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			sb.WriteString(block.Text)
		}
	}

	return Response{
		Text:         sb.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
