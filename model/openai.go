package model

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatCompletionsClient captures the subset of the OpenAI SDK used by
// OpenAIClient: the signature of (*openai.Client).Chat.Completions.New.
// Because the OpenAI Chat Completions wire format is also served by Ollama
// and other OpenAI-compatible gateways, constructing the underlying SDK
// client with a different base URL (OLLAMA_BASE_URL, OPENAI_BASE_URL) is
// enough to retarget this adapter.
type ChatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient implements Client over the OpenAI (or OpenAI-compatible)
// Chat Completions API.
type OpenAIClient struct {
	chat         ChatCompletionsClient
	defaultModel string
}

// OpenAIOptions configures OpenAIClient.
type OpenAIOptions struct {
	DefaultModel string
}

// NewOpenAIClient builds an OpenAI-backed Client.
func NewOpenAIClient(chat ChatCompletionsClient, opts OpenAIOptions) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("model: openai chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("model: openai default model is required")
	}
	return &OpenAIClient{chat: chat, defaultModel: opts.DefaultModel}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 3)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	content := req.Prompt
	if req.Context != "" {
		content = content + "\n\n" + req.Context
	}
	messages = append(messages, openai.UserMessage(content))

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("model: openai response had no choices")
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
