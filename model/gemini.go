package model

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// GenerateContentClient captures the subset of the genai SDK used by
// GeminiClient.
type GenerateContentClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements Client over the Gemini API via
// google.golang.org/genai.
type GeminiClient struct {
	models       GenerateContentClient
	defaultModel string
}

// GeminiOptions configures GeminiClient.
type GeminiOptions struct {
	DefaultModel string
}

// NewGeminiClient builds a Gemini-backed Client.
func NewGeminiClient(models GenerateContentClient, opts GeminiOptions) (*GeminiClient, error) {
	if models == nil {
		return nil, errors.New("model: gemini models client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("model: gemini default model is required")
	}
	return &GeminiClient{models: models, defaultModel: opts.DefaultModel}, nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	content := req.Prompt
	if req.Context != "" {
		content = content + "\n\n" + req.Context
	}

	var config *genai.GenerateContentConfig
	if req.System != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		}
	}

	resp, err := c.models.GenerateContent(ctx, modelID, genai.Text(content), config)
	if err != nil {
		return Response{}, err
	}

	text := resp.Text()
	if text == "" {
		return Response{}, errors.New("model: gemini response had no text")
	}

	out := Response{Text: text, Model: modelID}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
