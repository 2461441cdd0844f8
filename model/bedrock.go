package model

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// ConverseClient captures the subset of the Bedrock runtime SDK used by
// BedrockClient: the Converse API, which normalizes message turns across
// every model family Bedrock hosts (Anthropic, Llama, Titan, ...).
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client over the Bedrock Converse API.
type BedrockClient struct {
	runtime      ConverseClient
	defaultModel string
	maxTokens    int32
}

// BedrockOptions configures BedrockClient.
type BedrockOptions struct {
	// DefaultModel is a Bedrock model ID or inference profile ARN.
	DefaultModel string
	MaxTokens    int32
}

// NewBedrockClient builds a Bedrock-backed Client.
func NewBedrockClient(runtime ConverseClient, opts BedrockOptions) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("model: bedrock runtime client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("model: bedrock default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &BedrockClient{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// Complete implements Client.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	content := req.Prompt
	if req.Context != "" {
		content = content + "\n\n" + req.Context
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: content}},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: &maxTokens,
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return Response{}, errors.New("model: bedrock converse failed: " + apiErr.ErrorMessage())
		}
		return Response{}, err
	}

	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, errors.New("model: bedrock response had no message output")
	}

	var sb strings.Builder
	for _, block := range msgOutput.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	resp := Response{Text: sb.String(), Model: modelID}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.InputTokens = int64(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.OutputTokens = int64(*out.Usage.OutputTokens)
		}
	}
	return resp, nil
}
