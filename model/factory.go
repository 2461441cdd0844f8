package model

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// ProviderConfig is the subset of config.Config a Client factory needs,
// duplicated here rather than imported so this package never depends on
// config (config already depends on nothing model-related; avoiding the
// reverse import keeps the dependency graph a DAG, the same layering the
// teacher's registry/service.go keeps between its service and store
// packages).
type ProviderConfig struct {
	Provider string
	Model    string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaBaseURL string

	// AnthropicAPIKey and GeminiAPIKey are not named in §6's env key list
	// but are read from the provider's own SDK-conventional env var
	// (ANTHROPIC_API_KEY, GEMINI_API_KEY) when unset, matching how the
	// underlying SDKs already default api keys from the environment.
	AnthropicAPIKey string
	GeminiAPIKey    string

	// BedrockRegion overrides the AWS SDK's default region resolution.
	BedrockRegion string
}

// NewClient builds the Client named by cfg.Provider: "anthropic", "openai",
// "ollama" (OpenAI-compatible chat completions against OllamaBaseURL),
// "bedrock", or "gemini". It is the single place cmd/planctl and the
// engine's planner wiring construct a provider-backed Client from
// resolved configuration, mirroring the teacher's registry.Service
// picking a concrete store implementation from config at startup.
func NewClient(ctx context.Context, cfg ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case "", "anthropic":
		sdkClient := anthropicsdk.NewClient(anthropicoption.WithAPIKey(cfg.AnthropicAPIKey))
		return NewAnthropicClient(sdkClient.Messages, AnthropicOptions{DefaultModel: cfg.Model})

	case "openai":
		opts := []openaioption.RequestOption{openaioption.WithAPIKey(cfg.OpenAIAPIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.OpenAIBaseURL))
		}
		sdkClient := openai.NewClient(opts...)
		return NewOpenAIClient(sdkClient.Chat.Completions, OpenAIOptions{DefaultModel: cfg.Model})

	case "ollama":
		baseURL := cfg.OllamaBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		sdkClient := openai.NewClient(openaioption.WithBaseURL(baseURL), openaioption.WithAPIKey("ollama"))
		return NewOpenAIClient(sdkClient.Chat.Completions, OpenAIOptions{DefaultModel: cfg.Model})

	case "bedrock":
		var awsOpts []func(*awsconfig.LoadOptions) error
		if cfg.BedrockRegion != "" {
			awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.BedrockRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("model: load aws config: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		return NewBedrockClient(runtime, BedrockOptions{DefaultModel: cfg.Model})

	case "gemini":
		sdkClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiAPIKey})
		if err != nil {
			return nil, fmt.Errorf("model: new gemini client: %w", err)
		}
		return NewGeminiClient(sdkClient.Models, GeminiOptions{DefaultModel: cfg.Model})

	default:
		return nil, fmt.Errorf("model: unknown provider %q", cfg.Provider)
	}
}
