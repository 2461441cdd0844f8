// Package config binds the environment-variable surface of §6 through
// viper, the way the teacher pack's CLI/server entry points load
// configuration into a typed struct with sane defaults.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ModelConfig overrides the provider/model pair for one model class, parsed
// out of the MODEL_CONFIGS JSON env var.
type ModelConfig struct {
	Provider string `mapstructure:"provider" json:"provider"`
	Model    string `mapstructure:"model" json:"model"`
}

// Config is the fully-resolved configuration surface of §6.
type Config struct {
	LLMProvider           string `mapstructure:"llm_provider"`
	LLMModel              string `mapstructure:"llm_model"`
	ReasonLLMProvider     string `mapstructure:"reason_llm_provider"`
	ReasonLLMModel        string `mapstructure:"reason_llm_model"`
	EvaluationLLMProvider string `mapstructure:"evaluation_llm_provider"`
	EvaluationLLMModel    string `mapstructure:"evaluation_llm_model"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OllamaBaseURL string `mapstructure:"ollama_base_url"`

	AutoflowAPIKey  string `mapstructure:"autoflow_api_key"`
	AutoflowBaseURL string `mapstructure:"autoflow_base_url"`
	KBID            string `mapstructure:"kb_id"`

	DatabaseURI        string   `mapstructure:"database_uri"`
	BackendCORSOrigins []string `mapstructure:"backend_cors_origins"`

	// ModelConfigs parses MODEL_CONFIGS, a JSON object keyed by model class
	// ("llm", "reason_llm", "evaluation_llm") overriding provider/model.
	ModelConfigs map[string]ModelConfig `mapstructure:"-"`

	MaxRecoveryAttempts    int `mapstructure:"max_recovery_attempts"`
	MaxValidationRetries   int `mapstructure:"max_validation_retries"`
	ToolCallTimeoutSeconds int `mapstructure:"tool_call_timeout_seconds"`
}

// envKeys is every env var §6 names, bound explicitly so Load does not
// depend on AutomaticEnv prefix-guessing.
var envKeys = []string{
	"LLM_PROVIDER", "LLM_MODEL",
	"REASON_LLM_PROVIDER", "REASON_LLM_MODEL",
	"EVALUATION_LLM_PROVIDER", "EVALUATION_LLM_MODEL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OLLAMA_BASE_URL",
	"AUTOFLOW_API_KEY", "AUTOFLOW_BASE_URL", "KB_ID",
	"DATABASE_URI", "BACKEND_CORS_ORIGINS", "MODEL_CONFIGS",
	"MAX_RECOVERY_ATTEMPTS", "MAX_VALIDATION_RETRIES", "TOOL_CALL_TIMEOUT_SECONDS",
}

// Load builds a Config from the environment via viper, applying the
// defaults spec.md §6 names in parentheses.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(strings.ToLower(key), key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	v.SetDefault("max_recovery_attempts", 3)
	v.SetDefault("max_validation_retries", 2)
	v.SetDefault("tool_call_timeout_seconds", 30)

	cfg := &Config{}
	cfg.LLMProvider = v.GetString("llm_provider")
	cfg.LLMModel = v.GetString("llm_model")
	cfg.ReasonLLMProvider = v.GetString("reason_llm_provider")
	cfg.ReasonLLMModel = v.GetString("reason_llm_model")
	cfg.EvaluationLLMProvider = v.GetString("evaluation_llm_provider")
	cfg.EvaluationLLMModel = v.GetString("evaluation_llm_model")
	cfg.OpenAIAPIKey = v.GetString("openai_api_key")
	cfg.OpenAIBaseURL = v.GetString("openai_base_url")
	cfg.OllamaBaseURL = v.GetString("ollama_base_url")
	cfg.AutoflowAPIKey = v.GetString("autoflow_api_key")
	cfg.AutoflowBaseURL = v.GetString("autoflow_base_url")
	cfg.KBID = v.GetString("kb_id")
	cfg.DatabaseURI = v.GetString("database_uri")
	cfg.MaxRecoveryAttempts = v.GetInt("max_recovery_attempts")
	cfg.MaxValidationRetries = v.GetInt("max_validation_retries")
	cfg.ToolCallTimeoutSeconds = v.GetInt("tool_call_timeout_seconds")

	if origins := v.GetString("backend_cors_origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cfg.BackendCORSOrigins = append(cfg.BackendCORSOrigins, trimmed)
			}
		}
	}

	if raw := v.GetString("model_configs"); raw != "" {
		var parsed map[string]ModelConfig
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, fmt.Errorf("config: parse MODEL_CONFIGS: %w", err)
		}
		cfg.ModelConfigs = parsed
	}

	return cfg, nil
}

// ModelFor resolves the effective provider/model for a model class
// ("llm", "reason_llm", "evaluation_llm"), applying a MODEL_CONFIGS
// override if one is present for that class.
func (c *Config) ModelFor(class string) (provider, model string) {
	provider, model = c.defaultModelFor(class)
	if override, ok := c.ModelConfigs[class]; ok {
		if override.Provider != "" {
			provider = override.Provider
		}
		if override.Model != "" {
			model = override.Model
		}
	}
	return provider, model
}

func (c *Config) defaultModelFor(class string) (string, string) {
	switch class {
	case "reason_llm":
		return c.ReasonLLMProvider, c.ReasonLLMModel
	case "evaluation_llm":
		return c.EvaluationLLMProvider, c.EvaluationLLMModel
	default:
		return c.LLMProvider, c.LLMModel
	}
}
