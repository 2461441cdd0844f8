package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(context.Background(), ProviderConfig{Provider: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewClientAnthropicRequiresModel(t *testing.T) {
	_, err := NewClient(context.Background(), ProviderConfig{Provider: "anthropic", AnthropicAPIKey: "test-key"})
	require.Error(t, err)
}

func TestNewClientOpenAIRequiresModel(t *testing.T) {
	_, err := NewClient(context.Background(), ProviderConfig{Provider: "openai", OpenAIAPIKey: "test-key"})
	require.Error(t, err)
}
