package model

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
)

type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
}

func (f fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}

func TestAnthropicClientComplete(t *testing.T) {
	fake := fakeMessagesClient{resp: &sdk.Message{
		Model: "claude-sonnet-4-5",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello"},
		},
	}}
	client, err := NewAnthropicClient(fake, AnthropicOptions{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Text)
}

func TestAnthropicClientRequiresDefaultModel(t *testing.T) {
	_, err := NewAnthropicClient(fakeMessagesClient{}, AnthropicOptions{})
	require.Error(t, err)
}
