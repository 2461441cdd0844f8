package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"planforge/vm"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s stubGenerator) Generate(ctx context.Context, prompt, context string) (string, error) {
	return s.reply, s.err
}

type stubKG struct{ result any }

func (s stubKG) Query(ctx context.Context, query string) (any, error) { return s.result, nil }

type stubVectorIndex struct{ result any }

func (s stubVectorIndex) Search(ctx context.Context, query string, topK int) (any, error) {
	return s.result, nil
}

func TestLLMGenerateSpecPlainText(t *testing.T) {
	spec := LLMGenerateSpec(stubGenerator{reply: "hello there"})
	v, err := spec.Handler(context.Background(), map[string]vm.Value{"prompt": vm.String("say hi")})
	require.NoError(t, err)
	require.Equal(t, vm.KindString, v.Kind())
	s, _ := v.AsString()
	require.Equal(t, "hello there", s)
}

func TestLLMGenerateSpecJSONMapping(t *testing.T) {
	spec := LLMGenerateSpec(stubGenerator{reply: `{"summary":"s","insights":"i"}`})
	v, err := spec.Handler(context.Background(), map[string]vm.Value{"prompt": vm.String("summarize")})
	require.NoError(t, err)
	require.Equal(t, vm.KindObject, v.Kind())
	obj, _ := v.AsObject()
	s, _ := obj["summary"].AsString()
	require.Equal(t, "s", s)
}

func TestRetrieveKnowledgeGraphSpec(t *testing.T) {
	spec := RetrieveKnowledgeGraphSpec(stubKG{result: map[string]any{"nodes": []any{"a", "b"}}})
	v, err := spec.Handler(context.Background(), map[string]vm.Value{"query": vm.String("X")})
	require.NoError(t, err)
	require.Equal(t, vm.KindObject, v.Kind())
}

func TestVectorSearchSpecDefaultTopK(t *testing.T) {
	spec := VectorSearchSpec(stubVectorIndex{result: []any{"doc1", "doc2"}})
	v, err := spec.Handler(context.Background(), map[string]vm.Value{"query": vm.String("X")})
	require.NoError(t, err)
	require.Equal(t, vm.KindArray, v.Kind())
}
