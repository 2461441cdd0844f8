package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"planforge/vm"
)

// Generator is the narrow surface llm_generate needs from an LLM client.
// model.Client does not satisfy it directly (its Complete method takes a
// model.Request); cmd/planctl's generatorAdapter wraps a client to provide
// Generate, so tools does not import the model package.
type Generator interface {
	Generate(ctx context.Context, prompt string, context string) (string, error)
}

// KnowledgeGraph is the narrow surface retrieve_knowledge_graph needs.
type KnowledgeGraph interface {
	Query(ctx context.Context, query string) (any, error)
}

// VectorIndex is the narrow surface vector_search needs.
type VectorIndex interface {
	Search(ctx context.Context, query string, topK int) (any, error)
}

// LLMGenerateSpec builds the llm_generate base tool (§4.2): a free-form LLM
// call whose result is either stored whole (single output_vars name) or
// returned as a mapping so the dispatcher can bind multiple names to it.
func LLMGenerateSpec(gen Generator) Spec {
	return Spec{
		Name:         "llm_generate",
		Description:  "Invoke the LLM with a prompt and optional context, returning text or a JSON mapping.",
		RequiredArgs: []string{"prompt"},
		Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
			prompt, ok := args["prompt"].AsString()
			if !ok {
				return vm.Value{}, fmt.Errorf("llm_generate: prompt must be a string")
			}
			var contextStr string
			if c, ok := args["context"]; ok {
				contextStr = c.ToDisplayString()
			}
			raw, err := gen.Generate(ctx, prompt, contextStr)
			if err != nil {
				return vm.Value{}, err
			}
			return parseGenerateResult(raw), nil
		},
	}
}

// parseGenerateResult attempts to decode raw as JSON so a mapping-shaped
// reply binds correctly when output_vars names more than one variable
// (§4.2: "the handler MUST return a mapping"); plain text falls back to a
// string Value.
func parseGenerateResult(raw string) vm.Value {
	var decoded any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err == nil {
		if v, err := vm.FromAny(decoded); err == nil && v.Kind() == vm.KindObject {
			return v
		}
	}
	return vm.String(raw)
}

// RetrieveKnowledgeGraphSpec builds the retrieve_knowledge_graph base tool
// (§4.2): one output variable bound to the raw query result.
func RetrieveKnowledgeGraphSpec(kg KnowledgeGraph) Spec {
	return Spec{
		Name:         "retrieve_knowledge_graph",
		Description:  "Query the knowledge graph and return the raw result.",
		RequiredArgs: []string{"query"},
		Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
			query, ok := args["query"].AsString()
			if !ok {
				return vm.Value{}, fmt.Errorf("retrieve_knowledge_graph: query must be a string")
			}
			result, err := kg.Query(ctx, query)
			if err != nil {
				return vm.Value{}, err
			}
			return vm.FromAny(result)
		},
	}
}

// VectorSearchSpec builds the vector_search base tool (§4.2): one output
// variable bound to the raw search result.
func VectorSearchSpec(idx VectorIndex) Spec {
	return Spec{
		Name:         "vector_search",
		Description:  "Search the vector index for the top_k nearest matches to query.",
		RequiredArgs: []string{"query", "top_k"},
		ParamSchema:  []byte(`{"type":"object","required":["query","top_k"],"properties":{"query":{"type":"string"},"top_k":{"type":"integer"}}}`),
		Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
			query, ok := args["query"].AsString()
			if !ok {
				return vm.Value{}, fmt.Errorf("vector_search: query must be a string")
			}
			topK := 10
			if v, ok := args["top_k"]; ok {
				if i, ok := v.AsInt(); ok {
					topK = int(i)
				}
			}
			result, err := idx.Search(ctx, query, topK)
			if err != nil {
				return vm.Value{}, err
			}
			return vm.FromAny(result)
		},
	}
}
