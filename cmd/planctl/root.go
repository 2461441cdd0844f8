package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"planforge/branch"
	"planforge/branch/sqlstore"
	"planforge/config"
	"planforge/engine"
	"planforge/model"
	"planforge/planner"
	"planforge/task"
	"planforge/tools"
	"planforge/tools/kgsqlite"
	"planforge/tools/vectorsearch"
)

var dataDir string

// newTaskID generates a random task ID, the same uuid.NewString() call the
// httpapi package uses for HTTP-created tasks.
func newTaskID() string { return uuid.NewString() }

// newRootCommand builds the planctl root command and registers the
// execute/namespace/serve subcommands, lexicographically as the teacher's
// cli.NewRootCommand registers Stagecraft's.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "planctl",
		Short:         "planctl drives the plan-execution engine from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./planforge-data", "directory holding the SQLite task/branch/knowledge-graph/vector-index files")

	root.AddCommand(newExecuteCommand())
	root.AddCommand(newNamespaceCommand())
	root.AddCommand(newServeCommand())
	return root
}

// deps bundles every collaborator wired from config and --data-dir, closed
// over by the execute, namespace, and serve subcommands.
type deps struct {
	tasks    task.Store
	branches branch.Store
	engine   *engine.Engine
	closers  []func() error
}

func (d *deps) Close() {
	for _, c := range d.closers {
		_ = c()
	}
}

// buildDeps wires the engine's collaborators from config.Load and the
// SQLite backends, the way the teacher's server entry point resolves a
// concrete store implementation once at process start.
func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("planctl: create data dir: %w", err)
	}

	tasks, err := task.OpenSQLStore(filepath.Join(dataDir, "tasks.db"))
	if err != nil {
		return nil, fmt.Errorf("planctl: open task store: %w", err)
	}
	branches, err := sqlstore.Open(filepath.Join(dataDir, "branches.db"))
	if err != nil {
		return nil, fmt.Errorf("planctl: open branch store: %w", err)
	}
	kg, err := kgsqlite.Open(filepath.Join(dataDir, "knowledge_graph.db"))
	if err != nil {
		return nil, fmt.Errorf("planctl: open knowledge graph: %w", err)
	}
	vecIndex, err := vectorsearch.Open(filepath.Join(dataDir, "vectors"))
	if err != nil {
		return nil, fmt.Errorf("planctl: open vector index: %w", err)
	}

	llmProvider, llmModel := cfg.ModelFor("llm")
	llmClient, err := model.NewClient(ctx, providerConfig(cfg, llmProvider, llmModel))
	if err != nil {
		return nil, fmt.Errorf("planctl: build llm client: %w", err)
	}
	reasonProvider, reasonModel := cfg.ModelFor("reason_llm")
	reasonClient, err := model.NewClient(ctx, providerConfig(cfg, reasonProvider, reasonModel))
	if err != nil {
		return nil, fmt.Errorf("planctl: build reasoning llm client: %w", err)
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.LLMGenerateSpec(generatorAdapter{client: llmClient, model: llmModel})); err != nil {
		return nil, err
	}
	if err := registry.Register(tools.RetrieveKnowledgeGraphSpec(kg)); err != nil {
		return nil, err
	}
	if err := registry.Register(tools.VectorSearchSpec(vecIndex)); err != nil {
		return nil, err
	}

	invoker := tools.NewInvoker(registry, task.NamespaceResolver{Store: tasks})
	cond := &planner.ConditionEvaluator{Client: reasonClient, Model: reasonModel}
	plnr := &planner.LLMPlanner{Client: llmClient, Model: llmModel}

	eng := engine.New(branches, tasks, registry, invoker, cond, plnr)
	eng.MaxRecoveryAttempts = cfg.MaxRecoveryAttempts
	eng.MaxValidationRetries = cfg.MaxValidationRetries
	if cfg.ToolCallTimeoutSeconds > 0 {
		eng.ToolCallTimeout = time.Duration(cfg.ToolCallTimeoutSeconds) * time.Second
	}

	return &deps{
		tasks:    tasks,
		branches: branches,
		engine:   eng,
		closers: []func() error{
			tasks.Close,
			kg.Close,
		},
	}, nil
}

// providerConfig adapts config.Config to model.ProviderConfig for one
// model class, reading the SDK-conventional API-key env vars §6 does not
// itself name (model.ProviderConfig documents why).
func providerConfig(cfg *config.Config, provider, modelName string) model.ProviderConfig {
	return model.ProviderConfig{
		Provider:        provider,
		Model:           modelName,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OllamaBaseURL:   cfg.OllamaBaseURL,
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		BedrockRegion:   os.Getenv("AWS_REGION"),
	}
}

// generatorAdapter adapts a model.Client to tools.Generator.
type generatorAdapter struct {
	client model.Client
	model  string
}

func (g generatorAdapter) Generate(ctx context.Context, prompt, contextStr string) (string, error) {
	resp, err := g.client.Complete(ctx, model.Request{Prompt: prompt, Context: contextStr, Model: g.model})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
