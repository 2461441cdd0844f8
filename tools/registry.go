// Package tools implements the tool registry and namespace allow-lists of
// the execution engine's tool layer, and the base tool set every namespace
// may expose: llm_generate, retrieve_knowledge_graph, and vector_search.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"planforge/vm"
)

// Handler is the callable body of a registered tool. args have already been
// interpolated against the caller's variable store. The returned Value is
// bound to the calling instruction's output_vars per the convention in
// vm.Dispatch: a single output name binds the whole result, multiple output
// names require an object result.
type Handler func(ctx context.Context, args map[string]vm.Value) (vm.Value, error)

// Spec is a tool's registration record: name, schema metadata, and handler.
type Spec struct {
	// Name is the tool's registry key, referenced by calling.tool_name.
	Name string
	// Description documents the tool for plan generators.
	Description string
	// RequiredArgs lists the argument names the handler expects. The
	// registry does not enforce this list at call time; only ParamSchema is
	// checked, by Invoke. Register rejects a duplicate tool name.
	RequiredArgs []string
	// ResultKeys documents the keys of a mapping result, when the tool
	// returns a mapping rather than a single Value. Empty for single-Value
	// tools such as retrieve_knowledge_graph and vector_search.
	ResultKeys []string
	// ParamSchema is an optional JSON Schema document constraining
	// tool_params. When set, Invoke validates the interpolated arguments
	// against it before calling Handler, rejecting malformed calls with a
	// KindToolFailed error instead of letting the handler fail arbitrarily.
	ParamSchema json.RawMessage
	Handler     Handler

	compiledSchema *jsonschema.Schema
}

// Registry holds the process's tool specs. It is read-only after startup
// (§5: "the tool registry is read-only after startup; additions require a
// full restart"), so Register is expected to run during wiring, before any
// namespace serves traffic.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds spec to the registry. It returns an error if a tool with the
// same name is already registered.
func (r *Registry) Register(spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tools: tool %q already registered", spec.Name)
	}
	schema, err := compileSchema(spec.ParamSchema)
	if err != nil {
		return fmt.Errorf("tools: register %q: %w", spec.Name, err)
	}
	spec.compiledSchema = schema
	r.specs[spec.Name] = spec
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns every registered spec, for building planner tool catalogs.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// NamespaceResolver reports whether tool is visible to namespace. The task
// package implements this against its namespace/allow-list store; tools
// depends only on this narrow interface to avoid an import cycle.
type NamespaceResolver interface {
	Allowed(namespace, tool string) (bool, error)
}

// Invoker adapts a Registry and NamespaceResolver to vm.ToolInvoker, the
// interface the dispatcher calls during a calling instruction.
type Invoker struct {
	registry   *Registry
	namespaces NamespaceResolver
}

// NewInvoker constructs an Invoker.
func NewInvoker(registry *Registry, namespaces NamespaceResolver) *Invoker {
	return &Invoker{registry: registry, namespaces: namespaces}
}

// Invoke implements vm.ToolInvoker.
func (iv *Invoker) Invoke(ctx context.Context, namespace, toolName string, args map[string]vm.Value) (vm.Value, *vm.Error) {
	spec, ok := iv.registry.Get(toolName)
	if !ok {
		return vm.Value{}, vm.Newf(vm.KindToolNotFound, "tool %q is not registered", toolName).WithDetail("tool", toolName)
	}

	allowed, err := iv.namespaces.Allowed(namespace, toolName)
	if err != nil {
		return vm.Value{}, vm.Newf(vm.KindInternal, "resolving namespace visibility for %q: %v", toolName, err).WithDetail("tool", toolName)
	}
	if !allowed {
		return vm.Value{}, vm.Newf(vm.KindToolNotAllowed, "tool %q is not visible to namespace %q", toolName, namespace).
			WithDetail("tool", toolName).WithDetail("namespace", namespace)
	}

	if err := validateParams(spec.compiledSchema, args); err != nil {
		return vm.Value{}, vm.Newf(vm.KindToolFailed, "tool %q rejected params: %v", toolName, err).
			WithDetail("tool", toolName).WithCause(err)
	}

	result, err := spec.Handler(ctx, args)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return vm.Value{}, vm.Newf(vm.KindTimeout, "tool %q timed out: %v", toolName, err).WithDetail("tool", toolName).WithCause(err)
		}
		return vm.Value{}, vm.Newf(vm.KindToolFailed, "tool %q failed: %v", toolName, err).WithDetail("tool", toolName).WithCause(err)
	}
	return result, nil
}

// StaticNamespaces is a NamespaceResolver backed by an in-memory allow-list
// map, useful for tests and single-process deployments that don't need the
// task package's persisted namespace store.
type StaticNamespaces struct {
	allowed map[string]map[string]bool
}

// NewStaticNamespaces builds a resolver from namespace name to allowed tool
// names. A namespace absent from the map allows no tools.
func NewStaticNamespaces(namespaces map[string][]string) *StaticNamespaces {
	m := make(map[string]map[string]bool, len(namespaces))
	for ns, toolNames := range namespaces {
		set := make(map[string]bool, len(toolNames))
		for _, t := range toolNames {
			set[t] = true
		}
		m[ns] = set
	}
	return &StaticNamespaces{allowed: m}
}

// Allowed implements NamespaceResolver.
func (s *StaticNamespaces) Allowed(namespace, tool string) (bool, error) {
	set, ok := s.allowed[namespace]
	if !ok {
		return false, nil
	}
	return set[tool], nil
}
