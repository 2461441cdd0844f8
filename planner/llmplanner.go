package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"planforge/model"
	"planforge/vm"
)

// LLMPlanner implements Planner by prompting a model.Client for a plan and
// parsing its reply as the §6 plan JSON shape.
type LLMPlanner struct {
	Client model.Client
	Model  string
}

const planSystemPrompt = `You write plans for a stack-less register-style virtual machine.
Reply with a single JSON object: {"instructions": [...]}, where each instruction
has "seq_no", "type" (one of reasoning, assign, calling, jmp), and "parameters"
matching that type's shape. Output JSON only, no prose, no markdown fences.`

type planWire struct {
	Instructions []vm.Instruction `json:"instructions"`
}

func (p *LLMPlanner) complete(ctx context.Context, prompt string) (*vm.Plan, error) {
	resp, err := p.Client.Complete(ctx, model.Request{
		System: planSystemPrompt,
		Prompt: prompt,
		Model:  p.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: model call failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if err := validatePlanJSON([]byte(text)); err != nil {
		return nil, err
	}
	var wire planWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("planner: could not parse plan JSON: %w", err)
	}
	plan := &vm.Plan{Instructions: wire.Instructions}
	plan.Index()
	return plan, nil
}

// Generate implements Planner.
func (p *LLMPlanner) Generate(ctx context.Context, req GenerateRequest) (*vm.Plan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Namespace: %s\n", req.Namespace)
	if req.ResponseFormat.Lang != "" {
		fmt.Fprintf(&b, "Response language: %s\n", req.ResponseFormat.Lang)
	}
	if len(req.ToolCatalog) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range req.ToolCatalog {
			fmt.Fprintf(&b, "- %s(%s): %s\n", t.Name, strings.Join(t.RequiredArgs, ", "), t.Description)
		}
	}
	if req.BestPracticesHint != "" {
		fmt.Fprintf(&b, "Best practices: %s\n", req.BestPracticesHint)
	}
	b.WriteString("Produce a plan whose final instruction binds final_answer.\n")
	return p.complete(ctx, b.String())
}

// Update implements Planner.
func (p *LLMPlanner) Update(ctx context.Context, req UpdateRequest) (*vm.Plan, error) {
	var b strings.Builder
	existing, err := json.Marshal(req.Plan)
	if err != nil {
		return nil, fmt.Errorf("planner: marshal existing plan: %w", err)
	}
	b.WriteString("Existing plan:\n")
	b.Write(existing)
	b.WriteString("\n\n")
	if req.Suggestion != "" {
		fmt.Fprintf(&b, "The caller suggests this change: %s\n", req.Suggestion)
	} else {
		fmt.Fprintf(&b, "Instruction seq_no %d failed: %s\n", req.FailingSeqNo, req.ErrorSummary)
	}
	vars, err := json.Marshal(req.Variables)
	if err != nil {
		return nil, fmt.Errorf("planner: marshal variables: %w", err)
	}
	fmt.Fprintf(&b, "Current variables: %s\n", vars)
	b.WriteString("Reply with a full replacement plan from the failing/suggested seq_no onward, reusing untouched instructions unchanged.\n")
	return p.complete(ctx, b.String())
}

// OptimizeStep implements Planner.
func (p *LLMPlanner) OptimizeStep(ctx context.Context, req OptimizeStepRequest) (*vm.Plan, error) {
	var b strings.Builder
	existing, err := json.Marshal(req.Plan)
	if err != nil {
		return nil, fmt.Errorf("planner: marshal existing plan: %w", err)
	}
	b.WriteString("Existing plan:\n")
	b.Write(existing)
	fmt.Fprintf(&b, "\n\nRewrite only seq_no %d per this suggestion: %s\n", req.SeqNo, req.Suggestion)
	vars, err := json.Marshal(req.Variables)
	if err != nil {
		return nil, fmt.Errorf("planner: marshal variables: %w", err)
	}
	fmt.Fprintf(&b, "Current variables: %s\n", vars)
	b.WriteString("Reply with the full plan, all other instructions unchanged.\n")
	return p.complete(ctx, b.String())
}
