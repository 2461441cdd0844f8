// Package planner implements the plan generator/updater adapter contract of
// §4.7: generate an initial plan from a goal, patch a plan after a failing
// step, or rewrite a single step in place. It also implements the static
// validation pass the engine runs after every planner call.
package planner

import (
	"context"
	"fmt"

	"planforge/vm"
)

// ToolCatalogEntry describes one tool visible to a namespace, given to the
// generator so it can reference real tool names/schemas in the plan it
// produces.
type ToolCatalogEntry struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	RequiredArgs []string `json:"required_args"`
	ResultKeys   []string `json:"result_keys,omitempty"`
}

// GenerateRequest is the input to Planner.Generate.
type GenerateRequest struct {
	Goal              string
	Namespace         string
	ResponseFormat    vm.ResponseFormat
	ToolCatalog       []ToolCatalogEntry
	BestPracticesHint string
}

// UpdateRequest is the input to Planner.Update, issued during error
// recovery (§4.6 step 4) or a dynamic update (§4.6 step 5).
type UpdateRequest struct {
	Plan          *vm.Plan
	FailingSeqNo  int
	ErrorSummary  string
	Variables     map[string]vm.Value
	Suggestion    string // set only for dynamic updates; empty for recovery
}

// OptimizeStepRequest is the input to Planner.OptimizeStep (§4.6 step 6).
type OptimizeStepRequest struct {
	Plan       *vm.Plan
	SeqNo      int
	Suggestion string
	Variables  map[string]vm.Value
}

// Planner is the fixed adapter contract of §4.7.
type Planner interface {
	Generate(ctx context.Context, req GenerateRequest) (*vm.Plan, error)
	Update(ctx context.Context, req UpdateRequest) (*vm.Plan, error)
	OptimizeStep(ctx context.Context, req OptimizeStepRequest) (*vm.Plan, error)
}

// ValidationError reports a single static validation failure. The engine
// feeds ValidationError back to the planner as a distinct error kind,
// up to MAX_VALIDATION_RETRIES (§4.7).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("planner: validation failed: %s", e.Reason) }

// Validate runs the static checks of §4.7 against plan, given the set of
// tool names visible to namespace. It returns the first violated check as
// a *ValidationError, or nil if the plan passes all of them.
func Validate(plan *vm.Plan, namespaceTools map[string]bool) error {
	if err := plan.ValidateStatic(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := validateToolVisibility(plan, namespaceTools); err != nil {
		return err
	}
	if err := validateVariableFlow(plan); err != nil {
		return err
	}
	if err := validateFinalAnswer(plan); err != nil {
		return err
	}
	return nil
}

func validateToolVisibility(plan *vm.Plan, namespaceTools map[string]bool) error {
	for _, instr := range plan.Instructions {
		if instr.Type != vm.KindCalling {
			continue
		}
		if namespaceTools != nil && !namespaceTools[instr.ToolName] {
			return &ValidationError{Reason: fmt.Sprintf("tool %q not visible in namespace (seq_no %d)", instr.ToolName, instr.SeqNo)}
		}
	}
	return nil
}

// validateVariableFlow is a best-effort, path-insensitive check (§4.7
// explicitly allows this): a variable is considered "possibly bound" as
// soon as any instruction in the plan could assign or output it, regardless
// of whether that instruction actually precedes every use.
func validateVariableFlow(plan *vm.Plan) error {
	bound := map[string]bool{}
	for _, instr := range plan.Instructions {
		for name := range instr.Assignments {
			bound[name] = true
		}
		for _, name := range instr.OutputVars {
			bound[name] = true
		}
	}
	for _, instr := range plan.Instructions {
		for _, ref := range referencedVariables(instr) {
			if !bound[ref] {
				return &ValidationError{Reason: fmt.Sprintf("variable %q referenced but never bound on any path (seq_no %d)", ref, instr.SeqNo)}
			}
		}
	}
	return nil
}

func referencedVariables(instr vm.Instruction) []string {
	var refs []string
	for _, v := range instr.Assignments {
		refs = append(refs, vm.ReferencedVariables(v)...)
	}
	for _, v := range instr.ToolParams {
		refs = append(refs, vm.ReferencedVariables(v)...)
	}
	if instr.Type == vm.KindJmp {
		refs = append(refs, vm.ReferencedVariables(vm.String(instr.ConditionPrompt))...)
		refs = append(refs, vm.ReferencedVariables(vm.String(instr.Context))...)
	}
	return refs
}

// validateFinalAnswer checks that the last instruction along every forward
// path binds final_answer. Path-insensitively (matching the variable-flow
// check's looseness), this degrades to: some instruction whose
// seq_no_after is terminal must bind final_answer.
func validateFinalAnswer(plan *vm.Plan) error {
	for _, instr := range plan.Instructions {
		if plan.SeqNoAfter(instr.SeqNo) != vm.Terminal {
			continue
		}
		if bindsFinalAnswer(instr) {
			return nil
		}
	}
	return &ValidationError{Reason: "no terminal instruction binds final_answer"}
}

func bindsFinalAnswer(instr vm.Instruction) bool {
	if instr.Type == vm.KindAssign {
		if _, ok := instr.Assignments["final_answer"]; ok {
			return true
		}
	}
	if instr.Type == vm.KindCalling {
		for _, name := range instr.OutputVars {
			if name == "final_answer" {
				return true
			}
		}
	}
	return false
}
