package vm

import "context"

// ToolInvoker resolves and calls a registered tool. Implementations own
// namespace visibility checks and MUST return a *Error of KindToolNotFound
// or KindToolNotAllowed when resolution fails, so the dispatcher can pass
// those kinds straight through to the caller. The tools package implements
// this interface against its registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, namespace, toolName string, args map[string]Value) (Value, *Error)
}

// ConditionEvaluator invokes the reasoning LLM for a conditional jmp,
// parsing its reply as {result: boolean, explanation: string}. The planner
// package implements this interface against a model.Client.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, prompt, context string) (result bool, explanation string, err *Error)
}

// CommitDetails captures the observable effect of one dispatched
// instruction, ready to embed in a Commit's details (§3).
type CommitDetails struct {
	InputParameters map[string]Value
	OutputVariables map[string]Value
	Message         string
}

// Dispatch implements the instruction dispatcher of §4.3: given the current
// state and an instruction, it returns the updated variables, the commit
// details to record, the next program counter, and an error if the
// instruction failed. Dispatch never mutates state.Variables in place on
// failure; on success the returned Store is the new variable store the
// caller should install.
func Dispatch(ctx context.Context, state *State, instr Instruction, tools ToolInvoker, cond ConditionEvaluator) (*Store, CommitDetails, int, *Error) {
	switch instr.Type {
	case KindReasoning:
		return dispatchReasoning(state, instr)
	case KindAssign:
		return dispatchAssign(state, instr)
	case KindCalling:
		return dispatchCalling(ctx, state, instr, tools)
	case KindJmp:
		return dispatchJmp(ctx, state, instr, cond)
	default:
		return nil, CommitDetails{}, state.ProgramCounter, Newf(KindInternal, "unknown instruction type %q", instr.Type).WithSeqNo(instr.SeqNo)
	}
}

func dispatchReasoning(state *State, instr Instruction) (*Store, CommitDetails, int, *Error) {
	details := CommitDetails{
		InputParameters: map[string]Value{
			"chain_of_thoughts":   String(instr.ChainOfThoughts),
			"dependency_analysis": String(instr.DependencyAnalysis),
		},
		Message: "reasoning",
	}
	return state.Variables, details, state.Plan.SeqNoAfter(instr.SeqNo), nil
}

func dispatchAssign(state *State, instr Instruction) (*Store, CommitDetails, int, *Error) {
	// Evaluate every RHS against the pre-instruction store first (§4.1:
	// "writes do not observe each other"). Only once every expression has
	// evaluated successfully are the writes applied, to an independent copy
	// so a failed instruction never partially mutates the live store.
	results := make(map[string]Value, len(instr.Assignments))
	for name, expr := range instr.Assignments {
		if !ValidName(name) {
			return nil, CommitDetails{}, state.ProgramCounter, Newf(KindValidation, "invalid assign target %q", name).WithSeqNo(instr.SeqNo)
		}
		v, _, err := EvalExpr(state.Variables, expr)
		if err != nil {
			return nil, CommitDetails{}, state.ProgramCounter, err.WithSeqNo(instr.SeqNo)
		}
		results[name] = v
	}

	next := state.Variables.Clone()
	for name, v := range results {
		next.Set(name, v)
	}

	details := CommitDetails{
		InputParameters: instr.Assignments,
		OutputVariables: results,
		Message:         "assign",
	}
	return next, details, state.Plan.SeqNoAfter(instr.SeqNo), nil
}

func dispatchCalling(ctx context.Context, state *State, instr Instruction, tools ToolInvoker) (*Store, CommitDetails, int, *Error) {
	args := make(map[string]Value, len(instr.ToolParams))
	for name, expr := range instr.ToolParams {
		v, _, err := EvalExpr(state.Variables, expr)
		if err != nil {
			return nil, CommitDetails{}, state.ProgramCounter, err.WithSeqNo(instr.SeqNo)
		}
		args[name] = v
	}

	result, err := tools.Invoke(ctx, state.Namespace, instr.ToolName, args)
	if err != nil {
		return nil, CommitDetails{}, state.ProgramCounter, err.WithSeqNo(instr.SeqNo)
	}

	bound, bindErr := bindOutputs(instr.OutputVars, result)
	if bindErr != nil {
		return nil, CommitDetails{}, state.ProgramCounter, bindErr.WithSeqNo(instr.SeqNo)
	}

	next := state.Variables.Clone()
	for name, v := range bound {
		next.Set(name, v)
	}

	details := CommitDetails{
		InputParameters: args,
		OutputVariables: bound,
		Message:         "calling " + instr.ToolName,
	}
	return next, details, state.Plan.SeqNoAfter(instr.SeqNo), nil
}

// bindOutputs implements the §4.2 output_vars convention shared by every
// tool: a single output name binds the whole result verbatim; multiple
// output names require the result to be an object and bind one entry per
// name, failing if any name is absent from the result.
func bindOutputs(outputVars OutputVars, result Value) (map[string]Value, *Error) {
	if len(outputVars) == 0 {
		return nil, New(KindToolFailed, "calling instruction has no output_vars")
	}
	if len(outputVars) == 1 {
		return map[string]Value{outputVars[0]: result}, nil
	}
	obj, ok := result.AsObject()
	if !ok {
		return nil, New(KindToolFailed, "tool result must be a mapping when output_vars names more than one variable")
	}
	bound := make(map[string]Value, len(outputVars))
	for _, name := range outputVars {
		v, ok := obj[name]
		if !ok {
			return nil, Newf(KindToolFailed, "tool result missing key %q", name).WithDetail("variable", name)
		}
		bound[name] = v
	}
	return bound, nil
}

func dispatchJmp(ctx context.Context, state *State, instr Instruction, cond ConditionEvaluator) (*Store, CommitDetails, int, *Error) {
	if instr.TargetSeq != nil {
		details := CommitDetails{Message: "jmp"}
		return state.Variables, details, *instr.TargetSeq, nil
	}

	prompt, _, err := EvalExpr(state.Variables, String(instr.ConditionPrompt))
	if err != nil {
		return nil, CommitDetails{}, state.ProgramCounter, err.WithSeqNo(instr.SeqNo)
	}
	contextStr, _, err := EvalExpr(state.Variables, String(instr.Context))
	if err != nil {
		return nil, CommitDetails{}, state.ProgramCounter, err.WithSeqNo(instr.SeqNo)
	}

	result, explanation, evalErr := cond.Evaluate(ctx, prompt.ToDisplayString(), contextStr.ToDisplayString())
	if evalErr != nil {
		return nil, CommitDetails{}, state.ProgramCounter, evalErr.WithSeqNo(instr.SeqNo)
	}

	next := *instr.JumpIfFalse
	if result {
		next = *instr.JumpIfTrue
	}

	details := CommitDetails{
		OutputVariables: map[string]Value{
			"result":      Bool(result),
			"explanation": String(explanation),
		},
		Message: "conditional jmp",
	}
	return state.Variables, details, next, nil
}
