package vm

import "context"

// RunState is the VM's execution state of §4.4.
type RunState int

const (
	Idle RunState = iota
	Running
	AwaitingTool
	AwaitingLLM
	Errored
	Completed
)

// String renders the run state name for logging.
func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case AwaitingTool:
		return "awaiting_tool"
	case AwaitingLLM:
		return "awaiting_llm"
	case Errored:
		return "errored"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// VM owns a State and drives it one instruction at a time. It is a pure
// state machine: two VMs with identical state and identical tool/LLM
// outputs produce identical next states (§4.4); all non-determinism is
// confined to the ToolInvoker and ConditionEvaluator the caller supplies.
type VM struct {
	state    *State
	run      RunState
	tools    ToolInvoker
	cond     ConditionEvaluator
}

// New constructs an idle VM bound to the given tool invoker and condition
// evaluator. Load must be called before Step.
func New(tools ToolInvoker, cond ConditionEvaluator) *VM {
	return &VM{run: Idle, tools: tools, cond: cond}
}

// Load installs state and transitions Idle -> Running.
func (m *VM) Load(state *State) {
	m.state = state
	m.run = Running
}

// State returns the VM's current state tuple. Callers must not mutate the
// returned value's Variables directly; use Step to advance the VM.
func (m *VM) State() *State { return m.state }

// RunState returns the VM's current run state.
func (m *VM) RunState() RunState { return m.run }

// CurrentInstruction returns the instruction at the current program
// counter. ok is false if the PC is terminal or does not resolve (the
// latter is an invariant violation: validated plans never produce it).
func (m *VM) CurrentInstruction() (Instruction, bool) {
	if m.state == nil || m.state.ProgramCounter == Terminal {
		return Instruction{}, false
	}
	return m.state.Plan.ByseqNo(m.state.ProgramCounter)
}

// StepResult reports the outcome of one Step call.
type StepResult struct {
	Instruction   Instruction
	CommitDetails CommitDetails
	NextPC        int
	GoalCompleted bool
	Error         *Error
}

// Step executes the instruction at the current program counter and
// advances VM state accordingly (§4.3, §4.4). It is a single synchronous
// call: ToolInvoker/ConditionEvaluator calls made during dispatch are
// cooperative from the VM's perspective, so Step transitions through
// AwaitingTool/AwaitingLLM around the call for observability even though
// control does not actually return to the caller mid-instruction.
func (m *VM) Step(ctx context.Context) StepResult {
	instr, ok := m.CurrentInstruction()
	if !ok {
		err := Newf(KindInternal, "step called with no current instruction (pc=%d)", m.state.ProgramCounter)
		m.run = Errored
		m.state.LastError = err
		return StepResult{NextPC: m.state.ProgramCounter, Error: err}
	}

	switch instr.Type {
	case KindCalling:
		m.run = AwaitingTool
	case KindJmp:
		if instr.IsConditionalJump() {
			m.run = AwaitingLLM
		}
	}

	newVars, details, nextPC, err := Dispatch(ctx, m.state, instr, m.tools, m.cond)
	if err != nil {
		m.run = Errored
		m.state.LastError = err
		return StepResult{Instruction: instr, CommitDetails: details, NextPC: nextPC, Error: err}
	}

	m.state.Variables = newVars
	m.state.ProgramCounter = nextPC
	m.state.LastError = nil

	completed := m.state.Variables.Has("final_answer") && m.state.ProgramCounter == Terminal
	m.state.GoalCompleted = completed
	if completed {
		m.run = Completed
	} else {
		m.run = Running
	}

	return StepResult{
		Instruction:   instr,
		CommitDetails: details,
		NextPC:        nextPC,
		GoalCompleted: completed,
	}
}

// Reset reinstalls the program counter without otherwise touching state,
// used when resuming from a commit snapshot or after a recovery fork
// installs a patched plan starting at a given seq_no.
func (m *VM) Reset(pc int) {
	m.state.ProgramCounter = pc
	m.state.GoalCompleted = false
	m.state.LastError = nil
	m.run = Running
}
