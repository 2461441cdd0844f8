package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planforge/branch"
	"planforge/planner"
	"planforge/task"
	"planforge/telemetry"
	"planforge/tools"
	"planforge/vm"
)

// Engine drives the execution life-cycle of §4.6: it owns no state of its
// own beyond its collaborators, composing the branch store, task store,
// planner, tool invoker, and condition evaluator into the run loop.
type Engine struct {
	Branches branch.Store
	Tasks    task.Store
	Registry *tools.Registry
	Invoker  vm.ToolInvoker
	Cond     vm.ConditionEvaluator
	Planner  planner.Planner
	Lock     TaskLock
	// Publisher, when set, is notified of every appended commit so an SSE
	// handler can tail a task's branch live (§6 GET .../stream). Nil is a
	// valid no-op configuration.
	Publisher CommitPublisher

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	MaxRecoveryAttempts  int
	MaxValidationRetries int
	ToolCallTimeout      time.Duration
}

// New constructs an Engine, filling in noop telemetry and an in-process
// lock when the caller leaves them unset.
func New(branches branch.Store, tasks task.Store, registry *tools.Registry, invoker vm.ToolInvoker, cond vm.ConditionEvaluator, plnr planner.Planner) *Engine {
	return &Engine{
		Branches:             branches,
		Tasks:                tasks,
		Registry:             registry,
		Invoker:              invoker,
		Cond:                 cond,
		Planner:              plnr,
		Lock:                 NewInProcessLock(),
		Logger:               telemetry.NewNoopLogger(),
		Metrics:              telemetry.NewNoopMetrics(),
		Tracer:               telemetry.NewNoopTracer(),
		MaxRecoveryAttempts:  3,
		MaxValidationRetries: 2,
		ToolCallTimeout:      30 * time.Second,
	}
}

// retryBackoff is the delay before the single in-place retry §7 grants
// ToolFailed, Timeout, and LLMParseError before recovery takes over.
const retryBackoff = 20 * time.Millisecond

// instructionless is the Commit.SeqNo value used by commits not produced by
// dispatching a specific plan instruction (Initial, PlanUpdate, Fork,
// Manual). It reuses vm.Terminal's sentinel value for "no seq_no".
const instructionless = vm.Terminal

// StartTask implements §4.6 step 1: it creates the task row, the "main"
// branch, and an Initial commit holding an empty VM loaded with goal and
// namespace but no plan yet.
func (e *Engine) StartTask(ctx context.Context, taskID, goal, namespace string, responseFormat vm.ResponseFormat) error {
	t := task.Task{
		TaskID:    taskID,
		Goal:      goal,
		Namespace: namespace,
		CreatedAt: time.Now().UTC(),
		Branches:  []string{branch.MainBranch},
	}
	if err := e.Tasks.CreateTask(ctx, t); err != nil {
		return fmt.Errorf("engine: create task: %w", err)
	}

	state := &vm.State{
		Goal:           goal,
		ResponseFormat: responseFormat,
		Namespace:      namespace,
		Plan:           &vm.Plan{},
		ProgramCounter: 0,
		Variables:      vm.NewStore(),
	}
	state.Plan.Index()

	commit := branch.Commit{
		TaskID:     taskID,
		Branch:     branch.MainBranch,
		SeqNo:      instructionless,
		Time:       time.Now().UTC(),
		Message:    "task started",
		CommitType: branch.CommitInitial,
		Title:      "Initial",
		Snapshot:   state.ToSnapshot(),
	}
	if err := e.appendCommit(ctx, branch.MainBranch, &commit); err != nil {
		return err
	}
	e.Logger.Info(ctx, "task started", "task_id", taskID, "namespace", namespace)
	return nil
}

// Run implements §4.6 steps 2–4: it acquires the task's advisory lock,
// generates the initial plan if none is loaded yet, then drives the run
// loop to completion, a terminal error, or cancellation.
func (e *Engine) Run(ctx context.Context, taskID string) error {
	t, err := e.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("engine: load task: %w", err)
	}
	branchName := activeBranch(t)

	unlock, err := e.Lock.Acquire(ctx, taskID)
	if err != nil {
		return err
	}
	defer func() { _ = unlock(context.Background()) }()

	head, err := e.Branches.Head(ctx, taskID, branchName)
	if err != nil {
		return fmt.Errorf("engine: load head: %w", err)
	}
	state := vm.FromSnapshot(head.Snapshot)

	if len(state.Plan.Instructions) == 0 {
		newHead, err := e.generateInitialPlan(ctx, head, state, taskID, branchName)
		if err != nil {
			return err
		}
		head = newHead
	}

	return e.runLoop(ctx, taskID, branchName, head, state, 0)
}

// generateInitialPlan implements §4.6 step 2: call the planner, validate
// with up to MaxValidationRetries retries, load the plan into state, and
// commit a PlanUpdate recording it.
func (e *Engine) generateInitialPlan(ctx context.Context, head branch.Commit, state *vm.State, taskID, branchName string) (branch.Commit, error) {
	catalog, err := e.catalogFor(ctx, state.Namespace)
	if err != nil {
		return branch.Commit{}, err
	}
	nsTools, err := e.namespaceToolSet(ctx, state.Namespace)
	if err != nil {
		return branch.Commit{}, err
	}

	req := planner.GenerateRequest{
		Goal:           state.Goal,
		Namespace:      state.Namespace,
		ResponseFormat: state.ResponseFormat,
		ToolCatalog:    catalog,
	}
	plan, err := e.generateValidated(nsTools, func(hint string) (*vm.Plan, error) {
		req.BestPracticesHint = hint
		return e.Planner.Generate(ctx, req)
	})
	if err != nil {
		return branch.Commit{}, fmt.Errorf("engine: generate initial plan: %w", err)
	}

	state.Plan = plan
	state.Plan.Index()

	commit := branch.Commit{
		ParentHash: head.CommitHash,
		TaskID:     taskID,
		Branch:     branchName,
		SeqNo:      instructionless,
		Time:       time.Now().UTC(),
		Message:    "initial plan generated",
		CommitType: branch.CommitPlanUpdate,
		Title:      "PlanUpdate",
		Snapshot:   state.ToSnapshot(),
	}
	if err := e.appendCommit(ctx, branchName, &commit); err != nil {
		return branch.Commit{}, err
	}
	return commit, nil
}

// generateValidated retries call up to MaxValidationRetries+1 times,
// appending the previous ValidationError's reason as hint text each time
// (§4.7: "validation failures are fed back to the updater").
func (e *Engine) generateValidated(nsTools map[string]bool, call func(hint string) (*vm.Plan, error)) (*vm.Plan, error) {
	var hint string
	var lastErr error
	for attempt := 0; attempt <= e.MaxValidationRetries; attempt++ {
		plan, err := call(hint)
		if err != nil {
			return nil, err
		}
		plan.Index()
		if verr := planner.Validate(plan, nsTools); verr != nil {
			lastErr = verr
			hint = fmt.Sprintf("previous attempt was rejected: %s", verr.Error())
			continue
		}
		return plan, nil
	}
	return nil, fmt.Errorf("engine: plan failed validation after %d retries: %w", e.MaxValidationRetries, lastErr)
}

// runLoop implements §4.6 step 3 (dispatch, persist, repeat) and dispatches
// into recovery (step 4) on a dispatch error. recoveryAttempts is carried
// across forks so the bound in §6's MAX_RECOVERY_ATTEMPTS applies to the
// whole task, not just the current branch.
func (e *Engine) runLoop(ctx context.Context, taskID, branchName string, head branch.Commit, state *vm.State, recoveryAttempts int) error {
	m := vm.New(e.Invoker, e.Cond)
	m.Load(state)

	for {
		if ctx.Err() != nil {
			return e.writeTerminal(ctx, taskID, branchName, head, state, branch.CommitManual, vm.New(vm.KindCancelled, "task cancelled"))
		}

		before := state.ToSnapshot()
		result := e.step(ctx, m)
		if result.Error != nil && result.Error.Retryable() {
			// §7: ToolFailed, Timeout, and LLMParseError get one retry
			// with a short backoff before falling back to recovery.
			time.Sleep(retryBackoff)
			state.LastError = nil
			m.Reset(result.NextPC)
			result = e.step(ctx, m)
		}

		diff, derr := branch.Diff(before, state.ToSnapshot())
		if derr != nil {
			return fmt.Errorf("engine: diff step: %w", derr)
		}

		commit := branch.Commit{
			ParentHash: head.CommitHash,
			TaskID:     taskID,
			Branch:     branchName,
			SeqNo:      result.Instruction.SeqNo,
			Time:       time.Now().UTC(),
			Message:    result.CommitDetails.Message,
			CommitType: branch.CommitStepExecution,
			Title:      fmt.Sprintf("step %d", result.Instruction.SeqNo),
			Details: branch.Details{
				InputParameters: result.CommitDetails.InputParameters,
				OutputVariables: result.CommitDetails.OutputVariables,
				Diff:            diff,
				Error:           result.Error,
			},
			Snapshot: state.ToSnapshot(),
		}
		if err := e.appendCommit(ctx, branchName, &commit); err != nil {
			return err
		}
		head = commit

		e.Metrics.IncCounter("steps_total", 1, "kind", string(result.Instruction.Type))

		if result.Error != nil {
			if result.Error.Terminal() {
				return fmt.Errorf("engine: task %s errored: %w", taskID, result.Error)
			}

			recovered, newBranch, newHead, err := e.recover(ctx, taskID, branchName, head, state, result.Error, recoveryAttempts)
			if err != nil {
				return err
			}
			if !recovered {
				return fmt.Errorf("engine: task %s exhausted recovery after %d attempts: %w", taskID, recoveryAttempts, result.Error)
			}
			branchName = newBranch
			head = newHead
			recoveryAttempts++
			m = vm.New(e.Invoker, e.Cond)
			m.Load(state)
			continue
		}

		if result.GoalCompleted {
			e.Logger.Info(ctx, "task completed", "task_id", taskID, "branch", branchName)
			return nil
		}
	}
}

// step calls m.Step, applying ToolCallTimeout to the instruction's context
// when the current instruction is a tool call (§6's TOOL_CALL_TIMEOUT_SECONDS).
func (e *Engine) step(ctx context.Context, m *vm.VM) vm.StepResult {
	instr, ok := m.CurrentInstruction()
	if ok && instr.Type == vm.KindCalling && e.ToolCallTimeout > 0 {
		stepCtx, cancel := context.WithTimeout(ctx, e.ToolCallTimeout)
		defer cancel()
		return m.Step(stepCtx)
	}
	return m.Step(ctx)
}

// recover implements §4.6 step 4: summarize the error, ask the planner for
// a patch, and if one is returned, fork a new branch at the faulty commit
// and resume from the failing seq_no. recoveryAttempts bounds the number of
// forks a single run may create.
func (e *Engine) recover(ctx context.Context, taskID, branchName string, faulty branch.Commit, state *vm.State, stepErr *vm.Error, recoveryAttempts int) (ok bool, newBranch string, newHead branch.Commit, err error) {
	if recoveryAttempts >= e.MaxRecoveryAttempts {
		return false, "", branch.Commit{}, nil
	}

	nsTools, err := e.namespaceToolSet(ctx, state.Namespace)
	if err != nil {
		return false, "", branch.Commit{}, err
	}

	failingSeqNo := faulty.SeqNo
	summary := fmt.Sprintf("instruction seq_no=%d failed: %s: %s", failingSeqNo, stepErr.Kind, stepErr.Message)

	req := planner.UpdateRequest{
		Plan:         state.Plan,
		FailingSeqNo: failingSeqNo,
		ErrorSummary: summary,
		Variables:    state.Variables.Snapshot(),
	}
	plan, err := e.generateValidated(nsTools, func(hint string) (*vm.Plan, error) {
		if hint != "" {
			req.ErrorSummary = summary + "; " + hint
		}
		return e.Planner.Update(ctx, req)
	})
	if err != nil {
		e.Logger.Warn(ctx, "recovery abandoned", "task_id", taskID, "seq_no", failingSeqNo, "error", err.Error())
		return false, "", branch.Commit{}, nil
	}

	forkBranch := fmt.Sprintf("recover-%s", uuid.NewString()[:8])
	if err := e.Branches.Fork(ctx, taskID, branchName, faulty.CommitHash, forkBranch); err != nil {
		return false, "", branch.Commit{}, fmt.Errorf("engine: fork recovery branch: %w", err)
	}
	if err := e.Tasks.AppendBranch(ctx, taskID, forkBranch); err != nil {
		return false, "", branch.Commit{}, fmt.Errorf("engine: record recovery branch: %w", err)
	}

	state.Plan = plan
	state.Plan.Index()
	state.ProgramCounter = failingSeqNo
	state.LastError = nil
	state.GoalCompleted = false

	commit := branch.Commit{
		ParentHash: faulty.CommitHash,
		TaskID:     taskID,
		Branch:     forkBranch,
		SeqNo:      instructionless,
		Time:       time.Now().UTC(),
		Message:    fmt.Sprintf("recovery patch applied at seq_no %d", failingSeqNo),
		CommitType: branch.CommitFork,
		Title:      "Fork",
		Snapshot:   state.ToSnapshot(),
	}
	if err := e.appendCommit(ctx, forkBranch, &commit); err != nil {
		return false, "", branch.Commit{}, err
	}
	e.Logger.Info(ctx, "recovery fork created", "task_id", taskID, "branch", forkBranch, "seq_no", failingSeqNo)
	return true, forkBranch, commit, nil
}

// DynamicUpdate implements §4.6 step 5: an external suggestion re-prompts
// the updater with the commit's VM state, forks a branch, and the caller
// resumes execution by calling Run again against the new branch.
func (e *Engine) DynamicUpdate(ctx context.Context, taskID, atCommitHash, suggestion string) (newBranch string, err error) {
	at, err := e.Branches.GetCommit(ctx, atCommitHash)
	if err != nil {
		return "", fmt.Errorf("engine: load commit: %w", err)
	}
	state := vm.FromSnapshot(at.Snapshot)

	nsTools, err := e.namespaceToolSet(ctx, state.Namespace)
	if err != nil {
		return "", err
	}

	req := planner.UpdateRequest{
		Plan:         state.Plan,
		FailingSeqNo: at.SeqNo,
		ErrorSummary: "",
		Variables:    state.Variables.Snapshot(),
		Suggestion:   suggestion,
	}
	plan, err := e.generateValidated(nsTools, func(hint string) (*vm.Plan, error) {
		if hint != "" {
			req.Suggestion = suggestion + "; " + hint
		}
		return e.Planner.Update(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("engine: dynamic update: %w", err)
	}

	forkBranch := fmt.Sprintf("update-%s", uuid.NewString()[:8])
	if err := e.Branches.Fork(ctx, taskID, at.Branch, at.CommitHash, forkBranch); err != nil {
		return "", fmt.Errorf("engine: fork update branch: %w", err)
	}
	if err := e.Tasks.AppendBranch(ctx, taskID, forkBranch); err != nil {
		return "", fmt.Errorf("engine: record update branch: %w", err)
	}

	state.Plan = plan
	state.Plan.Index()
	state.LastError = nil
	state.GoalCompleted = false

	commit := branch.Commit{
		ParentHash: at.CommitHash,
		TaskID:     taskID,
		Branch:     forkBranch,
		SeqNo:      instructionless,
		Time:       time.Now().UTC(),
		Message:    "dynamic update: " + suggestion,
		CommitType: branch.CommitPlanUpdate,
		Title:      "PlanUpdate",
		Snapshot:   state.ToSnapshot(),
	}
	if err := e.appendCommit(ctx, forkBranch, &commit); err != nil {
		return "", err
	}
	return forkBranch, nil
}

// OptimizeStep implements §4.6 step 6: a variant of DynamicUpdate that
// restricts the requested change to a single seq_no and its local
// parameters.
func (e *Engine) OptimizeStep(ctx context.Context, taskID, atCommitHash string, seqNo int, suggestion string) (newBranch string, err error) {
	at, err := e.Branches.GetCommit(ctx, atCommitHash)
	if err != nil {
		return "", fmt.Errorf("engine: load commit: %w", err)
	}
	state := vm.FromSnapshot(at.Snapshot)

	nsTools, err := e.namespaceToolSet(ctx, state.Namespace)
	if err != nil {
		return "", err
	}

	req := planner.OptimizeStepRequest{
		Plan:       state.Plan,
		SeqNo:      seqNo,
		Suggestion: suggestion,
		Variables:  state.Variables.Snapshot(),
	}
	plan, err := e.generateValidated(nsTools, func(hint string) (*vm.Plan, error) {
		if hint != "" {
			req.Suggestion = suggestion + "; " + hint
		}
		return e.Planner.OptimizeStep(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("engine: optimize step: %w", err)
	}

	forkBranch := fmt.Sprintf("optimize-%s", uuid.NewString()[:8])
	if err := e.Branches.Fork(ctx, taskID, at.Branch, at.CommitHash, forkBranch); err != nil {
		return "", fmt.Errorf("engine: fork optimize branch: %w", err)
	}
	if err := e.Tasks.AppendBranch(ctx, taskID, forkBranch); err != nil {
		return "", fmt.Errorf("engine: record optimize branch: %w", err)
	}

	state.Plan = plan
	state.Plan.Index()
	state.ProgramCounter = seqNo
	state.LastError = nil
	state.GoalCompleted = false

	commit := branch.Commit{
		ParentHash: at.CommitHash,
		TaskID:     taskID,
		Branch:     forkBranch,
		SeqNo:      instructionless,
		Time:       time.Now().UTC(),
		Message:    fmt.Sprintf("step %d optimized: %s", seqNo, suggestion),
		CommitType: branch.CommitPlanUpdate,
		Title:      "PlanUpdate",
		Snapshot:   state.ToSnapshot(),
	}
	if err := e.appendCommit(ctx, forkBranch, &commit); err != nil {
		return "", err
	}
	return forkBranch, nil
}

// writeTerminal writes a terminal commit of commitType carrying cause. Its
// one caller is runLoop's cancellation path (§5's cancellation behavior:
// commit_type Manual, last_error Cancelled); exhausted recovery does not
// call it and leaves the failed StepExecution commit as the branch head.
// The lock itself is released by the caller's deferred Unlock.
func (e *Engine) writeTerminal(ctx context.Context, taskID, branchName string, head branch.Commit, state *vm.State, commitType branch.CommitType, cause *vm.Error) error {
	state.LastError = cause
	state.GoalCompleted = false
	commit := branch.Commit{
		ParentHash: head.CommitHash,
		TaskID:     taskID,
		Branch:     branchName,
		SeqNo:      instructionless,
		Time:       time.Now().UTC(),
		Message:    cause.Message,
		CommitType: commitType,
		Title:      string(commitType),
		Details:    branch.Details{Error: cause},
		Snapshot:   state.ToSnapshot(),
	}
	if err := e.appendCommit(context.WithoutCancel(ctx), branchName, &commit); err != nil {
		return err
	}
	return fmt.Errorf("engine: task %s terminated: %w", taskID, cause)
}

// appendCommit computes commit's hash and appends it to the branch store.
func (e *Engine) appendCommit(ctx context.Context, branchName string, commit *branch.Commit) error {
	hash, err := commit.Hash()
	if err != nil {
		return fmt.Errorf("engine: hash commit: %w", err)
	}
	commit.CommitHash = hash
	if err := e.Branches.Append(ctx, branchName, *commit); err != nil {
		return fmt.Errorf("engine: append commit: %w", err)
	}
	if e.Publisher != nil {
		if err := e.Publisher.Publish(ctx, commit.TaskID, *commit); err != nil {
			e.Logger.Warn(ctx, "publish commit event failed", "task_id", commit.TaskID, "error", err.Error())
		}
	}
	return nil
}

// namespaceToolSet resolves the set of tool names visible to namespace, for
// the planner validator (§4.7).
func (e *Engine) namespaceToolSet(ctx context.Context, namespace string) (map[string]bool, error) {
	ns, err := e.Tasks.GetNamespace(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("engine: load namespace %q: %w", namespace, err)
	}
	set := make(map[string]bool, len(ns.AllowedTools))
	for _, t := range ns.AllowedTools {
		set[t] = true
	}
	return set, nil
}

// catalogFor builds the planner.ToolCatalogEntry list for the tools visible
// to namespace, from the registered tool specs.
func (e *Engine) catalogFor(ctx context.Context, namespace string) ([]planner.ToolCatalogEntry, error) {
	nsTools, err := e.namespaceToolSet(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var catalog []planner.ToolCatalogEntry
	for _, spec := range e.Registry.List() {
		if !nsTools[spec.Name] {
			continue
		}
		catalog = append(catalog, planner.ToolCatalogEntry{
			Name:         spec.Name,
			Description:  spec.Description,
			RequiredArgs: spec.RequiredArgs,
			ResultKeys:   spec.ResultKeys,
		})
	}
	return catalog, nil
}

// activeBranch returns the branch a fresh Run call should resume on: the
// task's explicitly set ActiveBranch (§6 POST /tasks/{id}/set_branch) if
// any, else the most recently appended branch, else "main".
func activeBranch(t task.Task) string {
	if t.ActiveBranch != "" {
		return t.ActiveBranch
	}
	if len(t.Branches) == 0 {
		return branch.MainBranch
	}
	return t.Branches[len(t.Branches)-1]
}
