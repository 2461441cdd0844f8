package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"planforge/branch"
	"planforge/planner"
	"planforge/vm"
)

// condRouter evaluates to whatever bool the test registers for a prompt,
// so conditional-jump tests can pick a branch without an LLM.
type condRouter struct{ result bool }

func (c condRouter) Evaluate(ctx context.Context, prompt, conditionContext string) (bool, string, *vm.Error) {
	return c.result, "stub", nil
}

func TestEngineRunTakesConditionalJump(t *testing.T) {
	plnr := planner.NewStaticPlanner()
	ifTrue, ifFalse := 2, 1
	plnr.Plans["branch"] = planOf(
		vm.Instruction{
			SeqNo:           0,
			Type:            vm.KindJmp,
			ConditionPrompt: "is it raining",
			JumpIfTrue:      &ifTrue,
			JumpIfFalse:     &ifFalse,
		},
		vm.Instruction{
			SeqNo:       1,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"final_answer": vm.String("dry")},
		},
		vm.Instruction{
			SeqNo:       2,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"final_answer": vm.String("wet")},
		},
	)

	e, tasks := setupEngine(t, plnr, nil)
	e.Cond = condRouter{result: true}
	_ = tasks
	ctx := context.Background()

	require.NoError(t, e.StartTask(ctx, "task-jmp", "branch", "default", vm.ResponseFormat{}))
	require.NoError(t, e.Run(ctx, "task-jmp"))

	commits, err := e.Branches.ListCommits(ctx, "task-jmp", branch.MainBranch)
	require.NoError(t, err)
	last := commits[len(commits)-1]
	require.True(t, last.Snapshot.GoalCompleted)
	require.Equal(t, "wet", last.Snapshot.Variables["final_answer"].ToDisplayString())
}

func TestEngineDynamicUpdateForksAndResumes(t *testing.T) {
	plnr := planner.NewStaticPlanner()
	plnr.Plans["count widgets"] = planOf(vm.Instruction{
		SeqNo:       0,
		Type:        vm.KindAssign,
		Assignments: map[string]vm.Value{"count": vm.Int(1)},
	})
	plnr.Patches["dynamic_update:use a bigger batch"] = planOf(vm.Instruction{
		SeqNo:       0,
		Type:        vm.KindAssign,
		Assignments: map[string]vm.Value{"final_answer": vm.String("bigger batch applied")},
	})

	e, _ := setupEngine(t, plnr, nil)
	ctx := context.Background()

	require.NoError(t, e.StartTask(ctx, "task-du", "count widgets", "default", vm.ResponseFormat{}))

	head, err := e.Branches.Head(ctx, "task-du", branch.MainBranch)
	require.NoError(t, err)

	newBranch, err := e.DynamicUpdate(ctx, "task-du", head.CommitHash, "use a bigger batch")
	require.NoError(t, err)
	require.NotEqual(t, branch.MainBranch, newBranch)

	require.NoError(t, e.Run(ctx, "task-du"))

	commits, err := e.Branches.ListCommits(ctx, "task-du", newBranch)
	require.NoError(t, err)
	last := commits[len(commits)-1]
	require.True(t, last.Snapshot.GoalCompleted)
	require.Equal(t, "bigger batch applied", last.Snapshot.Variables["final_answer"].ToDisplayString())
}

func TestEngineOptimizeStepForksAtSingleSeqNo(t *testing.T) {
	plnr := planner.NewStaticPlanner()
	plnr.Plans["greet"] = planOf(
		vm.Instruction{
			SeqNo:       0,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"greeting": vm.String("hi")},
		},
		vm.Instruction{
			SeqNo:       1,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"final_answer": vm.String("${greeting}")},
		},
	)
	plnr.Patches["optimize:0"] = planOf(
		vm.Instruction{
			SeqNo:       0,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"greeting": vm.String("hello there")},
		},
		vm.Instruction{
			SeqNo:       1,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"final_answer": vm.String("${greeting}")},
		},
	)

	e, _ := setupEngine(t, plnr, nil)
	ctx := context.Background()

	require.NoError(t, e.StartTask(ctx, "task-opt", "greet", "default", vm.ResponseFormat{}))
	require.NoError(t, e.Run(ctx, "task-opt"))

	commits, err := e.Branches.ListCommits(ctx, "task-opt", branch.MainBranch)
	require.NoError(t, err)
	var firstStep branch.Commit
	for _, c := range commits {
		if c.CommitType == branch.CommitStepExecution && c.SeqNo == 0 {
			firstStep = c
			break
		}
	}
	require.Equal(t, branch.CommitStepExecution, firstStep.CommitType)

	newBranch, err := e.OptimizeStep(ctx, "task-opt", firstStep.CommitHash, 0, "use a friendlier greeting")
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, "task-opt"))

	optCommits, err := e.Branches.ListCommits(ctx, "task-opt", newBranch)
	require.NoError(t, err)
	last := optCommits[len(optCommits)-1]
	require.True(t, last.Snapshot.GoalCompleted)
	require.Equal(t, "hello there", last.Snapshot.Variables["final_answer"].ToDisplayString())
}

func TestEngineRunWritesTerminalCommitOnCancellation(t *testing.T) {
	plnr := planner.NewStaticPlanner()
	plnr.Plans["long task"] = planOf(
		vm.Instruction{
			SeqNo:       0,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"step": vm.Int(1)},
		},
		vm.Instruction{
			SeqNo:       1,
			Type:        vm.KindAssign,
			Assignments: map[string]vm.Value{"final_answer": vm.String("done")},
		},
	)

	e, _ := setupEngine(t, plnr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.StartTask(context.Background(), "task-cancel", "long task", "default", vm.ResponseFormat{}))
	err := e.Run(ctx, "task-cancel")
	require.Error(t, err)

	commits, cErr := e.Branches.ListCommits(context.Background(), "task-cancel", branch.MainBranch)
	require.NoError(t, cErr)
	last := commits[len(commits)-1]
	require.Equal(t, branch.CommitManual, last.CommitType)
	require.False(t, last.Snapshot.GoalCompleted)
	require.NotNil(t, last.Snapshot.LastError)
	require.Equal(t, vm.KindCancelled, last.Snapshot.LastError.Kind)
}
