package branch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planforge/vm"
)

func TestCommitHashStableAndSensitive(t *testing.T) {
	base := Commit{
		TaskID:     "task-1",
		Branch:     MainBranch,
		SeqNo:      0,
		Time:       time.Unix(100, 0).UTC(),
		Message:    "initial",
		CommitType: CommitInitial,
		Snapshot:   vm.Snapshot{Variables: map[string]vm.Value{"x": vm.Int(1)}},
	}
	h1, err := base.Hash()
	require.NoError(t, err)
	h2, err := base.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	changed := base
	changed.Message = "different"
	h3, err := changed.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestBranchHead(t *testing.T) {
	var b Branch
	require.Equal(t, "", b.Head())
	b.CommitHashes = []string{"a", "b", "c"}
	require.Equal(t, "c", b.Head())
}

func TestDiffCoversFullSnapshotNotJustVariables(t *testing.T) {
	before := vm.Snapshot{
		Goal:           "do the thing",
		ProgramCounter: 0,
		Variables:      map[string]vm.Value{"x": vm.Int(1)},
	}
	after := before
	after.ProgramCounter = 1
	after.GoalCompleted = true

	diff, err := Diff(before, after)
	require.NoError(t, err)
	require.NotEmpty(t, diff)
	require.Contains(t, diff, "program_counter")
	require.Contains(t, diff, "goal_completed")
}

func TestDiffEmptyWhenSnapshotsEqual(t *testing.T) {
	snap := vm.Snapshot{Variables: map[string]vm.Value{"x": vm.Int(1)}}
	diff, err := Diff(snap, snap)
	require.NoError(t, err)
	require.Empty(t, diff)
}
