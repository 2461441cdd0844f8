package fsstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planforge/branch"
	"planforge/vm"
)

func mustCommit(t *testing.T, taskID, branchName, parent string, seqNo int) branch.Commit {
	t.Helper()
	c := branch.Commit{
		ParentHash: parent,
		TaskID:     taskID,
		Branch:     branchName,
		SeqNo:      seqNo,
		Time:       time.Unix(int64(seqNo), 0).UTC(),
		Message:    "step",
		CommitType: branch.CommitStepExecution,
		Snapshot:   vm.Snapshot{Variables: map[string]vm.Value{}},
	}
	hash, err := c.Hash()
	require.NoError(t, err)
	c.CommitHash = hash
	return c
}

func TestFsstoreAppendAndHead(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	c0 := mustCommit(t, "task-1", branch.MainBranch, "", 0)
	require.NoError(t, store.Append(ctx, branch.MainBranch, c0))

	c1 := mustCommit(t, "task-1", branch.MainBranch, c0.CommitHash, 1)
	require.NoError(t, store.Append(ctx, branch.MainBranch, c1))

	head, err := store.Head(ctx, "task-1", branch.MainBranch)
	require.NoError(t, err)
	require.Equal(t, c1.CommitHash, head.CommitHash)

	commits, err := store.ListCommits(ctx, "task-1", branch.MainBranch)
	require.NoError(t, err)
	require.Len(t, commits, 2)
}

func TestFsstoreAppendRejectsWrongParent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	c0 := mustCommit(t, "task-1", branch.MainBranch, "", 0)
	require.NoError(t, store.Append(ctx, branch.MainBranch, c0))

	bad := mustCommit(t, "task-1", branch.MainBranch, "not-the-head", 1)
	err = store.Append(ctx, branch.MainBranch, bad)
	require.Error(t, err)
}

func TestFsstoreForkAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	c0 := mustCommit(t, "task-1", branch.MainBranch, "", 0)
	require.NoError(t, store.Append(ctx, branch.MainBranch, c0))

	require.NoError(t, store.Fork(ctx, "task-1", branch.MainBranch, c0.CommitHash, "retry"))

	branches, err := store.ListBranches(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, branches, 2)

	require.Error(t, store.DeleteBranch(ctx, "task-1", branch.MainBranch))
	require.NoError(t, store.DeleteBranch(ctx, "task-1", "retry"))
}

func TestFsstoreForkPreservesCommitHash(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	c0 := mustCommit(t, "task-1", branch.MainBranch, "", 0)
	require.NoError(t, store.Append(ctx, branch.MainBranch, c0))

	require.NoError(t, store.Fork(ctx, "task-1", branch.MainBranch, c0.CommitHash, "retry"))

	commits, err := store.ListCommits(ctx, "task-1", "retry")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	want, err := commits[0].Hash()
	require.NoError(t, err)
	require.Equal(t, want, commits[0].CommitHash)
	require.Equal(t, c0.CommitHash, commits[0].CommitHash)
}

func TestFsstoreGetCommit(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	c0 := mustCommit(t, "task-1", branch.MainBranch, "", 0)
	require.NoError(t, store.Append(ctx, branch.MainBranch, c0))

	got, err := store.GetCommit(ctx, c0.CommitHash)
	require.NoError(t, err)
	require.Equal(t, c0.Message, got.Message)

	_, err = store.GetCommit(ctx, "deadbeef")
	require.Error(t, err)
}
