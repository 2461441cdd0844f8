// Package branch implements the append-only, content-addressed commit and
// branch store of §4.5: every execution step, recovery fork, and manual
// edit is recorded as an immutable Commit on a named Branch. Two backend
// implementations are provided (fsstore, sqlstore) behind the same Store
// interface, plus an optional document-store backend (mongostore) for
// deployments that already run MongoDB for task/session metadata.
package branch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"planforge/vm"
)

// CommitType discriminates why a commit was created (§3).
type CommitType string

const (
	CommitInitial       CommitType = "Initial"
	CommitStepExecution CommitType = "StepExecution"
	CommitPlanUpdate    CommitType = "PlanUpdate"
	CommitFork          CommitType = "Fork"
	CommitManual        CommitType = "Manual"
)

// Details is the commit's details payload (§3): the interpolated input
// parameters and bound output variables of the instruction that produced
// it, plus a textual diff against the parent commit's snapshot.
type Details struct {
	InputParameters map[string]vm.Value `json:"input_parameters,omitempty"`
	OutputVariables map[string]vm.Value `json:"output_variables,omitempty"`
	Diff            string              `json:"diff,omitempty"`
	Error           *vm.Error           `json:"error,omitempty"`
}

// Commit is the immutable record of §3. CommitHash is a content hash of
// every other field except Title, computed by Hash and verified by Store
// implementations before an append is accepted.
type Commit struct {
	CommitHash string       `json:"commit_hash"`
	ParentHash string       `json:"parent_hash,omitempty"`
	TaskID     string       `json:"task_id"`
	Branch     string       `json:"branch"`
	SeqNo      int          `json:"seq_no"`
	Time       time.Time    `json:"time"`
	Message    string       `json:"message"`
	CommitType CommitType   `json:"commit_type"`
	Title      string       `json:"title"`
	Details    Details      `json:"details"`
	Snapshot   vm.Snapshot  `json:"vm_state_snapshot"`
}

// hashInput mirrors the field set hashed by Hash: everything in Commit
// except CommitHash itself and Title (§4.5: "commit_hash is the stable hash of
// {parent_hash, task_id, branch, seq_no, time, message, commit_type,
// details, vm_state_snapshot}").
type hashInput struct {
	ParentHash string      `json:"parent_hash,omitempty"`
	TaskID     string      `json:"task_id"`
	Branch     string      `json:"branch"`
	SeqNo      int         `json:"seq_no"`
	Time       string      `json:"time"`
	Message    string      `json:"message"`
	CommitType CommitType  `json:"commit_type"`
	Details    Details     `json:"details"`
	Snapshot   vm.Snapshot `json:"vm_state_snapshot"`
}

// Hash computes the content hash of c, canonicalizing the variable maps
// embedded in Details and Snapshot via sorted-key JSON (vm.Value already
// marshals that way; the surrounding maps are re-encoded through a
// sorted-key helper so Go's randomized map iteration never changes the
// hash).
func (c Commit) Hash() (string, error) {
	in := hashInput{
		ParentHash: c.ParentHash,
		TaskID:     c.TaskID,
		Branch:     c.Branch,
		SeqNo:      c.SeqNo,
		Time:       c.Time.UTC().Format(time.RFC3339Nano),
		Message:    c.Message,
		CommitType: c.CommitType,
		Details:    c.Details,
		Snapshot:   c.Snapshot,
	}
	encoded, err := canonicalJSON(in)
	if err != nil {
		return "", fmt.Errorf("branch: hash commit: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v through a generic map-key-sorting pass so the
// byte output is stable regardless of Go's randomized map iteration order.
// encoding/json already sorts map[string]X keys; the concern here is nested
// map[string]any values (e.g. Details.Error.Details) which json also sorts
// by key for map types, so a single json.Marshal is sufficient. The helper
// exists to keep the hashing contract explicit and in one place.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Branch is a named, ordered list of commit hashes with a distinguished
// head (§3). Store implementations persist the commits themselves
// separately and keyed by hash; Branch here is the index.
type Branch struct {
	TaskID      string   `json:"task_id"`
	Name        string   `json:"name"`
	CommitHashes []string `json:"commit_hashes"`
	ForkedFrom  string   `json:"forked_from,omitempty"`
	ForkedAt    string   `json:"forked_at,omitempty"`
}

// Head returns the branch's head commit hash, or "" if empty.
func (b Branch) Head() string {
	if len(b.CommitHashes) == 0 {
		return ""
	}
	return b.CommitHashes[len(b.CommitHashes)-1]
}

// Store is the append-only commit/branch store interface of §4.5.
type Store interface {
	// Head returns the head commit of branch.
	Head(ctx context.Context, taskID, branchName string) (Commit, error)
	// Append adds commit to branch, rejecting it if ParentHash does not
	// match the branch's current head (§4 invariant 1) or if CommitHash does
	// not match Hash() (tamper detection).
	Append(ctx context.Context, branchName string, commit Commit) error
	// Fork creates newBranch as a copy of branch's history up to and
	// including atCommit, after which the two branches diverge
	// independently (§3).
	Fork(ctx context.Context, taskID, branchName string, atCommit string, newBranch string) error
	// ListBranches lists every branch of taskID.
	ListBranches(ctx context.Context, taskID string) ([]Branch, error)
	// ListCommits lists every commit of a branch, oldest first.
	ListCommits(ctx context.Context, taskID, branchName string) ([]Commit, error)
	// GetCommit looks up a commit by its hash.
	GetCommit(ctx context.Context, hash string) (Commit, error)
	// DeleteBranch removes a non-main branch. Deleting "main" is rejected.
	DeleteBranch(ctx context.Context, taskID, branchName string) error
}

// MainBranch is the name every task's first branch is created with.
const MainBranch = "main"

// sortedBranchNames returns the keys of a branch map in sorted order. It is
// unexported and has no caller; fsstore keeps its own equivalent helper.
func sortedBranchNames(m map[string]Branch) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
