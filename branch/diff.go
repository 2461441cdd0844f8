package branch

import (
	"encoding/json"
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"planforge/vm"
)

// Diff renders an advisory unified diff between two vm_state_snapshots
// (§3: "details.diff is advisory, for human review; it is never replayed").
// It diffs the full snapshot - goal, response_format, namespace, plan,
// program_counter, variables, goal_completed, last_error - not just
// variables, so a recovery or optimize step that only moves the program
// counter or flips goal_completed still shows up. Each snapshot is
// pretty-printed as sorted-key JSON first so the diff is stable and
// readable rather than a single-line blob. Exported for the engine package,
// which computes details.diff at commit time.
func Diff(before, after vm.Snapshot) (string, error) {
	beforeText, err := prettySnapshot(before)
	if err != nil {
		return "", fmt.Errorf("branch: render before snapshot: %w", err)
	}
	afterText, err := prettySnapshot(after)
	if err != nil {
		return "", fmt.Errorf("branch: render after snapshot: %w", err)
	}
	if beforeText == afterText {
		return "", nil
	}
	edits := myers.ComputeEdits(span.URIFromPath("vm_state_snapshot.json"), beforeText, afterText)
	unified := gotextdiff.ToUnified("parent", "commit", beforeText, edits)
	return fmt.Sprint(unified), nil
}

// prettySnapshot renders a vm_state_snapshot as indented, key-sorted JSON.
// Go's encoding/json already sorts map[string]X keys on marshal, so this is
// a straight MarshalIndent.
func prettySnapshot(snap vm.Snapshot) (string, error) {
	if snap.Variables == nil {
		snap.Variables = map[string]vm.Value{}
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}
