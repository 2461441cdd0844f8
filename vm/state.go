package vm

// State is the VM state tuple of §3: the goal, plan, program counter,
// variable store, and completion/error status. It is what a Commit's
// vm_state_snapshot captures and what a VM reconstructs on resume.
type State struct {
	Goal           string
	ResponseFormat ResponseFormat
	Namespace      string
	Plan           *Plan
	ProgramCounter int
	Variables      *Store
	GoalCompleted  bool
	LastError      *Error
}

// ResponseFormat recognizes the `{lang: <language code>}` option; all other
// keys are preserved but not interpreted by the VM itself.
type ResponseFormat struct {
	Lang string `json:"lang,omitempty"`
}

// Snapshot is the serializable projection of State embedded in a Commit.
// Unlike State it carries a plain variable map rather than a live *Store,
// and the plan is referenced by value so historical commits remain
// self-describing even if the live Plan is later mutated.
type Snapshot struct {
	Goal           string           `json:"goal"`
	ResponseFormat ResponseFormat   `json:"response_format"`
	Namespace      string           `json:"namespace"`
	Plan           []Instruction    `json:"plan"`
	ProgramCounter int              `json:"program_counter"`
	Variables      map[string]Value `json:"variables"`
	GoalCompleted  bool             `json:"goal_completed"`
	LastError      *Error           `json:"last_error,omitempty"`
}

// ToSnapshot projects State into its serializable form.
func (s *State) ToSnapshot() Snapshot {
	return Snapshot{
		Goal:           s.Goal,
		ResponseFormat: s.ResponseFormat,
		Namespace:      s.Namespace,
		Plan:           s.Plan.Instructions,
		ProgramCounter: s.ProgramCounter,
		Variables:      s.Variables.Snapshot(),
		GoalCompleted:  s.GoalCompleted,
		LastError:      s.LastError,
	}
}

// FromSnapshot reconstructs a State from a commit's snapshot. The plan's
// seq_no index is rebuilt immediately so ByseqNo/SeqNoAfter are usable.
func FromSnapshot(snap Snapshot) *State {
	plan := &Plan{Instructions: snap.Plan}
	plan.Index()
	return &State{
		Goal:           snap.Goal,
		ResponseFormat: snap.ResponseFormat,
		Namespace:      snap.Namespace,
		Plan:           plan,
		ProgramCounter: snap.ProgramCounter,
		Variables:      LoadSnapshot(snap.Variables),
		GoalCompleted:  snap.GoalCompleted,
		LastError:      snap.LastError,
	}
}
