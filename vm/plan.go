package vm

import (
	"encoding/json"
	"fmt"
	"sort"
)

// InstructionKind discriminates the tag of an Instruction (§3).
type InstructionKind string

const (
	KindReasoning InstructionKind = "reasoning"
	KindAssign    InstructionKind = "assign"
	KindCalling   InstructionKind = "calling"
	KindJmp       InstructionKind = "jmp"
)

// Terminal is the program-counter sentinel meaning "one greater than
// max(seq_no)", i.e. there is no next instruction.
const Terminal = -1

// Instruction is one step of a Plan. Only the fields relevant to its Type
// are populated; unmarshaling from the plan JSON dispatches on "type".
type Instruction struct {
	SeqNo int             `json:"seq_no"`
	Type  InstructionKind `json:"type"`

	// reasoning
	ChainOfThoughts   string `json:"chain_of_thoughts,omitempty"`
	DependencyAnalysis string `json:"dependency_analysis,omitempty"`

	// assign: varName -> expression (raw JSON value per §4.1 assignment
	// value kinds). Evaluated by vm.EvalExpr.
	Assignments map[string]Value `json:"assignments,omitempty"`

	// calling
	ToolName   string           `json:"tool_name,omitempty"`
	ToolParams map[string]Value `json:"tool_params,omitempty"`
	OutputVars OutputVars       `json:"output_vars,omitempty"`

	// jmp: either TargetSeq alone (unconditional), or ConditionPrompt +
	// JumpIfTrue + JumpIfFalse (conditional).
	TargetSeq       *int   `json:"target_seq,omitempty"`
	ConditionPrompt string `json:"condition_prompt,omitempty"`
	Context         string `json:"context,omitempty"`
	JumpIfTrue      *int   `json:"jump_if_true,omitempty"`
	JumpIfFalse     *int   `json:"jump_if_false,omitempty"`
}

// IsConditionalJump reports whether a jmp instruction branches via an LLM
// yes/no evaluation rather than unconditionally.
func (i Instruction) IsConditionalJump() bool {
	return i.Type == KindJmp && i.TargetSeq == nil
}

// OutputVars is either a single variable name or an ordered sequence of
// names (§4.2: calling.output_vars is "either one string or an ordered
// sequence of strings").
type OutputVars []string

// MarshalJSON renders a single-element OutputVars as a bare string, matching
// the wire shape used by single-output calling instructions.
func (o OutputVars) MarshalJSON() ([]byte, error) {
	if len(o) == 1 {
		return json.Marshal(string(o[0]))
	}
	return json.Marshal([]string(o))
}

// UnmarshalJSON accepts either a bare string or an array of strings.
func (o *OutputVars) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = OutputVars{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("vm: output_vars must be a string or array of strings: %w", err)
	}
	*o = OutputVars(many)
	return nil
}

// rawInstruction mirrors the wire shape of §6's Plan JSON example, where
// assign writes and calling/jmp fields live inside a nested "parameters"
// object rather than flat on the instruction.
type rawInstruction struct {
	SeqNo      int             `json:"seq_no"`
	Type       InstructionKind `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
}

// MarshalJSON renders an Instruction in the wire shape of §6: seq_no, type,
// and a nested parameters object whose keys depend on Type.
func (i Instruction) MarshalJSON() ([]byte, error) {
	params := map[string]any{}
	switch i.Type {
	case KindReasoning:
		params["chain_of_thoughts"] = i.ChainOfThoughts
		params["dependency_analysis"] = i.DependencyAnalysis
	case KindAssign:
		for k, v := range i.Assignments {
			params[k] = v
		}
	case KindCalling:
		params["tool_name"] = i.ToolName
		params["tool_params"] = i.ToolParams
		params["output_vars"] = i.OutputVars
	case KindJmp:
		if i.TargetSeq != nil {
			params["target_seq"] = *i.TargetSeq
		} else {
			params["condition_prompt"] = i.ConditionPrompt
			if i.Context != "" {
				params["context"] = i.Context
			}
			if i.JumpIfTrue != nil {
				params["jump_if_true"] = *i.JumpIfTrue
			}
			if i.JumpIfFalse != nil {
				params["jump_if_false"] = *i.JumpIfFalse
			}
		}
	default:
		return nil, fmt.Errorf("vm: unknown instruction type %q", i.Type)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rawInstruction{SeqNo: i.SeqNo, Type: i.Type, Parameters: rawParams})
}

// UnmarshalJSON parses an Instruction from the §6 wire shape.
func (i *Instruction) UnmarshalJSON(data []byte) error {
	var raw rawInstruction
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.SeqNo = raw.SeqNo
	i.Type = raw.Type

	switch raw.Type {
	case KindReasoning:
		var p struct {
			ChainOfThoughts    string `json:"chain_of_thoughts"`
			DependencyAnalysis string `json:"dependency_analysis"`
		}
		if len(raw.Parameters) > 0 {
			if err := json.Unmarshal(raw.Parameters, &p); err != nil {
				return fmt.Errorf("vm: reasoning parameters: %w", err)
			}
		}
		i.ChainOfThoughts = p.ChainOfThoughts
		i.DependencyAnalysis = p.DependencyAnalysis
	case KindAssign:
		var p map[string]Value
		if len(raw.Parameters) > 0 {
			if err := json.Unmarshal(raw.Parameters, &p); err != nil {
				return fmt.Errorf("vm: assign parameters: %w", err)
			}
		}
		i.Assignments = p
	case KindCalling:
		var p struct {
			ToolName   string           `json:"tool_name"`
			ToolParams map[string]Value `json:"tool_params"`
			OutputVars OutputVars       `json:"output_vars"`
		}
		if len(raw.Parameters) > 0 {
			if err := json.Unmarshal(raw.Parameters, &p); err != nil {
				return fmt.Errorf("vm: calling parameters: %w", err)
			}
		}
		i.ToolName = p.ToolName
		i.ToolParams = p.ToolParams
		i.OutputVars = p.OutputVars
	case KindJmp:
		var p struct {
			TargetSeq       *int   `json:"target_seq"`
			ConditionPrompt string `json:"condition_prompt"`
			Context         string `json:"context"`
			JumpIfTrue      *int   `json:"jump_if_true"`
			JumpIfFalse     *int   `json:"jump_if_false"`
		}
		if len(raw.Parameters) > 0 {
			if err := json.Unmarshal(raw.Parameters, &p); err != nil {
				return fmt.Errorf("vm: jmp parameters: %w", err)
			}
		}
		i.TargetSeq = p.TargetSeq
		i.ConditionPrompt = p.ConditionPrompt
		i.Context = p.Context
		i.JumpIfTrue = p.JumpIfTrue
		i.JumpIfFalse = p.JumpIfFalse
	default:
		return fmt.Errorf("vm: unknown instruction type %q", raw.Type)
	}
	return nil
}

// Plan is an ordered sequence of instructions (§3). Length is fixed once
// execution starts; seq_no values are a permutation of 0..N-1 but need not
// be contiguous in storage order.
type Plan struct {
	Instructions []Instruction `json:"instructions"`

	// bySeq indexes instructions by seq_no, built lazily by Index.
	bySeq map[int]Instruction
}

// Index builds (or rebuilds) the seq_no lookup table. Only ByseqNo uses the
// table, and it builds it when absent; call Index again after mutating a
// Plan's Instructions slice. SeqNoAfter and MaxSeqNo scan Instructions
// directly.
func (p *Plan) Index() {
	p.bySeq = make(map[int]Instruction, len(p.Instructions))
	for _, in := range p.Instructions {
		p.bySeq[in.SeqNo] = in
	}
}

// ByseqNo returns the instruction with the given seq_no.
func (p *Plan) ByseqNo(seqNo int) (Instruction, bool) {
	if p.bySeq == nil {
		p.Index()
	}
	in, ok := p.bySeq[seqNo]
	return in, ok
}

// MaxSeqNo returns the greatest seq_no in the plan, or -1 if the plan is empty.
func (p *Plan) MaxSeqNo() int {
	max := -1
	for _, in := range p.Instructions {
		if in.SeqNo > max {
			max = in.SeqNo
		}
	}
	return max
}

// SeqNoAfter returns the smallest seq_no strictly greater than current among
// the plan's instructions, or Terminal if none (§4.3).
func (p *Plan) SeqNoAfter(current int) int {
	seqNos := make([]int, 0, len(p.Instructions))
	for _, in := range p.Instructions {
		seqNos = append(seqNos, in.SeqNo)
	}
	sort.Ints(seqNos)
	for _, s := range seqNos {
		if s > current {
			return s
		}
	}
	return Terminal
}

// ValidateStatic performs the structural checks of §4.7: unique seq_no,
// resolvable jump targets. Tool-visibility and variable-flow reachability
// checks live in the planner package, which has access to the tool
// registry and namespace.
func (p *Plan) ValidateStatic() *Error {
	seen := make(map[int]bool, len(p.Instructions))
	for _, in := range p.Instructions {
		if seen[in.SeqNo] {
			return Newf(KindValidation, "duplicate seq_no %d", in.SeqNo).WithDetail("seq_no", in.SeqNo)
		}
		seen[in.SeqNo] = true
	}
	for _, in := range p.Instructions {
		switch in.Type {
		case KindJmp:
			if in.TargetSeq != nil {
				if !seen[*in.TargetSeq] {
					return Newf(KindValidation, "jmp target_seq %d does not resolve", *in.TargetSeq).WithSeqNo(in.SeqNo)
				}
				continue
			}
			if in.JumpIfTrue == nil || in.JumpIfFalse == nil {
				return Newf(KindValidation, "conditional jmp missing jump_if_true/jump_if_false").WithSeqNo(in.SeqNo)
			}
			if !seen[*in.JumpIfTrue] {
				return Newf(KindValidation, "jump_if_true %d does not resolve", *in.JumpIfTrue).WithSeqNo(in.SeqNo)
			}
			if !seen[*in.JumpIfFalse] {
				return Newf(KindValidation, "jump_if_false %d does not resolve", *in.JumpIfFalse).WithSeqNo(in.SeqNo)
			}
		case KindAssign:
			for k := range in.Assignments {
				if !ValidName(k) {
					return Newf(KindValidation, "assign writes invalid variable name %q", k).WithSeqNo(in.SeqNo)
				}
			}
		case KindCalling:
			if in.ToolName == "" {
				return Newf(KindValidation, "calling instruction missing tool_name").WithSeqNo(in.SeqNo)
			}
			for _, name := range in.OutputVars {
				if !ValidName(name) {
					return Newf(KindValidation, "calling output_vars has invalid variable name %q", name).WithSeqNo(in.SeqNo)
				}
			}
		case KindReasoning:
			// metadata only, nothing to validate structurally.
		default:
			return Newf(KindValidation, "unknown instruction type %q", in.Type).WithSeqNo(in.SeqNo)
		}
	}
	return nil
}
