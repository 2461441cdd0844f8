package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVMTrivialCompletion(t *testing.T) {
	// Plan: [{0,"assign",{final_answer:"hello"}}]
	plan := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindAssign, Assignments: map[string]Value{"final_answer": String("hello")}},
	}}
	plan.Index()
	state := &State{Plan: plan, Variables: NewStore(), ProgramCounter: 0}

	m := New(nil, nil)
	m.Load(state)
	require.Equal(t, Running, m.RunState())

	res := m.Step(context.Background())
	require.Nil(t, res.Error)
	require.True(t, res.GoalCompleted)
	require.Equal(t, Completed, m.RunState())
	v, err := m.State().Variables.Get("final_answer")
	require.NoError(t, err)
	require.Equal(t, String("hello"), v)
}

func TestVMArithmeticAssignSequence(t *testing.T) {
	// Plan: [{0,assign,{a:3}},{1,assign,{b:"${a} * 2 + 1"}},{2,assign,{final_answer:"${b}"}}]
	plan := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindAssign, Assignments: map[string]Value{"a": Int(3)}},
		{SeqNo: 1, Type: KindAssign, Assignments: map[string]Value{"b": String("${a} * 2 + 1")}},
		{SeqNo: 2, Type: KindAssign, Assignments: map[string]Value{"final_answer": String("${b}")}},
	}}
	plan.Index()
	state := &State{Plan: plan, Variables: NewStore(), ProgramCounter: 0}

	m := New(nil, nil)
	m.Load(state)
	for !m.State().GoalCompleted {
		res := m.Step(context.Background())
		require.Nil(t, res.Error)
	}

	a, _ := m.State().Variables.Get("a")
	b, _ := m.State().Variables.Get("b")
	fa, _ := m.State().Variables.Get("final_answer")
	require.Equal(t, Int(3), a)
	require.Equal(t, Int(7), b)
	require.Equal(t, Int(7), fa)
}

func TestVMToolCallAndBind(t *testing.T) {
	plan := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindCalling, ToolName: "llm_generate", OutputVars: OutputVars{"summary", "insights"}},
		{SeqNo: 1, Type: KindAssign, Assignments: map[string]Value{"final_answer": String("${summary}|${insights}")}},
	}}
	plan.Index()
	state := &State{Plan: plan, Variables: NewStore(), ProgramCounter: 0}

	tools := mockTools{result: Object(map[string]Value{"summary": String("s"), "insights": String("i")})}
	m := New(tools, nil)
	m.Load(state)
	for !m.State().GoalCompleted {
		res := m.Step(context.Background())
		require.Nil(t, res.Error)
	}
	fa, _ := m.State().Variables.Get("final_answer")
	require.Equal(t, String("s|i"), fa)
}

func TestVMConditionalJump(t *testing.T) {
	plan := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindAssign, Assignments: map[string]Value{"n": Int(4)}},
		{SeqNo: 1, Type: KindJmp, ConditionPrompt: "is ${n} even", JumpIfTrue: intp(10), JumpIfFalse: intp(20)},
		{SeqNo: 10, Type: KindAssign, Assignments: map[string]Value{"final_answer": String("even")}},
		{SeqNo: 20, Type: KindAssign, Assignments: map[string]Value{"final_answer": String("odd")}},
	}}
	plan.Index()
	state := &State{Plan: plan, Variables: NewStore(), ProgramCounter: 0}

	cond := mockCond{result: true, explanation: "4 is even"}
	m := New(nil, cond)
	m.Load(state)
	for i := 0; i < 2; i++ {
		res := m.Step(context.Background())
		require.Nil(t, res.Error)
	}
	require.Equal(t, 10, m.State().ProgramCounter)
	res := m.Step(context.Background())
	require.Nil(t, res.Error)
	fa, _ := m.State().Variables.Get("final_answer")
	require.Equal(t, String("even"), fa)
}

func TestVMErrorTransitionsToErrored(t *testing.T) {
	plan := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindCalling, ToolName: "broken", OutputVars: OutputVars{"x"}},
	}}
	plan.Index()
	state := &State{Plan: plan, Variables: NewStore(), ProgramCounter: 0}

	tools := mockTools{err: New(KindToolFailed, "boom")}
	m := New(tools, nil)
	m.Load(state)
	res := m.Step(context.Background())
	require.NotNil(t, res.Error)
	require.Equal(t, Errored, m.RunState())
	require.NotNil(t, m.State().LastError)
}

func intp(i int) *int { return &i }
