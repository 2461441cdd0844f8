package vm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePlanJSON = `[
  {"seq_no":0,"type":"reasoning","parameters":{"chain_of_thoughts":"think","dependency_analysis":"none"}},
  {"seq_no":1,"type":"calling","parameters":{"tool_name":"retrieve_knowledge_graph","tool_params":{"query":"X"},"output_vars":["x_info"]}},
  {"seq_no":2,"type":"assign","parameters":{"final_answer":"Summary: ${x_info}"}}
]`

func TestPlanUnmarshalWireShape(t *testing.T) {
	var instrs []Instruction
	require.NoError(t, json.Unmarshal([]byte(samplePlanJSON), &instrs))
	require.Len(t, instrs, 3)
	require.Equal(t, KindReasoning, instrs[0].Type)
	require.Equal(t, "think", instrs[0].ChainOfThoughts)
	require.Equal(t, KindCalling, instrs[1].Type)
	require.Equal(t, "retrieve_knowledge_graph", instrs[1].ToolName)
	require.Equal(t, OutputVars{"x_info"}, instrs[1].OutputVars)
	require.Equal(t, KindAssign, instrs[2].Type)
	require.Contains(t, instrs[2].Assignments, "final_answer")
}

func TestOutputVarsSingleVsMulti(t *testing.T) {
	var single OutputVars
	require.NoError(t, json.Unmarshal([]byte(`"x"`), &single))
	require.Equal(t, OutputVars{"x"}, single)

	var multi OutputVars
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &multi))
	require.Equal(t, OutputVars{"a", "b"}, multi)

	b, err := json.Marshal(OutputVars{"solo"})
	require.NoError(t, err)
	require.Equal(t, `"solo"`, string(b))
}

func TestSeqNoAfterIsPermutationAware(t *testing.T) {
	p := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindReasoning},
		{SeqNo: 20, Type: KindReasoning},
		{SeqNo: 10, Type: KindReasoning},
	}}
	p.Index()
	require.Equal(t, 10, p.SeqNoAfter(0))
	require.Equal(t, 20, p.SeqNoAfter(10))
	require.Equal(t, Terminal, p.SeqNoAfter(20))
}

func TestValidateStaticDuplicateSeqNo(t *testing.T) {
	p := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindReasoning},
		{SeqNo: 0, Type: KindReasoning},
	}}
	err := p.ValidateStatic()
	require.NotNil(t, err)
	require.Equal(t, KindValidation, err.Kind)
}

func TestValidateStaticUnresolvedJumpTarget(t *testing.T) {
	target := 99
	p := &Plan{Instructions: []Instruction{
		{SeqNo: 0, Type: KindJmp, TargetSeq: &target},
	}}
	err := p.ValidateStatic()
	require.NotNil(t, err)
	require.Equal(t, KindValidation, err.Kind)
}

func TestValidateStaticValidPlan(t *testing.T) {
	var instrs []Instruction
	require.NoError(t, json.Unmarshal([]byte(samplePlanJSON), &instrs))
	p := &Plan{Instructions: instrs}
	require.Nil(t, p.ValidateStatic())
}
