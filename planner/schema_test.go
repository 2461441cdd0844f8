package planner

import "testing"

import "github.com/stretchr/testify/require"

func TestValidatePlanJSONAcceptsWellFormed(t *testing.T) {
	raw := `{"instructions":[{"seq_no":0,"type":"assign","parameters":{"final_answer":"hi"}}]}`
	require.NoError(t, validatePlanJSON([]byte(raw)))
}

func TestValidatePlanJSONRejectsUnknownType(t *testing.T) {
	raw := `{"instructions":[{"seq_no":0,"type":"loop","parameters":{}}]}`
	require.Error(t, validatePlanJSON([]byte(raw)))
}

func TestValidatePlanJSONRejectsMissingSeqNo(t *testing.T) {
	raw := `{"instructions":[{"type":"assign","parameters":{"final_answer":"hi"}}]}`
	require.Error(t, validatePlanJSON([]byte(raw)))
}

func TestValidatePlanJSONRejectsNonObjectTopLevel(t *testing.T) {
	require.Error(t, validatePlanJSON([]byte("true")))
}
