package planner

import (
	"context"
	"encoding/json"
	"strings"

	"planforge/model"
	"planforge/vm"
)

// conditionResult is the JSON shape a conditional jmp instruction's LLM
// reply must parse as (§4.3: "parse the reply as {result: boolean,
// explanation: string}").
type conditionResult struct {
	Result      bool   `json:"result"`
	Explanation string `json:"explanation"`
}

// ConditionEvaluator implements vm.ConditionEvaluator over a model.Client,
// prompting the reasoning LLM for a conditional jmp's yes/no decision.
type ConditionEvaluator struct {
	Client model.Client
	Model  string
}

// Evaluate implements vm.ConditionEvaluator.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, prompt, conditionContext string) (bool, string, *vm.Error) {
	system := "You decide whether a condition holds given the supplied context. " +
		"Reply with a single JSON object of the exact shape {\"result\": boolean, \"explanation\": string} and nothing else."
	resp, err := c.Client.Complete(ctx, model.Request{
		System:  system,
		Prompt:  prompt,
		Context: conditionContext,
		Model:   c.Model,
	})
	if err != nil {
		return false, "", vm.Newf(vm.KindLLMParseError, "condition evaluation call failed: %v", err)
	}

	var parsed conditionResult
	text := strings.TrimSpace(resp.Text)
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return false, "", vm.Newf(vm.KindLLMParseError, "could not parse condition reply as {result,explanation}: %v", err).
			WithDetail("raw_reply", resp.Text)
	}
	return parsed.Result, parsed.Explanation, nil
}
