package planner

import (
	"context"
	"fmt"

	"planforge/vm"
)

// StaticPlanner is a deterministic Planner test double: Generate/Update/
// OptimizeStep return pre-registered plans keyed by goal/suggestion rather
// than calling a model, mirroring the teacher's pattern of shipping an
// in-memory double next to every provider-backed adapter.
type StaticPlanner struct {
	// Plans maps a goal to the plan Generate returns for it.
	Plans map[string]*vm.Plan
	// Patches maps an arbitrary key (conventionally "update" or
	// "optimize:<seq_no>") to the plan Update/OptimizeStep returns; Update
	// with a non-empty suggestion looks up "dynamic_update:<suggestion>".
	Patches map[string]*vm.Plan
}

// NewStaticPlanner returns an empty StaticPlanner ready to have Plans/
// Patches populated.
func NewStaticPlanner() *StaticPlanner {
	return &StaticPlanner{Plans: map[string]*vm.Plan{}, Patches: map[string]*vm.Plan{}}
}

// Generate implements Planner.
func (s *StaticPlanner) Generate(ctx context.Context, req GenerateRequest) (*vm.Plan, error) {
	plan, ok := s.Plans[req.Goal]
	if !ok {
		return nil, fmt.Errorf("planner: no static plan registered for goal %q", req.Goal)
	}
	return plan, nil
}

// Update implements Planner.
func (s *StaticPlanner) Update(ctx context.Context, req UpdateRequest) (*vm.Plan, error) {
	key := "update"
	if req.Suggestion != "" {
		key = "dynamic_update:" + req.Suggestion
	}
	plan, ok := s.Patches[key]
	if !ok {
		return nil, fmt.Errorf("planner: no static patch registered for %q", key)
	}
	return plan, nil
}

// OptimizeStep implements Planner.
func (s *StaticPlanner) OptimizeStep(ctx context.Context, req OptimizeStepRequest) (*vm.Plan, error) {
	key := fmt.Sprintf("optimize:%d", req.SeqNo)
	plan, ok := s.Patches[key]
	if !ok {
		return nil, fmt.Errorf("planner: no static patch registered for %q", key)
	}
	return plan, nil
}
