package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// CycleError reports a dependency cycle. Validation-time fatal; a plan with
// a cycle is rejected before any step reaches the runtime.
type CycleError struct {
	// Steps are the IDs that could not be assigned a layer, sorted.
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among steps: %s", strings.Join(e.Steps, ", "))
}

// UnknownReferenceError reports a dependsOn entry that names no step in the
// plan.
type UnknownReferenceError struct {
	StepID string
	Ref    string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("step %q depends on unknown step %q", e.StepID, e.Ref)
}

// Layers performs a layered topological sort over the plan's steps.
//
// Each returned layer contains steps with no unresolved dependency on each
// other; layer N+1 steps depend only on steps in layers <= N. Within a layer,
// IDs are sorted so sequential execution order is reproducible. A step that
// cannot be assigned a layer after len(steps) passes is part of a cycle.
func Layers(plan *domain.Plan) ([][]string, error) {
	n := len(plan.Steps)
	if n == 0 {
		return nil, nil
	}

	known := make(map[string]struct{}, n)
	for i := range plan.Steps {
		known[plan.Steps[i].ID] = struct{}{}
	}

	for i := range plan.Steps {
		s := &plan.Steps[i]
		for _, ref := range s.DependsOn {
			if ref == s.ID {
				return nil, &CycleError{Steps: []string{s.ID}}
			}
			if _, ok := known[ref]; !ok {
				return nil, &UnknownReferenceError{StepID: s.ID, Ref: ref}
			}
		}
	}

	assigned := make(map[string]int, n) // step ID -> layer index
	var layers [][]string

	// Bounded number of passes: a DAG of n steps needs at most n layers.
	for pass := 0; pass < n && len(assigned) < n; pass++ {
		var layer []string
		for i := range plan.Steps {
			s := &plan.Steps[i]
			if _, done := assigned[s.ID]; done {
				continue
			}
			ready := true
			for _, ref := range s.DependsOn {
				if _, done := assigned[ref]; !done {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, s.ID)
			}
		}
		if len(layer) == 0 {
			break
		}
		sort.Strings(layer)
		for _, id := range layer {
			assigned[id] = len(layers)
		}
		layers = append(layers, layer)
	}

	if len(assigned) < n {
		var stuck []string
		for i := range plan.Steps {
			if _, done := assigned[plan.Steps[i].ID]; !done {
				stuck = append(stuck, plan.Steps[i].ID)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Steps: stuck}
	}

	return layers, nil
}
