package compiler

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/espalier/internal/graph"
	"github.com/aretw0/espalier/pkg/domain"
)

// planDocument mirrors the external plan document shape. Execution policy
// knobs live at the top level of the document; unknown fields are dropped
// by the decoder.
type planDocument struct {
	ID               string           `mapstructure:"id"`
	Name             string           `mapstructure:"name"`
	Steps            []map[string]any `mapstructure:"steps"`
	OnFailure        string           `mapstructure:"on_failure"`
	Parallel         bool             `mapstructure:"parallel"`
	MaxConcurrency   int              `mapstructure:"max_concurrency"`
	AllowSkippedDeps bool             `mapstructure:"allow_skipped_deps"`
}

// ParseDocument parses and validates a plan document.
//
// YAML and JSON are both accepted (JSON documents parse as YAML). The
// returned Plan is immutable by convention: nothing in the engine mutates
// it after this point.
func ParseDocument(data []byte) (*domain.Plan, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("malformed document: %v", err)}}
	}

	var doc planDocument
	if err := decode(raw, &doc); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("malformed document: %v", err)}}
	}

	var issues []string
	if doc.ID == "" {
		issues = append(issues, "plan id is required")
	}
	if len(doc.Steps) == 0 {
		issues = append(issues, "plan has no steps")
	}

	policy := domain.Policy{
		OnFailure:        domain.FailureAbort,
		Parallel:         doc.Parallel,
		MaxConcurrency:   doc.MaxConcurrency,
		AllowSkippedDeps: doc.AllowSkippedDeps,
	}
	switch doc.OnFailure {
	case "", string(domain.FailureAbort):
		// default
	case string(domain.FailureContinue):
		policy.OnFailure = domain.FailureContinue
	default:
		issues = append(issues, fmt.Sprintf("unknown on_failure policy %q", doc.OnFailure))
	}

	steps := make([]domain.Step, 0, len(doc.Steps))
	seen := make(map[string]struct{}, len(doc.Steps))
	for i, rawStep := range doc.Steps {
		// Both dependsOn and depends_on spell the dependency list.
		if v, ok := rawStep["dependsOn"]; ok {
			if _, snake := rawStep["depends_on"]; !snake {
				rawStep["depends_on"] = v
			}
		}

		var step domain.Step
		if err := decode(rawStep, &step); err != nil {
			issues = append(issues, fmt.Sprintf("step %d: malformed: %v", i, err))
			continue
		}
		if step.ID == "" {
			issues = append(issues, fmt.Sprintf("step %d: id is required", i))
			continue
		}
		if _, dup := seen[step.ID]; dup {
			issues = append(issues, fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}
		seen[step.ID] = struct{}{}

		if step.Skill == "" || step.Action == "" {
			issues = append(issues, fmt.Sprintf("step %q: skill and action are required", step.ID))
		}
		if step.Rollback != nil && (step.Rollback.Skill == "" || step.Rollback.Action == "") {
			issues = append(issues, fmt.Sprintf("step %q: rollback requires skill and action", step.ID))
		}
		steps = append(steps, step)
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	plan := &domain.Plan{
		ID:     doc.ID,
		Name:   doc.Name,
		Steps:  steps,
		Policy: policy,
	}

	// Reference and cycle validation is delegated to the dependency
	// resolver; cycles are fatal here, never at run time.
	if _, err := graph.Layers(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// decode maps a generic document fragment onto a typed value. Unknown keys
// are ignored; type mismatches fail.
func decode(input any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
