package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/pkg/domain"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		plan     domain.Plan
		overlay  *graph.RunOverlay
		contains []string
	}{
		{
			name: "Plain Step Shape",
			plan: domain.Plan{Steps: []domain.Step{
				{ID: "deploy", Skill: "k8s", Action: "apply"},
			}},
			contains: []string{
				`deploy["deploy <br/> k8s/apply"]`,
			},
		},
		{
			name: "Compensated Step Shape",
			plan: domain.Plan{Steps: []domain.Step{
				{
					ID: "branch", Skill: "git", Action: "create-branch",
					Rollback: &domain.RollbackAction{Skill: "git", Action: "delete-branch"},
				},
			}},
			contains: []string{
				`branch[["branch <br/> git/create-branch"]]`,
			},
		},
		{
			name: "Dependency Edges",
			plan: domain.Plan{Steps: []domain.Step{
				{ID: "a", Skill: "s", Action: "x"},
				{ID: "b", Skill: "s", Action: "y", DependsOn: []string{"a"}},
			}},
			contains: []string{
				"a --> b",
			},
		},
		{
			name: "ID Sanitization",
			plan: domain.Plan{Steps: []domain.Step{
				{ID: "create-pr", Skill: "github", Action: "open"},
				{ID: "notify/slack", Skill: "slack", Action: "post", DependsOn: []string{"create-pr"}},
			}},
			contains: []string{
				`create_pr["create-pr <br/> github/open"]`,
				"create_pr --> notify_slack",
			},
		},
		{
			name: "Status Overlay",
			plan: domain.Plan{Steps: []domain.Step{
				{ID: "a", Skill: "s", Action: "x"},
				{ID: "b", Skill: "s", Action: "y", DependsOn: []string{"a"}},
			}},
			overlay: &graph.RunOverlay{StepStatus: map[string]domain.StepStatus{
				"a": domain.StepSucceeded,
				"b": domain.StepFailed,
			}},
			contains: []string{
				"class a succeeded;",
				"class b failed;",
				"classDef failed",
			},
		},
		{
			name: "Pending Steps Unstyled",
			plan: domain.Plan{Steps: []domain.Step{
				{ID: "a", Skill: "s", Action: "x"},
			}},
			overlay: &graph.RunOverlay{StepStatus: map[string]domain.StepStatus{
				"a": domain.StepPending,
			}},
			contains: []string{"graph TD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(&tt.plan, tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
			if tt.name == "Pending Steps Unstyled" && strings.Contains(got, "class a ") {
				t.Errorf("pending step should not be classed:\n%v", got)
			}
		})
	}
}
