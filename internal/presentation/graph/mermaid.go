package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// RunOverlay carries per-step run state to visualize on the graph.
type RunOverlay struct {
	StepStatus map[string]domain.StepStatus
}

// OverlayFromRecord builds an overlay from a persisted execution record.
func OverlayFromRecord(rec *domain.ExecutionRecord) *RunOverlay {
	overlay := &RunOverlay{StepStatus: make(map[string]domain.StepStatus, len(rec.Steps))}
	for i := range rec.Steps {
		overlay.StepStatus[rec.Steps[i].StepID] = rec.Steps[i].Status
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart from a plan's step DAG.
// Semantic styling:
//   - compensated steps (with a rollback action): [[Subroutine]]
//   - plain steps: [Rectangle]
//
// Dependency edges point from prerequisite to dependent. With an overlay,
// each step is classed by its run status.
func GenerateMermaid(plan *domain.Plan, overlay *RunOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for i := range plan.Steps {
		step := &plan.Steps[i]
		safeID := sanitizeMermaidID(step.ID)

		opener, closer := "[", "]"
		if step.Rollback != nil {
			opener, closer = "[[", "]]" // Subroutine
		}

		label := fmt.Sprintf("%s/%s", step.Skill, step.Action)
		sb.WriteString(fmt.Sprintf("    %s%s\"%s <br/> %s\"%s\n", safeID, opener, step.ID, label, closer))

		for _, dep := range step.DependsOn {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(dep), safeID))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Run Status Styles\n")
		// Force black text for high contrast regardless of theme.
		sb.WriteString("    classDef succeeded fill:#c8e6c9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#c62828,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef running fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef skipped fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray:3,color:#000;\n")
		sb.WriteString("    classDef rolled_back fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")

		ids := make([]string, 0, len(overlay.StepStatus))
		for id := range overlay.StepStatus {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			class := statusClass(overlay.StepStatus[id])
			if class == "" {
				continue
			}
			sb.WriteString(fmt.Sprintf("    class %s %s;\n", sanitizeMermaidID(id), class))
		}
	}

	return sb.String()
}

func statusClass(status domain.StepStatus) string {
	switch status {
	case domain.StepSucceeded:
		return "succeeded"
	case domain.StepFailed:
		return "failed"
	case domain.StepRunning:
		return "running"
	case domain.StepSkipped:
		return "skipped"
	case domain.StepRolledBack:
		return "rolled_back"
	default:
		return "" // pending and ready stay unstyled
	}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
