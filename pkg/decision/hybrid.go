package decision

import (
	"fmt"
	"math"

	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// ProposeFromCombined implements spec.md §4.C12 step 5's priority-1 path:
// adjustments built from C8's fused patterns when they differ meaningfully
// from the base decision.
func ProposeFromCombined(base BaseDecision, combined []domain.CombinedPattern) []Adjustment {
	var adjustments []Adjustment
	for _, p := range combined {
		switch p.Type {
		case domain.PatternTaskCount:
			if math.Abs(p.Value-float64(base.TasksToAssign)) > 1 {
				adjustments = append(adjustments, Adjustment{
					Field: "tasks_to_assign", Original: float64(base.TasksToAssign), Recommended: p.Value,
					Confidence:          p.Confidence,
					Rationale:           fmt.Sprintf("hybrid pattern recommends %d tasks (evidence: %d)", int(p.Value), p.EvidenceCount),
					ExpectedImprovement: "combined episode+chronicle evidence better matches team capacity",
					EvidenceSource:      fmt.Sprintf("hybrid:%d_supporting_records", p.EvidenceCount),
					SupportingProjects:  p.SourceBreakdown["chronicle"],
				})
			}
		case domain.PatternSprintDuration:
			if math.Abs(p.Value-float64(base.DurationWeeks)) >= 1 {
				adjustments = append(adjustments, Adjustment{
					Field: "sprint_duration_weeks", Original: float64(base.DurationWeeks), Recommended: p.Value,
					Confidence:          p.Confidence,
					Rationale:           fmt.Sprintf("hybrid pattern recommends %.0f-week sprints (evidence: %d)", p.Value, p.EvidenceCount),
					ExpectedImprovement: "sprint length matched to combined historical evidence",
					EvidenceSource:      fmt.Sprintf("hybrid:%d_supporting_records", p.EvidenceCount),
				})
			}
		}
	}
	return adjustments
}
