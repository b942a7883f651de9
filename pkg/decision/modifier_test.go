package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/pkg/chronicle"
	"github.com/agilecore/orchestrator-core/pkg/decision"
)

func baseWithSprint(tasks, duration int) decision.BaseDecision {
	return decision.BaseDecision{CreateNewSprint: true, TasksToAssign: tasks, DurationWeeks: duration}
}

func TestProposeFromChronicle_TaskCountAdjustmentWhenSimilarProjectsAgree(t *testing.T) {
	base := baseWithSprint(20, 2)
	analysis := chronicle.Analysis{
		SimilarProjects: []chronicle.SimilarProject{
			{ProjectID: "p1", SimilarityScore: 0.8, OptimalTaskCount: 10, CompletionRate: 0.8},
			{ProjectID: "p2", SimilarityScore: 0.9, OptimalTaskCount: 11, CompletionRate: 0.9},
			{ProjectID: "p3", SimilarityScore: 0.75, OptimalTaskCount: 9, CompletionRate: 0.85},
		},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)

	require.Len(t, adjustments, 1)
	assert.Equal(t, "tasks_to_assign", adjustments[0].Field)
	assert.InDelta(t, 10, adjustments[0].Recommended, 0.5)
	assert.InDelta(t, 0.85, adjustments[0].Confidence, 0.01)
}

// TestProposeFromChronicle_RejectsOnLowCompletionRateDespiteHighSimilarity
// guards the ground-truth rule from decision_modifier.py: confidence for a
// task-count adjustment is the projects' completion_rate, not how similar
// they are. High similarity alone must not carry a low-completion cohort
// past the confidence threshold.
func TestProposeFromChronicle_RejectsOnLowCompletionRateDespiteHighSimilarity(t *testing.T) {
	base := baseWithSprint(20, 2)
	analysis := chronicle.Analysis{
		SimilarProjects: []chronicle.SimilarProject{
			{ProjectID: "p1", SimilarityScore: 0.95, OptimalTaskCount: 10, CompletionRate: 0.2},
			{ProjectID: "p2", SimilarityScore: 0.95, OptimalTaskCount: 11, CompletionRate: 0.3},
			{ProjectID: "p3", SimilarityScore: 0.95, OptimalTaskCount: 9, CompletionRate: 0.25},
		},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)
	assert.Empty(t, adjustments)
}

func TestProposeFromChronicle_NoAdjustmentWithoutCreateNewSprint(t *testing.T) {
	base := decision.BaseDecision{CreateNewSprint: false}
	analysis := chronicle.Analysis{
		SimilarProjects: []chronicle.SimilarProject{
			{ProjectID: "p1", SimilarityScore: 0.9, OptimalTaskCount: 5},
			{ProjectID: "p2", SimilarityScore: 0.9, OptimalTaskCount: 5},
			{ProjectID: "p3", SimilarityScore: 0.9, OptimalTaskCount: 5},
		},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)
	assert.Empty(t, adjustments)
}

func TestProposeFromChronicle_NoAdjustmentBelowMinSimilarProjects(t *testing.T) {
	base := baseWithSprint(20, 2)
	analysis := chronicle.Analysis{
		SimilarProjects: []chronicle.SimilarProject{
			{ProjectID: "p1", SimilarityScore: 0.9, OptimalTaskCount: 5},
		},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)
	assert.Empty(t, adjustments)
}

func TestProposeFromChronicle_DurationAdjustmentOnIncreasingVelocity(t *testing.T) {
	base := baseWithSprint(10, 2)
	analysis := chronicle.Analysis{
		VelocityTrend: chronicle.VelocityTrend{Direction: "increasing", Confidence: 0.8},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)

	require.Len(t, adjustments, 1)
	assert.Equal(t, "sprint_duration_weeks", adjustments[0].Field)
	assert.Equal(t, float64(1), adjustments[0].Recommended)
}

func TestProposeFromChronicle_NoDurationAdjustmentBelowConfidenceThreshold(t *testing.T) {
	base := baseWithSprint(10, 2)
	analysis := chronicle.Analysis{
		VelocityTrend: chronicle.VelocityTrend{Direction: "increasing", Confidence: 0.4},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)
	assert.Empty(t, adjustments)
}

func TestProposeFromChronicle_NoDurationAdjustmentWhenStable(t *testing.T) {
	base := baseWithSprint(10, 2)
	analysis := chronicle.Analysis{
		VelocityTrend: chronicle.VelocityTrend{Direction: "stable", Confidence: 0.9},
	}
	adjustments := decision.ProposeFromChronicle(decision.DefaultModifierConfig(), base, analysis)
	assert.Empty(t, adjustments)
}
