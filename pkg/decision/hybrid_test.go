package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/pkg/decision"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

func TestProposeFromCombined_TaskCountDivergesFromBase(t *testing.T) {
	base := decision.BaseDecision{TasksToAssign: 10}
	combined := []domain.CombinedPattern{
		{Type: domain.PatternTaskCount, Value: 14, Confidence: 0.8, EvidenceCount: 6, SourceBreakdown: map[string]int{"chronicle": 4}},
	}
	adjustments := decision.ProposeFromCombined(base, combined)

	require.Len(t, adjustments, 1)
	assert.Equal(t, "tasks_to_assign", adjustments[0].Field)
	assert.Equal(t, float64(14), adjustments[0].Recommended)
	assert.Equal(t, 4, adjustments[0].SupportingProjects)
}

func TestProposeFromCombined_NoAdjustmentWhenCloseToBase(t *testing.T) {
	base := decision.BaseDecision{TasksToAssign: 10}
	combined := []domain.CombinedPattern{
		{Type: domain.PatternTaskCount, Value: 10.5, Confidence: 0.8, EvidenceCount: 6},
	}
	adjustments := decision.ProposeFromCombined(base, combined)
	assert.Empty(t, adjustments)
}

func TestProposeFromCombined_DurationPattern(t *testing.T) {
	base := decision.BaseDecision{DurationWeeks: 2}
	combined := []domain.CombinedPattern{
		{Type: domain.PatternSprintDuration, Value: 3, Confidence: 0.7, EvidenceCount: 5},
	}
	adjustments := decision.ProposeFromCombined(base, combined)

	require.Len(t, adjustments, 1)
	assert.Equal(t, "sprint_duration_weeks", adjustments[0].Field)
	assert.Equal(t, float64(3), adjustments[0].Recommended)
}

func TestProposeFromCombined_IgnoresUnknownPatternType(t *testing.T) {
	base := decision.BaseDecision{TasksToAssign: 10}
	combined := []domain.CombinedPattern{
		{Type: domain.PatternType("unknown"), Value: 99, Confidence: 0.9},
	}
	adjustments := decision.ProposeFromCombined(base, combined)
	assert.Empty(t, adjustments)
}
