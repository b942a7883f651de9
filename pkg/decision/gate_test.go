package decision_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/pkg/decision"
)

func TestGate_ApprovesWhenAllChecksPass(t *testing.T) {
	g := decision.NewGate(decision.DefaultGateConfig(), nil)
	adj := decision.Adjustment{
		Field: "tasks_to_assign", Original: 10, Recommended: 12,
		Confidence: 0.9, EvidenceSource: "chronicle:4_similar_projects", SupportingProjects: 4,
	}
	results := g.Evaluate(context.Background(), []decision.Adjustment{adj})

	require.Len(t, results, 1)
	assert.True(t, results[0].Approved)
	assert.True(t, results[0].ConfidenceCheck)
	assert.True(t, results[0].EvidenceCheck)
	assert.True(t, results[0].MagnitudeCheck)
}

func TestGate_RejectsBelowConfidenceThreshold(t *testing.T) {
	g := decision.NewGate(decision.DefaultGateConfig(), nil)
	adj := decision.Adjustment{
		Field: "sprint_duration_weeks", Original: 2, Recommended: 2,
		Confidence: 0.3, EvidenceSource: "chronicle:velocity_trend",
	}
	results := g.Evaluate(context.Background(), []decision.Adjustment{adj})

	require.Len(t, results, 1)
	assert.False(t, results[0].ConfidenceCheck)
	assert.False(t, results[0].Approved)
}

func TestGate_RejectsTaskCountAdjustmentBelowMinSimilarProjects(t *testing.T) {
	g := decision.NewGate(decision.DefaultGateConfig(), nil)
	adj := decision.Adjustment{
		Field: "tasks_to_assign", Original: 10, Recommended: 12,
		Confidence: 0.9, EvidenceSource: "chronicle:2_similar_projects", SupportingProjects: 2,
	}
	results := g.Evaluate(context.Background(), []decision.Adjustment{adj})

	require.Len(t, results, 1)
	assert.False(t, results[0].EvidenceCheck)
	assert.False(t, results[0].Approved)
}

func TestGate_RejectsOversizedMagnitudeChange(t *testing.T) {
	g := decision.NewGate(decision.DefaultGateConfig(), nil)
	adj := decision.Adjustment{
		Field: "sprint_duration_weeks", Original: 2, Recommended: 4,
		Confidence: 0.9, EvidenceSource: "chronicle:velocity_trend",
	}
	results := g.Evaluate(context.Background(), []decision.Adjustment{adj})

	require.Len(t, results, 1)
	assert.False(t, results[0].MagnitudeCheck)
	assert.False(t, results[0].Approved)
}

func TestGate_ZeroOriginalRequiresZeroRecommended(t *testing.T) {
	g := decision.NewGate(decision.DefaultGateConfig(), nil)
	approvedAdj := decision.Adjustment{
		Field: "sprint_duration_weeks", Original: 0, Recommended: 0,
		Confidence: 0.9, EvidenceSource: "chronicle:velocity_trend",
	}
	rejectedAdj := decision.Adjustment{
		Field: "sprint_duration_weeks", Original: 0, Recommended: 1,
		Confidence: 0.9, EvidenceSource: "chronicle:velocity_trend",
	}
	results := g.Evaluate(context.Background(), []decision.Adjustment{approvedAdj, rejectedAdj})

	require.Len(t, results, 2)
	assert.True(t, results[0].MagnitudeCheck)
	assert.False(t, results[1].MagnitudeCheck)
}
