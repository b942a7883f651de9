package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/pkg/chronicle"
	"github.com/agilecore/orchestrator-core/pkg/decision"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/patterns"
)

func TestApplyAdjustments_OverlaysApprovedFieldsOnly(t *testing.T) {
	base := decision.BaseDecision{TasksToAssign: 10, DurationWeeks: 2}
	results := []decision.GateResult{
		{Adjustment: decision.Adjustment{Field: "tasks_to_assign", Recommended: 14}, Approved: true},
		{Adjustment: decision.Adjustment{Field: "sprint_duration_weeks", Recommended: 3}, Approved: false},
	}
	final := applyAdjustments(base, results)

	assert.Equal(t, 14, final.TasksToAssign)
	assert.Equal(t, 2, final.DurationWeeks, "unapproved adjustment must not be applied")
}

func TestApplyAdjustments_NoResultsLeavesBaseUnchanged(t *testing.T) {
	base := decision.BaseDecision{TasksToAssign: 10, DurationWeeks: 2}
	final := applyAdjustments(base, nil)
	assert.Equal(t, base, final)
}

func TestPopulateDecision_CopiesFinalFieldsAndAppliedAdjustments(t *testing.T) {
	final := decision.BaseDecision{
		CreateNewSprint: true, SprintName: "proj-S01", TasksToAssign: 12, DurationWeeks: 2,
	}
	results := []decision.GateResult{
		{Adjustment: decision.Adjustment{Field: "tasks_to_assign", Recommended: 12, Confidence: 0.8, Rationale: "evidence"}, Approved: true},
		{Adjustment: decision.Adjustment{Field: "sprint_duration_weeks", Recommended: 3}, Approved: false},
	}
	out := &Decision{ConfidenceScores: map[string]float64{}}
	populateDecision(out, final, results)

	assert.True(t, out.CreateNewSprint)
	assert.Equal(t, "proj-S01", out.SprintName)
	require.Len(t, out.AppliedAdjustments, 1)
	assert.Equal(t, "tasks_to_assign", out.AppliedAdjustments[0].Field)
	assert.Equal(t, 0.8, out.ConfidenceScores["tasks_to_assign"])
	assert.Contains(t, out.ReasoningChain, "evidence")
}

func TestProposeAdjustments_RuleBasedWhenNeitherSourcePresent(t *testing.T) {
	e := &Engine{}
	base := decision.BaseDecision{TasksToAssign: 10}
	adjustments, mode := e.proposeAdjustments(base, nil, chronicle.Analysis{})

	assert.Equal(t, "rule_based", mode)
	assert.Empty(t, adjustments)
}

func TestProposeAdjustments_ChronicleOnlyWhenOnlyChronicleHasData(t *testing.T) {
	e := &Engine{modifierCfg: decision.DefaultModifierConfig()}
	base := decision.BaseDecision{CreateNewSprint: true, TasksToAssign: 20, DurationWeeks: 2}
	analysis := chronicle.Analysis{
		SimilarProjects: []chronicle.SimilarProject{
			{ProjectID: "p1", SimilarityScore: 0.9, OptimalTaskCount: 10},
			{ProjectID: "p2", SimilarityScore: 0.8, OptimalTaskCount: 10},
			{ProjectID: "p3", SimilarityScore: 0.8, OptimalTaskCount: 10},
		},
	}
	_, mode := e.proposeAdjustments(base, nil, analysis)
	assert.Equal(t, "chronicle_only", mode)
}

func TestProposeAdjustments_HybridWhenBothSourcesPresentAndCombinerSet(t *testing.T) {
	e := &Engine{combiner: patterns.New(patterns.DefaultConfig())}
	base := decision.BaseDecision{TasksToAssign: 10}
	episodeCtx := &domain.DecisionContext{SimilarEpisodesUsed: 3}
	analysis := chronicle.Analysis{SimilarProjects: []chronicle.SimilarProject{{ProjectID: "p1", SimilarityScore: 0.9}}}

	_, mode := e.proposeAdjustments(base, episodeCtx, analysis)
	assert.Equal(t, "hybrid", mode)
}

func TestJoinReasoning_SkipsEmptyEntriesAndJoinsWithSemicolons(t *testing.T) {
	assert.Equal(t, "a; b", joinReasoning([]string{"a", "", "b"}))
	assert.Equal(t, "", joinReasoning(nil))
	assert.Equal(t, "only", joinReasoning([]string{"only"}))
}

func TestSummarizeSnapshot_IncludesKeyFields(t *testing.T) {
	snap := domain.ProjectSnapshot{ProjectID: "proj-1", UnassignedTasks: 4, ActiveSprintCount: 1, TeamSize: 5}
	summary := summarizeSnapshot(snap)

	assert.Contains(t, summary, "proj-1")
	assert.Contains(t, summary, "unassigned_tasks=4")
	assert.Contains(t, summary, "team_size=5")
}

func TestAdjustmentFields_ExtractsFieldNamesInOrder(t *testing.T) {
	fields := adjustmentFields([]decision.Adjustment{{Field: "tasks_to_assign"}, {Field: "sprint_duration_weeks"}})
	assert.Equal(t, []string{"tasks_to_assign", "sprint_duration_weeks"}, fields)
}

func TestBuildPlan_CarriesDecisionDetails(t *testing.T) {
	final := decision.BaseDecision{CreateNewSprint: true, SprintName: "proj-S02", TasksToAssign: 8, DurationWeeks: 2}
	out := Decision{DecisionMode: "chronicle_only", ReasoningChain: []string{"rationale"}}
	plan := buildPlan("proj-1", "corr-1", final, out)

	assert.Equal(t, "proj-1", plan.Project)
	assert.Equal(t, "proj-S02", plan.SprintName)
	assert.Equal(t, "chronicle_only", plan.DecisionDetails["decision_mode"])
	assert.Equal(t, "rationale", plan.DecisionDetails["reasoning"])
}

func TestBuildEpisode_CarriesPerceptionAndAction(t *testing.T) {
	snap := domain.ProjectSnapshot{ProjectID: "proj-1", UnassignedTasks: 4, TeamSize: 5}
	final := decision.BaseDecision{CreateNewSprint: true, TasksToAssign: 9, DurationWeeks: 2, SprintName: "proj-S01"}
	out := Decision{DecisionMode: "rule_based", ReasoningChain: []string{"capacity available"}, ConfidenceScores: map[string]float64{}}

	ep := buildEpisode(snap, final, out)

	assert.Equal(t, "proj-1", ep.Project)
	assert.Equal(t, 9, ep.Perception["tasks_to_assign"])
	assert.True(t, ep.Action.SprintCreated)
	assert.Equal(t, "proj-S01", ep.Sprint)
	assert.Equal(t, "capacity available", ep.Reasoning.Rationale)
}
