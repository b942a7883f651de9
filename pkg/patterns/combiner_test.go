package patterns_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/pkg/chronicle"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/patterns"
)

func TestCombiner_Combine_FusesBothSources(t *testing.T) {
	c := patterns.New(patterns.DefaultConfig())
	ctx := domain.DecisionContext{
		SimilarEpisodesUsed: 4,
		AverageSimilarity:   0.8,
		OverallConfidence:   0.7,
		IdentifiedPatterns: []domain.IdentifiedPattern{
			{Type: domain.PatternTaskCount, Value: 10, SuccessRate: 0.8, Confidence: 0.7},
		},
	}
	analysis := chronicle.Analysis{
		SimilarProjects: []chronicle.SimilarProject{
			{ProjectID: "p1", SimilarityScore: 0.8},
			{ProjectID: "p2", SimilarityScore: 0.9},
		},
		SuccessIndicators: chronicle.SuccessIndicators{OptimalTasksPerSprint: 12, SuccessProbability: 0.75},
		VelocityTrend:     chronicle.VelocityTrend{Confidence: 0.6},
	}

	result := c.Combine(ctx, analysis)

	require.NotEmpty(t, result.Patterns)
	found := false
	for _, p := range result.Patterns {
		if p.Type == domain.PatternTaskCount {
			found = true
			assert.Greater(t, p.Value, 0.0)
			assert.Equal(t, 4, p.SourceBreakdown["episode"])
			assert.Equal(t, 2, p.SourceBreakdown["chronicle"])
		}
	}
	assert.True(t, found)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestCombiner_Combine_EpisodeOnly(t *testing.T) {
	c := patterns.New(patterns.DefaultConfig())
	ctx := domain.DecisionContext{
		SimilarEpisodesUsed: 3,
		IdentifiedPatterns: []domain.IdentifiedPattern{
			{Type: domain.PatternTaskCount, Value: 8, SuccessRate: 0.9, Confidence: 0.9},
		},
	}
	result := c.Combine(ctx, chronicle.Analysis{})

	require.Len(t, result.Patterns, 1)
	assert.Equal(t, float64(8), result.Patterns[0].Value)
	assert.Equal(t, 1.0, result.Patterns[0].Weight.Episode)
	assert.Equal(t, 0, result.Patterns[0].SourceBreakdown["chronicle"])
}

func TestCombiner_Combine_ChronicleOnly(t *testing.T) {
	c := patterns.New(patterns.DefaultConfig())
	analysis := chronicle.Analysis{
		SimilarProjects:   []chronicle.SimilarProject{{ProjectID: "p1", SimilarityScore: 0.9}},
		SuccessIndicators: chronicle.SuccessIndicators{OptimalTasksPerSprint: 9, SuccessProbability: 0.8},
		VelocityTrend:     chronicle.VelocityTrend{Confidence: 0.7},
	}
	result := c.Combine(domain.DecisionContext{}, analysis)

	require.Len(t, result.Patterns, 1)
	assert.Equal(t, float64(9), result.Patterns[0].Value)
}

func TestCombiner_Combine_NoPatternsWithoutEitherSource(t *testing.T) {
	c := patterns.New(patterns.DefaultConfig())
	result := c.Combine(domain.DecisionContext{}, chronicle.Analysis{})
	assert.Empty(t, result.Patterns)
	assert.Equal(t, float64(0), result.Confidence)
}

func TestCombiner_Combine_FiltersBelowMinConfidence(t *testing.T) {
	cfg := patterns.Config{MinConfidenceThreshold: 0.99}
	c := patterns.New(cfg)
	ctx := domain.DecisionContext{
		SimilarEpisodesUsed: 3,
		IdentifiedPatterns: []domain.IdentifiedPattern{
			{Type: domain.PatternTaskCount, Value: 8, SuccessRate: 0.9, Confidence: 0.5},
		},
	}
	result := c.Combine(ctx, chronicle.Analysis{})
	assert.Empty(t, result.Patterns)
}
