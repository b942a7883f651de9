package decision

import (
	"fmt"
	"math"

	"github.com/agilecore/orchestrator-core/pkg/chronicle"
)

// Adjustment is a single proposed change to the base decision, carrying its
// own evidence so the confidence gate (C10) can evaluate it independently.
type Adjustment struct {
	Field               string // "tasks_to_assign" | "sprint_duration_weeks"
	Original            float64
	Recommended         float64
	Confidence          float64
	Rationale           string
	ExpectedImprovement string
	EvidenceSource      string // "<source>:<detail>", e.g. "chronicle:3_similar_projects", "hybrid:6_supporting_records"
	SupportingProjects  int
}

// ModifierConfig holds C9's thresholds.
type ModifierConfig struct {
	MinSimilarProjects  int
	VelocityConfidenceThreshold float64
}

func DefaultModifierConfig() ModifierConfig {
	return ModifierConfig{MinSimilarProjects: 3, VelocityConfidenceThreshold: 0.6}
}

// ProposeFromChronicle implements spec.md §4.C9's Chronicle-only fallback
// path: task-count and duration adjustments derived straight from the
// Chronicle analysis, without combined/hybrid patterns.
func ProposeFromChronicle(cfg ModifierConfig, base BaseDecision, analysis chronicle.Analysis) []Adjustment {
	var adjustments []Adjustment

	if a, ok := taskCountAdjustment(cfg, base, analysis); ok {
		adjustments = append(adjustments, a)
	}
	if a, ok := durationAdjustment(cfg, base, analysis); ok {
		adjustments = append(adjustments, a)
	}
	return adjustments
}

func taskCountAdjustment(cfg ModifierConfig, base BaseDecision, analysis chronicle.Analysis) (Adjustment, bool) {
	if !base.CreateNewSprint {
		return Adjustment{}, false
	}

	var qualifying []chronicle.SimilarProject
	var sumOptimal, sumConf float64
	for _, p := range analysis.SimilarProjects {
		if p.SimilarityScore > 0.7 {
			qualifying = append(qualifying, p)
			sumOptimal += float64(p.OptimalTaskCount)
			// completion_rate is the confidence proxy for a project's optimal
			// task count, not its similarity score.
			sumConf += p.CompletionRate
		}
	}
	if len(qualifying) < cfg.MinSimilarProjects {
		return Adjustment{}, false
	}

	avgOptimal := sumOptimal / float64(len(qualifying))
	avgConf := sumConf / float64(len(qualifying))
	if avgConf <= 0.5 {
		return Adjustment{}, false
	}
	if math.Abs(avgOptimal-float64(base.TasksToAssign)) <= 2 {
		return Adjustment{}, false
	}

	recommended := math.Round(avgOptimal)
	return Adjustment{
		Field: "tasks_to_assign", Original: float64(base.TasksToAssign), Recommended: recommended,
		Confidence:          avgConf,
		Rationale:           fmt.Sprintf("%d similar projects recommend %d tasks per sprint", len(qualifying), int(recommended)),
		ExpectedImprovement: "reduced sprint overcommitment risk",
		EvidenceSource:      fmt.Sprintf("chronicle:%d_similar_projects", len(qualifying)),
		SupportingProjects:  len(qualifying),
	}, true
}

func durationAdjustment(cfg ModifierConfig, base BaseDecision, analysis chronicle.Analysis) (Adjustment, bool) {
	if !base.CreateNewSprint {
		return Adjustment{}, false
	}
	trend := analysis.VelocityTrend
	if trend.Confidence <= cfg.VelocityConfidenceThreshold {
		return Adjustment{}, false
	}

	baseDuration := float64(base.DurationWeeks)
	if baseDuration <= 0 {
		baseDuration = 2
	}
	var recommended float64
	switch {
	case trend.Direction == "increasing" && baseDuration > 1:
		recommended = baseDuration - 1
	case trend.Direction == "decreasing" && baseDuration < 4:
		recommended = baseDuration + 1
	default:
		return Adjustment{}, false
	}

	return Adjustment{
		Field: "sprint_duration_weeks", Original: baseDuration, Recommended: recommended,
		Confidence:          trend.Confidence,
		Rationale:           fmt.Sprintf("velocity trend %s with confidence %.2f", trend.Direction, trend.Confidence),
		ExpectedImprovement: "sprint duration better matched to observed velocity",
		EvidenceSource:      "chronicle:velocity_trend",
	}, true
}
