// Package patterns implements C8: fuses the memory bridge's episode
// DecisionContext with the Chronicle analyzer's Analysis into combined
// patterns the decision modifier (C9) can act on.
package patterns

import (
	"math"

	"github.com/agilecore/orchestrator-core/pkg/chronicle"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// Config holds C8's tunables.
type Config struct {
	MinConfidenceThreshold float64
}

func DefaultConfig() Config {
	return Config{MinConfidenceThreshold: 0.3}
}

type Combiner struct {
	cfg Config
}

func New(cfg Config) *Combiner {
	if cfg.MinConfidenceThreshold <= 0 {
		cfg.MinConfidenceThreshold = 0.3
	}
	return &Combiner{cfg: cfg}
}

// Result is C8's output: the combined patterns plus overall confidence.
type Result struct {
	Patterns   []domain.CombinedPattern
	Confidence float64
}

// Combine fuses episodeCtx and chronicleAnalysis. When only one source has
// data for a pattern type, that source's value is used alone with its
// confidence scaled by 0.8; a type with data from neither is omitted.
func (c *Combiner) Combine(episodeCtx domain.DecisionContext, analysis chronicle.Analysis) Result {
	episodeQuality := episodeDataQuality(episodeCtx)
	chronicleQuality := chronicleDataQuality(analysis)
	episodeWeight, chronicleWeight := normalizeWeights(episodeQuality, chronicleQuality)

	var combined []domain.CombinedPattern

	if p, ok := c.fuseTaskCount(episodeCtx, analysis, episodeWeight, chronicleWeight); ok {
		combined = append(combined, p)
	}
	if p, ok := c.fuseSprintDuration(episodeCtx, analysis, episodeWeight, chronicleWeight); ok {
		combined = append(combined, p)
	}

	filtered := combined[:0]
	for _, p := range combined {
		if p.Confidence >= c.cfg.MinConfidenceThreshold {
			filtered = append(filtered, p)
		}
	}

	return Result{
		Patterns:   filtered,
		Confidence: overallConfidence(filtered, len(episodeCtx.IdentifiedPatterns) > 0, len(analysis.SimilarProjects) > 0),
	}
}

// episodeDataQuality = 0.3*episode_count_score + 0.4*avg_similarity + 0.3*confidence.
func episodeDataQuality(ctx domain.DecisionContext) float64 {
	countScore := math.Min(float64(ctx.SimilarEpisodesUsed)/5.0, 1.0)
	return 0.3*countScore + 0.4*ctx.AverageSimilarity + 0.3*ctx.OverallConfidence
}

// chronicleDataQuality = 0.5*project_count_score + 0.5*avg_similarity.
func chronicleDataQuality(analysis chronicle.Analysis) float64 {
	n := len(analysis.SimilarProjects)
	countScore := math.Min(float64(n)/5.0, 1.0)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range analysis.SimilarProjects {
		sum += p.SimilarityScore
	}
	avgSim := sum / float64(n)
	return 0.5*countScore + 0.5*avgSim
}

func normalizeWeights(episodeQ, chronicleQ float64) (float64, float64) {
	const floor = 0.1
	episodeQ = math.Max(episodeQ, floor)
	chronicleQ = math.Max(chronicleQ, floor)
	total := episodeQ + chronicleQ
	if total == 0 {
		return 0.5, 0.5
	}
	return episodeQ / total, chronicleQ / total
}

func (c *Combiner) fuseTaskCount(ctx domain.DecisionContext, analysis chronicle.Analysis, episodeWeight, chronicleWeight float64) (domain.CombinedPattern, bool) {
	episodeValue, episodeHas := episodePattern(ctx, domain.PatternTaskCount)
	chronicleHas := len(analysis.SimilarProjects) > 0

	switch {
	case episodeHas && chronicleHas:
		chronicleValue := analysis.SuccessIndicators.OptimalTasksPerSprint
		chronicleConf := chronicleConfidence(analysis)
		value := episodeWeight*episodeValue.Value + chronicleWeight*chronicleValue
		confidence := episodeWeight*episodeValue.Confidence + chronicleWeight*chronicleConf
		success := episodeWeight*episodeValue.SuccessRate + chronicleWeight*analysis.SuccessIndicators.SuccessProbability
		return domain.CombinedPattern{
			Type: domain.PatternTaskCount, Value: math.Round(value), SuccessRate: success, Confidence: confidence,
			Weight:          domain.SourceWeight{Episode: episodeWeight, Chronicle: chronicleWeight},
			EvidenceCount:   ctx.SimilarEpisodesUsed + len(analysis.SimilarProjects),
			SourceBreakdown: map[string]int{"episode": ctx.SimilarEpisodesUsed, "chronicle": len(analysis.SimilarProjects)},
		}, true
	case episodeHas:
		return singleSourcePattern(domain.PatternTaskCount, episodeValue.Value, episodeValue.SuccessRate, episodeValue.Confidence, ctx.SimilarEpisodesUsed, "episode"), true
	case chronicleHas:
		conf := chronicleConfidence(analysis)
		return singleSourcePattern(domain.PatternTaskCount, analysis.SuccessIndicators.OptimalTasksPerSprint, analysis.SuccessIndicators.SuccessProbability, conf, len(analysis.SimilarProjects), "chronicle"), true
	default:
		return domain.CombinedPattern{}, false
	}
}

func (c *Combiner) fuseSprintDuration(ctx domain.DecisionContext, analysis chronicle.Analysis, episodeWeight, chronicleWeight float64) (domain.CombinedPattern, bool) {
	episodeValue, episodeHas := episodePattern(ctx, domain.PatternSprintDuration)
	chronicleValue := analysis.SuccessIndicators.RecommendedDuration
	chronicleHas := len(analysis.SimilarProjects) > 0 && chronicleValue > 0
	chronicleConf := chronicleConfidence(analysis)

	switch {
	case episodeHas && chronicleHas:
		agree := math.Abs(episodeValue.Value-chronicleValue) < 0.5
		var confidence, value float64
		if agree {
			confidence = math.Min(episodeValue.Confidence+chronicleConf, 1.0)
			value = episodeWeight*episodeValue.Value + chronicleWeight*chronicleValue
		} else {
			value = episodeWeight*episodeValue.Value + chronicleWeight*chronicleValue
			if episodeValue.Confidence >= chronicleConf {
				value = episodeValue.Value
			} else {
				value = chronicleValue
			}
			confidence = episodeWeight*episodeValue.Confidence + chronicleWeight*chronicleConf
		}
		success := episodeWeight*episodeValue.SuccessRate + chronicleWeight*analysis.SuccessIndicators.SuccessProbability
		return domain.CombinedPattern{
			Type: domain.PatternSprintDuration, Value: value, SuccessRate: success, Confidence: confidence,
			Weight:          domain.SourceWeight{Episode: episodeWeight, Chronicle: chronicleWeight},
			EvidenceCount:   ctx.SimilarEpisodesUsed + len(analysis.SimilarProjects),
			SourceBreakdown: map[string]int{"episode": ctx.SimilarEpisodesUsed, "chronicle": len(analysis.SimilarProjects)},
		}, true
	case episodeHas:
		return singleSourcePattern(domain.PatternSprintDuration, episodeValue.Value, episodeValue.SuccessRate, episodeValue.Confidence, ctx.SimilarEpisodesUsed, "episode"), true
	case chronicleHas:
		return singleSourcePattern(domain.PatternSprintDuration, chronicleValue, analysis.SuccessIndicators.SuccessProbability, chronicleConf, len(analysis.SimilarProjects), "chronicle"), true
	default:
		return domain.CombinedPattern{}, false
	}
}

func singleSourcePattern(t domain.PatternType, value, success, confidence float64, evidence int, source string) domain.CombinedPattern {
	const singleSourceMultiplier = 0.8
	w := domain.SourceWeight{}
	if source == "episode" {
		w.Episode = 1
	} else {
		w.Chronicle = 1
	}
	return domain.CombinedPattern{
		Type: t, Value: value, SuccessRate: success, Confidence: confidence * singleSourceMultiplier,
		Weight: w, EvidenceCount: evidence, SourceBreakdown: map[string]int{source: evidence},
	}
}

func episodePattern(ctx domain.DecisionContext, t domain.PatternType) (domain.IdentifiedPattern, bool) {
	for _, p := range ctx.IdentifiedPatterns {
		if p.Type == t {
			return p, true
		}
	}
	return domain.IdentifiedPattern{}, false
}

func chronicleConfidence(analysis chronicle.Analysis) float64 {
	return analysis.VelocityTrend.Confidence
}

// overallConfidence = mean(pattern confidences) * (0.4 if episodes + 0.4 if
// chronicle + 0.2 bonus if both).
func overallConfidence(patterns []domain.CombinedPattern, hasEpisodes, hasChronicle bool) float64 {
	if len(patterns) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range patterns {
		sum += p.Confidence
	}
	mean := sum / float64(len(patterns))

	multiplier := 0.0
	if hasEpisodes {
		multiplier += 0.4
	}
	if hasChronicle {
		multiplier += 0.4
	}
	if hasEpisodes && hasChronicle {
		multiplier += 0.2
	}
	return mean * multiplier
}
