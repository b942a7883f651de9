// Package memorybridge implements C6: translates a list of retrieved
// episodes into one domain.DecisionContext. Pure transformation over
// in-memory data — no suspension points — so it degrades on malformed
// input by lowering confidence rather than failing (spec.md §4.C6).
package memorybridge

import (
	"fmt"
	"math"
	"sort"

	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// Config holds the thresholds spec.md §4.C6 names.
type Config struct {
	MinSimilarityThreshold float64
	MinEpisodesForPatterns int
}

func DefaultConfig() Config {
	return Config{MinSimilarityThreshold: 0.6, MinEpisodesForPatterns: 2}
}

type Bridge struct {
	cfg Config
}

func New(cfg Config) *Bridge {
	if cfg.MinEpisodesForPatterns <= 0 {
		cfg.MinEpisodesForPatterns = 2
	}
	return &Bridge{cfg: cfg}
}

// Build runs the six-step translation described in spec.md §4.C6.
func (b *Bridge) Build(episodes []domain.EpisodeWithSimilarity, currentTeamSize int) domain.DecisionContext {
	ctx := domain.DecisionContext{
		SimilarEpisodesFound: len(episodes),
		Recommendations:      map[domain.PatternType]float64{},
	}

	usable := b.filter(episodes)
	ctx.SimilarEpisodesUsed = len(usable)
	if len(usable) == 0 {
		return ctx
	}

	ctx.AverageSimilarity = averageSimilarity(usable)
	ctx.KeyInsights = insights(usable, currentTeamSize)

	if len(usable) >= b.cfg.MinEpisodesForPatterns {
		ctx.IdentifiedPatterns = identifyPatterns(usable, b.cfg.MinEpisodesForPatterns)
	}

	for _, p := range ctx.IdentifiedPatterns {
		if p.Confidence > 0.5 {
			ctx.Recommendations[p.Type] = p.Value
		}
	}

	ctx.OverallConfidence = overallConfidence(usable, ctx.IdentifiedPatterns)
	ctx.PatternWeight = patternWeight(usable)
	ctx.RiskFactors = riskFactors(usable)

	return ctx
}

// filter drops episodes below the similarity threshold, with quality < 0.5,
// missing team_size in perception, or with an empty reasoning rationale.
// The action is not checked: an episode with no recorded action is kept.
func (b *Bridge) filter(episodes []domain.EpisodeWithSimilarity) []domain.EpisodeWithSimilarity {
	out := make([]domain.EpisodeWithSimilarity, 0, len(episodes))
	for _, e := range episodes {
		if e.Similarity < b.cfg.MinSimilarityThreshold {
			continue
		}
		if e.Quality() < 0.5 {
			continue
		}
		if !hasRequiredFields(e.Episode) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasRequiredFields(e domain.Episode) bool {
	if _, ok := e.Perception["team_size"]; !ok {
		return false
	}
	if e.Reasoning.Rationale == "" {
		return false
	}
	return true
}

func averageSimilarity(episodes []domain.EpisodeWithSimilarity) float64 {
	sum := 0.0
	for _, e := range episodes {
		sum += e.Similarity
	}
	return sum / float64(len(episodes))
}

func insights(episodes []domain.EpisodeWithSimilarity, currentTeamSize int) []string {
	var out []string
	for _, e := range episodes {
		summary := actionSummary(e.Action)
		if summary != "" {
			out = append(out, summary)
		}
		if ts, ok := numericField(e.Perception, "team_size"); ok {
			diff := math.Abs(ts - float64(currentTeamSize))
			if diff <= 1 {
				out = append(out, fmt.Sprintf("similar team size (%.0f vs current %d) with %s", ts, currentTeamSize, outcomeLabel(e)))
			}
		}
	}
	return out
}

func actionSummary(a domain.Action) string {
	if a.SprintCreated && a.TasksAssigned > 0 {
		return fmt.Sprintf("Created sprint with %d tasks", a.TasksAssigned)
	}
	if a.SprintClosed {
		return "Closed sprint"
	}
	return ""
}

func outcomeLabel(e domain.EpisodeWithSimilarity) string {
	if e.Outcome != nil && e.Outcome.Success {
		return "a successful outcome"
	}
	return "a recorded outcome"
}

func numericField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// identifyPatterns runs the task-count and sprint-duration clustering
// described in spec.md §4.C6 step 3.
func identifyPatterns(episodes []domain.EpisodeWithSimilarity, minEpisodes int) []domain.IdentifiedPattern {
	var patterns []domain.IdentifiedPattern

	if p, ok := taskCountPattern(episodes, minEpisodes); ok {
		patterns = append(patterns, p)
	}
	if p, ok := sprintDurationPattern(episodes, minEpisodes); ok {
		patterns = append(patterns, p)
	}
	return patterns
}

func taskCountPattern(episodes []domain.EpisodeWithSimilarity, minEpisodes int) (domain.IdentifiedPattern, bool) {
	clusters := map[int][]domain.EpisodeWithSimilarity{}
	for _, e := range episodes {
		n, ok := numericField(e.Perception, "tasks_to_assign")
		if !ok {
			continue
		}
		clusters[int(math.Round(n))] = append(clusters[int(math.Round(n))], e)
	}
	return bestCluster(clusters, len(episodes), minEpisodes, domain.PatternTaskCount, 1)
}

func sprintDurationPattern(episodes []domain.EpisodeWithSimilarity, minEpisodes int) (domain.IdentifiedPattern, bool) {
	clusters := map[int][]domain.EpisodeWithSimilarity{}
	for _, e := range episodes {
		n, ok := numericField(e.Perception, "sprint_duration_weeks")
		if !ok {
			continue
		}
		clusters[int(math.Round(n))] = append(clusters[int(math.Round(n))], e)
	}
	return bestCluster(clusters, len(episodes), minEpisodes, domain.PatternSprintDuration, 0)
}

// bestCluster picks, among value clusters with at least minEpisodes
// members (merging clusters within +/-tolerance of each other), the one
// with the highest mean quality that also reaches 0.7 (task-count path)
// or simply the highest-mean duration with >= 2 supporters (duration
// path uses tolerance 0 and minEpisodes 2 per spec.md §4.C6).
func bestCluster(clusters map[int][]domain.EpisodeWithSimilarity, total, minEpisodes int, t domain.PatternType, tolerance int) (domain.IdentifiedPattern, bool) {
	type agg struct {
		value   int
		members []domain.EpisodeWithSimilarity
	}
	var keys []int
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var best *agg
	var bestMeanQuality float64

	for _, k := range keys {
		members := append([]domain.EpisodeWithSimilarity{}, clusters[k]...)
		if tolerance > 0 {
			for _, k2 := range keys {
				if k2 != k && abs(k2-k) <= tolerance {
					members = append(members, clusters[k2]...)
				}
			}
		}
		if len(members) < minEpisodes {
			continue
		}
		meanQ := meanQuality(members)
		if t == domain.PatternTaskCount && meanQ < 0.7 {
			continue
		}
		if best == nil || meanQ > bestMeanQuality {
			best = &agg{value: k, members: members}
			bestMeanQuality = meanQ
		}
	}

	if best == nil {
		return domain.IdentifiedPattern{}, false
	}

	confidence := float64(len(best.members)) / float64(total)
	if confidence > 1.0 {
		confidence = 1.0
	}

	return domain.IdentifiedPattern{
		Type:        t,
		Value:       float64(best.value),
		SuccessRate: bestMeanQuality,
		Confidence:  confidence,
	}, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func meanQuality(episodes []domain.EpisodeWithSimilarity) float64 {
	sum := 0.0
	for _, e := range episodes {
		sum += e.Quality()
	}
	return sum / float64(len(episodes))
}

// overallConfidence is the mean of {quantity_confidence, mean quality,
// mean pattern confidence, success-metric confidence}.
func overallConfidence(episodes []domain.EpisodeWithSimilarity, patterns []domain.IdentifiedPattern) float64 {
	quantityConfidence := math.Min(float64(len(episodes))/5.0, 1.0)
	meanQ := meanQuality(episodes)

	meanPatternConf := 0.0
	if len(patterns) > 0 {
		sum := 0.0
		for _, p := range patterns {
			sum += p.Confidence
		}
		meanPatternConf = sum / float64(len(patterns))
	}

	successCount := 0
	for _, e := range episodes {
		if e.Outcome != nil && e.Outcome.Success {
			successCount++
		}
	}
	successMetricConfidence := float64(successCount) / float64(len(episodes))

	return (quantityConfidence + meanQ + meanPatternConf + successMetricConfidence) / 4.0
}

// patternWeight computes the episode share used by C8 fusion:
// 0.6*quantity_weight + 0.4*quality_weight, capped at 0.8.
func patternWeight(episodes []domain.EpisodeWithSimilarity) float64 {
	quantityWeight := math.Min(float64(len(episodes))/10.0, 1.0)
	qualityWeight := meanQuality(episodes)
	w := 0.6*quantityWeight + 0.4*qualityWeight
	return math.Min(w, 0.8)
}

func riskFactors(episodes []domain.EpisodeWithSimilarity) []string {
	var risks []string
	failures := 0
	for _, e := range episodes {
		if e.Outcome != nil && !e.Outcome.Success {
			failures++
		}
	}
	if failures > 0 && float64(failures)/float64(len(episodes)) > 0.3 {
		risks = append(risks, fmt.Sprintf("%d of %d similar episodes recorded an unsuccessful outcome", failures, len(episodes)))
	}
	return risks
}
