// Package evolver implements C16: the daily strategy-evolution batch job.
// Four independent phases (extract, generate, optimize, cleanup) run in
// sequence; a failure in one phase is recorded and the remaining phases
// still run, grounded on the teacher's workflow package's step-isolation
// pattern (one step's panic/error doesn't abort the whole run).
package evolver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/episodestore"
	"github.com/agilecore/orchestrator-core/pkg/knowledgestore"
)

// Config holds C16's thresholds (spec.md §4.C16).
type Config struct {
	PatternExtractionDays int
	MinPatternFrequency   int
	PerformanceFloor      float64 // quality at/below which a strategy is deactivated
}

func DefaultConfig() Config {
	return Config{PatternExtractionDays: 30, MinPatternFrequency: 3, PerformanceFloor: 0.25}
}

// Report summarizes one evolution cycle for logging/metrics.
type Report struct {
	PatternsExtracted  int
	StrategiesCreated  int
	StrategiesOptimized int
	StrategiesDeactivated int
	PerformanceLogRowsPruned int64
	PhaseErrors        []string
}

type pattern struct {
	signature   string
	actionType  string
	meanQuality float64
	consistency float64
	frequency   int
}

type Evolver struct {
	cfg        Config
	episodes   *episodestore.Store
	knowledge  *knowledgestore.Store
	logger     telemetry.Logger
}

func New(cfg Config, episodes *episodestore.Store, knowledge *knowledgestore.Store, logger telemetry.Logger) *Evolver {
	if cfg.PatternExtractionDays <= 0 {
		cfg.PatternExtractionDays = 30
	}
	if cfg.MinPatternFrequency <= 0 {
		cfg.MinPatternFrequency = 3
	}
	if cfg.PerformanceFloor <= 0 {
		cfg.PerformanceFloor = 0.25
	}
	return &Evolver{cfg: cfg, episodes: episodes, knowledge: knowledge, logger: logger.WithComponent("evolver")}
}

// Run executes all four phases. ctx cancellation is checked between
// phases so a cycle can be aborted cleanly mid-run (spec.md §4.C16).
func (e *Evolver) Run(ctx context.Context) Report {
	var report Report

	patterns, err := e.extract(ctx)
	if err != nil {
		report.PhaseErrors = append(report.PhaseErrors, fmt.Sprintf("extract: %v", err))
	}
	report.PatternsExtracted = len(patterns)

	if ctx.Err() != nil {
		return report
	}

	created, err := e.generate(ctx, patterns)
	if err != nil {
		report.PhaseErrors = append(report.PhaseErrors, fmt.Sprintf("generate: %v", err))
	}
	report.StrategiesCreated = created

	if ctx.Err() != nil {
		return report
	}

	optimized, deactivated, err := e.optimize(ctx)
	if err != nil {
		report.PhaseErrors = append(report.PhaseErrors, fmt.Sprintf("optimize: %v", err))
	}
	report.StrategiesOptimized = optimized
	report.StrategiesDeactivated = deactivated

	if ctx.Err() != nil {
		return report
	}

	pruned, err := e.cleanup(ctx)
	if err != nil {
		report.PhaseErrors = append(report.PhaseErrors, fmt.Sprintf("cleanup: %v", err))
	}
	report.PerformanceLogRowsPruned = pruned

	return report
}

// extract scans recent successful episodes and groups them by context
// signature, keeping only groups meeting the minimum frequency.
func (e *Evolver) extract(ctx context.Context) ([]pattern, error) {
	episodes, err := e.episodes.RecentAll(ctx, e.cfg.PatternExtractionDays, 5000)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]domain.Episode)
	for _, ep := range episodes {
		if ep.Quality() < 0.7 {
			continue
		}
		sig := signature(ep)
		groups[sig] = append(groups[sig], ep)
	}

	var out []pattern
	for sig, members := range groups {
		if len(members) < e.cfg.MinPatternFrequency {
			continue
		}
		qualities := make([]float64, 0, len(members))
		for _, m := range members {
			qualities = append(qualities, m.Quality())
		}
		out = append(out, pattern{
			signature:   sig,
			actionType:  actionType(members[0].Action),
			meanQuality: mean(qualities),
			consistency: 1 - stdev(qualities),
			frequency:   len(members),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].signature < out[j].signature })
	return out, nil
}

// generate converts viable patterns into strategies.
func (e *Evolver) generate(ctx context.Context, patterns []pattern) (int, error) {
	created := 0
	var firstErr error
	for _, p := range patterns {
		frequencyScore := math.Min(float64(p.frequency)/10.0, 1.0)
		evidenceStrength := math.Min(float64(p.frequency)/20.0, 1.0)
		confidence := 0.2*frequencyScore + 0.4*p.meanQuality + 0.3*p.consistency + 0.1*evidenceStrength

		if confidence < 0.6 || p.frequency < e.cfg.MinPatternFrequency || p.meanQuality < 0.7 {
			continue
		}

		content := map[string]any{
			"signature":    p.signature,
			"action_type":  p.actionType,
			"frequency":    p.frequency,
			"mean_quality": p.meanQuality,
			"risk_level":   riskLevel(confidence),
		}
		description := fmt.Sprintf("learned from %d episodes matching %s (mean quality %.2f)", p.frequency, p.signature, p.meanQuality)

		if _, err := e.knowledge.CreateStrategy(ctx, p.actionType, content, description, confidence, nil); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		created++
	}
	return created, firstErr
}

func riskLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "low"
	case confidence >= 0.6:
		return "medium"
	default:
		return "high"
	}
}

// optimize re-scores every active strategy with enough recent applications
// by comparing the first and second half of its performance log.
func (e *Evolver) optimize(ctx context.Context) (optimized, deactivated int, err error) {
	strategies, err := e.knowledge.GetActive(ctx, "", 500, 0)
	if err != nil {
		return 0, 0, err
	}

	since := time.Now().AddDate(0, 0, -e.cfg.PatternExtractionDays)
	var firstErr error
	for _, st := range strategies {
		entries, rerr := e.knowledge.RecentPerformance(ctx, st.ID, since)
		if rerr != nil {
			if firstErr == nil {
				firstErr = rerr
			}
			continue
		}
		if len(entries) < 3 {
			continue
		}

		analysis := analyzePerformance(entries)

		switch {
		case analysis.mean <= e.cfg.PerformanceFloor:
			if derr := e.knowledge.Deactivate(ctx, st.ID, "performance below floor"); derr != nil {
				if firstErr == nil {
					firstErr = derr
				}
				continue
			}
			deactivated++
		case analysis.trend == "declining":
			newConf := math.Max(st.Confidence-0.05, 0.1)
			if uerr := e.knowledge.UpdateConfidence(ctx, st.ID, newConf); uerr != nil {
				if firstErr == nil {
					firstErr = uerr
				}
				continue
			}
			optimized++
		case analysis.category == "excellent" || analysis.category == "good":
			newConf := math.Min(st.Confidence+0.05, 1.0)
			if uerr := e.knowledge.UpdateConfidence(ctx, st.ID, newConf); uerr != nil {
				if firstErr == nil {
					firstErr = uerr
				}
				continue
			}
			optimized++
		}
	}
	return optimized, deactivated, firstErr
}

func (e *Evolver) cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -3*e.cfg.PatternExtractionDays)
	return e.knowledge.PrunePerformanceLog(ctx, cutoff)
}

type performanceAnalysis struct {
	mean     float64
	median   float64
	trend    string // "improving" | "stable" | "declining"
	category string // "excellent" | "good" | "fair" | "poor"
}

// analyzePerformance splits entries in half by time and compares mean
// outcome between halves (spec.md §4.C16's optimize phase).
func analyzePerformance(entries []domain.PerformanceLogEntry) performanceAnalysis {
	outcomes := make([]float64, 0, len(entries))
	for _, e := range entries {
		if e.ActualOutcome != nil {
			outcomes = append(outcomes, *e.ActualOutcome)
		} else {
			outcomes = append(outcomes, e.PredictedOutcome)
		}
	}

	m := mean(outcomes)
	med := median(outcomes)

	mid := len(outcomes) / 2
	trend := "stable"
	if mid > 0 {
		firstHalf := mean(outcomes[:mid])
		secondHalf := mean(outcomes[mid:])
		diff := secondHalf - firstHalf
		switch {
		case diff > 0.05:
			trend = "improving"
		case diff < -0.05:
			trend = "declining"
		}
	}

	category := "poor"
	switch {
	case m >= 0.85:
		category = "excellent"
	case m >= 0.7:
		category = "good"
	case m >= 0.5:
		category = "fair"
	}

	return performanceAnalysis{mean: m, median: med, trend: trend, category: category}
}

func signature(ep domain.Episode) string {
	teamSize, _ := numericField(ep.Perception, "team_size")
	tasks, _ := numericField(ep.Perception, "tasks_to_assign")
	return fmt.Sprintf("%s|team=%d|tasks=%d", actionType(ep.Action), bucket(teamSize, 2), bucket(tasks, 2))
}

func actionType(a domain.Action) string {
	switch {
	case a.SprintCreated:
		return "create_sprint"
	case a.SprintClosed:
		return "close_sprint"
	case a.CronJobCreated:
		return "create_cronjob"
	default:
		return "no_action"
	}
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

func bucket(v float64, size int) int {
	if size <= 0 {
		size = 1
	}
	return int(math.Round(v/float64(size))) * size
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		sumSq += (v - m) * (v - m)
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
