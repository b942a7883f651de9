package decision

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// GateConfig holds C10's thresholds.
type GateConfig struct {
	ConfidenceThreshold  float64
	MinSimilarProjects   int
	MaxAdjustmentPercent float64
}

func DefaultGateConfig() GateConfig {
	return GateConfig{ConfidenceThreshold: 0.75, MinSimilarProjects: 3, MaxAdjustmentPercent: 0.5}
}

// GateResult records the outcome of evaluating one adjustment against all
// three predicates (spec.md §4.C10): every check, pass or fail, is
// recorded so the caller can emit it as a metric.
type GateResult struct {
	Adjustment        Adjustment
	Approved          bool
	ConfidenceCheck    bool
	EvidenceCheck      bool
	MagnitudeCheck     bool
}

// Gate filters proposals through the three independent tests; all three
// must hold for an adjustment to be approved.
type Gate struct {
	cfg     GateConfig
	metrics *telemetry.Metrics
}

func NewGate(cfg GateConfig, metrics *telemetry.Metrics) *Gate {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.75
	}
	if cfg.MinSimilarProjects <= 0 {
		cfg.MinSimilarProjects = 3
	}
	if cfg.MaxAdjustmentPercent <= 0 {
		cfg.MaxAdjustmentPercent = 0.5
	}
	return &Gate{cfg: cfg, metrics: metrics}
}

// Evaluate runs every adjustment through the gate, recording pass/fail for
// each predicate regardless of the overall outcome.
func (g *Gate) Evaluate(ctx context.Context, adjustments []Adjustment) []GateResult {
	results := make([]GateResult, 0, len(adjustments))
	for _, a := range adjustments {
		r := GateResult{Adjustment: a}
		r.ConfidenceCheck = a.Confidence >= g.cfg.ConfidenceThreshold
		r.EvidenceCheck = g.evidenceCheck(a)
		r.MagnitudeCheck = g.magnitudeCheck(a)
		r.Approved = r.ConfidenceCheck && r.EvidenceCheck && r.MagnitudeCheck

		if g.metrics != nil {
			g.metrics.Counter(ctx, "decision_gate_checks_total", 1, "field", a.Field, "check", "confidence", "passed", boolLabel(r.ConfidenceCheck))
			g.metrics.Counter(ctx, "decision_gate_checks_total", 1, "field", a.Field, "check", "evidence", "passed", boolLabel(r.EvidenceCheck))
			g.metrics.Counter(ctx, "decision_gate_checks_total", 1, "field", a.Field, "check", "magnitude", "passed", boolLabel(r.MagnitudeCheck))
			g.metrics.Counter(ctx, "decision_gate_decisions_total", 1, "field", a.Field, "approved", boolLabel(r.Approved))
		}

		results = append(results, r)
	}
	return results
}

// evidenceCheck parses evidence_source for task-count adjustments and
// requires at least MinSimilarProjects supporting projects; other fields
// pass trivially (spec.md §4.C10 names only task-count explicitly).
func (g *Gate) evidenceCheck(a Adjustment) bool {
	if a.Field != "tasks_to_assign" {
		return true
	}
	count := supportingCount(a.EvidenceSource)
	if a.SupportingProjects > count {
		count = a.SupportingProjects
	}
	return count >= g.cfg.MinSimilarProjects
}

func supportingCount(evidenceSource string) int {
	parts := strings.Split(evidenceSource, ":")
	if len(parts) < 2 {
		return 0
	}
	fields := strings.SplitN(parts[1], "_", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

// magnitudeCheck enforces |intelligent - original| / max(|original|, 1) <=
// MaxAdjustmentPercent. Zero-original is valid only if intelligent is also
// zero.
func (g *Gate) magnitudeCheck(a Adjustment) bool {
	if a.Original == 0 {
		return a.Recommended == 0
	}
	ratio := math.Abs(a.Recommended-a.Original) / math.Max(math.Abs(a.Original), 1)
	return ratio <= g.cfg.MaxAdjustmentPercent
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
