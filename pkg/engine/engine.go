// Package engine implements C12: the Enhanced Decision Engine that
// sequences every other component into one invocation. Generalized from
// the teacher's orchestration.Orchestrator.Execute fan-out/fan-in shape,
// adapted to the fixed pipeline spec.md §4.C12 describes (perception ->
// memory -> rules -> patterns -> adjustment -> gate -> action -> log ->
// audit) with the performance budgets spec.md names enforced as
// soft deadlines: a breach is recorded, never a failure.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/agilecore/orchestrator-core/internal/config"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/actions"
	"github.com/agilecore/orchestrator-core/pkg/audit"
	"github.com/agilecore/orchestrator-core/pkg/chronicle"
	"github.com/agilecore/orchestrator-core/pkg/decision"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/episodelog"
	"github.com/agilecore/orchestrator-core/pkg/events"
	"github.com/agilecore/orchestrator-core/pkg/memorybridge"
	"github.com/agilecore/orchestrator-core/pkg/patterns"
	"github.com/agilecore/orchestrator-core/pkg/retriever"
	"github.com/agilecore/orchestrator-core/pkg/serviceclients"
)

// Budgets spec.md §4.C12 names; exceeding one is recorded as a warning,
// not an abort.
const (
	totalBudget   = 3000 * time.Millisecond
	patternBudget = 1500 * time.Millisecond
	episodeBudget = 500 * time.Millisecond
	bridgeBudget  = 300 * time.Millisecond
)

// Decision is C12's output: the base decision plus every approved
// adjustment, the full reasoning chain, and what actually happened when it
// was executed.
type Decision struct {
	Project       string
	CorrelationID string

	CreateNewSprint        bool
	SprintName             string
	TasksToAssign          int
	DurationWeeks          int
	CronJobCreated         bool
	CronJobName            string
	SprintClosureTriggered bool
	SprintIDToClose        string
	CronJobDeleted         bool

	DecisionMode         string // "rule_based" | "chronicle_only" | "hybrid"
	AppliedAdjustments   []decision.Adjustment
	ReasoningChain       []string
	ConfidenceScores     map[string]float64
	ActionsTaken         []string
	Warnings             []string
	PerformanceBreaches  []string
}

// Engine wires every component C12 orchestrates. Any dependency may be
// nil to disable that stage (e.g. no chronicle DSN configured): the
// pipeline degrades to whatever stages are present.
type Engine struct {
	opts config.EngineOptions

	retriever  *retriever.Retriever
	bridge     *memorybridge.Bridge
	analyzer   *chronicle.Analyzer
	combiner   *patterns.Combiner
	modifierCfg decision.ModifierConfig
	gate       *decision.Gate
	executor   *actions.Executor
	episodeLog *episodelog.Logger
	auditor    *audit.Auditor
	k8s        *serviceclients.KubernetesClient
	producer   *events.Producer

	metrics *telemetry.Metrics
	logger  telemetry.Logger
	tracer  trace.Tracer
}

type Deps struct {
	Opts        config.EngineOptions
	Retriever   *retriever.Retriever
	Bridge      *memorybridge.Bridge
	Analyzer    *chronicle.Analyzer
	Combiner    *patterns.Combiner
	ModifierCfg decision.ModifierConfig
	Gate        *decision.Gate
	Executor    *actions.Executor
	EpisodeLog  *episodelog.Logger
	Auditor     *audit.Auditor
	K8s         *serviceclients.KubernetesClient
	Producer    *events.Producer
	Metrics     *telemetry.Metrics
	Logger      telemetry.Logger
}

func New(d Deps) *Engine {
	return &Engine{
		opts: d.Opts, retriever: d.Retriever, bridge: d.Bridge, analyzer: d.Analyzer,
		combiner: d.Combiner, modifierCfg: d.ModifierCfg, gate: d.Gate, executor: d.Executor,
		episodeLog: d.EpisodeLog, auditor: d.Auditor, k8s: d.K8s, producer: d.Producer,
		metrics: d.Metrics, logger: d.Logger.WithComponent("engine"),
		tracer: otel.Tracer("agilecore/orchestrator-core/engine"),
	}
}

// Decide runs one full invocation for snap.
func (e *Engine) Decide(ctx context.Context, snap domain.ProjectSnapshot, correlationID string) Decision {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.Decide")
	defer span.End()

	out := Decision{
		Project: snap.ProjectID, CorrelationID: correlationID,
		ConfidenceScores: map[string]float64{},
	}

	episodeCtx, episodeErr := e.gatherEpisodeContext(ctx, snap, &out)
	if episodeErr != nil {
		out.Warnings = append(out.Warnings, episodeErr.Error())
	}

	base := e.decideBase(ctx, snap, &out)

	analysis, analysisErr := e.analyzeChronicle(ctx, snap, &out)
	if analysisErr != nil {
		out.Warnings = append(out.Warnings, analysisErr.Error())
	}

	adjustments, mode := e.proposeAdjustments(base, episodeCtx, analysis)
	out.DecisionMode = mode

	var gateResults []decision.GateResult
	if e.gate != nil && len(adjustments) > 0 {
		gateResults = e.gate.Evaluate(ctx, adjustments)
	}

	final := applyAdjustments(base, gateResults)
	populateDecision(&out, final, gateResults)

	if e.executor != nil {
		plan := buildPlan(snap.ProjectID, correlationID, final, out)
		result := e.executor.Execute(ctx, plan)
		out.ActionsTaken = result.ActionsTaken
		out.Warnings = append(out.Warnings, result.Warnings...)
		if result.SprintID != "" {
			out.SprintIDToClose = final.SprintIDToClose
		}
	}

	if e.episodeLog != nil {
		e.episodeLog.Log(buildEpisode(snap, final, out))
	}
	if e.auditor != nil {
		e.auditor.Record(ctx, audit.Input{
			Project: snap.ProjectID, CorrelationID: correlationID, SprintID: out.SprintIDToClose,
			Base: base, Proposed: adjustments, GateResults: gateResults,
			CombinedReasoning: joinReasoning(out.ReasoningChain),
		})
	}

	if elapsed := time.Since(start); elapsed > totalBudget {
		out.PerformanceBreaches = append(out.PerformanceBreaches, fmt.Sprintf("total budget exceeded: %s", elapsed))
	}
	if e.metrics != nil {
		e.metrics.Histogram(ctx, "engine_decide_duration_ms", float64(time.Since(start).Milliseconds()), "project", snap.ProjectID)
	}

	return out
}

// gatherEpisodeContext runs C5 (retrieve) then C6 (bridge) under their own
// sub-budgets, recording a breach without aborting the invocation.
func (e *Engine) gatherEpisodeContext(ctx context.Context, snap domain.ProjectSnapshot, out *Decision) (*domain.DecisionContext, error) {
	if !e.opts.EnablePatternRecognition || e.retriever == nil || e.bridge == nil {
		return nil, nil
	}

	retrieveStart := time.Now()
	episodes := e.retriever.Retrieve(ctx, retriever.Query{
		Context: summarizeSnapshot(snap), Project: snap.ProjectID, Limit: 10,
		MinQuality: 0.5, MinSimilarity: 0.6,
	})
	if d := time.Since(retrieveStart); d > episodeBudget {
		out.PerformanceBreaches = append(out.PerformanceBreaches, fmt.Sprintf("episode retrieval exceeded budget: %s", d))
	}

	bridgeStart := time.Now()
	built := e.bridge.Build(episodes, snap.TeamSize)
	if d := time.Since(bridgeStart); d > bridgeBudget {
		out.PerformanceBreaches = append(out.PerformanceBreaches, fmt.Sprintf("memory bridge exceeded budget: %s", d))
	}

	out.ConfidenceScores["episode_context"] = built.OverallConfidence
	out.ReasoningChain = append(out.ReasoningChain, built.KeyInsights...)
	out.Warnings = append(out.Warnings, built.RiskFactors...)
	return &built, nil
}

func (e *Engine) decideBase(ctx context.Context, snap domain.ProjectSnapshot, out *Decision) decision.BaseDecision {
	exists := e.cronJobExists(ctx)
	base := decision.RuleBasedDecision(snap, e.opts, exists)
	out.ReasoningChain = append(out.ReasoningChain, base.Reasoning)
	out.Warnings = append(out.Warnings, base.Warnings...)
	return base
}

func (e *Engine) cronJobExists(ctx context.Context) decision.CronJobExists {
	if e.k8s == nil {
		return nil
	}
	return func(name string) bool {
		exists, err := e.k8s.CronJobExists(ctx, name)
		if err != nil {
			e.logger.Warn("cronjob existence check failed, assuming present", map[string]interface{}{"name": name, "error": err.Error()})
			return true
		}
		return exists
	}
}

// analyzeChronicle runs C7 under a deadline of patternBudget; an analysis
// cut off by it degrades to a warning and no Chronicle data, and the
// invocation continues. ProjectFeatures beyond
// team size are not carried on ProjectSnapshot; fixed defaults stand in,
// matching spec.md §4.C7's note that feature vectors degrade gracefully
// when inputs are partial.
func (e *Engine) analyzeChronicle(ctx context.Context, snap domain.ProjectSnapshot, out *Decision) (chronicle.Analysis, error) {
	if e.analyzer == nil {
		return chronicle.Analysis{}, nil
	}
	patternCtx, cancel := context.WithTimeout(ctx, patternBudget)
	defer cancel()

	start := time.Now()
	analysis, err := e.analyzer.AnalyzeProject(patternCtx, snap.ProjectID, chronicle.ProjectFeatures{
		TeamSize: snap.TeamSize, AvgTaskComplexity: 5, DomainCategory: "general", ProjectDurationDays: 14,
	})
	if d := time.Since(start); d > patternBudget {
		out.PerformanceBreaches = append(out.PerformanceBreaches, fmt.Sprintf("pattern analysis exceeded budget: %s", d))
	}
	if err != nil {
		return chronicle.Analysis{}, fmt.Errorf("chronicle analysis degraded: %w", err)
	}
	return analysis, nil
}

// proposeAdjustments implements spec.md §4.C12 step 5's priority order:
// combined (episode+chronicle fused) patterns first, Chronicle-only
// fallback second, nothing when neither source has data.
func (e *Engine) proposeAdjustments(base decision.BaseDecision, episodeCtx *domain.DecisionContext, analysis chronicle.Analysis) ([]decision.Adjustment, string) {
	hasEpisodes := episodeCtx != nil && episodeCtx.SimilarEpisodesUsed > 0
	hasChronicle := len(analysis.SimilarProjects) > 0

	switch {
	case hasEpisodes && hasChronicle && e.combiner != nil:
		result := e.combiner.Combine(*episodeCtx, analysis)
		return decision.ProposeFromCombined(base, result.Patterns), "hybrid"
	case hasChronicle:
		return decision.ProposeFromChronicle(e.modifierCfg, base, analysis), "chronicle_only"
	default:
		return nil, "rule_based"
	}
}

// applyAdjustments overlays approved adjustments on base, in the fixed
// field order {tasks_to_assign, sprint_duration_weeks} spec.md §5
// requires so later fields never see a stale earlier one.
func applyAdjustments(base decision.BaseDecision, results []decision.GateResult) decision.BaseDecision {
	final := base
	order := []string{"tasks_to_assign", "sprint_duration_weeks"}
	for _, field := range order {
		for _, r := range results {
			if !r.Approved || r.Adjustment.Field != field {
				continue
			}
			switch field {
			case "tasks_to_assign":
				final.TasksToAssign = int(r.Adjustment.Recommended)
			case "sprint_duration_weeks":
				final.DurationWeeks = int(r.Adjustment.Recommended)
			}
		}
	}
	return final
}

func populateDecision(out *Decision, final decision.BaseDecision, gateResults []decision.GateResult) {
	out.CreateNewSprint = final.CreateNewSprint
	out.SprintName = final.SprintName
	out.TasksToAssign = final.TasksToAssign
	out.DurationWeeks = final.DurationWeeks
	out.CronJobCreated = final.CronJobCreated
	out.CronJobName = final.CronJobName
	out.SprintClosureTriggered = final.SprintClosureTriggered
	out.SprintIDToClose = final.SprintIDToClose
	out.CronJobDeleted = final.CronJobDeleted

	for _, r := range gateResults {
		if r.Approved {
			out.AppliedAdjustments = append(out.AppliedAdjustments, r.Adjustment)
			out.ReasoningChain = append(out.ReasoningChain, r.Adjustment.Rationale)
			out.ConfidenceScores[r.Adjustment.Field] = r.Adjustment.Confidence
		}
	}
}

func buildPlan(project, correlationID string, final decision.BaseDecision, out Decision) actions.Plan {
	details := map[string]any{
		"create_new_sprint": final.CreateNewSprint,
		"sprint_name":       final.SprintName,
		"tasks_to_assign":   final.TasksToAssign,
		"duration_weeks":    final.DurationWeeks,
		"decision_mode":     out.DecisionMode,
		"reasoning":         joinReasoning(out.ReasoningChain),
	}
	return actions.Plan{
		Project: project, CorrelationID: correlationID,
		SprintClosureTriggered: final.SprintClosureTriggered, SprintIDToClose: final.SprintIDToClose,
		CronJobDeleted: final.CronJobDeleted, CronJobNameToDelete: final.CronJobName,
		CreateNewSprint: final.CreateNewSprint, SprintName: final.SprintName,
		DurationWeeks: final.DurationWeeks, TasksToAssign: final.TasksToAssign,
		CronJobCreated: final.CronJobCreated, CronJobName: final.CronJobName,
		DecisionDetails: details,
	}
}

func buildEpisode(snap domain.ProjectSnapshot, final decision.BaseDecision, out Decision) domain.Episode {
	return domain.Episode{
		Project:   snap.ProjectID,
		Timestamp: time.Now().UTC(),
		Perception: map[string]any{
			"unassigned_tasks":      snap.UnassignedTasks,
			"active_sprint_count":   snap.ActiveSprintCount,
			"team_size":             snap.TeamSize,
			"tasks_to_assign":       final.TasksToAssign,
			"sprint_duration_weeks": final.DurationWeeks,
		},
		Reasoning: domain.Reasoning{
			Rationale:          joinReasoning(out.ReasoningChain),
			ConfidenceScores:   out.ConfidenceScores,
			PatternsIdentified: adjustmentFields(out.AppliedAdjustments),
		},
		Action: domain.Action{
			SprintCreated:  final.CreateNewSprint,
			TasksAssigned:  final.TasksToAssign,
			CronJobCreated: final.CronJobCreated,
			SprintClosed:   final.SprintClosureTriggered,
			CronJobDeleted: final.CronJobDeleted,
		},
		DecisionMode: out.DecisionMode,
		Sprint:       final.SprintName,
	}
}

func adjustmentFields(adjustments []decision.Adjustment) []string {
	fields := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		fields = append(fields, a.Field)
	}
	return fields
}

func joinReasoning(chain []string) string {
	out := ""
	for _, s := range chain {
		if s == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += s
	}
	return out
}

func summarizeSnapshot(snap domain.ProjectSnapshot) string {
	return fmt.Sprintf("project=%s unassigned_tasks=%d active_sprint_count=%d team_size=%d",
		snap.ProjectID, snap.UnassignedTasks, snap.ActiveSprintCount, snap.TeamSize)
}
