// Package audit implements C15: assembles the full decision provenance
// record and persists it to Chronicle. Audit failures are logged and
// swallowed — they must never surface to the engine's caller (spec.md §7).
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/decision"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/serviceclients"
)

// Input bundles everything an invocation produced, so Record can build an
// AuditRecord that names every proposal, not only the ones that were
// approved.
type Input struct {
	Project             string
	CorrelationID       string
	SprintID            string
	Base                decision.BaseDecision
	Proposed            []decision.Adjustment
	GateResults         []decision.GateResult
	CombinedReasoning   string
}

type Auditor struct {
	chronicle *serviceclients.ChronicleClient
	logger    telemetry.Logger
}

func New(chronicle *serviceclients.ChronicleClient, logger telemetry.Logger) *Auditor {
	return &Auditor{chronicle: chronicle, logger: logger.WithComponent("audit")}
}

// Record builds the AuditRecord and persists it. Any failure is logged,
// never returned.
func (a *Auditor) Record(ctx context.Context, in Input) {
	record := build(in)

	note := serviceclients.Note{
		ID:        record.ID,
		Project:   record.Project,
		EventType: "orchestration_decision_audit",
		Timestamp: record.Timestamp,
		Data: map[string]interface{}{
			"base_decision":        record.BaseDecision,
			"proposed_adjustments": record.ProposedAdjustments,
			"applied_adjustments":  record.AppliedAdjustments,
			"final_decision":       record.FinalDecision,
			"combined_reasoning":   record.CombinedReasoning,
			"correlation_id":       record.CorrelationID,
			"sprint_id":            record.SprintID,
		},
	}

	if err := a.chronicle.RecordNote(ctx, note); err != nil {
		a.logger.Warn("audit record persist failed", map[string]interface{}{"project": in.Project, "error": err.Error()})
	}
}

func build(in Input) domain.AuditRecord {
	proposed := make([]map[string]any, 0, len(in.Proposed))
	for _, p := range in.Proposed {
		proposed = append(proposed, adjustmentMap(p))
	}

	applied := make(map[string]any)
	final := baseMap(in.Base)
	for _, r := range in.GateResults {
		if !r.Approved {
			continue
		}
		applied[r.Adjustment.Field] = adjustmentMap(r.Adjustment)
		final[r.Adjustment.Field] = r.Adjustment.Recommended
	}

	return domain.AuditRecord{
		ID:                  uuid.NewString(),
		Project:             in.Project,
		Timestamp:           time.Now().UTC(),
		BaseDecision:        baseMap(in.Base),
		ProposedAdjustments: proposed,
		AppliedAdjustments:  applied,
		FinalDecision:       final,
		CombinedReasoning:   in.CombinedReasoning,
		CorrelationID:       in.CorrelationID,
		SprintID:            in.SprintID,
	}
}

func baseMap(b decision.BaseDecision) map[string]any {
	return map[string]any{
		"create_new_sprint":        b.CreateNewSprint,
		"sprint_name":              b.SprintName,
		"sprint_number":            b.SprintNumber,
		"tasks_to_assign":          b.TasksToAssign,
		"duration_weeks":           b.DurationWeeks,
		"cronjob_created":          b.CronJobCreated,
		"cronjob_name":             b.CronJobName,
		"sprint_closure_triggered": b.SprintClosureTriggered,
		"sprint_id_to_close":       b.SprintIDToClose,
		"cronjob_deleted":          b.CronJobDeleted,
		"reasoning":                b.Reasoning,
	}
}

func adjustmentMap(a decision.Adjustment) map[string]any {
	return map[string]any{
		"field":                a.Field,
		"original":             a.Original,
		"recommended":          a.Recommended,
		"confidence":           a.Confidence,
		"rationale":            a.Rationale,
		"expected_improvement": a.ExpectedImprovement,
		"evidence_source":      a.EvidenceSource,
	}
}
