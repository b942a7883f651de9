// Package actions implements C13: applies a decision to the world. Every
// action is partitioned — a failure appends a warning and execution
// continues, per spec.md §7's propagation policy ("a failure to record a
// retrospective does not block sprint closure").
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/events"
	"github.com/agilecore/orchestrator-core/pkg/serviceclients"
)

// Plan is what the engine (C12) decided to do, after gating and
// adjustments. Executor only reads this — it does not decide anything.
type Plan struct {
	Project   string
	CorrelationID string

	SprintClosureTriggered bool
	SprintIDToClose        string
	CronJobDeleted         bool
	CronJobNameToDelete    string

	CreateNewSprint bool
	SprintName      string
	DurationWeeks   int
	TasksToAssign   int

	CronJobCreated bool
	CronJobName    string
	Schedule       string

	DecisionDetails map[string]any
}

// Result records every action actually taken plus any warnings.
type Result struct {
	ActionsTaken []string
	Warnings     []string
	SprintID     string
	CronJobName  string
}

type Executor struct {
	sprint    *serviceclients.SprintClient
	backlog   *serviceclients.BacklogClient
	chronicle *serviceclients.ChronicleClient
	k8s       *serviceclients.KubernetesClient
	producer  *events.Producer
	logger    telemetry.Logger
}

func New(sprint *serviceclients.SprintClient, backlog *serviceclients.BacklogClient, chronicle *serviceclients.ChronicleClient, k8s *serviceclients.KubernetesClient, producer *events.Producer, logger telemetry.Logger) *Executor {
	return &Executor{sprint: sprint, backlog: backlog, chronicle: chronicle, k8s: k8s, producer: producer, logger: logger.WithComponent("actions")}
}

// Execute runs the fixed ordering spec.md §5 requires: close before
// create; CronJob delete before sprint-clear.
func (e *Executor) Execute(ctx context.Context, plan Plan) Result {
	var result Result

	if plan.SprintClosureTriggered {
		e.closeSprint(ctx, plan, &result)
	}

	if plan.CreateNewSprint {
		e.createSprint(ctx, plan, &result)
	}

	if plan.CronJobCreated {
		e.createCronJob(ctx, plan, &result)
	}

	e.recordDailyScrumReport(ctx, plan, &result)
	e.publishDecisionEvent(ctx, plan, &result)

	return result
}

func (e *Executor) closeSprint(ctx context.Context, plan Plan, result *Result) {
	if plan.CronJobDeleted && plan.CronJobNameToDelete != "" {
		if e.k8s == nil {
			result.Warnings = append(result.Warnings, "cronjob delete skipped: no kubernetes client configured")
		} else if err := e.k8s.DeleteCronJob(ctx, plan.CronJobNameToDelete); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cronjob delete failed: %v", err))
		} else {
			result.ActionsTaken = append(result.ActionsTaken, "cronjob_deleted")
		}
	}

	if err := e.sprint.Close(ctx, plan.SprintIDToClose); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("sprint close failed: %v", err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, "sprint_closed")
	result.SprintID = plan.SprintIDToClose

	note := serviceclients.Note{
		ID: "", Project: plan.Project, EventType: "sprint_retrospective", Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{"sprint_id": plan.SprintIDToClose},
	}
	if err := e.chronicle.RecordNote(ctx, note); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("retrospective record failed: %v", err))
	}
}

func (e *Executor) createSprint(ctx context.Context, plan Plan, result *Result) {
	resp, err := e.sprint.Create(ctx, serviceclients.CreateSprintRequest{
		ProjectID: plan.Project, SprintName: plan.SprintName, DurationWeeks: plan.DurationWeeks,
	})
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("sprint create failed: %v", err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, "sprint_created")
	result.SprintID = resp.SprintID

	if plan.TasksToAssign > 0 {
		_, err := e.backlog.AssignTasks(ctx, serviceclients.AssignTasksRequest{
			ProjectID: plan.Project, SprintID: resp.SprintID, Count: plan.TasksToAssign,
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("task assignment failed: %v", err))
		} else {
			result.ActionsTaken = append(result.ActionsTaken, "tasks_assigned")
		}
	}
}

func (e *Executor) createCronJob(ctx context.Context, plan Plan, result *Result) {
	if e.k8s == nil {
		result.Warnings = append(result.Warnings, "cronjob create skipped: no kubernetes client configured")
		return
	}
	err := e.k8s.CreateCronJob(ctx, serviceclients.CronJobManifest{
		Name: plan.CronJobName, Schedule: plan.Schedule, Project: plan.Project, Sprint: plan.SprintName,
	})
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cronjob create failed: %v", err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, "cronjob_created")
	result.CronJobName = plan.CronJobName
}

func (e *Executor) recordDailyScrumReport(ctx context.Context, plan Plan, result *Result) {
	note := serviceclients.Note{
		ID: "", Project: plan.Project, EventType: "daily_scrum_report", Timestamp: time.Now().UTC(),
		Data: plan.DecisionDetails,
	}
	if err := e.chronicle.RecordNote(ctx, note); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("daily scrum report failed: %v", err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, "daily_scrum_report_recorded")
}

func (e *Executor) publishDecisionEvent(ctx context.Context, plan Plan, result *Result) {
	env, err := events.NewEnvelope(events.TypeDailyScrumReport, plan.Project, "project", plan.DecisionDetails, events.Metadata{
		SourceService: "orchestrator-core", CorrelationID: plan.CorrelationID,
	})
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("event envelope build failed: %v", err))
		return
	}
	if err := e.producer.Publish(ctx, events.StreamOrchestration, env); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("event publish failed: %v", err))
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, "event_published")
}
