// Package decision implements C9 (modifier), C10 (confidence gate) and C11
// (rule-based decision) — the three components spec.md §5 requires to be
// non-suspending: pure functions over already-fetched data.
package decision

import (
	"fmt"
	"strings"

	"github.com/agilecore/orchestrator-core/internal/config"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// BaseDecision is C11's pure output, before any intelligence adjustment.
type BaseDecision struct {
	CreateNewSprint        bool
	SprintName             string
	SprintNumber           int
	TasksToAssign          int
	CronJobCreated         bool
	CronJobName            string
	SprintClosureTriggered bool
	SprintIDToClose        string
	CronJobDeleted         bool
	DurationWeeks          int
	Warnings               []string
	Reasoning              string
}

// CronJobExists is supplied by the caller (the engine queries the
// Kubernetes client) so this function stays pure.
type CronJobExists func(name string) bool

// RuleBasedDecision implements spec.md §4.C11. snap is the current project
// snapshot, opts the per-invocation recognized options, cronJobExists a
// pre-fetched existence check for the active sprint's expected CronJob
// name (nil means "unknown": the CronJob is then assumed present and is
// not recreated).
func RuleBasedDecision(snap domain.ProjectSnapshot, opts config.EngineOptions, cronJobExists CronJobExists) BaseDecision {
	var d BaseDecision
	var points []string

	if snap.TeamAvailability.Status == domain.AvailabilityConflict {
		for _, conflict := range snap.TeamAvailability.Conflicts {
			d.Warnings = append(d.Warnings, conflict)
		}
		points = append(points, "team availability conflicts present, proceeding")
	}

	switch {
	case snap.ActiveSprint != nil:
		expectedName := cronJobName(snap.ProjectID, snap.ActiveSprint.ID)
		d.CronJobName = expectedName

		pending := 0
		if snap.ActiveSprintTasks != nil {
			pending = snap.ActiveSprintTasks.Pending
		}

		switch {
		case pending == 0:
			d.SprintClosureTriggered = true
			d.SprintIDToClose = snap.ActiveSprint.ID
			d.CronJobDeleted = true
			points = append(points, fmt.Sprintf("active sprint %s has no pending tasks, triggering closure", snap.ActiveSprint.ID))
		case cronJobExists != nil && !cronJobExists(expectedName):
			d.CronJobCreated = true
			d.SprintName = snap.ActiveSprint.ID
			points = append(points, fmt.Sprintf("active sprint %s has pending tasks but its corresponding CronJob was missing. Recreating", snap.ActiveSprint.ID))
		default:
			points = append(points, fmt.Sprintf("active sprint %s in progress, no action needed", snap.ActiveSprint.ID))
		}

	case opts.CreateSprintIfNeeded && snap.UnassignedTasks > 0:
		d.SprintNumber = snap.ActiveSprintCount + 1
		d.SprintName = fmt.Sprintf("%s-S%02d", snap.ProjectID, d.SprintNumber)
		d.CreateNewSprint = true

		tasksToAssign := min(snap.UnassignedTasks, opts.MaxTasksPerSprint)
		d.TasksToAssign = tasksToAssign
		d.DurationWeeks = opts.SprintDurationWeeks
		if d.DurationWeeks <= 0 {
			d.DurationWeeks = 2
		}

		if opts.CreateCronJob {
			d.CronJobCreated = true
			d.CronJobName = cronJobName(snap.ProjectID, d.SprintName)
		}
		points = append(points, fmt.Sprintf("no active sprint, %d unassigned tasks, creating %s with %d tasks", snap.UnassignedTasks, d.SprintName, tasksToAssign))

	default:
		points = append(points, "no active sprint and no action triggers met")
	}

	d.Reasoning = strings.Join(points, "; ")
	return d
}

// cronJobName renders spec.md §6's deterministic name.
func cronJobName(project, sprint string) string {
	return fmt.Sprintf("run-dailyscrum-%s-%s", strings.ToLower(project), strings.ToLower(sprint))
}
