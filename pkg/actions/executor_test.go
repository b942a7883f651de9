package actions_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/actions"
	"github.com/agilecore/orchestrator-core/pkg/events"
	"github.com/agilecore/orchestrator-core/pkg/serviceclients"
)

// unreachableRedis builds a client pointed at a closed local port so
// publish attempts fail fast with a connection error instead of hanging.
func unreachableRedis(t *testing.T) *redis.Client {
	ln := mustListenThenClose(t)
	return redis.NewClient(&redis.Options{Addr: ln})
}

func mustListenThenClose(t *testing.T) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.Listener.Addr().String()
	srv.Close()
	return addr
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if body != "" {
			w.Write([]byte(body))
		}
	}))
}

func newExecutor(t *testing.T, sprintBody, backlogBody, chronicleBody string) *actions.Executor {
	sprintSrv := jsonServer(t, sprintBody)
	backlogSrv := jsonServer(t, backlogBody)
	chronicleSrv := jsonServer(t, chronicleBody)
	t.Cleanup(func() { sprintSrv.Close(); backlogSrv.Close(); chronicleSrv.Close() })

	sprint := serviceclients.NewSprintClient(sprintSrv.URL, telemetry.NoOp{})
	backlog := serviceclients.NewBacklogClient(backlogSrv.URL, telemetry.NoOp{})
	chronicle := serviceclients.NewChronicleClient(chronicleSrv.URL, telemetry.NoOp{})
	producer := events.NewProducer(unreachableRedis(t), telemetry.NoOp{})

	return actions.New(sprint, backlog, chronicle, nil, producer, telemetry.NoOp{})
}

func TestExecutor_Execute_CreatesSprintAndAssignsTasks(t *testing.T) {
	e := newExecutor(t, `{"sprint_id":"sprint-1"}`, `{"assigned_task_ids":["t1"]}`, "")
	plan := actions.Plan{
		Project: "proj-1", CreateNewSprint: true, SprintName: "proj-S01",
		DurationWeeks: 2, TasksToAssign: 5, DecisionDetails: map[string]any{},
	}
	result := e.Execute(context.Background(), plan)

	assert.Contains(t, result.ActionsTaken, "sprint_created")
	assert.Contains(t, result.ActionsTaken, "tasks_assigned")
	assert.Equal(t, "sprint-1", result.SprintID)
}

func TestExecutor_Execute_ClosesSprintAndRecordsRetrospective(t *testing.T) {
	e := newExecutor(t, "", "", "")
	plan := actions.Plan{
		Project: "proj-1", SprintClosureTriggered: true, SprintIDToClose: "sprint-1",
		DecisionDetails: map[string]any{},
	}
	result := e.Execute(context.Background(), plan)

	assert.Contains(t, result.ActionsTaken, "sprint_closed")
	assert.Equal(t, "sprint-1", result.SprintID)
	for _, w := range result.Warnings {
		assert.NotContains(t, w, "retrospective record failed")
	}
}

func TestExecutor_Execute_CronJobDeleteWithoutKubernetesClientWarns(t *testing.T) {
	e := newExecutor(t, "", "", "")
	plan := actions.Plan{
		Project: "proj-1", SprintClosureTriggered: true, SprintIDToClose: "sprint-1",
		CronJobDeleted: true, CronJobNameToDelete: "run-dailyscrum-proj-1-s01",
		DecisionDetails: map[string]any{},
	}
	result := e.Execute(context.Background(), plan)

	assert.NotContains(t, result.ActionsTaken, "cronjob_deleted")
	found := false
	for _, w := range result.Warnings {
		if w == "cronjob delete skipped: no kubernetes client configured" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExecutor_Execute_CronJobCreateWithoutKubernetesClientWarns(t *testing.T) {
	e := newExecutor(t, "", "", "")
	plan := actions.Plan{Project: "proj-1", CronJobCreated: true, CronJobName: "run-dailyscrum-proj-1-s01", DecisionDetails: map[string]any{}}
	result := e.Execute(context.Background(), plan)

	assert.NotContains(t, result.ActionsTaken, "cronjob_created")
	assert.Contains(t, result.Warnings, "cronjob create skipped: no kubernetes client configured")
}

func TestExecutor_Execute_SprintCreateFailureRecordsWarningNotPanic(t *testing.T) {
	sprintSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sprintSrv.Close()
	backlogSrv := jsonServer(t, "")
	chronicleSrv := jsonServer(t, "")
	defer backlogSrv.Close()
	defer chronicleSrv.Close()

	sprint := serviceclients.NewSprintClient(sprintSrv.URL, telemetry.NoOp{})
	backlog := serviceclients.NewBacklogClient(backlogSrv.URL, telemetry.NoOp{})
	chronicle := serviceclients.NewChronicleClient(chronicleSrv.URL, telemetry.NoOp{})
	producer := events.NewProducer(unreachableRedis(t), telemetry.NoOp{})
	e := actions.New(sprint, backlog, chronicle, nil, producer, telemetry.NoOp{})

	result := e.Execute(context.Background(), actions.Plan{Project: "proj-1", CreateNewSprint: true, DecisionDetails: map[string]any{}})

	require.NotEmpty(t, result.Warnings)
	assert.NotContains(t, result.ActionsTaken, "sprint_created")
}

func TestExecutor_Execute_AlwaysAttemptsDailyScrumReportAndEventPublish(t *testing.T) {
	e := newExecutor(t, "", "", "")
	result := e.Execute(context.Background(), actions.Plan{Project: "proj-1", DecisionDetails: map[string]any{"k": "v"}})

	assert.Contains(t, result.ActionsTaken, "daily_scrum_report_recorded")
	// event publish hits an unreachable redis address and should degrade to a warning, not a panic.
	assert.NotContains(t, result.ActionsTaken, "event_published")
}
