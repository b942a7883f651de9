package serviceclients_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/serviceclients"
)

func TestProjectClient_Get_404ReturnsNilWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := serviceclients.NewProjectClient(srv.URL, telemetry.NoOp{})
	snap, err := client.Get(context.Background(), "proj-1")

	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestProjectClient_Get_DecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"project_id":"proj-1","backlog_task_count":10}`))
	}))
	defer srv.Close()

	client := serviceclients.NewProjectClient(srv.URL, telemetry.NoOp{})
	snap, err := client.Get(context.Background(), "proj-1")

	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "proj-1", snap.ProjectID)
	assert.Equal(t, 10, snap.BacklogTaskCount)
}

func TestSprintClient_Create_ConflictMapsToErrConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := serviceclients.NewSprintClient(srv.URL, telemetry.NoOp{})
	_, err := client.Create(context.Background(), serviceclients.CreateSprintRequest{ProjectID: "proj-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrConflict))
}

func TestSprintClient_Close_ServerErrorMapsToConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := serviceclients.NewSprintClient(srv.URL, telemetry.NoOp{})
	err := client.Close(context.Background(), "sprint-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrConnectionFailed))
}

func TestBacklogClient_AssignTasks_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"assigned_task_ids":["t1","t2"]}`))
	}))
	defer srv.Close()

	client := serviceclients.NewBacklogClient(srv.URL, telemetry.NoOp{})
	resp, err := client.AssignTasks(context.Background(), serviceclients.AssignTasksRequest{ProjectID: "proj-1", Count: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, resp.AssignedTaskIDs)
}

func TestChronicleClient_RecordNote_BadRequestMapsToInvalidInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := serviceclients.NewChronicleClient(srv.URL, telemetry.NoOp{})
	err := client.RecordNote(context.Background(), serviceclients.Note{Project: "proj-1", EventType: "daily_scrum_report"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrInvalidInput))
}
