package serviceclients

import (
	"context"
	"errors"
	"fmt"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/resilience"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// ProjectClient calls the Project service.
type ProjectClient struct{ *HTTPClient }

func NewProjectClient(baseURL string, logger telemetry.Logger) *ProjectClient {
	return &ProjectClient{NewHTTPClient("project", baseURL, resilience.DefaultConfig("project"), logger)}
}

// Get fetches a project snapshot by id. A 404 is not an error at this
// layer: it returns (nil, nil), matching spec.md §6.
func (c *ProjectClient) Get(ctx context.Context, projectID string) (*domain.ProjectSnapshot, error) {
	var snap domain.ProjectSnapshot
	err := c.doJSON(ctx, "GET", "/projects/"+projectID, nil, &snap)
	if err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("project.Get: %w", err)
	}
	return &snap, nil
}

// BacklogClient calls the Backlog service.
type BacklogClient struct{ *HTTPClient }

func NewBacklogClient(baseURL string, logger telemetry.Logger) *BacklogClient {
	return &BacklogClient{NewHTTPClient("backlog", baseURL, resilience.DefaultConfig("backlog"), logger)}
}

type AssignTasksRequest struct {
	ProjectID string `json:"project_id"`
	SprintID  string `json:"sprint_id"`
	Count     int    `json:"count"`
}

type AssignTasksResponse struct {
	AssignedTaskIDs []string `json:"assigned_task_ids"`
}

func (c *BacklogClient) AssignTasks(ctx context.Context, req AssignTasksRequest) (*AssignTasksResponse, error) {
	var resp AssignTasksResponse
	if err := c.doJSON(ctx, "POST", "/backlog/assign", req, &resp); err != nil {
		return nil, fmt.Errorf("backlog.AssignTasks: %w", err)
	}
	return &resp, nil
}

func (c *BacklogClient) ReleaseIncomplete(ctx context.Context, sprintID string) error {
	if err := c.doJSON(ctx, "POST", "/backlog/release/"+sprintID, nil, nil); err != nil {
		return fmt.Errorf("backlog.ReleaseIncomplete: %w", err)
	}
	return nil
}
