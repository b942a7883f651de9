package serviceclients

import (
	"context"
	"fmt"

	"github.com/agilecore/orchestrator-core/internal/resilience"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// SprintClient calls the Sprint service (create/close).
type SprintClient struct{ *HTTPClient }

func NewSprintClient(baseURL string, logger telemetry.Logger) *SprintClient {
	return &SprintClient{NewHTTPClient("sprint", baseURL, resilience.DefaultConfig("sprint"), logger)}
}

type CreateSprintRequest struct {
	ProjectID     string `json:"project_id"`
	SprintName    string `json:"sprint_name"`
	DurationWeeks int    `json:"duration_weeks"`
}

type CreateSprintResponse struct {
	SprintID string `json:"sprint_id"`
}

// Create opens a new sprint. Invariant (spec.md §8 #1): the Sprint service
// is the single source of truth that at most one sprint per project is
// in_progress; a conflicting create surfaces as ErrConflict (409) to the
// caller via errors.IsConflict.
func (c *SprintClient) Create(ctx context.Context, req CreateSprintRequest) (*CreateSprintResponse, error) {
	var resp CreateSprintResponse
	if err := c.doJSON(ctx, "POST", "/sprints", req, &resp); err != nil {
		return nil, fmt.Errorf("sprint.Create: %w", err)
	}
	return &resp, nil
}

type CloseSprintRequest struct {
	SprintID string `json:"sprint_id"`
}

func (c *SprintClient) Close(ctx context.Context, sprintID string) error {
	if err := c.doJSON(ctx, "POST", "/sprints/"+sprintID+"/close", nil, nil); err != nil {
		return fmt.Errorf("sprint.Close: %w", err)
	}
	return nil
}
