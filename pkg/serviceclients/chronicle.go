package serviceclients

import (
	"context"
	"fmt"
	"time"

	"github.com/agilecore/orchestrator-core/internal/resilience"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// ChronicleClient calls the Chronicle service for writes: retrospectives,
// DailyScrumReports, and decision-audit notes (spec.md §4.C13/C15). Reads
// for pattern analysis go through pkg/chronicle's separate analytics pool,
// not this client — this is the write side of the CQRS split spec.md §5
// implies by giving Chronicle its own database pool.
type ChronicleClient struct{ *HTTPClient }

func NewChronicleClient(baseURL string, logger telemetry.Logger) *ChronicleClient {
	return &ChronicleClient{NewHTTPClient("chronicle", baseURL, resilience.DefaultConfig("chronicle"), logger)}
}

type Note struct {
	ID        string                 `json:"id"`
	Project   string                 `json:"project"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// RecordNote writes a note of the given event_type. Failures here are
// best-effort from the caller's point of view (spec.md §4.C13/§7): the
// caller decides whether to treat the error as a warning or a hard stop.
func (c *ChronicleClient) RecordNote(ctx context.Context, note Note) error {
	if err := c.doJSON(ctx, "POST", "/chronicle/notes", note, nil); err != nil {
		return fmt.Errorf("chronicle.RecordNote: %w", err)
	}
	return nil
}
