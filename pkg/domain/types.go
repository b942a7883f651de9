// Package domain holds the data model shared by every component (spec.md
// §3): project snapshots, sprints, tasks, episodes, strategies, and the
// transient structures the engine builds per invocation.
package domain

import "time"

// SprintStatus enumerates the lifecycle spec.md §3 defines for a Sprint.
type SprintStatus string

const (
	SprintInProgress            SprintStatus = "in_progress"
	SprintCompleted             SprintStatus = "completed"
	SprintClosedWithPendingTasks SprintStatus = "closed_with_pending_tasks"
)

// TaskStatus enumerates the flow unassigned -> assigned_to_sprint ->
// in_progress -> completed.
type TaskStatus string

const (
	TaskUnassigned       TaskStatus = "unassigned"
	TaskAssignedToSprint TaskStatus = "assigned_to_sprint"
	TaskInProgress       TaskStatus = "in_progress"
	TaskCompleted        TaskStatus = "completed"
)

// AvailabilityStatus reflects team_availability.status in a project
// snapshot.
type AvailabilityStatus string

const (
	AvailabilityOK       AvailabilityStatus = "ok"
	AvailabilityConflict AvailabilityStatus = "conflict"
)

// TeamAvailability carries status plus a conflict list of named
// holidays/PTO dates (spec.md §3).
type TeamAvailability struct {
	Status    AvailabilityStatus `json:"status"`
	Conflicts []string           `json:"conflicts,omitempty"`
}

// TaskSummary is the optional pending/completed task-count rollup a
// snapshot carries for the active sprint.
type TaskSummary struct {
	Pending   int `json:"pending_tasks"`
	Completed int `json:"completed_tasks"`
}

// Sprint is addressed by {project}-S{nn} (spec.md §3).
type Sprint struct {
	ID        string       `json:"id" db:"id"`
	Project   string       `json:"project" db:"project"`
	Name      string       `json:"name" db:"name"`
	StartDate time.Time    `json:"start_date" db:"start_date"`
	EndDate   time.Time    `json:"end_date" db:"end_date"`
	DurationWeeks int      `json:"duration_weeks" db:"duration_weeks"`
	Status    SprintStatus `json:"status" db:"status"`
}

// Task tracks progress <-> status per the invariant in spec.md §3:
// progress >= 100 iff status == completed.
type Task struct {
	ID         string     `json:"id" db:"id"`
	Project    string     `json:"project" db:"project"`
	Sprint     string     `json:"sprint,omitempty" db:"sprint"`
	Title      string     `json:"title" db:"title"`
	Status     TaskStatus `json:"status" db:"status"`
	Progress   int        `json:"progress_percentage" db:"progress_percentage"`
	AssignedTo string     `json:"assigned_employee,omitempty" db:"assigned_employee"`
}

// Valid reports whether the task satisfies the progress/status invariant.
func (t Task) Valid() bool {
	if t.Progress >= 100 {
		return t.Status == TaskCompleted
	}
	return t.Status != TaskCompleted
}

// ProjectSnapshot is the perception input to one engine invocation
// (spec.md §3).
type ProjectSnapshot struct {
	ProjectID          string           `json:"project_id"`
	BacklogTaskCount   int              `json:"backlog_task_count"`
	UnassignedTasks    int              `json:"unassigned_tasks"`
	ActiveSprintCount  int              `json:"active_sprint_count"`
	TeamSize           int              `json:"team_size"`
	TeamAvailability   TeamAvailability `json:"team_availability"`
	ActiveSprint       *Sprint          `json:"active_sprint,omitempty"`
	ActiveSprintTasks  *TaskSummary     `json:"active_sprint_tasks,omitempty"`
}

// Outcome is attached to an episode lazily, after the related sprint
// closes.
type Outcome struct {
	Success      bool      `json:"success"`
	Quality      float64   `json:"quality"` // [0,1]
	RecordedAt   time.Time `json:"recorded_at"`
}

// Reasoning captures the analysis behind one decision: narrative plus the
// scores/patterns that produced it.
type Reasoning struct {
	Rationale        string             `json:"rationale"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
	PatternsIdentified []string         `json:"patterns_identified,omitempty"`
}

// Action records what an invocation decided to do.
type Action struct {
	SprintCreated    bool   `json:"sprint_created"`
	TasksAssigned    int    `json:"tasks_assigned"`
	CronJobCreated   bool   `json:"cronjob_created"`
	SprintClosed     bool   `json:"sprint_closed"`
	CronJobDeleted   bool   `json:"cronjob_deleted"`
}

// Episode is a frozen record of one orchestration decision (spec.md §3).
// It is immutable once written except for the later Outcome attachment.
type Episode struct {
	ID          string          `json:"id" db:"id"`
	Project     string          `json:"project" db:"project"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	Perception  map[string]any  `json:"perception" db:"perception"`
	Reasoning   Reasoning       `json:"reasoning" db:"reasoning"`
	Action      Action          `json:"action" db:"action"`
	Outcome     *Outcome        `json:"outcome,omitempty" db:"outcome"`
	AgentVersion string         `json:"agent_version" db:"agent_version"`
	DecisionMode string         `json:"decision_mode" db:"decision_mode"`
	Fingerprint []float32       `json:"-" db:"-"` // embedding vector, stored separately
	Sprint      string          `json:"sprint,omitempty" db:"sprint"`
	ChronicleNote string        `json:"chronicle_note,omitempty" db:"chronicle_note"`
}

// DataCompletenessScore implements the C5 fallback quality metric: 0.25 per
// non-empty field among perception, reasoning, action, outcome.
func (e Episode) DataCompletenessScore() float64 {
	score := 0.0
	if len(e.Perception) > 0 {
		score += 0.25
	}
	if e.Reasoning.Rationale != "" {
		score += 0.25
	}
	if e.Action.SprintCreated || e.Action.TasksAssigned > 0 || e.Action.CronJobCreated || e.Action.SprintClosed {
		score += 0.25
	}
	if e.Outcome != nil {
		score += 0.25
	}
	return score
}

// Quality returns the episode's recorded outcome quality, falling back to
// the data-completeness score when no outcome has been recorded yet
// (spec.md §4.C5).
func (e Episode) Quality() float64 {
	if e.Outcome != nil {
		return e.Outcome.Quality
	}
	return e.DataCompletenessScore()
}

// EpisodeWithSimilarity pairs an episode with its cosine similarity to a
// query vector (spec.md §4.C3 similar()).
type EpisodeWithSimilarity struct {
	Episode
	Similarity float64 `json:"similarity"`
}

// Strategy is a learned rule (spec.md §3).
type Strategy struct {
	ID                  string    `json:"id" db:"id"`
	Type                string    `json:"type" db:"type"`
	Content              map[string]any `json:"content" db:"content"`
	Description         string    `json:"description" db:"description"`
	Confidence          float64   `json:"confidence" db:"confidence"`
	TimesApplied        int       `json:"times_applied" db:"times_applied"`
	SuccessCount        int       `json:"success_count" db:"success_count"`
	FailureCount        int       `json:"failure_count" db:"failure_count"`
	SupportingEpisodes  []string  `json:"supporting_episodes" db:"-"`
	ContradictingEpisodes []string `json:"contradicting_episodes" db:"-"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	LastApplied         *time.Time `json:"last_applied,omitempty" db:"last_applied"`
	IsActive            bool      `json:"is_active" db:"is_active"`
}

// SuccessRate derives success_count/times_applied per spec.md §3, 0 when no
// applications have been recorded.
func (s Strategy) SuccessRate() float64 {
	if s.TimesApplied == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TimesApplied)
}

// PerformanceLogEntry is an append-only row logging one application of a
// strategy (spec.md §3).
type PerformanceLogEntry struct {
	StrategyID        string
	EpisodeID         string
	PredictedOutcome  float64
	ActualOutcome     *float64
	ContextSimilarity float64
	RecordedAt        time.Time
}

// Pattern is a type-value-confidence triple, extracted either from
// episodes or from Chronicle analytics (GLOSSARY).
type PatternType string

const (
	PatternTaskCount      PatternType = "task_count"
	PatternSprintDuration PatternType = "sprint_duration"
)

type SourceWeight struct {
	Episode   float64 `json:"episode"`
	Chronicle float64 `json:"chronicle"`
}

// CombinedPattern is the fused pattern produced by C8.
type CombinedPattern struct {
	Type            PatternType  `json:"type"`
	Value           float64      `json:"value"`
	SuccessRate     float64      `json:"success_rate"`
	Confidence      float64      `json:"confidence"`
	Weight          SourceWeight `json:"weight"`
	EvidenceCount   int          `json:"evidence_count"`
	SourceBreakdown map[string]int `json:"source_breakdown"`
}

// IdentifiedPattern is a pattern surfaced by the memory bridge (C6) from
// episode clusters, before chronicle fusion.
type IdentifiedPattern struct {
	Type        PatternType `json:"type"`
	Value       float64     `json:"value"`
	SuccessRate float64     `json:"success_rate"`
	Confidence  float64     `json:"confidence"`
}

// DecisionContext is the transient bundle the memory bridge (C6) builds
// per invocation (spec.md §3).
type DecisionContext struct {
	SimilarEpisodesFound int
	SimilarEpisodesUsed  int
	AverageSimilarity    float64
	IdentifiedPatterns   []IdentifiedPattern
	Recommendations      map[PatternType]float64
	OverallConfidence    float64
	KeyInsights          []string
	RiskFactors          []string
	PatternWeight        float64 // episode share used by C8 fusion
}

// AuditRecord captures full decision provenance (spec.md §3).
type AuditRecord struct {
	ID                   string                 `json:"id"`
	Project              string                 `json:"project"`
	Timestamp            time.Time              `json:"timestamp"`
	BaseDecision         map[string]any         `json:"base_decision"`
	ProposedAdjustments  []map[string]any       `json:"proposed_adjustments"`
	AppliedAdjustments   map[string]any         `json:"applied_adjustments"`
	FinalDecision        map[string]any         `json:"final_decision"`
	CombinedReasoning    string                 `json:"combined_reasoning"`
	CorrelationID        string                 `json:"correlation_id"`
	SprintID             string                 `json:"sprint_id,omitempty"`
}
