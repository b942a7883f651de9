// Package chronicle implements C7: the pattern analyzer reading Chronicle's
// analytics tables through a dedicated sqlx/lib-pq pool, distinct from the
// pgxpool the episode and knowledge stores share (spec.md §5: Chronicle
// gets its own pool). Results are cached per project for 30 minutes.
package chronicle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/jmoiron/sqlx"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// SimilarProject is one row of C7's similar-projects analysis.
type SimilarProject struct {
	ProjectID          string  `db:"project_id"`
	SimilarityScore    float64 `db:"-"`
	TeamSize           int     `db:"team_size"`
	CompletionRate     float64 `db:"completion_rate"`
	AvgSprintDuration  float64 `db:"avg_sprint_duration"`
	OptimalTaskCount   int     `db:"optimal_task_count"`
	AvgTaskComplexity  float64 `db:"avg_task_complexity"`
	DomainCategory     string  `db:"domain_category"`
	ProjectDurationDays float64 `db:"project_duration_days"`
}

// VelocityTrend is C7's linear-regression summary over completed tasks per
// sprint.
type VelocityTrend struct {
	Current       float64
	HistoricalMin float64
	HistoricalMax float64
	Direction     string // "increasing", "decreasing", "stable"
	Confidence    float64
}

// SuccessIndicators summarizes the similar-project set.
type SuccessIndicators struct {
	OptimalTasksPerSprint float64
	RecommendedDuration   float64
	SuccessProbability    float64
}

// Analysis is the full per-project C7 output, fed into C8 fusion.
type Analysis struct {
	SimilarProjects   []SimilarProject
	VelocityTrend     VelocityTrend
	SuccessIndicators SuccessIndicators
}

type cacheEntry struct {
	analysis  Analysis
	expiresAt time.Time
}

type Analyzer struct {
	db     *sqlx.DB
	logger telemetry.Logger
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(db *sqlx.DB, ttl time.Duration, logger telemetry.Logger) *Analyzer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Analyzer{db: db, ttl: ttl, logger: logger.WithComponent("chronicle"), cache: make(map[string]cacheEntry)}
}

// Open establishes the sqlx/lib-pq pool for the analytics DSN.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("chronicle.Open: %w", err)
	}
	return db, nil
}

// AnalyzeProject runs (or serves from cache) the full C7 pipeline for a
// project, described by its current feature vector.
func (a *Analyzer) AnalyzeProject(ctx context.Context, projectID string, features ProjectFeatures) (Analysis, error) {
	if cached, ok := a.cacheGet(projectID); ok {
		return cached, nil
	}

	similar, err := a.similarProjects(ctx, projectID, features)
	if err != nil {
		return Analysis{}, fmt.Errorf("chronicle.AnalyzeProject: %w: %v", coreerrors.ErrStoreUnavailable, err)
	}

	trend, err := a.velocityTrend(ctx, projectID)
	if err != nil {
		return Analysis{}, fmt.Errorf("chronicle.AnalyzeProject: %w: %v", coreerrors.ErrStoreUnavailable, err)
	}

	analysis := Analysis{
		SimilarProjects:   similar,
		VelocityTrend:     trend,
		SuccessIndicators: successIndicators(similar),
	}

	a.cachePut(projectID, analysis)
	return analysis, nil
}

// ProjectFeatures is the 4-feature vector used for similarity (spec.md
// §4.C7): team_size, avg_task_complexity, domain_category (embedded as a
// stable hash bucket), project_duration.
type ProjectFeatures struct {
	TeamSize           int
	AvgTaskComplexity  float64
	DomainCategory     string
	ProjectDurationDays float64
}

const (
	maxTeamSize        = 50.0
	maxTaskComplexity  = 10.0
	maxProjectDuration = 365.0
)

func (a *Analyzer) similarProjects(ctx context.Context, projectID string, features ProjectFeatures) ([]SimilarProject, error) {
	const q = `
		SELECT project_id, team_size, completion_rate, avg_sprint_duration, optimal_task_count,
		       avg_task_complexity, domain_category, project_duration_days
		FROM chronicle_project_stats
		WHERE project_id <> $1`

	rows, err := a.db.QueryxContext(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	target := normalizeFeatures(features)

	var out []SimilarProject
	for rows.Next() {
		var p SimilarProject
		if err := rows.StructScan(&p); err != nil {
			a.logger.Warn("skipping malformed chronicle row", map[string]interface{}{"error": err.Error()})
			continue
		}
		candidate := normalizeFeatures(ProjectFeatures{
			TeamSize:            p.TeamSize,
			AvgTaskComplexity:   p.AvgTaskComplexity,
			DomainCategory:      p.DomainCategory,
			ProjectDurationDays: p.ProjectDurationDays,
		})
		p.SimilarityScore = cosineSimilarity(target, candidate)
		out = append(out, p)
	}
	return out, rows.Err()
}

func normalizeFeatures(f ProjectFeatures) [4]float64 {
	return [4]float64{
		clamp01(float64(f.TeamSize) / maxTeamSize),
		clamp01(f.AvgTaskComplexity / maxTaskComplexity),
		domainBucket(f.DomainCategory),
		clamp01(f.ProjectDurationDays / maxProjectDuration),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// domainBucket turns a domain_category string into a stable [0,1] value so
// it can participate in the cosine similarity alongside numeric features.
func domainBucket(category string) float64 {
	if category == "" {
		return 0
	}
	var sum int
	for _, r := range category {
		sum += int(r)
	}
	return float64(sum%97) / 97.0
}

func cosineSimilarity(a, b [4]float64) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func (a *Analyzer) velocityTrend(ctx context.Context, projectID string) (VelocityTrend, error) {
	const q = `
		SELECT completed_tasks
		FROM chronicle_sprint_velocity
		WHERE project_id = $1
		ORDER BY sprint_sequence ASC`

	var series []float64
	rows, err := a.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return VelocityTrend{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			continue
		}
		series = append(series, v)
	}
	if err := rows.Err(); err != nil {
		return VelocityTrend{}, err
	}

	if len(series) == 0 {
		return VelocityTrend{}, nil
	}

	slope := linearRegressionSlope(series)
	direction := "stable"
	switch {
	case slope > 0.1:
		direction = "increasing"
	case slope < -0.1:
		direction = "decreasing"
	}

	mn, mx := series[0], series[0]
	for _, v := range series {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}

	confidence := math.Min(float64(len(series))/10.0, 1.0) * (1 - math.Abs(slope))
	if confidence < 0 {
		confidence = 0
	}

	return VelocityTrend{
		Current:       series[len(series)-1],
		HistoricalMin: mn,
		HistoricalMax: mx,
		Direction:     direction,
		Confidence:    confidence,
	}, nil
}

// linearRegressionSlope fits y = a + b*x over evenly spaced x = 0..n-1 and
// returns b, normalized by mean(y) so it is comparable across projects of
// different absolute velocity.
func linearRegressionSlope(y []float64) float64 {
	n := float64(len(y))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	meanY := sumY / n
	if meanY == 0 {
		return 0
	}
	return slope / meanY
}

func successIndicators(similar []SimilarProject) SuccessIndicators {
	if len(similar) == 0 {
		return SuccessIndicators{}
	}
	var sumTasks, sumDuration float64
	var successCount int
	for _, p := range similar {
		sumTasks += float64(p.OptimalTaskCount)
		sumDuration += p.AvgSprintDuration
		if p.CompletionRate > 0.8 {
			successCount++
		}
	}
	n := float64(len(similar))
	return SuccessIndicators{
		OptimalTasksPerSprint: sumTasks / n,
		RecommendedDuration:   sumDuration / n,
		SuccessProbability:    float64(successCount) / n,
	}
}

func (a *Analyzer) cacheGet(projectID string) (Analysis, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[projectID]
	if !ok || time.Now().After(entry.expiresAt) {
		return Analysis{}, false
	}
	return entry.analysis, true
}

func (a *Analyzer) cachePut(projectID string, analysis Analysis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[projectID] = cacheEntry{analysis: analysis, expiresAt: time.Now().Add(a.ttl)}
}
