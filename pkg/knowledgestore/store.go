// Package knowledgestore implements C4: strategies, performance-log rows,
// and their applicability queries. Shares the pgxpool with pkg/episodestore
// (spec.md §5), following the same row-store shape.
package knowledgestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

type Store struct {
	pool   *pgxpool.Pool
	logger telemetry.Logger
}

func New(pool *pgxpool.Pool, logger telemetry.Logger) *Store {
	return &Store{pool: pool, logger: logger.WithComponent("knowledgestore")}
}

// CreateStrategy inserts a new strategy row with zeroed performance counters.
func (s *Store) CreateStrategy(ctx context.Context, strategyType string, content map[string]any, description string, confidence float64, supportingEpisodes []string) (string, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("knowledgestore.CreateStrategy: marshal content: %w", coreerrors.ErrMalformedRecord)
	}
	id := uuid.NewString()
	const q = `
		INSERT INTO strategies (id, type, content, description, confidence, times_applied, success_count, failure_count, supporting_episodes, contradicting_episodes, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, '{}', now(), true)`
	if _, err := s.pool.Exec(ctx, q, id, strategyType, payload, description, confidence, supportingEpisodes); err != nil {
		return "", s.wrap("CreateStrategy", err)
	}
	return id, nil
}

// GetActive returns active strategies, optionally filtered by type, ordered
// by confidence desc then success_rate desc (nulls last, i.e. untried
// strategies sort after tried ones with the same confidence).
func (s *Store) GetActive(ctx context.Context, strategyType string, limit, offset int) ([]domain.Strategy, error) {
	const q = `
		SELECT id, type, content, description, confidence, times_applied, success_count, failure_count,
		       supporting_episodes, contradicting_episodes, created_at, last_applied, is_active
		FROM strategies
		WHERE is_active = true AND ($1 = '' OR type = $1)
		ORDER BY confidence DESC,
		         CASE WHEN times_applied > 0 THEN success_count::float / times_applied ELSE -1 END DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, q, strategyType, limit, offset)
	if err != nil {
		return nil, s.wrap("GetActive", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var st domain.Strategy
		var content []byte
		if err := rows.Scan(&st.ID, &st.Type, &content, &st.Description, &st.Confidence, &st.TimesApplied,
			&st.SuccessCount, &st.FailureCount, &st.SupportingEpisodes, &st.ContradictingEpisodes,
			&st.CreatedAt, &st.LastApplied, &st.IsActive); err != nil {
			return nil, fmt.Errorf("%w: %v", coreerrors.ErrMalformedRecord, err)
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &st.Content); err != nil {
				s.logger.Warn("skipping strategy with malformed content", map[string]interface{}{"id": st.ID})
				continue
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdatePerformance atomically increments the relevant counter, recomputes
// nothing server-side (success_rate is derived, not stored — see
// domain.Strategy.SuccessRate), appends the episode to supporting or
// contradicting sets without duplicates, and bumps last_applied.
func (s *Store) UpdatePerformance(ctx context.Context, id string, success bool, supportingEpisode, contradictingEpisode string) error {
	counterCol := "failure_count"
	if success {
		counterCol = "success_count"
	}
	q := fmt.Sprintf(`
		UPDATE strategies
		SET %s = %s + 1,
		    times_applied = times_applied + 1,
		    supporting_episodes = CASE WHEN $2 <> '' AND NOT ($2 = ANY(supporting_episodes)) THEN array_append(supporting_episodes, $2) ELSE supporting_episodes END,
		    contradicting_episodes = CASE WHEN $3 <> '' AND NOT ($3 = ANY(contradicting_episodes)) THEN array_append(contradicting_episodes, $3) ELSE contradicting_episodes END,
		    last_applied = now()
		WHERE id = $1`, counterCol, counterCol)

	if _, err := s.pool.Exec(ctx, q, id, supportingEpisode, contradictingEpisode); err != nil {
		return s.wrap("UpdatePerformance", err)
	}
	return nil
}

// UpdateConfidence overwrites a strategy's confidence score, used by C16's
// optimize phase to nudge confidence up or down based on recent
// performance without touching the applied/success/failure counters.
func (s *Store) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	const q = `UPDATE strategies SET confidence = $2, last_validated = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, confidence); err != nil {
		return s.wrap("UpdateConfidence", err)
	}
	return nil
}

// Deactivate sets is_active = false and records the validation timestamp;
// reason is logged, not persisted (no reason column in this schema).
func (s *Store) Deactivate(ctx context.Context, id, reason string) error {
	const q = `UPDATE strategies SET is_active = false, last_validated = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return s.wrap("Deactivate", err)
	}
	s.logger.Info("strategy deactivated", map[string]interface{}{"id": id, "reason": reason})
	return nil
}

// FindApplicable filters active strategies by minimum confidence, then
// evaluates the caller-supplied applicability predicate (spec.md §4.C16);
// a nil predicate accepts every strategy.
func (s *Store) FindApplicable(ctx context.Context, minConfidence float64, limit int, applicable func(domain.Strategy) bool) ([]domain.Strategy, error) {
	const q = `
		SELECT id, type, content, description, confidence, times_applied, success_count, failure_count,
		       supporting_episodes, contradicting_episodes, created_at, last_applied, is_active
		FROM strategies
		WHERE is_active = true AND confidence >= $1
		ORDER BY confidence DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, minConfidence, limit*4) // over-fetch; predicate narrows further
	if err != nil {
		return nil, s.wrap("FindApplicable", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var st domain.Strategy
		var content []byte
		if err := rows.Scan(&st.ID, &st.Type, &content, &st.Description, &st.Confidence, &st.TimesApplied,
			&st.SuccessCount, &st.FailureCount, &st.SupportingEpisodes, &st.ContradictingEpisodes,
			&st.CreatedAt, &st.LastApplied, &st.IsActive); err != nil {
			return nil, fmt.Errorf("%w: %v", coreerrors.ErrMalformedRecord, err)
		}
		if len(content) > 0 {
			_ = json.Unmarshal(content, &st.Content)
		}
		if applicable == nil || applicable(st) {
			out = append(out, st)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, rows.Err()
}

// LogPerformance appends one row to the performance log.
func (s *Store) LogPerformance(ctx context.Context, entry domain.PerformanceLogEntry) error {
	const q = `
		INSERT INTO strategy_performance_log (strategy_id, episode_id, predicted_outcome, actual_outcome, context_similarity, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, q, entry.StrategyID, entry.EpisodeID, entry.PredictedOutcome, entry.ActualOutcome, entry.ContextSimilarity, recordedAt); err != nil {
		return s.wrap("LogPerformance", err)
	}
	return nil
}

// RecentPerformance returns performance-log rows for strategyID recorded
// since cutoff, used by C16's optimize phase.
func (s *Store) RecentPerformance(ctx context.Context, strategyID string, since time.Time) ([]domain.PerformanceLogEntry, error) {
	const q = `
		SELECT strategy_id, episode_id, predicted_outcome, actual_outcome, context_similarity, recorded_at
		FROM strategy_performance_log
		WHERE strategy_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`

	rows, err := s.pool.Query(ctx, q, strategyID, since)
	if err != nil {
		return nil, s.wrap("RecentPerformance", err)
	}
	defer rows.Close()

	var out []domain.PerformanceLogEntry
	for rows.Next() {
		var e domain.PerformanceLogEntry
		if err := rows.Scan(&e.StrategyID, &e.EpisodeID, &e.PredictedOutcome, &e.ActualOutcome, &e.ContextSimilarity, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", coreerrors.ErrMalformedRecord, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PrunePerformanceLog deletes rows older than cutoff (C16's cleanup phase).
func (s *Store) PrunePerformanceLog(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM strategy_performance_log WHERE recorded_at < $1`
	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, s.wrap("PrunePerformanceLog", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) wrap(op string, err error) error {
	s.logger.Warn("knowledge store call failed", map[string]interface{}{"op": op, "error": err.Error()})
	return fmt.Errorf("knowledgestore.%s: %w: %v", op, coreerrors.ErrStoreUnavailable, err)
}
