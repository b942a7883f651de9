// Package episodestore implements C3: the durable episode row store plus
// its vector index. Grounded on the pack's pgx/v5 usage pattern (embedding
// columns alongside structured rows, dimension-checked writes) generalized
// from a single shared pool instead of per-call connections, and on the
// teacher's telemetry.Logger/metrics wiring for every store operation.
package episodestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// Store is the pgxpool-backed implementation of C3. It shares its pool with
// pkg/knowledgestore (spec.md §5: "Episode+Knowledge+Working in one" pool).
type Store struct {
	pool   *pgxpool.Pool
	logger telemetry.Logger
}

func New(pool *pgxpool.Pool, logger telemetry.Logger) *Store {
	return &Store{pool: pool, logger: logger.WithComponent("episodestore")}
}

// PoolStats exposes connection-pool metrics for monitoring (spec.md §4.C3).
type PoolStats struct {
	Size         int32
	CheckedIn    int32
	CheckedOut   int32
	MaxConns     int32
	OverflowHint int32
}

func (s *Store) PoolStats() PoolStats {
	st := s.pool.Stat()
	checkedOut := st.AcquiredConns()
	overflow := int32(0)
	if checkedOut > st.MaxConns() {
		overflow = checkedOut - st.MaxConns()
	}
	return PoolStats{
		Size:         st.TotalConns(),
		CheckedIn:    st.IdleConns(),
		CheckedOut:   checkedOut,
		MaxConns:     st.MaxConns(),
		OverflowHint: overflow,
	}
}

// Store writes the episode row, leaving its embedding column empty until
// update_embedding is called by the episode logger's background worker.
func (s *Store) Store(ctx context.Context, ep domain.Episode) (string, error) {
	perception, err := json.Marshal(ep.Perception)
	if err != nil {
		return "", fmt.Errorf("episodestore.Store: marshal perception: %w", coreerrors.ErrMalformedRecord)
	}
	reasoning, err := json.Marshal(ep.Reasoning)
	if err != nil {
		return "", fmt.Errorf("episodestore.Store: marshal reasoning: %w", coreerrors.ErrMalformedRecord)
	}
	action, err := json.Marshal(ep.Action)
	if err != nil {
		return "", fmt.Errorf("episodestore.Store: marshal action: %w", coreerrors.ErrMalformedRecord)
	}

	const q = `
		INSERT INTO episodes (id, project, timestamp, perception, reasoning, action, agent_version, decision_mode, sprint, chronicle_note)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id string
	row := s.pool.QueryRow(ctx, q, ep.Project, ep.Timestamp, perception, reasoning, action, ep.AgentVersion, ep.DecisionMode, ep.Sprint, ep.ChronicleNote)
	if err := row.Scan(&id); err != nil {
		return "", s.classify("Store", err)
	}
	return id, nil
}

// UpdateEmbedding writes the fingerprint vector for a previously stored
// episode. Idempotent: re-running with the same vector is a no-op write.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	const q = `UPDATE episodes SET embedding = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, vectorLiteral(vector))
	if err != nil {
		return s.classify("UpdateEmbedding", err)
	}
	return nil
}

// UpdateOutcome sets the outcome and outcome_recorded_at without touching
// any other field.
func (s *Store) UpdateOutcome(ctx context.Context, id string, outcome domain.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("episodestore.UpdateOutcome: marshal outcome: %w", coreerrors.ErrMalformedRecord)
	}
	const q = `UPDATE episodes SET outcome = $2, outcome_recorded_at = now() WHERE id = $1`
	_, err = s.pool.Exec(ctx, q, id, payload)
	if err != nil {
		return s.classify("UpdateOutcome", err)
	}
	return nil
}

// GetByProject returns episodes for project ordered by timestamp desc,
// paginated and optionally bounded to a date range.
func (s *Store) GetByProject(ctx context.Context, project string, limit, offset int, from, to *time.Time) ([]domain.Episode, error) {
	q := `
		SELECT id, project, timestamp, perception, reasoning, action, outcome, agent_version, decision_mode, sprint, chronicle_note
		FROM episodes
		WHERE project = $1
		  AND ($4::timestamptz IS NULL OR timestamp >= $4)
		  AND ($5::timestamptz IS NULL OR timestamp <= $5)
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, q, project, limit, offset, from, to)
	if err != nil {
		return nil, s.classify("GetByProject", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// GetRecent returns episodes for project within the last `hours`.
func (s *Store) GetRecent(ctx context.Context, project string, hours int, limit int) ([]domain.Episode, error) {
	const q = `
		SELECT id, project, timestamp, perception, reasoning, action, outcome, agent_version, decision_mode, sprint, chronicle_note
		FROM episodes
		WHERE project = $1 AND timestamp >= now() - ($2 || ' hours')::interval
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, project, hours, limit)
	if err != nil {
		return nil, s.classify("GetRecent", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// RecentAll returns episodes for every project within the last `days`,
// used by C16's extraction phase (patterns are learned across projects,
// not scoped to one).
func (s *Store) RecentAll(ctx context.Context, days int, limit int) ([]domain.Episode, error) {
	const q = `
		SELECT id, project, timestamp, perception, reasoning, action, outcome, agent_version, decision_mode, sprint, chronicle_note
		FROM episodes
		WHERE timestamp >= now() - ($1 || ' days')::interval
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, days, limit)
	if err != nil {
		return nil, s.classify("RecentAll", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Similar performs approximate-nearest-neighbor search by cosine distance,
// skipping rows with no embedding and filtering by min_similarity
// (spec.md §4.C3: orders by cosine ascending distance, i.e. descending
// similarity).
func (s *Store) Similar(ctx context.Context, query []float32, project string, limit int, minSimilarity float64) ([]domain.EpisodeWithSimilarity, error) {
	q := `
		SELECT id, project, timestamp, perception, reasoning, action, outcome, agent_version, decision_mode, sprint, chronicle_note,
		       1 - (embedding <=> $1) AS similarity
		FROM episodes
		WHERE embedding IS NOT NULL
		  AND ($3 = '' OR project = $3)
		  AND 1 - (embedding <=> $1) >= $4
		ORDER BY embedding <=> $1 ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, vectorLiteral(query), limit, project, minSimilarity)
	if err != nil {
		return nil, s.classify("Similar", err)
	}
	defer rows.Close()

	var out []domain.EpisodeWithSimilarity
	for rows.Next() {
		var ews domain.EpisodeWithSimilarity
		var perception, reasoning, action, outcome []byte
		if err := rows.Scan(&ews.ID, &ews.Project, &ews.Timestamp, &perception, &reasoning, &action, &outcome,
			&ews.AgentVersion, &ews.DecisionMode, &ews.Sprint, &ews.ChronicleNote, &ews.Similarity); err != nil {
			return nil, s.classify("Similar", err)
		}
		if err := decodeEpisodeFields(&ews.Episode, perception, reasoning, action, outcome); err != nil {
			s.logger.Warn("skipping malformed episode row", map[string]interface{}{"id": ews.ID, "error": err.Error()})
			continue
		}
		out = append(out, ews)
	}
	return out, rows.Err()
}

// Count returns the number of stored episodes, optionally scoped to project.
func (s *Store) Count(ctx context.Context, project string) (int64, error) {
	const q = `SELECT count(*) FROM episodes WHERE $1 = '' OR project = $1`
	var n int64
	if err := s.pool.QueryRow(ctx, q, project).Scan(&n); err != nil {
		return 0, s.classify("Count", err)
	}
	return n, nil
}

func scanEpisodes(rows pgx.Rows) ([]domain.Episode, error) {
	var out []domain.Episode
	for rows.Next() {
		var ep domain.Episode
		var perception, reasoning, action, outcome []byte
		if err := rows.Scan(&ep.ID, &ep.Project, &ep.Timestamp, &perception, &reasoning, &action, &outcome,
			&ep.AgentVersion, &ep.DecisionMode, &ep.Sprint, &ep.ChronicleNote); err != nil {
			return nil, fmt.Errorf("%w: %v", coreerrors.ErrMalformedRecord, err)
		}
		if err := decodeEpisodeFields(&ep, perception, reasoning, action, outcome); err != nil {
			continue // data-quality error: skip the row, keep processing (spec.md §7)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func decodeEpisodeFields(ep *domain.Episode, perception, reasoning, action, outcome []byte) error {
	if len(perception) > 0 {
		if err := json.Unmarshal(perception, &ep.Perception); err != nil {
			return err
		}
	}
	if len(reasoning) > 0 {
		if err := json.Unmarshal(reasoning, &ep.Reasoning); err != nil {
			return err
		}
	}
	if len(action) > 0 {
		if err := json.Unmarshal(action, &ep.Action); err != nil {
			return err
		}
	}
	if len(outcome) > 0 {
		ep.Outcome = &domain.Outcome{}
		if err := json.Unmarshal(outcome, ep.Outcome); err != nil {
			return err
		}
	}
	return nil
}

// vectorLiteral renders a float32 slice as a pgvector text literal.
func vectorLiteral(v []float32) string {
	if v == nil {
		return ""
	}
	s := "["
	for i, f := range v {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", f)
	}
	return s + "]"
}

func (s *Store) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("episodestore.%s: %w: %v", op, coreerrors.ErrConflict, err)
	}
	s.logger.Warn("episode store call failed", map[string]interface{}{"op": op, "error": err.Error()})
	return fmt.Errorf("episodestore.%s: %w: %v", op, coreerrors.ErrStoreUnavailable, err)
}
