// Package retriever implements C5: an episode retriever wrapping
// pkg/episodestore with caching, timeout isolation, and a quality filter.
// The cache follows the teacher's core.MemoryStore shape (mutex-guarded
// map with per-entry expiry), generalized to an LRU with a bounded entry
// count via container/list instead of the teacher's unbounded map.
package retriever

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// EpisodeSource is the subset of pkg/episodestore.Store the retriever needs,
// narrowed so tests can substitute a fake without a real pool.
type EpisodeSource interface {
	Similar(ctx context.Context, query []float32, project string, limit int, minSimilarity float64) ([]domain.EpisodeWithSimilarity, error)
}

// Embedder is the subset of pkg/embedding.Client the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type cacheEntry struct {
	key       string
	value     []domain.EpisodeWithSimilarity
	expiresAt time.Time
}

// Retriever wraps EpisodeSource with the three C5 policies.
type Retriever struct {
	store    EpisodeSource
	embedder Embedder
	logger   telemetry.Logger

	cacheSize int
	cacheTTL  time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

func New(store EpisodeSource, embedder Embedder, cacheSize int, cacheTTL, timeout time.Duration, logger telemetry.Logger) *Retriever {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	if cacheTTL <= 0 {
		cacheTTL = 300 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Retriever{
		store:     store,
		embedder:  embedder,
		logger:    logger.WithComponent("retriever"),
		cacheSize: cacheSize,
		cacheTTL:  cacheTTL,
		timeout:   timeout,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
	}
}

// Query is the parameter set defining one cache key (spec.md §4.C5).
type Query struct {
	Context      string
	Project      string
	Limit        int
	MinQuality   float64
	MinSimilarity float64
}

// Retrieve returns similar episodes for q, applying cache, timeout
// isolation, and the quality filter. A timeout yields an empty slice, not
// an error (spec.md §4.C5/§7: degradation, not failure).
func (r *Retriever) Retrieve(ctx context.Context, q Query) []domain.EpisodeWithSimilarity {
	key := cacheKey(q)
	if hit, ok := r.cacheGet(key); ok {
		return hit
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.retrieveUncached(ctx, q)
	if err != nil {
		r.logger.Warn("episode retrieval degraded", map[string]interface{}{"project": q.Project, "error": err.Error()})
		return []domain.EpisodeWithSimilarity{}
	}

	r.cachePut(key, result)
	return result
}

func (r *Retriever) retrieveUncached(ctx context.Context, q Query) ([]domain.EpisodeWithSimilarity, error) {
	vec, err := r.embedder.Embed(ctx, q.Context)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	minSim := q.MinSimilarity

	results, err := r.store.Similar(ctx, vec, q.Project, limit, minSim)
	if err != nil {
		return nil, err
	}

	filtered := filterByQuality(results, q.MinQuality)
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	return filtered, nil
}

// filterByQuality drops episodes below minQuality. Episode.Quality()
// already implements the data-completeness fallback for episodes missing
// a recorded outcome.
func filterByQuality(episodes []domain.EpisodeWithSimilarity, minQuality float64) []domain.EpisodeWithSimilarity {
	if minQuality <= 0 {
		return episodes
	}
	out := episodes[:0]
	for _, e := range episodes {
		if e.Quality() >= minQuality {
			out = append(out, e)
		}
	}
	return out
}

func cacheKey(q Query) string {
	data, _ := json.Marshal(q)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *Retriever) cacheGet(key string) ([]domain.EpisodeWithSimilarity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		r.order.Remove(el)
		delete(r.entries, key)
		return nil, false
	}
	r.order.MoveToFront(el)
	return entry.value, true
}

func (r *Retriever) cachePut(key string, value []domain.EpisodeWithSimilarity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).expiresAt = time.Now().Add(r.cacheTTL)
		r.order.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, value: value, expiresAt: time.Now().Add(r.cacheTTL)}
	el := r.order.PushFront(entry)
	r.entries[key] = el

	for r.order.Len() > r.cacheSize {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.entries, oldest.Value.(*cacheEntry).key)
	}
}
