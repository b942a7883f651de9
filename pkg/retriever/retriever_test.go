package retriever_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/retriever"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeStore struct {
	calls   int
	results []domain.EpisodeWithSimilarity
	err     error
}

func (f *fakeStore) Similar(ctx context.Context, query []float32, project string, limit int, minSimilarity float64) ([]domain.EpisodeWithSimilarity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func ep(quality, similarity float64, ts time.Time) domain.EpisodeWithSimilarity {
	return domain.EpisodeWithSimilarity{
		Episode:    domain.Episode{Timestamp: ts, Outcome: &domain.Outcome{Quality: quality}},
		Similarity: similarity,
	}
}

func TestRetrieve_CachesResultAcrossIdenticalQueries(t *testing.T) {
	store := &fakeStore{results: []domain.EpisodeWithSimilarity{ep(0.9, 0.8, time.Now())}}
	embedder := &fakeEmbedder{}
	r := retriever.New(store, embedder, 10, time.Minute, time.Second, telemetry.NoOp{})

	q := retriever.Query{Context: "sprint planning", Project: "proj-1", Limit: 5}
	first := r.Retrieve(context.Background(), q)
	second := r.Retrieve(context.Background(), q)

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.calls, "second call should be served from cache")
	assert.Equal(t, 1, embedder.calls)
}

func TestRetrieve_DistinctQueriesBypassCache(t *testing.T) {
	store := &fakeStore{results: []domain.EpisodeWithSimilarity{ep(0.9, 0.8, time.Now())}}
	embedder := &fakeEmbedder{}
	r := retriever.New(store, embedder, 10, time.Minute, time.Second, telemetry.NoOp{})

	r.Retrieve(context.Background(), retriever.Query{Context: "a", Project: "proj-1"})
	r.Retrieve(context.Background(), retriever.Query{Context: "b", Project: "proj-1"})

	assert.Equal(t, 2, store.calls)
}

func TestRetrieve_FiltersBelowMinQuality(t *testing.T) {
	store := &fakeStore{results: []domain.EpisodeWithSimilarity{
		ep(0.9, 0.8, time.Now()),
		ep(0.2, 0.7, time.Now()),
	}}
	r := retriever.New(store, &fakeEmbedder{}, 10, time.Minute, time.Second, telemetry.NoOp{})

	result := r.Retrieve(context.Background(), retriever.Query{Context: "x", MinQuality: 0.5})
	require.Len(t, result, 1)
	assert.Equal(t, 0.9, result[0].Quality())
}

func TestRetrieve_SortsBySimilarityDescending(t *testing.T) {
	now := time.Now()
	store := &fakeStore{results: []domain.EpisodeWithSimilarity{
		ep(0.9, 0.5, now),
		ep(0.9, 0.9, now),
		ep(0.9, 0.7, now),
	}}
	r := retriever.New(store, &fakeEmbedder{}, 10, time.Minute, time.Second, telemetry.NoOp{})

	result := r.Retrieve(context.Background(), retriever.Query{Context: "x"})
	require.Len(t, result, 3)
	assert.Equal(t, 0.9, result[0].Similarity)
	assert.Equal(t, 0.7, result[1].Similarity)
	assert.Equal(t, 0.5, result[2].Similarity)
}

func TestRetrieve_StoreErrorDegradesToEmptyResult(t *testing.T) {
	store := &fakeStore{err: errors.New("pool exhausted")}
	r := retriever.New(store, &fakeEmbedder{}, 10, time.Minute, time.Second, telemetry.NoOp{})

	result := r.Retrieve(context.Background(), retriever.Query{Context: "x"})
	assert.Empty(t, result)
}

func TestRetrieve_EmbedErrorDegradesToEmptyResult(t *testing.T) {
	r := retriever.New(&fakeStore{}, &fakeEmbedder{err: errors.New("embedding service down")}, 10, time.Minute, time.Second, telemetry.NoOp{})

	result := r.Retrieve(context.Background(), retriever.Query{Context: "x"})
	assert.Empty(t, result)
}

func TestRetrieve_CacheEvictsLeastRecentlyUsedBeyondSize(t *testing.T) {
	store := &fakeStore{results: []domain.EpisodeWithSimilarity{ep(0.9, 0.8, time.Now())}}
	r := retriever.New(store, &fakeEmbedder{}, 2, time.Minute, time.Second, telemetry.NoOp{})

	q1 := retriever.Query{Context: "q1"}
	q2 := retriever.Query{Context: "q2"}
	q3 := retriever.Query{Context: "q3"}

	r.Retrieve(context.Background(), q1)
	r.Retrieve(context.Background(), q2)
	r.Retrieve(context.Background(), q3) // evicts q1

	before := store.calls
	r.Retrieve(context.Background(), q1)
	assert.Equal(t, before+1, store.calls, "q1 should have been evicted and re-fetched")
}
