package episodelog_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
	"github.com/agilecore/orchestrator-core/pkg/episodelog"
)

type fakeStore struct {
	mu        sync.Mutex
	stored    []domain.Episode
	embeddings map[string][]float32
	storeErr  error
}

func (f *fakeStore) Store(ctx context.Context, ep domain.Episode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return "", f.storeErr
	}
	f.stored = append(f.stored, ep)
	return "episode-id", nil
}

func (f *fakeStore) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embeddings == nil {
		f.embeddings = map[string][]float32{}
	}
	f.embeddings[id] = vector
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLogger_Run_DrainsQueuedEpisodeAndBackfillsEmbedding(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	l := episodelog.New(store, embedder, 10, telemetry.NoOp{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Log(domain.Episode{Project: "proj-1"})

	waitFor(t, func() bool { return store.count() == 1 })
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.embeddings["episode-id"]
		return ok
	})
}

func TestLogger_Run_ContinuesAfterStoreFailure(t *testing.T) {
	store := &fakeStore{storeErr: errors.New("pool unavailable")}
	l := episodelog.New(store, &fakeEmbedder{}, 10, telemetry.NoOp{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Log(domain.Episode{Project: "proj-1"})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, store.count())

	store.mu.Lock()
	store.storeErr = nil
	store.mu.Unlock()
	l.Log(domain.Episode{Project: "proj-2"})
	waitFor(t, func() bool { return store.count() == 1 })
}

func TestLogger_Run_EmbeddingFailureStillLeavesEpisodeStored(t *testing.T) {
	store := &fakeStore{}
	l := episodelog.New(store, &fakeEmbedder{err: errors.New("embedding service down")}, 10, telemetry.NoOp{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Log(domain.Episode{Project: "proj-1"})
	waitFor(t, func() bool { return store.count() == 1 })

	store.mu.Lock()
	_, embedded := store.embeddings["episode-id"]
	store.mu.Unlock()
	assert.False(t, embedded)
}

func TestLogger_Log_DropsOldestWhenQueueFull(t *testing.T) {
	store := &fakeStore{}
	l := episodelog.New(store, nil, 1, telemetry.NoOp{})

	// Fill the queue without a Run goroutine draining it.
	l.Log(domain.Episode{Project: "first"})
	l.Log(domain.Episode{Project: "second"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return store.count() == 1 })
	require.Len(t, store.stored, 1)
	assert.Equal(t, "second", store.stored[0].Project)
}

func TestLogger_NilEmbedderSkipsEmbeddingWithoutError(t *testing.T) {
	store := &fakeStore{}
	l := episodelog.New(store, nil, 10, telemetry.NoOp{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Log(domain.Episode{Project: "proj-1"})
	waitFor(t, func() bool { return store.count() == 1 })

	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.embeddings)
}

func TestSummarize_CombinesRationalePerceptionAndPatterns(t *testing.T) {
	ep := domain.Episode{
		Reasoning: domain.Reasoning{Rationale: "capacity available", PatternsIdentified: []string{"task_count"}},
		Perception: map[string]any{"team_size": 5},
	}
	// summarize is unexported; exercised indirectly through Embed call text
	// via the fake embedder capturing its argument.
	var captured string
	capture := &capturingEmbedder{capture: &captured}
	store := &fakeStore{}
	l := episodelog.New(store, capture, 10, telemetry.NoOp{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Log(ep)
	waitFor(t, func() bool { return store.count() == 1 })
	waitFor(t, func() bool { return captured != "" })

	assert.True(t, strings.Contains(captured, "capacity available"))
	assert.True(t, strings.Contains(captured, "team_size=5"))
	assert.True(t, strings.Contains(captured, "patterns=task_count"))
}

type capturingEmbedder struct {
	capture *string
}

func (c *capturingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	*c.capture = text
	return []float32{0.1}, nil
}
