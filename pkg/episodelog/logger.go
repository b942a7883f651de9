// Package episodelog implements C14: turns a finished decision into an
// episode, persists it, and backfills its embedding out of band so the
// caller's response latency never waits on Bedrock. Grounded on the
// teacher's core.MemoryStore async-write pattern, generalized to a bounded
// channel with a drop-oldest overflow policy (spec.md §9).
package episodelog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
	"github.com/agilecore/orchestrator-core/pkg/domain"
)

// Store is the subset of episodestore.Store this package needs.
type Store interface {
	Store(ctx context.Context, ep domain.Episode) (string, error)
	UpdateEmbedding(ctx context.Context, id string, vector []float32) error
}

// Embedder is the subset of embedding.Client this package needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Logger enqueues episodes for async persistence. Log never blocks beyond
// a channel send; a full queue drops the oldest pending entry rather than
// the caller stalling (spec.md §9 "logging must not add caller-visible
// latency").
type Logger struct {
	store    Store
	embedder Embedder
	logger   telemetry.Logger
	timeout  time.Duration

	mu    sync.Mutex
	queue []domain.Episode
	cap   int
	notify chan struct{}
}

func New(store Store, embedder Embedder, capacity int, logger telemetry.Logger) *Logger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Logger{
		store: store, embedder: embedder, logger: logger.WithComponent("episodelog"),
		cap: capacity, notify: make(chan struct{}, 1), timeout: 5 * time.Second,
	}
}

// Log enqueues ep for background persistence. Returns immediately.
func (l *Logger) Log(ep domain.Episode) {
	l.mu.Lock()
	if len(l.queue) >= l.cap {
		dropped := l.queue[0]
		l.queue = l.queue[1:]
		l.logger.Warn("episode queue full, dropping oldest", map[string]interface{}{"project": dropped.Project})
	}
	l.queue = append(l.queue, ep)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is canceled. Call once from the process
// bootstrap goroutine.
func (l *Logger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
			l.drain(ctx)
		case <-time.After(time.Second):
			l.drain(ctx)
		}
	}
}

func (l *Logger) drain(ctx context.Context) {
	for {
		ep, ok := l.pop()
		if !ok {
			return
		}
		l.process(ctx, ep)
	}
}

func (l *Logger) pop() (domain.Episode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return domain.Episode{}, false
	}
	ep := l.queue[0]
	l.queue = l.queue[1:]
	return ep, true
}

func (l *Logger) process(parent context.Context, ep domain.Episode) {
	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()

	id, err := l.store.Store(ctx, ep)
	if err != nil {
		l.logger.Warn("episode persist failed", map[string]interface{}{"project": ep.Project, "error": err.Error()})
		return
	}

	if l.embedder == nil {
		return
	}

	vector, err := l.embedder.Embed(ctx, summarize(ep))
	if err != nil {
		l.logger.Warn("episode embedding failed, episode remains usable by recency queries", map[string]interface{}{"episode_id": id, "error": err.Error()})
		return
	}

	if err := l.store.UpdateEmbedding(ctx, id, vector); err != nil {
		l.logger.Warn("episode embedding write failed", map[string]interface{}{"episode_id": id, "error": err.Error()})
	}
}

// summarize renders the text Bedrock embeds, combining the parts of an
// episode spec.md §4.C2 says the fingerprint should reflect: narrative
// plus the key perception fields.
func summarize(ep domain.Episode) string {
	var b strings.Builder
	b.WriteString(ep.Reasoning.Rationale)
	for k, v := range ep.Perception {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	if len(ep.Reasoning.PatternsIdentified) > 0 {
		b.WriteString(" patterns=")
		b.WriteString(strings.Join(ep.Reasoning.PatternsIdentified, ","))
	}
	return b.String()
}
