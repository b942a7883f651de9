// Package resilience adapts the teacher's production circuit breaker
// (resilience/circuit_breaker.go) to the vocabulary spec.md §4.C1 uses:
// error_ratio, monitor_window, broken_time, and a single admitted probe in
// half-open. The state machine and sliding-window error accounting are the
// same shape; only the config field names and defaults changed.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// State is one of Closed, Open, HalfOpen (spec.md §4.C1).
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config configures a single named breaker.
type Config struct {
	Name string

	// ErrorRatio is the fraction of failing calls within MonitorWindow that
	// opens the circuit. Default 0.5 (spec.md §4.C1).
	ErrorRatio float64
	// MonitorWindow is the sliding window the error ratio is computed over.
	MonitorWindow time.Duration
	// MinVolume is the minimum number of calls in the window before the
	// ratio is evaluated at all (avoids opening on a single failed call).
	MinVolume int
	// BrokenTime is how long the breaker stays Open before admitting one
	// HalfOpen probe. Default matches spec.md's `broken_time`.
	BrokenTime time.Duration
	// RequestTimeout is the default per-call timeout (spec.md: default 10s).
	RequestTimeout time.Duration

	Logger  telemetry.Logger
	Metrics *telemetry.Metrics
}

func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		ErrorRatio:     0.5,
		MonitorWindow:  60 * time.Second,
		MinVolume:      5,
		BrokenTime:     30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Breaker is a three-state circuit breaker guarding one downstream
// dependency. Safe for concurrent use.
type Breaker struct {
	cfg    Config
	window *slidingWindow

	mu           sync.Mutex
	state        State
	openedAt     time.Time
	probeInFlight bool

	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

func New(cfg Config) *Breaker {
	if cfg.MonitorWindow == 0 {
		cfg.MonitorWindow = 60 * time.Second
	}
	if cfg.BrokenTime == 0 {
		cfg.BrokenTime = 30 * time.Second
	}
	if cfg.ErrorRatio == 0 {
		cfg.ErrorRatio = 0.5
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NoOp{}
	}
	return &Breaker{
		cfg:     cfg,
		window:  newSlidingWindow(cfg.MonitorWindow, 10),
		state:   Closed,
		logger:  logger.WithComponent("resilience/" + cfg.Name),
		metrics: cfg.Metrics,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed, and whether it is the single
// admitted half-open probe.
func (b *Breaker) allow() (proceed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false
	case Open:
		if time.Since(b.openedAt) >= b.cfg.BrokenTime {
			b.transition(HalfOpen)
			b.probeInFlight = true
			return true, true
		}
		return false, false
	case HalfOpen:
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true
	}
	return false, false
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == Open {
		b.openedAt = time.Now()
	}
	if from != to {
		b.logger.Info("circuit breaker state change", map[string]interface{}{
			"name": b.cfg.Name, "from": from.String(), "to": to.String(),
		})
		if b.metrics != nil {
			b.metrics.Counter(context.Background(), "orchestrator.breaker.state_change", 1,
				"name", b.cfg.Name, "to", to.String())
		}
	}
}

func (b *Breaker) recordResult(isProbe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isProbe {
		b.probeInFlight = false
		if err == nil {
			b.window.Reset()
			b.transition(Closed)
		} else {
			b.window.Reset()
			b.transition(Open)
		}
		return
	}

	if err == nil {
		b.window.RecordSuccess()
	} else {
		b.window.RecordFailure()
	}

	if b.state == Closed {
		succ, fail := b.window.Counts()
		total := succ + fail
		if int(total) >= b.cfg.MinVolume && b.window.ErrorRatio() > b.cfg.ErrorRatio {
			b.transition(Open)
		}
	}
}

// Execute runs fn under breaker protection and the configured request
// timeout. Retries are the caller's responsibility (see Retry); the breaker
// only ever sees the final outcome, per spec.md §4.C1.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	proceed, isProbe := b.allow()
	if !proceed {
		if b.metrics != nil {
			b.metrics.Counter(ctx, "orchestrator.breaker.rejected", 1, "name", b.cfg.Name)
		}
		return fmt.Errorf("breaker %q open: %w", b.cfg.Name, coreerrors.ErrCircuitBroken)
	}

	timeout := b.cfg.RequestTimeout
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.recordResult(isProbe, err)
	return err
}

// Metrics reports point-in-time breaker state for health/debug endpoints.
func (b *Breaker) Metrics() map[string]interface{} {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	succ, fail := b.window.Counts()
	return map[string]interface{}{
		"name":        b.cfg.Name,
		"state":       state.String(),
		"success":     succ,
		"failure":     fail,
		"error_ratio": b.window.ErrorRatio(),
	}
}
