// Package health implements the readiness aggregation spec.md §9 calls
// for: any non-ok dependency status is treated as not_ready at the
// aggregate level, mirroring how the teacher's framework exposes component
// health but generalized to a fixed dependency set.
package health

import "context"

// Status is one dependency's reported health.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// Dependency is one health-checkable collaborator (a store, a breaker, an
// embedding client).
type Dependency interface {
	Name() string
	Check(ctx context.Context) Status
}

// Report is the aggregate readiness response.
type Report struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies"`
}

// Aggregator checks every registered dependency and aggregates status.
type Aggregator struct {
	deps []Dependency
}

func NewAggregator(deps ...Dependency) *Aggregator {
	return &Aggregator{deps: deps}
}

// Check runs every dependency check. Any dependency reporting anything
// other than StatusOK flips the aggregate to not-ready (spec.md §9).
func (a *Aggregator) Check(ctx context.Context) Report {
	report := Report{Ready: true, Dependencies: make(map[string]string, len(a.deps))}
	for _, d := range a.deps {
		status := d.Check(ctx)
		report.Dependencies[d.Name()] = string(status)
		if status != StatusOK {
			report.Ready = false
		}
	}
	return report
}

// BreakerDependency adapts anything exposing a breaker state string into a
// Dependency, used for the service clients and embedding client.
type BreakerDependency struct {
	DepName    string
	StateFn    func() string
}

func (b BreakerDependency) Name() string { return b.DepName }

func (b BreakerDependency) Check(ctx context.Context) Status {
	switch b.StateFn() {
	case "open":
		return StatusError
	case "half_open":
		return StatusDegraded
	default:
		return StatusOK
	}
}

// PingDependency adapts a simple ctx-aware ping function into a Dependency,
// used for the database pools and Redis client.
type PingDependency struct {
	DepName string
	PingFn  func(ctx context.Context) error
}

func (p PingDependency) Name() string { return p.DepName }

func (p PingDependency) Check(ctx context.Context) Status {
	if err := p.PingFn(ctx); err != nil {
		return StatusError
	}
	return StatusOK
}
