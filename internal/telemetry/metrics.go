package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics wraps the OTel meter the same way the teacher's
// resilience.OTelMetricsCollector does: a handful of named instruments,
// lazily created, attribute pairs passed as plain string varargs so callers
// never touch the OTel API directly.
type Metrics struct {
	meter       metric.Meter
	counters    map[string]metric.Float64Counter
	gauges      map[string]metric.Float64ObservableGauge
	histograms  map[string]metric.Float64Histogram
}

func NewMetrics(meterName string) *Metrics {
	return &Metrics{
		meter:      otel.Meter(meterName),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *Metrics) Counter(ctx context.Context, name string, value float64, labels ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(ctx, value, metric.WithAttributes(attrsFromPairs(labels)...))
}

func (m *Metrics) Histogram(ctx context.Context, name string, value float64, labels ...string) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(ctx, value, metric.WithAttributes(attrsFromPairs(labels)...))
}

func attrsFromPairs(pairs []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		attrs = append(attrs, attribute.String(pairs[i], pairs[i+1]))
	}
	return attrs
}
