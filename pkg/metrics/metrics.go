// Package metrics is RelayCore's statistics sink (§1's "counters only; no
// algorithms"): a get-or-create registry of named counters and gauges,
// adapted from the teacher's pkg/observability.MetricsRegistry with its
// Histogram trimmed (no SPEC_FULL.md component needs bucketed
// distributions).
package metrics

import (
	"sync"
	"sync/atomic"
)

// Registry collects named counters and gauges.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	value atomic.Int64
}

func (c *Counter) Name() string  { return c.name }
func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(n int64)   { c.value.Add(n) }
func (c *Counter) Value() int64  { return c.value.Load() }

// Gauge is a metric that can move in either direction.
type Gauge struct {
	name  string
	value atomic.Int64
}

func (g *Gauge) Name() string    { return g.name }
func (g *Gauge) Set(v int64)     { g.value.Store(v) }
func (g *Gauge) Add(delta int64) { g.value.Add(delta) }
func (g *Gauge) Value() int64    { return g.value.Load() }

// GetCounter returns (or creates) a counter metric.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &Counter{name: name}
	r.counters[name] = c
	return c
}

// GetGauge returns (or creates) a gauge metric.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; ok {
		return g
	}
	g = &Gauge{name: name}
	r.gauges[name] = g
	return g
}

// Snapshot returns the current value of every registered metric, keyed by
// name, for diagnostics/health endpoints.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters)+len(r.gauges))
	for name, c := range r.counters {
		out[name] = c.Value()
	}
	for name, g := range r.gauges {
		out[name] = g.Value()
	}
	return out
}
