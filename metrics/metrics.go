package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
)

const namespace = "wasm_embed"

// Collector records resource table and invocation metrics for one or more
// runtimes. It is a resource.Observer and a store hook.
type Collector struct {
	tables      map[*resource.Table]resource.Subscription
	liveHandles prometheus.GaugeFunc
	created     prometheus.Counter
	dropped     prometheus.Counter
	transferred prometheus.Counter

	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu sync.Mutex
}

// New creates a collector and registers it with r when r is non-nil.
func New(r prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		tables: make(map[*resource.Table]resource.Subscription),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_created_total",
			Help:      "number of resource handles created",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_dropped_total",
			Help:      "number of resource handles dropped",
		}),
		transferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_transferred_total",
			Help:      "number of resource handles moved to another owner",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "number of guest invocations by outcome",
		}, []string{"function", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "time spent in guest invocations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"function"}),
	}
	c.liveHandles = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resource_handles_live",
		Help:      "number of live resource handles in watched tables",
	}, c.live)

	if r == nil {
		return c, nil
	}
	return c, r.Register(c)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.liveHandles.Describe(ch)
	c.created.Describe(ch)
	c.dropped.Describe(ch)
	c.transferred.Describe(ch)
	c.calls.Describe(ch)
	c.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.liveHandles.Collect(ch)
	c.created.Collect(ch)
	c.dropped.Collect(ch)
	c.transferred.Collect(ch)
	c.calls.Collect(ch)
	c.duration.Collect(ch)
}

// Watch subscribes c to t and counts t's handles in the live gauge.
// Watching a table twice has no effect.
func (c *Collector) Watch(t *resource.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[t]; ok {
		return
	}
	c.tables[t] = t.Subscribe(c)
}

// Unwatch reverses Watch.
func (c *Collector) Unwatch(t *resource.Table) {
	c.mu.Lock()
	id, ok := c.tables[t]
	delete(c.tables, t)
	c.mu.Unlock()

	if ok {
		t.Unsubscribe(id)
	}
}

func (c *Collector) live() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for t := range c.tables {
		n += t.Len()
	}
	return float64(n)
}

// OnResourceEvent implements resource.Observer.
func (c *Collector) OnResourceEvent(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		c.created.Inc()
	case resource.EventDropped:
		c.dropped.Inc()
	case resource.EventTransferred:
		c.transferred.Inc()
	}
}

// OnCall implements store.Hooks.
func (c *Collector) OnCall(function string, d time.Duration, err error) {
	c.calls.WithLabelValues(function, Outcome(err)).Inc()
	c.duration.WithLabelValues(function).Observe(d.Seconds())
}

// Outcome labels a finished call: "ok", the error kind, or "error".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := errors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
