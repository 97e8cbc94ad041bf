// Package dfanprom records [dfan.Broadcaster] lifecycle events
// as Prometheus metrics.
//
// Combine the returned hooks with application hooks through [dfan.MultiHooks].
package dfanprom

import (
	"fmt"

	"github.com/gordian-engine/dfan"
	"github.com/prometheus/client_golang/prometheus"
)

// Opts names the metrics registered by [NewHooks].
type Opts struct {
	Namespace string
	Subsystem string

	// Labels applied to every metric,
	// for distinguishing broadcasters registered on the same registry.
	ConstLabels prometheus.Labels
}

// Hooks is a [dfan.Hooks] backed by Prometheus metrics.
type Hooks struct {
	attached prometheus.Gauge
	attaches prometheus.Counter
	detaches prometheus.Counter
	idle     prometheus.Counter
}

var _ dfan.Hooks = (*Hooks)(nil)

// NewHooks creates the broadcaster metrics and registers them on reg.
//
// The metrics are:
//
//	consumers_attached        gauge of currently attached consumers
//	consumer_attaches_total   counter of attaches
//	consumer_detaches_total   counter of detaches
//	idle_transitions_total    counter of last-detach transitions
func NewHooks(reg prometheus.Registerer, opts Opts) (*Hooks, error) {
	h := &Hooks{
		attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "consumers_attached",
			Help:        "Number of consumers currently attached to the broadcaster.",
			ConstLabels: opts.ConstLabels,
		}),
		attaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "consumer_attaches_total",
			Help:        "Total number of consumers attached to the broadcaster.",
			ConstLabels: opts.ConstLabels,
		}),
		detaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "consumer_detaches_total",
			Help:        "Total number of consumers detached from the broadcaster.",
			ConstLabels: opts.ConstLabels,
		}),
		idle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "idle_transitions_total",
			Help:        "Number of times the last attached consumer detached.",
			ConstLabels: opts.ConstLabels,
		}),
	}

	for _, c := range []prometheus.Collector{h.attached, h.attaches, h.detaches, h.idle} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register broadcaster metric: %w", err)
		}
	}

	return h, nil
}

func (h *Hooks) OnAttach() {
	h.attached.Inc()
	h.attaches.Inc()
}

// OnFirstAttach is a no-op; OnAttach covers the gauge.
func (h *Hooks) OnFirstAttach() {}

func (h *Hooks) OnDetach() {
	h.attached.Dec()
	h.detaches.Inc()
}

func (h *Hooks) OnLastDetach() {
	h.idle.Inc()
}
