package agent

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the node's Prometheus surface (SPEC_FULL.md's domain-stack
// wiring section), grounded on the teacher's stats package convention of
// one struct of already-registered vectors/counters rather than ad hoc
// prometheus.MustRegister calls scattered through the code.
type metricsSet struct {
	bundlesReceived  prometheus.Counter
	bundlesDelivered prometheus.Counter
	bundlesForwarded prometheus.Counter
	bundlesDropped   prometheus.Counter
}

func newMetricsSet() *metricsSet {
	m := &metricsSet{
		bundlesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtnagent", Name: "bundles_received_total",
			Help: "Bundles accepted off a convergence-layer connection.",
		}),
		bundlesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtnagent", Name: "bundles_delivered_total",
			Help: "ADUs delivered to a local application agent.",
		}),
		bundlesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtnagent", Name: "bundles_forwarded_total",
			Help: "Bundles successfully handed to a convergence-layer connection.",
		}),
		bundlesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtnagent", Name: "bundles_dropped_total",
			Help: "Bundles dropped on delivery or transmission failure.",
		}),
	}
	prometheus.MustRegister(m.bundlesReceived, m.bundlesDelivered, m.bundlesForwarded, m.bundlesDropped)
	return m
}
