package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sluicelabs/sluice/pkg/domain"
)

// Metrics collects engine activity as Prometheus metrics. Register it on a
// registry and wire Hooks() into the engine.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	nodesTotal  *prometheus.CounterVec
	gatesTotal  *prometheus.CounterVec
	interrupts  prometheus.Counter
	runDuration prometheus.Histogram
	activeRuns  prometheus.Gauge

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewMetrics creates the collector with the given namespace (empty means
// "sluice").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sluice"
	}
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by terminal status.",
		}, []string{"status"}),
		nodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node executions by node name and status.",
		}, []string{"node", "status"}),
		gatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by gate node.",
		}, []string{"node"}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Runs paused at an interrupt node.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run start to terminal status.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
		starts: make(map[string]time.Time),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.nodesTotal.Describe(ch)
	m.gatesTotal.Describe(ch)
	m.interrupts.Describe(ch)
	m.runDuration.Describe(ch)
	m.activeRuns.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.nodesTotal.Collect(ch)
	m.gatesTotal.Collect(ch)
	m.interrupts.Collect(ch)
	m.runDuration.Collect(ch)
	m.activeRuns.Collect(ch)
}

// Hooks adapts the collector to the engine's hook contract.
func (m *Metrics) Hooks() domain.Hooks {
	return domain.Hooks{
		OnRunStart: func(ctx context.Context, ev *domain.RunEvent) {
			m.activeRuns.Inc()
			m.mu.Lock()
			m.starts[ev.WorkflowID] = ev.Timestamp
			m.mu.Unlock()
		},
		OnRunEnd: func(ctx context.Context, ev *domain.RunEvent) {
			m.activeRuns.Dec()
			m.runsTotal.WithLabelValues(string(ev.Status)).Inc()

			m.mu.Lock()
			start, ok := m.starts[ev.WorkflowID]
			delete(m.starts, ev.WorkflowID)
			m.mu.Unlock()
			if ok {
				m.runDuration.Observe(ev.Timestamp.Sub(start).Seconds())
			}
		},
		OnNodeEnd: func(ctx context.Context, ev *domain.NodeEvent) {
			m.nodesTotal.WithLabelValues(ev.Node, string(ev.Status)).Inc()
		},
		OnGateDecision: func(ctx context.Context, ev *domain.GateEvent) {
			m.gatesTotal.WithLabelValues(ev.Node).Inc()
		},
		OnInterrupt: func(ctx context.Context, ev *domain.InterruptEvent) {
			m.interrupts.Inc()
		},
	}
}
