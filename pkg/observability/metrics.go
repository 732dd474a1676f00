package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink records Prometheus metrics from events:
//
//	loom_workflow_events_total{workflow,phase}
//	loom_node_events_total{workflow,node,phase}
//	loom_node_execution_duration_seconds{workflow,node,outcome}
//	loom_node_executions_in_flight{workflow}
type MetricsSink struct {
	workflowEvents *prometheus.CounterVec
	nodeEvents     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec

	mu      sync.Mutex
	started map[domain.ExecutionID]time.Time
}

// NewMetricsSink creates the collectors and registers them on reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		workflowEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "workflow_events_total",
			Help:      "Workflow lifecycle events by phase.",
		}, []string{"workflow", "phase"}),
		nodeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "node_events_total",
			Help:      "Node lifecycle events by phase.",
		}, []string{"workflow", "node", "phase"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "node_execution_duration_seconds",
			Help:      "Time from a node execution starting (or resuming) to its end.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "node", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loom",
			Name:      "node_executions_in_flight",
			Help:      "Node executions started and not yet ended or paused.",
		}, []string{"workflow"}),
		started: make(map[domain.ExecutionID]time.Time),
	}
	for _, c := range []prometheus.Collector{s.workflowEvents, s.nodeEvents, s.duration, s.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Emit implements ports.EventSink.
func (s *MetricsSink) Emit(_ context.Context, e domain.Event) {
	phase := e.Name.Phase()
	wf := e.Body.WorkflowName

	if e.Name.IsWorkflow() {
		if phase != domain.PhaseSnapshotted && phase != domain.PhaseStreaming {
			s.workflowEvents.WithLabelValues(wf, string(phase)).Inc()
		}
		return
	}

	node := e.Body.NodeName
	s.nodeEvents.WithLabelValues(wf, node, string(phase)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch phase {
	case domain.PhaseInitiated, domain.PhaseResumed:
		s.started[e.SpanID] = e.Timestamp
		s.inFlight.WithLabelValues(wf).Inc()
	case domain.PhaseFulfilled, domain.PhaseRejected, domain.PhasePaused:
		start, ok := s.started[e.SpanID]
		if !ok {
			return
		}
		delete(s.started, e.SpanID)
		s.inFlight.WithLabelValues(wf).Dec()
		s.duration.WithLabelValues(wf, node, string(phase)).Observe(e.Timestamp.Sub(start).Seconds())
	}
}
