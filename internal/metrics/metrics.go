// Package metrics holds the Prometheus collectors reported by the agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "styleurl"

// Metrics groups the agent's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	workflowsStarted  prometheus.Counter
	workflowsFinished *prometheus.CounterVec
	uploadsInFlight   prometheus.Gauge
	backendRequests   *prometheus.CounterVec
	messagesRejected  prometheus.Counter
}

// New creates the collectors and registers them on reg. Collectors already
// registered under the same name are reused.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		workflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Upload workflows started by a stylesheet submission request.",
		}),
		workflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Upload workflows that reached a terminal state.",
		}, []string{"state", "outcome"}),
		uploadsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_in_flight",
			Help:      "Screenshot uploads currently held in the in-flight registry.",
		}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Requests made to the backend API.",
		}, []string{"path", "success"}),
		messagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages dropped for lacking a recognised type.",
		}),
	}

	m.workflowsStarted = register(reg, m.workflowsStarted)
	m.workflowsFinished = register(reg, m.workflowsFinished)
	m.uploadsInFlight = register(reg, m.uploadsInFlight)
	m.backendRequests = register(reg, m.backendRequests)
	m.messagesRejected = register(reg, m.messagesRejected)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// WorkflowStarted counts a new workflow.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsStarted.Inc()
}

// WorkflowFinished counts a workflow reaching a terminal state.
func (m *Metrics) WorkflowFinished(state, outcome string) {
	if m == nil {
		return
	}
	m.workflowsFinished.WithLabelValues(state, outcome).Inc()
}

// SetUploadsInFlight reports the registry size.
func (m *Metrics) SetUploadsInFlight(n int) {
	if m == nil {
		return
	}
	m.uploadsInFlight.Set(float64(n))
}

// BackendRequest counts one backend call by path and result.
func (m *Metrics) BackendRequest(path string, success bool) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.backendRequests.WithLabelValues(path, label).Inc()
}

// MessageRejected counts a dropped inbound message.
func (m *Metrics) MessageRejected() {
	if m == nil {
		return
	}
	m.messagesRejected.Inc()
}
