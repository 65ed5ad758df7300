// Package metrics records fleet run and switch statistics on a dedicated
// Prometheus registry. The commands are short lived, so the registry is pushed
// to a Pushgateway at exit instead of being scraped.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Fleet holds the collectors shared by the fan-out controller and the switch
// driver. A nil *Fleet is valid and records nothing.
type Fleet struct {
	registry *prometheus.Registry

	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	switches *prometheus.CounterVec
}

func NewFleet() *Fleet {
	m := &Fleet{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetboot",
			Name:      "probe_attempts_total",
			Help:      "Liveness/OS probe attempts issued per host.",
		}, []string{"mode"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetboot",
			Name:      "host_outcomes_total",
			Help:      "Terminal per-host outcomes.",
		}, []string{"mode", "status", "os"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetboot",
			Name:      "host_duration_seconds",
			Help:      "Wall-clock time spent on a single host.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetboot",
			Name:      "switch_total",
			Help:      "Local boot switches by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.attempts, m.outcomes, m.duration, m.switches)
	return m
}

func (m *Fleet) Attempts(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.attempts.WithLabelValues(mode).Add(float64(n))
}

func (m *Fleet) Outcome(mode, status, os string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(mode, status, os).Inc()
	m.duration.WithLabelValues(mode).Observe(seconds)
}

func (m *Fleet) Switch(result string) {
	if m == nil {
		return
	}
	m.switches.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Fleet) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Push sends the collected metrics to a Pushgateway under the given job and
// grouping labels.
// Grouping returns the Pushgateway grouping key for one command run on one
// machine. Its names must not collide with collector labels or the push is
// rejected.
func Grouping(command, instance string) map[string]string {
	return map[string]string{"command": command, "instance": instance}
}

func (m *Fleet) Push(ctx context.Context, gatewayURL, job string, client push.HTTPDoer, grouping map[string]string) error {
	if m == nil {
		return errors.New("nil metrics")
	}
	if gatewayURL == "" {
		return errors.New("pushgateway url is required")
	}

	pusher := push.New(gatewayURL, job).Gatherer(m.registry)
	if client != nil {
		pusher = pusher.Client(client)
	}
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	return pusher.PushContext(ctx)
}
