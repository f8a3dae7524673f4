package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// Namespace prefixes every metric name.
const Namespace = "graylogic_poller"

var allStates = []pollengine.ServerState{
	pollengine.StateOffline,
	pollengine.StateNotLoaded,
	pollengine.StateIdle,
	pollengine.StateReady,
}

// Metrics holds the poller's Prometheus collectors on a private registry.
//
// It implements pollengine.Metrics. A nil *Metrics is not valid; use
// New and only install it when metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	polls          *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec
	stateChanges   *prometheus.CounterVec
	hostState      *prometheus.GaugeVec
	activeFields   *prometheus.GaugeVec
	hosts          prometheus.Gauge
	hostsPruned    prometheus.Counter
	fieldsPruned   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	wsSessions     prometheus.Gauge
}

var _ pollengine.Metrics = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "polls_total",
				Help:      "Poll round trips by host and result",
			},
			[]string{"host", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "poll_duration_seconds",
				Help:      "Duration of poll round trips",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"host"},
		),
		stateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "host_state_changes_total",
				Help:      "Host state transitions by target state",
			},
			[]string{"host", "to"},
		),
		hostState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "host_state",
				Help:      "Current host state (1 for the active state, 0 otherwise)",
			},
			[]string{"host", "state"},
		),
		activeFields: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_fields",
				Help:      "Fields on each host's poll list",
			},
			[]string{"host"},
		),
		hosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "hosts",
			Help:      "Hosts currently tracked by the engine",
		}),
		hostsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hosts_pruned_total",
			Help:      "Hosts dropped after going unused",
		}),
		fieldsPruned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "fields_pruned_total",
				Help:      "Fields dropped from poll lists after going unread",
			},
			[]string{"host"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "HTTP API requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP API request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "websocket_sessions",
			Help:      "Open WebSocket watch sessions",
		}),
	}

	registry.MustRegister(
		m.polls, m.pollDuration, m.stateChanges, m.hostState,
		m.activeFields, m.hosts, m.hostsPruned, m.fieldsPruned,
		m.requests, m.requestLatency, m.wsSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePoll records one poll round trip.
func (m *Metrics) ObservePoll(host string, d time.Duration, err error) {
	m.polls.WithLabelValues(host, pollResult(err)).Inc()
	m.pollDuration.WithLabelValues(host).Observe(d.Seconds())
}

// StateChanged records a host state transition.
func (m *Metrics) StateChanged(host string, _, to pollengine.ServerState) {
	m.stateChanges.WithLabelValues(host, to.String()).Inc()
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1
		}
		m.hostState.WithLabelValues(host, s.String()).Set(v)
	}
}

// SetActiveFields sets the poll list length for host.
func (m *Metrics) SetActiveFields(host string, n int) {
	m.activeFields.WithLabelValues(host).Set(float64(n))
}

// SetServers sets the number of tracked hosts.
func (m *Metrics) SetServers(n int) {
	m.hosts.Set(float64(n))
}

// ServerPruned counts a pruned host and drops its per-host series.
func (m *Metrics) ServerPruned(host string) {
	m.hostsPruned.Inc()
	labels := prometheus.Labels{"host": host}
	m.polls.DeletePartialMatch(labels)
	m.pollDuration.DeletePartialMatch(labels)
	m.stateChanges.DeletePartialMatch(labels)
	m.hostState.DeletePartialMatch(labels)
	m.activeFields.DeletePartialMatch(labels)
	m.fieldsPruned.DeletePartialMatch(labels)
}

// FieldsPruned counts fields dropped from host's poll list.
func (m *Metrics) FieldsPruned(host string, n int) {
	m.fieldsPruned.WithLabelValues(host).Add(float64(n))
}

// ObserveRequest records one HTTP API request. route is the route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// SessionOpened and SessionClosed track open WebSocket sessions.
func (m *Metrics) SessionOpened() { m.wsSessions.Inc() }

// SessionClosed is the counterpart of SessionOpened.
func (m *Metrics) SessionClosed() { m.wsSessions.Dec() }

func pollResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
