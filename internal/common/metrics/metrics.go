package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ordersync"

// Discard reasons.
const (
	ReasonStale      = "stale"
	ReasonRegression = "regression"
	ReasonDuplicate  = "duplicate"
	ReasonScope      = "scope_mismatch"
	ReasonClosed     = "closed"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	updatesApplied   *prometheus.CounterVec
	updatesDiscarded *prometheus.CounterVec
	notifications    prometheus.Counter
	malformed        prometheus.Counter
	reconnects       prometheus.Counter
	feedState        *prometheus.GaugeVec
	pollFailures     prometheus.Counter
	pollSkipped      prometheus.Counter
	activeSessions   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_applied_total",
			Help: "Order updates written to the cached view, by source",
		}, []string{"source"}),
		updatesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_discarded_total",
			Help: "Order updates rejected by the merge rule or scope check, by reason",
		}, []string{"reason"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Per-order observer notifications emitted",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "malformed_events_total",
			Help: "Change events dropped because they could not be decoded",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_reconnects_total",
			Help: "Change feed reconnect attempts",
		}),
		feedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_state",
			Help: "Current change feed state per scope (see feed.State)",
		}, []string{"scope"}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_failures_total",
			Help: "Polling fallback fetches that failed or timed out",
		}),
		pollSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_skipped_total",
			Help: "Poll ticks skipped because a fetch was still in flight",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Scope sessions with at least one observer",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.updatesApplied, m.updatesDiscarded, m.notifications, m.malformed,
			m.reconnects, m.feedState, m.pollFailures, m.pollSkipped, m.activeSessions)
	}
	return m
}

func (m *Metrics) Applied(source string) {
	if m != nil {
		m.updatesApplied.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Discarded(reason string) {
	if m != nil {
		m.updatesDiscarded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Notified(n int) {
	if m != nil {
		m.notifications.Add(float64(n))
	}
}

func (m *Metrics) Malformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) FeedState(scope string, state int) {
	if m != nil {
		m.feedState.WithLabelValues(scope).Set(float64(state))
	}
}

func (m *Metrics) ForgetScope(scope string) {
	if m != nil {
		m.feedState.DeleteLabelValues(scope)
	}
}

func (m *Metrics) PollFailed() {
	if m != nil {
		m.pollFailures.Inc()
	}
}

func (m *Metrics) PollSkipped() {
	if m != nil {
		m.pollSkipped.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}
