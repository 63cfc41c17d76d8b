package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks backplane traffic for one instance.
type Metrics struct {
	published       prometheus.Counter
	publishFailures prometheus.Counter
	received        prometheus.Counter
	echoSuppressed  prometheus.Counter
	malformed       prometheus.Counter
	delivered       prometheus.Counter
	dropped         *prometheus.CounterVec
	subscriberUp    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_backplane_published_total",
			Help: "Envelopes published on the backplane after a local routing miss.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_backplane_publish_failures_total",
			Help: "Backplane publish attempts that returned a transport error.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_backplane_received_total",
			Help: "Messages received by the backplane subscriber, including own echoes.",
		}),
		echoSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_backplane_echo_suppressed_total",
			Help: "Messages discarded because this instance published them.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_backplane_malformed_total",
			Help: "Backplane bodies without an origin tag.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_backplane_delivered_total",
			Help: "Remote envelopes forwarded to a local connection.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairrelay_backplane_dropped_total",
			Help: "Remote envelopes dropped, grouped by reason.",
		}, []string{"reason"}),
		subscriberUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairrelay_backplane_subscriber_up",
			Help: "1 while the backplane subscriber is running.",
		}),
	}

	reg.MustRegister(
		m.published,
		m.publishFailures,
		m.received,
		m.echoSuppressed,
		m.malformed,
		m.delivered,
		m.dropped,
		m.subscriberUp,
	)
	return m
}

func (m *Metrics) RecordPublished() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.received.Inc()
}

func (m *Metrics) RecordEchoSuppressed() {
	if m == nil {
		return
	}
	m.echoSuppressed.Inc()
}

func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) RecordDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetSubscriberUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.subscriberUp.Set(1)
		return
	}
	m.subscriberUp.Set(0)
}
