package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the qualification flow.
type ConversationMetrics struct {
	inboundTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	otpTotal        *prometheus.CounterVec
	leadsScored     prometheus.Counter
	gatewayFailures *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadsense",
			Subsystem: "conversation",
			Name:      "inbound_events_total",
			Help:      "Total inbound chat events",
		}, []string{"channel", "kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadsense",
			Subsystem: "conversation",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		otpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadsense",
			Subsystem: "conversation",
			Name:      "otp_verifications_total",
			Help:      "OTP verification attempts",
		}, []string{"result"}),
		leadsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadsense",
			Subsystem: "conversation",
			Name:      "leads_scored_total",
			Help:      "Qualification passes completed with a score",
		}),
		gatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadsense",
			Subsystem: "conversation",
			Name:      "gateway_failures_total",
			Help:      "Downstream gateway failures",
		}, []string{"gateway"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.webhookLatency, m.otpTotal, m.leadsScored, m.gatewayFailures)
	return m
}

func (m *ConversationMetrics) ObserveInbound(channel, kind, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, kind, status).Inc()
}

func (m *ConversationMetrics) ObserveWebhookLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *ConversationMetrics) RecordOTPVerification(verified bool) {
	if m == nil {
		return
	}
	result := "failed"
	if verified {
		result = "verified"
	}
	m.otpTotal.WithLabelValues(result).Inc()
}

func (m *ConversationMetrics) RecordLeadScored() {
	if m == nil {
		return
	}
	m.leadsScored.Inc()
}

func (m *ConversationMetrics) RecordGatewayFailure(gateway string) {
	if m == nil {
		return
	}
	m.gatewayFailures.WithLabelValues(gateway).Inc()
}
