package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveInbound("salesiq", "message", "ok")
	m.ObserveWebhookLatency("salesiq", 0.05)
	m.RecordOTPVerification(true)
	m.RecordOTPVerification(false)
	m.RecordLeadScored()
	m.RecordGatewayFailure("crm")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	otp, ok := byName["leadsense_conversation_otp_verifications_total"]
	if !ok {
		t.Fatal("expected otp counter registered")
	}
	if len(otp.Metric) != 2 {
		t.Fatalf("expected verified and failed series, got %d", len(otp.Metric))
	}
	if _, ok := byName["leadsense_conversation_leads_scored_total"]; !ok {
		t.Fatal("expected leads scored counter registered")
	}
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveInbound("salesiq", "message", "ok")
	m.ObserveWebhookLatency("salesiq", 0.1)
	m.RecordOTPVerification(true)
	m.RecordLeadScored()
	m.RecordGatewayFailure("crm")
}
