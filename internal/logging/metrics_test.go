package logging

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ConnectionsAccepted.Inc()
	m.RequestsAllowed.Inc()
	m.RequestsBlocked.WithLabelValues("BlockedFC").Inc()
	m.RateLimitTrips.Inc()

	if got := testutil.ToFloat64(m.ConnectionsAccepted); got != 1 {
		t.Fatalf("ConnectionsAccepted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsAllowed); got != 1 {
		t.Fatalf("RequestsAllowed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsBlocked.WithLabelValues("BlockedFC")); got != 1 {
		t.Fatalf("RequestsBlocked{BlockedFC} = %v, want 1", got)
	}
}

func TestMetricsServeNoopWithEmptyAddr(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Serve("", reg, nil)
	if m.server != nil {
		t.Fatalf("expected no server to be started for an empty address")
	}
}
