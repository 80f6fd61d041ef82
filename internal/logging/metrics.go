package logging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the process's Prometheus counters and gauges. It is
// additive observability only: nothing in the policy path reads from
// it, and a scrape failure never affects request handling.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	RequestsAllowed     prometheus.Counter
	RequestsBlocked     *prometheus.CounterVec
	RequestsErrored     prometheus.Counter
	RateLimitTrips      prometheus.Counter

	server *http.Server
}

// NewMetrics registers the firewall's metric set against a fresh
// registry and returns the handle used to update them.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "modbusguard_connections_accepted_total",
			Help: "Total inbound TCP connections accepted from HMI/engineering clients.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modbusguard_connections_active",
			Help: "Number of client connections currently being relayed.",
		}),
		RequestsAllowed: factory.NewCounter(prometheus.CounterOpts{
			Name: "modbusguard_requests_allowed_total",
			Help: "Requests forwarded to the upstream PLC.",
		}),
		RequestsBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbusguard_requests_blocked_total",
			Help: "Requests denied by policy, partitioned by reason category.",
		}, []string{"category"}),
		RequestsErrored: factory.NewCounter(prometheus.CounterOpts{
			Name: "modbusguard_requests_errored_total",
			Help: "Requests that could not be parsed or relayed due to a structural or I/O error.",
		}),
		RateLimitTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "modbusguard_ratelimit_trips_total",
			Help: "Requests downgraded from allow to deny by the per-source rate limiter.",
		}),
	}
}

// Serve starts the /metrics HTTP endpoint on addr in the background. It
// returns immediately; call Shutdown to stop it. An empty addr disables
// the endpoint entirely. A failure to bind addr is logged through log
// rather than returned, since the endpoint is additive observability
// and must never hold up firewall startup.
func (m *Metrics) Serve(addr string, registry *prometheus.Registry, log *Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Console().WithError(err).Error("metrics endpoint failed to start")
		}
	}()
}

// Shutdown stops the metrics HTTP endpoint, if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}
