// Package metrics exposes pool lifecycle and HTTP metrics in the Prometheus
// format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poolstake/backend/internal/models"
)

const namespace = "pools"

// Registry owns its own prometheus registry so tests can build as many as
// they like.
type Registry struct {
	reg *prometheus.Registry

	transitions   *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	payoutTotal   prometheus.Counter
	failures      *prometheus.CounterVec
	rollover      *prometheus.CounterVec
	storeRetries  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transitions_total",
			Help: "Pool commands applied, by command.",
		}, []string{"command"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_finalized_total",
			Help: "Settlements whose payouts completed, by final pool status.",
		}, []string{"status"}),
		payoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payout_amount_total",
			Help: "Sum of winner payouts credited, in minor units.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlement_failures_total",
			Help: "Settlement payout attempts that failed, by reason.",
		}, []string{"reason"}),
		rollover: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rollover_amount_total",
			Help: "Amount moved into or out of the rollover balance.",
		}, []string{"direction"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_retries_total",
			Help: "Store operations retried after a transient failure.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions, r.settlements, r.payoutTotal, r.failures,
		r.rollover, r.storeRetries, r.httpRequests, r.httpDurations,
	)
	return r
}

func (r *Registry) PoolTransition(command string) {
	r.transitions.WithLabelValues(command).Inc()
}

func (r *Registry) SettlementFinalized(status models.PoolStatus, totalPayout int64) {
	r.settlements.WithLabelValues(string(status)).Inc()
	r.payoutTotal.Add(float64(totalPayout))
}

func (r *Registry) SettlementFailed(reason string) {
	r.failures.WithLabelValues(reason).Inc()
}

// RolloverMoved records amount flowing "in" to or "out" of the balance.
func (r *Registry) RolloverMoved(direction string, amount int64) {
	if amount <= 0 {
		return
	}
	r.rollover.WithLabelValues(direction).Add(float64(amount))
}

func (r *Registry) StoreRetry(op string) {
	r.storeRetries.WithLabelValues(op).Inc()
}

func (r *Registry) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDurations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry on /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
