package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the shop service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Shop flows
	Purchases   *prometheus.CounterVec
	Reveals     *prometheus.CounterVec
	Onboardings *prometheus.CounterVec
	TopUps      prometheus.Counter
	TopUpAmount prometheus.Counter
	Events      *prometheus.CounterVec

	// Ledger side effects
	Released      prometheus.Counter
	ReleaseErrors prometheus.Counter
	Alerts        *prometheus.CounterVec
	NotifyFailed  prometheus.Counter
	Inventory     *prometheus.GaugeVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New builds the collectors on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Purchases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchases_total",
		Help:      "Buy attempts by outcome",
	}, []string{"outcome"})

	m.Reveals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reveals_total",
		Help:      "Code reveal attempts by outcome",
	}, []string{"outcome"})

	m.Onboardings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "onboardings_total",
		Help:      "Completed onboarding attempts by outcome",
	}, []string{"outcome"})

	m.TopUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "topups_total",
		Help:      "Administrative balance adjustments",
	})

	m.TopUpAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "topup_amount_total",
		Help:      "Sum of positive top-up amounts",
	})

	m.Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound chat events by kind",
	}, []string{"kind"})

	m.Released = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_released_total",
		Help:      "Expired reservations released and refunded",
	})

	m.ReleaseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_release_errors_total",
		Help:      "Failed reservation releases",
	})

	m.Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Operator alerts by kind",
	}, []string{"kind"})

	m.NotifyFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_failures_total",
		Help:      "Push notifications that could not be delivered",
	})

	m.Inventory = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inventory_items",
		Help:      "Ready inventory by hold state, as of the last stats read",
	}, []string{"state"})

	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.Purchases, m.Reveals, m.Onboardings, m.TopUps, m.TopUpAmount, m.Events,
		m.Released, m.ReleaseErrors, m.Alerts, m.NotifyFailed, m.Inventory,
		m.HTTPRequests, m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Purchase(outcome string) {
	if m != nil {
		m.Purchases.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Reveal(outcome string) {
	if m != nil {
		m.Reveals.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Onboarding(outcome string) {
	if m != nil {
		m.Onboardings.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TopUp(amount int64) {
	if m == nil {
		return
	}
	m.TopUps.Inc()
	if amount > 0 {
		m.TopUpAmount.Add(float64(amount))
	}
}

func (m *Metrics) Event(kind string) {
	if m != nil {
		m.Events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ReservationReleased(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Released.Inc()
	} else {
		m.ReleaseErrors.Inc()
	}
}

func (m *Metrics) Alert(kind string) {
	if m != nil {
		m.Alerts.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) NotifyFailure() {
	if m != nil {
		m.NotifyFailed.Inc()
	}
}

// SetInventory records the ready/reserved counts from a stats read.
func (m *Metrics) SetInventory(ready, reserved int64) {
	if m == nil {
		return
	}
	m.Inventory.WithLabelValues("ready").Set(float64(ready))
	m.Inventory.WithLabelValues("reserved").Set(float64(reserved))
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
