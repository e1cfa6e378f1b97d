package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Доменные метрики жизненного цикла
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatepass_transitions_total",
			Help: "Account and pass state transitions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	rateDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatepass_rate_denials_total",
			Help: "Requests denied by the rate governor, by action class.",
		},
		[]string{"action_class"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatepass_ready",
		Help: "1 when the service considers itself ready, 0 otherwise.",
	})
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		transitionsTotal, rateDenialsTotal, readyGauge,
	)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts a domain action attempt by outcome.
func ObserveTransition(action, outcome string) {
	transitionsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveRateDenial counts a rate-governor denial for an action class.
func ObserveRateDenial(actionClass string) {
	rateDenialsTotal.WithLabelValues(actionClass).Inc()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded: /v1/accounts/<id>/block becomes /v1/accounts/:id/block.
func CanonicalPath(raw string) string {
	if raw == "" {
		return "/"
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return "/"
	}
	parts := strings.Split(raw, "/")
	// ["", "v1", collection, id, action?]
	if len(parts) >= 4 && parts[1] == "v1" && (parts[2] == "accounts" || parts[2] == "passes") {
		switch len(parts) {
		case 4:
			return "/v1/" + parts[2] + "/:id"
		case 5:
			return "/v1/" + parts[2] + "/:id/" + parts[4]
		}
	}
	return raw
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
