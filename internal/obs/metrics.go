package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authix_authz_decisions_total",
			Help: "Permission checks by required permission and outcome.",
		},
		[]string{"permission", "outcome"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authix_tokens_issued_total",
			Help: "Tokens minted by kind and triggering operation.",
		},
		[]string{"kind", "reason"},
	)

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authix_auth_failures_total",
			Help: "Rejected authentication attempts by reason.",
		},
		[]string{"reason"},
	)

	initOnce sync.Once
)

// Init registers the metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, tokensIssued, authFailures)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthz counts one permission check.
func ObserveAuthz(permission string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	authzDecisions.WithLabelValues(permission, outcome).Inc()
}

// ObserveTokens counts an access token and, when refresh is set, a refresh
// token minted for reason (signup, login, rotate).
func ObserveTokens(reason string, refresh bool) {
	tokensIssued.WithLabelValues("access", reason).Inc()
	if refresh {
		tokensIssued.WithLabelValues("refresh", reason).Inc()
	}
}

func ObserveAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses entity ids in admin routes so the path label stays
// bounded. Unknown shapes are returned unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "admin" {
		return p
	}
	switch parts[1] {
	case "users":
		switch {
		case len(parts) == 3:
			return "/admin/users/:id"
		case len(parts) == 4 && parts[3] == "permissions":
			return "/admin/users/:id/permissions"
		case len(parts) == 5 && parts[3] == "roles":
			return "/admin/users/:id/roles/:roleId"
		}
	case "roles":
		switch {
		case len(parts) == 3:
			return "/admin/roles/:id"
		case len(parts) == 4 && parts[3] == "permissions":
			return "/admin/roles/:id/permissions"
		}
	case "permissions":
		if len(parts) == 3 {
			return "/admin/permissions/:id"
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
