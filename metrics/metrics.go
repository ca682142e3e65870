// Package metrics exposes the Prometheus collectors for HTTP traffic and
// the domain events this service dispatches.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the ring hub's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ringhub",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ringhub",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})

	ringsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "rings",
		Name:      "created_total",
		Help:      "Total number of rings created, labeled by whether they were forks.",
	}, []string{"kind"})

	membershipEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "membership",
		Name:      "events_total",
		Help:      "Total number of membership state transitions.",
	}, []string{"event"})

	postsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "content",
		Name:      "submissions_total",
		Help:      "Total number of post submissions, labeled by resulting status.",
	}, []string{"status"})

	curationEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "content",
		Name:      "curation_total",
		Help:      "Total number of curation actions applied.",
	}, []string{"action"})

	badgeOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "badges",
		Name:      "operations_total",
		Help:      "Total number of badge issue/verify/revoke operations.",
	}, []string{"operation", "result"})

	rateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringhub",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected by the rate limiter, by action and tier.",
	}, []string{"action", "tier"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ringsCreated,
		membershipEvents,
		postsSubmitted,
		curationEvents,
		badgeOperations,
		rateLimitRejections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count, duration, and in-flight
// gauges. route should be the matched pattern (e.g. chi's RoutePattern), not
// the raw path, to keep label cardinality bounded.
func InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	})
}

// RecordRingCreated records a ring creation, kind being "create" or "fork".
func RecordRingCreated(kind string) {
	ringsCreated.WithLabelValues(kind).Inc()
}

// RecordMembershipEvent records a membership transition, e.g. "joined",
// "applied", "left", "removed", "role_updated", "invited".
func RecordMembershipEvent(event string) {
	membershipEvents.WithLabelValues(event).Inc()
}

// RecordPostSubmission records a post submission's resulting status.
func RecordPostSubmission(status string) {
	postsSubmitted.WithLabelValues(status).Inc()
}

// RecordCuration records a curation action, e.g. "accept", "reject",
// "remove", "pin", "unpin", "author_removed_globally".
func RecordCuration(action string) {
	curationEvents.WithLabelValues(action).Inc()
}

// RecordBadgeOperation records a badge issue/verify/revoke attempt and its
// result ("ok" or "error").
func RecordBadgeOperation(operation, result string) {
	badgeOperations.WithLabelValues(operation, result).Inc()
}

// RecordRateLimitRejection records a rate limiter rejection for an action
// and the caller's reputation tier.
func RecordRateLimitRejection(action, tier string) {
	rateLimitRejections.WithLabelValues(action, tier).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
