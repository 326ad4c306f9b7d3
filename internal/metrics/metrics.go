package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const routeLabelKey ctxKey = "metrics_route"

// Pass results.
const (
	PassOK       = "ok"
	PassSkipped  = "skipped"
	PassBusy     = "busy"
	PassFailed   = "failed"
	PassCanceled = "canceled"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepcal_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepcal_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sleepcal_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepcal_sync_passes_total",
		Help: "Sync passes by result.",
	}, []string{"result"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleepcal_sync_pass_duration_seconds",
		Help:    "Duration of completed sync passes.",
		Buckets: prometheus.DefBuckets,
	})

	adjustedNights = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sleepcal_adjusted_nights",
		Help: "Nights with an event-driven adjustment in the last published schedule.",
	})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sleepcal_last_successful_sync_timestamp_seconds",
		Help: "Unix time of the last published schedule.",
	})

	sinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepcal_sink_errors_total",
		Help: "Failed sink writes.",
	}, []string{"sink"})

	icsFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepcal_ics_fetch_total",
		Help: "ICS fetches by source and outcome.",
	}, []string{"source", "outcome"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sleepcal_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})
)

// Middleware records request metrics and stores the route label for
// downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			ctx := context.WithValue(r.Context(), routeLabelKey, r.URL.Path)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// chi fills the pattern in while routing, so read it afterwards.
			route := routePattern(r)
			status := ww.Status()
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePass records one sync pass. Duration is only observed for passes
// that ran to completion.
func ObservePass(result string, start time.Time) {
	passesTotal.WithLabelValues(result).Inc()
	if result == PassOK {
		passDuration.Observe(time.Since(start).Seconds())
	}
}

// ObservePublished records the shape of a newly published schedule.
func ObservePublished(adjusted int, at time.Time) {
	adjustedNights.Set(float64(adjusted))
	lastSuccess.Set(float64(at.Unix()))
}

func ObserveSinkError(sink string) {
	sinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveFetch records an ICS fetch outcome: fetched, not_modified, cached
// or error.
func ObserveFetch(source, outcome string) {
	icsFetchTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDBLatency records database latency for an operation, labelled with
// the HTTP route when the call originates from a request.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	dbLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	return "background"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
