package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepage_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livepage_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	chatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepage_chat_messages_total",
			Help: "Chat messages accepted, by source.",
		},
		[]string{"source"},
	)
	chatRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepage_chat_rejections_total",
			Help: "Chat messages rejected before being stored, by reason.",
		},
		[]string{"reason"},
	)
	moderationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepage_moderation_actions_total",
			Help: "Moderator actions, by action.",
		},
		[]string{"action"},
	)
	liveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livepage_live_connections",
			Help: "Number of open live websocket sessions.",
		},
		[]string{"kind"},
	)
	liveEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepage_live_events_total",
			Help: "Events pushed to live sessions.",
		},
		[]string{"kind", "event"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		chatMessagesTotal,
		chatRejectionsTotal,
		moderationActionsTotal,
		liveConnections,
		liveEventsTotal,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func IncChatMessage(source string) {
	chatMessagesTotal.WithLabelValues(source).Inc()
}

func IncChatRejection(reason string) {
	chatRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncModerationAction(action string) {
	moderationActionsTotal.WithLabelValues(action).Inc()
}

func IncLiveActive(kind string) {
	liveConnections.WithLabelValues(kind).Inc()
}

func DecLiveActive(kind string) {
	liveConnections.WithLabelValues(kind).Dec()
}

func IncLiveEvent(kind, event string) {
	liveEventsTotal.WithLabelValues(kind, event).Inc()
}
