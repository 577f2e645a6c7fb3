package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bchat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bchat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bchat_sessions_active",
			Help: "Number of live chat sessions.",
		},
	)
	feedPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bchat_feed_published_total",
			Help: "Total number of rows published to the change feed.",
		},
		[]string{"table"},
	)
	feedDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bchat_feed_dropped_total",
			Help: "Total number of feed events dropped by slow subscribers.",
		},
		[]string{"table"},
	)
	feedDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bchat_feed_deliveries_total",
			Help: "Total number of feed deliveries routed to a session consumer path.",
		},
		[]string{"path"},
	)
	sessionQueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bchat_session_queue_dropped_total",
			Help: "Total number of feed deliveries dropped by full session queues.",
		},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bchat_messages_sent_total",
			Help: "Total number of messages persisted via sessions.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		sessionsActive,
		feedPublishedTotal,
		feedDroppedTotal,
		feedDeliveriesTotal,
		sessionQueueDroppedTotal,
		messagesSentTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncSessionActive() {
	sessionsActive.Inc()
}

func DecSessionActive() {
	sessionsActive.Dec()
}

func IncFeedPublished(table string) {
	feedPublishedTotal.WithLabelValues(table).Inc()
}

func IncFeedDropped(table string) {
	feedDroppedTotal.WithLabelValues(table).Inc()
}

func IncFeedDelivery(path string) {
	feedDeliveriesTotal.WithLabelValues(path).Inc()
}

func IncSessionQueueDropped() {
	sessionQueueDroppedTotal.Inc()
}

func IncMessageSent(kind string) {
	messagesSentTotal.WithLabelValues(kind).Inc()
}
