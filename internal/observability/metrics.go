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
			Name: "msg_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msg_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msg_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEvictedSocketsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msg_ws_evicted_sockets_total",
			Help: "Total number of sockets closed by the per-session cap.",
		},
	)
	deliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msg_delivery_failures_total",
			Help: "Total number of delivery attempt failures.",
		},
		[]string{"reason"},
	)
	presenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msg_presence_transitions_total",
			Help: "Total number of presence transitions emitted after debouncing.",
		},
		[]string{"state"},
	)
	replayedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msg_replayed_messages_total",
			Help: "Total number of messages replayed to reconnecting clients.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msg_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEvictedSocketsTotal,
		deliveryFailuresTotal,
		presenceTransitionsTotal,
		replayedMessagesTotal,
		amqpPublishErrorsTotal,
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

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncEvictedSocket() {
	wsEvictedSocketsTotal.Inc()
}

func IncDeliveryFailure(reason string) {
	deliveryFailuresTotal.WithLabelValues(reason).Inc()
}

func IncPresenceTransition(online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	presenceTransitionsTotal.WithLabelValues(state).Inc()
}

func AddReplayedMessages(n int) {
	replayedMessagesTotal.Add(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
