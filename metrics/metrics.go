// Package metrics exposes Prometheus collectors for the chat server.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of open WebSocket connections.",
	})

	BoundSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_bound_sessions",
		Help: "Current number of authenticated sessions.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total messages persisted.",
	})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_delivered_total",
		Help: "Total realtime events pushed to live sessions.",
	}, []string{"event"})

	EventsOffline = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_offline_total",
		Help: "Total realtime events skipped because the recipient had no live session.",
	}, []string{"event"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_http_requests_total",
		Help: "Total HTTP requests by method, path, and status.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Gin returns a middleware recording request count and latency per route.
func Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, path,
			strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
