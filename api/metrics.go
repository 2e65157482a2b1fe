package api

import (
	"strconv"

	"github.com/alwitt/stockpile/notify"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics service Prometheus metrics, on a registry of their own
type metrics struct {
	registry *prometheus.Registry
	changes  *prometheus.CounterVec
	requests *prometheus.CounterVec
	dropped  prometheus.Counter
}

func newMetrics(hub *notify.Hub) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpile",
			Name:      "changes_total",
			Help:      "Committed inventory changes, by collection and action",
		}, []string{"collection", "action"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpile",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route, and status",
		}, []string{"method", "route", "status"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockpile",
			Name:      "metrics_subscription_drops_total",
			Help:      "Times the metrics observer fell behind the change notifications",
		}),
	}
	m.registry.MustRegister(
		m.changes,
		m.requests,
		m.dropped,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "stockpile",
			Name:      "observers",
			Help:      "Currently subscribed change observers",
		}, func() float64 { return float64(hub.SubscriberCount()) }),
		collectors.NewGoCollector(),
	)
	return m
}

/*
observe count change events until the hub closes. The observer resubscribes when it
falls behind, so the counters under-count rather than stall the writers.
*/
func (m *metrics) observe(hub *notify.Hub, logTags log.Fields) {
	for !hub.IsClosed() {
		sub := hub.Subscribe(notify.DefaultBufferSize)
		for event := range sub.Events {
			m.changes.WithLabelValues(string(event.Collection), string(event.Action)).Inc()
		}
		if !hub.IsClosed() {
			m.dropped.Inc()
			log.WithFields(logTags).Warn("Metrics observer fell behind, resubscribing")
		}
	}
}

// countRequests count served requests by route template
func (m *metrics) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
