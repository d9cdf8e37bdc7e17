package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_stream_http_requests_total",
		Help: "Total HTTP requests processed by the status server",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lookout_stream_http_request_duration_seconds",
		Help:    "Status server request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	eventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_stream_http_event_subscribers",
		Help: "Clients currently attached to the /events re-broadcast",
	})
)
