package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_stream_events_total",
		Help: "Events decoded from the feed grouped by event type",
	}, []string{"type"})

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_stream_heartbeats_total",
		Help: "Heartbeat frames received and discarded",
	})

	decodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_stream_decode_failures_total",
		Help: "Frames dropped because their data was not a JSON object",
	})

	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_stream_connections_total",
		Help: "Stream connection attempts grouped by outcome",
	}, []string{"outcome"})

	tokenExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_stream_token_exchanges_total",
		Help: "OAuth2 token exchanges grouped by outcome",
	}, []string{"status"})

	sinkWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_stream_sink_writes_total",
		Help: "Envelope deliveries to output sinks grouped by sink and outcome",
	}, []string{"sink", "status"})

	sinkWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lookout_stream_sink_write_duration_seconds",
		Help:    "Latency of envelope deliveries to output sinks",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"sink"})

	lastEventTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_stream_last_event_timestamp_seconds",
		Help: "Unix time at which the most recent event was decoded",
	})
)

// ObserveEvent counts a decoded event.
func ObserveEvent(eventType string) {
	if eventType == "" {
		eventType = "OTHER"
	}
	eventsTotal.WithLabelValues(eventType).Inc()
	lastEventTimestamp.SetToCurrentTime()
}

// ObserveHeartbeat counts a discarded heartbeat frame.
func ObserveHeartbeat() {
	heartbeatsTotal.Inc()
}

// ObserveDecodeFailure counts a dropped frame.
func ObserveDecodeFailure() {
	decodeFailuresTotal.Inc()
}

// ObserveConnection records the outcome of a connection attempt.
func ObserveConnection(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	connectionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTokenExchange records the outcome of a token request.
func ObserveTokenExchange(status string) {
	tokenExchangesTotal.WithLabelValues(status).Inc()
}

// ObserveSinkWrite records one delivery to an output sink.
func ObserveSinkWrite(sink string, duration time.Duration, success bool) {
	sinkWriteDuration.WithLabelValues(sink).Observe(duration.Seconds())
	if success {
		sinkWritesTotal.WithLabelValues(sink, "success").Inc()
	} else {
		sinkWritesTotal.WithLabelValues(sink, "failed").Inc()
	}
}
