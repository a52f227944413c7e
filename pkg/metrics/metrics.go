// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration on the query backend.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests on the query backend.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks answer generation duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// QueryStreamsActive tracks query responses currently streaming.
	QueryStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "query_streams_active",
			Help: "Number of query responses currently streaming",
		},
	)

	// MessagesTotal tracks messages stored by the query backend.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages stored",
		},
		[]string{"sender_type"},
	)

	// FramesDecodedTotal tracks event frames accepted by the client decoder.
	FramesDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_frames_decoded_total",
			Help: "Event frames decoded from query responses",
		},
	)

	// MalformedFramesTotal tracks frames skipped because they failed to parse.
	MalformedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_malformed_frames_total",
			Help: "Event frames skipped as malformed",
		},
	)

	// ExchangesTotal tracks finished send/receive exchanges by outcome.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_exchanges_total",
			Help: "Finished chat exchanges",
		},
		[]string{"outcome"},
	)

	// ExchangeDuration tracks the time from send to final state.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "client_exchange_duration_seconds",
			Help:    "Chat exchange duration from send to final state",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// StaleEventsTotal tracks events dropped because the view moved on.
	StaleEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_stale_events_total",
			Help: "Stream events discarded for a conversation no longer open",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an answer generation stream.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementQueryStreams increments the active query stream count.
func IncrementQueryStreams() {
	QueryStreamsActive.Inc()
}

// DecrementQueryStreams decrements the active query stream count.
func DecrementQueryStreams() {
	QueryStreamsActive.Dec()
}

// RecordFramesDecoded counts accepted frames.
func RecordFramesDecoded(n int) {
	FramesDecodedTotal.Add(float64(n))
}

// RecordMalformedFrame counts one skipped frame.
func RecordMalformedFrame() {
	MalformedFramesTotal.Inc()
}

// RecordExchange records a finished exchange.
func RecordExchange(outcome string, duration float64) {
	ExchangesTotal.WithLabelValues(outcome).Inc()
	ExchangeDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordStaleEvent counts one discarded stale event.
func RecordStaleEvent() {
	StaleEventsTotal.Inc()
}
