// Package metrics exposes Prometheus counters for the SDP and AVDTP engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SDPRequests counts SDP requests answered by PDU type and response type
	SDPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2dp_sdp_requests_total",
			Help: "Total number of SDP requests answered",
		},
		[]string{"type", "result"},
	)

	// AVDTPSignals counts AVDTP commands handled by signal and result
	AVDTPSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2dp_avdtp_signals_total",
			Help: "Total number of AVDTP commands handled",
		},
		[]string{"signal", "result"},
	)

	// ExchangeSeconds measures AVDTP command round trips
	ExchangeSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "a2dp_avdtp_exchange_seconds",
			Help:    "Round trip time of AVDTP commands in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"signal"},
	)

	// WorkerQueued tracks jobs submitted but not yet processed
	WorkerQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "a2dp_worker_queued_jobs",
			Help: "Number of dispatch jobs waiting in the worker pool",
		},
	)
)

const (
	ResultAccept = "accept"
	ResultReject = "reject"
	ResultError  = "error"
)

// ObserveSDP records one answered SDP request.
func ObserveSDP(request, response string) {
	SDPRequests.WithLabelValues(request, response).Inc()
}

// ObserveSignal records one handled AVDTP command.
func ObserveSignal(signal string, accepted bool) {
	result := ResultReject
	if accepted {
		result = ResultAccept
	}
	AVDTPSignals.WithLabelValues(signal, result).Inc()
}

// ObserveExchange records the round trip of one command sent to the peer.
func ObserveExchange(signal string, start time.Time) {
	ExchangeSeconds.WithLabelValues(signal).Observe(time.Since(start).Seconds())
}

// SetQueued reports the worker backlog.
func SetQueued(n int64) {
	WorkerQueued.Set(float64(n))
}
