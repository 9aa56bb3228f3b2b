package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedesk_session_refresh_total",
			Help: "Refresh RPCs by outcome",
		},
		[]string{"result"},
	)

	refreshCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estatedesk_session_refresh_coalesced_total",
			Help: "Refresh requests served by an RPC another caller started",
		},
	)

	refreshSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estatedesk_session_refresh_skipped_total",
			Help: "Refreshes skipped because the rejected token had already been replaced",
		},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "estatedesk_session_refresh_duration_seconds",
			Help:    "Refresh RPC latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	requestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedesk_session_request_retries_total",
			Help: "Requests re-sent after a 401, by outcome of the re-send",
		},
		[]string{"result"},
	)
)

// Label values.
const (
	resultSuccess = "success"
	resultFailure = "failure"

	retryOK           = "ok"
	retryUnauthorized = "unauthorized"
	retryError        = "error"
	retryNoRefresh    = "refresh_failed"
)
