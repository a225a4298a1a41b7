// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_api_request_duration_seconds",
			Help:    "Total time taken for OCR requests in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180},
		},
		[]string{"model", "endpoint"},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_api_backend_latency_seconds",
			Help:    "Time taken by the inference backend to answer a chat completion",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180},
		},
		[]string{"model"},
	)

	PromptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_api_prompt_tokens_total",
			Help: "Total number of prompt tokens used",
		},
		[]string{"model"},
	)

	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_api_completion_tokens_total",
			Help: "Total number of completion tokens used",
		},
		[]string{"model"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_api_request_count_total",
			Help: "Total number of OCR requests processed",
		},
		[]string{"model", "endpoint", "status"},
	)

	InflightRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ocr_api_inflight_requests",
			Help: "Current Inflight Requests",
		},
		[]string{"endpoint"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_api_error_count",
			Help: "Error count",
		},
		[]string{"model", "endpoint", "from"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)

	ReadinessState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ocr_api_backend_readiness",
			Help: "1 for the current backend readiness state, 0 otherwise",
		},
		[]string{"state"},
	)

	BackendStartupSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocr_api_backend_startup_seconds",
			Help: "Seconds between the backend launch attempt and its first successful health poll",
		},
	)

	ModelDownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_api_model_download_bytes_total",
			Help: "Bytes written into the model store by the downloader",
		},
	)

	ModelDownloadRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_api_model_download_retries_total",
			Help: "Retried model artifact downloads",
		},
	)
)

// SetReadiness flips the one-hot readiness gauge to state
func SetReadiness(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ReadinessState.WithLabelValues(s).Set(v)
	}
}
