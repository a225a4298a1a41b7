package shared

import "time"

// DisplayModelName is the only model name exposed to clients.
const DisplayModelName = "Sharifsetup-OCR"

// HTTP Client Configuration
const (
	DefaultDialTimeout     = 2 * time.Second
	DefaultHTTPTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	ReadinessProbeTimeout  = 5 * time.Second
)

// Backend Polling Configuration
const (
	BackendPollInterval     = 2 * time.Second
	BackendStopGracePeriod  = 20 * time.Second
	DefaultStartupTimeout   = 600 * time.Second
	DefaultInferenceTimeout = 90 * time.Second
)

// Model Store Configuration
const (
	ModelStoreMarker       = ".model_store_ready"
	PartialDownloadSuffix  = ".incomplete"
	DownloadInitialBackoff = 2 * time.Second
	DownloadMaxBackoff     = 60 * time.Second
)

// API Configuration
const (
	RequestIDHeader     = "X-Request-ID"
	UploadFormField     = "file"
	MetricsAPIKeyHeader = "Authorization"
)
