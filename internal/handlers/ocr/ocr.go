// Package ocr turns a validated image upload into markdown using the
// inference backend
package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"ocr-api/internal/backend"
	"ocr-api/internal/config"
	"ocr-api/internal/metrics"
	"ocr-api/internal/shared"

	"go.uber.org/zap"
)

const endpoint = "ocr"

// Gate reports whether the backend can take requests
type Gate interface {
	IsReady() bool
}

type OCRHandler struct {
	backend     backend.Backend
	gate        Gate
	cfg         config.InferenceConfig
	servedModel string
	Log         *zap.SugaredLogger
}

func NewOCRHandler(be backend.Backend, gate Gate, cfg config.InferenceConfig, servedModel string, log *zap.SugaredLogger) *OCRHandler {
	return &OCRHandler{
		backend:     be,
		gate:        gate,
		cfg:         cfg,
		servedModel: servedModel,
		Log:         log,
	}
}

type OCRInput struct {
	RequestID string
	Upload    Upload
	Log       *zap.SugaredLogger
}

// OCROutput carries the client response plus values only used for logging
type OCROutput struct {
	Response *shared.OCRResponse
	Usage    *shared.Usage
}

// CheckReady rejects requests while the backend is not serving
func (h *OCRHandler) CheckReady() error {
	if h.gate.IsReady() {
		return nil
	}
	metrics.ErrorCount.WithLabelValues(h.cfg.ModelName, endpoint, shared.ErrBackendNotReady.Code).Inc()
	metrics.RequestCount.WithLabelValues(h.cfg.ModelName, endpoint, "unavailable").Inc()
	return errors.Join(shared.NewRequestError(shared.ErrServiceUnavailable, "model backend is not ready"), shared.ErrBackendNotReady)
}

// Process runs one OCR request. Returned errors always contain a
// *shared.RequestError describing the client facing failure.
func (h *OCRHandler) Process(in OCRInput) (*OCROutput, error) {
	log := in.Log
	if log == nil {
		log = h.Log
	}
	model := h.cfg.ModelName

	if err := h.CheckReady(); err != nil {
		return nil, err
	}

	contentType, err := ValidateUpload(in.Upload, h.cfg.MaxUploadBytes)
	if err != nil {
		metrics.RequestCount.WithLabelValues(model, endpoint, "invalid").Inc()
		return nil, err
	}

	metrics.InflightRequests.WithLabelValues(endpoint).Inc()
	defer metrics.InflightRequests.WithLabelValues(endpoint).Dec()

	req := h.buildRequest(contentType, in.Upload.Data)

	// client disconnects must not cancel the backend call, only the timeout
	ctx, cancel := context.WithTimeout(shared.WithRequestID(context.Background(), in.RequestID), h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := h.backend.ChatCompletion(ctx, req)
	elapsed := time.Since(start)
	metrics.BackendLatency.WithLabelValues(model).Observe(elapsed.Seconds())
	if err != nil {
		rerr := classify(err)
		metrics.ErrorCount.WithLabelValues(model, endpoint, shared.MetricsCode(err)).Inc()
		metrics.RequestCount.WithLabelValues(model, endpoint, rerr.Code).Inc()
		log.Warnw("OCR backend call failed", "error", err, "duration", elapsed.String())
		return nil, errors.Join(rerr, err)
	}

	markdown, err := extractMarkdown(res)
	if err != nil {
		metrics.ErrorCount.WithLabelValues(model, endpoint, shared.MetricsCode(err)).Inc()
		metrics.RequestCount.WithLabelValues(model, endpoint, shared.ErrInferenceError.Code).Inc()
		return nil, errors.Join(shared.NewRequestError(shared.ErrInferenceError, "model returned an empty completion"), err)
	}

	if res.Usage != nil {
		metrics.PromptTokens.WithLabelValues(model).Add(float64(res.Usage.PromptTokens))
		metrics.CompletionTokens.WithLabelValues(model).Add(float64(res.Usage.CompletionTokens))
	}
	metrics.RequestDuration.WithLabelValues(model, endpoint).Observe(elapsed.Seconds())
	metrics.RequestCount.WithLabelValues(model, endpoint, "success").Inc()

	return &OCROutput{
		Response: &shared.OCRResponse{
			RequestID:    in.RequestID,
			Model:        model,
			Markdown:     markdown,
			ProcessingMS: elapsed.Milliseconds(),
		},
		Usage: res.Usage,
	}, nil
}

func (h *OCRHandler) buildRequest(contentType string, data []byte) *shared.ChatCompletionRequest {
	return &shared.ChatCompletionRequest{
		Model: h.servedModel,
		Messages: []shared.ChatMessage{{
			Role: "user",
			Content: []shared.ContentPart{
				{Type: "text", Text: h.cfg.Prompt},
				{Type: "image_url", ImageURL: &shared.ImageURL{URL: dataURL(contentType, data)}},
			},
		}},
		Temperature: h.cfg.Temperature,
		TopP:        h.cfg.TopP,
		TopK:        h.cfg.TopK,
		MaxTokens:   h.cfg.MaxTokens,
		Stream:      false,
	}
}

func extractMarkdown(res *shared.ChatCompletionResponse) (string, error) {
	if res == nil || len(res.Choices) == 0 || res.Choices[0].Message.Content == nil {
		return "", shared.ErrEmptyCompletion
	}
	markdown := strings.TrimSpace(*res.Choices[0].Message.Content)
	if markdown == "" {
		return "", shared.ErrEmptyCompletion
	}
	return markdown, nil
}

func classify(err error) *shared.RequestError {
	switch {
	case errors.Is(err, backend.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return shared.NewRequestError(shared.ErrUpstreamTimeout, "inference backend did not answer in time")
	case errors.Is(err, backend.ErrUnavailable):
		return shared.NewRequestError(shared.ErrServiceUnavailable, "inference backend is unreachable")
	case errors.Is(err, backend.ErrBadResponse):
		var serr *backend.StatusError
		if errors.As(err, &serr) {
			return shared.NewRequestError(shared.ErrInferenceError, serr.Error())
		}
		return shared.NewRequestError(shared.ErrInferenceError, "inference backend returned a malformed response")
	default:
		return shared.NewRequestError(shared.ErrInternalServerError, "unexpected error calling the inference backend")
	}
}
