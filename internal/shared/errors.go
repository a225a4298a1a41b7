package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Code is the machine readable value returned in the `error` field of the
// response body, Err is returned as `detail`.
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic error message but
// the error chain should include more detail for logging purposes, then a generic
// error should be joined that provides context
type RequestError struct {
	StatusCode int
	Code       string
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

// Detail is the user facing message
func (r *RequestError) Detail() string {
	if r.Err == nil {
		return r.Code
	}
	return r.Err.Error()
}

// NewRequestError builds a RequestError sharing code and status with base but
// carrying a more specific message
func NewRequestError(base *RequestError, msg string) *RequestError {
	return &RequestError{StatusCode: base.StatusCode, Code: base.Code, Err: errors.New(msg)}
}

var (
	ErrBadRequest          = &RequestError{Err: errors.New("bad request"), Code: "bad_request", StatusCode: 400}
	ErrUnauthorized        = &RequestError{Err: errors.New("unauthorized"), Code: "unauthorized", StatusCode: 401}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), Code: "internal_error", StatusCode: 500}
	ErrInferenceError      = &RequestError{Err: errors.New("model inference failed"), Code: "inference_error", StatusCode: 502}
	ErrServiceUnavailable  = &RequestError{Err: errors.New("inference backend is not available"), Code: "service_unavailable", StatusCode: 503}
	ErrUpstreamTimeout     = &RequestError{Err: errors.New("inference timed out"), Code: "upstream_timeout", StatusCode: 504}

	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), Code: "unauthorized", StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), Code: "unauthorized", StatusCode: 401}

	ErrBackendNotReady        = &MetricsError{Msg: "backend not ready", Code: "backend_not_ready"}
	ErrFailedModelReq         = &MetricsError{Msg: "failed to send http request to model", Code: "model_http_err"}
	ErrFailedModelReqFromCode = &MetricsError{Msg: "model responded with non-200", Code: "model_http_status_err"}
	ErrFailedReadingResponse  = &MetricsError{Msg: "failed to read model response", Code: "model_response_err"}
	ErrEmptyCompletion        = &MetricsError{Msg: "model returned empty completion", Code: "model_empty_completion"}
	ErrModelTimeout           = &MetricsError{Msg: "model request timed out", Code: "model_timeout"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}

// MetricsCode returns the code of the first MetricsError in the chain, or
// "unknown"
func MetricsCode(err error) string {
	var merr *MetricsError
	if errors.As(err, &merr) {
		return merr.Code
	}
	return "unknown"
}
