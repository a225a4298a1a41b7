// Package backend talks to the OpenAI compatible inference server.
package backend

import (
	"context"
	"errors"
	"fmt"

	"ocr-api/internal/shared"
)

// Backend is the narrow view of the inference server used by the request
// handler and the readiness gate
type Backend interface {
	// ChatCompletion performs a single non-streaming chat completion.
	ChatCompletion(ctx context.Context, req *shared.ChatCompletionRequest) (*shared.ChatCompletionResponse, error)

	// ListModels returns the models served by the backend. A nil error means
	// the backend is up.
	ListModels(ctx context.Context) ([]shared.BackendModel, error)
}

var (
	ErrTimeout     = errors.New("backend request timed out")
	ErrUnavailable = errors.New("backend unreachable")
	ErrBadResponse = errors.New("malformed backend response")
)

// StatusError is returned when the backend answers with a non-200 status
type StatusError struct {
	StatusCode int
	Body       string
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", s.StatusCode, s.Body)
}
