// Package shared
package shared

import (
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

func GetEnv(env, fallback string) string {
	if value, ok := os.LookupEnv(env); ok {
		return value
	}
	return fallback
}

func ExtractAPIKey(c echo.Context) (string, error) {
	auth := c.Request().Header.Get(MetricsAPIKeyHeader)
	if auth == "" {
		return "", ErrMissingAuth
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidFormat
	}
	return parts[1], nil
}

// ErrorBody converts a RequestError into the public error body
func ErrorBody(rerr *RequestError) ErrorResponse {
	return ErrorResponse{Error: rerr.Code, Detail: rerr.Detail()}
}
