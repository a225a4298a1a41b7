// Package middleware holds the echo middleware shared by every route
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"ocr-api/internal/ctx"
	"ocr-api/internal/metrics"
	"ocr-api/internal/shared"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// requestID honours an inbound id only when it is a valid uuid
func requestID(r *http.Request) string {
	if inbound := r.Header.Get(shared.RequestIDHeader); inbound != "" {
		if id, err := uuid.Parse(inbound); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := requestID(c.Request())
			c.Response().Header().Set(shared.RequestIDHeader, reqID)
			c.SetRequest(c.Request().WithContext(shared.WithRequestID(c.Request().Context(), reqID)))

			logValues := &ctx.ContextLogValues{
				RequestID: reqID,
				StartTime: time.Now(),
				Path:      c.Request().URL.Path,
			}
			cc := &ctx.Context{
				Context:   c,
				Log:       log.With("request_id", reqID),
				Reqid:     reqID,
				LogValues: logValues,
			}

			err := next(cc)
			if err != nil {
				// let echo write the response so the status below is final
				cc.Error(err)
				logValues.AddError(err)
			}

			logValues.RequestDuration = time.Since(logValues.StartTime)
			logValues.StatusCode = cc.Response().Status
			log.Desugar().Check(logValues.Level(), "end_of_request").Write(zap.Object("request", logValues))

			path := cc.Path()
			if path == "" {
				path = logValues.Path
			}
			metrics.ResponseCodes.WithLabelValues(path, fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			if cc, ok := c.(*ctx.Context); ok {
				cc.LogValues.AddError(err)
			}
			return c.JSON(http.StatusInternalServerError, shared.ErrorBody(shared.ErrInternalServerError))
		},
	})
}

// NewMetricsAuth guards the metrics route with a bearer key. An empty key
// leaves the route open.
func NewMetricsAuth(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}
			key, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(http.StatusUnauthorized, "Missing or invalid API key")
			}
			if key != apiKey {
				return c.String(http.StatusUnauthorized, "Unauthorized API key")
			}
			return next(c)
		}
	}
}
