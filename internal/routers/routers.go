// Package routers wires handlers to echo routes
package routers

import (
	"errors"
	"net/http"

	"ocr-api/internal/ctx"
	"ocr-api/internal/handlers/ocr"
	"ocr-api/internal/middleware"
	"ocr-api/internal/readiness"
	"ocr-api/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Log            *zap.SugaredLogger
	Tracker        *readiness.Tracker
	OCR            *ocr.OCRHandler
	MaxUploadBytes int64
	MetricsAPIKey  string
}

// NewServer builds the echo instance with the shared middleware and every
// route registered
func NewServer(cfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.NewMetricsAuth(cfg.MetricsAPIKey))

	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewTrackMiddleware(cfg.Log))
	base.Use(middleware.NewRecoverMiddleware(cfg.Log))

	RegisterHealthRoutes(base, cfg.Tracker)
	RegisterOCRRoutes(base, cfg.OCR, cfg.MaxUploadBytes)
	return e
}

// writeError sends the public error body for err and records it for the
// end of request log
func writeError(c *ctx.Context, err error) error {
	c.LogValues.AddError(err)
	var rerr *shared.RequestError
	if !errors.As(err, &rerr) {
		rerr = shared.ErrInternalServerError
	}
	if rerr.StatusCode >= http.StatusInternalServerError {
		c.LogValues.LogLevel = "ERROR"
	}
	return c.JSON(rerr.StatusCode, shared.ErrorBody(rerr))
}
