package routers

import (
	"net/http"

	"ocr-api/internal/readiness"
	"ocr-api/internal/shared"

	"github.com/labstack/echo/v4"
)

type HealthRouter struct {
	tracker *readiness.Tracker
}

func RegisterHealthRoutes(e *echo.Group, tracker *readiness.Tracker) {
	hr := HealthRouter{tracker: tracker}
	e.GET("/healthz", hr.Healthz)
	e.GET("/readyz", hr.Readyz)
}

// Healthz only reports that the process is alive
func (hr *HealthRouter) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, struct{}{})
}

func (hr *HealthRouter) Readyz(c echo.Context) error {
	state := hr.tracker.State()
	status := http.StatusServiceUnavailable
	if state == readiness.Ready {
		status = http.StatusOK
	}
	return c.JSON(status, shared.ReadinessResponse{Status: state.String()})
}
