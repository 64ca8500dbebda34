// internal/api/v2/api.go
package api

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carsense/carsense-go/internal/buildinfo"
	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/ingest"
	"github.com/carsense/carsense-go/internal/livefanout"
	"github.com/carsense/carsense-go/internal/logging"
	"github.com/carsense/carsense-go/internal/notification"
	"github.com/carsense/carsense-go/internal/observability"
	"github.com/carsense/carsense-go/internal/threshold"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo       *echo.Echo
	Group      *echo.Group
	DS         datastore.Interface
	Settings   *conf.Settings
	Pipeline   *ingest.Pipeline
	Gate       *threshold.Gate
	Dispatcher *notification.Dispatcher
	Registry   *livefanout.Registry

	metrics        *observability.Metrics
	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New creates the API controller and registers its routes under /api/v2.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	pipeline *ingest.Pipeline, gate *threshold.Gate,
	dispatcher *notification.Dispatcher, registry *livefanout.Registry,
	metrics *observability.Metrics) *Controller {

	apiLogger, closeLogger, err := logging.NewFileLogger("logs/web.log", "api", slog.LevelInfo)
	if err != nil {
		apiLogger = logging.ForService("api")
		closeLogger = func() error { return nil }
	}

	c := &Controller{
		Echo:           e,
		Group:          e.Group("/api/v2"),
		DS:             ds,
		Settings:       settings,
		Pipeline:       pipeline,
		Gate:           gate,
		Dispatcher:     dispatcher,
		Registry:       registry,
		metrics:        metrics,
		apiLogger:      apiLogger,
		apiLoggerClose: closeLogger,
	}

	c.initRoutes()
	return c
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	_ = c.apiLoggerClose()
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.Health)

	c.Group.POST("/ingest", c.IngestAudio)

	c.Group.GET("/thresholds", c.ListThresholds)
	c.Group.GET("/thresholds/:type", c.GetThreshold)
	c.Group.PUT("/thresholds/:type", c.SetThreshold)
	c.Group.DELETE("/thresholds/:type", c.DeleteThreshold)

	c.Group.GET("/alerts", c.ListRecentAlerts)
	c.Group.GET("/alerts/:id", c.GetAlert)
	c.Group.GET("/alerts/:id/deliveries", c.ListAlertDeliveries)

	c.Group.GET("/notifications/stream", c.StreamNotifications)
	c.Group.POST("/deliveries/:id/delivered", c.MarkDeliveryDelivered)
	c.Group.POST("/deliveries/:id/read", c.MarkDeliveryRead)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// ErrorResponse is the JSON error body returned by every handler.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error response with a correlation identifier
// for log cross-referencing.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return fmt.Sprintf("%08x", b)
}

// HandleError logs the error and returns the JSON error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	c.apiLogger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", resp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())
	return ctx.JSON(code, resp)
}

// mapDomainError translates a pipeline/store error into the matching HTTP
// response.
func (c *Controller) mapDomainError(ctx echo.Context, err error, message string) error {
	switch {
	case errors.IsValidation(err):
		return c.HandleError(ctx, err, message, http.StatusBadRequest)
	case errors.IsNotFound(err):
		return c.HandleError(ctx, err, message, http.StatusNotFound)
	case errors.IsConfiguration(err):
		return c.HandleError(ctx, err, message, http.StatusServiceUnavailable)
	default:
		return c.HandleError(ctx, err, message, http.StatusInternalServerError)
	}
}

// Health reports service liveness and build metadata.
func (c *Controller) Health(ctx echo.Context) error {
	info := buildinfo.Get()
	return ctx.JSON(http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    info.Version,
		"build_date": info.BuildDate,
	})
}
