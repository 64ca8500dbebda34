// internal/api/v2/alerts.go
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const defaultAlertLimit = 50

// ListRecentAlerts handles GET /api/v2/alerts?limit=N.
func (c *Controller) ListRecentAlerts(ctx echo.Context) error {
	limit := defaultAlertLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.HandleError(ctx, err, "Invalid limit parameter", http.StatusBadRequest)
		}
		limit = parsed
	}

	alerts, err := c.DS.GetRecentAlerts(limit)
	if err != nil {
		return c.mapDomainError(ctx, err, "Failed to list alerts")
	}
	return ctx.JSON(http.StatusOK, alerts)
}

// GetAlert handles GET /api/v2/alerts/:id.
func (c *Controller) GetAlert(ctx echo.Context) error {
	alert, err := c.DS.GetAlert(ctx.Param("id"))
	if err != nil {
		return c.mapDomainError(ctx, err, "Alert not found")
	}
	return ctx.JSON(http.StatusOK, alert)
}

// ListAlertDeliveries handles GET /api/v2/alerts/:id/deliveries, returning
// the per-channel delivery records issued for an alert.
func (c *Controller) ListAlertDeliveries(ctx echo.Context) error {
	alertID := ctx.Param("id")
	if _, err := c.DS.GetAlert(alertID); err != nil {
		return c.mapDomainError(ctx, err, "Alert not found")
	}

	deliveries, err := c.DS.ListDeliveriesForAlert(alertID)
	if err != nil {
		return c.mapDomainError(ctx, err, "Failed to list deliveries")
	}
	return ctx.JSON(http.StatusOK, deliveries)
}
