// internal/api/v2/thresholds.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// thresholdResponse is the JSON shape for a single alert threshold.
type thresholdResponse struct {
	Type         string  `json:"type"`
	MinThreshold float64 `json:"minThreshold"`
	Configured   bool    `json:"configured"`
}

type thresholdUpdateRequest struct {
	MinThreshold float64 `json:"minThreshold"`
}

// ListThresholds handles GET /api/v2/thresholds. Known alert types with no
// configured threshold are included with Configured=false so operators can
// see which types are currently denied by default.
func (c *Controller) ListThresholds(ctx echo.Context) error {
	configured, err := c.Gate.ListThresholds()
	if err != nil {
		return c.mapDomainError(ctx, err, "Failed to list thresholds")
	}

	byType := make(map[string]float64, len(configured))
	for _, t := range configured {
		byType[t.AlertType] = t.MinThreshold
	}

	resp := make([]thresholdResponse, 0, len(c.Gate.KnownTypes()))
	for _, alertType := range c.Gate.KnownTypes() {
		entry := thresholdResponse{Type: alertType}
		if min, ok := byType[alertType]; ok {
			entry.MinThreshold = min
			entry.Configured = true
		}
		resp = append(resp, entry)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// GetThreshold handles GET /api/v2/thresholds/:type.
func (c *Controller) GetThreshold(ctx echo.Context) error {
	alertType := ctx.Param("type")
	min, configured, err := c.Gate.GetThreshold(alertType)
	if err != nil {
		return c.mapDomainError(ctx, err, "Failed to read threshold")
	}
	if !configured {
		return c.HandleError(ctx, nil, "No threshold configured for type", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, thresholdResponse{Type: alertType, MinThreshold: min, Configured: true})
}

// SetThreshold handles PUT /api/v2/thresholds/:type. Creates or replaces
// the minimum confidence for the given alert type.
func (c *Controller) SetThreshold(ctx echo.Context) error {
	alertType := ctx.Param("type")

	var req thresholdUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Malformed threshold body", http.StatusBadRequest)
	}

	if err := c.Gate.SetThreshold(alertType, req.MinThreshold); err != nil {
		return c.mapDomainError(ctx, err, "Failed to set threshold")
	}
	return ctx.JSON(http.StatusOK, thresholdResponse{Type: alertType, MinThreshold: req.MinThreshold, Configured: true})
}

// DeleteThreshold handles DELETE /api/v2/thresholds/:type. Removing a
// threshold restores the default-deny behaviour for the type.
func (c *Controller) DeleteThreshold(ctx echo.Context) error {
	alertType := ctx.Param("type")
	if err := c.Gate.DeleteThreshold(alertType); err != nil {
		return c.mapDomainError(ctx, err, "Failed to delete threshold")
	}
	return ctx.NoContent(http.StatusNoContent)
}
