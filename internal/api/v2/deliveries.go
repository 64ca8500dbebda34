// internal/api/v2/deliveries.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type deliveryAckResponse struct {
	DeliveryID string `json:"deliveryId"`
	Status     string `json:"status"`
}

// MarkDeliveryDelivered handles POST /api/v2/deliveries/:id/delivered.
// Clients call this when an alert has reached the user's device; the
// delivery becomes terminal and is no longer eligible for retry.
func (c *Controller) MarkDeliveryDelivered(ctx echo.Context) error {
	deliveryID := ctx.Param("id")
	if err := c.Dispatcher.MarkDelivered(deliveryID); err != nil {
		return c.mapDomainError(ctx, err, "Failed to acknowledge delivery")
	}
	return ctx.JSON(http.StatusOK, deliveryAckResponse{DeliveryID: deliveryID, Status: "delivered"})
}

// MarkDeliveryRead handles POST /api/v2/deliveries/:id/read.
func (c *Controller) MarkDeliveryRead(ctx echo.Context) error {
	deliveryID := ctx.Param("id")
	if err := c.Dispatcher.MarkRead(deliveryID); err != nil {
		return c.mapDomainError(ctx, err, "Failed to acknowledge read")
	}
	return ctx.JSON(http.StatusOK, deliveryAckResponse{DeliveryID: deliveryID, Status: "read"})
}
