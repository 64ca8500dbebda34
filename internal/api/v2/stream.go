// internal/api/v2/stream.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carsense/carsense-go/internal/livefanout"
)

const (
	heartbeatInterval        = 30 * time.Second
	maxSSEConnectionDuration = 30 * time.Minute
)

// StreamNotifications handles GET /api/v2/notifications/stream?userId=.
// It holds the connection open and pushes each in-app alert for the user
// as a named "notification" SSE event.
func (c *Controller) StreamNotifications(ctx echo.Context) error {
	userID := ctx.QueryParam("userId")
	if userID == "" {
		return c.HandleError(ctx, nil, "Missing userId parameter", http.StatusBadRequest)
	}

	setSSEHeaders(ctx)

	conn := livefanout.NewConnection()
	c.Registry.Register(userID, conn)
	if c.metrics != nil {
		c.metrics.Delivery.SSEConnectionStarted()
	}
	defer func() {
		c.Registry.Unregister(userID, conn)
		if c.metrics != nil {
			c.metrics.Delivery.SSEConnectionEnded()
		}
	}()

	c.apiLogger.Info("SSE client connected",
		"client_id", conn.ID(),
		"user_id", userID,
		"ip", ctx.RealIP())

	// Immediate ack so clients can distinguish an open stream from a
	// stalled request.
	if err := sendSSEMessage(ctx, "connected", fmt.Sprintf(`{"clientId":%q}`, conn.ID())); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	// Cap connection lifetime so load balancers and proxies recycle
	// long-lived streams predictably. Clients reconnect transparently.
	deadline := time.NewTimer(maxSSEConnectionDuration)
	defer deadline.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			c.apiLogger.Info("SSE client disconnected", "client_id", conn.ID(), "user_id", userID)
			return nil
		case <-deadline.C:
			c.apiLogger.Info("SSE connection lifetime reached", "client_id", conn.ID(), "user_id", userID)
			return nil
		case <-heartbeat.C:
			if err := sendSSEMessage(ctx, "heartbeat", fmt.Sprintf(`{"time":%q}`, time.Now().Format(time.RFC3339))); err != nil {
				return nil
			}
		case payload, ok := <-conn.Receive():
			if !ok {
				return nil
			}
			if err := sendSSEMessage(ctx, "notification", string(payload)); err != nil {
				return nil
			}
		}
	}
}

func setSSEHeaders(ctx echo.Context) {
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)
	ctx.Response().Flush()
}

func sendSSEMessage(ctx echo.Context, event, data string) error {
	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	ctx.Response().Flush()
	return nil
}
