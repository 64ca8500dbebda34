package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/livefanout"
)

func TestInAppSenderPushesPayload(t *testing.T) {
	t.Parallel()

	registry := livefanout.NewRegistry()
	conn := livefanout.NewConnection()
	registry.Register("user-1", conn)
	defer registry.Unregister("user-1", conn)

	sender := NewInAppSender(registry, nil)
	alert := &datastore.Alert{
		AlertID:    "alert-1",
		CarID:      "car-1",
		DeviceID:   "dev-1",
		Type:       "engine_knock",
		Severity:   datastore.SeverityHigh,
		Message:    "engine_knock detected",
		Confidence: 0.82,
	}
	delivery := &datastore.NotificationDelivery{DeliveryID: "delivery-1", UserID: "user-1"}

	require.NoError(t, sender.Send(context.Background(), alert, delivery))

	payload := <-conn.Receive()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "alert-1", decoded["alertId"])
	assert.Equal(t, "delivery-1", decoded["deliveryId"])
	assert.Equal(t, "engine_knock", decoded["type"])
	assert.InDelta(t, 0.82, decoded["confidence"], 1e-9)
}

func TestInAppSenderNoConnections(t *testing.T) {
	t.Parallel()

	sender := NewInAppSender(livefanout.NewRegistry(), nil)
	alert := &datastore.Alert{AlertID: "alert-1", Type: "engine_knock"}
	delivery := &datastore.NotificationDelivery{DeliveryID: "delivery-1", UserID: "nobody"}

	// Handoff succeeds even with zero open connections
	assert.NoError(t, sender.Send(context.Background(), alert, delivery))
}
