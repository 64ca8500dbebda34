// Package notification fans alerts out to users over their configured
// channels and tracks each delivery attempt as a durable record with its own
// state machine. Live in-app push, shoutrrr push services, and MQTT are the
// built-in channels; each is a ChannelSender and failures on one never
// affect the others.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carsense/carsense-go/internal/datastore"
)

// Delivery error codes stored on failed NotificationDelivery records.
const (
	ErrCodeSendFailed    = "SEND_FAILED"
	ErrCodeHandoffPanic  = "HANDOFF_PANIC"
	ErrCodeAlertNotFound = "ALERT_NOT_FOUND"
)

// ChannelSender delivers one alert to one user over one transport.
type ChannelSender interface {
	// Channel returns the channel identifier the sender serves.
	Channel() string
	// Send performs the delivery attempt. The delivery record is already
	// persisted as PENDING; Send must not mutate it.
	Send(ctx context.Context, alert *datastore.Alert, delivery *datastore.NotificationDelivery) error
}

// alertPayload is the JSON shape pushed over live and broker channels.
type alertPayload struct {
	DeliveryID string    `json:"deliveryId"`
	AlertID    string    `json:"alertId"`
	CarID      string    `json:"carId"`
	DeviceID   string    `json:"deviceId"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

func encodeAlertPayload(alert *datastore.Alert, delivery *datastore.NotificationDelivery) ([]byte, error) {
	return json.Marshal(alertPayload{
		DeliveryID: delivery.DeliveryID,
		AlertID:    alert.AlertID,
		CarID:      alert.CarID,
		DeviceID:   alert.DeviceID,
		Type:       alert.Type,
		Severity:   alert.Severity,
		Message:    alert.Message,
		Confidence: alert.Confidence,
		Timestamp:  time.Now().UTC(),
	})
}

// buildSubject renders the one-line delivery subject for an alert.
func buildSubject(alert *datastore.Alert) string {
	return fmt.Sprintf("%s alert for car %s", alert.Type, alert.CarID)
}

// buildMessage renders the delivery body for an alert.
func buildMessage(alert *datastore.Alert) string {
	return fmt.Sprintf("%s detected for car %s (device %s) with confidence %.2f, severity %s",
		alert.Type, alert.CarID, alert.DeviceID, alert.Confidence, alert.Severity)
}
