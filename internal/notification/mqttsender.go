package notification

import (
	"context"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/mqtt"
)

// MQTTSender publishes alert payloads to the fleet-ops broker topic.
type MQTTSender struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSender creates the MQTT channel sender. The broker connection is
// established lazily on first send so a slow broker never delays startup.
func NewMQTTSender(settings *conf.Settings) (*MQTTSender, error) {
	client, err := mqtt.NewClient(settings)
	if err != nil {
		return nil, err
	}
	topic := settings.Notification.MQTT.Topic
	if topic == "" {
		topic = "carsense/alerts"
	}
	return &MQTTSender{client: client, topic: topic}, nil
}

// Channel returns the channel identifier.
func (s *MQTTSender) Channel() string { return conf.ChannelMQTT }

// Send publishes the alert payload, connecting first if needed.
func (s *MQTTSender) Send(ctx context.Context, alert *datastore.Alert, delivery *datastore.NotificationDelivery) error {
	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryMQTTPublish).
				Context("channel", s.Channel()).
				Build()
		}
	}

	payload, err := encodeAlertPayload(alert, delivery)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Context("channel", s.Channel()).
			Build()
	}

	if err := s.client.Publish(ctx, s.topic, string(payload)); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Context("channel", s.Channel()).
			Context("topic", s.topic).
			Build()
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSender) Close() {
	s.client.Disconnect()
}
