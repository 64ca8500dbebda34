package notification

import (
	"context"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/livefanout"
	"github.com/carsense/carsense-go/internal/observability/metrics"
)

// InAppSender delivers alerts over the live fan-out registry. Success means
// the payload was handed to the registry, not that any client received it;
// receipt is acknowledged separately through the delivery ack API.
type InAppSender struct {
	registry *livefanout.Registry
	metrics  *metrics.DeliveryMetrics
}

// NewInAppSender creates the in-app channel sender.
func NewInAppSender(registry *livefanout.Registry, deliveryMetrics *metrics.DeliveryMetrics) *InAppSender {
	return &InAppSender{registry: registry, metrics: deliveryMetrics}
}

// Channel returns the channel identifier.
func (s *InAppSender) Channel() string { return conf.ChannelInApp }

// Send pushes the alert payload to every open connection of the target
// user. A user with no open connections is a successful handoff: the durable
// delivery record is the source of truth, live push is opportunistic.
func (s *InAppSender) Send(ctx context.Context, alert *datastore.Alert, delivery *datastore.NotificationDelivery) error {
	payload, err := encodeAlertPayload(alert, delivery)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryBroadcast).
			Context("channel", s.Channel()).
			Build()
	}

	delivered := s.registry.Push(delivery.UserID, payload)
	if s.metrics != nil {
		switch {
		case delivered > 0:
			s.metrics.RecordLivePush("delivered")
		case s.registry.ConnectionCount(delivery.UserID) == 0:
			s.metrics.RecordLivePush("no_connections")
		default:
			s.metrics.RecordLivePush("dropped")
		}
	}
	return nil
}
