package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/logging"
	"github.com/carsense/carsense-go/internal/observability/metrics"
)

// Dispatcher routes alerts to the owner's eligible channels and records a
// NotificationDelivery per (alert, user, channel) attempt.
type Dispatcher struct {
	ds      datastore.Interface
	senders map[string]ChannelSender
	limiter *RateLimiter
	metrics *metrics.DeliveryMetrics
	logger  *slog.Logger

	closeLogger func() error
}

// NewDispatcher builds a dispatcher over the datastore and channel senders.
func NewDispatcher(ds datastore.Interface, settings *conf.Settings, deliveryMetrics *metrics.DeliveryMetrics, senders ...ChannelSender) *Dispatcher {
	window := settings.Notification.RateLimit.Window
	if window <= 0 {
		window = time.Minute
	}
	maxEvents := settings.Notification.RateLimit.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 60
	}

	logger, closeLogger, err := logging.NewFileLogger("logs/notifications.log", "notification", slog.LevelInfo)
	if err != nil {
		logger = logging.ForService("notification")
		closeLogger = func() error { return nil }
	}

	d := &Dispatcher{
		ds:          ds,
		senders:     make(map[string]ChannelSender),
		limiter:     NewRateLimiter(window, maxEvents),
		metrics:     deliveryMetrics,
		logger:      logger,
		closeLogger: closeLogger,
	}
	for _, sender := range senders {
		d.senders[sender.Channel()] = sender
	}
	return d
}

// Close releases the dispatcher's file logger.
func (d *Dispatcher) Close() error {
	return d.closeLogger()
}

// Dispatch fans one alert out to the car owner's eligible channels. A
// channel is eligible only when it is in the owner's enabled channels AND
// the alert type is in the owner's subscriptions; ineligibility is a silent
// skip. One channel's failure is recorded on its delivery record and never
// aborts the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *datastore.Alert) {
	if !d.limiter.Allow() {
		d.logger.Warn("notification rate limit exceeded, dropping dispatch",
			"alert_id", alert.AlertID, "alert_type", alert.Type)
		d.recordSkip("rate_limited")
		return
	}

	owner, err := d.ds.GetCarOwner(alert.CarID)
	if err != nil {
		if errors.Is(err, datastore.ErrCarNotFound) {
			d.logger.Warn("no owner registered for car, skipping dispatch",
				"alert_id", alert.AlertID, "car_id", alert.CarID)
		} else {
			d.logger.Error("failed to resolve car owner",
				"alert_id", alert.AlertID, "car_id", alert.CarID, "error", err)
		}
		d.recordSkip("no_owner")
		return
	}

	config, err := d.ds.GetUserChannelConfig(owner)
	if err != nil {
		if !errors.Is(err, datastore.ErrUserConfigNotFound) {
			d.logger.Error("failed to load user channel config",
				"alert_id", alert.AlertID, "user_id", owner, "error", err)
		}
		// no configuration means no enabled channels
		d.recordSkip("channel_disabled")
		return
	}

	if !config.SubscribesTo(alert.Type) {
		d.recordSkip("type_not_subscribed")
		return
	}

	for channel, sender := range d.senders {
		if !config.HasChannel(channel) {
			d.recordSkip("channel_disabled")
			continue
		}
		d.dispatchToChannel(ctx, sender, alert, owner)
	}
}

// dispatchToChannel creates the PENDING record and runs one attempt.
func (d *Dispatcher) dispatchToChannel(ctx context.Context, sender ChannelSender, alert *datastore.Alert, userID string) {
	delivery := &datastore.NotificationDelivery{
		DeliveryID: uuid.New().String(),
		AlertID:    alert.AlertID,
		UserID:     userID,
		Channel:    sender.Channel(),
		Status:     datastore.DeliveryPending,
		Subject:    buildSubject(alert),
		Message:    buildMessage(alert),
	}
	if err := d.ds.SaveDelivery(delivery); err != nil {
		d.logger.Error("failed to persist delivery record",
			"alert_id", alert.AlertID, "channel", sender.Channel(), "error", err)
		return
	}

	d.attempt(ctx, sender, alert, delivery)
}

// attempt runs one delivery attempt against an already persisted record and
// records the resulting transition. Panics in a sender are contained here so
// a misbehaving channel cannot take down dispatch to the others.
func (d *Dispatcher) attempt(ctx context.Context, sender ChannelSender, alert *datastore.Alert, delivery *datastore.NotificationDelivery) {
	start := time.Now()

	var panicked bool
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = errors.Newf("channel sender panicked: %v", r).
					Component("notification").
					Category(errors.CategoryDelivery).
					Context("channel", sender.Channel()).
					Build()
			}
		}()
		return sender.Send(ctx, alert, delivery)
	}()

	if err != nil {
		code := ErrCodeSendFailed
		if panicked {
			code = ErrCodeHandoffPanic
		}
		delivery.MarkAsFailed(code, err.Error(), "")
		d.logger.Error("delivery attempt failed",
			"delivery_id", delivery.DeliveryID,
			"channel", sender.Channel(),
			"retry_count", delivery.RetryCount,
			"error", err)
		if d.metrics != nil {
			d.metrics.RecordDelivery(sender.Channel(), "failed", time.Since(start))
		}
	} else {
		delivery.MarkAsSent()
		d.logger.Info("delivery sent",
			"delivery_id", delivery.DeliveryID,
			"alert_id", delivery.AlertID,
			"channel", sender.Channel())
		if d.metrics != nil {
			d.metrics.RecordDelivery(sender.Channel(), "sent", time.Since(start))
		}
	}

	if err := d.ds.UpdateDelivery(delivery); err != nil {
		d.logger.Error("failed to update delivery record",
			"delivery_id", delivery.DeliveryID, "error", err)
	}
}

// MarkDelivered applies the client-driven DELIVERED ack. Terminal: no
// further retries occur.
func (d *Dispatcher) MarkDelivered(deliveryID string) error {
	return d.ack(deliveryID, func(delivery *datastore.NotificationDelivery) {
		delivery.MarkAsDelivered()
	}, datastore.DeliveryDelivered)
}

// MarkRead applies the client-driven READ ack.
func (d *Dispatcher) MarkRead(deliveryID string) error {
	return d.ack(deliveryID, func(delivery *datastore.NotificationDelivery) {
		delivery.MarkAsRead()
	}, datastore.DeliveryRead)
}

func (d *Dispatcher) ack(deliveryID string, transition func(*datastore.NotificationDelivery), status string) error {
	delivery, err := d.ds.GetDelivery(deliveryID)
	if err != nil {
		return err
	}
	transition(&delivery)
	if err := d.ds.UpdateDelivery(&delivery); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.RecordAck(delivery.Channel, status)
	}
	return nil
}

func (d *Dispatcher) recordSkip(reason string) {
	if d.metrics != nil {
		d.metrics.RecordEligibilitySkip(reason)
	}
}
