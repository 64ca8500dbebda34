package notification

import (
	"context"
	"sync"
	"time"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
)

const retentionSweepInterval = 12 * time.Hour

// Worker runs the background delivery maintenance loops: the retry sweep
// that re-drives recent FAILED deliveries, and the retention sweep that
// purges records past the retention window.
type Worker struct {
	dispatcher    *Dispatcher
	ds            datastore.Interface
	retryWindow   time.Duration
	retryInterval time.Duration
	retention     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker builds the maintenance worker from notification settings.
func NewWorker(dispatcher *Dispatcher, ds datastore.Interface, settings *conf.Settings) *Worker {
	retryWindow := settings.Notification.RetryWindow
	if retryWindow <= 0 {
		retryWindow = time.Hour
	}
	retryInterval := settings.Notification.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 5 * time.Minute
	}
	retentionDays := settings.Notification.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Worker{
		dispatcher:    dispatcher,
		ds:            ds,
		retryWindow:   retryWindow,
		retryInterval: retryInterval,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		stop:          make(chan struct{}),
	}
}

// Start launches the background loops. They run until Stop or ctx
// cancellation.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.retryLoop(ctx)
	go w.retentionLoop(ctx)
}

// Stop signals the loops to exit and waits for them.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Worker) retryLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RetrySweep(ctx)
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) retentionLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.PurgeExpired()
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RetrySweep re-attempts FAILED deliveries that are below the retry ceiling
// and failed within the retry window. Each record is claimed with a
// compare-and-set before redelivery, so a sweep racing another sweep (or an
// in-flight dispatch) processes every record at most once.
func (w *Worker) RetrySweep(ctx context.Context) {
	failedAfter := time.Now().Add(-w.retryWindow)
	candidates, err := w.ds.ListRetryableDeliveries(failedAfter, datastore.MaxDeliveryRetries)
	if err != nil {
		w.dispatcher.logger.Error("retry sweep query failed", "error", err)
		return
	}

	for i := range candidates {
		delivery := &candidates[i]

		claimed, err := w.ds.ClaimDeliveryForRetry(delivery.DeliveryID)
		if err != nil {
			w.dispatcher.logger.Error("failed to claim delivery for retry",
				"delivery_id", delivery.DeliveryID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		delivery.Status = datastore.DeliveryPending

		if w.dispatcher.metrics != nil {
			w.dispatcher.metrics.RecordRetryAttempt(delivery.Channel)
		}

		sender, ok := w.dispatcher.senders[delivery.Channel]
		if !ok {
			// channel no longer configured; park the record as failed
			delivery.MarkAsFailed(ErrCodeSendFailed, "channel not configured", "")
			if err := w.ds.UpdateDelivery(delivery); err != nil {
				w.dispatcher.logger.Error("failed to update unroutable delivery",
					"delivery_id", delivery.DeliveryID, "error", err)
			}
			continue
		}

		alert, err := w.ds.GetAlert(delivery.AlertID)
		if err != nil {
			delivery.MarkAsFailed(ErrCodeAlertNotFound, "alert lookup failed for retry", err.Error())
			if err := w.ds.UpdateDelivery(delivery); err != nil {
				w.dispatcher.logger.Error("failed to update orphaned delivery",
					"delivery_id", delivery.DeliveryID, "error", err)
			}
			continue
		}

		w.dispatcher.logger.Info("retrying delivery",
			"delivery_id", delivery.DeliveryID,
			"channel", delivery.Channel,
			"retry_count", delivery.RetryCount)
		w.dispatcher.attempt(ctx, sender, &alert, delivery)
	}
}

// PurgeExpired removes delivery records older than the retention window.
func (w *Worker) PurgeExpired() {
	cutoff := time.Now().Add(-w.retention)
	removed, err := w.ds.DeleteDeliveriesOlderThan(cutoff)
	if err != nil {
		w.dispatcher.logger.Error("retention purge failed", "error", err)
		return
	}
	if removed > 0 {
		w.dispatcher.logger.Info("purged expired delivery records", "count", removed)
		if w.dispatcher.metrics != nil {
			w.dispatcher.metrics.RecordRetentionPurge(removed)
		}
	}
}
