// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/errors"
	"gorm.io/gorm"
)

// Sentinel errors for datastore lookups.
var (
	ErrAudioEventNotFound = errors.Newf("audio event not found").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrAlertNotFound      = errors.Newf("alert not found").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrThresholdNotFound  = errors.Newf("alert threshold not found").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrDeliveryNotFound   = errors.Newf("notification delivery not found").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrUserConfigNotFound = errors.Newf("user channel config not found").Component("datastore").Category(errors.CategoryNotFound).Build()
	ErrCarNotFound        = errors.Newf("car not found").Component("datastore").Category(errors.CategoryNotFound).Build()
)

// Interface abstracts the underlying database implementation and defines the
// operations the alert pipeline performs against durable storage.
type Interface interface {
	Open() error
	Close() error

	// Audio events (audit trail)
	SaveAudioEvent(event *AudioEvent) error
	GetAudioEvent(eventID string) (AudioEvent, error)
	MarkEventProcessed(eventID string) error
	MarkEventAlerted(eventID string) error

	// Alerts
	SaveAlert(alert *Alert) error
	GetAlert(alertID string) (Alert, error)
	GetRecentAlerts(limit int) ([]Alert, error)
	UpdateAlertStatus(alertID, status string) error

	// Alert thresholds
	GetThreshold(alertType string) (AlertThreshold, error)
	SetThreshold(threshold *AlertThreshold) error
	DeleteThreshold(alertType string) error
	ListThresholds() ([]AlertThreshold, error)

	// User configuration (consumed read-only by the dispatcher)
	GetUserChannelConfig(userID string) (UserChannelConfig, error)
	SaveUserChannelConfig(config *UserChannelConfig) error
	GetCarOwner(carID string) (string, error)

	// Notification deliveries
	SaveDelivery(delivery *NotificationDelivery) error
	UpdateDelivery(delivery *NotificationDelivery) error
	GetDelivery(deliveryID string) (NotificationDelivery, error)
	ListDeliveriesForAlert(alertID string) ([]NotificationDelivery, error)
	ListRetryableDeliveries(failedAfter time.Time, maxRetries int) ([]NotificationDelivery, error)
	ClaimDeliveryForRetry(deliveryID string) (bool, error)
	DeleteDeliveriesOlderThan(cutoff time.Time) (int64, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
// Exactly one backend is enabled; validation guarantees this before New runs.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// performAutoMigration migrates all pipeline entities.
func performAutoMigration(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&AudioEvent{},
		&Alert{},
		&AlertThreshold{},
		&NotificationDelivery{},
		&UserChannelConfig{},
		&Car{},
	); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migration").
			Build()
	}
	return nil
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// --- audio events ---

// SaveAudioEvent inserts the audit record for one ingestion attempt.
func (ds *DataStore) SaveAudioEvent(event *AudioEvent) error {
	if err := ds.DB.Create(event).Error; err != nil {
		return dbError(err, "save_audio_event")
	}
	return nil
}

// GetAudioEvent retrieves an audio event by its public identifier.
func (ds *DataStore) GetAudioEvent(eventID string) (AudioEvent, error) {
	var event AudioEvent
	err := ds.DB.Where("event_id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AudioEvent{}, ErrAudioEventNotFound
	}
	if err != nil {
		return AudioEvent{}, dbError(err, "get_audio_event")
	}
	return event, nil
}

// MarkEventProcessed sets processed=true once classification completed.
func (ds *DataStore) MarkEventProcessed(eventID string) error {
	result := ds.DB.Model(&AudioEvent{}).
		Where("event_id = ?", eventID).
		Update("processed", true)
	if result.Error != nil {
		return dbError(result.Error, "mark_event_processed")
	}
	if result.RowsAffected == 0 {
		return ErrAudioEventNotFound
	}
	return nil
}

// MarkEventAlerted sets alertGenerated=true. The flag is monotonic; there is
// no path back to false.
func (ds *DataStore) MarkEventAlerted(eventID string) error {
	result := ds.DB.Model(&AudioEvent{}).
		Where("event_id = ?", eventID).
		Update("alert_generated", true)
	if result.Error != nil {
		return dbError(result.Error, "mark_event_alerted")
	}
	if result.RowsAffected == 0 {
		return ErrAudioEventNotFound
	}
	return nil
}

// --- alerts ---

// SaveAlert persists a promoted classification.
func (ds *DataStore) SaveAlert(alert *Alert) error {
	if err := ds.DB.Create(alert).Error; err != nil {
		return dbError(err, "save_alert")
	}
	return nil
}

// GetAlert retrieves an alert by its public identifier.
func (ds *DataStore) GetAlert(alertID string) (Alert, error) {
	var alert Alert
	err := ds.DB.Where("alert_id = ?", alertID).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return Alert{}, dbError(err, "get_alert")
	}
	return alert, nil
}

// GetRecentAlerts returns the newest alerts up to limit.
func (ds *DataStore) GetRecentAlerts(limit int) ([]Alert, error) {
	var alerts []Alert
	if err := ds.DB.Order("created_at DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, dbError(err, "get_recent_alerts")
	}
	return alerts, nil
}

// UpdateAlertStatus applies an externally-driven status transition
// (acknowledge/resolve from the UI layer).
func (ds *DataStore) UpdateAlertStatus(alertID, status string) error {
	updates := map[string]any{"status": status}
	if status == AlertAcknowledged {
		updates["acknowledged_at"] = time.Now()
	}
	result := ds.DB.Model(&Alert{}).Where("alert_id = ?", alertID).Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, "update_alert_status")
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// --- thresholds ---

// GetThreshold retrieves the threshold for a normalized alert type.
func (ds *DataStore) GetThreshold(alertType string) (AlertThreshold, error) {
	var threshold AlertThreshold
	err := ds.DB.Where("alert_type = ?", NormalizeAlertType(alertType)).First(&threshold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AlertThreshold{}, ErrThresholdNotFound
	}
	if err != nil {
		return AlertThreshold{}, dbError(err, "get_threshold")
	}
	return threshold, nil
}

// SetThreshold creates or updates a threshold, normalizing the type key.
func (ds *DataStore) SetThreshold(threshold *AlertThreshold) error {
	threshold.AlertType = NormalizeAlertType(threshold.AlertType)

	var existing AlertThreshold
	err := ds.DB.Where("alert_type = ?", threshold.AlertType).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.Create(threshold).Error; err != nil {
			return dbError(err, "create_threshold")
		}
		return nil
	case err != nil:
		return dbError(err, "set_threshold")
	default:
		existing.MinThreshold = threshold.MinThreshold
		if err := ds.DB.Save(&existing).Error; err != nil {
			return dbError(err, "update_threshold")
		}
		*threshold = existing
		return nil
	}
}

// DeleteThreshold removes the threshold for an alert type.
func (ds *DataStore) DeleteThreshold(alertType string) error {
	result := ds.DB.Where("alert_type = ?", NormalizeAlertType(alertType)).Delete(&AlertThreshold{})
	if result.Error != nil {
		return dbError(result.Error, "delete_threshold")
	}
	if result.RowsAffected == 0 {
		return ErrThresholdNotFound
	}
	return nil
}

// ListThresholds returns every configured threshold.
func (ds *DataStore) ListThresholds() ([]AlertThreshold, error) {
	var thresholds []AlertThreshold
	if err := ds.DB.Order("alert_type ASC").Find(&thresholds).Error; err != nil {
		return nil, dbError(err, "list_thresholds")
	}
	return thresholds, nil
}

// --- user configuration ---

// GetUserChannelConfig retrieves the per-user channel configuration.
func (ds *DataStore) GetUserChannelConfig(userID string) (UserChannelConfig, error) {
	var config UserChannelConfig
	err := ds.DB.Where("user_id = ?", userID).First(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserChannelConfig{}, ErrUserConfigNotFound
	}
	if err != nil {
		return UserChannelConfig{}, dbError(err, "get_user_channel_config")
	}
	return config, nil
}

// SaveUserChannelConfig creates or updates a user's channel configuration.
func (ds *DataStore) SaveUserChannelConfig(config *UserChannelConfig) error {
	var existing UserChannelConfig
	err := ds.DB.Where("user_id = ?", config.UserID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.Create(config).Error; err != nil {
			return dbError(err, "create_user_channel_config")
		}
		return nil
	case err != nil:
		return dbError(err, "save_user_channel_config")
	default:
		existing.EnabledChannels = config.EnabledChannels
		existing.SubscribedAlertTypes = config.SubscribedAlertTypes
		if err := ds.DB.Save(&existing).Error; err != nil {
			return dbError(err, "update_user_channel_config")
		}
		*config = existing
		return nil
	}
}

// GetCarOwner resolves the owning user for a car.
func (ds *DataStore) GetCarOwner(carID string) (string, error) {
	var car Car
	err := ds.DB.Where("car_id = ?", carID).First(&car).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCarNotFound
	}
	if err != nil {
		return "", dbError(err, "get_car_owner")
	}
	return car.OwnerID, nil
}

// --- deliveries ---

// SaveDelivery inserts a new delivery record.
func (ds *DataStore) SaveDelivery(delivery *NotificationDelivery) error {
	if err := ds.DB.Create(delivery).Error; err != nil {
		return dbError(err, "save_delivery")
	}
	return nil
}

// UpdateDelivery persists the current state of a delivery record.
func (ds *DataStore) UpdateDelivery(delivery *NotificationDelivery) error {
	result := ds.DB.Model(&NotificationDelivery{}).
		Where("delivery_id = ?", delivery.DeliveryID).
		Select("status", "sent_at", "delivered_at", "read_at", "failed_at",
			"error_code", "error_message", "error_details", "retry_count", "metadata").
		Updates(delivery)
	if result.Error != nil {
		return dbError(result.Error, "update_delivery")
	}
	if result.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// GetDelivery retrieves a delivery record by its public identifier.
func (ds *DataStore) GetDelivery(deliveryID string) (NotificationDelivery, error) {
	var delivery NotificationDelivery
	err := ds.DB.Where("delivery_id = ?", deliveryID).First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotificationDelivery{}, ErrDeliveryNotFound
	}
	if err != nil {
		return NotificationDelivery{}, dbError(err, "get_delivery")
	}
	return delivery, nil
}

// ListDeliveriesForAlert returns every delivery record issued for an alert.
func (ds *DataStore) ListDeliveriesForAlert(alertID string) ([]NotificationDelivery, error) {
	var deliveries []NotificationDelivery
	if err := ds.DB.Where("alert_id = ?", alertID).Find(&deliveries).Error; err != nil {
		return nil, dbError(err, "list_deliveries_for_alert")
	}
	return deliveries, nil
}

// ListRetryableDeliveries returns FAILED records below the retry ceiling that
// failed after the given time.
func (ds *DataStore) ListRetryableDeliveries(failedAfter time.Time, maxRetries int) ([]NotificationDelivery, error) {
	var deliveries []NotificationDelivery
	err := ds.DB.
		Where("status = ? AND retry_count < ? AND failed_at > ?", DeliveryFailed, maxRetries, failedAfter).
		Find(&deliveries).Error
	if err != nil {
		return nil, dbError(err, "list_retryable_deliveries")
	}
	return deliveries, nil
}

// ClaimDeliveryForRetry atomically flips a FAILED record back to PENDING.
// The conditional update acts as a compare-and-set so two sweep workers (or a
// sweep racing an in-flight dispatch) can never re-process the same record.
func (ds *DataStore) ClaimDeliveryForRetry(deliveryID string) (bool, error) {
	result := ds.DB.Model(&NotificationDelivery{}).
		Where("delivery_id = ? AND status = ? AND retry_count < ?",
			deliveryID, DeliveryFailed, MaxDeliveryRetries).
		Update("status", DeliveryPending)
	if result.Error != nil {
		return false, dbError(result.Error, "claim_delivery_for_retry")
	}
	return result.RowsAffected == 1, nil
}

// DeleteDeliveriesOlderThan purges delivery records past the retention window
// and returns the number removed.
func (ds *DataStore) DeleteDeliveriesOlderThan(cutoff time.Time) (int64, error) {
	result := ds.DB.Where("created_at < ?", cutoff).Delete(&NotificationDelivery{})
	if result.Error != nil {
		return 0, dbError(result.Error, "delete_old_deliveries")
	}
	return result.RowsAffected, nil
}
