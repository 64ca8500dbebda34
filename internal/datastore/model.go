// model.go: this code defines the data model for the alert pipeline
package datastore

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Maximum automatic retry attempts per delivery record. Once reached the
// record is terminal-failed and is never picked up by the retry sweep again.
const MaxDeliveryRetries = 3

// Delivery status values form the per-channel delivery state machine:
// PENDING -> SENT -> DELIVERED -> READ, with FAILED reachable from PENDING
// or SENT and retryable back to PENDING below the retry ceiling.
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// Alert status values.
const (
	AlertActive       = "active"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Alert severity values, derived from classification confidence.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// AudioEvent is the audit record of one ingestion attempt, written as soon as
// the clip is stored and kept regardless of whether an alert resulted.
type AudioEvent struct {
	ID              uint   `gorm:"primaryKey"`
	EventID         string `gorm:"type:varchar(36);uniqueIndex;not null"`
	CarID           string `gorm:"size:64;not null;index:idx_audio_events_car"`
	DeviceID        string `gorm:"size:64;not null;index:idx_audio_events_device"`
	EventType       string `gorm:"size:50"`
	Latitude        *float64
	Longitude       *float64
	Timestamp       time.Time `gorm:"index:idx_audio_events_ts"`
	Processed       bool      `gorm:"not null;default:false"`
	AlertGenerated  bool      `gorm:"not null;default:false"`
	ClipPath        string    `gorm:"size:512;not null"`
	ClipBackend     string    `gorm:"size:20;not null"`
	ClipSize        int64
	ClipContentType string `gorm:"size:100"`
	SampleRate      int    // populated when the clip is a parseable WAV
	DurationMs      int64  // populated when the clip is a parseable WAV
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Alert is a promoted, confidence-qualified classification.
type Alert struct {
	ID             uint   `gorm:"primaryKey"`
	AlertID        string `gorm:"type:varchar(36);uniqueIndex;not null"`
	AudioEventID   uint   `gorm:"index;not null"`
	CarID          string `gorm:"size:64;not null;index:idx_alerts_car"`
	DeviceID       string `gorm:"size:64;not null"`
	Type           string `gorm:"size:50;not null;index:idx_alerts_type"`
	Severity       string `gorm:"size:20;not null"`
	Status         string `gorm:"size:20;not null;index:idx_alerts_status"`
	Message        string `gorm:"size:1000"`
	Confidence     float64
	CreatedAt      time.Time `gorm:"index"`
	AcknowledgedAt *time.Time
}

// SeverityForConfidence maps a confidence score to an alert severity.
func SeverityForConfidence(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return SeverityCritical
	case confidence >= 0.75:
		return SeverityHigh
	case confidence >= 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertThreshold holds the per-type minimum confidence required to promote a
// classification into an alert. AlertType is stored normalized (lowercase,
// trimmed) and unique.
type AlertThreshold struct {
	ID           uint   `gorm:"primaryKey"`
	AlertType    string `gorm:"size:50;uniqueIndex;not null"`
	MinThreshold float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeAlertType canonicalizes an alert type for threshold lookups.
func NormalizeAlertType(alertType string) string {
	return strings.ToLower(strings.TrimSpace(alertType))
}

// NotificationDelivery is one attempt to deliver one alert to one user over
// one channel. Retries increment RetryCount on the same record rather than
// creating new rows.
type NotificationDelivery struct {
	ID           uint   `gorm:"primaryKey"`
	DeliveryID   string `gorm:"type:varchar(36);uniqueIndex;not null"`
	AlertID      string `gorm:"type:varchar(36);not null;index:idx_deliveries_alert"`
	UserID       string `gorm:"size:64;not null;index:idx_deliveries_user"`
	Channel      string `gorm:"size:20;not null"`
	Status       string `gorm:"size:20;not null;index:idx_deliveries_status"`
	Subject      string `gorm:"size:255"`
	Message      string `gorm:"size:2000"`
	SentAt       *time.Time
	DeliveredAt  *time.Time
	ReadAt       *time.Time
	FailedAt     *time.Time `gorm:"index"`
	ErrorCode    string     `gorm:"size:50"`
	ErrorMessage string     `gorm:"size:500"`
	ErrorDetails string     `gorm:"type:text"`
	RetryCount   int        `gorm:"not null;default:0"`
	Metadata     string     `gorm:"type:text"` // provider metadata as JSON
	ExpiresAt    *time.Time
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

// MarkAsSent records a successful handoff to the channel transport.
// Handoff success does not imply client receipt.
func (d *NotificationDelivery) MarkAsSent() {
	now := time.Now()
	d.Status = DeliverySent
	d.SentAt = &now
}

// MarkAsDelivered records client-acknowledged delivery. Terminal success.
func (d *NotificationDelivery) MarkAsDelivered() {
	now := time.Now()
	d.Status = DeliveryDelivered
	d.DeliveredAt = &now
}

// MarkAsRead records that the user has seen the notification. Terminal success.
func (d *NotificationDelivery) MarkAsRead() {
	now := time.Now()
	d.Status = DeliveryRead
	if d.DeliveredAt == nil {
		d.DeliveredAt = &now
	}
	d.ReadAt = &now
}

// MarkAsFailed records a structured delivery error and increments the retry
// counter. RetryCount never exceeds MaxDeliveryRetries.
func (d *NotificationDelivery) MarkAsFailed(code, message, details string) {
	now := time.Now()
	d.Status = DeliveryFailed
	d.FailedAt = &now
	d.ErrorCode = code
	d.ErrorMessage = message
	d.ErrorDetails = details
	if d.RetryCount < MaxDeliveryRetries {
		d.RetryCount++
	}
}

// IsTerminal reports whether no further state transitions are expected.
func (d *NotificationDelivery) IsTerminal() bool {
	switch d.Status {
	case DeliveryDelivered, DeliveryRead:
		return true
	case DeliveryFailed:
		return d.RetryCount >= MaxDeliveryRetries
	default:
		return false
	}
}

// CanRetry reports whether the record qualifies for the automatic retry
// sweep: FAILED, below the retry ceiling, and failed within the window.
func (d *NotificationDelivery) CanRetry(window time.Duration) bool {
	if d.Status != DeliveryFailed || d.RetryCount >= MaxDeliveryRetries {
		return false
	}
	return d.FailedAt != nil && time.Since(*d.FailedAt) <= window
}

// SetMetadata serializes arbitrary provider metadata onto the record.
func (d *NotificationDelivery) SetMetadata(meta map[string]any) error {
	if meta == nil {
		d.Metadata = ""
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	d.Metadata = string(b)
	return nil
}

// GetMetadata deserializes provider metadata, returning an empty map when none
// has been stored.
func (d *NotificationDelivery) GetMetadata() (map[string]any, error) {
	if d.Metadata == "" {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(d.Metadata), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// UserChannelConfig is the per-user notification configuration consumed
// read-only by the dispatcher: which channels are enabled and which alert
// types the user subscribes to. Both lists are stored as JSON arrays.
type UserChannelConfig struct {
	ID                   uint   `gorm:"primaryKey"`
	UserID               string `gorm:"size:64;uniqueIndex;not null"`
	EnabledChannels      string `gorm:"type:text"`
	SubscribedAlertTypes string `gorm:"type:text"`
	UpdatedAt            time.Time
}

// Channels returns the user's enabled channel list.
func (c *UserChannelConfig) Channels() []string {
	return decodeStringList(c.EnabledChannels)
}

// AlertTypes returns the user's subscribed alert types.
func (c *UserChannelConfig) AlertTypes() []string {
	return decodeStringList(c.SubscribedAlertTypes)
}

// HasChannel reports whether the channel is enabled for the user.
func (c *UserChannelConfig) HasChannel(channel string) bool {
	return slices.Contains(c.Channels(), channel)
}

// SubscribesTo reports whether the user subscribes to the alert type.
func (c *UserChannelConfig) SubscribesTo(alertType string) bool {
	normalized := NormalizeAlertType(alertType)
	for _, t := range c.AlertTypes() {
		if NormalizeAlertType(t) == normalized {
			return true
		}
	}
	return false
}

// SetChannels stores the enabled channel list.
func (c *UserChannelConfig) SetChannels(channels []string) error {
	encoded, err := encodeStringList(channels)
	if err != nil {
		return err
	}
	c.EnabledChannels = encoded
	return nil
}

// SetAlertTypes stores the subscribed alert type list.
func (c *UserChannelConfig) SetAlertTypes(types []string) error {
	encoded, err := encodeStringList(types)
	if err != nil {
		return err
	}
	c.SubscribedAlertTypes = encoded
	return nil
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

func encodeStringList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Car maps a car to its owning user. The car fleet itself is managed by the
// administrative side of the platform; the pipeline only reads the owner.
type Car struct {
	ID      uint   `gorm:"primaryKey"`
	CarID   string `gorm:"size:64;uniqueIndex;not null"`
	OwnerID string `gorm:"size:64;not null;index"`
}
