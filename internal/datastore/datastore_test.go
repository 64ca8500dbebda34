package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a SQLite store against a throwaway database file.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func newTestEvent() *AudioEvent {
	return &AudioEvent{
		EventID:         uuid.New().String(),
		CarID:           "car-1",
		DeviceID:        "dev-1",
		EventType:       "audio_upload",
		Timestamp:       time.Now(),
		ClipPath:        "uploads/audio/clip.wav",
		ClipBackend:     "local",
		ClipSize:        1024,
		ClipContentType: "audio/wav",
	}
}

func TestAudioEventLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	event := newTestEvent()
	require.NoError(t, store.SaveAudioEvent(event))

	got, err := store.GetAudioEvent(event.EventID)
	require.NoError(t, err)
	assert.Equal(t, "car-1", got.CarID)
	assert.False(t, got.Processed)
	assert.False(t, got.AlertGenerated)

	require.NoError(t, store.MarkEventProcessed(event.EventID))
	require.NoError(t, store.MarkEventAlerted(event.EventID))

	got, err = store.GetAudioEvent(event.EventID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.True(t, got.AlertGenerated)
}

func TestAudioEventNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.GetAudioEvent("missing")
	assert.ErrorIs(t, err, ErrAudioEventNotFound)
	assert.ErrorIs(t, store.MarkEventProcessed("missing"), ErrAudioEventNotFound)
}

func TestAlertLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	event := newTestEvent()
	require.NoError(t, store.SaveAudioEvent(event))

	alert := &Alert{
		AlertID:      uuid.New().String(),
		AudioEventID: event.ID,
		CarID:        "car-1",
		DeviceID:     "dev-1",
		Type:         "engine_knock",
		Severity:     SeverityHigh,
		Status:       AlertActive,
		Message:      "engine_knock detected with confidence 0.82",
		Confidence:   0.82,
	}
	require.NoError(t, store.SaveAlert(alert))

	got, err := store.GetAlert(alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, "engine_knock", got.Type)
	assert.Nil(t, got.AcknowledgedAt)

	require.NoError(t, store.UpdateAlertStatus(alert.AlertID, AlertAcknowledged))
	got, err = store.GetAlert(alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, AlertAcknowledged, got.Status)
	assert.NotNil(t, got.AcknowledgedAt)

	recent, err := store.GetRecentAlerts(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestThresholdCRUD(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	// Type key is normalized on write
	require.NoError(t, store.SetThreshold(&AlertThreshold{AlertType: "  Engine_Knock ", MinThreshold: 0.5}))

	got, err := store.GetThreshold("engine_knock")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.MinThreshold, 1e-9)

	// Upsert keeps a single row per type
	require.NoError(t, store.SetThreshold(&AlertThreshold{AlertType: "engine_knock", MinThreshold: 0.9}))
	got, err = store.GetThreshold("ENGINE_KNOCK")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.MinThreshold, 1e-9)

	all, err := store.ListThresholds()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteThreshold("engine_knock"))
	_, err = store.GetThreshold("engine_knock")
	assert.ErrorIs(t, err, ErrThresholdNotFound)
	assert.ErrorIs(t, store.DeleteThreshold("engine_knock"), ErrThresholdNotFound)
}

func TestUserChannelConfig(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	config := &UserChannelConfig{UserID: "user-1"}
	require.NoError(t, config.SetChannels([]string{conf.ChannelInApp, conf.ChannelPush}))
	require.NoError(t, config.SetAlertTypes([]string{"engine_knock"}))
	require.NoError(t, store.SaveUserChannelConfig(config))

	got, err := store.GetUserChannelConfig("user-1")
	require.NoError(t, err)
	assert.True(t, got.HasChannel(conf.ChannelInApp))
	assert.False(t, got.HasChannel(conf.ChannelMQTT))
	assert.True(t, got.SubscribesTo("Engine_Knock"))
	assert.False(t, got.SubscribesTo("glass_break"))

	_, err = store.GetUserChannelConfig("missing")
	assert.ErrorIs(t, err, ErrUserConfigNotFound)
}

func TestGetCarOwner(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, store.DB.Create(&Car{CarID: "car-1", OwnerID: "user-1"}).Error)

	owner, err := store.GetCarOwner("car-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	_, err = store.GetCarOwner("car-2")
	assert.ErrorIs(t, err, ErrCarNotFound)
}

func newTestDelivery() *NotificationDelivery {
	return &NotificationDelivery{
		DeliveryID: uuid.New().String(),
		AlertID:    uuid.New().String(),
		UserID:     "user-1",
		Channel:    conf.ChannelInApp,
		Status:     DeliveryPending,
		Subject:    "engine_knock alert",
		Message:    "engine_knock detected for car-1",
	}
}

func TestDeliveryStateMachine(t *testing.T) {
	t.Parallel()

	d := newTestDelivery()
	assert.False(t, d.IsTerminal())

	d.MarkAsSent()
	assert.Equal(t, DeliverySent, d.Status)
	assert.NotNil(t, d.SentAt)

	d.MarkAsDelivered()
	assert.Equal(t, DeliveryDelivered, d.Status)
	assert.True(t, d.IsTerminal())

	d.MarkAsRead()
	assert.Equal(t, DeliveryRead, d.Status)
	assert.NotNil(t, d.ReadAt)
	assert.True(t, d.IsTerminal())
}

func TestDeliveryRetryCeiling(t *testing.T) {
	t.Parallel()

	d := newTestDelivery()
	for i := range MaxDeliveryRetries + 2 {
		d.MarkAsFailed("E_SEND", "send failed", "")
		// RetryCount must never exceed the ceiling regardless of how many
		// failures are recorded
		assert.LessOrEqual(t, d.RetryCount, MaxDeliveryRetries, "iteration %d", i)
	}
	assert.Equal(t, MaxDeliveryRetries, d.RetryCount)
	assert.True(t, d.IsTerminal())
	assert.False(t, d.CanRetry(time.Hour))
}

func TestDeliveryCanRetryWindow(t *testing.T) {
	t.Parallel()

	d := newTestDelivery()
	d.MarkAsFailed("E_SEND", "send failed", "")
	assert.True(t, d.CanRetry(time.Hour))

	stale := time.Now().Add(-2 * time.Hour)
	d.FailedAt = &stale
	assert.False(t, d.CanRetry(time.Hour))
}

func TestClaimDeliveryForRetry(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	d := newTestDelivery()
	d.MarkAsFailed("E_SEND", "send failed", "")
	require.NoError(t, store.SaveDelivery(d))

	claimed, err := store.ClaimDeliveryForRetry(d.DeliveryID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim must lose the compare-and-set
	claimed, err = store.ClaimDeliveryForRetry(d.DeliveryID)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := store.GetDelivery(d.DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryPending, got.Status)
}

func TestClaimExhaustedDeliveryRejected(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	d := newTestDelivery()
	for range MaxDeliveryRetries {
		d.MarkAsFailed("E_SEND", "send failed", "")
	}
	require.NoError(t, store.SaveDelivery(d))

	claimed, err := store.ClaimDeliveryForRetry(d.DeliveryID)
	require.NoError(t, err)
	assert.False(t, claimed, "a record at the retry ceiling must never be claimed")
}

func TestListRetryableDeliveries(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	fresh := newTestDelivery()
	fresh.MarkAsFailed("E_SEND", "send failed", "")
	require.NoError(t, store.SaveDelivery(fresh))

	exhausted := newTestDelivery()
	for range MaxDeliveryRetries {
		exhausted.MarkAsFailed("E_SEND", "send failed", "")
	}
	require.NoError(t, store.SaveDelivery(exhausted))

	delivered := newTestDelivery()
	delivered.MarkAsDelivered()
	require.NoError(t, store.SaveDelivery(delivered))

	retryable, err := store.ListRetryableDeliveries(time.Now().Add(-time.Hour), MaxDeliveryRetries)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, fresh.DeliveryID, retryable[0].DeliveryID)
}

func TestDeliveryRetention(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	old := newTestDelivery()
	require.NoError(t, store.SaveDelivery(old))
	// Backdate past the retention window
	require.NoError(t, store.DB.Model(&NotificationDelivery{}).
		Where("delivery_id = ?", old.DeliveryID).
		Update("created_at", time.Now().AddDate(0, 0, -91)).Error)

	recent := newTestDelivery()
	require.NoError(t, store.SaveDelivery(recent))

	removed, err := store.DeleteDeliveriesOlderThan(time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetDelivery(old.DeliveryID)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
	_, err = store.GetDelivery(recent.DeliveryID)
	assert.NoError(t, err)
}

func TestDeliveryMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	d := newTestDelivery()
	require.NoError(t, d.SetMetadata(map[string]any{"provider": "shoutrrr", "attempt": 1.0}))

	meta, err := d.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, "shoutrrr", meta["provider"])
}

func TestSeverityForConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SeverityCritical, SeverityForConfidence(0.95))
	assert.Equal(t, SeverityHigh, SeverityForConfidence(0.8))
	assert.Equal(t, SeverityMedium, SeverityForConfidence(0.65))
	assert.Equal(t, SeverityLow, SeverityForConfidence(0.3))
}
