// Package ingest orchestrates one audio upload from raw bytes to a terminal
// state: the clip is stored, an audit record written, the remote classifier
// consulted, and any sufficiently confident prediction promoted into exactly
// one alert handed to the notification dispatcher.
//
// The pipeline has a deliberate partial-failure boundary: transient
// classifier failures are logged and swallowed, while configuration and
// validation errors from the classifier propagate to the caller. Ingestion
// success means "the audio was received and stored", never "classification
// succeeded" — a transient inference outage must not reject uploads.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carsense/carsense-go/internal/audiostore"
	"github.com/carsense/carsense-go/internal/classifier"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/logging"
	"github.com/carsense/carsense-go/internal/observability/metrics"
	"github.com/carsense/carsense-go/internal/threshold"
)

// Ingestion outcomes recorded on metrics.
const (
	outcomeAlerted        = "alerted"
	outcomeNoAlert        = "no_alert"
	outcomeClassifyFailed = "classify_failed"
	outcomeRejected       = "rejected"
	outcomeStoreFailed    = "store_failed"
)

// Classifier invokes the remote inference endpoint.
type Classifier interface {
	Classify(ctx context.Context, audioBytes []byte, contentType string) (classifier.Result, error)
}

// Dispatcher hands a persisted alert to the notification layer.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *datastore.Alert)
}

// Metadata is the caller-supplied context for one upload.
type Metadata struct {
	CarID     string
	DeviceID  string
	Latitude  *float64
	Longitude *float64
	Timestamp *time.Time
}

// Result reports one completed ingestion to the caller. Predictions carries
// the raw normalized classifications even when none cleared its threshold,
// so callers can observe what the model saw.
type Result struct {
	EventID     string
	ClipPath    string
	Processed   bool
	AlertID     string
	Predictions []classifier.Prediction
}

// Pipeline wires the ingestion stages together. Each call to Process is
// independent; the pipeline holds no per-ingestion state.
type Pipeline struct {
	store      audiostore.Store
	classifier Classifier
	gate       *threshold.Gate
	ds         datastore.Interface
	dispatcher Dispatcher
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger
}

// New builds an ingestion pipeline.
func New(store audiostore.Store, cls Classifier, gate *threshold.Gate, ds datastore.Interface, dispatcher Dispatcher, pipelineMetrics *metrics.PipelineMetrics) *Pipeline {
	return &Pipeline{
		store:      store,
		classifier: cls,
		gate:       gate,
		ds:         ds,
		dispatcher: dispatcher,
		metrics:    pipelineMetrics,
		logger:     logging.ForService("ingest"),
	}
}

// Process runs one ingestion to a terminal state. Validation, storage, and
// caller-fixable classifier failures propagate to the caller; transient
// classification failures complete the ingestion with Processed=false and no
// predictions. The audit record survives either way.
func (p *Pipeline) Process(ctx context.Context, audio []byte, contentType, originalName string, meta Metadata) (Result, error) {
	start := time.Now()

	if err := validate(audio, &meta); err != nil {
		p.recordOutcome(outcomeRejected, start)
		return Result{}, err
	}

	// STORED: clip write plus audit row, before anything can fail downstream
	clip, err := p.store.Save(ctx, originalName, contentType, audio)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordClipStoreError(p.store.Backend())
		}
		p.recordOutcome(outcomeStoreFailed, start)
		return Result{}, err
	}
	if p.metrics != nil {
		p.metrics.RecordClipStored(clip.Backend, clip.Size)
	}

	event := &datastore.AudioEvent{
		EventID:         uuid.New().String(),
		CarID:           meta.CarID,
		DeviceID:        meta.DeviceID,
		EventType:       "audio_upload",
		Latitude:        meta.Latitude,
		Longitude:       meta.Longitude,
		Timestamp:       eventTime(&meta),
		ClipPath:        clip.Path,
		ClipBackend:     clip.Backend,
		ClipSize:        clip.Size,
		ClipContentType: clip.ContentType,
		SampleRate:      clip.SampleRate,
		DurationMs:      clip.DurationMs,
	}
	if err := p.ds.SaveAudioEvent(event); err != nil {
		p.recordOutcome(outcomeStoreFailed, start)
		return Result{}, err
	}

	result := Result{EventID: event.EventID, ClipPath: clip.Path}

	// CLASSIFIED or CLASSIFY_FAILED
	classifyStart := time.Now()
	classification, err := p.classifier.Classify(ctx, audio, contentType)
	switch {
	case err != nil:
		if p.metrics != nil {
			p.metrics.RecordClassification("error", time.Since(classifyStart))
		}
		p.recordOutcome(outcomeClassifyFailed, start)
		// Caller-fixable errors surface to the caller: a misconfigured
		// endpoint or an oversized payload is not a transient outage.
		if errors.IsConfiguration(err) || errors.IsValidation(err) {
			p.logger.Error("classification rejected", "event_id", event.EventID,
				"car_id", meta.CarID, "error", err)
			return result, err
		}
		p.logger.Error("classification failed, completing ingestion without alert",
			"event_id", event.EventID, "car_id", meta.CarID, "error", err)
		return result, nil
	case !classification.Success:
		// the endpoint answered but declared failure; same terminal state
		// as a transport error
		p.logger.Error("classifier declared failure, completing ingestion without alert",
			"event_id", event.EventID, "car_id", meta.CarID)
		if p.metrics != nil {
			p.metrics.RecordClassification("error", time.Since(classifyStart))
		}
		p.recordOutcome(outcomeClassifyFailed, start)
		return result, nil
	}
	if p.metrics != nil {
		p.metrics.RecordClassification("success", time.Since(classifyStart))
	}

	if err := p.ds.MarkEventProcessed(event.EventID); err != nil {
		p.logger.Error("failed to mark event processed", "event_id", event.EventID, "error", err)
	}
	result.Processed = true
	result.Predictions = classification.Predictions()

	// ALERTED or NO_ALERT
	alert, err := p.promote(ctx, event, result.Predictions)
	if err != nil {
		p.logger.Error("alert promotion failed", "event_id", event.EventID, "error", err)
		p.recordOutcome(outcomeNoAlert, start)
		return result, nil
	}
	if alert == nil {
		p.recordOutcome(outcomeNoAlert, start)
		return result, nil
	}

	result.AlertID = alert.AlertID
	p.recordOutcome(outcomeAlerted, start)
	return result, nil
}

// promote evaluates each prediction against the threshold gate and persists
// one alert carrying the strongest qualifying result, or nil when none
// qualifies. Dispatch happens after the alert row exists.
func (p *Pipeline) promote(ctx context.Context, event *datastore.AudioEvent, predictions []classifier.Prediction) (*datastore.Alert, error) {
	var best *classifier.Prediction
	for i := range predictions {
		prediction := &predictions[i]
		above, err := p.gate.IsAboveThreshold(prediction.Type, prediction.Confidence)
		if err != nil {
			return nil, err
		}
		if !above {
			continue
		}
		if best == nil || prediction.Confidence > best.Confidence {
			best = prediction
		}
	}
	if best == nil {
		return nil, nil
	}

	alertType := datastore.NormalizeAlertType(best.Type)
	alert := &datastore.Alert{
		AlertID:      uuid.New().String(),
		AudioEventID: event.ID,
		CarID:        event.CarID,
		DeviceID:     event.DeviceID,
		Type:         alertType,
		Severity:     datastore.SeverityForConfidence(best.Confidence),
		Status:       datastore.AlertActive,
		Message:      alertMessage(alertType, event, best.Confidence),
		Confidence:   best.Confidence,
	}
	if err := p.ds.SaveAlert(alert); err != nil {
		return nil, err
	}
	if err := p.ds.MarkEventAlerted(event.EventID); err != nil {
		p.logger.Error("failed to mark event alerted", "event_id", event.EventID, "error", err)
	}

	if p.metrics != nil {
		p.metrics.RecordAlert(alert.Type, alert.Severity)
	}
	p.logger.Info("alert created",
		"alert_id", alert.AlertID,
		"event_id", event.EventID,
		"type", alert.Type,
		"confidence", alert.Confidence,
		"severity", alert.Severity)

	if p.dispatcher != nil {
		p.dispatcher.Dispatch(ctx, alert)
	}
	return alert, nil
}

func validate(audio []byte, meta *Metadata) error {
	switch {
	case len(audio) == 0:
		return validationError("audio payload is required")
	case meta.CarID == "":
		return validationError("carId is required")
	case meta.DeviceID == "":
		return validationError("deviceId is required")
	}
	return nil
}

func validationError(msg string) error {
	return errors.Newf("%s", msg).
		Component("ingest").
		Category(errors.CategoryValidation).
		Build()
}

func eventTime(meta *Metadata) time.Time {
	if meta.Timestamp != nil {
		return *meta.Timestamp
	}
	return time.Now()
}

func alertMessage(alertType string, event *datastore.AudioEvent, confidence float64) string {
	return fmt.Sprintf("%s detected for car %s (device %s) with confidence %.2f",
		alertType, event.CarID, event.DeviceID, confidence)
}

func (p *Pipeline) recordOutcome(outcome string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordIngestion(outcome, time.Since(start))
	}
}
