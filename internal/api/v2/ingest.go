// internal/api/v2/ingest.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carsense/carsense-go/internal/classifier"
	"github.com/carsense/carsense-go/internal/ingest"
)

// ingestMetadata is the JSON document carried in the multipart "metadata"
// field of an ingestion request.
type ingestMetadata struct {
	CarID    string `json:"carId"`
	DeviceID string `json:"deviceId"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ingestResponse reports a completed ingestion back to the device.
type ingestResponse struct {
	EventID        string                  `json:"eventId"`
	ClipPath       string                  `json:"clipPath"`
	Processed      bool                    `json:"processed"`
	AlertID        string                  `json:"alertId,omitempty"`
	AlertGenerated bool                    `json:"alertGenerated"`
	Results        []classifier.Prediction `json:"results"`
}

// IngestAudio handles POST /api/v2/ingest. The request is multipart form
// data with an "audio" file part and a "metadata" JSON part.
func (c *Controller) IngestAudio(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile("audio")
	if err != nil {
		return c.HandleError(ctx, err, "Missing audio file part", http.StatusBadRequest)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to open audio file part", http.StatusBadRequest)
	}
	defer func() { _ = src.Close() }()

	audio, err := io.ReadAll(src)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read audio file part", http.StatusBadRequest)
	}

	metaRaw := ctx.FormValue("metadata")
	if metaRaw == "" {
		return c.HandleError(ctx, nil, "Missing metadata part", http.StatusBadRequest)
	}

	var meta ingestMetadata
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		return c.HandleError(ctx, err, "Malformed metadata JSON", http.StatusBadRequest)
	}

	pipelineMeta := ingest.Metadata{
		CarID:     meta.CarID,
		DeviceID:  meta.DeviceID,
		Timestamp: meta.Timestamp,
	}
	if meta.Location != nil {
		lat, lon := meta.Location.Latitude, meta.Location.Longitude
		pipelineMeta.Latitude = &lat
		pipelineMeta.Longitude = &lon
	}

	contentType := fileHeader.Header.Get("Content-Type")
	result, err := c.Pipeline.Process(ctx.Request().Context(), audio, contentType, fileHeader.Filename, pipelineMeta)
	if err != nil {
		return c.mapDomainError(ctx, err, "Ingestion failed")
	}

	resp := ingestResponse{
		EventID:        result.EventID,
		ClipPath:       result.ClipPath,
		Processed:      result.Processed,
		AlertID:        result.AlertID,
		AlertGenerated: result.AlertID != "",
		Results:        result.Predictions,
	}
	if resp.Results == nil {
		resp.Results = []classifier.Prediction{}
	}
	return ctx.JSON(http.StatusCreated, resp)
}
