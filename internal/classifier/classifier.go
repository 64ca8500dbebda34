// Package classifier invokes the remote audio inference endpoint and
// normalizes its heterogeneous JSON responses into one canonical result
// shape. The endpoint is free to answer with a plain object, a
// single-element array wrapping an object or a JSON-encoded string, or a
// bare JSON-encoded string; callers only ever see Result.
package classifier

import (
	"context"
	"io"
	"time"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/httpclient"
)

// Prediction is one (alert type, confidence) pair derived from a normalized
// classifier response.
type Prediction struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Result is the canonical normalized classifier response. Class and
// Confidence are nil when the endpoint answered without usable prediction
// data; Success is false only when the endpoint explicitly declared failure.
// Callers distinguish "no data" (Success true, nil fields) from "request
// failed" (error return) by construction.
type Result struct {
	Success       bool
	Class         *string
	Confidence    *float64
	Probabilities map[string]float64
}

// Predictions flattens the result for threshold evaluation: every entry of
// the probability map, or the single explicit class/confidence pair when no
// map was returned.
func (r *Result) Predictions() []Prediction {
	if len(r.Probabilities) > 0 {
		preds := make([]Prediction, 0, len(r.Probabilities))
		for label, prob := range r.Probabilities {
			preds = append(preds, Prediction{Type: label, Confidence: prob})
		}
		return preds
	}
	if r.Class != nil && r.Confidence != nil {
		return []Prediction{{Type: *r.Class, Confidence: *r.Confidence}}
	}
	return nil
}

// Client calls the remote classification endpoint.
type Client struct {
	endpoint      string
	maxUploadSize int64
	http          *httpclient.Client
}

// New builds a classifier client from settings. The endpoint may be empty
// here; Classify reports the configuration error per call so a misconfigured
// deployment fails requests loudly instead of failing startup of the whole
// ingestion surface.
func New(settings *conf.Settings) *Client {
	cfg := httpclient.DefaultConfig()
	if settings.Classifier.Timeout > 0 {
		cfg.DefaultTimeout = settings.Classifier.Timeout
	}
	maxSize := settings.Classifier.MaxUploadSize
	if maxSize <= 0 {
		maxSize = 6 * 1024 * 1024
	}
	return &Client{
		endpoint:      settings.Classifier.Endpoint,
		maxUploadSize: maxSize,
		http:          httpclient.New(&cfg),
	}
}

// Close releases the underlying HTTP connection pool.
func (c *Client) Close() {
	c.http.Close()
}

// Classify posts the audio payload to the inference endpoint and returns a
// normalized result. Configuration errors (no endpoint) and transport errors
// are distinct categories; only the latter is sensible to retry.
func (c *Client) Classify(ctx context.Context, audioBytes []byte, contentType string) (Result, error) {
	if c.endpoint == "" {
		return Result{}, errors.Newf("classifier endpoint is not configured").
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len(audioBytes) == 0 {
		return Result{}, errors.Newf("audio payload is empty").
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}
	if int64(len(audioBytes)) > c.maxUploadSize {
		return Result{}, errors.Newf("audio payload exceeds maximum size of %d bytes", c.maxUploadSize).
			Component("classifier").
			Category(errors.CategoryValidation).
			Context("payload_size", len(audioBytes)).
			Build()
	}

	start := time.Now()
	resp, err := c.http.Post(ctx, c.endpoint, contentType, audioBytes)
	if err != nil {
		return Result{}, errors.New(err).
			Component("classifier").
			Category(errors.CategoryNetwork).
			Context("endpoint", c.endpoint).
			Timing("classify", time.Since(start)).
			Build()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, errors.New(err).
			Component("classifier").
			Category(errors.CategoryNetwork).
			Context("operation", "read_response").
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errors.Newf("classifier returned HTTP %d", resp.StatusCode).
			Component("classifier").
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Build()
	}

	return Normalize(body)
}
