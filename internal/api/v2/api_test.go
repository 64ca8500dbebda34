package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsense/carsense-go/internal/audiostore"
	"github.com/carsense/carsense-go/internal/classifier"
	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
	"github.com/carsense/carsense-go/internal/ingest"
	"github.com/carsense/carsense-go/internal/livefanout"
	"github.com/carsense/carsense-go/internal/notification"
	"github.com/carsense/carsense-go/internal/threshold"
)

type fakeClassifier struct {
	result classifier.Result
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, audioBytes []byte, contentType string) (classifier.Result, error) {
	return f.result, f.err
}

type noopSender struct{}

func (noopSender) Channel() string { return conf.ChannelInApp }

func (noopSender) Send(ctx context.Context, alert *datastore.Alert, delivery *datastore.NotificationDelivery) error {
	return nil
}

type testServer struct {
	echo       *echo.Echo
	controller *Controller
	ds         datastore.Interface
	gate       *threshold.Gate
	classifier *fakeClassifier
	registry   *livefanout.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	settings := &conf.Settings{}
	settings.Alerts.Types = []string{"engine_knock", "glass_break", "alarm"}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() {
		require.NoError(t, ds.Close())
	})

	store, err := audiostore.NewLocalStore(filepath.Join(t.TempDir(), "clips"))
	require.NoError(t, err)

	gate := threshold.New(ds, settings)
	cls := &fakeClassifier{}
	registry := livefanout.NewRegistry()
	dispatcher := notification.NewDispatcher(ds, settings, nil, noopSender{})
	t.Cleanup(func() { _ = dispatcher.Close() })

	pipeline := ingest.New(store, cls, gate, ds, dispatcher, nil)

	e := echo.New()
	controller := New(e, ds, settings, pipeline, gate, dispatcher, registry, nil)
	t.Cleanup(controller.Shutdown)

	return &testServer{
		echo:       e,
		controller: controller,
		ds:         ds,
		gate:       gate,
		classifier: cls,
		registry:   registry,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) requestJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	if payload != nil {
		require.NoError(t, json.NewEncoder(body).Encode(payload))
	}
	return ts.request(t, method, path, body, echo.MIMEApplicationJSON)
}

func multipartUpload(t *testing.T, audio []byte, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if audio != nil {
		part, err := w.CreateFormFile("audio", "clip.wav")
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	if metadata != "" {
		require.NoError(t, w.WriteField("metadata", metadata))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v2/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["version"])
}

func TestIngestCreatesAlert(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	require.NoError(t, ts.gate.SetThreshold("engine_knock", 0.5))
	class := "engine_knock"
	confidence := 0.92
	ts.classifier.result = classifier.Result{Success: true, Class: &class, Confidence: &confidence}

	body, contentType := multipartUpload(t, []byte("audio-bytes"), `{"carId":"car-1","deviceId":"dev-1"}`)
	rec := ts.request(t, http.MethodPost, "/api/v2/ingest", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.EventID)
	assert.NotEmpty(t, resp.ClipPath)
	assert.True(t, resp.Processed)
	assert.True(t, resp.AlertGenerated)
	assert.NotEmpty(t, resp.AlertID)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "engine_knock", resp.Results[0].Type)

	alert, err := ts.ds.GetAlert(resp.AlertID)
	require.NoError(t, err)
	assert.Equal(t, "car-1", alert.CarID)
	assert.Equal(t, datastore.SeverityCritical, alert.Severity)
}

func TestIngestBelowThresholdNoAlert(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	require.NoError(t, ts.gate.SetThreshold("engine_knock", 0.9))
	class := "engine_knock"
	confidence := 0.6
	ts.classifier.result = classifier.Result{Success: true, Class: &class, Confidence: &confidence}

	body, contentType := multipartUpload(t, []byte("audio-bytes"), `{"carId":"car-1","deviceId":"dev-1"}`)
	rec := ts.request(t, http.MethodPost, "/api/v2/ingest", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Processed)
	assert.False(t, resp.AlertGenerated)
	assert.Empty(t, resp.AlertID)
	require.Len(t, resp.Results, 1)
}

func TestIngestUnconfiguredClassifierReturns503(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.classifier.err = errors.Newf("classifier endpoint not configured").
		Component("classifier").
		Category(errors.CategoryConfiguration).
		Build()

	body, contentType := multipartUpload(t, []byte("audio-bytes"), `{"carId":"car-1","deviceId":"dev-1"}`)
	rec := ts.request(t, http.MethodPost, "/api/v2/ingest", body, contentType)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestIngestRejectsBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		audio    []byte
		metadata string
	}{
		{"missing audio part", nil, `{"carId":"car-1","deviceId":"dev-1"}`},
		{"missing metadata part", []byte("audio-bytes"), ""},
		{"malformed metadata", []byte("audio-bytes"), `{not json`},
		{"missing car id", []byte("audio-bytes"), `{"deviceId":"dev-1"}`},
		{"missing device id", []byte("audio-bytes"), `{"carId":"car-1"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t)
			body, contentType := multipartUpload(t, tc.audio, tc.metadata)
			rec := ts.request(t, http.MethodPost, "/api/v2/ingest", body, contentType)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestThresholdCRUD(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	// Unconfigured type reads as 404.
	rec := ts.request(t, http.MethodGet, "/api/v2/thresholds/engine_knock", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.requestJSON(t, http.MethodPut, "/api/v2/thresholds/engine_knock", thresholdUpdateRequest{MinThreshold: 0.7})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v2/thresholds/engine_knock", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got thresholdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.7, got.MinThreshold, 1e-9)
	assert.True(t, got.Configured)

	rec = ts.request(t, http.MethodDelete, "/api/v2/thresholds/engine_knock", nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v2/thresholds/engine_knock", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThresholdValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.requestJSON(t, http.MethodPut, "/api/v2/thresholds/engine_knock", thresholdUpdateRequest{MinThreshold: 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.requestJSON(t, http.MethodPut, "/api/v2/thresholds/bird_song", thresholdUpdateRequest{MinThreshold: 0.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListThresholdsShowsUnconfiguredTypes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	require.NoError(t, ts.gate.SetThreshold("glass_break", 0.8))

	rec := ts.request(t, http.MethodGet, "/api/v2/thresholds", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []thresholdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)

	byType := make(map[string]thresholdResponse, len(got))
	for _, entry := range got {
		byType[entry.Type] = entry
	}
	assert.True(t, byType["glass_break"].Configured)
	assert.InDelta(t, 0.8, byType["glass_break"].MinThreshold, 1e-9)
	assert.False(t, byType["engine_knock"].Configured)
	assert.False(t, byType["alarm"].Configured)
}

func TestGetAlertNotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v2/alerts/"+uuid.New().String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRecentAlertsRejectsBadLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v2/alerts?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedDelivery(t *testing.T, ds datastore.Interface) *datastore.NotificationDelivery {
	t.Helper()
	delivery := &datastore.NotificationDelivery{
		DeliveryID: uuid.New().String(),
		AlertID:    uuid.New().String(),
		UserID:     "user-1",
		Channel:    conf.ChannelInApp,
		Status:     datastore.DeliverySent,
		Subject:    "Engine knock detected",
	}
	require.NoError(t, ds.SaveDelivery(delivery))
	return delivery
}

func TestDeliveryAcks(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	delivery := seedDelivery(t, ts.ds)

	rec := ts.request(t, http.MethodPost, "/api/v2/deliveries/"+delivery.DeliveryID+"/delivered", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := ts.ds.GetDelivery(delivery.DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, datastore.DeliveryDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)

	rec = ts.request(t, http.MethodPost, "/api/v2/deliveries/"+delivery.DeliveryID+"/read", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = ts.ds.GetDelivery(delivery.DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, datastore.DeliveryRead, got.Status)
	assert.NotNil(t, got.ReadAt)
}

func TestDeliveryAckUnknownID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v2/deliveries/"+uuid.New().String()+"/delivered", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRequiresUserID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v2/notifications/stream", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamDeliversNotifications(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	srv := httptest.NewServer(ts.echo)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v2/notifications/stream?userId=user-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	readEvent := func() (event, data string) {
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				if event != "" {
					return event, data
				}
			}
		}
		t.Fatalf("stream ended before a complete event: %v", scanner.Err())
		return "", ""
	}

	event, data := readEvent()
	assert.Equal(t, "connected", event)
	assert.Contains(t, data, "clientId")

	require.Eventually(t, func() bool {
		return ts.registry.ConnectionCount("user-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload := `{"alertId":"a-1","type":"engine_knock"}`
	delivered := ts.registry.Push("user-1", []byte(payload))
	assert.Equal(t, 1, delivered)

	event, data = readEvent()
	assert.Equal(t, "notification", event)
	assert.Equal(t, payload, data)

	cancel()
	require.Eventually(t, func() bool {
		return ts.registry.ConnectionCount("user-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
