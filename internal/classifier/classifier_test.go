package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/errors"
)

const testEndpoint = "http://classifier.internal/v1/classify"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()

	settings := &conf.Settings{}
	settings.Classifier.Endpoint = testEndpoint
	settings.Classifier.Timeout = 5 * time.Second
	settings.Classifier.MaxUploadSize = 6 * 1024 * 1024

	client := New(settings)
	t.Cleanup(client.Close)

	mt := httpmock.NewMockTransport()
	client.http.SetTransport(mt)
	return client, mt
}

func TestClassifyObjectResponse(t *testing.T) {
	t.Parallel()
	client, mt := newTestClient(t)

	mt.RegisterResponder("POST", testEndpoint,
		httpmock.NewStringResponder(200, `{"class":"engine_knock","confidence":0.82}`))

	result, err := client.Classify(context.Background(), []byte("audio"), "audio/wav")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.Class)
	assert.Equal(t, "engine_knock", *result.Class)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.82, *result.Confidence, 1e-9)
}

func TestClassifyMissingEndpoint(t *testing.T) {
	t.Parallel()

	client := New(&conf.Settings{})
	t.Cleanup(client.Close)

	_, err := client.Classify(context.Background(), []byte("audio"), "audio/wav")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err), "missing endpoint must be a configuration error, not a network error")
}

func TestClassifyOversizedPayload(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Classifier.Endpoint = testEndpoint
	settings.Classifier.MaxUploadSize = 16
	client := New(settings)
	t.Cleanup(client.Close)

	_, err := client.Classify(context.Background(), make([]byte, 17), "audio/wav")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestClassifyEmptyPayload(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)

	_, err := client.Classify(context.Background(), nil, "audio/wav")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()
	client, mt := newTestClient(t)

	mt.RegisterResponder("POST", testEndpoint,
		httpmock.NewErrorResponder(assert.AnError))

	_, err := client.Classify(context.Background(), []byte("audio"), "audio/wav")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestClassifyHTTPError(t *testing.T) {
	t.Parallel()
	client, mt := newTestClient(t)

	mt.RegisterResponder("POST", testEndpoint,
		httpmock.NewStringResponder(503, "upstream down"))

	_, err := client.Classify(context.Background(), []byte("audio"), "audio/wav")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestNormalizeShapes(t *testing.T) {
	t.Parallel()

	// The same prediction in every accepted wrapper shape must normalize
	// identically.
	payload := `{"class":"glass_break","confidence":0.91}`
	shapes := map[string]string{
		"object":         payload,
		"wrapped object": `[` + payload + `]`,
		"wrapped string": `["{\"class\":\"glass_break\",\"confidence\":0.91}"]`,
		"bare string":    `"{\"class\":\"glass_break\",\"confidence\":0.91}"`,
	}

	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			result, err := Normalize([]byte(body))
			require.NoError(t, err)
			assert.True(t, result.Success)
			require.NotNil(t, result.Class)
			assert.Equal(t, "glass_break", *result.Class)
			require.NotNil(t, result.Confidence)
			assert.InDelta(t, 0.91, *result.Confidence, 1e-9)
		})
	}
}

func TestNormalizeProbabilityMap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           string
		wantClass      string
		wantConfidence float64
		wantProbs      int
	}{
		{
			name:           "argmax under probabilities",
			body:           `{"probabilities":{"engine_knock":0.7,"alarm":0.2,"crash":0.1}}`,
			wantClass:      "engine_knock",
			wantConfidence: 0.7,
			wantProbs:      3,
		},
		{
			name:           "argmax under scores",
			body:           `{"scores":{"tire_screech":0.55,"alarm":0.45}}`,
			wantClass:      "tire_screech",
			wantConfidence: 0.55,
			wantProbs:      2,
		},
		{
			name:           "explicit class wins over argmax",
			body:           `{"class":"alarm","probabilities":{"engine_knock":0.7,"alarm":0.3}}`,
			wantClass:      "alarm",
			wantConfidence: 0.3, // map value for the explicit class
			wantProbs:      2,
		},
		{
			name:           "explicit confidence wins over map value",
			body:           `{"class":"alarm","confidence":0.99,"probabilities":{"alarm":0.3}}`,
			wantClass:      "alarm",
			wantConfidence: 0.99,
			wantProbs:      1,
		},
		{
			name:           "non-numeric values dropped with string coercion",
			body:           `{"probabilities":{"engine_knock":"0.8","alarm":"loud","crash":0.1}}`,
			wantClass:      "engine_knock",
			wantConfidence: 0.8,
			wantProbs:      2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, err := Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.True(t, result.Success)
			require.NotNil(t, result.Class)
			assert.Equal(t, tt.wantClass, *result.Class)
			require.NotNil(t, result.Confidence)
			assert.InDelta(t, tt.wantConfidence, *result.Confidence, 1e-9)
			assert.Len(t, result.Probabilities, tt.wantProbs)
		})
	}
}

func TestNormalizeExplicitFailure(t *testing.T) {
	t.Parallel()

	result, err := Normalize([]byte(`{"success":false,"error":"model not loaded"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestNormalizeNoUsableData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty array", `[]`},
		{"bare non-JSON string", `"all quiet"`},
		{"number payload", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, err := Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.True(t, result.Success, "absence of data is not failure")
			assert.Nil(t, result.Class)
			assert.Nil(t, result.Confidence)
			assert.Empty(t, result.Probabilities)
		})
	}
}

func TestNormalizeMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Normalize([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryClassification))
}

func TestPredictions(t *testing.T) {
	t.Parallel()

	class := "alarm"
	confidence := 0.8
	single := &Result{Success: true, Class: &class, Confidence: &confidence}
	assert.Equal(t, []Prediction{{Type: "alarm", Confidence: 0.8}}, single.Predictions())

	mapped := &Result{Success: true, Probabilities: map[string]float64{"a": 0.1, "b": 0.9}}
	assert.Len(t, mapped.Predictions(), 2)

	empty := &Result{Success: true}
	assert.Nil(t, empty.Predictions())
}
