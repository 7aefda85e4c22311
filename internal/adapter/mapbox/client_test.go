package mapbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func testClient(baseURL string, metrics *observability.Metrics) *Client {
	c := NewClient(testToken, 5*time.Second, "Irving", "TX", metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.baseURL = baseURL
	return c
}

func addressFeature(zip string) feature {
	return feature{
		ID:        "address.123",
		Text:      "Decker Drive",
		PlaceName: "320 Decker Drive, Irving, Texas " + zip + ", United States",
		Relevance: 0.97,
		Context: []contextEntry{
			{ID: "neighborhood.1", Text: "Valley Ranch"},
			{ID: "postcode.8431", Text: zip},
			{ID: "place.99", Text: "Irving"},
		},
	}
}

func TestClient_LookupAddress_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "320 DECKER DR, Irving, TX")
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "address", r.URL.Query().Get("types"))
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))

		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(response{Features: []feature{addressFeature("75062")}}))
	}))
	defer srv.Close()

	metrics := testMetrics()
	c := testClient(srv.URL, metrics)
	result, err := c.LookupAddress(context.Background(), "320 DECKER DR")
	require.NoError(t, err)

	assert.Equal(t, "75062", result.ZipCode)
	assert.Equal(t, "320 Decker Drive, Irving, Texas 75062, United States", result.FormattedAddress)
	assert.InDelta(t, 0.97, result.Confidence, 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues("success")), 0)
}

func TestClient_LookupAddress_TrimsZipPlusFour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(response{Features: []feature{addressFeature("75062-1234")}}))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL, testMetrics()).LookupAddress(context.Background(), "320 DECKER DR")
	require.NoError(t, err)
	assert.Equal(t, "75062", result.ZipCode)
}

func TestClient_LookupAddress_NoPostcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f := addressFeature("")
		f.Context = f.Context[:1]
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(response{Features: []feature{f}}))
	}))
	defer srv.Close()

	metrics := testMetrics()
	result, err := testClient(srv.URL, metrics).LookupAddress(context.Background(), "SOMEWHERE")
	require.NoError(t, err)
	assert.Empty(t, result.ZipCode)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues("empty")), 0)
}

func TestClient_LookupAddress_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(response{Features: []feature{}}))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL, testMetrics()).LookupAddress(context.Background(), "NONEXISTENT")
	require.NoError(t, err)
	assert.Empty(t, result.ZipCode)
	assert.Empty(t, result.FormattedAddress)
}

func TestClient_LookupAddress_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	metrics := testMetrics()
	_, err := testClient(srv.URL, metrics).LookupAddress(context.Background(), "320 DECKER DR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues("error")), 0)
}

func TestClient_LookupAddress_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL, testMetrics())
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.LookupAddress(context.Background(), "320 DECKER DR")
	require.Error(t, err)
}

func TestClient_Query(t *testing.T) {
	c := testClient("", testMetrics())

	assert.Equal(t, "320 DECKER DR, Irving, TX", c.query("320 DECKER DR"))
	assert.Equal(t, "825 W IRVING BLVD IRVING, TX", c.query("825 W IRVING BLVD IRVING"))
}
