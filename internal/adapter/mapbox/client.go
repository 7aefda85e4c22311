package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Geocoder using the Mapbox forward geocoding API,
// scoped to the dataset's city and state.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	city       string
	state      string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client for addresses in city, state.
func NewClient(token string, timeout time.Duration, city, state string, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		city:    city,
		state:   state,
		metrics: metrics,
		logger:  logger,
	}
}

// LookupAddress resolves a street address to its postal code.
// An address Mapbox cannot place returns an empty result and no error.
func (c *Client) LookupAddress(ctx context.Context, address string) (domain.GeocodingResult, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(c.query(address)))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address"},
		"country":      {"us"},
	}

	start := time.Now()
	result, err := c.doRequest(ctx, u+"?"+params.Encode())
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
	case result.ZipCode == "":
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		c.logger.Debug("mapbox returned no postcode", "address", address)
	default:
		c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	}
	return result, err
}

// query appends the city and state unless the address already names the city.
func (c *Client) query(address string) string {
	parts := []string{address}
	if c.city != "" && !strings.Contains(strings.ToUpper(address), strings.ToUpper(c.city)) {
		parts = append(parts, c.city)
	}
	if c.state != "" {
		parts = append(parts, c.state)
	}
	return strings.Join(parts, ", ")
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		return domain.GeocodingResult{}, nil
	}

	f := mapboxResp.Features[0]
	return domain.GeocodingResult{
		ZipCode:          f.postcode(),
		FormattedAddress: f.PlaceName,
		Confidence:       f.Relevance,
	}, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	PlaceName string         `json:"place_name"`
	Relevance float64        `json:"relevance"`
	Context   []contextEntry `json:"context"`
}

// contextEntry is one level of the feature's place hierarchy, e.g.
// {"id": "postcode.8431", "text": "75062"}.
type contextEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// postcode returns the 5-digit zip from the feature's context, trimming any
// ZIP+4 suffix.
func (f feature) postcode() string {
	if strings.HasPrefix(f.ID, "postcode.") {
		return zip5(f.Text)
	}
	for _, c := range f.Context {
		if strings.HasPrefix(c.ID, "postcode.") {
			return zip5(c.Text)
		}
	}
	return ""
}

func zip5(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		s = s[:5]
	}
	return s
}
