package geolocate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stuartshay/hospital-locator/internal/calculator"
)

// StaticProvider always reports the same coordinate.
type StaticProvider struct {
	Coordinate calculator.Coordinate
}

// CurrentPosition implements Provider.
func (p StaticProvider) CurrentPosition(ctx context.Context, _ Options) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	return Fix{Coordinate: p.Coordinate, Timestamp: time.Now()}, nil
}

// GoogleGeolocationURL is the Google Geolocation API endpoint.
const GoogleGeolocationURL = "https://www.googleapis.com/geolocation/v1/geolocate"

// GoogleProvider resolves the position with the Google Geolocation API
// from the caller's network.
type GoogleProvider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewGoogleProvider creates a provider for the given API key.
func NewGoogleProvider(apiKey string) *GoogleProvider {
	return &GoogleProvider{
		apiKey:     apiKey,
		endpoint:   GoogleGeolocationURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type googleResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CurrentPosition implements Provider.
func (g *GoogleProvider) CurrentPosition(ctx context.Context, _ Options) (Fix, error) {
	if g.apiKey == "" {
		return Fix{}, &LocationError{Code: PermissionDenied, Err: errors.New("no API key configured")}
	}

	body, err := json.Marshal(map[string]any{"considerIp": true})
	if err != nil {
		return Fix{}, err
	}

	reqURL := g.endpoint + "?" + url.Values{"key": {g.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return Fix{}, fmt.Errorf("geolocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Fix{}, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var gResp googleResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&gResp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Fix{}, &LocationError{Code: PermissionDenied, Err: fmt.Errorf("google geolocation returned status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return Fix{}, &LocationError{Code: PositionUnavailable, Err: errors.New("google geolocation found no position")}
	case resp.StatusCode != http.StatusOK:
		return Fix{}, &LocationError{Code: PositionUnavailable, Err: fmt.Errorf("google geolocation returned status %d", resp.StatusCode)}
	case decodeErr != nil:
		return Fix{}, &LocationError{Code: PositionUnavailable, Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}

	return Fix{
		Coordinate: calculator.Coordinate{
			Latitude:       gResp.Location.Lat,
			Longitude:      gResp.Location.Lng,
			AccuracyMeters: gResp.Accuracy,
		},
		Timestamp: time.Now(),
	}, nil
}
