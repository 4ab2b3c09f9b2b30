package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
)

// WeatherClient fetches current conditions for a city from the upstream provider.
type WeatherClient interface {
	Fetch(ctx context.Context, city string) (models.WeatherReading, error)
	ValidateAPIKey(ctx context.Context) error
}

// ErrUpstream is the single failure kind for anything that goes wrong talking to the provider.
// The more specific errors below all wrap it.
var ErrUpstream = errors.New("upstream error")

var (
	ErrInvalidAPIKey    = fmt.Errorf("%w: invalid API key", ErrUpstream)
	ErrCityNotFound     = fmt.Errorf("%w: city not found", ErrUpstream)
	ErrRateLimited      = fmt.Errorf("%w: rate limited", ErrUpstream)
	ErrUpstreamStatus   = fmt.Errorf("%w: unexpected status", ErrUpstream)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrUpstream)
)

// ErrMissingAPIKey is returned by the constructor; it is a configuration error, not an upstream one.
var ErrMissingAPIKey = errors.New("weather API key is required")

const (
	// DefaultAPIURL is the OpenWeatherMap current weather endpoint.
	DefaultAPIURL = "https://api.openweathermap.org/data/2.5/weather"

	maxBodyBytes = 1 << 20
	probeCity    = "Paris"
)

// OpenWeatherClient calls the OpenWeatherMap current weather endpoint. One attempt per call.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
}

// NewOpenWeatherClient returns a client bound to apiKey. timeout caps each upstream call.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: key appears invalid (too short)", ErrMissingAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Fetch returns the current reading for city. Every failure wraps ErrUpstream.
func (c *OpenWeatherClient) Fetch(ctx context.Context, city string) (models.WeatherReading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city)
	if err != nil {
		return c.fail(fmt.Errorf("%w: build request: %w", ErrUpstream, err))
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return c.fail(fmt.Errorf("%w: http request: %w", ErrUpstream, err))
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := checkStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return c.fail(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.fail(fmt.Errorf("%w: read response body: %w", ErrUpstream, err))
	}

	reading, err := parseReading(body)
	if err != nil {
		return c.fail(err)
	}
	return reading, nil
}

func (c *OpenWeatherClient) fail(err error) (models.WeatherReading, error) {
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return models.WeatherReading{}, err
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	params.Set("lang", "fr")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func checkStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case http.StatusNotFound:
		return ErrCityNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamStatus, code)
	}
	return nil
}

// parseReading extracts name, main.temp and weather[0].description. Anything missing fails closed.
func parseReading(body []byte) (models.WeatherReading, error) {
	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: parse response: %w", ErrMalformedPayload, err)
	}

	name := strings.TrimSpace(apiResp.Name)
	if name == "" {
		return models.WeatherReading{}, fmt.Errorf("%w: missing name", ErrMalformedPayload)
	}
	if apiResp.Main == nil || apiResp.Main.Temp == nil {
		return models.WeatherReading{}, fmt.Errorf("%w: missing main.temp", ErrMalformedPayload)
	}
	if len(apiResp.Weather) == 0 {
		return models.WeatherReading{}, fmt.Errorf("%w: missing weather[0]", ErrMalformedPayload)
	}
	description := strings.TrimSpace(apiResp.Weather[0].Description)
	if description == "" {
		return models.WeatherReading{}, fmt.Errorf("%w: missing weather[0].description", ErrMalformedPayload)
	}

	return models.WeatherReading{
		City:               name,
		TemperatureCelsius: *apiResp.Main.Temp,
		Description:        description,
	}, nil
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// ValidateAPIKey probes the provider with a known city. Used by the health check.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(ctx, probeCity)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: validation request: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return checkStatus(resp.StatusCode)
}
