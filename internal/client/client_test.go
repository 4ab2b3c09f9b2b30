package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
)

const testAPIKey = "test-api-key-12345"

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{name: "empty API key", apiKey: "", wantErr: ErrMissingAPIKey},
		{name: "whitespace API key", apiKey: "   ", wantErr: ErrMissingAPIKey},
		{name: "too short API key", apiKey: "short", wantErr: ErrMissingAPIKey},
		{name: "valid API key", apiKey: testAPIKey, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("NewOpenWeatherClient() expected client, got nil")
			}
		})
	}
}

func TestOpenWeatherClient_Fetch_Success(t *testing.T) {
	apiResp := map[string]interface{}{
		"name": "Paris",
		"main": map[string]interface{}{"temp": 18.5, "humidity": 60},
		"weather": []map[string]interface{}{
			{"main": "Clear", "description": "ciel dégagé"},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("q") != "paris" {
			t.Errorf("q = %q, want %q", q.Get("q"), "paris")
		}
		if q.Get("appid") != testAPIKey {
			t.Errorf("appid = %q, want test key", q.Get("appid"))
		}
		if q.Get("units") != "metric" {
			t.Errorf("units = %q, want metric", q.Get("units"))
		}
		if q.Get("lang") != "fr" {
			t.Errorf("lang = %q, want fr", q.Get("lang"))
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiResp)
	}))
	defer server.Close()

	client, err := NewOpenWeatherClient(testAPIKey, server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	got, err := client.Fetch(ctx, "paris")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.City != "Paris" {
		t.Errorf("City = %q, want %q", got.City, "Paris")
	}
	if got.TemperatureCelsius != 18.5 {
		t.Errorf("TemperatureCelsius = %v, want 18.5", got.TemperatureCelsius)
	}
	if got.Description != "ciel dégagé" {
		t.Errorf("Description = %q, want %q", got.Description, "ciel dégagé")
	}
}

func TestOpenWeatherClient_Fetch_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"401 unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"404 unknown city", http.StatusNotFound, ErrCityNotFound},
		{"429 rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"400 bad request", http.StatusBadRequest, ErrUpstreamStatus},
		{"500 server error", http.StatusInternalServerError, ErrUpstreamStatus},
		{"502 bad gateway", http.StatusBadGateway, ErrUpstreamStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"cod":"err","message":"nope"}`))
			}))
			defer server.Close()

			client, err := NewOpenWeatherClient(testAPIKey, server.URL, 2*time.Second)
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() error = %v", err)
			}

			_, err = client.Fetch(context.Background(), "Zzzcity")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrUpstream) {
				t.Errorf("Fetch() error = %v, want wrapping ErrUpstream", err)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("upstream called %d times, want exactly 1 (no retries)", n)
			}
		})
	}
}

func TestOpenWeatherClient_Fetch_MalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing name", `{"main":{"temp":10},"weather":[{"description":"pluie"}]}`},
		{"blank name", `{"name":"  ","main":{"temp":10},"weather":[{"description":"pluie"}]}`},
		{"missing main", `{"name":"Lyon","weather":[{"description":"pluie"}]}`},
		{"missing temp", `{"name":"Lyon","main":{"humidity":3},"weather":[{"description":"pluie"}]}`},
		{"temp as string", `{"name":"Lyon","main":{"temp":"10"},"weather":[{"description":"pluie"}]}`},
		{"empty weather", `{"name":"Lyon","main":{"temp":10},"weather":[]}`},
		{"blank description", `{"name":"Lyon","main":{"temp":10},"weather":[{"description":""}]}`},
		{"weather not array", `{"name":"Lyon","main":{"temp":10},"weather":{"description":"pluie"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewOpenWeatherClient(testAPIKey, server.URL, 2*time.Second)
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() error = %v", err)
			}

			got, err := client.Fetch(context.Background(), "lyon")
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("Fetch() error = %v, want ErrMalformedPayload", err)
			}
			if got.City != "" || got.Description != "" || got.TemperatureCelsius != 0 {
				t.Errorf("Fetch() returned partial reading %+v on failure", got)
			}
		})
	}
}

func TestOpenWeatherClient_Fetch_ZeroTemperatureIsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Oslo","main":{"temp":0},"weather":[{"description":"neige"}]}`))
	}))
	defer server.Close()

	client, _ := NewOpenWeatherClient(testAPIKey, server.URL, 2*time.Second)
	got, err := client.Fetch(context.Background(), "oslo")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.TemperatureCelsius != 0 {
		t.Errorf("TemperatureCelsius = %v, want 0", got.TemperatureCelsius)
	}
}

func TestOpenWeatherClient_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewOpenWeatherClient(testAPIKey, server.URL, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	start := time.Now()
	_, err = client.Fetch(context.Background(), "paris")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Fetch() error = %v, want ErrUpstream", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", CategorizeError(err))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch() took %v, want it bounded by the client timeout", elapsed)
	}
}

func TestOpenWeatherClient_Fetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, _ := NewOpenWeatherClient(testAPIKey, url, time.Second)
	_, err := client.Fetch(context.Background(), "paris")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Fetch() error = %v, want ErrUpstream", err)
	}
}

func TestOpenWeatherClient_ValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"valid", http.StatusOK, nil},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"server error", http.StatusServiceUnavailable, ErrUpstreamStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("q") != probeCity {
					t.Errorf("probe city = %q, want %q", r.URL.Query().Get("q"), probeCity)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, _ := NewOpenWeatherClient(testAPIKey, server.URL, time.Second)
			err := client.ValidateAPIKey(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateAPIKey() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
