// Package weather provides a client for the hosted weather provider.
// The wire format follows the OpenWeather current-conditions API.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/peregrine-ai/peregrine/internal/httpkit"
	"github.com/peregrine-ai/peregrine/internal/retry"
)

// requestTimeout bounds a single upstream call so an unresponsive
// provider cannot stall an agent turn.
const requestTimeout = 10 * time.Second

// Observation is the current weather for a city.
type Observation struct {
	TempC     float64 `json:"temperature"`
	Condition string  `json:"condition"`
	Humidity  int     `json:"humidity"`
}

// Client calls the weather provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a weather client. baseURL should omit the trailing
// slash (e.g. "https://api.openweathermap.org").
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
	}
}

// SetTimeout overrides the per-request timeout (agent.tool_timeout in
// config).
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// wire format of the provider response.
type currentResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Current fetches current conditions for a city in metric units.
// Non-2xx responses are classified transient or permanent so the
// resilience wrapper can decide whether to retry.
func (c *Client) Current(ctx context.Context, city string) (*Observation, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)

	reqURL := c.baseURL + "/data/2.5/weather?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retry.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, retry.ClassifyStatus(resp.StatusCode,
			fmt.Errorf("weather provider: %s", body))
	}

	var wire currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	obs := &Observation{
		TempC:    wire.Main.Temp,
		Humidity: wire.Main.Humidity,
	}
	if len(wire.Weather) > 0 {
		obs.Condition = wire.Weather[0].Description
	}
	return obs, nil
}
