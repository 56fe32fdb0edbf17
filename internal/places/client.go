// Package places provides a client for the hosted geocoding and
// places-search provider. The wire format follows the Geoapify
// geocode and places APIs.
package places

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

// requestTimeout bounds a single upstream call.
const requestTimeout = 10 * time.Second

// searchRadiusMeters is the circle filter around a geocoded point.
const searchRadiusMeters = 20000

// Coordinates is a geocoded point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is one search result.
type Place struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Address  string `json:"address"`
}

// Client calls the geocoding and places provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a places client. baseURL should omit the trailing
// slash (e.g. "https://api.geoapify.com").
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

type featureCollection struct {
	Features []struct {
		Properties struct {
			Lat        float64  `json:"lat"`
			Lon        float64  `json:"lon"`
			Name       string   `json:"name"`
			Categories []string `json:"categories"`
			Formatted  string   `json:"formatted"`
		} `json:"properties"`
	} `json:"features"`
}

// Geocode resolves a place name to coordinates. ok is false when the
// provider has no match — an invalid location is not an error and is
// never retried.
func (c *Client) Geocode(ctx context.Context, place string) (Coordinates, bool, error) {
	q := url.Values{}
	q.Set("text", place)
	q.Set("apiKey", c.apiKey)

	fc, err := c.get(ctx, c.baseURL+"/v1/geocode/search?"+q.Encode(), "geocoding")
	if err != nil {
		return Coordinates{}, false, err
	}
	if len(fc.Features) == 0 {
		return Coordinates{}, false, nil
	}
	props := fc.Features[0].Properties
	return Coordinates{Lat: props.Lat, Lon: props.Lon}, true, nil
}

// Search returns up to limit places in the given categories within a
// 20 km radius of the point.
func (c *Client) Search(ctx context.Context, point Coordinates, categories string, limit int) ([]Place, error) {
	q := url.Values{}
	q.Set("categories", categories)
	q.Set("filter", fmt.Sprintf("circle:%g,%g,%d", point.Lon, point.Lat, searchRadiusMeters))
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("apiKey", c.apiKey)

	fc, err := c.get(ctx, c.baseURL+"/v2/places?"+q.Encode(), "places")
	if err != nil {
		return nil, err
	}

	results := make([]Place, 0, len(fc.Features))
	for _, f := range fc.Features {
		props := f.Properties
		p := Place{
			Name:     props.Name,
			Category: "unknown",
			Address:  props.Formatted,
		}
		if p.Name == "" {
			p.Name = "Unknown"
		}
		if len(props.Categories) > 0 {
			p.Category = props.Categories[0]
		}
		if p.Address == "" {
			p.Address = "No address available"
		}
		results = append(results, p)
	}
	return results, nil
}

// get performs a GET against the provider and decodes the feature
// collection. Non-2xx responses are classified for the resilience
// wrapper; 401 is reported as a key problem.
func (c *Client) get(ctx context.Context, reqURL, service string) (*featureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retry.TransientError{Err: fmt.Errorf("could not connect to %s service: %w", service, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		httpkit.DrainAndClose(resp.Body, 512)
		return nil, &retry.PermanentError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s API key is invalid or missing", service),
		}
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, retry.ClassifyStatus(resp.StatusCode,
			fmt.Errorf("%s service error: %s", service, body))
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &fc, nil
}
