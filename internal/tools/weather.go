package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/peregrine-ai/peregrine/internal/cache"
	"github.com/peregrine-ai/peregrine/internal/retry"
	"github.com/peregrine-ai/peregrine/internal/weather"
)

// weatherTool reports current conditions for a city. Reads are
// memoized per (city, hour bucket) so repeated questions about the
// same city within an hour cost one upstream call.
func (r *Registry) weatherTool() *Tool {
	return &Tool{
		Name:        "get_weather",
		Description: "Get current weather information for a city: temperature in Celsius, conditions, and humidity.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name (e.g., Paris, Tokyo)",
				},
			},
			"required": []string{"city"},
		},
		SideEffect: SideEffectCachedRead,
		Handler:    r.handleGetWeather,
	}
}

func (r *Registry) handleGetWeather(ctx context.Context, args map[string]any) (string, error) {
	city, _ := args["city"].(string)
	city = strings.TrimSpace(city)
	if city == "" {
		return "Error: city is required.", nil
	}

	key := weatherKey(city, r)
	obs, err := r.weatherCache.Get(ctx, key)
	if err != nil {
		// Upstream failures become tool output the model can react to.
		return fmt.Sprintf("Error: unable to fetch weather data for '%s': %v", city, err), nil
	}

	return fmt.Sprintf("Weather in %s:\nTemperature: %.1f°C\nCondition: %s\nHumidity: %d%%",
		city, obs.TempC, obs.Condition, obs.Humidity), nil
}

// weatherKey buckets the cache key by hour so entries expire naturally.
func weatherKey(city string, r *Registry) string {
	return strings.ToLower(city) + "|" + cache.HourBucket(r.now())
}

// fetchWeather is the cache-miss path: the retry policy wraps the live
// call, so a cached value never triggers retries.
func (r *Registry) fetchWeather(ctx context.Context, key string) (*weather.Observation, error) {
	city, _, _ := strings.Cut(key, "|")
	return retry.Do(ctx, r.policy, func(ctx context.Context) (*weather.Observation, error) {
		return r.weather.Current(ctx, city)
	})
}
