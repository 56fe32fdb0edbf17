package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/peregrine-ai/peregrine/internal/places"
	"github.com/peregrine-ai/peregrine/internal/retry"
)

// defaultPlaceLimit bounds results when the model omits a limit.
const defaultPlaceLimit = 10

// placeTool builds one of the four category search tools. Resolution
// is two-step: place name → coordinates via the geocoding cache, then
// a category-filtered radius search around that point.
func (r *Registry) placeTool(name, description, categories, noun string) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"place": map[string]any{
					"type":        "string",
					"description": "City or location to search places for",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of results to return (default 10)",
					"minimum":     1,
					"maximum":     50,
				},
			},
			"required": []string{"place"},
		},
		SideEffect: SideEffectCachedRead,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return r.handlePlaceSearch(ctx, args, categories, noun)
		},
	}
}

func (r *Registry) handlePlaceSearch(ctx context.Context, args map[string]any, categories, noun string) (string, error) {
	place, _ := args["place"].(string)
	place = strings.TrimSpace(place)
	if place == "" {
		return "Error: place is required.", nil
	}

	limit := defaultPlaceLimit
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	point, ok, err := r.geocode(ctx, place)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if !ok {
		// An unknown location is a final answer, not a failure to retry.
		return fmt.Sprintf("No %s found for '%s'. Please check the location name.", noun, place), nil
	}

	results, err := retry.Do(ctx, r.policy, func(ctx context.Context) ([]places.Place, error) {
		return r.places.Search(ctx, point, categories, limit)
	})
	if err != nil {
		return fmt.Sprintf("Error searching %s for '%s': %v", noun, place, err), nil
	}
	if len(results) == 0 {
		return fmt.Sprintf("No %s found for '%s'. Please check the location name.", noun, place), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s near %s:\n", len(results), noun, place)
	for _, p := range results {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", p.Name, p.Category, p.Address)
	}
	return sb.String(), nil
}

// geocode resolves a place through the permanent coordinate cache.
// Misses go upstream under the retry policy.
func (r *Registry) geocode(ctx context.Context, place string) (places.Coordinates, bool, error) {
	key := strings.ToLower(strings.TrimSpace(place))
	point, err := r.geocodeCache.Get(ctx, key)
	if err != nil {
		if err == errNoSuchPlace {
			return places.Coordinates{}, false, nil
		}
		return places.Coordinates{}, false, err
	}
	return point, true, nil
}

// errNoSuchPlace distinguishes "provider found nothing" from transport
// failures inside the cache fetch path. It is never cached and never
// retried.
var errNoSuchPlace = fmt.Errorf("no geocoding result")

func (r *Registry) fetchCoordinates(ctx context.Context, key string) (places.Coordinates, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (places.Coordinates, error) {
		point, ok, err := r.places.Geocode(ctx, key)
		if err != nil {
			return places.Coordinates{}, err
		}
		if !ok {
			return places.Coordinates{}, errNoSuchPlace
		}
		return point, nil
	})
}
