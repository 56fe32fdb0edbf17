// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/peregrine-ai/peregrine/internal/cache"
	"github.com/peregrine-ai/peregrine/internal/places"
	"github.com/peregrine-ai/peregrine/internal/retry"
	"github.com/peregrine-ai/peregrine/internal/weather"
)

// SideEffect classifies what a tool touches when it runs.
type SideEffect string

const (
	// SideEffectPure is a deterministic computation with no I/O.
	SideEffectPure SideEffect = "pure-computation"
	// SideEffectCachedRead is a read against an external service,
	// memoized by the caching wrapper.
	SideEffectCachedRead SideEffect = "cached-network-read"
	// SideEffectMarker is a no-op tool whose invocation itself is the
	// signal (e.g. finalize_plan).
	SideEffectMarker SideEffect = "marker"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	SideEffect  SideEffect     `json:"side_effect"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. The tool set is fixed at
// construction and immutable for the lifetime of the registry.
type Registry struct {
	tools   map[string]*Tool
	names   []string
	weather *weather.Client
	places  *places.Client
	policy  retry.Policy

	geocodeCache *cache.Lookup[places.Coordinates]
	weatherCache *cache.Lookup[*weather.Observation]

	// now is replaceable in tests to steer the weather hour bucket.
	now func() time.Time
}

// Geocode cache holds effectively-permanent entries (coordinates of a
// place do not change); the weather cache turns over every hour via
// its bucketed key.
const (
	geocodeCacheSize = 256
	weatherCacheSize = 128
)

// NewRegistry creates the registry with every built-in tool registered.
func NewRegistry(weatherClient *weather.Client, placesClient *places.Client, policy retry.Policy) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]*Tool),
		weather: weatherClient,
		places:  placesClient,
		policy:  policy,
		now:     time.Now,
	}

	var err error
	r.geocodeCache, err = cache.New(geocodeCacheSize, r.fetchCoordinates)
	if err != nil {
		return nil, err
	}
	r.weatherCache, err = cache.New(weatherCacheSize, r.fetchWeather)
	if err != nil {
		return nil, err
	}

	r.register(r.weatherTool())
	r.register(r.placeTool("search_attractions", "Search top tourist attractions at a place.", "tourism.sights", "attractions"))
	r.register(r.placeTool("search_restaurants", "Search restaurants at a place.", "catering.restaurant", "restaurants"))
	r.register(r.placeTool("search_hotels", "Search hotels at a place.", "accommodation", "hotels"))
	r.register(r.placeTool("search_activities", "Search activities or things to do at a place.", "entertainment,leisure", "activities"))
	r.register(calculatorTool())
	r.register(budgetTool())
	r.register(finalizeTool())

	return r, nil
}

// register is only called from NewRegistry; the set never changes afterward.
func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
	r.names = append(r.names, t.Name)
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// List returns all tool descriptors in the function-call schema shape
// the LLM expects, in registration order.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with decoded arguments. Arguments are
// validated against the tool's schema before the handler runs;
// violations return *InvalidArgumentsError and never reach the
// handler. Handlers convert their own upstream failures to descriptive
// strings, so an error return here means the call itself was
// malformed, not that the tool's work failed.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(tool, args); err != nil {
		return "", err
	}

	return tool.Handler(ctx, args)
}

// validateArgs checks args against the tool's JSON schema.
func validateArgs(tool *Tool, args map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(tool.Parameters),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return &InvalidArgumentsError{ToolName: tool.Name, Issues: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		issues = append(issues, re.String())
	}
	return &InvalidArgumentsError{ToolName: tool.Name, Issues: issues}
}
