package tools

import "context"

// FinalizeToolName is the marker tool's registry name, exported so the
// agent loop and tests can detect "planning is complete" dispatches.
const FinalizeToolName = "finalize_plan"

// finalizeTool acknowledges a complete formatted plan. It does no work;
// its invocation is the signal.
func finalizeTool() *Tool {
	return &Tool{
		Name:        FinalizeToolName,
		Description: "Submit the final comprehensive travel plan. The input should be the full, formatted travel itinerary in Markdown. This signals that the planning process is complete.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"plan_content": map[string]any{
					"type":        "string",
					"description": "The full formatted travel itinerary in Markdown",
				},
			},
			"required": []string{"plan_content"},
		},
		SideEffect: SideEffectMarker,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "Plan submitted successfully.", nil
		},
	}
}
