package tools

import (
	"context"
	"strconv"
	"strings"
)

// Verdict markers embedded in validate_budget output. The agent loop
// audits tool results for these when a user-specified budget is in play.
const (
	BudgetPassMarker = "BUDGET VALID"
	BudgetFailMarker = "BUDGET EXCEEDED"
)

// budgetTool checks a computed total against the user's limit and, on
// failure, tells the model exactly how to revise the plan before
// presenting it.
func budgetTool() *Tool {
	return &Tool{
		Name:        "validate_budget",
		Description: "Validate whether the total calculated cost of the plan is within the user's budget limit. Always call this before presenting a plan when the user has specified a budget.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"total_cost": map[string]any{
					"type":        "number",
					"description": "The total calculated cost of the plan",
				},
				"budget_limit": map[string]any{
					"type":        "number",
					"description": "The user's maximum budget",
				},
			},
			"required": []string{"total_cost", "budget_limit"},
		},
		SideEffect: SideEffectPure,
		Handler:    handleValidateBudget,
	}
}

func handleValidateBudget(ctx context.Context, args map[string]any) (string, error) {
	totalCost, _ := args["total_cost"].(float64)
	budgetLimit, _ := args["budget_limit"].(float64)

	total := formatAmount(totalCost)
	limit := formatAmount(budgetLimit)

	if totalCost <= budgetLimit {
		savings := formatAmount(budgetLimit - totalCost)
		return BudgetPassMarker + ": Total " + total + " is within budget of " + limit +
			". Savings: " + savings + ". You may present this plan to the user.", nil
	}

	overage := formatAmount(totalCost - budgetLimit)
	return BudgetFailMarker + ": Total " + total + " exceeds budget of " + limit +
		" by " + overage + ". You MUST adjust the plan by: 1) Choosing cheaper hotels, " +
		"2) Reducing paid activities, 3) Selecting budget restaurants. " +
		"Recalculate and validate again. DO NOT present this plan to the user.", nil
}

// IsBudgetPass reports whether a tool result string is a passing
// budget verdict.
func IsBudgetPass(result string) bool {
	return strings.Contains(result, BudgetPassMarker)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
