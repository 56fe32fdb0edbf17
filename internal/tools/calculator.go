package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/Knetic/govaluate"
)

// calculatorPattern whitelists what an expression may contain: numbers,
// the four arithmetic operators, parentheses, commas, whitespace, and
// the aggregate function names. Anything else is rejected before the
// evaluator ever sees it.
var calculatorPattern = regexp.MustCompile(`^(?:[0-9+\-*/().,\s]|sum|min|max)+$`)

// aggregateFunctions are the only callables available to expressions.
var aggregateFunctions = map[string]govaluate.ExpressionFunction{
	"sum": func(args ...any) (any, error) {
		total := 0.0
		for _, a := range args {
			f, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("sum expects numbers")
			}
			total += f
		}
		return total, nil
	},
	"min": func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("min expects at least one number")
		}
		best, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("min expects numbers")
		}
		for _, a := range args[1:] {
			f, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("min expects numbers")
			}
			if f < best {
				best = f
			}
		}
		return best, nil
	},
	"max": func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("max expects at least one number")
		}
		best, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("max expects numbers")
		}
		for _, a := range args[1:] {
			f, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("max expects numbers")
			}
			if f > best {
				best = f
			}
		}
		return best, nil
	},
}

// calculatorTool evaluates restricted arithmetic. Useful for summing
// itinerary costs before a budget check.
func calculatorTool() *Tool {
	return &Tool{
		Name:        "calculator",
		Description: "Calculate the result of a mathematical expression. Useful for summing up costs or calculating budgets. Input should be a valid arithmetic expression string (e.g., \"200 + 500 + 300\").",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Arithmetic expression using numbers, + - * /, parentheses, and sum/min/max",
				},
			},
			"required": []string{"expression"},
		},
		SideEffect: SideEffectPure,
		Handler:    handleCalculator,
	}
}

func handleCalculator(ctx context.Context, args map[string]any) (string, error) {
	expression, _ := args["expression"].(string)
	if expression == "" {
		return "Error calculating: empty expression", nil
	}
	if !calculatorPattern.MatchString(expression) {
		return "Error calculating: expression contains disallowed tokens (only numbers, + - * /, parentheses, and sum/min/max are supported)", nil
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, aggregateFunctions)
	if err != nil {
		return fmt.Sprintf("Error calculating: %v", err), nil
	}

	result, err := expr.Evaluate(nil)
	if err != nil {
		return fmt.Sprintf("Error calculating: %v", err), nil
	}

	f, ok := result.(float64)
	if !ok {
		return fmt.Sprintf("Error calculating: expression did not produce a number (got %v)", result), nil
	}

	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
