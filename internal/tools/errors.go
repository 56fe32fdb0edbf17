package tools

import (
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability mismatch,
// not a transient execution failure. Callers should report it to the
// model rather than retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// InvalidArgumentsError is returned when tool call arguments fail
// schema validation. The handler is never invoked.
type InvalidArgumentsError struct {
	ToolName string
	Issues   []string
}

// Error implements the error interface.
func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, strings.Join(e.Issues, "; "))
}
