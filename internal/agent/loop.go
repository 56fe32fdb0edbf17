// Package agent implements the core agent loop: a state machine that
// alternates LLM calls (THINKING) with tool execution (TOOL_DISPATCH)
// until the model produces a final answer.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/peregrine-ai/peregrine/internal/events"
	"github.com/peregrine-ai/peregrine/internal/llm"
	"github.com/peregrine-ai/peregrine/internal/session"
	"github.com/peregrine-ai/peregrine/internal/tools"
)

// defaultMaxIter bounds THINKING/TOOL_DISPATCH alternations per turn.
const defaultMaxIter = 10

// Request represents one incoming user turn. RequestID is optional;
// callers that observe the event bus set it so they can correlate
// events with this turn.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"-"`
	Message   string `json:"message"`
}

// Response is the outcome of one completed turn.
type Response struct {
	Content    string   `json:"content"`
	SessionID  string   `json:"session_id"`
	RequestID  string   `json:"request_id"`
	Iterations int      `json:"iterations"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
}

// Loop is the agent execution loop.
type Loop struct {
	logger   *slog.Logger
	llm      llm.Client
	model    string
	registry *tools.Registry
	store    *session.Store
	bus      *events.Bus
	maxIter  int
}

// NewLoop creates an agent loop. maxIter <= 0 selects the default.
func NewLoop(logger *slog.Logger, client llm.Client, model string, registry *tools.Registry, store *session.Store, maxIter int) *Loop {
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	return &Loop{
		logger:   logger,
		llm:      client,
		model:    model,
		registry: registry,
		store:    store,
		maxIter:  maxIter,
	}
}

// SetBus attaches an event bus for loop observability. The loop works
// without one (events.Bus is nil-safe).
func (l *Loop) SetBus(b *events.Bus) {
	l.bus = b
}

// Ready reports whether the LLM provider is reachable.
func (l *Loop) Ready(ctx context.Context) bool {
	return l.llm.Ping(ctx) == nil
}

// toolLabels are the human-readable progress notices emitted alongside
// tool_start events for streaming consumers.
var toolLabels = map[string]string{
	"get_weather":        "Checking weather",
	"search_hotels":      "Searching for hotels",
	"search_restaurants": "Finding restaurants",
	"search_attractions": "Discovering attractions",
	"search_activities":  "Looking for activities",
	"calculator":         "Calculating costs",
	"validate_budget":    "Validating budget",
	"finalize_plan":      "Finalizing plan",
}

// ToolLabel returns the progress notice for a tool name.
func ToolLabel(name string) string {
	if label, ok := toolLabels[name]; ok {
		return label
	}
	return "Using " + name
}

// Run executes one user turn to completion. Input is assumed already
// validated by the caller (the loop is never invoked for rejected
// input). Any fault inside the turn — including a handler panic — is
// caught here, logged with context, and returned as an error; the
// session checkpoint is only written after the turn succeeds, so a
// failed turn leaves prior conversation state untouched.
func (l *Loop) Run(ctx context.Context, req *Request) (resp *Response, err error) {
	sessionID := req.SessionID
	if sessionID == "" {
		id, idErr := uuid.NewV7()
		if idErr != nil {
			return nil, fmt.Errorf("generate session id: %w", idErr)
		}
		sessionID = id.String()
	}

	rid := req.RequestID
	if rid == "" {
		requestID, _ := uuid.NewV7()
		rid = requestID.String()
	}
	startTime := time.Now()

	var toolsUsed []string

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("agent turn panic",
				"request_id", rid,
				"session", sessionID,
				"query", truncate(req.Message, 100),
				"tools_used", toolsUsed,
				"elapsed", time.Since(startTime).Round(time.Millisecond),
				"panic", r,
			)
			resp = nil
			err = fmt.Errorf("internal error during agent turn: %v", r)
		}
		if err != nil {
			l.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindRequestFailed,
				Data: map[string]any{
					"request_id": rid,
					"session_id": sessionID,
					"error":      err.Error(),
				},
			})
		}
	}()

	l.logger.Info("agent turn started",
		"request_id", rid,
		"session", sessionID,
		"query", truncate(req.Message, 100),
	)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestStart,
		Data:   map[string]any{"request_id": rid, "session_id": sessionID},
	})

	history, err := l.store.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, t := range history {
		messages = append(messages, turnToMessage(t))
	}

	userMsg := llm.Message{Role: "user", Content: req.Message}
	messages = append(messages, userMsg)

	// newTurns accumulates everything this request adds to the
	// checkpoint; it is persisted only after the turn succeeds.
	newTurns := []session.Turn{messageToTurn(userMsg)}

	budgetLimit, budgetRequired := DetectBudget(req.Message)
	budgetPassed := false
	budgetNudged := false

	toolDefs := l.registry.List()

	for iter := range l.maxIter {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		iterStart := time.Now()
		l.logger.Info("llm call",
			"request_id", rid,
			"iter", iter,
			"model", l.model,
			"msgs", len(messages),
		)
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindThinking,
			Data:   map[string]any{"request_id": rid, "iter": iter, "model": l.model},
		})

		llmResp, err := l.llm.Chat(ctx, l.model, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("llm call failed (iter %d): %w", iter, err)
		}

		l.logger.Info("llm response",
			"request_id", rid,
			"iter", iter,
			"input_tokens", llmResp.InputTokens,
			"output_tokens", llmResp.OutputTokens,
			"tool_calls", len(llmResp.Message.ToolCalls),
			"elapsed", time.Since(iterStart).Round(time.Millisecond),
		)

		if len(llmResp.Message.ToolCalls) == 0 {
			// Text-only response. When the user set a budget, a final
			// answer with no passing verdict gets one bounded nudge
			// before DONE is accepted.
			if budgetRequired && !budgetPassed && !budgetNudged {
				budgetNudged = true
				l.logger.Warn("final answer before passing budget verdict, nudging",
					"request_id", rid,
					"budget", budgetLimit,
				)
				messages = append(messages, llmResp.Message)
				newTurns = append(newTurns, messageToTurn(llmResp.Message))

				reminder := llm.Message{
					Role: "system",
					Content: fmt.Sprintf(
						"Reminder: the user specified a budget of %g. Sum the plan's costs with the calculator tool and call validate_budget with the total and %g. Only present the plan after a passing verdict.",
						budgetLimit, budgetLimit),
				}
				messages = append(messages, reminder)
				newTurns = append(newTurns, messageToTurn(reminder))
				continue
			}

			messages = append(messages, llmResp.Message)
			newTurns = append(newTurns, messageToTurn(llmResp.Message))
			return l.finish(rid, sessionID, llmResp.Message.Content, iter+1, toolsUsed, newTurns, startTime)
		}

		// TOOL_DISPATCH: execute requested calls, append results, and
		// hand control back to the model.
		messages = append(messages, llmResp.Message)
		newTurns = append(newTurns, messageToTurn(llmResp.Message))

		results := l.dispatchTools(ctx, rid, iter, llmResp.Message.ToolCalls)
		for i, tc := range llmResp.Message.ToolCalls {
			toolsUsed = append(toolsUsed, tc.Function.Name)
			if tc.Function.Name == "validate_budget" && tools.IsBudgetPass(results[i]) {
				budgetPassed = true
				l.bus.Publish(events.Event{
					Source: events.SourceAgent,
					Kind:   events.KindBudgetAudit,
					Data:   map[string]any{"request_id": rid, "passed": true},
				})
			}

			toolMsg := llm.Message{
				Role:       "tool",
				Content:    results[i],
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			turn := messageToTurn(toolMsg)
			newTurns = append(newTurns, turn)
		}
	}

	// Max iterations exhausted — withhold tools to force a text answer.
	l.logger.Warn("max iterations reached, forcing text response",
		"request_id", rid,
		"max_iter", l.maxIter,
	)
	finalResp, err := l.llm.Chat(ctx, l.model, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("forced final llm call failed: %w", err)
	}
	newTurns = append(newTurns, messageToTurn(finalResp.Message))
	return l.finish(rid, sessionID, finalResp.Message.Content, l.maxIter, toolsUsed, newTurns, startTime)
}

// dispatchTools executes one iteration's tool calls concurrently. The
// calls are read-only against external services and carry no ordering
// dependency; results are returned in request order regardless of
// completion order.
func (l *Loop) dispatchTools(ctx context.Context, rid string, iter int, calls []llm.ToolCall) []string {
	results := make([]string, len(calls))

	var wg conc.WaitGroup
	for i, tc := range calls {
		wg.Go(func() {
			name := tc.Function.Name
			toolStart := time.Now()

			l.logger.Info("tool exec",
				"request_id", rid,
				"iter", iter,
				"tool", name,
			)
			l.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolStart,
				Data: map[string]any{
					"request_id": rid,
					"tool":       name,
					"message":    ToolLabel(name),
				},
			})

			result, err := l.registry.Execute(ctx, name, tc.Function.Arguments)
			ok := err == nil
			if err != nil {
				// Dispatch-level failures (unknown tool, schema
				// violation) become tool output the model can react to.
				result = "Error: " + err.Error()
				l.logger.Error("tool exec failed",
					"request_id", rid,
					"tool", name,
					"error", err,
				)
			} else {
				l.logger.Debug("tool exec done",
					"request_id", rid,
					"tool", name,
					"result_len", len(result),
					"elapsed", time.Since(toolStart).Round(time.Millisecond),
				)
			}
			results[i] = result

			l.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolDone,
				Data: map[string]any{
					"request_id":  rid,
					"tool":        name,
					"ok":          ok,
					"duration_ms": time.Since(toolStart).Milliseconds(),
				},
			})
		})
	}
	wg.Wait()

	return results
}

// finish persists the turn's checkpoint and assembles the response.
func (l *Loop) finish(rid, sessionID, content string, iterations int, toolsUsed []string, newTurns []session.Turn, startTime time.Time) (*Response, error) {
	if err := l.store.Append(sessionID, newTurns); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}

	elapsed := time.Since(startTime)
	l.logger.Info("agent turn completed",
		"request_id", rid,
		"session", sessionID,
		"iterations", iterations,
		"tools_used", toolsUsed,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"request_id": rid,
			"session_id": sessionID,
			"iterations": iterations,
			"tools_used": toolsUsed,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})

	return &Response{
		Content:    content,
		SessionID:  sessionID,
		RequestID:  rid,
		Iterations: iterations,
		ToolsUsed:  toolsUsed,
	}, nil
}

// turnToMessage converts a persisted turn back to its LLM message form.
func turnToMessage(t session.Turn) llm.Message {
	return llm.Message{
		Role:       t.Role,
		Content:    t.Content,
		ToolCalls:  t.ToolCalls,
		ToolCallID: t.ToolCallID,
	}
}

// messageToTurn converts an LLM message to its persisted form.
func messageToTurn(m llm.Message) session.Turn {
	return session.Turn{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		CreatedAt:  time.Now().UTC(),
	}
}

// truncate shortens a string to maxLen characters, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
