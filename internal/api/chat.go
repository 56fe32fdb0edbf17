package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/peregrine-ai/peregrine/internal/agent"
	"github.com/peregrine-ai/peregrine/internal/events"
	"github.com/peregrine-ai/peregrine/internal/validate"
)

// ChatRequest is the synchronous chat request body.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the synchronous chat response body. Rejected input
// and failed turns report success=false with a human-readable error;
// the HTTP status stays 200 because the request itself was handled.
type ChatResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if v := validate.Input(req.Message); !v.Valid {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, ChatResponse{
			Success:   false,
			SessionID: req.SessionID,
			Error:     v.Message,
		}, s.logger)
		return
	}

	resp, err := s.loop.Run(r.Context(), &agent.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		s.logger.Error("agent turn failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, ChatResponse{
			Success:   false,
			SessionID: req.SessionID,
			Error:     "I'm sorry, something went wrong handling your request: " + err.Error(),
		}, s.logger)
		return
	}

	s.checkOutputQuality(resp)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Success:   true,
		Response:  resp.Content,
		SessionID: resp.SessionID,
	}, s.logger)
}

// checkOutputQuality runs the advisory response scorer. Issues are
// logged, never blocking.
func (s *Server) checkOutputQuality(resp *agent.Response) {
	report := validate.Output(resp.Content)
	if !report.Valid {
		s.logger.Warn("response quality issues",
			"session", resp.SessionID,
			"score", report.Score,
			"issues", report.Issues,
		)
	}
}

// streamEvent is one SSE frame of an incremental chat turn.
type streamEvent struct {
	Type      string `json:"type"` // thinking, tool_start, tool_end, complete, error
	Message   string `json:"message,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleChatStream runs a chat turn while forwarding the loop's
// progress events as SSE frames. The terminal frame is complete or
// error.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if v := validate.Input(req.Message); !v.Valid {
		s.writeSSE(w, streamEvent{Type: "error", Message: v.Message})
		flusher.Flush()
		return
	}

	requestID, _ := uuid.NewV7()
	rid := requestID.String()

	// Subscribe before the turn starts so no progress event is missed.
	eventCh, cancel := s.bus.Subscribe(64)
	defer cancel()

	type turnResult struct {
		resp *agent.Response
		err  error
	}
	done := make(chan turnResult, 1)
	go func() {
		resp, err := s.loop.Run(r.Context(), &agent.Request{
			SessionID: req.SessionID,
			RequestID: rid,
			Message:   req.Message,
		})
		done <- turnResult{resp, err}
	}()

	for {
		select {
		case ev := <-eventCh:
			if frame, ok := progressFrame(ev, rid); ok {
				s.writeSSE(w, frame)
				flusher.Flush()
			}

		case result := <-done:
			// Forward progress events still buffered before the
			// terminal frame. Everything the turn published is already
			// queued by the time done fires.
			for {
				select {
				case ev := <-eventCh:
					if frame, ok := progressFrame(ev, rid); ok {
						s.writeSSE(w, frame)
					}
					continue
				default:
				}
				break
			}
			if result.err != nil {
				s.logger.Error("agent turn failed", "error", result.err)
				s.writeSSE(w, streamEvent{
					Type:    "error",
					Message: "I'm sorry, something went wrong handling your request: " + result.err.Error(),
				})
				flusher.Flush()
				return
			}
			s.checkOutputQuality(result.resp)
			s.writeSSE(w, streamEvent{
				Type:      "complete",
				Response:  result.resp.Content,
				SessionID: result.resp.SessionID,
			})
			flusher.Flush()
			return

		case <-r.Context().Done():
			return
		}
	}
}

// progressFrame converts a bus event belonging to rid into an SSE
// frame. Events of other requests and lifecycle events the handler
// reports itself (complete, failed) are skipped.
func progressFrame(ev events.Event, rid string) (streamEvent, bool) {
	if ev.Data["request_id"] != rid {
		return streamEvent{}, false
	}
	switch ev.Kind {
	case events.KindThinking:
		return streamEvent{Type: "thinking", Message: "Thinking..."}, true
	case events.KindToolStart:
		tool, _ := ev.Data["tool"].(string)
		message, _ := ev.Data["message"].(string)
		return streamEvent{Type: "tool_start", Tool: tool, Message: message + "..."}, true
	case events.KindToolDone:
		tool, _ := ev.Data["tool"].(string)
		return streamEvent{Type: "tool_end", Message: "Finished " + tool}, true
	}
	return streamEvent{}, false
}

func (s *Server) writeSSE(w http.ResponseWriter, ev streamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Debug("failed to marshal SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE event", "error", err)
	}
}
