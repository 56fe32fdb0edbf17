package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"

	"github.com/peregrine-ai/peregrine/internal/events"
)

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sessions.List()
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	}, s.logger)
}

func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.sessions.Transcript(id)
	if err != nil {
		s.logger.Error("transcript failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if len(entries) == 0 {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"transcript": entries,
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		s.logger.Error("session delete failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	s.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindSessionDeleted,
		Data:   map[string]any{"session_id": id},
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"deleted": true, "session_id": id}, s.logger)
}

// handleSessionExport renders a session transcript as a Markdown
// document, or as standalone HTML with ?format=html.
func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.sessions.Transcript(id)
	if err != nil {
		s.logger.Error("transcript failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if len(entries) == 0 {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	title := "Conversation"
	if infos, err := s.sessions.List(); err == nil {
		for _, info := range infos {
			if info.ID == id {
				title = info.Title
				break
			}
		}
	}

	var md bytes.Buffer
	fmt.Fprintf(&md, "# %s\n\n", title)
	fmt.Fprintf(&md, "_Exported %s_\n\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))
	for _, e := range entries {
		speaker := "You"
		if e.Role == "assistant" {
			speaker = "Peregrine"
		}
		fmt.Fprintf(&md, "## %s\n\n%s\n\n", speaker, e.Content)
	}

	if r.URL.Query().Get("format") != "html" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write(md.Bytes())
		return
	}

	var body bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &body); err != nil {
		s.logger.Error("markdown render failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
%s</body>
</html>
`, title, body.String())
}

// handleSessionQR returns a PNG QR code encoding the session's share
// link (the HTML transcript export).
func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	base := s.shareBaseURL
	if base == "" {
		base = "http://" + r.Host
	}
	link := fmt.Sprintf("%s/api/sessions/%s/export?format=html", base, id)

	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("qr encode failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
