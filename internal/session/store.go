// Package session provides durable, session-keyed conversation
// checkpoints backed by SQLite. The latest checkpoint for a session is
// the authoritative conversation state; loading a session returns
// exactly that turn sequence.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peregrine-ai/peregrine/internal/llm"
)

// Turn is one persisted conversation entry: a user message, an agent
// message (possibly carrying tool calls), or a tool result.
type Turn struct {
	Role       string         `json:"role"` // user, assistant, tool, system
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Info summarizes one known session for listings.
type Info struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TranscriptEntry is one user-visible exchange line.
type TranscriptEntry struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Store persists session checkpoints. Writers for the same session are
// serialized by a per-session lock; the underlying database does not
// arbitrate overlapping writers on its own.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open creates or opens the checkpoint database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// sessionLock returns the write lock for a session id, creating it on
// first use. Locks are never removed; the id space is small (one entry
// per session ever written by this process).
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Load returns the session's turn sequence in arrival order. An
// unknown session yields an empty slice, not an error.
func (s *Store) Load(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&t.Role, &t.Content, &toolCalls, &toolCallID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		t.ToolCallID = toolCallID.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Append durably persists newTurns as the continuation of the
// session's checkpoint. The whole suffix is written in one transaction
// so a concurrent reader never observes a partial checkpoint. The
// session row is created on first append, with its title derived from
// the first user turn.
func (s *Store) Append(sessionID string, newTurns []Turn) error {
	if len(newTurns) == 0 {
		return nil
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO sessions (id, title, created_at, updated_at)
		VALUES (?, '', ?, ?)
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	var nextSeq int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?
	`, sessionID).Scan(&nextSeq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	for i, t := range newTurns {
		var toolCalls any
		if len(t.ToolCalls) > 0 {
			encoded, err := json.Marshal(t.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(encoded)
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err = tx.Exec(`
			INSERT INTO turns (session_id, seq, role, content, tool_calls, tool_call_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID, nextSeq+i, t.Role, t.Content, toolCalls, t.ToolCallID, createdAt)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	// Derive the title once, from the first user turn ever appended.
	if nextSeq == 0 {
		for _, t := range newTurns {
			if t.Role == "user" && t.Content != "" {
				_, err = tx.Exec(`UPDATE sessions SET title = ? WHERE id = ?`,
					Title(t.Content), sessionID)
				if err != nil {
					return fmt.Errorf("set title: %w", err)
				}
				break
			}
		}
	}

	_, err = tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

// List returns all known sessions, most recently updated first.
func (s *Store) List() ([]Info, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.Title, &info.CreatedAt, &info.UpdatedAt, &info.TurnCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Transcript returns the user-visible exchange for a session: user and
// assistant turns with text content, in order. Tool plumbing turns are
// omitted.
func (s *Store) Transcript(sessionID string) ([]TranscriptEntry, error) {
	turns, err := s.Load(sessionID)
	if err != nil {
		return nil, err
	}

	var entries []TranscriptEntry
	for _, t := range turns {
		if (t.Role == "user" || t.Role == "assistant") && t.Content != "" {
			entries = append(entries, TranscriptEntry{Role: t.Role, Content: t.Content})
		}
	}
	return entries, nil
}

// Delete removes a session and all its turns. Deleting an unknown
// session is not an error.
func (s *Store) Delete(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// Stats returns store statistics for the health surface.
func (s *Store) Stats() map[string]any {
	var sessionCount, turnCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessionCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&turnCount)
	return map[string]any{
		"sessions": sessionCount,
		"turns":    turnCount,
	}
}
