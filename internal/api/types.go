package api

import "nbassist/internal/contextsel"

// Message roles of the synchronous chat.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// ChatSession is a persisted conversation tied to one notebook.
type ChatSession struct {
	ID            string `json:"id"`
	NotebookID    string `json:"notebook_id,omitempty"`
	Title         string `json:"title"`
	ModelOverride string `json:"model_override,omitempty"`
	Created       string `json:"created,omitempty"`
	Updated       string `json:"updated,omitempty"`
	MessageCount  int    `json:"message_count"`
}

// ChatMessage is one entry in a session's history.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionWithMessages is the detail view of a session.
type SessionWithMessages struct {
	ChatSession
	Messages []ChatMessage `json:"messages"`
}

type CreateSessionRequest struct {
	NotebookID    string `json:"notebook_id"`
	Title         string `json:"title,omitempty"`
	ModelOverride string `json:"model_override,omitempty"`
}

// SessionUpdate is a partial update; nil fields are left unchanged.
type SessionUpdate struct {
	Title         *string `json:"title,omitempty"`
	ModelOverride *string `json:"model_override,omitempty"`
}

// ExecuteRequest is the body of the synchronous chat send.
type ExecuteRequest struct {
	SessionID     string             `json:"session_id"`
	Message       string             `json:"message"`
	Context       contextsel.Payload `json:"context"`
	ModelOverride string             `json:"model_override,omitempty"`
}

type ExecuteResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}

// CatalogItem is a source or note as listed by the notebook endpoints.
type CatalogItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// IDs returns the ids of items in order.
func IDs(items []CatalogItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
