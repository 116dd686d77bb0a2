package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ListSessions returns the notebook's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, notebookID string) ([]ChatSession, error) {
	query := url.Values{}
	if notebookID != "" {
		query.Set("notebook_id", notebookID)
	}
	var sessions []ChatSession
	if err := c.doJSON(ctx, http.MethodGet, "chat/sessions", query, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (ChatSession, error) {
	var session ChatSession
	if err := c.doJSON(ctx, http.MethodPost, "chat/sessions", nil, req, &session); err != nil {
		return ChatSession{}, err
	}
	return session, nil
}

// GetSession returns a session together with its full message list.
func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionWithMessages, error) {
	path, err := sessionPath(sessionID)
	if err != nil {
		return SessionWithMessages{}, err
	}
	var out SessionWithMessages
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return SessionWithMessages{}, err
	}
	return out, nil
}

func (c *Client) UpdateSession(ctx context.Context, sessionID string, patch SessionUpdate) (ChatSession, error) {
	path, err := sessionPath(sessionID)
	if err != nil {
		return ChatSession{}, err
	}
	var session ChatSession
	if err := c.doJSON(ctx, http.MethodPut, path, nil, patch, &session); err != nil {
		return ChatSession{}, err
	}
	return session, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path, err := sessionPath(sessionID)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// ExecuteChat sends one message synchronously and returns the session's
// authoritative message list.
func (c *Client) ExecuteChat(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	var out ExecuteResponse
	if err := c.doJSON(ctx, http.MethodPost, "chat/execute", nil, req, &out); err != nil {
		return ExecuteResponse{}, err
	}
	return out, nil
}

// ListSources lists the sources of a notebook.
func (c *Client) ListSources(ctx context.Context, notebookID string) ([]CatalogItem, error) {
	return c.listCatalog(ctx, "sources", notebookID)
}

// ListNotes lists the notes of a notebook.
func (c *Client) ListNotes(ctx context.Context, notebookID string) ([]CatalogItem, error) {
	return c.listCatalog(ctx, "notes", notebookID)
}

func (c *Client) listCatalog(ctx context.Context, path, notebookID string) ([]CatalogItem, error) {
	query := url.Values{}
	query.Set("notebook_id", notebookID)
	var items []CatalogItem
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func sessionPath(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("session id cannot be empty")
	}
	return "chat/sessions/" + url.PathEscape(sessionID), nil
}
