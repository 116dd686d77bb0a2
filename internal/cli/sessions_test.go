package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbassist/internal/api"
)

// chatServer is an in-memory notebook chat backend.
type chatServer struct {
	mu       sync.Mutex
	sessions []api.SessionWithMessages
	executed []api.ExecuteRequest
	nextID   int
}

func (s *chatServer) find(id string) int {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func (s *chatServer) mux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("GET /chat/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "notebook:1", r.URL.Query().Get("notebook_id"))
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []api.ChatSession{}
		for i := len(s.sessions) - 1; i >= 0; i-- {
			out = append(out, s.sessions[i].ChatSession)
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("POST /chat/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextID++
		sess := api.ChatSession{ID: "chat_session:" + string(rune('0'+s.nextID)), NotebookID: req.NotebookID, Title: req.Title}
		s.sessions = append(s.sessions, api.SessionWithMessages{ChatSession: sess})
		writeJSON(w, sess)
	})
	mux.HandleFunc("GET /chat/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		i := s.find(r.PathValue("id"))
		if i < 0 {
			http.Error(w, `{"detail":"Session not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, s.sessions[i])
	})
	mux.HandleFunc("PUT /chat/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch api.SessionUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		s.mu.Lock()
		defer s.mu.Unlock()
		i := s.find(r.PathValue("id"))
		if i < 0 {
			http.Error(w, `{"detail":"Session not found"}`, http.StatusNotFound)
			return
		}
		if patch.Title != nil {
			s.sessions[i].Title = *patch.Title
		}
		if patch.ModelOverride != nil {
			s.sessions[i].ModelOverride = *patch.ModelOverride
		}
		writeJSON(w, s.sessions[i].ChatSession)
	})
	mux.HandleFunc("DELETE /chat/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		i := s.find(r.PathValue("id"))
		if i < 0 {
			http.Error(w, `{"detail":"Session not found"}`, http.StatusNotFound)
			return
		}
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /chat/execute", func(w http.ResponseWriter, r *http.Request) {
		var req api.ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		defer s.mu.Unlock()
		s.executed = append(s.executed, req)
		i := s.find(req.SessionID)
		if i < 0 {
			http.Error(w, `{"detail":"Session not found"}`, http.StatusNotFound)
			return
		}
		sess := &s.sessions[i]
		sess.Messages = append(sess.Messages,
			api.ChatMessage{ID: "m-h", Role: api.RoleHuman, Content: req.Message},
			api.ChatMessage{ID: "m-a", Role: api.RoleAI, Content: "reply to " + req.Message},
		)
		sess.MessageCount = len(sess.Messages)
		writeJSON(w, api.ExecuteResponse{SessionID: sess.ID, Messages: sess.Messages})
	})
	mux.HandleFunc("GET /sources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []api.CatalogItem{{ID: "source:1", Title: "Paper"}, {ID: "source:2", Title: "Talk"}})
	})
	mux.HandleFunc("GET /notes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []api.CatalogItem{{ID: "note:1", Title: "Summary"}})
	})
	return mux
}

func TestSendChatCreatesSessionAndPrintsReply(t *testing.T) {
	srv := &chatServer{}
	app := newTestApp(t, srv.mux(t), false)
	var stdout, stderr bytes.Buffer

	err := SendChat(context.Background(), app, ChatSendOptions{
		Text:    "What does the paper claim?",
		Sources: []string{"source:1=full", "source:7"},
		Notes:   []string{"note:1"},
	}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "reply to What does the paper claim?\n", stdout.String())
	assert.Contains(t, stderr.String(), "source source:7 is not in this notebook")

	require.Len(t, srv.sessions, 1)
	assert.Equal(t, "What does the paper claim?", srv.sessions[0].Title)

	require.Len(t, srv.executed, 1)
	ctx := srv.executed[0].Context
	require.Len(t, ctx.Sources, 1)
	assert.Equal(t, "source:1", ctx.Sources[0].ID)
	assert.Equal(t, "full content", ctx.Sources[0].Content)
	require.Len(t, ctx.Notes, 1)
	assert.Equal(t, "note:1", ctx.Notes[0].ID)
}

func TestSendChatUsesSessionModel(t *testing.T) {
	srv := &chatServer{}
	app := newTestApp(t, srv.mux(t), false)
	ctx := context.Background()

	require.NoError(t, CreateSession(ctx, app, "Existing", &bytes.Buffer{}))
	id := srv.sessions[0].ID
	require.NoError(t, SetSessionModel(ctx, app, id, "model-s"))

	require.NoError(t, SendChat(ctx, app, ChatSendOptions{Text: "hi"}, &bytes.Buffer{}, &bytes.Buffer{}))
	require.Len(t, srv.executed, 1)
	assert.Equal(t, id, srv.executed[0].SessionID)
	assert.Equal(t, "model-s", srv.executed[0].ModelOverride)
}

func TestSessionCommands(t *testing.T) {
	srv := &chatServer{}
	app := newTestApp(t, srv.mux(t), false)
	ctx := context.Background()

	var created bytes.Buffer
	require.NoError(t, CreateSession(ctx, app, "", &created))
	id := srv.sessions[0].ID
	assert.Equal(t, id+"\n", created.String())
	assert.Equal(t, "New Chat", srv.sessions[0].Title)

	require.NoError(t, RenameSession(ctx, app, id, "Renamed"))
	assert.Error(t, RenameSession(ctx, app, id, "  "))

	var list bytes.Buffer
	require.NoError(t, ListSessions(ctx, app, &list))
	assert.Contains(t, list.String(), "Renamed")
	assert.Contains(t, list.String(), "*", "the newest session is selected")
	assert.Contains(t, list.String(), id)

	var show bytes.Buffer
	require.NoError(t, ShowSession(ctx, app, id, &show))
	assert.Contains(t, show.String(), "Renamed")

	require.NoError(t, DeleteSession(ctx, app, id))
	assert.Empty(t, srv.sessions)

	err := ShowSession(ctx, app, id, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestShowContext(t *testing.T) {
	srv := &chatServer{}
	app := newTestApp(t, srv.mux(t), false)
	var out bytes.Buffer

	require.NoError(t, ShowContext(context.Background(), app, []string{"source:2"}, nil, &out))
	text := out.String()
	assert.Contains(t, text, "Paper")
	assert.Contains(t, text, "[insights] source:2 Talk")
	assert.Contains(t, text, "[off] note:1 Summary")
	assert.Contains(t, text, "1 insights")
}
