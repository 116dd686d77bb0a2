// Package chat manages the chat sessions of one notebook view: the session
// list, the current session and its messages, and the synchronous send with
// optimistic local echo.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nbassist/internal/api"
	"nbassist/internal/contextsel"
	"nbassist/internal/pubsub"
)

const (
	tempIDPrefix   = "temp-"
	titleMaxRunes  = 30
	titleEllipsis  = "..."
	defaultSession = "New Chat"
)

// ErrSending is returned when a send is attempted while another is pending.
var ErrSending = errors.New("a message is already being sent")

// API is the slice of the notebook API the manager uses. *api.Client
// implements it.
type API interface {
	ListSessions(ctx context.Context, notebookID string) ([]api.ChatSession, error)
	CreateSession(ctx context.Context, req api.CreateSessionRequest) (api.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (api.SessionWithMessages, error)
	UpdateSession(ctx context.Context, sessionID string, patch api.SessionUpdate) (api.ChatSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ExecuteChat(ctx context.Context, req api.ExecuteRequest) (api.ExecuteResponse, error)
	ListSources(ctx context.Context, notebookID string) ([]api.CatalogItem, error)
	ListNotes(ctx context.Context, notebookID string) ([]api.CatalogItem, error)
}

// Notice describes a failed user action.
type Notice struct {
	Action string
	Err    error
}

func (n Notice) String() string {
	return fmt.Sprintf("%s failed: %v", n.Action, n.Err)
}

// Notifier surfaces failures to the user.
type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// State is a snapshot of the manager.
type State struct {
	NotebookID       string
	Sessions         []api.ChatSession
	CurrentSessionID string
	Messages         []api.ChatMessage
	Sending          bool
}

// Current returns the current session's metadata when it is in the list.
func (s State) Current() (api.ChatSession, bool) {
	if s.CurrentSessionID == "" {
		return api.ChatSession{}, false
	}
	for _, session := range s.Sessions {
		if session.ID == s.CurrentSessionID {
			return session, true
		}
	}
	return api.ChatSession{}, false
}

func (s State) clone() State {
	out := s
	out.Sessions = slices.Clone(s.Sessions)
	out.Messages = slices.Clone(s.Messages)
	return out
}

type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSelections shares a context model with other views of the notebook.
func WithSelections(sel *contextsel.Model) Option {
	return func(m *Manager) {
		if sel != nil {
			m.selections = sel
		}
	}
}

// Manager owns the sessions of one notebook.
type Manager struct {
	api        API
	selections *contextsel.Model
	notifier   Notifier
	broker     *pubsub.Broker[State]
	log        *zap.Logger

	mu    sync.Mutex
	state State
}

func NewManager(client API, notebookID string, opts ...Option) *Manager {
	m := &Manager{
		api:        client,
		selections: contextsel.New(),
		broker:     pubsub.NewBroker[State](),
		log:        zap.NewNop(),
		state:      State{NotebookID: notebookID},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Selections returns the context model consulted on every send.
func (m *Manager) Selections() *contextsel.Model {
	return m.selections
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *Manager) Subscribe(ctx context.Context) <-chan pubsub.Event[State] {
	return m.broker.Subscribe(ctx)
}

func (m *Manager) Close() {
	m.broker.Shutdown()
}

// LoadSessions fetches the session list. When no session is current, the
// first listed (newest) session is selected and its messages fetched.
func (m *Manager) LoadSessions(ctx context.Context) ([]api.ChatSession, error) {
	notebookID := m.notebookID()
	sessions, err := m.api.ListSessions(ctx, notebookID)
	if err != nil {
		m.notify("load sessions", err)
		return nil, err
	}

	m.mu.Lock()
	m.state.Sessions = slices.Clone(sessions)
	autoSelect := m.state.CurrentSessionID == "" && len(sessions) > 0
	m.mu.Unlock()
	m.publish()

	if autoSelect {
		if err := m.SwitchSession(ctx, sessions[0].ID); err != nil {
			return sessions, err
		}
	}
	return sessions, nil
}

// CreateSession creates a session, refreshes the list and makes the new
// session current.
func (m *Manager) CreateSession(ctx context.Context, title string) (api.ChatSession, error) {
	session, err := m.api.CreateSession(ctx, api.CreateSessionRequest{
		NotebookID: m.notebookID(),
		Title:      strings.TrimSpace(title),
	})
	if err != nil {
		m.notify("create session", err)
		return api.ChatSession{}, err
	}
	m.log.Info("chat session created", zap.String("session_id", session.ID))

	m.mu.Lock()
	m.state.CurrentSessionID = session.ID
	m.state.Messages = nil
	if !containsSession(m.state.Sessions, session.ID) {
		m.state.Sessions = append([]api.ChatSession{session}, m.state.Sessions...)
	}
	m.mu.Unlock()
	m.publish()

	// The list is refetched so server ordering and counts stay authoritative.
	if sessions, err := m.api.ListSessions(ctx, m.notebookID()); err != nil {
		m.log.Warn("refresh sessions after create", zap.Error(err))
	} else {
		m.mu.Lock()
		m.state.Sessions = sessions
		m.mu.Unlock()
		m.publish()
	}
	return session, nil
}

// SwitchSession makes sessionID current and fetches its messages.
func (m *Manager) SwitchSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.state.CurrentSessionID = sessionID
	m.state.Messages = nil
	m.mu.Unlock()
	m.publish()

	if sessionID == "" {
		return nil
	}
	detail, err := m.api.GetSession(ctx, sessionID)
	if err != nil {
		m.notify("load session", err)
		return err
	}

	m.mu.Lock()
	if m.state.CurrentSessionID == sessionID {
		m.state.Messages = detail.Messages
		m.state.Sessions = upsertSession(m.state.Sessions, detail.ChatSession)
	}
	m.mu.Unlock()
	m.publish()
	return nil
}

// UpdateSession applies patch to a session.
func (m *Manager) UpdateSession(ctx context.Context, sessionID string, patch api.SessionUpdate) (api.ChatSession, error) {
	session, err := m.api.UpdateSession(ctx, sessionID, patch)
	if err != nil {
		m.notify("update session", err)
		return api.ChatSession{}, err
	}

	m.mu.Lock()
	m.state.Sessions = upsertSession(m.state.Sessions, session)
	m.mu.Unlock()
	m.publish()
	return session, nil
}

// DeleteSession deletes a session. Deleting the current session leaves no
// session selected and no messages.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.api.DeleteSession(ctx, sessionID); err != nil {
		m.notify("delete session", err)
		return err
	}
	m.log.Info("chat session deleted", zap.String("session_id", sessionID))

	m.mu.Lock()
	m.state.Sessions = slices.DeleteFunc(m.state.Sessions, func(s api.ChatSession) bool {
		return s.ID == sessionID
	})
	if m.state.CurrentSessionID == sessionID {
		m.state.CurrentSessionID = ""
		m.state.Messages = nil
	}
	m.mu.Unlock()
	m.publish()
	return nil
}

// SendMessage sends text to the current session, creating one first when
// none is selected. The message is shown immediately and replaced by the
// server's list once the send resolves; on failure it is removed again.
func (m *Manager) SendMessage(ctx context.Context, text, modelOverride string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("message cannot be empty")
	}

	m.mu.Lock()
	if m.state.Sending {
		m.mu.Unlock()
		return ErrSending
	}
	m.state.Sending = true
	sessionID := m.state.CurrentSessionID
	m.mu.Unlock()
	defer m.endSend()

	if sessionID == "" {
		session, err := m.CreateSession(ctx, SessionTitle(text))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = session.ID
	}

	pending := api.ChatMessage{
		ID:        tempIDPrefix + uuid.NewString(),
		Role:      api.RoleHuman,
		Content:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	m.mu.Lock()
	if m.state.CurrentSessionID == sessionID {
		m.state.Messages = append(m.state.Messages, pending)
	}
	m.mu.Unlock()
	m.publish()

	req := api.ExecuteRequest{
		SessionID:     sessionID,
		Message:       text,
		Context:       m.selections.Payload(),
		ModelOverride: strings.TrimSpace(modelOverride),
	}
	resp, err := m.api.ExecuteChat(ctx, req)
	if err != nil {
		m.mu.Lock()
		if m.state.CurrentSessionID == sessionID {
			m.state.Messages = slices.DeleteFunc(m.state.Messages, func(msg api.ChatMessage) bool {
				return IsPending(msg)
			})
		}
		m.mu.Unlock()
		m.publish()
		m.notify("send message", err)
		return err
	}

	m.mu.Lock()
	// A reply for a session the user has since left must not replace the
	// messages now on screen.
	if m.state.CurrentSessionID == sessionID {
		m.state.Messages = resp.Messages
	} else {
		m.log.Debug("send resolved for inactive session", zap.String("session_id", sessionID))
	}
	m.mu.Unlock()
	m.publish()

	m.refreshSession(ctx, sessionID)
	return nil
}

// RefreshCatalog lists the notebook's sources and notes and prunes
// selections for items that no longer exist.
func (m *Manager) RefreshCatalog(ctx context.Context) ([]api.CatalogItem, []api.CatalogItem, error) {
	notebookID := m.notebookID()
	sources, err := m.api.ListSources(ctx, notebookID)
	if err != nil {
		return nil, nil, fmt.Errorf("list sources: %w", err)
	}
	notes, err := m.api.ListNotes(ctx, notebookID)
	if err != nil {
		return nil, nil, fmt.Errorf("list notes: %w", err)
	}
	m.selections.SetItems(api.IDs(sources), api.IDs(notes))
	return sources, notes, nil
}

// IsPending reports whether msg is a local echo not yet confirmed.
func IsPending(msg api.ChatMessage) bool {
	return strings.HasPrefix(msg.ID, tempIDPrefix)
}

// SessionTitle derives a session title from the first message.
func SessionTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return defaultSession
	}
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

func (m *Manager) refreshSession(ctx context.Context, sessionID string) {
	detail, err := m.api.GetSession(ctx, sessionID)
	if err != nil {
		m.log.Warn("refresh session metadata", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.state.Sessions = upsertSession(m.state.Sessions, detail.ChatSession)
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) endSend() {
	m.mu.Lock()
	m.state.Sending = false
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) notebookID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.NotebookID
}

func (m *Manager) notify(action string, err error) {
	m.log.Warn("chat action failed", zap.String("action", action), zap.Error(err))
	if m.notifier != nil {
		m.notifier.Notify(Notice{Action: action, Err: err})
	}
}

func (m *Manager) publish() {
	m.mu.Lock()
	snap := m.state.clone()
	m.mu.Unlock()
	m.broker.Publish(pubsub.Changed, snap)
}

func containsSession(sessions []api.ChatSession, id string) bool {
	return slices.ContainsFunc(sessions, func(s api.ChatSession) bool { return s.ID == id })
}

func upsertSession(sessions []api.ChatSession, session api.ChatSession) []api.ChatSession {
	for i := range sessions {
		if sessions[i].ID == session.ID {
			out := slices.Clone(sessions)
			out[i] = session
			return out
		}
	}
	return append(slices.Clone(sessions), session)
}
