package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh/spinner"
	"golang.org/x/term"

	"nbassist/internal/api"
	"nbassist/internal/chat"
	"nbassist/internal/contextsel"
)

// ChatSendOptions are the inputs of "chat send".
type ChatSendOptions struct {
	SessionID string
	Text      string
	Model     string
	Sources   []string
	Notes     []string
}

func (a *App) chatManager() (*chat.Manager, error) {
	notebookID, err := a.NotebookID()
	if err != nil {
		return nil, err
	}
	return a.NewChatManager(notebookID, nil), nil
}

func ListSessions(ctx context.Context, app *App, out io.Writer) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	sessions, err := mgr.LoadSessions(ctx)
	if err != nil {
		return err
	}
	PrintSessions(out, sessions, mgr.State().CurrentSessionID)
	return nil
}

func CreateSession(ctx context.Context, app *App, title string, out io.Writer) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if strings.TrimSpace(title) == "" {
		title = chat.SessionTitle("")
	}
	session, err := mgr.CreateSession(ctx, title)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, session.ID)
	return nil
}

// ShowSession prints a session's details and messages.
func ShowSession(ctx context.Context, app *App, sessionID string, out io.Writer) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.SwitchSession(ctx, sessionID); err != nil {
		if api.IsNotFound(err) {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return err
	}
	state := mgr.State()
	if session, ok := state.Current(); ok {
		fmt.Fprintln(out, labelStyle.Render(session.Title)+" "+mutedStyle.Render(session.ID))
		if session.ModelOverride != "" {
			fmt.Fprintln(out, mutedStyle.Render("model: ")+valueStyle.Render(session.ModelOverride))
		}
		fmt.Fprintln(out)
	}
	PrintChatMessages(out, state.Messages)
	return nil
}

func RenameSession(ctx context.Context, app *App, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	return updateSession(ctx, app, sessionID, api.SessionUpdate{Title: &title})
}

// SetSessionModel stores a per-session model override. An empty model
// clears it.
func SetSessionModel(ctx context.Context, app *App, sessionID, model string) error {
	model = strings.TrimSpace(model)
	return updateSession(ctx, app, sessionID, api.SessionUpdate{ModelOverride: &model})
}

func updateSession(ctx context.Context, app *App, sessionID string, patch api.SessionUpdate) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	session, err := mgr.UpdateSession(ctx, sessionID, patch)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, successStyle.Render("✓")+" Updated "+valueStyle.Render(session.ID))
	return nil
}

func DeleteSession(ctx context.Context, app *App, sessionID string) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Deleted "+valueStyle.Render(sessionID))
	return nil
}

// SendChat sends one message to a chat session and prints the reply. With
// no session given the newest session is used, or a new one is created.
func SendChat(ctx context.Context, app *App, opts ChatSendOptions, stdout, stderr io.Writer) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := prepareContext(ctx, mgr, opts.Sources, opts.Notes, stderr); err != nil {
		return err
	}

	if opts.SessionID != "" {
		if err := mgr.SwitchSession(ctx, opts.SessionID); err != nil {
			return err
		}
	} else if _, err := mgr.LoadSessions(ctx); err != nil {
		return err
	}

	model := opts.Model
	if model == "" {
		if session, ok := mgr.State().Current(); ok {
			model = session.ModelOverride
		}
	}
	if model == "" {
		model = app.Config.Agent.ModelOverride
	}

	var sendErr error
	send := func() { sendErr = mgr.SendMessage(ctx, opts.Text, model) }
	if isTerminal(stderr) {
		if err := spinner.New().Title("Waiting for the assistant...").Style(spinnerStyle).Action(send).Run(); err != nil {
			return err
		}
	} else {
		send()
	}
	if sendErr != nil {
		return sendErr
	}

	state := mgr.State()
	if len(state.Messages) > 0 {
		last := state.Messages[len(state.Messages)-1]
		if last.Role == api.RoleAI {
			fmt.Fprintln(stdout, last.Content)
		}
	}
	fmt.Fprintln(stderr, mutedStyle.Render(separator))
	fmt.Fprintln(stderr, mutedStyle.Render("Session: ")+valueStyle.Render(state.CurrentSessionID))
	return nil
}

// ShowContext prints the notebook catalog with the modes the given
// selections would apply, and the resulting payload.
func ShowContext(ctx context.Context, app *App, sources, notes []string, out io.Writer) error {
	mgr, err := app.chatManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	sels, err := ParseSelections(sources, notes)
	if err != nil {
		return err
	}
	catalogSources, catalogNotes, err := mgr.RefreshCatalog(ctx)
	if err != nil {
		return err
	}
	unknown, err := ApplySelections(mgr.Selections(), sels, api.IDs(catalogSources), api.IDs(catalogNotes))
	if err != nil {
		return err
	}
	warnUnknown(out, unknown)

	sel := mgr.Selections()
	printCatalog(out, "Sources", contextsel.KindSource, catalogSources, sel)
	printCatalog(out, "Notes", contextsel.KindNote, catalogNotes, sel)
	fmt.Fprintln(out)
	PrintContext(out, sel)
	return nil
}

func prepareContext(ctx context.Context, mgr *chat.Manager, sources, notes []string, warn io.Writer) error {
	sels, err := ParseSelections(sources, notes)
	if err != nil {
		return err
	}
	if len(sels) == 0 {
		return nil
	}
	catalogSources, catalogNotes, err := mgr.RefreshCatalog(ctx)
	if err != nil {
		return err
	}
	unknown, err := ApplySelections(mgr.Selections(), sels, api.IDs(catalogSources), api.IDs(catalogNotes))
	if err != nil {
		return err
	}
	warnUnknown(warn, unknown)
	return nil
}

func warnUnknown(out io.Writer, unknown []string) {
	for _, item := range unknown {
		fmt.Fprintln(out, errorStyle.Render("Warning:")+" "+mutedStyle.Render(item+" is not in this notebook"))
	}
}

func printCatalog(out io.Writer, title string, kind contextsel.Kind, items []api.CatalogItem, sel *contextsel.Model) {
	fmt.Fprintln(out, sectionStyle.Render(title))
	if len(items) == 0 {
		fmt.Fprintln(out, "  "+mutedStyle.Render("none"))
		return
	}
	for _, item := range items {
		mode := sel.Mode(kind, item.ID)
		label := mutedStyle.Render(string(mode))
		if mode != contextsel.ModeOff {
			label = successStyle.Render(string(mode))
		}
		fmt.Fprintf(out, "  %s %s %s\n", bracketStyle.Render("[")+label+bracketStyle.Render("]"), valueStyle.Render(item.ID), item.Title)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
