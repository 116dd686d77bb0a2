package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nbassist/config"
	"nbassist/internal/agentrun"
	"nbassist/internal/api"
	"nbassist/internal/chat"
	"nbassist/internal/contextsel"
)

// ReplOptions configure an interactive session.
type ReplOptions struct {
	// Chat talks to notebook chat sessions instead of the agent.
	Chat      bool
	ThreadID  string
	SessionID string
	Verbose   bool
}

var errQuit = errors.New("quit")

// parseCommand splits a "/name arg..." line. Plain text is not a command.
func parseCommand(line string) (string, []string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", nil, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

type replHandler interface {
	prompt() string
	send(ctx context.Context, text string) error
	command(ctx context.Context, name string, args []string) error
	help() []string
	reload(cfg config.Client)
	close()
}

// Repl reads lines from in until EOF or /quit. Lines starting with "/" are
// commands; everything else is sent as a message.
func Repl(ctx context.Context, app *App, opts ReplOptions, in io.Reader, stdout, stderr io.Writer) error {
	var (
		h   replHandler
		err error
	)
	if opts.Chat {
		h, err = newChatRepl(ctx, app, opts, stdout, stderr)
	} else {
		h, err = newAgentRepl(ctx, app, opts, stdout, stderr)
	}
	if err != nil {
		return err
	}
	defer h.close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	var reloadMu sync.Mutex
	go func() {
		err := config.Watch(watchCtx, app.ConfigPath, func(cfg config.Client) {
			reloadMu.Lock()
			defer reloadMu.Unlock()
			h.reload(cfg)
			fmt.Fprintln(stderr, mutedStyle.Render("config reloaded"))
		}, func(err error) {
			app.Log.Warn("config reload failed", zap.Error(err))
		})
		if err != nil {
			app.Log.Debug("config watch stopped", zap.Error(err))
		}
	}()

	fmt.Fprintln(stderr, mutedStyle.Render("Type /help for commands, /quit to leave."))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(stderr, h.prompt())
		if !scanner.Scan() {
			fmt.Fprintln(stderr)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reloadMu.Lock()
		name, args, isCmd := parseCommand(line)
		switch {
		case !isCmd:
			err = h.send(ctx, line)
		case name == "quit" || name == "exit" || name == "q":
			err = errQuit
		case name == "help":
			for _, l := range h.help() {
				fmt.Fprintln(stderr, l)
			}
			err = nil
		default:
			err = h.command(ctx, name, args)
		}
		reloadMu.Unlock()

		if errors.Is(err, errQuit) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Fprintln(stderr, errorStyle.Render("Error:")+" "+err.Error())
		}
	}
}

type agentRepl struct {
	app     *App
	ctrl    *agentrun.Controller
	emitter *StderrEmitter
	stdout  io.Writer
	stderr  io.Writer
	verbose bool
}

func newAgentRepl(ctx context.Context, app *App, opts ReplOptions, stdout, stderr io.Writer) (*agentRepl, error) {
	ctrl := app.NewController(opts.ThreadID)
	if err := ctrl.Init(ctx); err != nil {
		app.Log.Warn("agent discovery failed", zap.Error(err))
		fmt.Fprintln(stderr, errorStyle.Render("Warning:")+" "+mutedStyle.Render("could not load models: "+err.Error()))
	}
	if model := app.Config.Agent.ModelOverride; model != "" {
		if err := ctrl.SetModelOverride(model); err != nil {
			ctrl.Close()
			return nil, err
		}
	}
	return &agentRepl{
		app:     app,
		ctrl:    ctrl,
		emitter: NewStderrEmitter(stderr, stdout, opts.Verbose),
		stdout:  stdout,
		stderr:  stderr,
		verbose: opts.Verbose,
	}, nil
}

func (r *agentRepl) prompt() string {
	if model := r.ctrl.State().ModelOverride; model != "" {
		return labelStyle.Render("agent") + bracketStyle.Render("["+model+"]") + "> "
	}
	return labelStyle.Render("agent") + "> "
}

func (r *agentRepl) send(ctx context.Context, text string) error {
	_, err := runTurn(ctx, r.ctrl, r.emitter, text)
	return err
}

func (r *agentRepl) command(ctx context.Context, name string, args []string) error {
	switch name {
	case "clear":
		r.ctrl.ClearConversation()
		fmt.Fprintln(r.stderr, mutedStyle.Render("New thread ")+valueStyle.Render(r.ctrl.State().ThreadID))
	case "model":
		model := strings.Join(args, " ")
		if err := r.ctrl.SetModelOverride(model); err != nil {
			return err
		}
		if model == "" {
			fmt.Fprintln(r.stderr, mutedStyle.Render("Model override cleared"))
		}
	case "models":
		return ListModels(ctx, r.app, r.stderr)
	case "tools":
		return ListTools(ctx, r.app, r.stderr)
	case "thread":
		fmt.Fprintln(r.stderr, valueStyle.Render(r.ctrl.State().ThreadID))
	case "history":
		for _, msg := range r.ctrl.State().Messages {
			PrintMessage(r.stderr, msg, r.verbose)
		}
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
	return nil
}

func (r *agentRepl) help() []string {
	return []string{
		"  /model [id]   set or clear the model override",
		"  /models       list models",
		"  /tools        list the agent's tools",
		"  /thread       show the thread id",
		"  /history      show this conversation",
		"  /clear        start a new conversation",
		"  /quit         leave",
	}
}

func (r *agentRepl) reload(cfg config.Client) {
	if err := r.ctrl.SetModelOverride(cfg.Agent.ModelOverride); err != nil {
		r.app.Log.Warn("ignoring reloaded model", zap.Error(err))
	}
	r.ctrl.SetNotebook(cfg.Agent.NotebookID)
}

func (r *agentRepl) close() { r.ctrl.Close() }

type chatRepl struct {
	app    *App
	mgr    *chat.Manager
	model  string
	stdout io.Writer
	stderr io.Writer
}

func newChatRepl(ctx context.Context, app *App, opts ReplOptions, stdout, stderr io.Writer) (*chatRepl, error) {
	notebookID, err := app.NotebookID()
	if err != nil {
		return nil, err
	}
	notifier := chat.NotifierFunc(func(n chat.Notice) {
		fmt.Fprintln(stderr, errorStyle.Render("✗ ")+n.String())
	})
	r := &chatRepl{
		app:    app,
		mgr:    app.NewChatManager(notebookID, notifier),
		model:  app.Config.Agent.ModelOverride,
		stdout: stdout,
		stderr: stderr,
	}

	if _, _, err := r.mgr.RefreshCatalog(ctx); err != nil {
		app.Log.Warn("catalog unavailable", zap.Error(err))
	}
	if opts.SessionID != "" {
		err = r.mgr.SwitchSession(ctx, opts.SessionID)
	} else {
		_, err = r.mgr.LoadSessions(ctx)
	}
	if err != nil {
		r.mgr.Close()
		return nil, err
	}
	if session, ok := r.mgr.State().Current(); ok {
		fmt.Fprintln(stderr, mutedStyle.Render("Session ")+valueStyle.Render(session.ID)+" "+session.Title)
	}
	return r, nil
}

func (r *chatRepl) prompt() string {
	counts := r.mgr.Selections().Counts()
	n := counts.SourcesInsights + counts.SourcesFull + counts.NotesFull
	if n > 0 {
		return labelStyle.Render("chat") + bracketStyle.Render(fmt.Sprintf("[%d in context]", n)) + "> "
	}
	return labelStyle.Render("chat") + "> "
}

func (r *chatRepl) send(ctx context.Context, text string) error {
	model := r.model
	if session, ok := r.mgr.State().Current(); ok && session.ModelOverride != "" {
		model = session.ModelOverride
	}
	if err := r.mgr.SendMessage(ctx, text, model); err != nil {
		// The notifier already reported it.
		return nil
	}
	msgs := r.mgr.State().Messages
	if len(msgs) > 0 {
		PrintChatMessages(r.stdout, msgs[len(msgs)-1:])
	}
	return nil
}

func (r *chatRepl) command(ctx context.Context, name string, args []string) error {
	switch name {
	case "sessions":
		sessions, err := r.mgr.LoadSessions(ctx)
		if err != nil {
			return nil
		}
		PrintSessions(r.stderr, sessions, r.mgr.State().CurrentSessionID)
	case "switch":
		if len(args) != 1 {
			return errors.New("usage: /switch <session-id>")
		}
		if err := r.mgr.SwitchSession(ctx, args[0]); err != nil {
			return nil
		}
		PrintChatMessages(r.stdout, r.mgr.State().Messages)
	case "new":
		title := strings.Join(args, " ")
		if title == "" {
			title = chat.SessionTitle("")
		}
		if session, err := r.mgr.CreateSession(ctx, title); err == nil {
			fmt.Fprintln(r.stderr, mutedStyle.Render("Session ")+valueStyle.Render(session.ID))
		}
	case "delete":
		id := r.mgr.State().CurrentSessionID
		if len(args) == 1 {
			id = args[0]
		}
		if id == "" {
			return errors.New("no session selected")
		}
		_ = r.mgr.DeleteSession(ctx, id)
	case "source", "note":
		if len(args) == 0 {
			return fmt.Errorf("usage: /%s <id>[=mode]", name)
		}
		kind := contextsel.KindSource
		if name == "note" {
			kind = contextsel.KindNote
		}
		for _, raw := range args {
			sel, err := ParseSelection(kind, raw)
			if err != nil {
				return err
			}
			if err := r.mgr.Selections().SetMode(sel.Kind, sel.ID, sel.Mode); err != nil {
				return err
			}
		}
	case "context":
		PrintContext(r.stderr, r.mgr.Selections())
	case "model":
		r.model = strings.Join(args, " ")
		if id := r.mgr.State().CurrentSessionID; id != "" {
			model := r.model
			_, _ = r.mgr.UpdateSession(ctx, id, api.SessionUpdate{ModelOverride: &model})
		}
	case "clear":
		r.mgr.Selections().Reset()
		if _, _, err := r.mgr.RefreshCatalog(ctx); err != nil {
			r.app.Log.Warn("catalog unavailable", zap.Error(err))
		}
		fmt.Fprintln(r.stderr, mutedStyle.Render("Context cleared"))
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
	return nil
}

func (r *chatRepl) help() []string {
	return []string{
		"  /sessions               list sessions",
		"  /switch <id>            open a session",
		"  /new [title]            start a session",
		"  /delete [id]            delete a session",
		"  /source <id>[=mode]     include a source (off, insights, full)",
		"  /note <id>[=mode]       include a note (off, full)",
		"  /context                show what will be sent",
		"  /clear                  drop all context selections",
		"  /model [id]             set or clear the session model",
		"  /quit                   leave",
	}
}

func (r *chatRepl) reload(cfg config.Client) {
	r.model = cfg.Agent.ModelOverride
}

func (r *chatRepl) close() { r.mgr.Close() }
