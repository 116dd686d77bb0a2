package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"nbassist/internal/agent"
	"nbassist/internal/agentrun"
	"nbassist/internal/credentials"
	"nbassist/internal/timeutil"
	"nbassist/internal/transcript"
)

// ErrRunFailed is returned when the agent run ended with an error that was
// already shown to the user.
var ErrRunFailed = errors.New("agent run failed")

// AskOptions are the inputs of "agent ask".
type AskOptions struct {
	Text     string
	ThreadID string
	JSON     bool
	NoStream bool
	Verbose  bool
}

// Ask sends one message to the notebook agent. Activity is streamed to
// stderr, the final response to stdout. Ctrl-C stops the run.
func Ask(ctx context.Context, app *App, opts AskOptions, stdout, stderr io.Writer) error {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return errors.New("message cannot be empty")
	}
	if opts.NoStream {
		return invoke(ctx, app, text, opts.ThreadID, stdout)
	}

	ctrl := app.NewController(opts.ThreadID)
	defer ctrl.Close()

	if err := ctrl.Init(ctx); err != nil {
		app.Log.Warn("agent discovery failed", zap.Error(err))
	}
	if model := app.Config.Agent.ModelOverride; model != "" {
		if err := ctrl.SetModelOverride(model); err != nil {
			return err
		}
	}

	var emitter EventEmitter
	if opts.JSON {
		emitter = NewJSONEmitter(stdout)
	} else {
		emitter = NewStderrEmitter(stderr, stdout, opts.Verbose)
	}

	state, err := runTurn(ctx, ctrl, emitter, text)
	if err != nil {
		return err
	}
	if state.Error != "" {
		return ErrRunFailed
	}
	return nil
}

// runTurn sends text through ctrl and feeds the emitter until the run
// ends. An interrupt while running stops the run instead of the process.
func runTurn(ctx context.Context, ctrl *agentrun.Controller, emitter EventEmitter, text string) (agentrun.State, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	before := ctrl.State()
	emitter.RunStarted(before.ThreadID, text, before.ModelOverride)

	updates := ctrl.Subscribe(subCtx)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for evt := range updates {
			if evt.Payload.Running {
				emitter.Steps(evt.Payload.ThreadID, evt.Payload.CurrentSteps)
			}
		}
	}()

	var stopped atomic.Bool
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	finished := make(chan struct{})
	go func() {
		select {
		case <-interrupts:
			if ctrl.Stop() {
				stopped.Store(true)
			}
		case <-finished:
		}
	}()

	sent := ctrl.Send(ctx, text)
	close(finished)
	cancel()
	<-drained

	if !sent {
		return agentrun.State{}, errors.New("a run is already in progress")
	}
	state := ctrl.State()
	emitter.RunEnded(state, stopped.Load() || ctx.Err() != nil)
	return state, nil
}

func invoke(ctx context.Context, app *App, text, threadID string, stdout io.Writer) error {
	req := agent.Request{
		Message:       text,
		ThreadID:      threadID,
		NotebookID:    app.Config.Agent.NotebookID,
		ModelOverride: app.Config.Agent.ModelOverride,
	}
	if key, err := credentials.ProviderKey.Value(); err == nil {
		req.APIKey = key
	}
	result, err := app.Agent.Invoke(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, result.FinalResponse)
	if result.ThreadID != "" {
		fmt.Fprintln(os.Stderr, mutedStyle.Render("Thread: ")+valueStyle.Render(result.ThreadID))
	}
	return nil
}

// ListModels prints the models and providers the agent accepts.
func ListModels(ctx context.Context, app *App, out io.Writer) error {
	models, err := app.Agent.Models(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, labelStyle.Render("Models"))
	for _, m := range models.Models {
		marker := "  "
		if m.ID == app.Config.Agent.ModelOverride {
			marker = successStyle.Render("*") + " "
		}
		fmt.Fprintf(out, "%s%s %s %s\n", marker, valueStyle.Render(m.ID), m.Name, mutedStyle.Render(m.Provider))
	}
	if len(models.Providers) > 0 {
		fmt.Fprintln(out, sectionStyle.Render("Providers"))
		names := slices.Sorted(maps.Keys(models.Providers))
		for _, name := range names {
			info := models.Providers[name]
			status := errorStyle.Render("unavailable")
			if info.Available {
				status = successStyle.Render("available")
			}
			fmt.Fprintf(out, "  %s %s %s\n", valueStyle.Render(name), status, mutedStyle.Render(fmt.Sprintf("(%d models)", len(info.Models))))
		}
	}
	return nil
}

func ListTools(ctx context.Context, app *App, out io.Writer) error {
	tools, err := app.Agent.Tools(ctx)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("The agent has no tools"))
		return nil
	}
	for _, t := range tools {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(t.Name), mutedStyle.Render(t.Description))
	}
	return nil
}

// History lists recorded threads, or prints one thread when threadID is set.
func History(ctx context.Context, app *App, threadID string, limit int, verbose bool, out io.Writer) error {
	if app.Transcripts == nil {
		return errors.New("transcripts are disabled (set agent.record in the config file)")
	}

	if threadID == "" {
		threads, err := app.Transcripts.Threads(ctx, limit)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("No recorded threads"))
			return nil
		}
		now := time.Now()
		for _, t := range threads {
			fmt.Fprintf(out, "%s  %s %s\n",
				valueStyle.Render(t.ID),
				t.Title,
				mutedStyle.Render(fmt.Sprintf("(%d turns, %s)", t.Turns, timeutil.Ago(t.UpdatedAt, now))))
		}
		return nil
	}

	messages, err := app.Transcripts.Messages(ctx, threadID)
	if err != nil {
		if errors.Is(err, transcript.ErrThreadNotFound) {
			return fmt.Errorf("thread %s not found", threadID)
		}
		return err
	}
	for _, msg := range messages {
		PrintMessage(out, msg, verbose)
	}
	return nil
}

// ForgetThread deletes a recorded thread.
func ForgetThread(ctx context.Context, app *App, threadID string) error {
	if app.Transcripts == nil {
		return errors.New("transcripts are disabled (set agent.record in the config file)")
	}
	if err := app.Transcripts.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Deleted thread "+valueStyle.Render(threadID))
	return nil
}
