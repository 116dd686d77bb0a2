package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"nbassist/internal/agentrun"
	"nbassist/internal/timeutil"
)

// EventEmitter receives the progress of one agent run.
type EventEmitter interface {
	RunStarted(threadID, message, model string)
	Steps(threadID string, steps []agentrun.Step)
	RunEnded(state agentrun.State, stopped bool)
}

// JSONEmitter writes events as JSON Lines
type JSONEmitter struct {
	mu      sync.Mutex
	output  io.Writer
	started time.Time
	sent    int
}

// NewJSONEmitter creates a JSON emitter that writes to out
func NewJSONEmitter(out io.Writer) *JSONEmitter {
	return &JSONEmitter{output: out}
}

func (e *JSONEmitter) emit(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to serialize event: %v\n", err)
		return
	}

	fmt.Fprintln(e.output, string(data))

	// Flush to ensure streaming behavior
	if f, ok := e.output.(*os.File); ok {
		f.Sync()
	}
}

func (e *JSONEmitter) RunStarted(threadID, message, model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = time.Now()
	e.sent = 0
	e.emit(RunStartedEvent{Type: EventRunStarted, ThreadID: threadID, Message: message, ModelOverride: model})
}

func (e *JSONEmitter) Steps(threadID string, steps []agentrun.Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitSteps(threadID, steps)
}

func (e *JSONEmitter) emitSteps(threadID string, steps []agentrun.Step) {
	if len(steps) < e.sent {
		e.sent = 0
	}
	for i := e.sent; i < len(steps); i++ {
		e.emit(StepEvent{Type: EventStep, ThreadID: threadID, Index: i, Step: steps[i]})
	}
	e.sent = len(steps)
}

func (e *JSONEmitter) RunEnded(state agentrun.State, stopped bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitSteps(state.ThreadID, state.CurrentSteps)

	switch {
	case stopped:
		e.emit(RunStoppedEvent{Type: EventRunStopped, ThreadID: state.ThreadID})
	case state.Error != "":
		e.emit(RunFailedEvent{Type: EventRunFailed, ThreadID: state.ThreadID, Error: state.Error})
	default:
		var final string
		if msg, ok := lastAnswer(state); ok {
			final = msg.Content
		}
		tools := 0
		for _, step := range state.CurrentSteps {
			if step.Type == agentrun.StepToolCall {
				tools++
			}
		}
		e.emit(RunCompletedEvent{
			Type:          EventRunCompleted,
			ThreadID:      state.ThreadID,
			FinalResponse: final,
			TotalSteps:    len(state.CurrentSteps),
			TotalToolCall: tools,
			DurationMS:    time.Since(e.started).Milliseconds(),
		})
	}
}

// StderrEmitter writes pretty-formatted activity to stderr and the answer
// to stdout.
type StderrEmitter struct {
	mu      sync.Mutex
	stderr  io.Writer
	stdout  io.Writer
	printer *StepPrinter
	started time.Time
}

// NewStderrEmitter creates a pretty-print emitter
func NewStderrEmitter(stderr, stdout io.Writer, verbose bool) *StderrEmitter {
	return &StderrEmitter{stderr: stderr, stdout: stdout, printer: NewStepPrinter(stderr, verbose)}
}

func (e *StderrEmitter) RunStarted(threadID, message, model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.printer.Reset()
	e.started = time.Now()
	if model != "" {
		fmt.Fprintln(e.stderr, labelStyle.Render("Model:")+" "+valueStyle.Render(model))
	}
}

func (e *StderrEmitter) Steps(_ string, steps []agentrun.Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.printer.Update(steps)
}

func (e *StderrEmitter) RunEnded(state agentrun.State, stopped bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.printer.Update(state.CurrentSteps)
	if stopped {
		fmt.Fprintln(e.stderr, mutedStyle.Render("Stopped after "+timeutil.Duration(time.Since(e.started))))
		return
	}
	PrintResponse(e.stderr, e.stdout, state)
}
