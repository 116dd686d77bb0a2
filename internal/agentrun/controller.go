// Package agentrun drives agent runs: it consumes the event stream of one
// run at a time, accumulates steps, and folds responses into the
// conversation.
package agentrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nbassist/internal/agent"
	"nbassist/internal/api"
	"nbassist/internal/pubsub"
)

// ErrUnknownModel is returned when an override names a model that discovery
// did not list.
var ErrUnknownModel = errors.New("unknown model")

// Streamer opens agent runs. *agent.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req agent.Request) (*agent.Stream, error)
}

// Discoverer lists models and tools. *agent.Client implements it.
type Discoverer interface {
	Models(ctx context.Context) (agent.Models, error)
	Tools(ctx context.Context) ([]agent.Tool, error)
}

// Recorder persists finished turns. assistant is nil when the run produced
// no assistant message.
type Recorder interface {
	RecordTurn(ctx context.Context, threadID string, user Message, assistant *Message) error
}

type Option func(*Controller)

func WithDiscoverer(d Discoverer) Option {
	return func(c *Controller) { c.discover = d }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithNotebook scopes runs to a notebook.
func WithNotebook(id string) Option {
	return func(c *Controller) { c.notebookID = id }
}

// WithProviderKey forwards a model provider key with each run.
func WithProviderKey(key string) Option {
	return func(c *Controller) { c.apiKey = key }
}

// WithThreadID resumes an existing thread instead of minting one.
func WithThreadID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.state.ThreadID = id
		}
	}
}

// Controller runs at most one agent turn at a time.
type Controller struct {
	streamer   Streamer
	discover   Discoverer
	recorder   Recorder
	broker     *pubsub.Broker[State]
	log        *zap.Logger
	notebookID string
	apiKey     string

	mu     sync.Mutex
	state  State
	models agent.Models
	tools  []agent.Tool
	cancel context.CancelFunc
	// gen changes on ClearConversation so a run that outlives it cannot
	// write into the fresh state.
	gen uint64
}

func New(streamer Streamer, opts ...Option) *Controller {
	c := &Controller{
		streamer: streamer,
		broker:   pubsub.NewBroker[State](),
		log:      zap.NewNop(),
		state:    State{ThreadID: uuid.NewString()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init loads the model and tool listings once.
func (c *Controller) Init(ctx context.Context) error {
	if c.discover == nil {
		return nil
	}
	models, err := c.discover.Models(ctx)
	if err != nil {
		return err
	}
	tools, err := c.discover.Tools(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.models = models
	c.tools = tools
	c.mu.Unlock()

	c.log.Debug("agent discovery loaded", zap.Int("models", len(models.Models)), zap.Int("tools", len(tools)))
	return nil
}

func (c *Controller) Models() agent.Models {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models
}

func (c *Controller) Tools() []agent.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tools)
}

// SetModelOverride selects the model for later runs. An empty model clears
// the override. Once discovery has run, unknown models are rejected.
func (c *Controller) SetModelOverride(model string) error {
	model = strings.TrimSpace(model)

	c.mu.Lock()
	if model != "" && len(c.models.Models) > 0 && !c.models.Has(model) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	c.state.ModelOverride = model
	snap := c.state.clone()
	c.mu.Unlock()

	c.broker.Publish(pubsub.Changed, snap)
	return nil
}

// SetNotebook changes the notebook later runs are scoped to.
func (c *Controller) SetNotebook(id string) {
	c.mu.Lock()
	c.notebookID = id
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe streams state snapshots until ctx is done.
func (c *Controller) Subscribe(ctx context.Context) <-chan pubsub.Event[State] {
	return c.broker.Subscribe(ctx)
}

// Close releases subscribers.
func (c *Controller) Close() {
	c.broker.Shutdown()
}

// Send runs one turn and blocks until it ends. It returns false without
// doing anything when text is blank or a run is already in progress.
func (c *Controller) Send(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	if c.state.Running {
		c.mu.Unlock()
		c.log.Debug("send ignored: run in progress")
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	gen := c.gen

	user := Message{ID: uuid.NewString(), Role: RoleUser, Content: text, Timestamp: time.Now()}
	c.state.Messages = append(c.state.Messages, user)
	c.state.CurrentSteps = nil
	c.state.Error = ""
	c.state.Running = true

	req := agent.Request{
		Message:       text,
		ThreadID:      c.state.ThreadID,
		NotebookID:    c.notebookID,
		APIKey:        c.apiKey,
		ModelOverride: c.state.ModelOverride,
	}
	snap := c.state.clone()
	c.mu.Unlock()

	c.broker.Publish(pubsub.Changed, snap)
	c.log.Info("agent run started", zap.String("thread_id", req.ThreadID))

	assistant := c.consume(runCtx, gen, req)
	c.finish(ctx, gen, req.ThreadID, user, assistant)
	return true
}

// Stop cancels the in-flight run. A stopped run ends without an error.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Running || c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// ClearConversation drops all messages, steps and errors and starts a new
// thread. An in-flight run is cancelled and its remaining events discarded.
func (c *Controller) ClearConversation() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = State{
		ThreadID:      uuid.NewString(),
		ModelOverride: c.state.ModelOverride,
	}
	snap := c.state.clone()
	c.mu.Unlock()

	c.broker.Publish(pubsub.Changed, snap)
}

// consume reads the run's events into state and returns the assistant
// message it produced, if any.
func (c *Controller) consume(ctx context.Context, gen uint64, req agent.Request) *Message {
	stream, err := c.streamer.Stream(ctx, req)
	if err != nil {
		return c.fail(ctx, gen, nil, err)
	}
	defer stream.Close()

	var (
		steps     []Step
		assistant *Message
	)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return assistant
		}
		if err != nil {
			if assistant != nil {
				c.failAnswered(ctx, gen, err)
				return assistant
			}
			return c.fail(ctx, gen, steps, err)
		}

		step, ok := stepFor(evt)
		if !ok {
			continue
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return nil
		}
		if resp, isResponse := evt.(agent.Response); isResponse {
			msg := Message{
				ID:        uuid.NewString(),
				Role:      RoleAssistant,
				Content:   resp.Content,
				Steps:     slices.Clone(steps),
				Timestamp: step.Timestamp,
			}
			c.state.Messages = append(c.state.Messages, msg)
			assistant = &msg
		}
		if errEvt, isError := evt.(agent.ErrorEvent); isError {
			c.state.Error = errorText(errEvt.Message)
		}
		steps = append(steps, step)
		c.state.CurrentSteps = append(c.state.CurrentSteps, step)
		snap := c.state.clone()
		c.mu.Unlock()

		c.broker.Publish(pubsub.Appended, snap)
	}
}

// fail converts a transport failure into an error step and a visible error.
// Cancellation is not a failure.
func (c *Controller) fail(ctx context.Context, gen uint64, steps []Step, err error) *Message {
	if ctx.Err() != nil {
		c.log.Info("agent run stopped")
		return nil
	}

	text := failureText(err)
	c.log.Warn("agent run failed", zap.Error(err))

	now := time.Now()
	errStep := Step{ID: uuid.NewString(), Type: StepError, Content: text, Timestamp: now}
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   "Error: " + text,
		Steps:     append(slices.Clone(steps), errStep),
		Timestamp: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	c.state.Messages = append(c.state.Messages, msg)
	c.state.Error = text
	return &msg
}

// failAnswered records a transport failure that follows the turn's response
// as an error step in the current trace and a visible error. The turn keeps
// its single assistant message.
func (c *Controller) failAnswered(ctx context.Context, gen uint64, err error) {
	if ctx.Err() != nil {
		c.log.Info("agent run stopped")
		return
	}

	text := failureText(err)
	c.log.Warn("agent stream failed after response", zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.state.CurrentSteps = append(c.state.CurrentSteps, Step{
		ID:        uuid.NewString(),
		Type:      StepError,
		Content:   text,
		Timestamp: time.Now(),
	})
	c.state.Error = text
}

func (c *Controller) finish(ctx context.Context, gen uint64, threadID string, user Message, assistant *Message) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state.Running = false
	c.cancel = nil
	snap := c.state.clone()
	c.mu.Unlock()

	c.broker.Publish(pubsub.Changed, snap)
	c.broker.Publish(pubsub.Finished, snap)
	c.log.Info("agent run finished",
		zap.String("thread_id", threadID),
		zap.Bool("answered", assistant != nil),
		zap.String("error", snap.Error),
	)

	if c.recorder != nil {
		// The run context may be cancelled by Stop; the turn is still kept.
		if err := c.recorder.RecordTurn(context.WithoutCancel(ctx), threadID, user, assistant); err != nil {
			c.log.Warn("record turn failed", zap.Error(err))
		}
	}
}

func stepFor(evt agent.Event) (Step, bool) {
	step := Step{ID: uuid.NewString(), Timestamp: time.Now()}
	switch e := evt.(type) {
	case agent.Thinking:
		step.Type, step.Content = StepThinking, e.Content
	case agent.ToolCall:
		step.Type, step.Tool, step.ToolInput = StepToolCall, e.Tool, e.Input
	case agent.ToolResult:
		step.Type, step.Tool, step.ToolOutput = StepToolResult, e.Tool, e.Output
	case agent.Response:
		step.Type, step.Content = StepResponse, e.Content
	case agent.ErrorEvent:
		step.Type, step.Content = StepError, errorText(e.Message)
	case agent.Done:
		return Step{}, false
	default:
		return Step{}, false
	}
	return step, true
}

func errorText(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return "agent reported an error"
	}
	return msg
}

func failureText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
