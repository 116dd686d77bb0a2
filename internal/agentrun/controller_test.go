package agentrun

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbassist/internal/agent"
	"nbassist/internal/api"
	"nbassist/internal/pubsub"
)

type fakeStreamer struct {
	mu    sync.Mutex
	calls []agent.Request
	open  func(ctx context.Context, req agent.Request) (*agent.Stream, error)
}

func (f *fakeStreamer) Stream(ctx context.Context, req agent.Request) (*agent.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.open(ctx, req)
}

func (f *fakeStreamer) Calls() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.calls...)
}

func eventLines(events ...string) string {
	var b strings.Builder
	for _, evt := range events {
		b.WriteString("data: ")
		b.WriteString(evt)
		b.WriteString("\n\n")
	}
	return b.String()
}

func scripted(events ...string) *fakeStreamer {
	return &fakeStreamer{open: func(context.Context, agent.Request) (*agent.Stream, error) {
		return agent.NewStream(io.NopCloser(strings.NewReader(eventLines(events...))), nil), nil
	}}
}

// pipeStreamer hands out a stream fed by the returned writer. The writer is
// closed with the context error when the run is cancelled.
func pipeStreamer() (*fakeStreamer, <-chan *io.PipeWriter) {
	writers := make(chan *io.PipeWriter, 4)
	return &fakeStreamer{open: func(ctx context.Context, _ agent.Request) (*agent.Stream, error) {
		pr, pw := io.Pipe()
		go func() {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		writers <- pw
		return agent.NewStream(pr, nil), nil
	}}, writers
}

func stepTypes(steps []Step) []StepType {
	out := make([]StepType, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Type)
	}
	return out
}

func countRole(msgs []Message, role Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func TestResponseClosesTurn(t *testing.T) {
	s := scripted(
		`{"type":"thinking","content":"let me look"}`,
		`{"type":"tool_call","tool":"search","input":{"query":"llm"}}`,
		`{"type":"tool_result","tool":"search","output":"2 results"}`,
		`{"type":"response","content":"done"}`,
		`{"type":"done"}`,
	)
	c := New(s, WithNotebook("nb1"))

	require.True(t, c.Send(context.Background(), "what is in my notebook?"))

	st := c.State()
	assert.False(t, st.Running)
	assert.Empty(t, st.Error)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, RoleUser, st.Messages[0].Role)
	assert.Equal(t, "what is in my notebook?", st.Messages[0].Content)

	reply := st.Messages[1]
	assert.Equal(t, RoleAssistant, reply.Role)
	assert.Equal(t, "done", reply.Content)
	require.Len(t, reply.Steps, 3)
	assert.Equal(t, []StepType{StepThinking, StepToolCall, StepToolResult}, stepTypes(reply.Steps))
	assert.Equal(t, "search", reply.Steps[1].Tool)
	assert.JSONEq(t, `{"query":"llm"}`, string(reply.Steps[1].ToolInput))

	assert.Equal(t, []StepType{StepThinking, StepToolCall, StepToolResult, StepResponse}, stepTypes(st.CurrentSteps))
	assert.Equal(t, reply.Steps, st.CurrentSteps[:3])

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nb1", calls[0].NotebookID)
	assert.Equal(t, st.ThreadID, calls[0].ThreadID)
}

func TestCurrentStepsClearedAtNextRun(t *testing.T) {
	var c *Controller
	var seenAtOpen []State
	s := &fakeStreamer{open: func(context.Context, agent.Request) (*agent.Stream, error) {
		seenAtOpen = append(seenAtOpen, c.State())
		return agent.NewStream(io.NopCloser(strings.NewReader(eventLines(
			`{"type":"thinking"}`,
			`{"type":"response","content":"ok"}`,
		))), nil), nil
	}}
	c = New(s)

	require.True(t, c.Send(context.Background(), "first"))
	require.Len(t, c.State().CurrentSteps, 2)
	require.True(t, c.Send(context.Background(), "second"))

	require.Len(t, seenAtOpen, 2)
	assert.True(t, seenAtOpen[1].Running)
	assert.Empty(t, seenAtOpen[1].CurrentSteps)
	assert.Len(t, c.State().CurrentSteps, 2)
	assert.Len(t, c.State().Messages, 4)

	calls := s.Calls()
	assert.Equal(t, calls[0].ThreadID, calls[1].ThreadID)
}

func TestSendWhileRunningIsIgnored(t *testing.T) {
	s, writers := pipeStreamer()
	c := New(s)

	done := make(chan bool)
	go func() { done <- c.Send(context.Background(), "first") }()
	pw := <-writers
	require.Eventually(t, func() bool { return c.State().Running }, time.Second, 5*time.Millisecond)

	assert.False(t, c.Send(context.Background(), "second"))
	assert.Len(t, s.Calls(), 1)
	assert.Equal(t, 1, countRole(c.State().Messages, RoleUser))

	_, err := io.WriteString(pw, eventLines(`{"type":"response","content":"hi"}`, `{"type":"done"}`))
	require.NoError(t, err)
	assert.True(t, <-done)

	st := c.State()
	assert.False(t, st.Running)
	assert.Equal(t, 1, countRole(st.Messages, RoleUser))
	assert.Equal(t, 1, countRole(st.Messages, RoleAssistant))
}

func TestBlankSendIsIgnored(t *testing.T) {
	s := scripted(`{"type":"done"}`)
	c := New(s)
	assert.False(t, c.Send(context.Background(), "   "))
	assert.Empty(t, s.Calls())
	assert.Empty(t, c.State().Messages)
}

func TestTransportFailureAfterThinking(t *testing.T) {
	boom := errors.New("connection reset by peer")
	s := &fakeStreamer{open: func(context.Context, agent.Request) (*agent.Stream, error) {
		r := io.MultiReader(strings.NewReader(eventLines(`{"type":"thinking","content":"hmm"}`)), iotest.ErrReader(boom))
		return agent.NewStream(io.NopCloser(r), nil), nil
	}}
	c := New(s)

	require.True(t, c.Send(context.Background(), "hello"))

	st := c.State()
	assert.False(t, st.Running)
	assert.Len(t, st.CurrentSteps, 1)
	assert.Contains(t, st.Error, "connection reset by peer")

	reply, ok := st.LastAssistant()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(reply.Content, "Error: "))
	assert.Equal(t, []StepType{StepThinking, StepError}, stepTypes(reply.Steps))
}

func TestTransportFailureAfterResponseKeepsReply(t *testing.T) {
	boom := errors.New("stream reset by proxy")
	s := &fakeStreamer{open: func(context.Context, agent.Request) (*agent.Stream, error) {
		r := io.MultiReader(strings.NewReader(eventLines(
			`{"type":"thinking","content":"hmm"}`,
			`{"type":"response","content":"answer"}`,
		)), iotest.ErrReader(boom))
		return agent.NewStream(io.NopCloser(r), nil), nil
	}}
	rec := &fakeRecorder{}
	c := New(s, WithRecorder(rec))

	require.True(t, c.Send(context.Background(), "hello"))

	st := c.State()
	assert.False(t, st.Running)
	assert.Contains(t, st.Error, "stream reset by proxy")
	require.Len(t, st.Messages, 2)
	assert.Equal(t, 1, countRole(st.Messages, RoleAssistant))

	reply, ok := st.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "answer", reply.Content)
	assert.Equal(t, []StepType{StepThinking}, stepTypes(reply.Steps))
	assert.Equal(t, []StepType{StepThinking, StepResponse, StepError}, stepTypes(st.CurrentSteps))

	require.Len(t, rec.turns, 1)
	require.NotNil(t, rec.turns[0].assistant)
	assert.Equal(t, "answer", rec.turns[0].assistant.Content)
}

func TestStreamOpenFailure(t *testing.T) {
	s := &fakeStreamer{open: func(context.Context, agent.Request) (*agent.Stream, error) {
		return nil, &api.Error{StatusCode: 503, Status: "503 Service Unavailable", Message: "agent offline"}
	}}
	c := New(s)

	require.True(t, c.Send(context.Background(), "hello"))

	st := c.State()
	assert.False(t, st.Running)
	assert.Empty(t, st.CurrentSteps)
	assert.Equal(t, "agent offline", st.Error)
	reply, ok := st.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "Error: agent offline", reply.Content)
	assert.Equal(t, []StepType{StepError}, stepTypes(reply.Steps))
}

func TestErrorEventIsRecordedAsStep(t *testing.T) {
	c := New(scripted(
		`{"type":"thinking"}`,
		`{"type":"error","error":"quota exceeded"}`,
		`{"type":"response","content":"unreachable"}`,
	))

	require.True(t, c.Send(context.Background(), "hello"))

	st := c.State()
	assert.False(t, st.Running)
	assert.Equal(t, "quota exceeded", st.Error)
	assert.Equal(t, []StepType{StepThinking, StepError}, stepTypes(st.CurrentSteps))
	assert.Equal(t, "quota exceeded", st.CurrentSteps[1].Content)
	_, ok := st.LastAssistant()
	assert.False(t, ok)
}

func TestErrorClearedOnNextRun(t *testing.T) {
	first := true
	s := &fakeStreamer{open: func(context.Context, agent.Request) (*agent.Stream, error) {
		evt := `{"type":"response","content":"fine"}`
		if first {
			first = false
			evt = `{"type":"error","content":"flaky"}`
		}
		return agent.NewStream(io.NopCloser(strings.NewReader(eventLines(evt))), nil), nil
	}}
	c := New(s)

	c.Send(context.Background(), "one")
	assert.Equal(t, "flaky", c.State().Error)
	c.Send(context.Background(), "two")
	assert.Empty(t, c.State().Error)
}

func TestStopCancelsRun(t *testing.T) {
	s, writers := pipeStreamer()
	c := New(s)
	assert.False(t, c.Stop())

	done := make(chan bool)
	go func() { done <- c.Send(context.Background(), "long question") }()
	pw := <-writers

	_, err := io.WriteString(pw, eventLines(`{"type":"thinking","content":"working"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.State().CurrentSteps) == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, c.Stop())
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}

	st := c.State()
	assert.False(t, st.Running)
	assert.Empty(t, st.Error)
	assert.Len(t, st.CurrentSteps, 1)
	assert.Equal(t, 1, countRole(st.Messages, RoleUser))
	assert.Equal(t, 0, countRole(st.Messages, RoleAssistant))
}

func TestClearConversationMintsThread(t *testing.T) {
	s := scripted(`{"type":"response","content":"ok"}`)
	c := New(s, WithThreadID("thread-a"))
	require.NoError(t, c.SetModelOverride("m1"))

	c.Send(context.Background(), "hi")
	require.Len(t, c.State().Messages, 2)

	c.ClearConversation()
	st := c.State()
	assert.NotEqual(t, "thread-a", st.ThreadID)
	assert.NotEmpty(t, st.ThreadID)
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.CurrentSteps)
	assert.Empty(t, st.Error)
	assert.Equal(t, "m1", st.ModelOverride)

	c.Send(context.Background(), "again")
	calls := s.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "thread-a", calls[0].ThreadID)
	assert.Equal(t, st.ThreadID, calls[1].ThreadID)
}

func TestClearDuringRunDiscardsIt(t *testing.T) {
	s, writers := pipeStreamer()
	c := New(s)

	done := make(chan bool)
	go func() { done <- c.Send(context.Background(), "question") }()
	<-writers
	require.Eventually(t, func() bool { return c.State().Running }, time.Second, 5*time.Millisecond)

	c.ClearConversation()
	<-done

	st := c.State()
	assert.False(t, st.Running)
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.Error)
}

type fakeDiscoverer struct{}

func (fakeDiscoverer) Models(context.Context) (agent.Models, error) {
	return agent.Models{Models: []agent.Model{{ID: "gpt-x"}, {ID: "claude-y"}}}, nil
}

func (fakeDiscoverer) Tools(context.Context) ([]agent.Tool, error) {
	return []agent.Tool{{Name: "search"}}, nil
}

func TestModelOverrideIsValidatedAfterInit(t *testing.T) {
	s := scripted(`{"type":"done"}`)
	c := New(s, WithDiscoverer(fakeDiscoverer{}))

	require.NoError(t, c.Init(context.Background()))
	assert.Len(t, c.Models().Models, 2)
	assert.Len(t, c.Tools(), 1)

	assert.ErrorIs(t, c.SetModelOverride("nope"), ErrUnknownModel)
	require.NoError(t, c.SetModelOverride("claude-y"))

	c.Send(context.Background(), "hi")
	assert.Equal(t, "claude-y", s.Calls()[0].ModelOverride)

	require.NoError(t, c.SetModelOverride(""))
	assert.Empty(t, c.State().ModelOverride)
}

type recordedTurn struct {
	thread    string
	user      Message
	assistant *Message
}

type fakeRecorder struct {
	turns []recordedTurn
}

func (r *fakeRecorder) RecordTurn(_ context.Context, thread string, user Message, assistant *Message) error {
	r.turns = append(r.turns, recordedTurn{thread, user, assistant})
	return nil
}

func TestRecorderReceivesFinishedTurn(t *testing.T) {
	rec := &fakeRecorder{}
	c := New(scripted(`{"type":"thinking"}`, `{"type":"response","content":"answer"}`), WithRecorder(rec))

	c.Send(context.Background(), "question")

	require.Len(t, rec.turns, 1)
	turn := rec.turns[0]
	assert.Equal(t, c.State().ThreadID, turn.thread)
	assert.Equal(t, "question", turn.user.Content)
	require.NotNil(t, turn.assistant)
	assert.Equal(t, "answer", turn.assistant.Content)
	assert.Len(t, turn.assistant.Steps, 1)
}

func TestSubscribersSeeRunFinish(t *testing.T) {
	c := New(scripted(`{"type":"response","content":"ok"}`))
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Subscribe(ctx)

	c.Send(context.Background(), "hi")

	var sawRunning bool
	for {
		select {
		case evt := <-events:
			if evt.Payload.Running {
				sawRunning = true
			}
			if evt.Type == pubsub.Finished {
				assert.True(t, sawRunning)
				assert.False(t, evt.Payload.Running)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no finished event")
		}
	}
}
