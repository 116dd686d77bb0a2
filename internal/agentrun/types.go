package agentrun

import (
	"encoding/json"
	"slices"
	"time"
)

// StepType is the kind of one entry in a run's trace.
type StepType string

const (
	StepThinking   StepType = "thinking"
	StepToolCall   StepType = "tool_call"
	StepToolResult StepType = "tool_result"
	StepResponse   StepType = "response"
	StepError      StepType = "error"
)

// Step is one event of a run. Steps are never modified once appended.
type Step struct {
	ID         string          `json:"id"`
	Type       StepType        `json:"type"`
	Content    string          `json:"content,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput json.RawMessage `json:"tool_output,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Assistant messages carry the steps
// that produced them.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Steps     []Step    `json:"steps,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a snapshot of the controller. Slices are copies owned by the
// caller.
type State struct {
	ThreadID      string
	Running       bool
	CurrentSteps  []Step
	Messages      []Message
	Error         string
	ModelOverride string
}

func (s State) clone() State {
	out := s
	out.CurrentSteps = slices.Clone(s.CurrentSteps)
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		m.Steps = slices.Clone(m.Steps)
		out.Messages[i] = m
	}
	return out
}

// LastAssistant returns the most recent assistant message, if any.
func (s State) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
