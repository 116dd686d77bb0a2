// Package agent is the streaming client for the notebook assistant. A run is
// opened with Client.Stream and consumed as a finite, single-pass sequence of
// typed events.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType is the wire discriminator of a stream event.
type EventType string

const (
	TypeThinking   EventType = "thinking"
	TypeToolCall   EventType = "tool_call"
	TypeToolResult EventType = "tool_result"
	TypeResponse   EventType = "response"
	TypeDone       EventType = "done"
	TypeError      EventType = "error"
)

// Event is one decoded protocol event. The concrete type is one of Thinking,
// ToolCall, ToolResult, Response, Done or ErrorEvent.
type Event interface {
	Type() EventType
	isEvent()
}

type Thinking struct {
	Content string
}

// ToolCall announces a tool invocation with its structured input.
type ToolCall struct {
	Tool  string
	Input json.RawMessage
}

type ToolResult struct {
	Tool   string
	Output json.RawMessage
}

// Response carries the final answer of a turn.
type Response struct {
	Content string
}

type Done struct{}

// ErrorEvent is an error reported by the remote assistant.
type ErrorEvent struct {
	Message string
}

func (Thinking) Type() EventType   { return TypeThinking }
func (ToolCall) Type() EventType   { return TypeToolCall }
func (ToolResult) Type() EventType { return TypeToolResult }
func (Response) Type() EventType   { return TypeResponse }
func (Done) Type() EventType       { return TypeDone }
func (ErrorEvent) Type() EventType { return TypeError }

func (Thinking) isEvent()   {}
func (ToolCall) isEvent()   {}
func (ToolResult) isEvent() {}
func (Response) isEvent()   {}
func (Done) isEvent()       {}
func (ErrorEvent) isEvent() {}

// Terminal reports whether evt ends a stream.
func Terminal(evt Event) bool {
	switch evt.(type) {
	case Done, ErrorEvent:
		return true
	default:
		return false
	}
}

type wireEvent struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeEvent parses one JSON object into its typed event.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch w.Type {
	case TypeThinking:
		return Thinking{Content: w.Content}, nil
	case TypeToolCall:
		return ToolCall{Tool: w.Tool, Input: w.Input}, nil
	case TypeToolResult:
		return ToolResult{Tool: w.Tool, Output: w.Output}, nil
	case TypeResponse:
		return Response{Content: w.Content}, nil
	case TypeDone:
		return Done{}, nil
	case TypeError:
		msg := w.Error
		if msg == "" {
			msg = w.Content
		}
		return ErrorEvent{Message: msg}, nil
	case "":
		return nil, fmt.Errorf("decode event: missing type")
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", w.Type)
	}
}

// RawText renders a raw JSON value for display: strings are unquoted, other
// values are returned compact.
func RawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
