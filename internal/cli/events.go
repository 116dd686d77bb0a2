package cli

import (
	"nbassist/internal/agentrun"
)

// Event type constants
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRunStopped   = "run.stopped"

	EventStep = "step"
)

// RunStartedEvent emitted when a message is sent to the agent
type RunStartedEvent struct {
	Type          string `json:"type"`
	ThreadID      string `json:"thread_id"`
	Message       string `json:"message"`
	ModelOverride string `json:"model_override,omitempty"`
}

// StepEvent emitted for every step of the run trace
type StepEvent struct {
	Type     string        `json:"type"`
	ThreadID string        `json:"thread_id"`
	Index    int           `json:"index"`
	Step     agentrun.Step `json:"step"`
}

// RunCompletedEvent emitted when the agent answered
type RunCompletedEvent struct {
	Type          string `json:"type"`
	ThreadID      string `json:"thread_id"`
	FinalResponse string `json:"final_response"`
	TotalSteps    int    `json:"total_steps"`
	TotalToolCall int    `json:"total_tool_calls"`
	DurationMS    int64  `json:"duration_ms"`
}

// RunFailedEvent emitted when the run ended with an error
type RunFailedEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Error    string `json:"error"`
}

// RunStoppedEvent emitted when the run was cancelled
type RunStoppedEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}
