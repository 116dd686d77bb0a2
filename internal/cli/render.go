package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"nbassist/internal/agentrun"
	"nbassist/internal/api"
	"nbassist/internal/chat"
	"nbassist/internal/contextsel"
	"nbassist/internal/timeutil"
)

// Styles for CLI output
var (
	primary   = lipgloss.Color("#f7c0af") // orangish/peach
	secondary = lipgloss.Color("#3ccad7") // cyan
	success   = lipgloss.Color("#87bf47") // green
	errorCol  = lipgloss.Color("#bf5d47") // red
	muted     = lipgloss.Color("#7f7f7f") // gray

	labelStyle     = lipgloss.NewStyle().Foreground(primary).Bold(true)
	valueStyle     = lipgloss.NewStyle().Foreground(secondary)
	mutedStyle     = lipgloss.NewStyle().Foreground(muted)
	successStyle   = lipgloss.NewStyle().Foreground(success)
	errorStyle     = lipgloss.NewStyle().Foreground(errorCol)
	sectionStyle   = lipgloss.NewStyle().Foreground(primary).Bold(true).Margin(1, 0, 0, 0)
	bracketStyle   = lipgloss.NewStyle().Foreground(muted)
	veryMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f5f5f"))

	separator = "────────────────────────────────────────────────"
)

const maxPreview = 160

// StepPrinter renders run steps as they arrive. Snapshots are cumulative,
// so only steps past the last printed one are written.
type StepPrinter struct {
	out     io.Writer
	printed int
	verbose bool
}

func NewStepPrinter(out io.Writer, verbose bool) *StepPrinter {
	return &StepPrinter{out: out, verbose: verbose}
}

// Update prints the steps of state not yet shown.
func (p *StepPrinter) Update(steps []agentrun.Step) {
	if len(steps) < p.printed {
		p.printed = 0
	}
	for _, step := range steps[p.printed:] {
		p.printStep(step)
	}
	p.printed = len(steps)
}

// Reset starts a new run.
func (p *StepPrinter) Reset() { p.printed = 0 }

func (p *StepPrinter) printStep(step agentrun.Step) {
	switch step.Type {
	case agentrun.StepThinking:
		fmt.Fprintln(p.out, veryMutedStyle.Render("· "+preview(step.Content, p.verbose)))
	case agentrun.StepToolCall:
		line := bracketStyle.Render("→ ") + labelStyle.Render(step.Tool)
		if input := compactJSON(step.ToolInput); input != "" {
			line += " " + mutedStyle.Render(preview(input, p.verbose))
		}
		fmt.Fprintln(p.out, line)
	case agentrun.StepToolResult:
		line := "  " + successStyle.Render("✓ ") + valueStyle.Render(step.Tool)
		if output := compactJSON(step.ToolOutput); output != "" {
			line += " " + mutedStyle.Render(preview(output, p.verbose))
		}
		fmt.Fprintln(p.out, line)
	case agentrun.StepError:
		fmt.Fprintln(p.out, "  "+errorStyle.Render("✗ "+step.Content))
	case agentrun.StepResponse:
		// Responses go to stdout once the run finishes.
	}
}

// PrintResponse writes the final answer of a run. Activity went to stderr,
// so this is the only thing a pipe sees.
func PrintResponse(stderr, stdout io.Writer, state agentrun.State) {
	if state.Error != "" {
		fmt.Fprintln(stderr, errorStyle.Render("Error:")+" "+state.Error)
	}
	msg, ok := lastAnswer(state)
	if !ok || strings.HasPrefix(msg.Content, "Error: ") && state.Error != "" {
		return
	}
	fmt.Fprintln(stderr, sectionStyle.Render("Response"))
	fmt.Fprintln(stdout, msg.Content)
	fmt.Fprintln(stderr, mutedStyle.Render(separator))
	fmt.Fprintln(stderr, mutedStyle.Render("Thread: ")+valueStyle.Render(state.ThreadID))
}

// lastAnswer returns the assistant message of the latest turn.
func lastAnswer(state agentrun.State) (agentrun.Message, bool) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == agentrun.RoleUser {
			break
		}
		if state.Messages[i].Role == agentrun.RoleAssistant {
			return state.Messages[i], true
		}
	}
	return agentrun.Message{}, false
}

// PrintMessage renders one stored agent message with its trace.
func PrintMessage(out io.Writer, msg agentrun.Message, verbose bool) {
	who := labelStyle.Render("You")
	if msg.Role == agentrun.RoleAssistant {
		who = valueStyle.Render("Assistant")
	}
	fmt.Fprintf(out, "%s %s\n", who, mutedStyle.Render(msg.Timestamp.Local().Format(time.Kitchen)))
	if len(msg.Steps) > 0 {
		p := NewStepPrinter(out, verbose)
		p.Update(msg.Steps)
	}
	fmt.Fprintln(out, msg.Content)
	fmt.Fprintln(out)
}

// PrintChatMessages renders a chat session transcript. Messages still
// waiting on the server are marked.
func PrintChatMessages(out io.Writer, messages []api.ChatMessage) {
	for _, msg := range messages {
		who := labelStyle.Render("You")
		if msg.Role == api.RoleAI {
			who = valueStyle.Render("Assistant")
		}
		if chat.IsPending(msg) {
			who += " " + mutedStyle.Render("(sending)")
		}
		fmt.Fprintln(out, who)
		fmt.Fprintln(out, msg.Content)
		fmt.Fprintln(out)
	}
}

func PrintSessions(out io.Writer, sessions []api.ChatSession, currentID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No chat sessions"))
		return
	}
	now := time.Now()
	for _, s := range sessions {
		marker := "  "
		if s.ID == currentID {
			marker = successStyle.Render("*") + " "
		}
		line := marker + valueStyle.Render(s.ID) + "  " + s.Title
		if s.ModelOverride != "" {
			line += " " + bracketStyle.Render("["+s.ModelOverride+"]")
		}
		meta := fmt.Sprintf("%d messages", s.MessageCount)
		if updated := timeutil.AgoString(s.Updated, now); updated != "" {
			meta += ", " + updated
		}
		line += " " + mutedStyle.Render("("+meta+")")
		fmt.Fprintln(out, line)
	}
}

// PrintContext summarizes what the next message will carry.
func PrintContext(out io.Writer, sel *contextsel.Model) {
	counts := sel.Counts()
	fmt.Fprintln(out, labelStyle.Render("Context"))
	fmt.Fprintf(out, "  sources: %s insights, %s full\n",
		valueStyle.Render(fmt.Sprint(counts.SourcesInsights)),
		valueStyle.Render(fmt.Sprint(counts.SourcesFull)))
	fmt.Fprintf(out, "  notes:   %s full\n", valueStyle.Render(fmt.Sprint(counts.NotesFull)))

	payload := sel.Payload()
	for _, item := range payload.Sources {
		fmt.Fprintf(out, "  %s %s %s\n", bracketStyle.Render("source"), item.ID, mutedStyle.Render(item.Content))
	}
	for _, item := range payload.Notes {
		fmt.Fprintf(out, "  %s %s %s\n", bracketStyle.Render("note"), item.ID, mutedStyle.Render(item.Content))
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func preview(s string, verbose bool) string {
	s = strings.Join(strings.Fields(s), " ")
	if verbose {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxPreview {
		return s
	}
	return string(runes[:maxPreview]) + "…"
}
