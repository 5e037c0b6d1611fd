// Package ui holds the lipgloss styles shared by the pupper CLI and REPL.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pupper/internal/node"
)

// Palette
var (
	Primary     = lipgloss.Color("#8BC34A") // Lime Green
	Muted       = lipgloss.Color("#6b7685")
	Destructive = lipgloss.Color("#e53935") // Red
	Warning     = lipgloss.Color("#FFC107") // Yellow
	Info        = lipgloss.Color("#2196F3") // Blue
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	LabelStyle   = lipgloss.NewStyle().Foreground(Muted)
	ActionStyle  = lipgloss.NewStyle().Bold(true).Foreground(Info)
	SuccessStyle = lipgloss.NewStyle().Foreground(Primary)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Destructive)
	WarnStyle    = lipgloss.NewStyle().Foreground(Warning)
	BoxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Muted).
			Padding(0, 1)
)

// Title renders a section heading.
func Title(s string) string {
	return TitleStyle.Render(s)
}

// KeyValue renders "label: value" with a muted label.
func KeyValue(label, value string) string {
	return LabelStyle.Render(label+":") + " " + value
}

// Actions renders an action list in wire format with each action highlighted.
func Actions(actions []string) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = ActionStyle.Render(a)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Failure renders a failure kind and detail.
func Failure(kind, detail string) string {
	if detail == "" {
		return ErrorStyle.Render("✗ " + kind)
	}
	return ErrorStyle.Render(fmt.Sprintf("✗ %s: %s", kind, detail))
}

// Success renders a check-marked line.
func Success(s string) string {
	return SuccessStyle.Render("✓ " + s)
}

// Warn renders a warning line.
func Warn(s string) string {
	return WarnStyle.Render("! " + s)
}

// Box renders s inside a rounded border.
func Box(s string) string {
	return BoxStyle.Render(s)
}

// Outcome renders a translation result: the action list on success, the
// failure and the published fallback otherwise.
func Outcome(out node.Outcome) string {
	var sb strings.Builder
	if f := out.Failure; f != nil {
		detail := ""
		if f.Err != nil {
			detail = f.Err.Error()
		}
		sb.WriteString(Failure(string(f.Kind), detail))
		sb.WriteString("\n")
		sb.WriteString(KeyValue("published", out.Payload))
	} else {
		sb.WriteString(Success(Actions(out.Sequence.Strings())))
	}
	if len(out.Dropped) > 0 {
		sb.WriteString("\n")
		sb.WriteString(Warn("dropped unknown: " + strings.Join(out.Dropped, ", ")))
	}
	return sb.String()
}
