// Package repl is an interactive prompt for trying utterances against a
// live pipeline without a message bus.
package repl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"pupper/cmd/pupper/ui"
	"pupper/internal/node"
)

// maxHistory bounds the transcript kept on screen.
const maxHistory = 12

// TranslateFunc runs one utterance to an Outcome.
type TranslateFunc func(ctx context.Context, utterance string) node.Outcome

type entry struct {
	utterance string
	outcome   *node.Outcome
}

// resultMsg carries a finished translation back into Update.
type resultMsg struct {
	index   int
	outcome node.Outcome
}

// Model is the bubbletea model for the REPL.
type Model struct {
	input     textinput.Model
	spinner   spinner.Model
	translate TranslateFunc
	ctx       context.Context

	history []entry
	offset  int // index of history[0] in the full transcript
	busy    bool
	width   int
}

// New builds a REPL model. ctx bounds every translation.
func New(ctx context.Context, translate TranslateFunc) Model {
	ti := textinput.New()
	ti.Placeholder = "tell the dog what to do (e.g. walk forward and sit)"
	ti.Prompt = "🐶 > "
	ti.CharLimit = 500
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ui.SuccessStyle

	return Model{
		input:     ti,
		spinner:   sp,
		translate: translate,
		ctx:       ctx,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > 10 {
			m.input.Width = msg.Width - 10
		}
		return m, nil

	case resultMsg:
		m.busy = false
		if i := msg.index - m.offset; i >= 0 && i < len(m.history) {
			out := msg.outcome
			m.history[i].outcome = &out
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	utterance := strings.TrimSpace(m.input.Value())
	if m.busy || utterance == "" {
		return m, nil
	}
	switch utterance {
	case "/quit", "/exit":
		return m, tea.Quit
	}

	m.input.SetValue("")
	m.busy = true
	m.history = append(m.history, entry{utterance: utterance})
	if len(m.history) > maxHistory {
		drop := len(m.history) - maxHistory
		m.history = m.history[drop:]
		m.offset += drop
	}
	index := m.offset + len(m.history) - 1

	ctx, translate := m.ctx, m.translate
	run := func() tea.Msg {
		return resultMsg{index: index, outcome: translate(ctx, utterance)}
	}
	return m, tea.Batch(m.spinner.Tick, run)
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(ui.Title("pupper repl"))
	sb.WriteString(ui.LabelStyle.Render("  enter to send, esc to quit"))
	sb.WriteString("\n\n")

	for _, e := range m.history {
		sb.WriteString(ui.LabelStyle.Render("you: "))
		sb.WriteString(e.utterance)
		sb.WriteString("\n")
		if e.outcome == nil {
			sb.WriteString(m.spinner.View())
			sb.WriteString(" thinking...\n\n")
			continue
		}
		sb.WriteString(ui.Outcome(*e.outcome))
		sb.WriteString(ui.LabelStyle.Render(fmt.Sprintf("  (%s)", e.outcome.Duration.Round(time.Millisecond))))
		sb.WriteString("\n\n")
	}

	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	return sb.String()
}
